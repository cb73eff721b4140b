package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/txn2/medicaid-explorer/pkg/audit"
	"github.com/txn2/medicaid-explorer/pkg/chat"
)

const (
	msgChatDisabled = "chat is not configured"
	msgBadBody      = "request body must be a JSON object with a message"
)

// postChat handles POST /api/chat.
//
// @Summary      Ask a question
// @Description  Turns a natural-language question into a guarded query and returns the result with a narrative.
// @Description  Pipeline failures and invalid messages are reported in the error field of a 200 response.
// @Tags         Chat
// @Accept       json
// @Produce      json
// @Param        body  body      chat.Request   true  "Message and prior turns"
// @Success      200   {object}  chat.Response
// @Failure      400   {object}  errorResponse  "Body is not JSON"
// @Failure      503   {object}  errorResponse
// @Router       /chat [post]
func (h *Handler) postChat(w http.ResponseWriter, r *http.Request) {
	if h.deps.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, msgChatDisabled)
		return
	}

	var req chat.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgBadBody)
		return
	}
	req.RequestID = r.Header.Get("X-Request-Id")
	req.Source = audit.SourceHTTP

	resp, err := h.deps.Chat.Ask(r.Context(), req)
	if err != nil {
		if errors.Is(err, chat.ErrInvalidMessage) {
			writeJSON(w, http.StatusOK, chat.InvalidResponse(err))
			return
		}
		slog.Error("chat request failed", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
