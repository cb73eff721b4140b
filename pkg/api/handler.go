// Package api serves the dashboard and chat REST endpoints.
//
//	@title			Medicaid Explorer API
//	@version		1.0
//	@description	Provider-spending aggregations, anomaly detection and natural-language queries.
//	@BasePath		/api
package api

import (
	"context"
	"encoding/json"
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/txn2/medicaid-explorer/pkg/analytics"
	"github.com/txn2/medicaid-explorer/pkg/chat"
)

const (
	// ServiceName is reported by the health endpoint.
	ServiceName = "Medicaid Data Explorer"

	maxChatBodyBytes = 1 << 20
)

// Asker answers chat messages.
type Asker interface {
	Ask(ctx context.Context, req chat.Request) (*chat.Response, error)
}

var _ Asker = (*chat.Orchestrator)(nil)

// Pinger reports store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the handler's collaborators. Chat is optional; without it
// POST /api/chat answers 503.
type Deps struct {
	Analytics *analytics.Service
	Chat      Asker
	Store     Pinger
	// Docs enables the Swagger UI under /api/docs/.
	Docs bool
}

// Handler provides the REST endpoints.
type Handler struct {
	mux  *http.ServeMux
	deps Deps
}

// NewHandler creates a handler with all routes registered.
func NewHandler(deps Deps) *Handler {
	h := &Handler{mux: http.NewServeMux(), deps: deps}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /api/health", h.getHealth)
	h.mux.HandleFunc("GET /api/overview", h.getOverview)
	h.mux.HandleFunc("GET /api/trends", h.getTrends)
	h.mux.HandleFunc("GET /api/top-providers", h.getTopProviders)
	h.mux.HandleFunc("GET /api/top-codes", h.getTopCodes)
	h.mux.HandleFunc("GET /api/provider/{id}", h.getProvider)
	h.mux.HandleFunc("GET /api/code/{code}", h.getCode)
	h.mux.HandleFunc("GET /api/anomalies", h.getAnomalies)
	h.mux.HandleFunc("POST /api/chat", h.postChat)
	if h.deps.Docs {
		h.mux.Handle("GET /api/docs/", httpSwagger.Handler(httpSwagger.URL("/api/docs/doc.json")))
	}
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error" example:"limit must be between 1 and 100"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
