package audit

import (
	"time"

	"github.com/google/uuid"
)

// Sources name the surface a request arrived on.
const (
	SourceHTTP = "http"
	SourceMCP  = "mcp"
)

// maxParameterChars bounds free-text parameters kept in an event.
const maxParameterChars = 500

// NewEvent creates an event stamped with a fresh ID and the current time.
func NewEvent(source string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Source:    source,
	}
}

// WithRequestID adds a request ID to the event.
func (e *Event) WithRequestID(requestID string) *Event {
	e.RequestID = requestID
	return e
}

// WithTool records the MCP tool that was called.
func (e *Event) WithTool(name string) *Event {
	e.Tool = name
	return e
}

// WithParameters adds sanitized parameters to the event.
func (e *Event) WithParameters(params map[string]any) *Event {
	e.Parameters = SanitizeParameters(params)
	return e
}

// WithQuery records the guarded query and its result size.
func (e *Event) WithQuery(sql string, tables []string, rows int) *Event {
	e.SQL = sql
	e.Tables = tables
	e.RowCount = rows
	return e
}

// WithModel records the model and its token usage.
func (e *Event) WithModel(model string, inputTokens, outputTokens int) *Event {
	e.Model = model
	e.InputTokens = inputTokens
	e.OutputTokens = outputTokens
	return e
}

// WithResult adds result information to the event.
func (e *Event) WithResult(outcome string, success bool, errorMsg string, duration time.Duration) *Event {
	e.Outcome = outcome
	e.Success = success
	e.ErrorMessage = errorMsg
	e.DurationMS = duration.Milliseconds()
	return e
}

// SanitizeParameters redacts credential-like keys and truncates long
// strings.
func SanitizeParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}

	sensitiveKeys := map[string]bool{
		"password":      true,
		"secret":        true,
		"token":         true,
		"api_key":       true,
		"authorization": true,
		"credentials":   true,
	}

	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		switch {
		case sensitiveKeys[k]:
			sanitized[k] = "[REDACTED]"
		default:
			if s, ok := v.(string); ok && len(s) > maxParameterChars {
				v = s[:maxParameterChars] + "..."
			}
			sanitized[k] = v
		}
	}
	return sanitized
}
