// Package chat turns a natural-language question into a guarded query and
// a typed, narrated result.
//
// Each request runs one pipeline: build a schema-aware prompt from the
// message and the caller's history, ask the language model for a structured
// reply, validate that reply, pass its query through the guard, execute it
// read-only and assemble the response. Failures never escape as errors;
// they become a response whose Error field carries a safe message.
package chat

import (
	"context"
	"errors"

	"github.com/txn2/medicaid-explorer/pkg/guard"
	"github.com/txn2/medicaid-explorer/pkg/llm"
	"github.com/txn2/medicaid-explorer/pkg/spending"
)

// Errors produced by the pipeline itself.
var (
	// ErrMalformedOutput is a model reply that is not the expected structure.
	ErrMalformedOutput = errors.New("malformed model output")
	// ErrInvalidMessage is an empty or oversized user message.
	ErrInvalidMessage = errors.New("invalid message")
)

// Role is a conversation participant.
type Role string

// Roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Visualization is how a client should render a result.
type Visualization string

// Visualizations. VisualizationNone marks error responses.
const (
	VisualizationTable     Visualization = "table"
	VisualizationBarChart  Visualization = "bar_chart"
	VisualizationLineChart Visualization = "line_chart"
	VisualizationNumber    Visualization = "number"
	VisualizationNone      Visualization = "none"
)

var modelVisualizations = map[Visualization]bool{
	VisualizationTable:     true,
	VisualizationBarChart:  true,
	VisualizationLineChart: true,
	VisualizationNumber:    true,
}

// IsChart reports whether v needs axis configuration.
func (v Visualization) IsChart() bool {
	return v == VisualizationBarChart || v == VisualizationLineChart
}

// ChartConfig names the columns plotted on each axis.
type ChartConfig struct {
	X     string `json:"x"`
	Y     string `json:"y"`
	Title string `json:"title,omitempty"`
}

// Turn is one entry of the caller-owned conversation history.
type Turn struct {
	Role          Role             `json:"role"`
	Content       string           `json:"content"`
	SQL           string           `json:"sql,omitempty"`
	Results       []map[string]any `json:"results,omitempty"`
	Visualization Visualization    `json:"visualization,omitempty"`
	ChartConfig   *ChartConfig     `json:"chart_config,omitempty"`
	Narrative     string           `json:"narrative,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Request is one chat message with its history. History is read, never
// modified.
type Request struct {
	Message   string `json:"message"`
	History   []Turn `json:"history"`
	RequestID string `json:"-"`
	Source    string `json:"-"`
}

// Response is the assistant's turn.
type Response struct {
	Thinking      string           `json:"thinking,omitempty"`
	SQL           string           `json:"sql"`
	Results       []map[string]any `json:"results"`
	Columns       []string         `json:"columns,omitempty"`
	Truncated     bool             `json:"truncated,omitempty"`
	Visualization Visualization    `json:"visualization"`
	ChartConfig   *ChartConfig     `json:"chart_config,omitempty"`
	Narrative     string           `json:"narrative"`
	Error         string           `json:"error,omitempty"`
}

// Kind classifies a pipeline failure.
type Kind string

// Failure kinds.
const (
	KindNotFound            Kind = "not_found"
	KindValidationFailure   Kind = "validation_failure"
	KindUpstreamTimeout     Kind = "upstream_timeout"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindExecutionFailure    Kind = "execution_failure"
	KindMalformedOutput     Kind = "malformed_model_output"
)

// Classify maps an error from any layer to its kind. Unknown errors are
// execution failures.
func Classify(err error) Kind {
	var apiErr *llm.APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, spending.ErrNotFound):
		return KindNotFound
	case errors.Is(err, guard.ErrRejected):
		return KindValidationFailure
	case errors.Is(err, ErrMalformedOutput):
		return KindMalformedOutput
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, guard.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return KindUpstreamTimeout
	case errors.Is(err, llm.ErrUnavailable), errors.As(err, &apiErr):
		return KindUpstreamUnavailable
	default:
		return KindExecutionFailure
	}
}

// User-facing failure messages. None of them carries internal detail.
const (
	msgModelTimeout     = "The AI service took too long to respond. Please try again."
	msgModelUnavailable = "The AI service is unavailable right now. Please try again."
	msgMalformed        = "I couldn't turn that into a query. Try rephrasing your question."
	msgRejected         = "That question produced a query I can't run safely. Try rephrasing it."
	msgExecution        = "The query failed to run. Try rephrasing your question."
	msgQueryTimeout     = "The query took too long to run. Try narrowing your question."
	msgNotFound         = "No matching records were found."
)

// UserMessage returns the safe message for err.
func UserMessage(err error) string {
	switch Classify(err) {
	case KindUpstreamTimeout:
		if errors.Is(err, guard.ErrTimedOut) {
			return msgQueryTimeout
		}
		return msgModelTimeout
	case KindUpstreamUnavailable:
		return msgModelUnavailable
	case KindMalformedOutput:
		return msgMalformed
	case KindValidationFailure:
		return msgRejected
	case KindNotFound:
		return msgNotFound
	default:
		return msgExecution
	}
}
