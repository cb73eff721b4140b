package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/txn2/medicaid-explorer/pkg/audit"
	"github.com/txn2/medicaid-explorer/pkg/guard"
	"github.com/txn2/medicaid-explorer/pkg/llm"
	"github.com/txn2/medicaid-explorer/pkg/observability"
)

const (
	defaultMaxHistoryTurns = 10
	defaultMaxHistoryChars = 12000
	defaultMaxMessageChars = 2000

	outcomeOK = "ok"
)

// Runner executes a query the guard accepted.
type Runner interface {
	Run(ctx context.Context, q *guard.Checked) (*guard.Result, error)
}

var _ Runner = (*guard.Executor)(nil)

// Config bounds chat input.
type Config struct {
	MaxHistoryTurns int
	MaxHistoryChars int
	MaxMessageChars int
}

func (c *Config) applyDefaults() {
	if c.MaxHistoryTurns <= 0 {
		c.MaxHistoryTurns = defaultMaxHistoryTurns
	}
	if c.MaxHistoryChars <= 0 {
		c.MaxHistoryChars = defaultMaxHistoryChars
	}
	if c.MaxMessageChars <= 0 {
		c.MaxMessageChars = defaultMaxMessageChars
	}
}

// Deps are the orchestrator's collaborators. Audit and Metrics are
// optional.
type Deps struct {
	Completer llm.Completer
	Guard     *guard.Guard
	Runner    Runner
	Audit     audit.Logger
	Metrics   *observability.Metrics
	// Model is recorded in audit events.
	Model string
}

// Orchestrator runs the question-to-result pipeline. It holds no
// per-request state and is safe for concurrent use.
type Orchestrator struct {
	deps Deps
	cfg  Config
}

// New creates an orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	if deps.Audit == nil {
		deps.Audit = &audit.NoopLogger{}
	}
	return &Orchestrator{deps: deps, cfg: cfg}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Validate checks the user message. It is the only failure Ask returns as
// an error.
func (o *Orchestrator) Validate(message string) error {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return fmt.Errorf("%w: message is empty", ErrInvalidMessage)
	}
	if n := utf8.RuneCountInString(msg); n > o.cfg.MaxMessageChars {
		return fmt.Errorf("%w: message has %d characters, the limit is %d", ErrInvalidMessage, n, o.cfg.MaxMessageChars)
	}
	return nil
}

// Ask answers one message. Pipeline failures are reported in the
// response's Error field with visualization "none".
func (o *Orchestrator) Ask(ctx context.Context, req Request) (*Response, error) {
	if err := o.Validate(req.Message); err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Source == "" {
		req.Source = audit.SourceHTTP
	}
	msg := strings.TrimSpace(req.Message)

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "chat.Ask",
		attribute.String("request_id", req.RequestID),
		attribute.Int("history_turns", len(req.History)),
	)
	event := audit.NewEvent(req.Source).
		WithRequestID(req.RequestID).
		WithParameters(map[string]any{"message": msg, "history_turns": len(req.History)})

	resp, err := o.answer(ctx, msg, req.History, event)
	outcome := outcomeOK
	if err != nil {
		kind := Classify(err)
		outcome = string(kind)
		resp = failureResponse(resp, kind, err)
		o.logFailure(ctx, req.RequestID, kind, err)
	}

	elapsed := time.Since(start)
	event.WithResult(outcome, err == nil, resp.Error, elapsed)
	if auditErr := o.deps.Audit.Log(ctx, *event); auditErr != nil {
		slog.Warn("failed to write chat audit event", "request_id", req.RequestID, "error", auditErr)
	}
	o.deps.Metrics.ObserveChat(outcome, elapsed)
	span.SetAttributes(attribute.String("outcome", outcome))
	observability.EndSpan(span, err)
	return resp, nil
}

// answer runs the pipeline. On failure it returns the partial response
// built so far alongside the error.
func (o *Orchestrator) answer(ctx context.Context, msg string, history []Turn, event *audit.Event) (*Response, error) {
	messages := BuildMessages(history, msg, HistoryConfig{
		MaxTurns: o.cfg.MaxHistoryTurns,
		MaxChars: o.cfg.MaxHistoryChars,
	})

	completion, err := o.complete(ctx, messages)
	if err != nil {
		return &Response{}, err
	}
	event.WithModel(o.modelName(completion), completion.InputTokens, completion.OutputTokens)

	r, err := parseReply(completion.Text)
	if err != nil {
		return &Response{}, err
	}
	resp := &Response{
		Thinking:      r.Thinking,
		Visualization: r.Visualization,
		ChartConfig:   r.ChartConfig,
		Narrative:     r.Narrative,
	}

	checked, err := o.deps.Guard.Check(r.SQL)
	if err != nil {
		var rej *guard.Rejection
		if errors.As(err, &rej) {
			o.deps.Metrics.GuardRejected(string(rej.Rule))
		}
		return resp, err
	}
	resp.SQL = checked.SQL

	result, err := o.run(ctx, checked)
	if err != nil {
		return resp, err
	}
	event.WithQuery(checked.SQL, checked.Tables, len(result.Rows))

	resp.Results = result.Rows
	resp.Columns = result.Columns
	resp.Truncated = result.Truncated
	return resp, nil
}

func (o *Orchestrator) complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	ctx, span := observability.StartSpan(ctx, "llm.Complete", attribute.Int("messages", len(messages)))
	start := time.Now()
	resp, err := o.deps.Completer.Complete(ctx, llm.Request{System: SystemPrompt, Messages: messages})
	o.deps.Metrics.ObserveLLM(time.Since(start))
	observability.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("requesting completion: %w", err)
	}
	return resp, nil
}

func (o *Orchestrator) run(ctx context.Context, q *guard.Checked) (*guard.Result, error) {
	ctx, span := observability.StartSpan(ctx, "guard.Run",
		attribute.StringSlice("tables", q.Tables),
		attribute.Int("limit", q.Limit),
	)
	result, err := o.deps.Runner.Run(ctx, q)
	if err == nil {
		span.SetAttributes(attribute.Int("rows", len(result.Rows)))
		o.deps.Metrics.ObserveQueryRows(len(result.Rows))
	}
	observability.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}
	return result, nil
}

func (o *Orchestrator) modelName(resp *llm.Response) string {
	if resp.Model != "" {
		return resp.Model
	}
	return o.deps.Model
}

func (*Orchestrator) logFailure(ctx context.Context, requestID string, kind Kind, err error) {
	level := slog.LevelWarn
	if kind == KindExecutionFailure {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "chat request failed", "request_id", requestID, "kind", kind, "error", err)
}

// InvalidResponse is the turn returned for a message Validate rejected. Its
// Error carries the validation detail without the sentinel prefix.
func InvalidResponse(err error) *Response {
	return &Response{
		Results:       []map[string]any{},
		Visualization: VisualizationNone,
		Error:         strings.TrimPrefix(err.Error(), ErrInvalidMessage.Error()+": "),
	}
}

// failureResponse keeps the reasoning of a partial response and replaces
// everything else with a safe error turn. A rejected query is never
// echoed back.
func failureResponse(partial *Response, kind Kind, err error) *Response {
	resp := &Response{
		Results:       []map[string]any{},
		Visualization: VisualizationNone,
		Error:         UserMessage(err),
	}
	if partial == nil {
		return resp
	}
	resp.Thinking = partial.Thinking
	if kind != KindValidationFailure {
		resp.SQL = partial.SQL
	}
	return resp
}
