package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/medicaid-explorer/pkg/audit"
	"github.com/txn2/medicaid-explorer/pkg/guard"
	"github.com/txn2/medicaid-explorer/pkg/llm"
	"github.com/txn2/medicaid-explorer/pkg/observability"
)

type fakeCompleter struct {
	mu       sync.Mutex
	text     string
	err      error
	requests []llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.text, Model: "test-model", InputTokens: 120, OutputTokens: 40}, nil
}

type fakeRunner struct {
	mu     sync.Mutex
	result *guard.Result
	err    error
	ran    []*guard.Checked
}

func (f *fakeRunner) Run(_ context.Context, q *guard.Checked) (*guard.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, q)
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &guard.Result{Columns: []string{}, Rows: []map[string]any{}}, nil
	}
	return f.result, nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Log(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (*recordingAudit) Close() error { return nil }

type harness struct {
	orch      *Orchestrator
	completer *fakeCompleter
	runner    *fakeRunner
	audit     *recordingAudit
	registry  *prometheus.Registry
}

func newHarness(reply string) *harness {
	h := &harness{
		completer: &fakeCompleter{text: reply},
		runner:    &fakeRunner{},
		audit:     &recordingAudit{},
	}
	h.registry = prometheus.NewRegistry()
	h.orch = New(Deps{
		Completer: h.completer,
		Guard:     guard.New(guard.Config{Tables: []string{"claims", "providers", "hcpcs_codes"}}),
		Runner:    h.runner,
		Audit:     h.audit,
		Metrics:   observability.NewMetricsWith(h.registry, h.registry),
		Model:     "configured-model",
	}, Config{})
	return h
}

const topProvidersReply = `{
  "thinking": "Rank providers by paid amount.",
  "sql": "SELECT billing_npi, SUM(total_paid) AS total_paid FROM claims GROUP BY billing_npi ORDER BY total_paid DESC LIMIT 10",
  "visualization": "bar_chart",
  "chart_config": {"x": "billing_npi", "y": "total_paid", "title": "Top providers"},
  "narrative": "A few providers dominate spending."
}`

func TestAsk_Success(t *testing.T) {
	h := newHarness(topProvidersReply)
	h.runner.result = &guard.Result{
		Columns: []string{"billing_npi", "total_paid"},
		Rows:    []map[string]any{{"billing_npi": "1000000001", "total_paid": 900.5}},
	}

	resp, err := h.orch.Ask(context.Background(), Request{Message: "Who are the top providers?"})
	require.NoError(t, err)

	assert.Empty(t, resp.Error)
	assert.Equal(t, VisualizationBarChart, resp.Visualization)
	require.NotNil(t, resp.ChartConfig)
	assert.Equal(t, "billing_npi", resp.ChartConfig.X)
	assert.Equal(t, "total_paid", resp.ChartConfig.Y)
	assert.Equal(t, "Rank providers by paid amount.", resp.Thinking)
	assert.Equal(t, "A few providers dominate spending.", resp.Narrative)
	assert.Contains(t, resp.SQL, "LIMIT 10")
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, []string{"billing_npi", "total_paid"}, resp.Columns)

	require.Len(t, h.runner.ran, 1)
	assert.Equal(t, []string{"claims"}, h.runner.ran[0].Tables)

	require.Len(t, h.completer.requests, 1)
	req := h.completer.requests[0]
	assert.Equal(t, SystemPrompt, req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, llm.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "Who are the top providers?", req.Messages[0].Content)

	require.Len(t, h.audit.events, 1)
	ev := h.audit.events[0]
	assert.True(t, ev.Success)
	assert.Equal(t, outcomeOK, ev.Outcome)
	assert.Equal(t, "test-model", ev.Model)
	assert.Equal(t, 1, ev.RowCount)
	assert.NotEmpty(t, ev.RequestID)
	assert.Equal(t, audit.SourceHTTP, ev.Source)

	require.NoError(t, testutil.GatherAndCompare(h.registry, strings.NewReader(`
# HELP medicaid_explorer_chat_requests_total Chat requests by outcome.
# TYPE medicaid_explorer_chat_requests_total counter
medicaid_explorer_chat_requests_total{outcome="ok"} 1
`), "medicaid_explorer_chat_requests_total"))
}

func TestAsk_ZeroRows(t *testing.T) {
	h := newHarness(`{"thinking":"t","sql":"SELECT * FROM claims WHERE total_paid < 0","visualization":"table","narrative":"n"}`)

	resp, err := h.orch.Ask(context.Background(), Request{Message: "negative payments?"})
	require.NoError(t, err)
	assert.Empty(t, resp.Error)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.Equal(t, VisualizationTable, resp.Visualization)
	assert.Nil(t, resp.ChartConfig)
	assert.True(t, strings.HasSuffix(resp.SQL, "LIMIT 1000"), resp.SQL)
}

func TestAsk_MissingSQLNeverExecutes(t *testing.T) {
	h := newHarness(`{"thinking":"I cannot answer that","visualization":"table","narrative":"n"}`)

	resp, err := h.orch.Ask(context.Background(), Request{Message: "What is the weather?"})
	require.NoError(t, err)
	assert.Equal(t, msgMalformed, resp.Error)
	assert.Equal(t, VisualizationNone, resp.Visualization)
	assert.Empty(t, resp.SQL)
	assert.Empty(t, resp.Results)
	assert.Empty(t, h.runner.ran)

	require.Len(t, h.audit.events, 1)
	assert.False(t, h.audit.events[0].Success)
	assert.Equal(t, string(KindMalformedOutput), h.audit.events[0].Outcome)
}

func TestAsk_MultiStatementRejected(t *testing.T) {
	h := newHarness(`{"thinking":"Clean up first","sql":"SELECT 1 FROM claims; DROP TABLE claims","visualization":"table","narrative":"n"}`)

	resp, err := h.orch.Ask(context.Background(), Request{Message: "Drop the table"})
	require.NoError(t, err)
	assert.Equal(t, msgRejected, resp.Error)
	assert.Equal(t, VisualizationNone, resp.Visualization)
	assert.Empty(t, resp.SQL)
	assert.Equal(t, "Clean up first", resp.Thinking)
	assert.Empty(t, h.runner.ran)
	assert.NotContains(t, resp.Error, "DROP")

	assert.Equal(t, string(KindValidationFailure), h.audit.events[0].Outcome)
	require.NoError(t, testutil.GatherAndCompare(h.registry, strings.NewReader(`
# HELP medicaid_explorer_guard_rejections_total Generated queries rejected by the query guard, by rule.
# TYPE medicaid_explorer_guard_rejections_total counter
medicaid_explorer_guard_rejections_total{rule="single_statement"} 1
`), "medicaid_explorer_guard_rejections_total"))
}

func TestAsk_ChartNeedsConfig(t *testing.T) {
	h := newHarness(`{"thinking":"t","sql":"SELECT * FROM claims","visualization":"line_chart","narrative":"n"}`)

	resp, err := h.orch.Ask(context.Background(), Request{Message: "trend?"})
	require.NoError(t, err)
	assert.Equal(t, msgMalformed, resp.Error)
	assert.Empty(t, h.runner.ran)
}

func TestAsk_FencedReply(t *testing.T) {
	h := newHarness("Here you go:\n```json\n" + topProvidersReply + "\n```\n")

	resp, err := h.orch.Ask(context.Background(), Request{Message: "top providers"})
	require.NoError(t, err)
	assert.Empty(t, resp.Error)
	assert.Equal(t, VisualizationBarChart, resp.Visualization)
	assert.Len(t, h.runner.ran, 1)
}

func TestAsk_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		llmErr  error
		runErr  error
		message string
		keepSQL bool
	}{
		{name: "model timeout", llmErr: llm.ErrTimeout, message: msgModelTimeout},
		{name: "model unavailable", llmErr: &llm.APIError{StatusCode: 503, Message: "overloaded"}, message: msgModelUnavailable},
		{name: "model rejected request", llmErr: &llm.APIError{StatusCode: 400, Message: "bad"}, message: msgModelUnavailable},
		{name: "query timeout", runErr: guard.ErrTimedOut, message: msgQueryTimeout, keepSQL: true},
		{name: "query failure", runErr: errors.New(`pq: column "secret" does not exist`), message: msgExecution, keepSQL: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(topProvidersReply)
			h.completer.err = tt.llmErr
			h.runner.err = tt.runErr

			resp, err := h.orch.Ask(context.Background(), Request{Message: "top providers"})
			require.NoError(t, err)
			assert.Equal(t, tt.message, resp.Error)
			assert.Equal(t, VisualizationNone, resp.Visualization)
			assert.Empty(t, resp.Results)
			assert.NotContains(t, resp.Error, "pq:")
			if tt.keepSQL {
				assert.NotEmpty(t, resp.SQL)
			} else {
				assert.Empty(t, resp.SQL)
			}
		})
	}
}

func TestAsk_InvalidMessage(t *testing.T) {
	h := newHarness(topProvidersReply)

	_, err := h.orch.Ask(context.Background(), Request{Message: "   "})
	require.ErrorIs(t, err, ErrInvalidMessage)

	_, err = h.orch.Ask(context.Background(), Request{Message: strings.Repeat("a", defaultMaxMessageChars+1)})
	require.ErrorIs(t, err, ErrInvalidMessage)

	assert.Empty(t, h.completer.requests)
	assert.Empty(t, h.audit.events)
}

func TestInvalidResponse(t *testing.T) {
	h := newHarness(topProvidersReply)
	_, err := h.orch.Ask(context.Background(), Request{Message: strings.Repeat("a", defaultMaxMessageChars+1)})
	require.Error(t, err)

	resp := InvalidResponse(err)
	assert.Equal(t, VisualizationNone, resp.Visualization)
	assert.Equal(t, "message has 2001 characters, the limit is 2000", resp.Error)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.SQL)
}

func TestAsk_ReplaysHistory(t *testing.T) {
	h := newHarness(topProvidersReply)
	history := []Turn{
		{Role: RoleUser, Content: "How much was spent in total?"},
		{Role: RoleAssistant, Narrative: "About $1.2B.", SQL: "SELECT SUM(total_paid) FROM claims"},
	}

	_, err := h.orch.Ask(context.Background(), Request{Message: "And by provider?", History: history})
	require.NoError(t, err)

	msgs := h.completer.requests[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "SELECT SUM(total_paid) FROM claims")
	assert.Equal(t, "And by provider?", msgs[2].Content)
	assert.Len(t, history, 2)
}

func TestAsk_ConcurrentRequests(t *testing.T) {
	h := newHarness(topProvidersReply)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.orch.Ask(context.Background(), Request{Message: "top providers"})
			assert.NoError(t, err)
			assert.Empty(t, resp.Error)
		}()
	}
	wg.Wait()
	assert.Len(t, h.runner.ran, 8)
	assert.Len(t, h.audit.events, 8)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
	}{
		{err: nil, kind: ""},
		{err: &guard.Rejection{Rule: guard.RuleReadOnly, Reason: "x"}, kind: KindValidationFailure},
		{err: ErrMalformedOutput, kind: KindMalformedOutput},
		{err: llm.ErrTimeout, kind: KindUpstreamTimeout},
		{err: guard.ErrTimedOut, kind: KindUpstreamTimeout},
		{err: context.DeadlineExceeded, kind: KindUpstreamTimeout},
		{err: llm.ErrUnavailable, kind: KindUpstreamUnavailable},
		{err: errors.New("boom"), kind: KindExecutionFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, Classify(tt.err), "%v", tt.err)
	}
}
