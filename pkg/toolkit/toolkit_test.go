package toolkit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/medicaid-explorer/pkg/analytics"
	"github.com/txn2/medicaid-explorer/pkg/anomaly"
	"github.com/txn2/medicaid-explorer/pkg/audit"
	"github.com/txn2/medicaid-explorer/pkg/chat"
	"github.com/txn2/medicaid-explorer/pkg/spending"
	"github.com/txn2/medicaid-explorer/pkg/spending/memory"
)

const (
	testNPI  = "1000000001"
	testCode = "97153"
)

type fakeAsker struct {
	resp *chat.Response
	got  chat.Request
}

func (f *fakeAsker) Ask(_ context.Context, req chat.Request) (*chat.Response, error) {
	f.got = req
	return f.resp, nil
}

func newService() *analytics.Service {
	store := memory.New([]spending.Claim{{
		BillingNPI:    testNPI,
		Code:          testCode,
		Month:         spending.Month{Year: 2023, Month: time.January},
		Beneficiaries: 3,
		TotalClaims:   12,
		TotalPaid:     spending.NewMoney(decimal.RequireFromString("1250.50")),
	}}, nil, nil)
	return analytics.NewService(store, anomaly.NewDetector(store, anomaly.Config{}))
}

func connect(t *testing.T, tk *Toolkit) *mcp.ClientSession {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: "test", Version: "v1"}, nil)
	tk.RegisterTools(server)

	t1, t2 := mcp.NewInMemoryTransports()
	ctx := context.Background()
	serverSession, err := server.Connect(ctx, t1, nil)
	require.NoError(t, err)
	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = session.Close()
		_ = serverSession.Close()
	})
	return session
}

func call(t *testing.T, s *mcp.ClientSession, name string, args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return res, text.Text
}

func TestRegisterTools(t *testing.T) {
	tk := New("spending", newService(), nil)
	s := connect(t, tk)

	res, err := s.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, tk.Tools(), names)
	assert.NotContains(t, names, ToolAsk)

	assert.Contains(t, New("spending", newService(), &fakeAsker{}).Tools(), ToolAsk)
}

func TestOverviewTool(t *testing.T) {
	s := connect(t, New("spending", newService(), nil))

	res, text := call(t, s, ToolOverview, map[string]any{})
	assert.False(t, res.IsError)
	var o map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &o))
	assert.InDelta(t, 1250.50, o["total_paid"], 0.001)
}

func TestTopProvidersTool(t *testing.T) {
	s := connect(t, New("spending", newService(), nil))

	res, text := call(t, s, ToolTopProviders, map[string]any{"limit": 5})
	assert.False(t, res.IsError)
	assert.Contains(t, text, testNPI)

	res, text = call(t, s, ToolTopProviders, map[string]any{"limit": 101})
	assert.True(t, res.IsError)
	assert.Contains(t, text, "limit")
}

func TestDetailTools(t *testing.T) {
	s := connect(t, New("spending", newService(), nil))

	res, text := call(t, s, ToolProviderDetail, map[string]any{"npi": testNPI})
	assert.False(t, res.IsError)
	assert.Contains(t, text, `"top_codes"`)

	res, text = call(t, s, ToolCodeDetail, map[string]any{"hcpcs_code": "00000"})
	assert.True(t, res.IsError)
	assert.Equal(t, "not found", text)
}

func TestAnomaliesTool(t *testing.T) {
	s := connect(t, New("spending", newService(), nil))

	res, _ := call(t, s, ToolAnomalies, map[string]any{"min_z_score": 1.5})
	assert.True(t, res.IsError)

	res, text := call(t, s, ToolAnomalies, map[string]any{"min_z_score": 2})
	assert.False(t, res.IsError)
	assert.JSONEq(t, "[]", text)
}

func TestAskTool(t *testing.T) {
	asker := &fakeAsker{resp: &chat.Response{
		SQL:           "SELECT COUNT(*) FROM claims LIMIT 1",
		Results:       []map[string]any{{"count": 1}},
		Visualization: chat.VisualizationNumber,
		Narrative:     "One row.",
	}}
	s := connect(t, New("spending", newService(), asker))

	res, text := call(t, s, ToolAsk, map[string]any{"question": "How many rows?"})
	assert.False(t, res.IsError)
	assert.Contains(t, text, "One row.")
	assert.Equal(t, "How many rows?", asker.got.Message)
	assert.Equal(t, audit.SourceMCP, asker.got.Source)

	asker.resp = &chat.Response{Results: []map[string]any{}, Visualization: chat.VisualizationNone, Error: "The query failed to run."}
	res, _ = call(t, s, ToolAsk, map[string]any{"question": "boom"})
	assert.True(t, res.IsError)
}
