// Package toolkit exposes the analytics and chat operations as MCP tools.
package toolkit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/medicaid-explorer/pkg/analytics"
	"github.com/txn2/medicaid-explorer/pkg/anomaly"
	"github.com/txn2/medicaid-explorer/pkg/audit"
	"github.com/txn2/medicaid-explorer/pkg/chat"
	"github.com/txn2/medicaid-explorer/pkg/spending"
)

// Tool names.
const (
	ToolOverview       = "spending_overview"
	ToolTrends         = "spending_trends"
	ToolTopProviders   = "top_providers"
	ToolTopCodes       = "top_codes"
	ToolProviderDetail = "provider_detail"
	ToolCodeDetail     = "code_detail"
	ToolAnomalies      = "find_anomalies"
	ToolAsk            = "ask_question"
)

const msgInternal = "internal error, see server logs"

// Asker answers chat messages.
type Asker interface {
	Ask(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// Toolkit registers the spending tools. Chat is optional; ask_question is
// only registered when it is set.
type Toolkit struct {
	name      string
	analytics *analytics.Service
	chat      Asker
}

// New creates a toolkit.
func New(name string, svc *analytics.Service, asker Asker) *Toolkit {
	return &Toolkit{name: name, analytics: svc, chat: asker}
}

// Kind returns the toolkit kind.
func (*Toolkit) Kind() string {
	return "spending"
}

// Name returns the toolkit instance name.
func (t *Toolkit) Name() string {
	return t.name
}

// Tools returns the names of the registered tools.
func (t *Toolkit) Tools() []string {
	tools := []string{
		ToolOverview, ToolTrends, ToolTopProviders, ToolTopCodes,
		ToolProviderDetail, ToolCodeDetail, ToolAnomalies,
	}
	if t.chat != nil {
		tools = append(tools, ToolAsk)
	}
	return tools
}

type rangeInput struct {
	Start string `json:"start,omitempty" jsonschema:"first claim month, YYYY-MM"`
	End   string `json:"end,omitempty" jsonschema:"last claim month, YYYY-MM"`
}

type trendsInput struct {
	Start string `json:"start,omitempty" jsonschema:"first claim month, YYYY-MM"`
	End   string `json:"end,omitempty" jsonschema:"last claim month, YYYY-MM"`
	NPI   string `json:"npi,omitempty" jsonschema:"restrict to one billing provider NPI"`
	Code  string `json:"hcpcs_code,omitempty" jsonschema:"restrict to one HCPCS code"`
}

type rankInput struct {
	Limit  int    `json:"limit,omitempty" jsonschema:"rows to return, 1-100, default 20"`
	SortBy string `json:"sort_by,omitempty" jsonschema:"total_paid, total_claims, total_beneficiaries, or provider_count for codes"`
	Start  string `json:"start,omitempty" jsonschema:"first claim month, YYYY-MM"`
	End    string `json:"end,omitempty" jsonschema:"last claim month, YYYY-MM"`
}

type providerInput struct {
	NPI string `json:"npi" jsonschema:"billing provider NPI"`
}

type codeInput struct {
	Code string `json:"hcpcs_code" jsonschema:"HCPCS procedure code"`
}

type anomalyInput struct {
	Limit     int     `json:"limit,omitempty" jsonschema:"rows to return, 1-200, default 50"`
	MinZScore float64 `json:"min_z_score,omitempty" jsonschema:"minimum absolute z-score, at least 2, default 5"`
	Code      string  `json:"hcpcs_code,omitempty" jsonschema:"restrict to one HCPCS code"`
}

type askInput struct {
	Question string      `json:"question" jsonschema:"natural-language question about Medicaid provider spending"`
	History  []chat.Turn `json:"history,omitempty" jsonschema:"earlier turns of the conversation, oldest first"`
}

// RegisterTools adds the tools to s.
func (t *Toolkit) RegisterTools(s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolOverview,
		Description: "Dataset-wide Medicaid spending totals: paid, claims, beneficiaries, distinct providers and codes, and the months covered.",
	}, t.handleOverview)
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolTrends,
		Description: "Monthly spending series with year-over-year growth. Months without claims are zero-filled.",
	}, t.handleTrends)
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolTopProviders,
		Description: "Billing providers ranked by total paid, claims or beneficiaries.",
	}, t.handleTopProviders)
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolTopCodes,
		Description: "HCPCS procedure codes ranked by total paid, claims, beneficiaries or number of providers.",
	}, t.handleTopCodes)
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolProviderDetail,
		Description: "One provider's totals, monthly trend, top codes and strongest spending anomalies.",
	}, t.handleProviderDetail)
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolCodeDetail,
		Description: "One procedure code's totals, monthly trend and top providers.",
	}, t.handleCodeDetail)
	mcp.AddTool(s, &mcp.Tool{
		Name: ToolAnomalies,
		Description: "Provider/code pairs whose total paid is unusually far from the other providers billing the same code, " +
			"ranked by absolute z-score. Use this to look for potential fraud or billing errors.",
	}, t.handleAnomalies)
	if t.chat != nil {
		mcp.AddTool(s, &mcp.Tool{
			Name: ToolAsk,
			Description: "Answers a free-form question by generating and running a read-only SQL query over the claims, " +
				"providers and hcpcs_codes tables. Returns the query, rows, a suggested visualization and a narrative.",
		}, t.handleAsk)
	}
}

func (t *Toolkit) handleOverview(ctx context.Context, _ *mcp.CallToolRequest, in rangeInput) (*mcp.CallToolResult, any, error) {
	rng, err := parseRange(in.Start, in.End)
	if err != nil {
		return errorResult(err.Error()), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	o, err := t.analytics.Overview(ctx, rng)
	return result(ToolOverview, o, err)
}

func (t *Toolkit) handleTrends(ctx context.Context, _ *mcp.CallToolRequest, in trendsInput) (*mcp.CallToolResult, any, error) {
	rng, err := parseRange(in.Start, in.End)
	if err != nil {
		return errorResult(err.Error()), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	trend, err := t.analytics.Trends(ctx, spending.TrendFilter{
		Range: rng,
		NPI:   strings.TrimSpace(in.NPI),
		Code:  strings.ToUpper(strings.TrimSpace(in.Code)),
	})
	return result(ToolTrends, trend, err)
}

func (t *Toolkit) handleTopProviders(ctx context.Context, _ *mcp.CallToolRequest, in rankInput) (*mcp.CallToolResult, any, error) {
	q, err := in.query()
	if err != nil {
		return errorResult(err.Error()), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	providers, err := t.analytics.TopProviders(ctx, q)
	return result(ToolTopProviders, providers, err)
}

func (t *Toolkit) handleTopCodes(ctx context.Context, _ *mcp.CallToolRequest, in rankInput) (*mcp.CallToolResult, any, error) {
	q, err := in.query()
	if err != nil {
		return errorResult(err.Error()), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	codes, err := t.analytics.TopCodes(ctx, q)
	return result(ToolTopCodes, codes, err)
}

func (t *Toolkit) handleProviderDetail(ctx context.Context, _ *mcp.CallToolRequest, in providerInput) (*mcp.CallToolResult, any, error) {
	detail, err := t.analytics.ProviderDetail(ctx, in.NPI)
	return result(ToolProviderDetail, detail, err)
}

func (t *Toolkit) handleCodeDetail(ctx context.Context, _ *mcp.CallToolRequest, in codeInput) (*mcp.CallToolResult, any, error) {
	detail, err := t.analytics.CodeDetail(ctx, in.Code)
	return result(ToolCodeDetail, detail, err)
}

func (t *Toolkit) handleAnomalies(ctx context.Context, _ *mcp.CallToolRequest, in anomalyInput) (*mcp.CallToolResult, any, error) {
	recs, err := t.analytics.Anomalies(ctx, anomaly.Query{
		Limit:     in.Limit,
		MinZScore: in.MinZScore,
		Code:      in.Code,
	})
	return result(ToolAnomalies, recs, err)
}

func (t *Toolkit) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, in askInput) (*mcp.CallToolResult, any, error) {
	resp, err := t.chat.Ask(ctx, chat.Request{
		Message: in.Question,
		History: in.History,
		Source:  audit.SourceMCP,
	})
	if err != nil {
		return result(ToolAsk, nil, err)
	}
	res, _, _ := result(ToolAsk, resp, nil)
	res.IsError = resp.Error != ""
	return res, nil, nil
}

func (in rankInput) query() (spending.RankQuery, error) {
	rng, err := parseRange(in.Start, in.End)
	if err != nil {
		return spending.RankQuery{}, err
	}
	return spending.RankQuery{
		Limit:  in.Limit,
		SortBy: spending.SortKey(strings.TrimSpace(in.SortBy)),
		Range:  rng,
	}, nil
}

func parseRange(start, end string) (spending.Range, error) {
	var rng spending.Range
	if start != "" {
		m, err := spending.ParseMonth(start)
		if err != nil {
			return rng, err
		}
		rng.Start = &m
	}
	if end != "" {
		m, err := spending.ParseMonth(end)
		if err != nil {
			return rng, err
		}
		rng.End = &m
	}
	return rng, nil
}

// result renders v as indented JSON, or err as a tool error. Store errors
// are logged and replaced with a generic message.
func result(tool string, v any, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		switch {
		case errors.Is(err, analytics.ErrInvalidArgument), errors.Is(err, chat.ErrInvalidMessage):
			return errorResult(err.Error()), nil, nil
		case errors.Is(err, spending.ErrNotFound):
			return errorResult("not found"), nil, nil
		default:
			slog.Error("tool call failed", "tool", tool, "error", err)
			return errorResult(msgInternal), nil, nil
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("Error: " + err.Error()), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
