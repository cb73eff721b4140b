package middleware

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/medicaid-explorer/pkg/observability"
)

// MCPMetricsMiddleware counts tools/call requests and their latency by tool.
func MCPMetricsMiddleware(m *observability.Metrics) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		if m == nil {
			return next
		}
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall {
				return next(ctx, method, req)
			}
			tool, nameErr := extractToolName(req)
			if nameErr != nil {
				tool = "unknown"
			}

			start := time.Now()
			result, err := next(ctx, method, req)
			outcome, _ := callOutcome(result, err)
			m.ObserveTool(tool, outcome, time.Since(start))
			return result, err
		}
	}
}
