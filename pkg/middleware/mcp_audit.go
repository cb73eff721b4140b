package middleware

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/medicaid-explorer/pkg/audit"
)

// MCPAuditMiddleware creates MCP protocol-level middleware that writes one
// audit event per tools/call request. Tools named in skip are not audited
// here; ask_question records its own event.
//
// Events are logged asynchronously so auditing never delays the response.
func MCPAuditMiddleware(logger audit.Logger, skip ...string) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall {
				return next(ctx, method, req)
			}
			tool, nameErr := extractToolName(req)
			if nameErr != nil || slices.Contains(skip, tool) {
				return next(ctx, method, req)
			}

			start := time.Now()
			result, err := next(ctx, method, req)

			event := buildToolEvent(tool, req, result, err, start, time.Since(start))
			go func() {
				if logErr := logger.Log(context.Background(), event); logErr != nil {
					slog.Warn("failed to write tool audit event", "tool", tool, "error", logErr)
				}
			}()

			return result, err
		}
	}
}

// buildToolEvent builds an audit event from the MCP request and response.
func buildToolEvent(tool string, req mcp.Request, result mcp.Result, err error, start time.Time, d time.Duration) audit.Event {
	outcome, message := callOutcome(result, err)
	event := audit.NewEvent(audit.SourceMCP).
		WithTool(tool).
		WithParameters(extractArguments(req)).
		WithResult(outcome, outcome == outcomeOK, message, d)
	event.Timestamp = start
	return *event
}
