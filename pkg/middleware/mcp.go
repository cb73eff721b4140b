// Package middleware provides MCP protocol-level middleware for the
// spending tools.
package middleware

import (
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const methodToolsCall = "tools/call"

// Outcomes recorded for a tool call.
const (
	outcomeOK        = "ok"
	outcomeToolError = "tool_error"
	outcomeError     = "error"
)

// extractToolName returns the tool named by a tools/call request.
func extractToolName(req mcp.Request) (string, error) {
	if req == nil {
		return "", errors.New("missing request")
	}
	params := req.GetParams()
	if params == nil {
		return "", errors.New("missing params")
	}
	callParams, ok := params.(*mcp.CallToolParamsRaw)
	if !ok || callParams == nil {
		return "", errors.New("missing params")
	}
	if callParams.Name == "" {
		return "", errors.New("missing tool name")
	}
	return callParams.Name, nil
}

// extractArguments decodes the raw tool arguments. Undecodable arguments
// yield nil.
func extractArguments(req mcp.Request) map[string]any {
	if req == nil {
		return nil
	}
	callParams, ok := req.GetParams().(*mcp.CallToolParamsRaw)
	if !ok || callParams == nil || len(callParams.Arguments) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(callParams.Arguments, &args); err != nil {
		return nil
	}
	return args
}

// callOutcome classifies a finished tool call and returns its error text.
func callOutcome(result mcp.Result, err error) (outcome, message string) {
	if err != nil {
		return outcomeError, err.Error()
	}
	if callResult, ok := result.(*mcp.CallToolResult); ok && callResult != nil && callResult.IsError {
		return outcomeToolError, errorText(callResult)
	}
	return outcomeOK, ""
}

// errorText extracts the message from a failed CallToolResult.
func errorText(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	if text, ok := result.Content[0].(*mcp.TextContent); ok {
		return text.Text
	}
	return ""
}
