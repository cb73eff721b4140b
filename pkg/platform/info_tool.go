package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/medicaid-explorer/pkg/spending"
)

// InfoToolName is the name of the service description tool.
const InfoToolName = "service_info"

// Info describes the deployment to MCP clients.
type Info struct {
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	Description string      `json:"description,omitempty"`
	Toolkit     ToolkitInfo `json:"toolkit"`
	Tools       []string    `json:"tools"`
	Tables      []string    `json:"tables,omitempty"`
	Features    Features    `json:"features"`
}

// ToolkitInfo identifies the toolkit serving the tools.
type ToolkitInfo struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// Features describes enabled capabilities.
type Features struct {
	Chat         bool `json:"chat"`
	InMemory     bool `json:"in_memory"`
	AuditLogging bool `json:"audit_logging"`
}

type infoInput struct{}

// registerInfoTool registers the service_info tool with the MCP server.
func (p *Platform) registerInfoTool() {
	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        InfoToolName,
		Description: p.infoToolDescription(),
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ infoInput) (*mcp.CallToolResult, any, error) {
		return p.handleInfo(ctx, req)
	})
}

func (p *Platform) infoToolDescription() string {
	return fmt.Sprintf("Describes %s: which Medicaid spending tools are available and whether free-form questions are enabled. "+
		"Call this first to see what you can ask.", p.config.Server.Name)
}

// info builds the description returned by service_info.
func (p *Platform) info() Info {
	info := Info{
		Name:        p.config.Server.Name,
		Version:     p.config.Server.Version,
		Description: p.config.Server.Description,
		Toolkit:     ToolkitInfo{Kind: p.toolkit.Kind(), Name: p.toolkit.Name()},
		Tools:       p.toolkit.Tools(),
		Features: Features{
			Chat:         p.chat != nil,
			InMemory:     p.config.InMemory(),
			AuditLogging: p.config.Audit.Enabled,
		},
	}
	if p.chat != nil {
		info.Tables = spending.Tables
	}
	return info
}

func (p *Platform) handleInfo(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(p.info(), "", "  ")
	if err != nil {
		return &mcp.CallToolResult{ //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError, not as Go errors
			Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + err.Error()}},
			IsError: true,
		}, nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
