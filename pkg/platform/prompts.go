package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/medicaid-explorer/pkg/toolkit"
)

// PromptConfig is an operator-defined MCP prompt.
type PromptConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Content     string `yaml:"content"`
}

// ReviewPromptName is the built-in provider review prompt.
const ReviewPromptName = "review_provider"

// registerPrompts registers the built-in prompt and those from config.
func (p *Platform) registerPrompts() {
	p.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        ReviewPromptName,
		Description: "Walk through one billing provider's spending and flag anything unusual.",
		Arguments: []*mcp.PromptArgument{{
			Name:        "npi",
			Description: "Billing provider NPI",
			Required:    true,
		}},
	}, handleReviewPrompt)

	for _, promptCfg := range p.config.Server.Prompts {
		p.registerPrompt(promptCfg)
	}
}

func handleReviewPrompt(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	npi := req.Params.Arguments["npi"]
	if npi == "" {
		return nil, errors.New("argument npi is required")
	}
	text := fmt.Sprintf("Review Medicaid billing provider %s. Call %s with npi %s, then summarize total paid, "+
		"the monthly trend and the top procedure codes. For every anomaly, compare the provider with the "+
		"population average for that code and say whether the gap looks like a billing pattern worth a closer look. "+
		"Finish with %s for the codes involved if you need more context.",
		npi, toolkit.ToolProviderDetail, npi, toolkit.ToolCodeDetail)

	return &mcp.GetPromptResult{
		Description: "Provider spending review",
		Messages: []*mcp.PromptMessage{{
			Role:    "user",
			Content: &mcp.TextContent{Text: text},
		}},
	}, nil
}

// registerPrompt registers a single prompt with the MCP server.
func (p *Platform) registerPrompt(cfg PromptConfig) {
	promptContent := cfg.Content

	p.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        cfg.Name,
		Description: cfg.Description,
	}, func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Messages: []*mcp.PromptMessage{{
				Role:    "user",
				Content: &mcp.TextContent{Text: promptContent},
			}},
		}, nil
	})
}
