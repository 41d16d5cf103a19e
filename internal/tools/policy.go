package tools

import (
	"strings"

	"github.com/nextlevelbuilder/nanobot/internal/providers"
)

// webTools are the overlapping web-access tools; the policy exposes
// exactly one per LLM call.
var webTools = map[string]bool{
	"tavily":  true,
	"browser": true,
	"mcp":     true,
}

// browserIntents are phrases implying page rendering or interaction,
// which the plain search API cannot serve.
var browserIntents = []string{
	"登录", "点击", "截图", "渲染", "打开网页", "浏览器",
	"login", "click", "screenshot", "render",
}

var mcpIntents = []string{"mcp"}

// Policy trims overlapping tool definitions before each LLM call.
type Policy struct{}

func NewPolicy() *Policy { return &Policy{} }

// Filter keeps exactly one preferred web tool based on the last user
// message and this turn's failures; non-web tools pass through.
func (p *Policy) Filter(lastUserMessage string, defs []providers.ToolDefinition, failedTools map[string]bool) []providers.ToolDefinition {
	preferred := p.preferredWebTool(lastUserMessage, failedTools)

	out := make([]providers.ToolDefinition, 0, len(defs))
	for _, def := range defs {
		name := def.Function.Name
		if webTools[name] && name != preferred {
			continue
		}
		out = append(out, def)
	}
	return out
}

func (p *Policy) preferredWebTool(lastUserMessage string, failedTools map[string]bool) string {
	lower := strings.ToLower(lastUserMessage)

	for _, kw := range mcpIntents {
		if strings.Contains(lower, kw) {
			return "mcp"
		}
	}
	// Both core web tools failed this turn: fall back to mcp.
	if failedTools["tavily"] && failedTools["browser"] {
		return "mcp"
	}
	for _, kw := range browserIntents {
		if strings.Contains(lower, kw) {
			return "browser"
		}
	}
	return "tavily"
}
