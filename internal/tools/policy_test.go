package tools

import (
	"testing"

	"github.com/nextlevelbuilder/nanobot/internal/providers"
)

func defsFor(names ...string) []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, len(names))
	for i, n := range names {
		defs[i] = providers.ToolDefinition{
			Type:     "function",
			Function: providers.ToolFunctionSchema{Name: n},
		}
	}
	return defs
}

func names(defs []providers.ToolDefinition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Function.Name
	}
	return out
}

func TestPolicyDefaultsToTavily(t *testing.T) {
	p := NewPolicy()
	got := p.Filter("北京今天天气如何", defsFor("tavily", "browser", "mcp", "read_file"), nil)
	want := map[string]bool{"tavily": true, "read_file": true}
	if len(got) != 2 {
		t.Fatalf("kept %v", names(got))
	}
	for _, d := range got {
		if !want[d.Function.Name] {
			t.Errorf("unexpected tool %s", d.Function.Name)
		}
	}
}

func TestPolicyBrowserOnInteractionIntent(t *testing.T) {
	p := NewPolicy()
	got := p.Filter("帮我登录这个网站然后截图", defsFor("tavily", "browser", "mcp"), nil)
	if len(got) != 1 || got[0].Function.Name != "browser" {
		t.Errorf("kept %v, want browser only", names(got))
	}
}

func TestPolicyMCPOnExplicitMention(t *testing.T) {
	p := NewPolicy()
	got := p.Filter("用 MCP 查一下", defsFor("tavily", "browser", "mcp"), nil)
	if len(got) != 1 || got[0].Function.Name != "mcp" {
		t.Errorf("kept %v, want mcp only", names(got))
	}
}

func TestPolicyMCPWhenBothCoreFailed(t *testing.T) {
	p := NewPolicy()
	failed := map[string]bool{"tavily": true, "browser": true}
	got := p.Filter("继续查", defsFor("tavily", "browser", "mcp"), failed)
	if len(got) != 1 || got[0].Function.Name != "mcp" {
		t.Errorf("kept %v, want mcp only", names(got))
	}
}

func TestPolicyNonWebToolsUntouched(t *testing.T) {
	p := NewPolicy()
	got := p.Filter("随便", defsFor("read_file", "exec", "cron"), nil)
	if len(got) != 3 {
		t.Errorf("non-web tools must pass through, kept %v", names(got))
	}
}
