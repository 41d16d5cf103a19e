package agent

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/nanobot/internal/tools"
)

func registryWith(names ...string) *tools.Registry {
	reg := tools.NewRegistry()
	for _, n := range names {
		n := n
		reg.Register(&echoTool{name: n, fn: func(map[string]any) *tools.Result {
			return tools.OkResult("")
		}})
	}
	return reg
}

func TestAuditMarksUnusedToolClaim(t *testing.T) {
	reg := registryWith("tavily", "read_file")
	content := "我刚才通过联网搜索确认了最新汇率。\n今天天气不错。"

	report := AuditTruthfulness(content, nil, reg)
	if report.MarkedLines != 1 {
		t.Fatalf("marked %d lines, want 1", report.MarkedLines)
	}
	lines := strings.Split(report.Content, "\n")
	if !strings.HasPrefix(lines[0], "~~") || !strings.Contains(lines[0], "[审计：记录中未见 tavily 相关操作]") {
		t.Errorf("first line = %q", lines[0])
	}
	if strings.Contains(lines[1], "~~") {
		t.Error("innocent line must not be touched")
	}
}

func TestAuditSkipsUsedTools(t *testing.T) {
	reg := registryWith("tavily")
	content := "我刚才通过联网搜索确认了答案。"
	report := AuditTruthfulness(content, []string{"tavily"}, reg)
	if report.MarkedLines != 0 {
		t.Errorf("used tool claim must pass, got %q", report.Content)
	}
}

func TestAuditNeedsClaimMarker(t *testing.T) {
	reg := registryWith("tavily")
	// Mentions the tool but makes no execution claim.
	content := "你可以让我做联网搜索。"
	report := AuditTruthfulness(content, nil, reg)
	if report.MarkedLines != 0 {
		t.Errorf("mention without claim must pass, got %q", report.Content)
	}
}

func TestEnforceExecutionTruthAllFailed(t *testing.T) {
	content := "查询来源: 联网搜索\n任务已完成。"
	out := EnforceExecutionTruth(content, []string{"tavily"}, ToolStats{Total: 3, Succeeded: 0, Failed: 3})
	if !strings.Contains(out, "本次尝试调用了 3 次工具，但均未成功执行") {
		t.Errorf("candid notice missing: %q", out)
	}
	if strings.Count(out, "查询来源:") != 1 {
		t.Errorf("model source line must be replaced by the canonical one: %q", out)
	}
	if !strings.Contains(out, "查询来源: 联网搜索(tavily)") {
		t.Errorf("canonical header missing: %q", out)
	}
}

func TestEnforceExecutionTruthMixedResults(t *testing.T) {
	content := "部署已完成。"
	out := EnforceExecutionTruth(content, []string{"exec"}, ToolStats{Total: 4, Succeeded: 3, Failed: 1})
	if !strings.Contains(out, "执行统计：工具调用 4 次，成功 3 次，失败 1 次") {
		t.Errorf("statistics note missing: %q", out)
	}
}

func TestEnforceExecutionTruthCleanRun(t *testing.T) {
	out := EnforceExecutionTruth("都搞定了。", nil, ToolStats{Total: 2, Succeeded: 2})
	if strings.Contains(out, "执行统计") || strings.Contains(out, "查询来源") {
		t.Errorf("clean run needs no annotations: %q", out)
	}
}

func TestStripReasoningIncludingUnclosed(t *testing.T) {
	cases := map[string]string{
		"<think>secret</think>回复内容":  "回复内容",
		"回复内容<think>leaked to end":   "回复内容",
		"<thinking>a</thinking>好的":   "好的",
		"no tags at all":             "no tags at all",
	}
	for in, want := range cases {
		if got := StripReasoning(in); got != want {
			t.Errorf("StripReasoning(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsSilentReply(t *testing.T) {
	if !IsSilentReply("NO_REPLY") || !IsSilentReply("  NO_REPLY  ") {
		t.Error("bare token should be silent")
	}
	if !IsSilentReply("NO_REPLY - nothing to say") {
		t.Error("leading token should be silent")
	}
	if IsSilentReply("NO_REPLYABLE") {
		t.Error("token inside a word is not silent")
	}
	if IsSilentReply("正常回复") || IsSilentReply("") {
		t.Error("normal content is not silent")
	}
}

func TestParseToolCallsFromText(t *testing.T) {
	reg := registryWith("list_dir")

	calls := ParseToolCallsFromText("先看看\n```json\n{\"name\":\"list_dir\",\"arguments\":{\"path\":\".\"}}\n```", reg)
	if len(calls) != 1 || calls[0].Name != "list_dir" {
		t.Fatalf("calls = %+v", calls)
	}
	if !strings.HasPrefix(calls[0].ID, "call_") || len(calls[0].ID) != len("call_")+8 {
		t.Errorf("id = %q", calls[0].ID)
	}

	// Bare JSON object in prose.
	calls = ParseToolCallsFromText(`我要执行 {"name":"list_dir","arguments":{"path":"/tmp"}} 这个操作`, reg)
	if len(calls) != 1 || calls[0].Arguments["path"] != "/tmp" {
		t.Fatalf("bare JSON calls = %+v", calls)
	}

	// Unregistered tool and malformed arguments are rejected.
	if got := ParseToolCallsFromText(`{"name":"rm_rf","arguments":{}}`, reg); len(got) != 0 {
		t.Error("unregistered tool accepted")
	}
	if got := ParseToolCallsFromText(`{"name":"list_dir","arguments":"oops"}`, reg); len(got) != 0 {
		t.Error("non-object arguments accepted")
	}

	// Arrays of calls work.
	calls = ParseToolCallsFromText(`[{"name":"list_dir","arguments":{"path":"a"}},{"name":"list_dir","arguments":{"path":"b"}}]`, reg)
	if len(calls) != 2 {
		t.Fatalf("array calls = %+v", calls)
	}
}

func TestSanitizeCollapsesDuplicateBlocks(t *testing.T) {
	in := "结论如下。\n\n结论如下。\n\n其他内容。"
	out := SanitizeAssistantContent(in)
	if strings.Count(out, "结论如下。") != 1 {
		t.Errorf("duplicates not collapsed: %q", out)
	}
}
