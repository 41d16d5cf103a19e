package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/nanobot/internal/tools"
)

// claimMarkers are phrases that turn a tool mention into an execution
// claim worth auditing.
var claimMarkers = []string{"我用", "使用了", "调用了", "测试了", "刚才", "本次", "通过"}

// bannedAliasNouns are generic words mined descriptions must not
// contribute as aliases; they would match almost any sentence.
var bannedAliasNouns = map[string]bool{
	"工具": true, "功能": true, "内容": true, "信息": true, "结果": true,
	"文件": true, "数据": true, "系统": true, "用户": true, "消息": true,
	"可以": true, "支持": true, "执行": true, "获取": true, "进行": true,
}

// toolAliasOverrides hardcodes aliases for well-known tools whose
// descriptions mine poorly.
var toolAliasOverrides = map[string][]string{
	"tavily":     {"tavily", "联网搜索", "网络搜索", "搜索引擎"},
	"browser":    {"浏览器", "网页"},
	"exec":       {"命令行", "shell", "终端"},
	"read_file":  {"读取文件", "读文件"},
	"write_file": {"写入文件", "写文件"},
	"cron":       {"定时任务", "提醒"},
	"mcp":        {"mcp"},
}

// toolSourceLabels maps tools to the label used in the canonical
// "查询来源" header.
var toolSourceLabels = map[string]string{
	"tavily":  "联网搜索(tavily)",
	"browser": "网页浏览",
	"mcp":     "MCP 服务",
	"exec":    "本地命令",
}

var cjkPhrasePattern = regexp.MustCompile(`[\p{Han}]{2,6}`)

// AuditReport summarizes what the truthfulness audit changed.
type AuditReport struct {
	Content     string
	MarkedLines int
}

// AuditTruthfulness strikes through lines claiming usage of tools that
// the turn never executed, appending an audit note per marked line.
func AuditTruthfulness(content string, usedTools []string, registry *tools.Registry) AuditReport {
	used := make(map[string]bool, len(usedTools))
	for _, t := range usedTools {
		used[t] = true
	}

	aliases := map[string][]string{}
	for _, name := range registry.Names() {
		if used[name] {
			continue
		}
		aliases[name] = toolAliases(name, registry.Description(name))
	}
	if len(aliases) == 0 {
		return AuditReport{Content: content}
	}

	lines := strings.Split(content, "\n")
	marked := 0
	for i, line := range lines {
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "~~") {
			continue
		}
		if !hasClaimMarker(line) {
			continue
		}
		for name, as := range aliases {
			if lineMentions(line, as) {
				lines[i] = fmt.Sprintf("~~%s~~ [审计：记录中未见 %s 相关操作]", line, name)
				marked++
				break
			}
		}
	}

	return AuditReport{Content: strings.Join(lines, "\n"), MarkedLines: marked}
}

func hasClaimMarker(line string) bool {
	for _, m := range claimMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

func lineMentions(line string, aliases []string) bool {
	lower := strings.ToLower(line)
	for _, a := range aliases {
		if a != "" && strings.Contains(lower, strings.ToLower(a)) {
			return true
		}
	}
	return false
}

// toolAliases builds the alias list for one tool: its name, hardcoded
// overrides, and CJK phrases mined from its description minus banned
// generic nouns.
func toolAliases(name, description string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(a string) {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] || bannedAliasNouns[a] {
			return
		}
		seen[a] = true
		out = append(out, a)
	}

	add(name)
	for _, a := range toolAliasOverrides[name] {
		add(a)
	}
	for _, phrase := range cjkPhrasePattern.FindAllString(description, 6) {
		add(phrase)
	}
	return out
}

// --- Execution-truth enforcement (user turns only) ---

var sourceLinePattern = regexp.MustCompile(`(?m)^(查询来源|联网策略)[:：].*$\n?`)

// completionClaims are phrases that sound like finished work.
var completionClaims = []string{"已完成", "已经完成", "完成了", "已处理", "搞定", "已搞定", "已部署", "已修复"}

// EnforceExecutionTruth reconciles the reply text with what actually
// ran: model-written source lines are stripped, an all-failed turn gets
// a candid notice, mixed results get an execution-statistics note, and
// a canonical source header is re-derived from the real used tools.
func EnforceExecutionTruth(content string, usedTools []string, stats ToolStats) string {
	content = sourceLinePattern.ReplaceAllString(content, "")
	content = strings.TrimSpace(content)

	if stats.Total > 0 && stats.Succeeded == 0 {
		content = fmt.Sprintf("本次尝试调用了 %d 次工具，但均未成功执行，以下内容仅供参考：\n\n%s", stats.Total, content)
	} else if stats.Failed > 0 && hasCompletionClaim(content) {
		content += fmt.Sprintf("\n\n（执行统计：工具调用 %d 次，成功 %d 次，失败 %d 次）",
			stats.Total, stats.Succeeded, stats.Failed)
	}

	if header := sourceHeader(usedTools); header != "" {
		content = header + "\n" + content
	}
	return content
}

func hasCompletionClaim(content string) bool {
	for _, c := range completionClaims {
		if strings.Contains(content, c) {
			return true
		}
	}
	return false
}

func sourceHeader(usedTools []string) string {
	var labels []string
	seen := map[string]bool{}
	for _, t := range usedTools {
		label, ok := toolSourceLabels[t]
		if !ok || seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	if len(labels) == 0 {
		return ""
	}
	return "查询来源: " + strings.Join(labels, "、")
}
