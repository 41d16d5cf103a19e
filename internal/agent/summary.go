package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/nanobot/internal/providers"
)

// forcedSummaryTimeout bounds the single extra model call made when a
// turn must be finalized without more tool use.
const forcedSummaryTimeout = 12 * time.Second

const forcedSummaryInstruction = `由于 %s，本轮对话必须立即结束。不要再调用任何工具。请用简洁的中文总结：
1. 已完成的工作
2. 当前结论
3. 尚未解决的事项`

// forcedSummary asks the model for a closing summary with tools
// disabled; when that also fails it falls back to a deterministic
// summary built from accumulated tool messages.
func (e *Engine) forcedSummary(ctx context.Context, messages []providers.Message, reason string) string {
	summaryMessages := append(append([]providers.Message{}, messages...), providers.Message{
		Role:    "system",
		Content: fmt.Sprintf(forcedSummaryInstruction, reason),
	})

	callCtx, cancel := context.WithTimeout(ctx, forcedSummaryTimeout)
	defer cancel()
	resp := e.router.Chat(callCtx, providers.ChatRequest{Messages: summaryMessages})
	if resp.FinishReason != "error" && strings.TrimSpace(resp.Content) != "" {
		return resp.Content
	}
	return localSummary(messages, reason)
}

// localSummary synthesizes a closing message from the turn's tool
// results without any model call.
func localSummary(messages []providers.Message, reason string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "处理已中止（%s）。", reason)

	var toolLines []string
	for _, m := range messages {
		if m.Role != "tool" {
			continue
		}
		line := strings.TrimSpace(m.Content)
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		if r := []rune(line); len(r) > 120 {
			line = string(r[:120]) + "..."
		}
		name := m.Name
		if name == "" {
			name = "tool"
		}
		toolLines = append(toolLines, fmt.Sprintf("- %s: %s", name, line))
	}

	if len(toolLines) == 0 {
		sb.WriteString("本轮没有产生工具执行结果。")
		return sb.String()
	}

	sb.WriteString("\n本轮工具执行情况：\n")
	if len(toolLines) > 10 {
		toolLines = toolLines[len(toolLines)-10:]
	}
	sb.WriteString(strings.Join(toolLines, "\n"))
	return sb.String()
}
