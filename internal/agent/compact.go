package agent

import (
	"context"
	"strings"
	"time"

	"github.com/nextlevelbuilder/nanobot/internal/prompt"
	"github.com/nextlevelbuilder/nanobot/internal/providers"
)

// summaryMarker tags the system message that replaces a compacted
// window; existing marker messages are deduplicated on re-compaction.
const summaryMarker = "Previous conversation summary:"

// keepRecent is the number of trailing messages kept verbatim.
const keepRecent = 10

const compactionPrompt = `请将以下对话压缩成一段简洁的总结，保留：已完成的任务、重要结论、用户偏好、未完成的事项。直接输出总结内容。`

// compactMessages shrinks the conversation when the context guard asks
// for it: system messages stay (minus stale summary markers), the last
// keepRecent messages stay verbatim, and the middle window is replaced
// by one summarized system message.
func (e *Engine) compactMessages(ctx context.Context, messages []providers.Message, model string) []providers.Message {
	report := prompt.Check(messages, model)
	if !report.ShouldCompact {
		return messages
	}

	var system []providers.Message
	var rest []providers.Message
	for _, m := range messages {
		if m.Role == "system" {
			if strings.Contains(m.Content, summaryMarker) {
				continue
			}
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	if len(rest) <= keepRecent {
		return messages
	}
	middle := rest[:len(rest)-keepRecent]
	recent := rest[len(rest)-keepRecent:]

	summary := e.summarizeWindow(ctx, middle)

	out := append([]providers.Message{}, system...)
	out = append(out, providers.Message{
		Role:    "system",
		Content: summaryMarker + " " + summary,
	})
	return append(out, recent...)
}

func (e *Engine) summarizeWindow(ctx context.Context, window []providers.Message) string {
	var sb strings.Builder
	for _, m := range window {
		content := m.Content
		if len(content) > 800 {
			content = content[:800] + "..."
		}
		sb.WriteString(m.Role + ": " + content + "\n")
	}

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	resp := e.router.Chat(callCtx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: compactionPrompt},
			{Role: "user", Content: sb.String()},
		},
	})
	if resp.FinishReason != "error" && strings.TrimSpace(resp.Content) != "" {
		return strings.TrimSpace(resp.Content)
	}

	// Degraded mode: keep the last user request as the "summary".
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Role == "user" {
			content := window[i].Content
			if len(content) > 200 {
				content = content[:200] + "..."
			}
			return "（压缩失败，保留最近请求）" + content
		}
	}
	return "（历史已压缩）"
}
