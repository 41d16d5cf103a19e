// Package agent contains the turn engine, the user/system turn
// services, and the loop that wires the whole runtime together.
package agent

import (
	"regexp"
	"strings"
)

// SilentReplyToken suppresses the outbound message when the model
// decides no reply is needed.
const SilentReplyToken = "NO_REPLY"

var thinkTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

// unclosedThinkPattern catches a leaked opening tag with no close; the
// whole remainder is reasoning and gets dropped.
var unclosedThinkPattern = regexp.MustCompile(`(?is)<think(?:ing)?>.*$`)

// garbledToolXMLPattern matches tool-call XML some models emit as plain
// text instead of structured calls.
var garbledToolXMLPattern = regexp.MustCompile(
	`(?s)</?(?:function_calls?|invoke|tool_call|tool_use|parameter)[^>]*>`,
)

// StripReasoning removes <think>-style reasoning from assistant text,
// including an unclosed trailing tag.
func StripReasoning(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	for _, pat := range thinkTagPatterns {
		content = pat.ReplaceAllString(content, "")
	}
	content = unclosedThinkPattern.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// SanitizeAssistantContent cleans assistant text before persisting and
// sending: reasoning tags, garbled tool XML, duplicate paragraph
// blocks.
func SanitizeAssistantContent(content string) string {
	if content == "" {
		return content
	}
	content = StripReasoning(content)
	if garbledToolXMLPattern.MatchString(content) {
		content = strings.TrimSpace(garbledToolXMLPattern.ReplaceAllString(content, ""))
	}
	content = collapseDuplicateBlocks(content)
	return strings.TrimSpace(content)
}

func collapseDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}
	var out []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(out) > 0 && trimmed == strings.TrimSpace(out[len(out)-1]) {
			continue
		}
		out = append(out, block)
	}
	return strings.Join(out, "\n\n")
}

// IsSilentReply reports whether the text is the silent-reply token,
// alone or at either edge of the message.
func IsSilentReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if trimmed == SilentReplyToken {
		return true
	}
	if rest, ok := strings.CutPrefix(trimmed, SilentReplyToken); ok {
		if rest == "" || !isWordChar(rune(rest[0])) {
			return true
		}
	}
	if before, ok := strings.CutSuffix(trimmed, SilentReplyToken); ok {
		if before == "" || !isWordChar(rune(before[len(before)-1])) {
			return true
		}
	}
	return false
}

func isWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}
