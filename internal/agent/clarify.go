package agent

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/nanobot/internal/providers"
)

// Context-sensitive domains where a silently guessed location or
// timezone produces confidently wrong answers.
var sensitiveDomainKeywords = []string{
	"天气", "weather", "气温", "下雨",
	"旅行", "旅游", "travel", "行程", "机票", "酒店",
	"附近", "nearby", "周边",
}

// inferenceGrants are phrases by which the user allows the model to
// pick defaults.
var inferenceGrants = []string{"默认", "随便", "你决定", "都行", "无所谓"}

// guardedArgLabels maps argument keys the guard inspects to the label
// used in the confirmation question.
var guardedArgLabels = map[string]string{
	"location": "地点",
	"city":     "城市",
	"timezone": "时区",
}

// clarificationGuard short-circuits a tool round when the model
// invented a location-like value the user never mentioned in a
// context-sensitive request. Returns the confirmation question and true
// when the round must stop.
func clarificationGuard(messages []providers.Message, calls []providers.ToolCall) (string, bool) {
	lastUser := lastUserContent(messages)
	if lastUser == "" || !isSensitiveDomain(lastUser) {
		return "", false
	}
	for _, grant := range inferenceGrants {
		if strings.Contains(lastUser, grant) {
			return "", false
		}
	}

	userText := strings.ToLower(allUserContent(messages))
	for _, tc := range calls {
		for key, label := range guardedArgLabels {
			raw, ok := tc.Arguments[key]
			if !ok {
				continue
			}
			value, ok := raw.(string)
			if !ok || strings.TrimSpace(value) == "" {
				continue
			}
			if strings.Contains(userText, strings.ToLower(value)) {
				continue
			}
			return fmt.Sprintf("在继续之前需要你确认：本次%s是'%s'吗？如果不对，请直接告诉我正确的%s。", label, value, label), true
		}
	}
	return "", false
}

func isSensitiveDomain(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range sensitiveDomainKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func allUserContent(messages []providers.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		if m.Role == "user" {
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
