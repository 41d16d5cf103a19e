package prompt

import (
	"strings"

	"github.com/nextlevelbuilder/nanobot/internal/providers"
)

// compactThreshold is the utilization ratio past which compaction is
// recommended.
const compactThreshold = 0.85

// charsPerToken is the fallback estimate when no real tokenizer is
// available; 2.5 chars/token averages well over mixed CJK/ASCII text.
const charsPerToken = 2.5

// defaultContextLimit applies to models absent from the limit table.
const defaultContextLimit = 32768

// modelContextLimits maps known model name fragments to context sizes.
var modelContextLimits = map[string]int{
	"gpt-4o":        128000,
	"gpt-4.1":       1000000,
	"o3":            200000,
	"claude":        200000,
	"deepseek":      64000,
	"qwen":          131072,
	"kimi":          131072,
	"moonshot":      131072,
	"glm":           128000,
	"gemini":        1000000,
	"llama":         131072,
	"gpt-3.5-turbo": 16384,
}

// GuardReport describes context-window pressure for one message list.
type GuardReport struct {
	Usage         int     `json:"usage"`
	Limit         int     `json:"limit"`
	IsSafe        bool    `json:"is_safe"`
	ShouldCompact bool    `json:"should_compact"`
	Utilization   float64 `json:"utilization"`
}

// ContextLimit returns the context window for a model name.
func ContextLimit(model string) int {
	lower := strings.ToLower(model)
	best := 0
	bestLen := 0
	for fragment, limit := range modelContextLimits {
		if strings.Contains(lower, fragment) && len(fragment) > bestLen {
			best = limit
			bestLen = len(fragment)
		}
	}
	if best == 0 {
		return defaultContextLimit
	}
	return best
}

// EstimateTokens approximates the token count of a message list.
func EstimateTokens(messages []providers.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Role) + len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + 40
		}
	}
	return int(float64(chars) / charsPerToken)
}

// Check reports usage against the model's context limit.
func Check(messages []providers.Message, model string) GuardReport {
	usage := EstimateTokens(messages)
	limit := ContextLimit(model)
	util := float64(usage) / float64(limit)
	return GuardReport{
		Usage:         usage,
		Limit:         limit,
		IsSafe:        util < compactThreshold,
		ShouldCompact: util >= compactThreshold,
		Utilization:   util,
	}
}

// PruneOldMessages drops the oldest non-system messages until the list
// fits under the limit, keeping at least keepRecent recent messages.
func PruneOldMessages(messages []providers.Message, model string, keepRecent int) []providers.Message {
	if Check(messages, model).IsSafe {
		return messages
	}

	var system []providers.Message
	var rest []providers.Message
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	for len(rest) > keepRecent {
		candidate := append(append([]providers.Message{}, system...), rest[1:]...)
		rest = rest[1:]
		if Check(candidate, model).IsSafe {
			break
		}
	}
	return append(system, rest...)
}
