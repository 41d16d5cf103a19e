package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/nanobot/internal/audit"
	"github.com/nextlevelbuilder/nanobot/internal/hooks"
	"github.com/nextlevelbuilder/nanobot/internal/providers"
	"github.com/nextlevelbuilder/nanobot/internal/telemetry"
	"github.com/nextlevelbuilder/nanobot/internal/tools"
)

// Turn engine defaults.
const (
	defaultMaxIterations     = 20
	defaultMaxTotalToolCalls = 30
	defaultMaxPerToolCalls   = 8
	defaultMaxTurnSeconds    = 600

	processingPlaceholder = "[正在处理中...]"

	loopBreakReply = "我注意到自己在重复相同的操作，已停止本轮处理。请换一种方式描述您的需求，或者告诉我应该怎么调整。"
)

// TurnFlags are the per-turn behavior switches.
type TurnFlags struct {
	ParseCallsFromText bool
	IncludeSeverity    bool
	ParallelToolExec   bool
	CompactAfterTools  bool
}

// ToolStats counts the turn's tool executions.
type ToolStats struct {
	Total     int
	Succeeded int
	Failed    int
}

// TurnOutcome is the finalized result of one turn.
type TurnOutcome struct {
	Content   string
	UsedTools []string
	Stats     ToolStats
	Messages  []providers.Message
}

// Engine drives one conversational turn to completion: model calls,
// tool execution, loop detection, budget enforcement, compaction, and
// forced-summary finalization.
type Engine struct {
	router   *providers.Router
	registry *tools.Registry
	executor *tools.Executor
	policy   *tools.Policy
	hooks    *hooks.Registry
	audit    *audit.Logger
	used     *UsedToolsCache

	maxIterations     int
	maxTotalToolCalls int
	maxPerToolCalls   int
	maxTurnDuration   time.Duration

	now func() time.Time
}

// EngineConfig carries the tunable limits; zero values select defaults.
type EngineConfig struct {
	MaxIterations     int
	MaxTotalToolCalls int
	MaxPerToolCalls   int
	MaxTurnSeconds    int
}

func NewEngine(router *providers.Router, registry *tools.Registry, executor *tools.Executor,
	policy *tools.Policy, hookReg *hooks.Registry, auditLog *audit.Logger, cfg EngineConfig) *Engine {

	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxTotalToolCalls <= 0 {
		cfg.MaxTotalToolCalls = defaultMaxTotalToolCalls
	}
	if cfg.MaxPerToolCalls <= 0 {
		cfg.MaxPerToolCalls = defaultMaxPerToolCalls
	}
	if cfg.MaxTurnSeconds <= 0 {
		cfg.MaxTurnSeconds = defaultMaxTurnSeconds
	}
	return &Engine{
		router:            router,
		registry:          registry,
		executor:          executor,
		policy:            policy,
		hooks:             hookReg,
		audit:             auditLog,
		used:              NewUsedToolsCache(),
		maxIterations:     cfg.MaxIterations,
		maxTotalToolCalls: cfg.MaxTotalToolCalls,
		maxPerToolCalls:   cfg.MaxPerToolCalls,
		maxTurnDuration:   time.Duration(cfg.MaxTurnSeconds) * time.Second,
		now:               time.Now,
	}
}

// UsedTools returns the ordered unique tools recorded for a trace.
func (e *Engine) UsedTools(traceID string) []string {
	return e.used.Get(traceID)
}

type turnState struct {
	iteration      int
	seenIDs        map[string]bool
	seenHashes     map[string]bool
	repeat         RepeatWindow
	totalToolCalls int
	toolCallCounts map[string]int
	failedTools    map[string]bool
	usedTools      []string
	usedSet        map[string]bool
	corrections    int
	stats          ToolStats
}

// Run executes one turn. messages must start with the assembled system
// prompt; the returned outcome carries the final text and the grown
// message list for persistence.
func (e *Engine) Run(ctx context.Context, messages []providers.Message, traceID string, flags TurnFlags, rc tools.RuntimeContext) TurnOutcome {
	ctx, span := telemetry.StartSpan(ctx, "agent.turn",
		attribute.String("trace_id", traceID),
		attribute.String("channel", rc.Channel),
	)
	defer span.End()

	deadline := e.now().Add(e.maxTurnDuration)
	st := &turnState{
		seenIDs:        make(map[string]bool),
		seenHashes:     make(map[string]bool),
		toolCallCounts: make(map[string]int),
		failedTools:    make(map[string]bool),
		usedSet:        make(map[string]bool),
	}

	var finalContent string
	sessionKey := rc.SessionKey

	for st.iteration < e.maxIterations && e.now().Before(deadline) {
		st.iteration++
		e.hooks.EmitTurn(hooks.TurnIterationStart, hooks.TurnPayload{
			TraceID: traceID, SessionKey: sessionKey, Iteration: st.iteration,
		})

		defs := e.registry.Definitions()
		if e.policy != nil {
			defs = e.policy.Filter(lastUserContent(messages), defs, st.failedTools)
		}

		remaining := time.Until(deadline)
		callCtx, cancel := context.WithTimeout(ctx, remaining)
		resp := e.router.Chat(callCtx, providers.ChatRequest{Messages: messages, Tools: defs})
		cancel()

		if resp.FinishReason == "error" {
			reason := "模型调用异常"
			if ctx.Err() != nil || !e.now().Before(deadline) {
				reason = "模型响应超时"
			}
			finalContent = e.forcedSummary(ctx, messages, reason)
			break
		}

		toolCalls := resp.ToolCalls
		if len(toolCalls) == 0 && flags.ParseCallsFromText {
			toolCalls = ParseToolCallsFromText(resp.Content, e.registry)
		}

		if len(toolCalls) == 0 {
			finalContent = resp.Content
			e.hooks.EmitTurn(hooks.TurnIterationEnd, hooks.TurnPayload{
				TraceID: traceID, SessionKey: sessionKey, Iteration: st.iteration, Status: "final_text",
			})
			break
		}

		if content, blocked := clarificationGuard(messages, toolCalls); blocked {
			finalContent = content
			break
		}

		if reason, exceeded := e.checkBudget(st, toolCalls); exceeded {
			finalContent = e.forcedSummary(ctx, messages, reason)
			break
		}

		ids, hashes := batchIdentity(toolCalls)
		if e.isStrictLoop(st, ids, hashes) {
			if st.corrections < 1 {
				st.corrections++
				messages = append(messages, providers.Message{
					Role:    "system",
					Content: "检测到你在重复完全相同的工具调用。请停下来反思：换一个工具、换参数，或者直接给出结论。",
				})
				st.seenIDs = make(map[string]bool)
				st.seenHashes = make(map[string]bool)
				continue
			}
			finalContent = loopBreakReply
			break
		}

		for _, id := range ids {
			st.seenIDs[id] = true
		}
		for _, h := range hashes {
			st.seenHashes[h] = true
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: toolCalls,
		})
		for _, tc := range toolCalls {
			if !st.usedSet[tc.Name] {
				st.usedSet[tc.Name] = true
				st.usedTools = append(st.usedTools, tc.Name)
			}
			st.toolCallCounts[tc.Name]++
		}
		st.totalToolCalls += len(toolCalls)

		toolMsgs := e.executeBatch(ctx, toolCalls, flags, rc, st)
		messages = append(messages, toolMsgs...)

		if flags.CompactAfterTools {
			messages = e.compactMessages(ctx, messages, e.router.PrimaryModel())
		}

		e.hooks.EmitTurn(hooks.TurnIterationEnd, hooks.TurnPayload{
			TraceID: traceID, SessionKey: sessionKey, Iteration: st.iteration, Status: "tool_round_completed",
		})
	}

	if finalContent == "" && (st.iteration >= e.maxIterations || !e.now().Before(deadline)) {
		finalContent = e.forcedSummary(ctx, messages, "达到本轮处理上限")
	}

	if strings.TrimSpace(finalContent) == "" || strings.TrimSpace(finalContent) == processingPlaceholder {
		finalContent = e.forcedSummary(ctx, messages, "模型未返回有效文本")
		if strings.TrimSpace(finalContent) == "" {
			finalContent = "我已完成处理。"
		}
	}

	e.used.Put(traceID, st.usedTools)
	e.audit.Log(audit.Event{Type: audit.TypeTurnEnd, TraceID: traceID})
	e.hooks.EmitTurn(hooks.TurnEnd, hooks.TurnPayload{
		TraceID: traceID, SessionKey: sessionKey, Iteration: st.iteration, Status: "done",
	})

	return TurnOutcome{
		Content:   finalContent,
		UsedTools: st.usedTools,
		Stats:     st.stats,
		Messages:  messages,
	}
}

func (e *Engine) checkBudget(st *turnState, batch []providers.ToolCall) (string, bool) {
	if st.totalToolCalls+len(batch) > e.maxTotalToolCalls {
		return fmt.Sprintf("工具调用总数即将超过上限 %d", e.maxTotalToolCalls), true
	}
	projected := make(map[string]int)
	for _, tc := range batch {
		projected[tc.Name]++
	}
	for name, n := range projected {
		if st.toolCallCounts[name]+n > e.maxPerToolCalls {
			return fmt.Sprintf("工具 %s 的调用次数即将超过上限 %d", name, e.maxPerToolCalls), true
		}
	}
	return "", false
}

func (e *Engine) isStrictLoop(st *turnState, ids, hashes []string) bool {
	repeats := st.repeat.Observe(hashes)
	if st.iteration <= 3 || repeats < 3 {
		return false
	}
	allIDsSeen := len(ids) > 0
	for _, id := range ids {
		if !st.seenIDs[id] {
			allIDsSeen = false
			break
		}
	}
	allHashesSeen := len(hashes) > 0
	for _, h := range hashes {
		if !st.seenHashes[h] {
			allHashesSeen = false
			break
		}
	}
	return allIDsSeen || allHashesSeen
}

// executeBatch runs the round's tool calls, in parallel when allowed,
// and returns the role:"tool" messages in call order.
func (e *Engine) executeBatch(ctx context.Context, calls []providers.ToolCall, flags TurnFlags, rc tools.RuntimeContext, st *turnState) []providers.Message {
	results := make([]*tools.Result, len(calls))

	runOne := func(i int) *tools.Result {
		tc := calls[i]
		e.audit.Log(audit.Event{Type: audit.TypeToolStart, Tool: tc.Name, ToolCallID: tc.ID, TraceID: rc.TraceID})
		start := e.now()
		res := e.executor.Execute(ctx, tc.Name, tc.Arguments, rc)
		status := "ok"
		if !res.Success {
			status = "error"
			if ctx.Err() == context.DeadlineExceeded {
				status = "timeout"
			}
		}
		e.audit.Log(audit.Event{
			Type: audit.TypeToolEnd, Tool: tc.Name, ToolCallID: tc.ID, TraceID: rc.TraceID,
			Status: status, DurationS: time.Since(start).Seconds(), ResultLen: len(res.Output),
			Detail: detailOnError(res),
		})
		return res
	}

	if flags.ParallelToolExec && len(calls) > 1 {
		var mu sync.Mutex
		var g errgroup.Group
		for i := range calls {
			i := i
			g.Go(func() error {
				res := runOne(i)
				mu.Lock()
				results[i] = res
				mu.Unlock()
				return nil
			})
		}
		g.Wait()
	} else {
		for i := range calls {
			results[i] = runOne(i)
		}
	}

	msgs := make([]providers.Message, len(calls))
	for i, tc := range calls {
		res := results[i]
		st.stats.Total++
		if res.Success {
			st.stats.Succeeded++
			delete(st.failedTools, tc.Name)
		} else {
			st.stats.Failed++
			st.failedTools[tc.Name] = true
		}
		msgs[i] = providers.Message{
			Role:       "tool",
			Content:    formatToolOutput(res, flags.IncludeSeverity),
			ToolCallID: tc.ID,
			Name:       tc.Name,
		}
	}
	return msgs
}

// formatToolOutput renders a tool result as the LLM-facing text.
func formatToolOutput(res *tools.Result, includeSeverity bool) string {
	var sb strings.Builder
	if includeSeverity && res.Severity != "" && !res.Success {
		fmt.Fprintf(&sb, "[severity:%s] ", res.Severity)
	}
	sb.WriteString(res.Output)
	if res.Remedy != "" {
		fmt.Fprintf(&sb, "\n[系统及工具建议: %s]", res.Remedy)
	}
	if res.ShouldRetry {
		sb.WriteString("\n（可以调整参数后重试）")
	}
	if res.RequiresUserConfirmation {
		sb.WriteString("\n（此操作需要先征得用户确认）")
	}
	return sb.String()
}

func detailOnError(res *tools.Result) string {
	if res.Success {
		return ""
	}
	line := res.Output
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if r := []rune(line); len(r) > 200 {
		line = string(r[:200])
	}
	return line
}

func batchIdentity(calls []providers.ToolCall) (ids, hashes []string) {
	for _, tc := range calls {
		ids = append(ids, tc.ID)
		hashes = append(hashes, tools.CallHash(tc.Name, tc.Arguments))
	}
	return ids, hashes
}

func lastUserContent(messages []providers.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
