package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/nanobot/internal/hooks"
	"github.com/nextlevelbuilder/nanobot/internal/incident"
	"github.com/nextlevelbuilder/nanobot/internal/telemetry"
)

// maxOutputChars bounds tool output fed back to the LLM.
const maxOutputChars = 10000

// RuntimeContext is the delivery context attached to incident reports.
type RuntimeContext struct {
	Channel    string
	ChatID     string
	TraceID    string
	SessionKey string
}

// Executor wraps tool calls with argument coercion, repeat-failure
// interception, hook emission, result refinement, and incident
// reporting.
type Executor struct {
	registry  *Registry
	failed    *FailedCallCache
	hooks     *hooks.Registry
	incidents *incident.Manager
}

func NewExecutor(registry *Registry, failed *FailedCallCache, hookReg *hooks.Registry, incidents *incident.Manager) *Executor {
	if failed == nil {
		failed = NewFailedCallCache(0, 0)
	}
	return &Executor{
		registry:  registry,
		failed:    failed,
		hooks:     hookReg,
		incidents: incidents,
	}
}

// FailedCache exposes the repeat-failure cache for the turn engine's
// failed-tools bookkeeping.
func (e *Executor) FailedCache() *FailedCallCache { return e.failed }

// Execute runs one tool call end to end and never panics outward.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any, rc RuntimeContext) *Result {
	ctx, span := telemetry.StartSpan(ctx, "tool.execute",
		attribute.String("tool", name),
		attribute.String("trace_id", rc.TraceID),
	)
	defer span.End()

	tool, ok := e.registry.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("未知工具: %s", name))
	}

	args = CoerceArgs(tool.Parameters(), args)
	hash := CallHash(name, args)

	// Repeat-failure interception: an identical call that just failed is
	// blocked before it reaches the tool.
	if e.failed.Contains(hash) {
		e.report(incident.FailureEvent{
			Source:   "tool_executor",
			Category: "repeat_failure_intercepted",
			Summary:  fmt.Sprintf("repeated failed call to %s intercepted", name),
			Details:  map[string]any{"tool": name},
			Severity: incident.SeverityWarning,
		}, rc)
		output := fmt.Sprintf("Blocked: 您刚才已经尝试过完全相同的 %s 调用且失败了。请更换参数或改变思路后再试。", name)
		// One-shot reflection hint on the first interception of this hash.
		if e.failed.MarkHinted(hash) {
			output += "\n提示：请先反思上次失败的原因，再决定新的做法。"
		}
		return &Result{
			Success:  false,
			Output:   output,
			Severity: "warn",
		}
	}

	e.hooks.EmitTool(hooks.ToolBefore, hooks.ToolPayload{
		Tool: name, Params: args, CallHash: hash,
	})

	start := time.Now()
	result := e.run(ctx, tool, args)
	elapsed := time.Since(start)

	if result.Err != nil {
		e.hooks.EmitTool(hooks.ToolError, hooks.ToolPayload{
			Tool: name, Params: args, CallHash: hash, Err: result.Err,
		})
	}
	e.hooks.EmitTool(hooks.ToolAfter, hooks.ToolPayload{
		Tool: name, Params: args, CallHash: hash,
		Success: result.Success, Severity: result.Severity,
	})

	if !result.Success {
		e.refine(result)
		e.failed.Add(hash)

		e.report(incident.FailureEvent{
			Source:    "tool_executor",
			Category:  "tool_failure",
			Summary:   fmt.Sprintf("%s failed: %s", name, firstLine(result.Output)),
			Details:   map[string]any{"tool": name},
			Severity:  incident.SeverityError,
			Retryable: result.ShouldRetry,
		}, rc)

		slog.Warn("tool failed", "tool", name, "duration", elapsed, "severity", result.Severity)
	} else {
		e.failed.Remove(hash)
		slog.Debug("tool ok", "tool", name, "duration", elapsed)
	}

	if len(result.Output) > maxOutputChars {
		extra := len(result.Output) - maxOutputChars
		result.Output = result.Output[:maxOutputChars] + fmt.Sprintf("... (truncated, %d more chars)", extra)
	}

	return result
}

// run invokes the tool, converting panics into error results.
func (e *Executor) run(ctx context.Context, tool Tool, args map[string]any) (result *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			result = ErrorResult(fmt.Sprintf("工具内部错误: %v", rec)).
				WithError(fmt.Errorf("tool panic: %v", rec))
		}
	}()
	result = tool.Execute(ctx, args)
	if result == nil {
		result = ErrorResult("工具未返回结果")
	}
	return result
}

// refine appends actionable guidance when the failure output matches a
// known shape.
func (e *Executor) refine(r *Result) {
	if r.Remedy != "" {
		return
	}
	lower := strings.ToLower(r.Output)
	switch {
	case strings.Contains(lower, "no such file") || strings.Contains(lower, "not found") || strings.Contains(lower, "文件不存在"):
		r.Remedy = "请先用 list_dir 确认路径是否存在，再重试。"
	case strings.Contains(lower, "validation") || strings.Contains(lower, "invalid argument") || strings.Contains(lower, "schema"):
		r.Remedy = "参数未通过校验，请对照工具的参数说明修正后重试。"
	case strings.Contains(lower, "permission denied") || strings.Contains(lower, "权限"):
		r.Remedy = "权限不足，请换一个可写路径或提示用户授权。"
	case strings.Contains(lower, "exit status") || strings.Contains(lower, "exit code"):
		r.Remedy = "命令以非零状态退出，请检查命令输出中的错误信息。"
	}
}

func (e *Executor) report(event incident.FailureEvent, rc RuntimeContext) {
	if e.incidents == nil {
		return
	}
	if event.Details == nil {
		event.Details = map[string]any{}
	}
	event.Details["runtime_context"] = map[string]any{
		"channel":     rc.Channel,
		"chat_id":     rc.ChatID,
		"trace_id":    rc.TraceID,
		"session_key": rc.SessionKey,
	}
	e.incidents.Report(event)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
