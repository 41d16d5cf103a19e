// Package builtin ships the small in-tree tools the gateway registers
// out of the box: outbound messaging, memory search, and cron job
// management. Everything heavier is an external tool.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/nanobot/internal/bus"
	"github.com/nextlevelbuilder/nanobot/internal/cron"
	"github.com/nextlevelbuilder/nanobot/internal/memory"
	"github.com/nextlevelbuilder/nanobot/internal/tools"
)

// MessageTool sends a message to a chat channel. Without explicit
// channel/chat arguments it targets the current delivery context.
type MessageTool struct {
	bus *bus.MessageBus

	mu      sync.Mutex
	channel string
	chatID  string
	traceID string
}

func NewMessageTool(msgBus *bus.MessageBus) *MessageTool {
	return &MessageTool{bus: msgBus}
}

func (t *MessageTool) Name() string { return "message" }

func (t *MessageTool) Description() string {
	return "主动给用户发送一条消息。不填 channel/chat_id 时发到当前会话。"
}

func (t *MessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{"type": "string", "description": "消息内容"},
			"channel": map[string]any{"type": "string", "description": "目标通道，默认当前通道"},
			"chat_id": map[string]any{"type": "string", "description": "目标会话，默认当前会话"},
		},
		"required": []string{"content"},
	}
}

// SetDeliveryContext records where the current turn's replies land.
func (t *MessageTool) SetDeliveryContext(channel, chatID, _, traceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel, t.chatID, t.traceID = channel, chatID, traceID
}

func (t *MessageTool) Execute(_ context.Context, args map[string]any) *tools.Result {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return tools.ErrorResult("content 不能为空")
	}

	t.mu.Lock()
	channel, chatID, traceID := t.channel, t.chatID, t.traceID
	t.mu.Unlock()
	if v, ok := args["channel"].(string); ok && v != "" {
		channel = v
	}
	if v, ok := args["chat_id"].(string); ok && v != "" {
		chatID = v
	}
	if channel == "" {
		return tools.ErrorResult("没有可用的投递目标").
			WithRemedy("请显式指定 channel 和 chat_id。")
	}

	ok := t.bus.PublishOutbound(bus.OutboundMessage{
		Channel: channel, ChatID: chatID, Content: content, TraceID: traceID,
	}, 5*time.Second)
	if !ok {
		return tools.ErrorResult("消息队列已满，发送失败")
	}
	return tools.OkResult(fmt.Sprintf("已发送到 %s:%s", channel, chatID))
}

// MemorySearchTool queries the workspace memory store.
type MemorySearchTool struct {
	store *memory.Store
}

func NewMemorySearchTool(store *memory.Store) *MemorySearchTool {
	return &MemorySearchTool{store: store}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Description() string {
	return "在长期记忆和每日记录中检索相关内容。"
}

func (t *MemorySearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "检索关键词"},
			"limit": map[string]any{"type": "integer", "description": "返回条数，默认 5"},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) Execute(_ context.Context, args map[string]any) *tools.Result {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return tools.ErrorResult("query 不能为空")
	}
	limit := 5
	if v, ok := args["limit"].(int); ok && v > 0 {
		limit = v
	}

	hits := t.store.Search(query, limit)
	if len(hits) == 0 {
		return tools.OkResult("没有找到相关记忆。")
	}
	var b strings.Builder
	for i, hit := range hits {
		fmt.Fprintf(&b, "[%d] %s\n%s\n", i+1, hit.Name, strings.TrimSpace(hit.Content))
	}
	return tools.OkResult(b.String())
}

// CronTool manages scheduled jobs and the named tasks they can run.
type CronTool struct {
	svc   *cron.Service
	tasks *cron.TaskStore
}

func NewCronTool(svc *cron.Service, tasks *cron.TaskStore) *CronTool {
	return &CronTool{svc: svc, tasks: tasks}
}

func (t *CronTool) Name() string { return "cron" }

func (t *CronTool) Description() string {
	return "管理定时任务：add/list/remove/enable/disable；管理命名任务：task_put/task_list/task_remove。"
}

func (t *CronTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"add", "list", "remove", "enable", "disable", "task_put", "task_list", "task_remove"},
			},
			"name":    map[string]any{"type": "string", "description": "任务名称"},
			"id":      map[string]any{"type": "string", "description": "任务 id（remove/enable/disable）"},
			"kind":    map[string]any{"type": "string", "enum": []string{"every", "cron", "at"}},
			"every_ms": map[string]any{"type": "integer", "description": "间隔毫秒（kind=every）"},
			"expr":    map[string]any{"type": "string", "description": "5 段 cron 表达式（kind=cron）"},
			"at_ms":   map[string]any{"type": "integer", "description": "毫秒时间戳（kind=at）"},
			"message": map[string]any{"type": "string", "description": "到点后发送或处理的内容"},
			"task":    map[string]any{"type": "string", "description": "到点后执行的命名任务（代替 message）"},
			"prompt":  map[string]any{"type": "string", "description": "命名任务的指令内容（task_put）"},
			"deliver": map[string]any{"type": "boolean", "description": "true 直接投递给用户，false 交给助手处理"},
			"delete_after_run": map[string]any{"type": "boolean"},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) Execute(_ context.Context, args map[string]any) *tools.Result {
	action, _ := args["action"].(string)
	switch action {
	case "add":
		return t.add(args)
	case "list":
		return t.list()
	case "remove":
		id, _ := args["id"].(string)
		if id == "" {
			return tools.ErrorResult("remove 需要 id")
		}
		if err := t.svc.Remove(id); err != nil {
			return tools.ErrorResult(fmt.Sprintf("删除失败: %v", err))
		}
		return tools.OkResult("已删除任务 " + id)
	case "enable", "disable":
		id, _ := args["id"].(string)
		if id == "" {
			return tools.ErrorResult(action + " 需要 id")
		}
		if err := t.svc.SetEnabled(id, action == "enable"); err != nil {
			return tools.ErrorResult(fmt.Sprintf("更新失败: %v", err))
		}
		return tools.OkResult(fmt.Sprintf("任务 %s 已%s", id, map[bool]string{true: "启用", false: "停用"}[action == "enable"]))
	case "task_put":
		if t.tasks == nil {
			return tools.ErrorResult("命名任务存储不可用")
		}
		name, _ := args["name"].(string)
		prompt, _ := args["prompt"].(string)
		task, err := t.tasks.Put(name, prompt)
		if err != nil {
			return tools.ErrorResult(fmt.Sprintf("保存失败: %v", err))
		}
		return tools.OkResult("已保存命名任务 " + task.Name)
	case "task_list":
		if t.tasks == nil {
			return tools.ErrorResult("命名任务存储不可用")
		}
		tasks := t.tasks.List()
		if len(tasks) == 0 {
			return tools.OkResult("当前没有命名任务。")
		}
		var b strings.Builder
		for _, task := range tasks {
			fmt.Fprintf(&b, "- %s（已执行 %d 次）\n", task.Name, task.RunCount)
		}
		return tools.OkResult(b.String())
	case "task_remove":
		if t.tasks == nil {
			return tools.ErrorResult("命名任务存储不可用")
		}
		name, _ := args["name"].(string)
		if name == "" {
			return tools.ErrorResult("task_remove 需要 name")
		}
		if err := t.tasks.Delete(name); err != nil {
			return tools.ErrorResult(fmt.Sprintf("删除失败: %v", err))
		}
		return tools.OkResult("已删除命名任务 " + name)
	default:
		return tools.ErrorResult("未知 action: " + action).
			WithRemedy("action 必须是 add/list/remove/enable/disable/task_put/task_list/task_remove 之一。")
	}
}

func (t *CronTool) add(args map[string]any) *tools.Result {
	name, _ := args["name"].(string)
	kind, _ := args["kind"].(string)
	message, _ := args["message"].(string)
	if name == "" || kind == "" {
		return tools.ErrorResult("add 需要 name 和 kind")
	}

	schedule := cron.Schedule{Kind: kind}
	switch kind {
	case cron.KindEvery:
		schedule.EveryMS = intArg(args, "every_ms")
		if schedule.EveryMS <= 0 {
			return tools.ErrorResult("kind=every 需要正数 every_ms")
		}
	case cron.KindCron:
		schedule.Expr, _ = args["expr"].(string)
		if schedule.Expr == "" {
			return tools.ErrorResult("kind=cron 需要 expr")
		}
	case cron.KindAt:
		schedule.AtMS = intArg(args, "at_ms")
		if schedule.AtMS <= 0 {
			return tools.ErrorResult("kind=at 需要 at_ms")
		}
	default:
		return tools.ErrorResult("未知 kind: " + kind)
	}

	deliver, _ := args["deliver"].(bool)
	deleteAfterRun, _ := args["delete_after_run"].(bool)
	payload := cron.Payload{
		Kind:           "message",
		Message:        message,
		Deliver:        deliver,
		DeleteAfterRun: deleteAfterRun,
	}
	if taskName, _ := args["task"].(string); taskName != "" {
		if t.tasks == nil {
			return tools.ErrorResult("命名任务存储不可用")
		}
		if _, ok := t.tasks.Get(taskName); !ok {
			return tools.ErrorResult("命名任务不存在: " + taskName).
				WithRemedy("先用 task_put 创建该任务，或改用 message。")
		}
		payload.Kind = "task_run"
		payload.TaskName = taskName
		payload.Message = ""
	}
	job, err := t.svc.Add(name, schedule, payload)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("创建失败: %v", err))
	}
	return tools.OkResult(fmt.Sprintf("已创建任务 %s (id=%s)，下次执行 %s",
		job.Name, job.ID, time.UnixMilli(job.State.NextRunAtMS).Format("2006-01-02 15:04:05")))
}

func (t *CronTool) list() *tools.Result {
	jobs := t.svc.List()
	if len(jobs) == 0 {
		return tools.OkResult("当前没有定时任务。")
	}
	var b strings.Builder
	for _, job := range jobs {
		state := "启用"
		if !job.Enabled {
			state = "停用"
		}
		fmt.Fprintf(&b, "- %s (id=%s, %s) 下次执行 %s\n",
			job.Name, job.ID, state, time.UnixMilli(job.State.NextRunAtMS).Format("2006-01-02 15:04:05"))
	}
	return tools.OkResult(b.String())
}

func intArg(args map[string]any, key string) int64 {
	switch v := args[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}
