package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/nanobot/internal/audit"
	"github.com/nextlevelbuilder/nanobot/internal/bus"
	"github.com/nextlevelbuilder/nanobot/internal/hooks"
	"github.com/nextlevelbuilder/nanobot/internal/incident"
	"github.com/nextlevelbuilder/nanobot/internal/prompt"
	"github.com/nextlevelbuilder/nanobot/internal/providers"
	"github.com/nextlevelbuilder/nanobot/internal/sessions"
	"github.com/nextlevelbuilder/nanobot/internal/tools"
)

func newTestService(t *testing.T, p providers.Provider, system bool) (*TurnService, *sessions.Manager) {
	t.Helper()
	registry := tools.NewRegistry()
	router := providers.NewRouter(p, "test-model", providers.NewRegistry(), nil)
	executor := tools.NewExecutor(registry, nil, hooks.NewRegistry(), incident.NewManager(""))
	engine := NewEngine(router, registry, executor, nil, hooks.NewRegistry(), audit.NewLogger(""), EngineConfig{})
	sess := sessions.NewManager(t.TempDir())
	builder := prompt.NewBuilder(t.TempDir(), nil, nil)
	t.Cleanup(builder.Close)

	if system {
		return NewSystemTurnService(engine, sess, builder, registry, "老板"), sess
	}
	return NewUserTurnService(engine, sess, builder, registry, "老板", true), sess
}

func TestUserTurnPersistsAndReplies(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "收到测试1", FinishReason: "stop"},
	}}
	svc, sess := newTestService(t, p, false)

	out, err := svc.Process(context.Background(), bus.InboundMessage{
		Channel: "cli", ChatID: "direct", Content: "测试1：你好，请回复'收到测试1'", TraceID: "t1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out == nil || !strings.Contains(out.Content, "收到测试1") {
		t.Fatalf("outbound = %+v", out)
	}
	if out.Channel != "cli" || out.ChatID != "direct" {
		t.Errorf("delivery target = %s:%s", out.Channel, out.ChatID)
	}

	hist := sess.History("cli:direct")
	if len(hist) != 2 || hist[0].Role != "user" || hist[1].Role != "assistant" {
		t.Errorf("history = %+v", hist)
	}
}

func TestSilentReplySuppressed(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "NO_REPLY", FinishReason: "stop"},
	}}
	svc, sess := newTestService(t, p, false)

	out, err := svc.Process(context.Background(), bus.InboundMessage{
		Channel: "telegram", ChatID: "42", Content: "晚安", TraceID: "t2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Errorf("silent reply must suppress the outbound, got %+v", out)
	}

	hist := sess.History("telegram:42")
	if len(hist) != 1 || hist[0].Role != "user" {
		t.Errorf("only the user message should persist, history = %+v", hist)
	}
}

func TestSystemTurnOriginFromMetadata(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "任务结果已汇总", FinishReason: "stop"},
	}}
	svc, _ := newTestService(t, p, true)

	out, err := svc.Process(context.Background(), bus.InboundMessage{
		Channel: "system", SenderID: "cron", ChatID: "job-1", Content: "定时任务完成",
		Metadata: map[string]any{"origin": map[string]any{"channel": "telegram", "chat_id": "42"}},
		TraceID:  "t3",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Channel != "telegram" || out.ChatID != "42" {
		t.Errorf("origin = %s:%s, want telegram:42", out.Channel, out.ChatID)
	}

	// The system sender tag must have reached the model.
	var sawTag bool
	for _, m := range p.requests[0].Messages {
		if m.Role == "user" && strings.Contains(m.Content, "[来自 cron 的系统消息]") {
			sawTag = true
		}
	}
	if !sawTag {
		t.Error("sender tag missing from system turn input")
	}
}

func TestSystemTurnOriginFromChatIDSplit(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "好的", FinishReason: "stop"},
	}}
	svc, _ := newTestService(t, p, true)

	out, err := svc.Process(context.Background(), bus.InboundMessage{
		Channel: "system", ChatID: "discord:777", Content: "子任务完成", TraceID: "t4",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Channel != "discord" || out.ChatID != "777" {
		t.Errorf("origin = %s:%s, want discord:777", out.Channel, out.ChatID)
	}

	out, err = svc.Process(context.Background(), bus.InboundMessage{
		Channel: "system", ChatID: "plain", Content: "完成", TraceID: "t5",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Channel != "cli" || out.ChatID != "plain" {
		t.Errorf("fallback origin = %s:%s, want cli:plain", out.Channel, out.ChatID)
	}
}

func TestUserTurnStripsThinkTags(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "<think>内心戏</think>这是答案", FinishReason: "stop"},
	}}
	svc, _ := newTestService(t, p, false)

	out, err := svc.Process(context.Background(), bus.InboundMessage{
		Channel: "cli", ChatID: "direct", Content: "问题", TraceID: "t6",
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.Content, "内心戏") || strings.Contains(out.Content, "<think>") {
		t.Errorf("reasoning leaked: %q", out.Content)
	}
}
