package agent

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/nanobot/internal/bus"
	"github.com/nextlevelbuilder/nanobot/internal/cron"
	"github.com/nextlevelbuilder/nanobot/internal/scheduler"
	"github.com/nextlevelbuilder/nanobot/internal/sessions"
)

func newTestLoop(t *testing.T, cfg LoopConfig) (*Loop, *bus.MessageBus, chan bus.OutboundMessage) {
	t.Helper()
	b := bus.New()
	sess := sessions.NewManager(t.TempDir())
	loop := NewLoop(b, scheduler.New(), sess, nil, nil, nil, nil, cfg)

	out := make(chan bus.OutboundMessage, 8)
	b.Subscribe("telegram", func(_ context.Context, msg bus.OutboundMessage) error {
		out <- msg
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Dispatch(ctx)

	return loop, b, out
}

func waitOutbound(t *testing.T, out chan bus.OutboundMessage) bus.OutboundMessage {
	t.Helper()
	select {
	case msg := <-out:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound message")
		return bus.OutboundMessage{}
	}
}

func TestNewTopicCommandRotatesSession(t *testing.T) {
	loop, _, out := newTestLoop(t, LoopConfig{})
	loop.sessions.AddMessage("telegram:42", sessions.Record{Role: "user", Content: "旧话题"})
	loop.sessions.Save("telegram:42")

	msg := bus.InboundMessage{Channel: "telegram", ChatID: "42", Content: "新话题"}
	if !loop.handleCommand(msg) {
		t.Fatal("新话题 not intercepted")
	}
	reply := waitOutbound(t, out)
	if !strings.Contains(reply.Content, "新话题") {
		t.Errorf("reply = %q", reply.Content)
	}
	if got := loop.sessions.History("telegram:42"); len(got) != 0 {
		t.Errorf("history after rotate = %d records", len(got))
	}
}

func TestClearCommandDeletesSession(t *testing.T) {
	loop, _, out := newTestLoop(t, LoopConfig{})
	loop.sessions.AddMessage("telegram:42", sessions.Record{Role: "user", Content: "hi"})
	loop.sessions.Save("telegram:42")

	msg := bus.InboundMessage{Channel: "telegram", ChatID: "42", Content: " /clear "}
	if !loop.handleCommand(msg) {
		t.Fatal("/clear not intercepted")
	}
	if reply := waitOutbound(t, out); reply.Content != "会话已清空。" {
		t.Errorf("reply = %q", reply.Content)
	}

	if loop.handleCommand(bus.InboundMessage{Channel: "telegram", ChatID: "42", Content: "你好"}) {
		t.Error("ordinary message must not be intercepted")
	}
}

func TestInboundDedupe(t *testing.T) {
	loop, _, _ := newTestLoop(t, LoopConfig{})
	msg := bus.InboundMessage{Channel: "telegram", SenderID: "1", ChatID: "42", Content: "重复消息"}

	if loop.isDuplicate(msg) {
		t.Fatal("first delivery flagged as duplicate")
	}
	if !loop.isDuplicate(msg) {
		t.Error("immediate retry not flagged as duplicate")
	}

	other := msg
	other.Content = "另一条"
	if loop.isDuplicate(other) {
		t.Error("different content flagged as duplicate")
	}
}

func TestBusyNoticeDebounce(t *testing.T) {
	loop, _, out := newTestLoop(t, LoopConfig{BusyNoticeThreshold: 1, BusyNoticeDebounce: time.Hour})

	block := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.queue.Enqueue(ctx, scheduler.LaneMain, "blocker", func(context.Context) (any, error) {
		<-block
		return nil, nil
	})
	defer close(block)

	// Lane has one active task, at threshold.
	deadline := time.Now().Add(time.Second)
	for loop.queue.State(scheduler.LaneMain).Active == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	msg := bus.InboundMessage{Channel: "telegram", ChatID: "42", Content: "在吗"}
	loop.maybeSendBusyNotice(msg)
	if notice := waitOutbound(t, out); notice.Content != busyNotice {
		t.Errorf("notice = %q", notice.Content)
	}

	loop.maybeSendBusyNotice(msg)
	select {
	case extra := <-out:
		t.Errorf("debounce violated, got %q", extra.Content)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSystemTurnFailureApologizesToOrigin(t *testing.T) {
	loop, _, out := newTestLoop(t, LoopConfig{})
	msg := bus.InboundMessage{
		Channel: "system",
		ChatID:  "job-1",
		Content: "后台任务",
		Metadata: map[string]any{
			"origin": map[string]any{"channel": "telegram", "chat_id": "42"},
		},
	}

	// A nil service makes the turn panic; the recovery path must still
	// deliver the apology to the user-facing origin.
	loop.runTask(context.Background(), nil, msg)

	apology := waitOutbound(t, out)
	if apology.ChatID != "42" {
		t.Errorf("apology target = %s:%s", apology.Channel, apology.ChatID)
	}
	if !strings.Contains(apology.Content, "抱歉") {
		t.Errorf("apology content = %q", apology.Content)
	}
}

func TestApologyResolvesChatIDSplit(t *testing.T) {
	loop, _, out := newTestLoop(t, LoopConfig{})
	loop.apologize(bus.InboundMessage{Channel: "system", ChatID: "telegram:42"})

	apology := waitOutbound(t, out)
	if apology.Channel != "telegram" || apology.ChatID != "42" {
		t.Errorf("apology target = %s:%s", apology.Channel, apology.ChatID)
	}
}

func TestApologyKeepsUserOrigin(t *testing.T) {
	loop, _, out := newTestLoop(t, LoopConfig{})
	loop.apologize(bus.InboundMessage{Channel: "telegram", ChatID: "7"})

	apology := waitOutbound(t, out)
	if apology.Channel != "telegram" || apology.ChatID != "7" {
		t.Errorf("apology target = %s:%s", apology.Channel, apology.ChatID)
	}
}

func TestCronDeliverPayloadGoesStraightOut(t *testing.T) {
	loop, _, out := newTestLoop(t, LoopConfig{})
	loop.OnCronJob(cron.Job{
		ID: "j1",
		Payload: cron.Payload{
			Kind: "message", Message: "该喝水了", Deliver: true,
			Channel: "telegram", To: "42",
		},
	})
	msg := waitOutbound(t, out)
	if msg.ChatID != "42" || msg.Content != "该喝水了" {
		t.Errorf("outbound = %+v", msg)
	}
}

func TestCronUnknownTaskIsSkipped(t *testing.T) {
	loop, _, out := newTestLoop(t, LoopConfig{})
	tasks, err := cron.NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))
	if err != nil {
		t.Fatal(err)
	}
	loop.tasks = tasks

	loop.OnCronJob(cron.Job{
		ID:      "j2",
		Payload: cron.Payload{Kind: "task_run", TaskName: "missing"},
	})
	select {
	case msg := <-out:
		t.Errorf("unexpected outbound %+v", msg)
	case <-time.After(200 * time.Millisecond):
	}
}
