package channels

import (
	"context"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/nanobot/internal/bus"
)

func TestAllowlist(t *testing.T) {
	b := bus.New()

	open := NewBaseChannel("test", b, nil, 0)
	if !open.IsAllowed("anyone") {
		t.Error("empty allowlist must admit everyone")
	}

	restricted := NewBaseChannel("test", b, []string{"123", "@boss"}, 0)
	cases := map[string]bool{
		"123":         true,
		"123|boss":    true,
		"456|boss":    true,
		"456":         false,
		"456|someone": false,
	}
	for sender, want := range cases {
		if got := restricted.IsAllowed(sender); got != want {
			t.Errorf("IsAllowed(%q) = %v, want %v", sender, got, want)
		}
	}
}

func TestHandleMessagePublishesInbound(t *testing.T) {
	b := bus.New()
	ch := NewBaseChannel("test", b, []string{"ok"}, 0)

	ch.HandleMessage("blocked", "chat", "hi", nil, nil)
	if b.InboundSize() != 0 {
		t.Error("disallowed sender must be dropped")
	}

	ch.HandleMessage("ok", "chat", "hi", nil, nil)
	msg, _ := b.ConsumeInbound(context.Background())
	if msg.Channel != "test" || msg.SenderID != "ok" || msg.Content != "hi" {
		t.Errorf("inbound = %+v", msg)
	}
	if msg.TraceID == "" {
		t.Error("bus must assign a trace id")
	}
}

func TestSplitMessage(t *testing.T) {
	if got := SplitMessage("short", 100); len(got) != 1 || got[0] != "short" {
		t.Errorf("short content split: %v", got)
	}

	long := strings.Repeat("line one\n", 50)
	parts := SplitMessage(long, 100)
	if len(parts) < 2 {
		t.Fatalf("expected multiple parts, got %d", len(parts))
	}
	for i, p := range parts {
		if len(p) > 100 {
			t.Errorf("part %d exceeds limit: %d bytes", i, len(p))
		}
	}
	joined := strings.Join(parts, "\n") + "\n"
	if strings.ReplaceAll(joined, "\n", "") != strings.ReplaceAll(long, "\n", "") {
		t.Error("content lost during split")
	}
}

type fakeChannel struct {
	*BaseChannel
	started, stopped bool
}

func (f *fakeChannel) Start(context.Context) error { f.started = true; f.SetRunning(true); return nil }
func (f *fakeChannel) Stop(context.Context) error  { f.stopped = true; f.SetRunning(false); return nil }
func (f *fakeChannel) Send(context.Context, bus.OutboundMessage) error {
	return nil
}

func TestManagerLifecycle(t *testing.T) {
	b := bus.New()
	m := NewManager(b)
	ch := &fakeChannel{BaseChannel: NewBaseChannel("fake", b, nil, 0)}
	m.Register(ch)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !ch.started {
		t.Error("channel not started")
	}
	if status := m.Status(); !status["fake"] {
		t.Errorf("status = %v", status)
	}
	if err := m.StopAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !ch.stopped {
		t.Error("channel not stopped")
	}
}
