package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/nanobot/internal/hooks"
	"github.com/nextlevelbuilder/nanobot/internal/incident"
)

type fakeTool struct {
	name   string
	params map[string]any
	fn     func(ctx context.Context, args map[string]any) *Result
}

func (t *fakeTool) Name() string               { return t.name }
func (t *fakeTool) Description() string        { return "fake tool for tests" }
func (t *fakeTool) Parameters() map[string]any { return t.params }
func (t *fakeTool) Execute(ctx context.Context, args map[string]any) *Result {
	return t.fn(ctx, args)
}

func newTestExecutor(t Tool) (*Executor, *incident.Manager) {
	reg := NewRegistry()
	reg.Register(t)
	inc := incident.NewManager("")
	return NewExecutor(reg, NewFailedCallCache(time.Minute, 10), hooks.NewRegistry(), inc), inc
}

func TestCallHashOrderIndependent(t *testing.T) {
	a := CallHash("read_file", map[string]any{"path": "x", "limit": 3})
	b := CallHash("read_file", map[string]any{"limit": 3, "path": "x"})
	if a != b {
		t.Error("argument order must not affect the hash")
	}
	c := CallHash("read_file", map[string]any{"path": "y", "limit": 3})
	if a == c {
		t.Error("different arguments must hash differently")
	}
	d := CallHash("write_file", map[string]any{"path": "x", "limit": 3})
	if a == d {
		t.Error("different tool names must hash differently")
	}
}

func TestCoerceArgs(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count":   map[string]any{"type": "integer"},
			"enabled": map[string]any{"type": "boolean"},
			"mode":    map[string]any{"type": "string", "enum": []any{"fast", "slow"}},
			"ratio":   map[string]any{"type": "number"},
		},
	}
	got := CoerceArgs(params, map[string]any{
		"count":   "3",
		"enabled": "true",
		"mode":    []any{"fast"},
		"ratio":   "0.5",
		"extra":   "untouched",
	})
	if got["count"] != 3 {
		t.Errorf("count = %v (%T)", got["count"], got["count"])
	}
	if got["enabled"] != true {
		t.Errorf("enabled = %v", got["enabled"])
	}
	if got["mode"] != "fast" {
		t.Errorf("mode = %v", got["mode"])
	}
	if got["ratio"] != 0.5 {
		t.Errorf("ratio = %v", got["ratio"])
	}
	if got["extra"] != "untouched" {
		t.Error("unknown fields must pass through")
	}
}

func TestRepeatFailureIntercepted(t *testing.T) {
	calls := 0
	tool := &fakeTool{name: "read_file", params: map[string]any{}, fn: func(context.Context, map[string]any) *Result {
		calls++
		return ErrorResult("file not found: no_such_file_abc.txt")
	}}
	exec, _ := newTestExecutor(tool)
	args := map[string]any{"path": "no_such_file_abc.txt"}
	rc := RuntimeContext{Channel: "cli", ChatID: "direct"}

	first := exec.Execute(context.Background(), "read_file", args, rc)
	if first.Success {
		t.Fatal("first call should fail")
	}
	if first.Remedy == "" || !strings.Contains(first.Remedy, "list_dir") {
		t.Errorf("file-not-found failure should get a remedy, got %q", first.Remedy)
	}

	second := exec.Execute(context.Background(), "read_file", args, rc)
	if !strings.Contains(second.Output, "Blocked: 您刚才已经尝试过") {
		t.Errorf("second identical call should be blocked, got %q", second.Output)
	}
	if calls != 1 {
		t.Errorf("tool ran %d times, want 1", calls)
	}

	// Different arguments go through.
	third := exec.Execute(context.Background(), "read_file", map[string]any{"path": "other.txt"}, rc)
	if strings.Contains(third.Output, "Blocked") {
		t.Error("different arguments must not be intercepted")
	}
	if calls != 2 {
		t.Errorf("tool ran %d times, want 2", calls)
	}
}

func TestSuccessClearsFailedEntry(t *testing.T) {
	failNext := true
	tool := &fakeTool{name: "flaky", params: map[string]any{}, fn: func(context.Context, map[string]any) *Result {
		if failNext {
			return ErrorResult("boom")
		}
		return OkResult("ok")
	}}
	exec, _ := newTestExecutor(tool)
	args := map[string]any{"n": float64(1)}
	rc := RuntimeContext{}

	exec.Execute(context.Background(), "flaky", args, rc)
	if !exec.FailedCache().Contains(CallHash("flaky", args)) {
		t.Fatal("failure should be cached")
	}

	// TTL-expired or cleared entries allow a retry; simulate by removing.
	exec.FailedCache().Remove(CallHash("flaky", args))
	failNext = false
	res := exec.Execute(context.Background(), "flaky", args, rc)
	if !res.Success {
		t.Fatal("retry should succeed")
	}
	if exec.FailedCache().Contains(CallHash("flaky", args)) {
		t.Error("success should clear the failed entry")
	}
}

func TestPanicBecomesErrorResult(t *testing.T) {
	tool := &fakeTool{name: "bad", params: map[string]any{}, fn: func(context.Context, map[string]any) *Result {
		panic("tool bug")
	}}
	exec, _ := newTestExecutor(tool)
	res := exec.Execute(context.Background(), "bad", nil, RuntimeContext{})
	if res.Success {
		t.Fatal("panic must become a failure result")
	}
	if !strings.Contains(res.Output, "工具内部错误") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestLongOutputTruncated(t *testing.T) {
	tool := &fakeTool{name: "big", params: map[string]any{}, fn: func(context.Context, map[string]any) *Result {
		return OkResult(strings.Repeat("x", maxOutputChars+500))
	}}
	exec, _ := newTestExecutor(tool)
	res := exec.Execute(context.Background(), "big", nil, RuntimeContext{})
	if !strings.Contains(res.Output, "truncated, 500 more chars") {
		t.Errorf("expected truncation marker, tail = %q", res.Output[len(res.Output)-60:])
	}
}

func TestUnknownTool(t *testing.T) {
	exec, _ := newTestExecutor(&fakeTool{name: "known", params: map[string]any{}, fn: func(context.Context, map[string]any) *Result {
		return OkResult("")
	}})
	res := exec.Execute(context.Background(), "missing", nil, RuntimeContext{})
	if res.Success || !strings.Contains(res.Output, "未知工具") {
		t.Errorf("result = %+v", res)
	}
}

func TestFailedCacheTTLAndEviction(t *testing.T) {
	c := NewFailedCallCache(time.Minute, 3)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Add("h1")
	c.Add("h2")
	c.Add("h3")
	c.Add("h4") // evicts h1
	if c.Contains("h1") {
		t.Error("oldest entry should be evicted at capacity")
	}
	if !c.Contains("h4") || c.Len() != 3 {
		t.Errorf("len = %d", c.Len())
	}

	clock = clock.Add(2 * time.Minute)
	if c.Contains("h4") || c.Len() != 0 {
		t.Error("entries should expire after the TTL")
	}
}
