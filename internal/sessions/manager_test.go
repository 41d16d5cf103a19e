package sessions

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSafeFilename(t *testing.T) {
	cases := map[string]string{
		"telegram:12345":   "telegram_12345",
		"discord:abc/def":  "discord_abc_def",
		"cli:direct":       "cli_direct",
		"a b\tc":           "a_b_c",
		"":                 "_",
		"..":               "_",
		"normal-name_1.2":  "normal-name_1.2",
		"微信:123":           "___123",
	}
	for in, want := range cases {
		if got := SafeFilename(in); got != want {
			t.Errorf("SafeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSaveThenReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	key := "telegram:42"
	m.GetOrCreate(key)
	m.AddMessage(key, Record{Role: "user", Content: "你好"})
	m.AddMessage(key, Record{Role: "assistant", Content: "老板好"})
	if err := m.Save(key); err != nil {
		t.Fatal(err)
	}

	m2 := NewManager(dir)
	hist := m2.History(key)
	if len(hist) != 2 {
		t.Fatalf("reloaded %d messages, want 2", len(hist))
	}
	if hist[0].Role != "user" || hist[0].Content != "你好" {
		t.Errorf("first message = %+v", hist[0])
	}
	if hist[1].Role != "assistant" || hist[1].Content != "老板好" {
		t.Errorf("second message = %+v", hist[1])
	}
}

func TestSaveWritesMetadataHeaderFirst(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	key := "cli:direct"
	m.GetOrCreate(key)
	m.AddMessage(key, Record{Role: "user", Content: "ping"})
	if err := m.Save(key); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, "cli_direct.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("empty session file")
	}
	var hdr map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &hdr); err != nil {
		t.Fatal(err)
	}
	if hdr["_type"] != "metadata" {
		t.Errorf("first line _type = %v, want metadata", hdr["_type"])
	}
	if hdr["key"] != key {
		t.Errorf("header key = %v, want %s", hdr["key"], key)
	}
}

func TestLoadTolerantOfBlankLinesAndMissingHeader(t *testing.T) {
	dir := t.TempDir()
	content := strings.Join([]string{
		`{"role":"user","content":"a","timestamp":"2026-01-02T03:04:05Z"}`,
		"",
		`{"role":"assistant","content":"b","timestamp":"2026-01-02T03:04:06Z"}`,
		"not json at all",
		"",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, "headerless.jsonl"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(dir)
	hist := m.History("headerless")
	if len(hist) != 2 {
		t.Fatalf("loaded %d messages, want 2", len(hist))
	}

	infos := m.List()
	if len(infos) != 1 {
		t.Fatalf("List returned %d sessions", len(infos))
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if !infos[0].Created.Equal(want) {
		t.Errorf("created = %v, want synthesized from first message %v", infos[0].Created, want)
	}
}

func TestRewindDropsDanglingToolMessages(t *testing.T) {
	m := NewManager("")
	key := "k"
	m.GetOrCreate(key)
	m.AddMessage(key, Record{Role: "user", Content: "q"})
	m.AddMessage(key, Record{Role: "assistant", Content: "calling"})
	m.AddMessage(key, Record{Role: "tool", Content: "out", ToolCallID: "call_1"})
	m.AddMessage(key, Record{Role: "assistant", Content: "done"})

	dropped := m.Rewind(key, 1)
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2 (final assistant plus dangling tool)", dropped)
	}
	hist := m.History(key)
	if len(hist) != 2 || hist[len(hist)-1].Role != "assistant" {
		t.Errorf("history after rewind = %+v", hist)
	}
}

func TestRotateArchivesAndClears(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	key := "telegram:7"
	m.GetOrCreate(key)
	m.AddMessage(key, Record{Role: "user", Content: "old topic"})
	if err := m.Rotate(key); err != nil {
		t.Fatal(err)
	}

	if got := m.History(key); len(got) != 0 {
		t.Errorf("history after rotate = %d messages, want 0", len(got))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	archived := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "telegram_7.") && e.Name() != "telegram_7.jsonl" {
			archived = true
		}
	}
	if !archived {
		t.Error("expected an archived telegram_7.<ts>.jsonl file")
	}

	// Archives must not be re-loaded as live sessions.
	m2 := NewManager(dir)
	for _, info := range m2.List() {
		if strings.Contains(info.Key, ".") && strings.HasPrefix(info.Key, "telegram_7") {
			t.Errorf("archive loaded as session: %s", info.Key)
		}
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	key := "discord:9"
	m.GetOrCreate(key)
	m.AddMessage(key, Record{Role: "user", Content: "x"})
	if err := m.Save(key); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(key); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "discord_9.jsonl")); !os.IsNotExist(err) {
		t.Error("session file should be gone")
	}
	if got := m.History(key); got != nil {
		t.Error("history should be nil after delete")
	}
}

func TestNewManagerUncreatableDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Parent path is a regular file, so the sessions dir cannot exist.
	m := NewManager(filepath.Join(blocker, "sessions"))
	m.AddMessage("telegram:1", Record{Role: "user", Content: "hi"})
	if err := m.Save("telegram:1"); err == nil {
		t.Error("save into uncreatable dir must fail")
	}
}
