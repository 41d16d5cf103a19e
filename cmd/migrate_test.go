package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMigrateToolConfigs(t *testing.T) {
	home := t.TempDir()
	legacy := filepath.Join(home, "tools")
	if err := os.MkdirAll(legacy, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"tavily.json", "github.json", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(legacy, name), []byte("{}"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	moved, err := migrateToolConfigs(home, true)
	if err != nil {
		t.Fatal(err)
	}
	if moved != 2 {
		t.Errorf("dry-run moved = %d, want 2", moved)
	}
	if _, err := os.Stat(filepath.Join(home, "tool_configs")); !os.IsNotExist(err) {
		t.Error("dry run must not create the target dir")
	}

	moved, err = migrateToolConfigs(home, false)
	if err != nil {
		t.Fatal(err)
	}
	if moved != 2 {
		t.Errorf("moved = %d, want 2", moved)
	}
	for _, name := range []string{"tavily.json", "github.json"} {
		if _, err := os.Stat(filepath.Join(home, "tool_configs", name)); err != nil {
			t.Errorf("%s not migrated: %v", name, err)
		}
		if _, err := os.Stat(filepath.Join(legacy, name)); !os.IsNotExist(err) {
			t.Errorf("%s still in legacy dir", name)
		}
	}
	// Non-JSON files stay put.
	if _, err := os.Stat(filepath.Join(legacy, "notes.txt")); err != nil {
		t.Error("notes.txt should remain")
	}

	// Second run is a no-op.
	if moved, _ := migrateToolConfigs(home, false); moved != 0 {
		t.Errorf("re-run moved = %d, want 0", moved)
	}
}

func TestTailLines(t *testing.T) {
	content := "a\nb\nc\nd\n"
	if got := tailLines(content, 2); len(got) != 2 || got[0] != "c" || got[1] != "d" {
		t.Errorf("tailLines = %v", got)
	}
	if got := tailLines(content, 10); len(got) != 4 {
		t.Errorf("tailLines over = %v", got)
	}
	if got := tailLines("", 5); got != nil {
		t.Errorf("empty content = %v", got)
	}
}
