// Package skills manages reusable instruction bundles: each skill is a
// directory under the skills root containing a SKILL.md whose first
// heading names it and whose first paragraph describes it.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const skillFile = "SKILL.md"

// Entry is one line of the skills index.
type Entry struct {
	Name        string
	Description string
}

// Library reads skills from a directory tree.
type Library struct {
	root string
}

func NewLibrary(root string) *Library {
	return &Library{root: root}
}

// Index lists available skills with one-line descriptions, sorted by
// name. Content is not loaded here; the agent fetches it on demand.
func (l *Library) Index() []Entry {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil
	}
	var out []Entry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		desc := l.description(e.Name())
		if desc == "" {
			continue
		}
		out = append(out, Entry{Name: e.Name(), Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Content returns the full SKILL.md for a skill.
func (l *Library) Content(name string) (string, error) {
	if strings.ContainsAny(name, "/\\") || name == ".." {
		return "", fmt.Errorf("invalid skill name: %s", name)
	}
	data, err := os.ReadFile(filepath.Join(l.root, name, skillFile))
	if err != nil {
		return "", fmt.Errorf("skill %s: %w", name, err)
	}
	return string(data), nil
}

// Create scaffolds a new skill directory with a template SKILL.md.
// Fails if the skill already exists.
func (l *Library) Create(name string) (string, error) {
	if strings.ContainsAny(name, "/\\") || name == "" || name == ".." {
		return "", fmt.Errorf("invalid skill name: %q", name)
	}
	dir := filepath.Join(l.root, name)
	if _, err := os.Stat(filepath.Join(dir, skillFile)); err == nil {
		return "", fmt.Errorf("skill %s already exists", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	content := fmt.Sprintf("# %s\n\n一句话描述这个技能的用途。\n\n## 步骤\n\n1. ...\n", name)
	path := filepath.Join(dir, skillFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// description extracts the first non-heading paragraph line of SKILL.md.
func (l *Library) description(name string) string {
	content, err := l.Content(name)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line
	}
	return ""
}
