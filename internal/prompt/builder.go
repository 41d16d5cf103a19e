// Package prompt assembles the system prompt from the identity block,
// workspace bootstrap files, memory, and skills, and guards the context
// window.
package prompt

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/nanobot/internal/memory"
	"github.com/nextlevelbuilder/nanobot/internal/skills"
)

// Bootstrap files loaded from the workspace root, in order.
const (
	AgentsFile = "AGENTS.md"
	UserFile   = "USER.md"
	ToolsFile  = "TOOLS.md"
)

var bootstrapFiles = []string{AgentsFile, UserFile, ToolsFile}

// memoryTeaserChars bounds the long-term memory excerpt injected when no
// retrieval query is available.
const memoryTeaserChars = 1500

// ServiceStatus marks one external service as configured or not in the
// identity block.
type ServiceStatus struct {
	Name       string
	Configured bool
}

// BuildInput carries the per-turn values substituted into the prompt.
type BuildInput struct {
	UserTitle   string
	ModelName   string
	MemoryQuery string
	// NativeReasoner suppresses the reasoning-format instruction for
	// models that expose their own thinking channel.
	NativeReasoner bool
	Services       []ServiceStatus
	ActiveSkills   []string
}

// Builder assembles system prompts. Bootstrap file contents are cached
// and invalidated by an fsnotify watcher on the workspace root.
type Builder struct {
	workspace string
	memory    *memory.Store
	skills    *skills.Library

	mu      sync.Mutex
	cache   map[string]string
	watcher *fsnotify.Watcher
}

// NewBuilder creates a builder over a workspace directory. memStore and
// skillLib may be nil.
func NewBuilder(workspace string, memStore *memory.Store, skillLib *skills.Library) *Builder {
	b := &Builder{
		workspace: workspace,
		memory:    memStore,
		skills:    skillLib,
		cache:     make(map[string]string),
	}
	b.startWatcher()
	return b
}

func (b *Builder) startWatcher() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("prompt: fsnotify unavailable, bootstrap cache disabled", "error", err)
		return
	}
	if err := w.Add(b.workspace); err != nil {
		slog.Warn("prompt: cannot watch workspace", "dir", b.workspace, "error", err)
		w.Close()
		return
	}
	b.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				name := filepath.Base(ev.Name)
				b.mu.Lock()
				delete(b.cache, name)
				b.mu.Unlock()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("prompt: watcher error", "error", err)
			}
		}
	}()
}

// Close stops the bootstrap watcher.
func (b *Builder) Close() {
	if b.watcher != nil {
		b.watcher.Close()
	}
}

// Build assembles the full system prompt.
func (b *Builder) Build(in BuildInput) string {
	var sections []string

	sections = append(sections, b.identityBlock(in))

	for _, name := range bootstrapFiles {
		if content := b.readBootstrap(name); content != "" {
			sections = append(sections, fmt.Sprintf("## %s\n\n%s", name, content))
		}
	}

	if profile := b.profileSummary(); profile != "" {
		sections = append(sections, profile)
	}

	if mem := b.memorySection(in.MemoryQuery); mem != "" {
		sections = append(sections, mem)
	}

	if active := b.activeSkillsSection(in.ActiveSkills); active != "" {
		sections = append(sections, active)
	}
	if index := b.skillIndexSection(); index != "" {
		sections = append(sections, index)
	}

	return strings.Join(sections, "\n\n")
}

func (b *Builder) identityBlock(in BuildInput) string {
	var sb strings.Builder
	title := in.UserTitle
	if title == "" {
		title = "老板"
	}
	fmt.Fprintf(&sb, "你是 %s 的私人助理 nanobot。\n", title)
	fmt.Fprintf(&sb, "当前时间: %s\n", time.Now().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "运行环境: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if in.ModelName != "" {
		fmt.Fprintf(&sb, "当前模型: %s\n", in.ModelName)
	}
	fmt.Fprintf(&sb, "工作目录: %s\n", b.workspace)

	if len(in.Services) > 0 {
		sb.WriteString("服务状态:")
		for _, svc := range in.Services {
			mark := "未配置"
			if svc.Configured {
				mark = "已配置"
			}
			fmt.Fprintf(&sb, " %s[%s]", svc.Name, mark)
		}
		sb.WriteString("\n")
	}

	if !in.NativeReasoner {
		sb.WriteString("思考时请使用 <think>...</think> 包裹推理过程，最终回复不要包含思考内容。\n")
	}
	return sb.String()
}

func (b *Builder) readBootstrap(name string) string {
	b.mu.Lock()
	if content, ok := b.cache[name]; ok {
		b.mu.Unlock()
		return content
	}
	b.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(b.workspace, name))
	content := ""
	if err == nil {
		content = strings.TrimSpace(string(data))
	}
	b.mu.Lock()
	b.cache[name] = content
	b.mu.Unlock()
	return content
}

// profileSummary condenses USER.md into a short profile line block.
func (b *Builder) profileSummary() string {
	content := b.readBootstrap(UserFile)
	if content == "" {
		return ""
	}
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			lines = append(lines, line)
		}
		if len(lines) >= 5 {
			break
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "## 用户画像\n\n" + strings.Join(lines, "\n")
}

func (b *Builder) memorySection(query string) string {
	if b.memory == nil {
		return ""
	}
	if query != "" {
		results := b.memory.Search(query, 3)
		if len(results) == 0 {
			return ""
		}
		var sb strings.Builder
		sb.WriteString("## 相关记忆\n")
		for _, r := range results {
			fmt.Fprintf(&sb, "\n### %s\n%s\n", r.Name, r.Content)
		}
		return sb.String()
	}

	teaser := b.memory.ReadLongTerm()
	if teaser == "" {
		return ""
	}
	if len(teaser) > memoryTeaserChars {
		teaser = teaser[:memoryTeaserChars] + "..."
	}
	return "## 长期记忆\n\n" + teaser
}

func (b *Builder) activeSkillsSection(active []string) string {
	if b.skills == nil || len(active) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## 已激活技能\n")
	for _, name := range active {
		content, err := b.skills.Content(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "\n### %s\n%s\n", name, content)
	}
	return sb.String()
}

func (b *Builder) skillIndexSection() string {
	if b.skills == nil {
		return ""
	}
	entries := b.skills.Index()
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## 可用技能（用 skill 工具按需加载）\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s: %s\n", e.Name, e.Description)
	}
	return sb.String()
}
