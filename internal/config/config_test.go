package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Brain.UserTitle != "老板" || cfg.Brain.Timezone != "Asia/Shanghai" {
		t.Errorf("brain defaults = %+v", cfg.Brain)
	}
	if cfg.Agent.MaxTotalToolCalls != 30 || cfg.Agent.MaxIterations != 20 {
		t.Errorf("agent defaults = %+v", cfg.Agent)
	}
	if !cfg.Channels.CLI.Enabled {
		t.Error("cli channel should default to enabled")
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  // primary brain
  "providers": {
    "primary": {"name": "openai", "api_key": "sk-test", "api_base": "https://api.openai.com/v1", "model": "gpt-4o"},
  },
  "agent": {"max_iterations": 5},
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.Primary.Model != "gpt-4o" {
		t.Errorf("model = %q", cfg.Providers.Primary.Model)
	}
	if cfg.Agent.MaxIterations != 5 {
		t.Errorf("max_iterations = %d", cfg.Agent.MaxIterations)
	}
	// Untouched sections keep defaults.
	if cfg.Agent.MaxTotalToolCalls != 30 {
		t.Errorf("max_total_tool_calls = %d", cfg.Agent.MaxTotalToolCalls)
	}
}

func TestEnvOverrides(t *testing.T) {
	raw := map[string]any{
		"brain": map[string]any{"user_title": "file-value"},
	}
	environ := []string{
		"NANOBOT_BRAIN__USER_TITLE=老板娘",
		"NANOBOT_AGENT__MAX_ITERATIONS=7",
		"NANOBOT_CHANNELS__TELEGRAM__ENABLED=true",
		"NANOBOT_HOME=/tmp/ignored",
		"NANOBOT_NOSEP=ignored",
		"OTHER_VAR=ignored",
	}
	applyEnvOverrides(raw, environ)

	brain := raw["brain"].(map[string]any)
	if brain["user_title"] != "老板娘" {
		t.Errorf("user_title = %v", brain["user_title"])
	}
	agent := raw["agent"].(map[string]any)
	if agent["max_iterations"] != float64(7) {
		t.Errorf("max_iterations = %v (%T)", agent["max_iterations"], agent["max_iterations"])
	}
	tg := raw["channels"].(map[string]any)["telegram"].(map[string]any)
	if tg["enabled"] != true {
		t.Errorf("enabled = %v", tg["enabled"])
	}
	if _, ok := raw["home"]; ok {
		t.Error("NANOBOT_HOME must not leak into the document")
	}
	if _, ok := raw["nosep"]; ok {
		t.Error("vars without __ must be ignored")
	}
}

func TestSetDottedPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := Set(path, "providers.primary.model", "gpt-4o-mini"); err != nil {
		t.Fatal(err)
	}
	if err := Set(path, "agent.max_turn_seconds", "300"); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.Primary.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.Providers.Primary.Model)
	}
	if cfg.Agent.MaxTurnSeconds != 300 {
		t.Errorf("max_turn_seconds = %d", cfg.Agent.MaxTurnSeconds)
	}

	if err := Set(path, "bad..path", "x"); err == nil {
		t.Error("empty path segment must be rejected")
	}
}

func TestMaskedJSON(t *testing.T) {
	cfg := Default()
	cfg.Providers.Primary.APIKey = "sk-secret"
	cfg.Channels.Telegram.Token = "tg-token"
	cfg.Providers.Primary.Model = "gpt-4o"

	out, err := MaskedJSON(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "sk-secret") || strings.Contains(out, "tg-token") {
		t.Error("secrets leaked into listing")
	}
	if !strings.Contains(out, "***") {
		t.Error("mask marker missing")
	}
	if !strings.Contains(out, "gpt-4o") {
		t.Error("non-sensitive values must remain visible")
	}
}

func TestCheckReportsProblems(t *testing.T) {
	cfg := Default()
	if errs := cfg.Check(); len(errs) != 0 {
		t.Errorf("default config should pass, got %v", errs)
	}

	cfg.Brain.Timezone = "Not/AZone"
	cfg.Channels.Telegram.Enabled = true
	cfg.Gateway.Port = 0
	errs := cfg.Check()
	if len(errs) != 3 {
		t.Errorf("got %d errors: %v", len(errs), errs)
	}
}

func TestHomeResolution(t *testing.T) {
	t.Setenv("NANOBOT_HOME", "/custom/data")
	if got := Home(); got != "/custom/data" {
		t.Errorf("Home() = %q", got)
	}

	t.Setenv("NANOBOT_HOME", "")
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(".nanobot", 0o755); err != nil {
		t.Fatal(err)
	}
	if got := Home(); filepath.Base(got) != ".nanobot" {
		t.Errorf("local Home() = %q", got)
	}
}
