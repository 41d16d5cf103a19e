// Package config loads the gateway configuration from
// <data>/config.json (JSON5) with NANOBOT_* environment overrides.
package config

import (
	"os"
	"path/filepath"
)

// Config is the root configuration document.
type Config struct {
	Brain     BrainConfig     `json:"brain"`
	Providers ProvidersConfig `json:"providers"`
	Channels  ChannelsConfig  `json:"channels"`
	Agent     AgentConfig     `json:"agent"`
	Incident  IncidentConfig  `json:"incident"`
	Gateway   GatewayConfig   `json:"gateway"`
}

// BrainConfig covers identity and locale.
type BrainConfig struct {
	UserTitle string `json:"user_title"`
	Timezone  string `json:"timezone"`
	Workspace string `json:"workspace"`
}

// ProviderConfig describes one OpenAI-compatible endpoint.
type ProviderConfig struct {
	Name    string   `json:"name"`
	APIKey  string   `json:"api_key"`
	APIBase string   `json:"api_base"`
	Model   string   `json:"model"`
	Models  []string `json:"models,omitempty"`
}

// ProvidersConfig holds the primary brain and its fallbacks, tried in
// order when the primary fails.
type ProvidersConfig struct {
	Primary   ProviderConfig   `json:"primary"`
	Fallbacks []ProviderConfig `json:"fallbacks,omitempty"`
}

// TransportConfig is the shared shape of a chat transport binding.
type TransportConfig struct {
	Enabled        bool     `json:"enabled"`
	Token          string   `json:"token"`
	AllowFrom      []string `json:"allow_from,omitempty"`
	SendsPerMinute int      `json:"sends_per_minute"`
}

// ChannelsConfig enables and configures the transport bindings.
type ChannelsConfig struct {
	Telegram TransportConfig `json:"telegram"`
	Discord  TransportConfig `json:"discord"`
	CLI      struct {
		Enabled bool `json:"enabled"`
	} `json:"cli"`
}

// AgentConfig carries the turn engine and loop tunables.
type AgentConfig struct {
	MaxIterations             int  `json:"max_iterations"`
	MaxTotalToolCalls         int  `json:"max_total_tool_calls"`
	MaxPerToolCalls           int  `json:"max_per_tool_calls"`
	MaxTurnSeconds            int  `json:"max_turn_seconds"`
	ParallelToolExec          bool `json:"parallel_tool_exec"`
	BusyNoticeThreshold       int  `json:"busy_notice_threshold"`
	BusyNoticeDebounceSeconds int  `json:"busy_notice_debounce_seconds"`
	HeartbeatMinutes          int  `json:"heartbeat_minutes"`
}

// IncidentConfig names the fallback delivery target for critical
// failures whose origin is unknown.
type IncidentConfig struct {
	FallbackChannel string `json:"fallback_channel"`
	FallbackChatID  string `json:"fallback_chat_id"`
}

// GatewayConfig covers the process-level settings.
type GatewayConfig struct {
	Port    int  `json:"port"`
	Verbose bool `json:"verbose"`
}

// Default returns a Config with the shipped defaults.
func Default() *Config {
	cfg := &Config{
		Brain: BrainConfig{
			UserTitle: "老板",
			Timezone:  "Asia/Shanghai",
			Workspace: "~/.nanobot/workspace",
		},
		Agent: AgentConfig{
			MaxIterations:             20,
			MaxTotalToolCalls:         30,
			MaxPerToolCalls:           8,
			MaxTurnSeconds:            600,
			ParallelToolExec:          true,
			BusyNoticeThreshold:       2,
			BusyNoticeDebounceSeconds: 60,
			HeartbeatMinutes:          30,
		},
		Channels: ChannelsConfig{
			Telegram: TransportConfig{SendsPerMinute: 30},
			Discord:  TransportConfig{SendsPerMinute: 30},
		},
		Gateway: GatewayConfig{Port: 18790},
	}
	cfg.Channels.CLI.Enabled = true
	return cfg
}

// Home resolves the data directory: NANOBOT_HOME when set, a local
// ./.nanobot when present, else ~/.nanobot.
func Home() string {
	if v := os.Getenv("NANOBOT_HOME"); v != "" {
		return ExpandHome(v)
	}
	if info, err := os.Stat(".nanobot"); err == nil && info.IsDir() {
		abs, err := filepath.Abs(".nanobot")
		if err == nil {
			return abs
		}
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".nanobot")
}

// Path joins elem under the data directory.
func Path(elem ...string) string {
	return filepath.Join(append([]string{Home()}, elem...)...)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// WorkspacePath returns the expanded workspace directory.
func (c *Config) WorkspacePath() string {
	return ExpandHome(c.Brain.Workspace)
}
