package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanobot/internal/config"
	"github.com/nextlevelbuilder/nanobot/internal/daemon"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print configuration summary and runtime snapshot",
		Run: func(cmd *cobra.Command, args []string) {
			runStatus()
		},
	}
}

func runStatus() {
	home := config.Home()
	cfg, err := config.Load(configPath())
	if err != nil {
		fail("load config: %v", err)
	}

	fmt.Printf("data dir:   %s\n", home)
	fmt.Printf("workspace:  %s\n", cfg.WorkspacePath())
	fmt.Printf("model:      %s (%s)\n", cfg.Providers.Primary.Model, cfg.Providers.Primary.Name)
	fmt.Printf("fallbacks:  %d\n", len(cfg.Providers.Fallbacks))
	fmt.Printf("timezone:   %s\n", cfg.Brain.Timezone)

	var enabled []string
	if cfg.Channels.Telegram.Enabled {
		enabled = append(enabled, "telegram")
	}
	if cfg.Channels.Discord.Enabled {
		enabled = append(enabled, "discord")
	}
	if cfg.Channels.CLI.Enabled {
		enabled = append(enabled, "cli")
	}
	if len(enabled) == 0 {
		enabled = append(enabled, "none")
	}
	fmt.Printf("channels:   %s\n", strings.Join(enabled, ", "))

	if pid, err := daemon.ReadPID(pidPath()); err == nil && daemon.Alive(pid) {
		fmt.Printf("gateway:    running (pid %d)\n", pid)
	} else {
		fmt.Println("gateway:    not running")
	}

	if entries, err := os.ReadDir(filepath.Join(home, "sessions")); err == nil {
		count := 0
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".jsonl") {
				count++
			}
		}
		fmt.Printf("sessions:   %d\n", count)
	}
}
