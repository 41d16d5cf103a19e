package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanobot/internal/config"
	"github.com/nextlevelbuilder/nanobot/internal/daemon"
)

func healthCmd() *cobra.Command {
	var (
		strict         bool
		requireGateway bool
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Run: func(cmd *cobra.Command, args []string) {
			errors, warnings := runHealth(requireGateway)
			for _, w := range warnings {
				fmt.Printf("warn: %s\n", w)
			}
			for _, e := range errors {
				fmt.Printf("FAIL: %s\n", e)
			}
			if len(errors) > 0 || (strict && len(warnings) > 0) {
				os.Exit(1)
			}
			fmt.Println("ok")
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as failures")
	cmd.Flags().BoolVar(&requireGateway, "require-gateway", false, "fail when the gateway is not running")
	return cmd
}

func runHealth(requireGateway bool) (errors, warnings []string) {
	home := config.Home()

	cfg, err := config.Load(configPath())
	if err != nil {
		errors = append(errors, fmt.Sprintf("config: %v", err))
		return errors, warnings
	}
	for _, e := range cfg.Check() {
		errors = append(errors, e.Error())
	}

	if err := os.MkdirAll(home, 0o755); err != nil {
		errors = append(errors, fmt.Sprintf("data dir not writable: %v", err))
	} else {
		probe := filepath.Join(home, ".health-probe")
		if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
			errors = append(errors, fmt.Sprintf("data dir not writable: %v", err))
		} else {
			os.Remove(probe)
		}
	}

	if cfg.Providers.Primary.APIKey == "" {
		warnings = append(warnings, "providers.primary.api_key is not configured")
	}

	pid, err := daemon.ReadPID(pidPath())
	running := err == nil && daemon.Alive(pid)
	switch {
	case running:
	case requireGateway:
		errors = append(errors, "gateway is not running")
	default:
		warnings = append(warnings, "gateway is not running")
	}
	if err == nil && !daemon.Alive(pid) {
		warnings = append(warnings, fmt.Sprintf("stale pid file (pid %d)", pid))
	}

	return errors, warnings
}
