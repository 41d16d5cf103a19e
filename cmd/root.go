// Package cmd implements the nanobot command-line surface.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanobot/internal/config"
)

// Version is set at build time via
// -ldflags "-X github.com/nextlevelbuilder/nanobot/cmd.Version=v1.0.0".
var Version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "nanobot",
	Short: "nanobot, a personal AI assistant gateway",
	Long:  "nanobot runs a multi-channel personal assistant: chat transports in, bounded tool-calling turns against LLM providers, responses out.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(restartCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(toolsHealthCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(newCmd())
	rootCmd.AddCommand(migrateToolConfigsCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nanobot %s\n", Version)
		},
	}
}

func configPath() string {
	return filepath.Join(config.Home(), "config.json")
}

func pidPath() string {
	return filepath.Join(config.Home(), "gateway.pid")
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
