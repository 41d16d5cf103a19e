package cmd

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanobot/internal/audit"
	"github.com/nextlevelbuilder/nanobot/internal/config"
)

func toolsHealthCmd() *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "tools-health",
		Short: "Aggregate tool-call statistics from the audit log",
		Run: func(cmd *cobra.Command, args []string) {
			logger := audit.NewLogger(filepath.Join(config.Home(), "audit.log"))
			report := logger.ToolHealthReport(tail)
			if len(report) == 0 {
				fmt.Println("no tool calls recorded")
				return
			}

			names := make([]string, 0, len(report))
			for name := range report {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Printf("%-24s %8s %8s %10s  %s\n", "TOOL", "CALLS", "ERRORS", "AVG(s)", "LAST ERROR")
			for _, name := range names {
				h := report[name]
				fmt.Printf("%-24s %8d %8d %10.2f  %s\n", h.Tool, h.Calls, h.Errors, h.AvgDurS, h.LastError)
			}
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 2000, "number of recent audit events to aggregate")
	return cmd
}
