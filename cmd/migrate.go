package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanobot/internal/config"
)

// legacyToolConfigDirs are the old per-tool credential locations,
// relative to the data directory.
var legacyToolConfigDirs = []string{"tools", "credentials"}

func migrateToolConfigsCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate-tool-configs",
		Short: "Move legacy per-tool JSON credentials into <data>/tool_configs/",
		Run: func(cmd *cobra.Command, args []string) {
			moved, err := migrateToolConfigs(config.Home(), dryRun)
			if err != nil {
				fail("%v", err)
			}
			if moved == 0 {
				fmt.Println("nothing to migrate")
				return
			}
			verb := "moved"
			if dryRun {
				verb = "would move"
			}
			fmt.Printf("%s %d file(s)\n", verb, moved)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be moved without moving it")
	return cmd
}

func migrateToolConfigs(home string, dryRun bool) (int, error) {
	target := filepath.Join(home, "tool_configs")
	moved := 0

	for _, legacy := range legacyToolConfigDirs {
		dir := filepath.Join(home, legacy)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			src := filepath.Join(dir, e.Name())
			dst := filepath.Join(target, e.Name())
			if _, err := os.Stat(dst); err == nil {
				fmt.Printf("skip %s (already exists in tool_configs)\n", e.Name())
				continue
			}
			fmt.Printf("%s -> %s\n", src, dst)
			if dryRun {
				moved++
				continue
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return moved, err
			}
			if err := os.Rename(src, dst); err != nil {
				return moved, fmt.Errorf("move %s: %w", e.Name(), err)
			}
			moved++
		}
	}
	return moved, nil
}
