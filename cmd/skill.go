package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanobot/internal/config"
	"github.com/nextlevelbuilder/nanobot/internal/skills"
)

func newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Scaffold new workspace resources",
	}
	cmd.AddCommand(newSkillCmd())
	return cmd
}

func newSkillCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "skill NAME",
		Short: "Scaffold a skill folder with a SKILL.md template",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(configPath())
			if err != nil {
				fail("%v", err)
			}
			lib := skills.NewLibrary(filepath.Join(cfg.WorkspacePath(), "skills"))
			path, err := lib.Create(args[0])
			if err != nil {
				fail("%v", err)
			}
			if description != "" {
				if data, err := os.ReadFile(path); err == nil {
					updated := strings.Replace(string(data), "一句话描述这个技能的用途。", description, 1)
					os.WriteFile(path, []byte(updated), 0o644)
				}
			}
			fmt.Printf("created %s\n", path)
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "one-line skill description")
	return cmd
}
