package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanobot/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the gateway configuration",
	}
	cmd.AddCommand(configListCmd(), configSetCmd(), configCheckCmd(), configEditCmd())
	return cmd
}

func configListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the effective configuration with secrets masked",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(configPath())
			if err != nil {
				fail("%v", err)
			}
			out, err := config.MaskedJSON(cfg)
			if err != nil {
				fail("%v", err)
			}
			fmt.Println(out)
		},
	}
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set one dotted-path config key",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := config.Set(configPath(), args[0], args[1]); err != nil {
				fail("%v", err)
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
		},
	}
}

func configCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(configPath())
			if err != nil {
				fail("%v", err)
			}
			errs := cfg.Check()
			for _, e := range errs {
				fmt.Printf("FAIL: %v\n", e)
			}
			if len(errs) > 0 {
				os.Exit(1)
			}
			fmt.Println("config ok")
		},
	}
}

func configEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit",
		Short: "Open the configuration file in $EDITOR",
		Run: func(cmd *cobra.Command, args []string) {
			editor := os.Getenv("EDITOR")
			if editor == "" {
				editor = "vi"
			}
			c := exec.Command(editor, configPath())
			c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
			if err := c.Run(); err != nil {
				fail("%v", err)
			}
		},
	}
}
