package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanobot/internal/daemon"
)

func stopCmd() *cobra.Command {
	var (
		timeout int
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running gateway",
		Run: func(cmd *cobra.Command, args []string) {
			if err := daemon.Terminate(pidPath(), time.Duration(timeout)*time.Second, force); err != nil {
				fail("%v", err)
			}
			fmt.Println("gateway stopped")
		},
	}
	cmd.Flags().IntVar(&timeout, "timeout", 10, "seconds to wait for a graceful exit")
	cmd.Flags().BoolVar(&force, "force", false, "kill the process if it does not exit in time")
	return cmd
}

func restartCmd() *cobra.Command {
	var (
		timeout int
		force   bool
		port    int
	)
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop the gateway and start it again",
		Run: func(cmd *cobra.Command, args []string) {
			if err := daemon.Terminate(pidPath(), time.Duration(timeout)*time.Second, force); err != nil {
				// A gateway that is not running is fine for restart.
				fmt.Printf("note: %v\n", err)
			}
			if err := runGateway(port); err != nil {
				fail("%v", err)
			}
		},
	}
	cmd.Flags().IntVar(&timeout, "timeout", 10, "seconds to wait for a graceful exit")
	cmd.Flags().BoolVar(&force, "force", false, "kill the process if it does not exit in time")
	cmd.Flags().IntVar(&port, "port", 0, "override gateway.port")
	return cmd
}
