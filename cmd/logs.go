package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanobot/internal/config"
)

func logsCmd() *cobra.Command {
	var (
		auditLog bool
		lines    int
		follow   bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the gateway or audit log",
		Run: func(cmd *cobra.Command, args []string) {
			name := "gateway.log"
			if auditLog {
				name = "audit.log"
			}
			path := filepath.Join(config.Home(), name)
			if err := showLog(path, lines, follow); err != nil {
				fail("%v", err)
			}
		},
	}
	cmd.Flags().BoolVar(&auditLog, "audit", false, "show the audit log instead of the process log")
	cmd.Flags().IntVar(&lines, "lines", 50, "number of trailing lines")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep printing appended lines")
	return cmd
}

func showLog(path string, lines int, follow bool) error {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, line := range tailLines(string(data), lines) {
		fmt.Println(line)
	}
	if !follow {
		return nil
	}

	offset := int64(len(data))
	for {
		time.Sleep(500 * time.Millisecond)
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			continue
		}
		if info.Size() < offset {
			// Rotated underneath us: start from the top of the new file.
			offset = 0
		}
		if info.Size() > offset {
			if _, err := f.Seek(offset, io.SeekStart); err == nil {
				appended, _ := io.ReadAll(f)
				fmt.Print(string(appended))
				offset += int64(len(appended))
			}
		}
		f.Close()
	}
}

func tailLines(content string, n int) []string {
	content = strings.TrimRight(content, "\n")
	if content == "" || n <= 0 {
		return nil
	}
	all := strings.Split(content, "\n")
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}
