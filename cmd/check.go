package cmd

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanobot/internal/config"
)

func checkCmd() *cobra.Command {
	var quick bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run environment and connectivity probes",
		Run: func(cmd *cobra.Command, args []string) {
			if !runCheck(quick) {
				os.Exit(1)
			}
		},
	}
	cmd.Flags().BoolVar(&quick, "quick", false, "skip network probes")
	return cmd
}

func runCheck(quick bool) bool {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Printf("config: FAIL (%v)\n", err)
		return false
	}

	ok := true
	if errs := cfg.Check(); len(errs) == 0 {
		fmt.Println("config: ok")
	} else {
		ok = false
		for _, e := range errs {
			fmt.Printf("config: FAIL (%v)\n", e)
		}
	}

	if quick {
		fmt.Println("network: skipped (--quick)")
		return ok
	}

	probe := func(label, base string) {
		if base == "" {
			fmt.Printf("%s: skipped (no api_base)\n", label)
			return
		}
		if err := dialBase(base); err != nil {
			ok = false
			fmt.Printf("%s: FAIL (%v)\n", label, err)
			return
		}
		fmt.Printf("%s: ok\n", label)
	}
	probe("primary provider", cfg.Providers.Primary.APIBase)
	for i, fb := range cfg.Providers.Fallbacks {
		probe(fmt.Sprintf("fallback[%d] %s", i, fb.Name), fb.APIBase)
	}

	if _, err := exec.LookPath("chromium"); err != nil {
		if _, err := exec.LookPath("google-chrome"); err != nil {
			fmt.Println("browser: not found (browser tool unavailable)")
		} else {
			fmt.Println("browser: ok (google-chrome)")
		}
	} else {
		fmt.Println("browser: ok (chromium)")
	}

	return ok
}

// dialBase resolves and connects to the endpoint's host without issuing
// a request; good enough to distinguish "down" from "misconfigured".
func dialBase(base string) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("bad url: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	conn, err := net.DialTimeout("tcp", host, 5*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}
