package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/buildgate/buildgate/internal/config"
	"github.com/buildgate/buildgate/internal/systemd"
)

var (
	initPath           string
	initForce          bool
	initInstallSystemd bool
)

func init() {
	initCmd.Flags().StringVar(&initPath, "path", "", "Where to write the config (default: ~/.buildgate/config.yaml)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	initCmd.Flags().BoolVar(&initInstallSystemd, "install-systemd", false, "Install the buildgate.service unit (requires root)")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Creates the buildgate config directory and a commented default config.

The generated file ships with authentication disabled (token: change-me)
and a conservative allowlist. Edit it before exposing the gateway to a
network.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := initPath
	if path == "" {
		path = config.DefaultPath()
	}

	var created []string
	if wrote, err := writeIfMissing(path, config.DefaultConfigYAML()); err != nil {
		return err
	} else if wrote {
		created = append(created, path)
	}

	if initInstallSystemd {
		if runtime.GOOS != "linux" {
			return fmt.Errorf("--install-systemd is only supported on Linux")
		}
		if os.Geteuid() != 0 {
			return fmt.Errorf("--install-systemd requires root; run with sudo")
		}

		if err := os.WriteFile(systemd.UnitFilePath, []byte(systemd.ServiceTemplate()), 0o644); err != nil {
			return fmt.Errorf("write systemd unit: %w", err)
		}
		created = append(created, systemd.UnitFilePath)

		if err := systemd.RecordUnitFileHash(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not record unit file hash: %v\n", err)
		}
		if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: systemctl daemon-reload failed: %v\n", err)
		}
	}

	fmt.Println("buildgate init complete.")
	fmt.Println()
	if len(created) > 0 {
		fmt.Println("Created:")
		for _, p := range created {
			fmt.Printf("  %s\n", p)
		}
		fmt.Println()
	} else {
		fmt.Println("Config already exists (use --force to overwrite).")
		fmt.Println()
	}

	fmt.Println("Next steps:")
	fmt.Printf("  1. Set auth.token in %s\n", path)
	fmt.Println("  2. Probe the policy:    buildgate check --command \"git status\"")
	fmt.Println("  3. Serve over HTTP:     buildgate serve")
	fmt.Println("     or on stdio:         buildgate mcp")

	if initInstallSystemd {
		fmt.Println()
		fmt.Println("Enable the gateway service:")
		fmt.Println("  sudo systemctl enable --now buildgate")
	}

	return nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
