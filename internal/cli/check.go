package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/buildgate/buildgate/internal/config"
	"github.com/buildgate/buildgate/internal/gateway"
	"github.com/buildgate/buildgate/internal/model"
)

var (
	checkConfigPath string
	checkCommand    string
	checkPath       string
	checkScript     string
	checkIP         string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkConfigPath, "config", "", "Path to config YAML (default: ~/.buildgate/config.yaml)")
	checkCmd.Flags().StringVar(&checkCommand, "command", "", "Command line to validate")
	checkCmd.Flags().StringVar(&checkPath, "path", "", "Filesystem path to validate")
	checkCmd.Flags().StringVar(&checkScript, "script", "", "Script path to validate")
	checkCmd.Flags().StringVar(&checkIP, "ip", "", "Remote host or IP to validate")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe the policy without executing anything",
	Long: "Evaluates a command, path, script, or remote address against the\n" +
		"loaded config and reports the verdict. Nothing is executed and\n" +
		"nothing is audited.\n\n" +
		"Exit code 0 if every probe passes, 1 if any is denied.\n" +
		"Use in CI to validate config changes before rollout.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	path := checkConfigPath
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, hash, err := config.LoadWithHash(path)
	if err != nil {
		return err
	}

	probes := []struct {
		kind  string
		value string
	}{
		{"command", checkCommand},
		{"path", checkPath},
		{"script", checkScript},
		{"ip", checkIP},
	}

	probed := false
	failed := 0
	gw := gateway.New(cfg, hash, gateway.Options{Version: version})

	for _, p := range probes {
		if p.value == "" {
			continue
		}
		probed = true
		if err := gw.Check(p.kind, p.value); err != nil {
			failed++
			var v *model.Violation
			if errors.As(err, &v) {
				fmt.Printf("FAIL  %-7s %s\n      %s: %s\n", p.kind, p.value, v.Kind, v.Message)
			} else {
				fmt.Printf("FAIL  %-7s %s\n      %v\n", p.kind, p.value, err)
			}
			continue
		}
		fmt.Printf("PASS  %-7s %s\n", p.kind, p.value)
	}

	if !probed {
		return fmt.Errorf("nothing to check: pass at least one of --command, --path, --script, --ip")
	}
	if failed > 0 {
		os.Exit(1)
	}
	return nil
}
