package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/buildgate/buildgate/internal/audit"
)

var (
	replayLog    string
	replayClient string
	replayFrom   string
	replayTo     string
	replayFormat string
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVarP(&replayLog, "log", "l", "", "Path to audit log (required)")
	replayCmd.Flags().StringVar(&replayClient, "client", "", "Filter by client identity instead of correlation ID")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
	replayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
	replayCmd.MarkFlagRequired("log")
}

var replayCmd = &cobra.Command{
	Use:   "replay [correlation-id]",
	Short: "Replay a session from the audit log",
	Long:  "Reads the audit log, filters by correlation ID or client identity and\nan optional time range, and renders a decision timeline with summary.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	filter := audit.ReplayFilter{Client: replayClient}
	if len(args) == 1 {
		filter.CorrelationID = args[0]
	}
	if filter.CorrelationID == "" && filter.Client == "" {
		return fmt.Errorf("pass a correlation ID or --client to select a session")
	}

	if replayFrom != "" {
		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", replayFrom, err)
		}
		filter.From = from
	}

	if replayTo != "" {
		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", replayTo, err)
		}
		filter.To = to
	}

	result, err := audit.Replay(replayLog, filter)
	if err != nil {
		return err
	}

	switch replayFormat {
	case "json":
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(audit.FormatTimeline(result))
	}

	return nil
}
