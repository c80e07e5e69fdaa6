package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/buildgate/buildgate/internal/config"
	"github.com/buildgate/buildgate/internal/history"
)

var (
	historyConfigPath string
	historyDB         string
	historyLimit      int
	historyClient     string
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyConfigPath, "config", "", "Path to config YAML (default: ~/.buildgate/config.yaml)")
	historyCmd.Flags().StringVar(&historyDB, "db", "", "Path to history database (default: history_db from config)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of executions to show")
	historyCmd.Flags().StringVar(&historyClient, "client", "", "Filter by client identity")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent executions",
	Long:  "Queries the execution history database and prints what ran, for whom,\nand how it went. Use --client to narrow to one caller.",
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	db := historyDB
	if db == "" {
		path := historyConfigPath
		if path == "" {
			path = config.DefaultPath()
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		db = cfg.HistoryDB
	}
	if db == "" {
		return fmt.Errorf("history persistence is disabled; set history_db in the config or pass --db")
	}

	store, err := history.Open(db)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	var rows []history.Execution
	if historyClient != "" {
		rows, err = store.RecentByClient(ctx, historyClient, historyLimit)
	} else {
		rows, err = store.Recent(ctx, historyLimit)
	}
	if err != nil {
		return err
	}

	if len(rows) == 0 {
		fmt.Println("No executions recorded.")
		return nil
	}

	fmt.Printf("%-16s %-16s %-12s %-9s %-5s %-9s %s\n",
		"WHEN", "CLIENT", "TOOL", "STATUS", "EXIT", "DURATION", "OUTPUT")
	for _, row := range rows {
		resource := row.Resource
		if len(resource) > 40 {
			resource = resource[:38] + ".."
		}
		fmt.Printf("%-16s %-16s %-12s %-9s %-5d %-9s %s\n",
			humanize.Time(row.Timestamp),
			row.Client,
			row.Tool,
			row.Status,
			row.ExitCode,
			fmt.Sprintf("%dms", row.DurationMS),
			humanize.Bytes(uint64(row.StdoutBytes+row.StderrBytes)))
		fmt.Printf("  %s\n", resource)
	}

	total, err := store.Count(ctx)
	if err == nil {
		fmt.Printf("\n%d of %d recorded executions shown.\n", len(rows), total)
	}

	return nil
}
