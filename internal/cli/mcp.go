package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/buildgate/buildgate/internal/config"
	"github.com/buildgate/buildgate/internal/gateway"
	"github.com/buildgate/buildgate/internal/mcp"
)

var mcpConfigPath string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpConfigPath, "config", "", "Path to config YAML (default: ~/.buildgate/config.yaml)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server on stdio for local agent integration",
	Long:  "Runs buildgate as an MCP (Model Context Protocol) server over stdio.\nExposes the gated execution tools: run_command, run_script, run_remote,\ncheck_policy, rate_limit_admin, execution_history, server_status, health_check.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	path := mcpConfigPath
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, hash, err := config.LoadWithHash(path)
	if err != nil {
		return err
	}

	opts, snk, err := openSinks(cfg)
	if err != nil {
		return err
	}
	defer snk.close()
	opts.Version = version

	watcher, err := config.NewDriftWatcher(path, hash)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: config drift detection disabled: %v\n", err)
	} else {
		opts.Drift = watcher.Pending
	}

	gw := gateway.New(cfg, hash, opts)
	srv := mcp.New(gw, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if watcher != nil {
		go watcher.Run(ctx)
	}
	go gw.Limiter().RunSweeper(ctx, 0)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "buildgate MCP server running on stdio")
	fmt.Fprintf(os.Stderr, "Config: %s (%s)\n", path, hash)
	fmt.Fprintln(os.Stderr)

	return srv.RunStdio(ctx)
}
