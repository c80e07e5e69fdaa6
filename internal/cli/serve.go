package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/buildgate/buildgate/internal/alert"
	"github.com/buildgate/buildgate/internal/audit"
	"github.com/buildgate/buildgate/internal/auth"
	"github.com/buildgate/buildgate/internal/config"
	"github.com/buildgate/buildgate/internal/gateway"
	"github.com/buildgate/buildgate/internal/history"
	"github.com/buildgate/buildgate/internal/mcp"
	"github.com/buildgate/buildgate/internal/systemd"
)

var serveConfigPath string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config YAML (default: ~/.buildgate/config.yaml)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP gateway over streamable HTTP",
	Long:  "Runs buildgate as a network MCP server.\nRemote agents call the gated execution tools over streamable HTTP.\nPolicy decisions are audited; config drift on disk is detected and reported.",
	RunE:  runServe,
}

// sinks holds the decision outputs opened from config so commands can
// close them on shutdown.
type sinks struct {
	auditLog *audit.Log
	store    *history.Store
}

func (s *sinks) close() {
	if s.store != nil {
		s.store.Close()
	}
	if s.auditLog != nil {
		s.auditLog.Close()
	}
}

// openSinks builds gateway options from the audit, history, and alert
// sections of the config. Empty paths leave the matching sink nil.
func openSinks(cfg *config.Config) (gateway.Options, *sinks, error) {
	var opts gateway.Options
	s := &sinks{}

	if cfg.AuditLog != "" {
		log, err := audit.Open(cfg.AuditLog)
		if err != nil {
			return opts, nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		s.auditLog = log
		opts.Audit = log
	}

	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			s.close()
			return opts, nil, fmt.Errorf("failed to open history database: %w", err)
		}
		s.store = store
		opts.History = store
	}

	opts.Alerts = alert.NewDispatcher(cfg.Alerts)
	return opts, s, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	path := serveConfigPath
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

	mux := http.NewServeMux()
	mux.Handle("/", srv.HTTPHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down gateway...")
		cancel()
		shutdownCtx, release := context.WithTimeout(context.Background(), 5*time.Second)
		defer release()
		httpSrv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "buildgate MCP gateway listening on %s\n", cfg.Server.Listen)
	fmt.Fprintf(os.Stderr, "Config: %s (%s)\n", path, hash)
	if !auth.New(cfg.Auth.Token).Enabled() {
		fmt.Fprintln(os.Stderr, "WARNING: authentication is disabled; set auth.token in the config")
	}
	if warn := systemd.CheckUnitFileIntegrity(); warn != "" {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", warn)
	}
	if cfg.AuditLog != "" {
		fmt.Fprintf(os.Stderr, "Audit log: %s\n", cfg.AuditLog)
	}
	fmt.Fprintln(os.Stderr)

	err = httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
