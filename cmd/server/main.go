/*
main.go - Application entry point

PURPOSE:
  Starts the allocation engine HTTP server and runs maintenance commands.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve           Run the HTTP API (default address from APP_ADDR)
  verify-ledger   Check every unit's credit ledger and exit non-zero on
                  any broken running sum

STARTUP SEQUENCE (serve):
  1. Load environment config (envconfig)
  2. Build zap logger and Prometheus registry
  3. Open SQLite store
  4. Create payments service and API handler
  5. Start the ledger audit scheduler (LEDGER_AUDIT_INTERVAL, 0 disables)
  6. Start server with graceful shutdown

FLAGS:
  --db     SQLite database path, overrides DB_PATH
           Use ":memory:" for an in-memory database
  --addr   Listen address, overrides APP_ADDR (serve only)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests up to APP_SHUTDOWN_TIMEOUT
  3. Stop the ledger audit scheduler
  4. Close database connection

EXAMPLES:
  ./server serve --db=./data/hoa.db --addr=:9000
  LOG_FORMAT=json ./server serve
  ./server verify-ledger --db=./data/hoa.db

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propledger/allocation-engine/api"
	"github.com/propledger/allocation-engine/config"
	"github.com/propledger/allocation-engine/observability"
	"github.com/propledger/allocation-engine/payments"
	"github.com/propledger/allocation-engine/store/sqlite"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "server",
		Short:         "HOA payment allocation and credit ledger service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("db", "", "SQLite database path (overrides DB_PATH)")

	root.AddCommand(serveCmd())
	root.AddCommand(verifyLedgerCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is everything both commands share.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics
	store   *sqlite.Store
	service *payments.Service
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.DBPath = db
	}

	logger, err := config.NewLogger(cfg.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	order, err := cfg.ModuleOrder()
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}

	metrics := observability.NewMetrics()
	svc := payments.New(store, payments.Options{
		Logger:      logger,
		Metrics:     metrics,
		Order:       order,
		MaxAttempts: cfg.AllocationMaxAttempts,
	})
	return &app{cfg: cfg, logger: logger, metrics: metrics, store: store, service: svc}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// =============================================================================
// SERVE
// =============================================================================

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if addr != "" {
				a.cfg.AppAddr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides APP_ADDR)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	handler := api.NewHandler(a.service, a.logger)
	audit := api.NewLedgerAuditScheduler(a.service, a.metrics, a.logger)
	audit.CheckInterval = a.cfg.LedgerAuditInterval
	audit.Enabled = a.cfg.LedgerAuditInterval > 0
	if audit.Enabled {
		handler.Audit = audit
	}
	audit.Start()
	defer audit.Stop()

	router := api.NewRouter(handler, api.RouterOptions{
		Metrics:        a.metrics,
		AllowedOrigins: a.cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:         a.cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting",
			zap.String("addr", a.cfg.AppAddr),
			zap.String("env", a.cfg.AppEnv),
			zap.String("db", a.cfg.DBPath),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

// =============================================================================
// VERIFY LEDGER
// =============================================================================

func verifyLedgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-ledger",
		Short: "Check the running balance of every unit's credit ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			reports, err := a.service.VerifyLedgers(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range reports {
				if r.OK() {
					fmt.Fprintf(out, "ok    %-20s entries=%d balance=%s\n", r.UnitID, r.Entries, r.Balance)
					continue
				}
				failed++
				fmt.Fprintf(out, "FAIL  %-20s %v\n", r.UnitID, r.Err)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d ledgers failed verification", failed, len(reports))
			}
			fmt.Fprintf(out, "%d ledgers verified\n", len(reports))
			return nil
		},
	}
}
