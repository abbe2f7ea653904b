package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	subvault "github.com/xraph/subvault"
	audithook "github.com/xraph/subvault/audit_hook"
	"github.com/xraph/subvault/observability"
	"github.com/xraph/subvault/scheduler"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(cfg *Config, logger *slog.Logger) *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Charge due subscriptions on a schedule until interrupted",
		Long: `Run starts the charge scheduler and serves Prometheus metrics on
METRICS_ADDR. Committed events are written to the audit log and, when
REDIS_URL is set, appended to a Redis stream.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if spec != "" {
				cfg.ScheduleSpec = spec
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			plugins := []subvault.Option{
				subvault.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
				subvault.WithPlugin(audithook.New(auditLog(logger), audithook.WithLogger(logger))),
			}

			return withApp(cmd, cfg, logger, func(ctx context.Context, a *App) error {
				return serve(ctx, cfg, logger, a, reg)
			}, plugins...)
		},
	}
	cmd.Flags().StringVar(&spec, "schedule", "", "cron spec overriding SCHEDULE_SPEC")
	return cmd
}

// serve runs the scheduler and metrics server until ctx is cancelled.
func serve(ctx context.Context, cfg *Config, logger *slog.Logger, a *App, reg *prometheus.Registry) error {
	op, err := a.Operator()
	if err != nil {
		return err
	}

	runner := scheduler.New(a.Vault, op,
		scheduler.WithSpec(cfg.ScheduleSpec),
		scheduler.WithPageSize(cfg.SchedulePageSize),
		scheduler.WithTimeout(cfg.ScheduleTimeout),
		scheduler.WithLogger(logger),
	)
	if err := runner.Start(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Vault.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info("subvault running", "schedule", cfg.ScheduleSpec, "operator", op, "store", cfg.Store)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("metrics server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := runner.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", "error", err)
	}
	return runErr
}

// auditLog records audit events as structured log lines.
func auditLog(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(ctx context.Context, e *audithook.AuditEvent) error {
		level := slog.LevelInfo
		switch e.Severity {
		case audithook.SeverityWarning:
			level = slog.LevelWarn
		case audithook.SeverityError, audithook.SeverityCritical:
			level = slog.LevelError
		}
		logger.Log(ctx, level, "audit",
			"action", e.Action,
			"resource", e.Resource,
			"resource_id", e.ResourceID,
			"category", e.Category,
			"outcome", e.Outcome,
			"reason", e.Reason,
			"metadata", e.Metadata,
		)
		return nil
	})
}
