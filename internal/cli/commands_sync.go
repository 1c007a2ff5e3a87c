package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/service/syncer"
)

func newSyncCommand(deps Dependencies) *cobra.Command {
	flags := globalFlags{}
	query := queryFlags{}
	var metricsAddr string
	var interval int
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Keep polling and print the order board after every refresh.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := parseOutputFormat(flags.Format)
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cmd, deps, &flags, func(cfg *domain.SyncConfig) {
				query.apply(cfg)
				if interval > 0 {
					cfg.PollIntervalSec = interval
				}
				if metricsAddr != "" {
					cfg.MetricsAddr = metricsAddr
				}
			})
			if err != nil {
				return emitError(cmd, format, envelopeMeta{}, flags.Output, "ORDERBOARD_CONFIG_ERROR", err.Error())
			}
			defer func() {
				if closeErr := rt.Close(); closeErr != nil {
					rt.logger.Warn("close runtime", "error", closeErr)
				}
			}()

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			if rt.cfg.MetricsAddr != "" {
				stop := serveMetrics(rt)
				defer stop()
			}

			statuses := splitCSV(query.Status)
			unsubscribe := rt.engine.Subscribe(func(snap syncer.Snapshot) {
				if snap.Err != nil {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "refresh failed: %v\n", snap.Err)
				}
				if err := renderSnapshot(cmd, rt, snap, format, flags.Output, statuses); err != nil {
					rt.logger.Warn("render snapshot", "error", err)
				}
			})
			defer unsubscribe()

			return rt.engine.Run(ctx)
		},
	}
	addGlobalFlags(cmd, &flags)
	addQueryFlags(cmd, &query)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9102.")
	cmd.Flags().IntVar(&interval, "interval", 0, "Poll interval in seconds (defaults to config).")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 runs until interrupted).")
	return cmd
}

func serveMetrics(rt *runtime) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	server := &http.Server{
		Addr:              rt.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		rt.logger.Info("metrics listening", "addr", rt.cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server failed", "error", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			rt.logger.Warn("metrics shutdown", "error", err)
		}
	}
}
