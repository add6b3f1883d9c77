package main

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/logger"
	"codeberg.org/mutker/solarledger/internal/pid"
	"codeberg.org/mutker/solarledger/internal/registry"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Register a reading every interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if err := pid.Write(cfg.Run.PIDFile); err != nil {
				return err
			}
			defer func() {
				if err := pid.Remove(cfg.Run.PIDFile); err != nil {
					logger.Error().Err(err).Msg("Failed to remove PID file")
				}
			}()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.Metrics.Enabled {
				srv := newMetricsServer(a)
				go serveMetrics(srv)
				defer shutdownMetrics(srv)
			}

			err = loop(ctx, a.registrar(), cfg.Run.Interval)
			logger.Info().Msg("Exiting...")
			return err
		},
	}
}

// loop registers one reading immediately and then one per interval. A failed
// attempt is logged and the next tick fetches a fresh reading.
func loop(ctx context.Context, reg *registry.Registrar, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", interval).Msg("Registration loop started")

	tick := func() {
		id, err := reg.Register(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn().Err(err).Msg("Registration attempt failed")
			}
			return
		}
		logger.Debug().Str("record_id", id.String()).Msg("Registration attempt succeeded")
	}

	tick()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

func newMetricsServer(a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.collector.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serveMetrics(srv *http.Server) {
	logger.Info().Str("listen", srv.Addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.ErrorWithCode(errors.New().Wrap(errors.ErrUnavailable, err)).Msg("Metrics server stopped")
	}
}

func shutdownMetrics(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to shut down metrics server")
	}
}
