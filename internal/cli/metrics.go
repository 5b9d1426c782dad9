package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"pkengine/internal/ui"
	"pkengine/pkg/engine"
)

var (
	metricsListen   string
	metricsInterval time.Duration
)

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve Prometheus metrics while checking for updates periodically",
	Long: `Expose the engine's Prometheus metrics over HTTP. Every interval
the repository metadata is refreshed and the available updates listed, so
job, lock and cache metrics keep moving.

Examples:
  pkengine serve-metrics                        # Listen on metrics.listen
  pkengine serve-metrics --listen :9464 -i 30m`,
	Args: cobra.NoArgs,
	RunE: runServeMetrics,
}

func init() {
	serveMetricsCmd.Flags().StringVar(&metricsListen, "listen", "", "listen address (default: metrics.listen)")
	serveMetricsCmd.Flags().DurationVarP(&metricsInterval, "interval", "i", time.Hour, "update check interval")
}

func runServeMetrics(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	addr := metricsListen
	if addr == "" {
		addr = cfg.Metrics.Listen
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	ui.InfoMsg("Serving metrics on http://%s/metrics", addr)

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()
	checkUpdates(ctx)

	for {
		select {
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ticker.C:
			checkUpdates(ctx)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}
}

// checkUpdates refreshes metadata and lists updates, logging the outcome.
func checkUpdates(ctx context.Context) {
	if _, err := runQuietJob(ctx, engine.RoleRefreshCache, engine.Params{}); err != nil {
		logger.Warn().Err(err).Msg("refresh failed")
		return
	}
	r, err := runQuietJob(ctx, engine.RoleGetUpdates, engine.Params{})
	if err != nil {
		logger.Warn().Err(err).Msg("update check failed")
		return
	}
	logger.Info().Int("updates", len(r.Packages())).Msg("update check finished")
}
