package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedharvest/internal/api"
	"github.com/JakeFAU/feedharvest/internal/clock/system"
	"github.com/JakeFAU/feedharvest/internal/config"
	"github.com/JakeFAU/feedharvest/internal/crawler"
	"github.com/JakeFAU/feedharvest/internal/hash/sha256"
	"github.com/JakeFAU/feedharvest/internal/id/uuid"
	"github.com/JakeFAU/feedharvest/internal/progress"
	"github.com/JakeFAU/feedharvest/internal/progress/sinks"
	"github.com/JakeFAU/feedharvest/internal/telemetry"
)

const (
	shutdownTimeout = 10 * time.Second
	eventRingSize   = sinks.DefaultRingSize
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Harvests the feed until it stops yielding new posts",
		Long: `Opens the feed (or a saved snapshot), scrolls with humanlike pacing and
collects every post it has not seen yet. Truncated posts are expanded with
the configured backend. The record set is checkpointed periodically and once
more on exit. SIGINT or SIGTERM requests a graceful stop.`,
		RunE: runCrawlCommand,
	}
	flags := cmd.Flags()
	flags.String("url", "", "feed URL to open in the browser")
	flags.String("user", "", "account handle recorded in checkpoint names")
	flags.String("snapshot", "", "harvest a saved HTML page instead of a live browser")
	flags.String("backend", "", "expansion backend: newtab, iframe, fetch or none")
	flags.Uint64("seed", 0, "seed for scroll pacing (0 seeds from the clock)")
	flags.Int("max-unchanged", 0, "scrolls without new posts before stopping")
	flags.String("output", "", "checkpoint backend: local, gcs, s3 or memory")
	flags.String("output-dir", "", "directory for the local checkpoint backend")
	flags.Int("port", 0, "admin server port (0 disables)")
	flags.String("log-level", "", "log level override (debug, info, warn, error)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := runCrawl(ctx, app.Config, app.Logger, crawlOptions{})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), stats.String())
	return nil
}

// crawlOptions lets tests replace the process-wide collaborators.
type crawlOptions struct {
	registerer prometheus.Registerer
	surface    crawler.Surface
}

// runCrawl wires one run from cfg, blocks until it ends and returns its
// stats.
func runCrawl(ctx context.Context, cfg config.Config, logger *zap.Logger, opts crawlOptions) (crawler.Stats, error) {
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Options{ServiceName: cfg.Telemetry.ServiceName})
	if err != nil {
		return crawler.Stats{}, fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	runID, err := uuid.New().NewRunID()
	if err != nil {
		return crawler.Stats{}, fmt.Errorf("generate run id: %w", err)
	}
	runLogger := logger.With(zap.String("run_id", runID.String()))
	clock := system.New()

	res, err := buildResources(ctx, cfg, runLogger, opts.surface)
	if err != nil {
		return crawler.Stats{}, err
	}
	defer res.close()

	registerer := opts.registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	promSink, err := sinks.NewPrometheusSink(registerer)
	if err != nil {
		return crawler.Stats{}, fmt.Errorf("init prometheus sink: %w", err)
	}
	ring := sinks.NewRingSink(eventRingSize)
	hub := progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      runLogger.Named("progress"),
	}, sinks.NewLogSink(runLogger.Named("events")), promSink, ring)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			runLogger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	checkpointer := crawler.NewCheckpointer(crawler.CheckpointerOptions{
		Prefix:    cfg.Output.Prefix,
		User:      cfg.Feed.User,
		RunID:     runID.String(),
		Sinks:     res.sinks,
		Publisher: res.publisher,
		Topic:     cfg.PubSub.TopicName,
		Hasher:    sha256.New(),
		Clock:     clock,
		Logger:    runLogger.Named("checkpoint"),
	})

	engine, err := crawler.NewEngine(cfg.EngineConfig(), crawler.Deps{
		Surface:      res.surface,
		Expander:     res.expander,
		Checkpointer: checkpointer,
		Clock:        clock,
		Rand:         crawler.NewRand(cfg.Crawl.Seed),
		Emitter:      hub,
		Logger:       logger.Named("engine"),
		RunID:        runID,
	})
	if err != nil {
		return crawler.Stats{}, fmt.Errorf("init engine: %w", err)
	}

	srv := startAdminServer(cfg, engine, ring, runLogger.Named("api"))
	defer shutdownAdminServer(ctx, srv, runLogger)

	runLogger.Info("harvest starting",
		zap.String("user", cfg.Feed.User),
		zap.String("expansion_backend", cfg.Expansion.Backend),
		zap.String("output_backend", cfg.Output.Backend),
	)
	runErr := engine.Run(ctx)
	stats := engine.Stats()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return stats, fmt.Errorf("run harvest: %w", runErr)
	}
	return stats, nil
}

// startAdminServer serves the admin API in the background when a port is
// configured.
func startAdminServer(cfg config.Config, engine *crawler.Engine, ring *sinks.RingSink, logger *zap.Logger) *http.Server {
	if cfg.Server.Port == 0 {
		return nil
	}
	handler := api.NewServer(engine, api.Options{
		APIKey: cfg.Server.APIKey,
		Events: ring,
		Logger: logger,
	}).Handler()
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("admin server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server failed", zap.Error(err))
		}
	}()
	return srv
}

func shutdownAdminServer(ctx context.Context, srv *http.Server, logger *zap.Logger) {
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown failed", zap.Error(err))
	}
}
