package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedharvest/internal/config"
	"github.com/JakeFAU/feedharvest/internal/crawler"
	"github.com/JakeFAU/feedharvest/internal/expand"
	"github.com/JakeFAU/feedharvest/internal/expand/collyexpander"
	"github.com/JakeFAU/feedharvest/internal/expand/frame"
	"github.com/JakeFAU/feedharvest/internal/expand/newtab"
	pubsubpublisher "github.com/JakeFAU/feedharvest/internal/publisher/pubsub"
	"github.com/JakeFAU/feedharvest/internal/storage/gcs"
	"github.com/JakeFAU/feedharvest/internal/storage/local"
	"github.com/JakeFAU/feedharvest/internal/storage/memory"
	"github.com/JakeFAU/feedharvest/internal/storage/postgres"
	"github.com/JakeFAU/feedharvest/internal/storage/s3"
	"github.com/JakeFAU/feedharvest/internal/surface/headless"
	"github.com/JakeFAU/feedharvest/internal/surface/snapshot"
)

// resources are the run's external collaborators. close releases them in
// reverse order of acquisition.
type resources struct {
	surface   crawler.Surface
	expander  crawler.Expander
	sinks     []crawler.NamedSink
	publisher crawler.Publisher
	closers   []func()
}

func (r *resources) onClose(fn func()) {
	r.closers = append(r.closers, fn)
}

func (r *resources) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// buildResources opens the surface, expander, sinks and publisher named by
// cfg. A non-nil surface replaces the configured one. On error everything
// already opened is released.
func buildResources(ctx context.Context, cfg config.Config, logger *zap.Logger, surface crawler.Surface) (_ *resources, err error) {
	res := &resources{}
	defer func() {
		if err != nil {
			res.close()
		}
	}()

	var browser *headless.Browser
	switch {
	case surface != nil:
		res.surface = surface
	case cfg.Feed.SnapshotPath != "":
		snap, err := snapshot.Open(cfg.Feed.SnapshotPath, cfg.Feed.Selectors, snapshot.Options{
			BaseURL: cfg.Feed.URL,
			Logger:  logger.Named("snapshot"),
		})
		if err != nil {
			return nil, fmt.Errorf("open snapshot: %w", err)
		}
		res.surface = snap
	default:
		browser, err = headless.Open(headless.Config{
			Headless:    cfg.Browser.Headless,
			UserAgent:   cfg.Browser.UserAgent,
			NavTimeout:  cfg.Browser.NavTimeout,
			RemoteURL:   cfg.Browser.RemoteURL,
			UserDataDir: cfg.Browser.UserDataDir,
		}, logger.Named("browser"))
		if err != nil {
			return nil, fmt.Errorf("open browser: %w", err)
		}
		res.onClose(func() { _ = browser.Close() })
		feed := headless.NewSurface(browser, cfg.Feed.Selectors, logger.Named("surface"))
		if err := feed.Navigate(ctx, cfg.Feed.URL); err != nil {
			return nil, fmt.Errorf("open feed %s: %w", cfg.Feed.URL, err)
		}
		res.surface = feed
	}

	res.expander, err = buildExpander(cfg, browser, res.surface, logger.Named("expand"))
	if err != nil {
		return nil, err
	}

	blobs, err := buildBlobStore(ctx, cfg, logger, res)
	if err != nil {
		return nil, err
	}
	res.sinks = append(res.sinks, crawler.NewBlobSink(cfg.Output.Backend, blobs, cfg.Output.ContentType))

	if cfg.DB.DSN != "" {
		store, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		}, logger.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		res.onClose(store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure record schema: %w", err)
		}
		res.sinks = append(res.sinks, store)
	}

	if cfg.PubSub.ProjectID != "" {
		pub, err := pubsubpublisher.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, logger.Named("pubsub"))
		if err != nil {
			return nil, fmt.Errorf("open pubsub: %w", err)
		}
		res.onClose(func() {
			if err := pub.Close(); err != nil {
				logger.Warn("pubsub close failed", zap.Error(err))
			}
		})
		res.publisher = pub
	}
	return res, nil
}

// buildExpander picks the expansion backend. The browser backends need the
// live browser and, for the iframe backend, a surface that can evaluate
// scripts in the feed page.
func buildExpander(cfg config.Config, browser *headless.Browser, surface crawler.Surface, logger *zap.Logger) (crawler.Expander, error) {
	switch cfg.Expansion.Backend {
	case config.BackendNone:
		return expand.Disabled{}, nil
	case config.BackendFetch:
		return collyexpander.New(collyexpander.Config{
			UserAgent: cfg.Browser.UserAgent,
			Timeout:   cfg.Expansion.Timeout,
			QPS:       cfg.Expansion.FetchQPS,
		}, cfg.Feed.Selectors, logger), nil
	case config.BackendNewTab:
		if browser == nil {
			return nil, fmt.Errorf("expansion backend %q needs a live browser", cfg.Expansion.Backend)
		}
		return newtab.New(browser, cfg.Feed.Selectors, expand.PollConfig{
			InitialDelay: cfg.Expansion.InitialDelay,
			Interval:     cfg.Expansion.PollInterval,
			MaxRetries:   cfg.Expansion.MaxRetries,
		}, logger), nil
	case config.BackendFrame:
		eval, ok := surface.(frame.Evaluator)
		if !ok {
			return nil, fmt.Errorf("expansion backend %q needs a live browser", cfg.Expansion.Backend)
		}
		return frame.New(eval, cfg.Feed.Selectors, frame.Config{
			Timeout:      cfg.Expansion.Timeout,
			PollInterval: cfg.Expansion.PollInterval,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown expansion backend %q", cfg.Expansion.Backend)
	}
}

// buildBlobStore opens the checkpoint store named by output.backend.
func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger, res *resources) (crawler.BlobStore, error) {
	out := cfg.Output
	switch out.Backend {
	case config.OutputLocal:
		store, err := local.New(local.Config{BaseDir: out.Dir})
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		return store, nil
	case config.OutputGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: out.GCSBucket, Prefix: out.ObjectPrefix}, logger.Named("gcs"))
		if err != nil {
			return nil, fmt.Errorf("open gcs store: %w", err)
		}
		res.onClose(func() {
			if err := store.Close(); err != nil {
				logger.Warn("gcs close failed", zap.Error(err))
			}
		})
		return store, nil
	case config.OutputS3:
		store, err := s3.Open(ctx, s3.Config{
			Bucket:   out.S3Bucket,
			Prefix:   out.ObjectPrefix,
			Region:   out.S3Region,
			Endpoint: out.S3Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 store: %w", err)
		}
		return store, nil
	case config.OutputMemory:
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown output backend %q", out.Backend)
	}
}
