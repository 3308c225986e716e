// Package headless drives the live feed through chromedp. It provides the
// crawl Surface over the feed tab and opens the auxiliary tabs used by the
// new-tab expansion backend.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedharvest/internal/expand"
)

// Config controls how the browser is launched or attached to.
type Config struct {
	Headless bool
	// UserAgent overrides the browser user agent when set.
	UserAgent string
	// NavTimeout bounds every navigation.
	NavTimeout time.Duration
	// RemoteURL attaches to an already running Chrome (DevTools websocket
	// URL) instead of launching one. A signed-in profile is expected there.
	RemoteURL string
	// UserDataDir reuses a Chrome profile when launching.
	UserDataDir string
}

// Browser owns the allocator and the feed tab.
type Browser struct {
	cfg           Config
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// Open launches (or attaches to) Chrome and warms up the feed tab.
func Open(cfg Config, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("enable-automation", false),
		)
		if cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
		}
		if cfg.UserDataDir != "" {
			opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	sugar := logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)
	if err := chromedp.Run(browserCtx, userAgentAction(cfg.UserAgent)); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return &Browser{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Close tears down the feed tab and the allocator.
func (b *Browser) Close() error {
	if b == nil {
		return nil
	}
	b.browserCancel()
	b.allocCancel()
	return nil
}

// OpenTab opens a new target in the same browser. Canceling ctx closes it.
func (b *Browser) OpenTab(ctx context.Context) (expand.Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	tab := newTab(tabCtx, cancel, b.cfg.NavTimeout)
	if err := chromedp.Run(tabCtx, userAgentAction(b.cfg.UserAgent)); err != nil {
		tab.Close()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	tab.stopForward = context.AfterFunc(ctx, tab.Close)
	return tab, nil
}

// run executes actions on the feed tab, aborting when ctx is done.
func (b *Browser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	return runOn(ctx, b.browserCtx, timeout, actions...)
}

// runOn executes actions against the chromedp target in target while
// honoring the caller's ctx.
func runOn(ctx, target context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(target)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func userAgentAction(ua string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if ua == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}
