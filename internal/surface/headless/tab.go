package headless

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/chromedp"
)

// Tab is an auxiliary chromedp target.
type Tab struct {
	ctx         context.Context
	cancel      context.CancelFunc
	navTimeout  time.Duration
	closed      atomic.Bool
	closeOnce   sync.Once
	stopForward func() bool
}

func newTab(ctx context.Context, cancel context.CancelFunc, navTimeout time.Duration) *Tab {
	t := &Tab{ctx: ctx, cancel: cancel, navTimeout: navTimeout}
	chromedp.ListenTarget(ctx, func(ev any) {
		if _, ok := ev.(*inspector.EventDetached); ok {
			t.closed.Store(true)
		}
	})
	return t
}

// Navigate loads url, bounded by the navigation timeout.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	return runOn(ctx, t.ctx, t.navTimeout, chromedp.Navigate(url))
}

// Text reads the trimmed inner text of the first match for selector.
func (t *Tab) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := runOn(ctx, t.ctx, t.navTimeout, chromedp.Evaluate(textScript(selector), &text)); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Closed reports whether the target detached or the tab was closed.
func (t *Tab) Closed() bool {
	return t.closed.Load() || t.ctx.Err() != nil
}

// Close closes the target.
func (t *Tab) Close() {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if t.stopForward != nil {
			t.stopForward()
		}
		t.cancel()
	})
}
