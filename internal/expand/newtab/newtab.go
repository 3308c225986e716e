// Package newtab expands truncated posts by opening the permalink in a new
// browser tab and polling it for the post text.
package newtab

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedharvest/internal/crawler"
	"github.com/JakeFAU/feedharvest/internal/expand"
)

// Expander implements crawler.Expander with one auxiliary tab per call.
type Expander struct {
	tabs     expand.TabOpener
	selector string
	poll     expand.PollConfig
	logger   *zap.Logger
}

// New builds an Expander. The polled selector is the text node inside the
// permalink page's main article.
func New(tabs expand.TabOpener, selectors crawler.Selectors, poll expand.PollConfig, logger *zap.Logger) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{
		tabs:     tabs,
		selector: strings.TrimSpace(selectors.MainArticle + " " + selectors.Text),
		poll:     poll,
		logger:   logger,
	}
}

// Expand opens permalink, waits for its text and always closes the tab.
func (e *Expander) Expand(ctx context.Context, permalink string) (string, error) {
	tab, err := e.tabs.OpenTab(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", crawler.ErrNotAvailable, err)
	}
	defer tab.Close()

	if err := tab.Navigate(ctx, permalink); err != nil {
		if tab.Closed() {
			return "", fmt.Errorf("%w: %w", crawler.ErrNotAvailable, expand.ErrSurfaceClosed)
		}
		// The text may still render after a slow load event.
		e.logger.Debug("permalink navigation incomplete", zap.String("permalink", permalink), zap.Error(err))
	}

	res := expand.Poll(ctx, e.poll, func(ctx context.Context) (string, error) {
		if tab.Closed() {
			return "", expand.ErrSurfaceClosed
		}
		text, err := tab.Text(ctx, e.selector)
		if err != nil && tab.Closed() {
			return "", errors.Join(expand.ErrSurfaceClosed, err)
		}
		return text, err
	})
	e.logger.Debug("expansion poll finished",
		zap.String("permalink", permalink),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("attempts", res.Attempts),
	)
	return res.Resolve()
}
