// Package frame expands truncated posts by loading the permalink in a hidden
// iframe injected into the feed tab.
package frame

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedharvest/internal/crawler"
)

// Evaluator runs a script in the feed tab and awaits the promise it returns.
type Evaluator interface {
	EvaluateAsync(ctx context.Context, expr string, res any) error
}

// Config bounds the in-page wait.
type Config struct {
	// Timeout is enforced by the page script and, with a small margin, by
	// the caller.
	Timeout time.Duration
	// PollInterval separates reads of the iframe document after it loads.
	PollInterval time.Duration
}

// Expander implements crawler.Expander over a hidden iframe.
type Expander struct {
	eval     Evaluator
	selector string
	cfg      Config
	logger   *zap.Logger
}

// New builds an Expander reading the text node of the main article.
func New(eval Evaluator, selectors crawler.Selectors, cfg Config, logger *zap.Logger) *Expander {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{
		eval:     eval,
		selector: strings.TrimSpace(selectors.MainArticle + " " + selectors.Text),
		cfg:      cfg,
		logger:   logger,
	}
}

// Expand injects the iframe, waits for the text and removes the iframe on
// every path.
func (e *Expander) Expand(ctx context.Context, permalink string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout+time.Second)
	defer cancel()

	var text string
	if err := e.eval.EvaluateAsync(ctx, script(permalink, e.selector, e.cfg), &text); err != nil {
		e.logger.Debug("iframe expansion failed", zap.String("permalink", permalink), zap.Error(err))
		return "", fmt.Errorf("%w: %w", crawler.ErrNotAvailable, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", crawler.ErrNotAvailable
	}
	return text, nil
}

func script(permalink, selector string, cfg Config) string {
	return fmt.Sprintf(`(() => new Promise((resolve) => {
  const frame = document.createElement('iframe');
  frame.setAttribute('aria-hidden', 'true');
  frame.style.cssText = 'position:absolute;left:-10000px;top:-10000px;width:0;height:0;border:0;visibility:hidden;';
  let settled = false;
  let timer = null;
  let poller = null;
  const finish = (text) => {
    if (settled) return;
    settled = true;
    clearTimeout(timer);
    clearInterval(poller);
    frame.remove();
    resolve(text || '');
  };
  const read = () => {
    try {
      const doc = frame.contentDocument;
      const el = doc ? doc.querySelector(%[2]s) : null;
      if (el && el.innerText.trim() !== '') finish(el.innerText);
    } catch (e) {
      finish('');
    }
  };
  timer = setTimeout(() => finish(''), %[3]d);
  frame.onload = () => {
    read();
    if (!settled) poller = setInterval(read, %[4]d);
  };
  frame.onerror = () => finish('');
  frame.src = %[1]s;
  document.body.appendChild(frame);
}))()`,
		jsString(permalink),
		jsString(selector),
		cfg.Timeout.Milliseconds(),
		cfg.PollInterval.Milliseconds(),
	)
}

func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
