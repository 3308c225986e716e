package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedharvest/internal/crawler"
)

// Surface implements crawler.Surface over the browser's feed tab.
type Surface struct {
	browser   *Browser
	selectors crawler.Selectors
	logger    *zap.Logger
	script    string
}

// NewSurface binds the feed tab of b to the given selectors.
func NewSurface(b *Browser, selectors crawler.Selectors, logger *zap.Logger) *Surface {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Surface{
		browser:   b,
		selectors: selectors,
		logger:    logger,
		script:    itemsScript(selectors),
	}
}

// Navigate opens the feed and waits for the first article to render.
func (s *Surface) Navigate(ctx context.Context, url string) error {
	err := s.browser.run(ctx, s.browser.cfg.NavTimeout,
		chromedp.Navigate(url),
		chromedp.WaitVisible(s.selectors.Article, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("open feed %s: %w", url, err)
	}
	s.logger.Info("feed loaded", zap.String("url", url))
	return nil
}

// Items enumerates attached articles, tagging new ones with a stable id.
func (s *Surface) Items(ctx context.Context) ([]crawler.Item, error) {
	var raw []scriptItem
	if err := s.browser.run(ctx, 0, chromedp.Evaluate(s.script, &raw)); err != nil {
		return nil, fmt.Errorf("enumerate items: %w", err)
	}
	return toItems(raw), nil
}

// MarkProcessed sets the processed marker on the article.
func (s *Surface) MarkProcessed(ctx context.Context, id string) error {
	var found bool
	if err := s.browser.run(ctx, 0, chromedp.Evaluate(markScript(id), &found)); err != nil {
		return fmt.Errorf("mark %s: %w", id, err)
	}
	if !found {
		return fmt.Errorf("mark %s: article detached", id)
	}
	return nil
}

// ScrollBy scrolls the feed window with smooth motion.
func (s *Surface) ScrollBy(ctx context.Context, distance int) error {
	expr := fmt.Sprintf("window.scrollBy({top: %d, left: 0, behavior: 'smooth'})", distance)
	if err := s.browser.run(ctx, 0, chromedp.Evaluate(expr, nil)); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

// EvaluateAsync evaluates expr in the feed tab, awaiting a returned promise.
func (s *Surface) EvaluateAsync(ctx context.Context, expr string, res any) error {
	return s.browser.run(ctx, 0, chromedp.Evaluate(expr, res, awaitPromise))
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

type scriptItem struct {
	ID        string `json:"id"`
	Processed bool   `json:"processed"`
	HasText   bool   `json:"hasText"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
	Permalink string `json:"permalink"`
	Timestamp string `json:"timestamp"`
}

func toItems(raw []scriptItem) []crawler.Item {
	items := make([]crawler.Item, 0, len(raw))
	for _, r := range raw {
		items = append(items, crawler.Item{
			ID:        r.ID,
			Processed: r.Processed,
			HasText:   r.HasText,
			Text:      r.Text,
			Truncated: r.Truncated,
			Permalink: strings.TrimSpace(r.Permalink),
			Timestamp: strings.TrimSpace(r.Timestamp),
		})
	}
	return items
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

func itemsScript(sel crawler.Selectors) string {
	return fmt.Sprintf(`(() => {
  const root = document.documentElement;
  let seq = Number(root.getAttribute('data-harvest-seq') || '0');
  const out = [];
  for (const article of document.querySelectorAll(%s)) {
    let id = article.getAttribute('data-harvest-id');
    if (!id) {
      seq += 1;
      id = String(seq);
      article.setAttribute('data-harvest-id', id);
    }
    const textEl = article.querySelector(%s);
    const linkEl = article.querySelector(%s);
    const timeEl = article.querySelector(%s);
    out.push({
      id: id,
      processed: article.getAttribute('data-harvest-processed') === 'true',
      hasText: !!textEl,
      text: textEl ? textEl.innerText : '',
      truncated: !!article.querySelector(%s),
      permalink: linkEl ? linkEl.href : '',
      timestamp: timeEl ? (timeEl.getAttribute('datetime') || '') : '',
    });
  }
  root.setAttribute('data-harvest-seq', String(seq));
  return out;
})()`,
		jsString(sel.Article),
		jsString(sel.Text),
		jsString(sel.Permalink),
		jsString(sel.Timestamp),
		jsString(sel.ShowMore),
	)
}

func markScript(id string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector('[data-harvest-id="' + CSS.escape(%s) + '"]');
  if (!el) return false;
  el.setAttribute('data-harvest-processed', 'true');
  return true;
})()`, jsString(id))
}

func textScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  return el ? el.innerText : '';
})()`, jsString(selector))
}
