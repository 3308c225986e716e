// Package snapshot serves a saved feed page as a crawl surface. Articles are
// revealed a page at a time on every scroll so the engine's termination
// policy runs the same way it does against a live feed.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedharvest/internal/crawler"
)

// DefaultPageSize is the number of articles revealed per scroll.
const DefaultPageSize = 5

// Options configures a snapshot Surface.
type Options struct {
	// BaseURL resolves relative permalinks.
	BaseURL  string
	PageSize int
	Logger   *zap.Logger
}

// Surface implements crawler.Surface over a parsed HTML document.
type Surface struct {
	mu        sync.Mutex
	items     []crawler.Item
	revealed  int
	pageSize  int
	processed map[string]bool
	logger    *zap.Logger
}

// Open parses the snapshot at path.
func Open(path string, selectors crawler.Selectors, opts Options) (*Surface, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return New(f, selectors, opts)
}

// New parses a snapshot from r.
func New(r io.Reader, selectors crawler.Selectors, opts Options) (*Surface, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	var base *url.URL
	if opts.BaseURL != "" {
		if base, err = url.Parse(opts.BaseURL); err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	items := parseItems(doc, selectors, base)
	s := &Surface{
		items:     items,
		pageSize:  opts.PageSize,
		processed: make(map[string]bool),
		logger:    opts.Logger,
	}
	s.revealed = min(opts.PageSize, len(items))
	s.logger.Info("snapshot loaded", zap.Int("articles", len(items)))
	return s, nil
}

func parseItems(doc *goquery.Document, sel crawler.Selectors, base *url.URL) []crawler.Item {
	var items []crawler.Item
	doc.Find(sel.Article).Each(func(i int, article *goquery.Selection) {
		textEl := article.Find(sel.Text).First()
		item := crawler.Item{
			ID:        strconv.Itoa(i + 1),
			HasText:   textEl.Length() > 0,
			Text:      textEl.Text(),
			Truncated: article.Find(sel.ShowMore).Length() > 0,
		}
		if href, ok := article.Find(sel.Permalink).First().Attr("href"); ok {
			item.Permalink = resolve(base, strings.TrimSpace(href))
		}
		if ts, ok := article.Find(sel.Timestamp).First().Attr("datetime"); ok {
			item.Timestamp = strings.TrimSpace(ts)
		}
		items = append(items, item)
	})
	return items
}

func resolve(base *url.URL, href string) string {
	if base == nil || href == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// Items returns the revealed articles.
func (s *Surface) Items(ctx context.Context) ([]crawler.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawler.Item, 0, s.revealed)
	for _, item := range s.items[:s.revealed] {
		item.Processed = s.processed[item.ID]
		out = append(out, item)
	}
	return out, nil
}

// MarkProcessed records the processed marker for id.
func (s *Surface) MarkProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := strconv.Atoi(id)
	if err != nil || idx < 1 || idx > s.revealed {
		return fmt.Errorf("mark %s: article detached", id)
	}
	s.processed[id] = true
	return nil
}

// ScrollBy reveals the next page of articles. The distance is ignored.
func (s *Surface) ScrollBy(ctx context.Context, _ int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revealed = min(s.revealed+s.pageSize, len(s.items))
	return nil
}

// Len reports the number of articles in the snapshot.
func (s *Surface) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
