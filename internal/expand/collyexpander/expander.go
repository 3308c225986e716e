// Package collyexpander expands truncated posts by fetching the permalink
// directly with colly and reading the text from the returned markup. Pages
// that only render their text client-side yield "not available".
package collyexpander

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedharvest/internal/crawler"
	"github.com/JakeFAU/feedharvest/internal/metrics"
	"github.com/JakeFAU/feedharvest/internal/policy/ratelimit"
)

// Config controls the collector.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// QPS spaces requests per host; zero disables pacing.
	QPS float64
}

// Expander implements crawler.Expander with plain HTTP fetches.
type Expander struct {
	cfg           Config
	selector      string
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	logger        *zap.Logger
}

// New builds an Expander reading the text node of the main article.
func New(cfg Config, selectors crawler.Selectors, logger *zap.Logger) *Expander {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Expander{
		cfg:           cfg,
		selector:      strings.TrimSpace(selectors.MainArticle + " " + selectors.Text),
		baseCollector: c,
		limiter:       ratelimit.New(ratelimit.Config{RPS: cfg.QPS}),
		logger:        logger,
	}
}

// Expand fetches permalink and extracts the post text.
func (e *Expander) Expand(ctx context.Context, permalink string) (string, error) {
	if err := e.limiter.Wait(ctx, permalink); err != nil {
		return "", fmt.Errorf("%w: %w", crawler.ErrNotAvailable, err)
	}

	var (
		text     string
		fetchErr error
	)
	collector := e.baseCollector.Clone()
	collector.Context = ctx
	if e.cfg.UserAgent != "" {
		collector.UserAgent = e.cfg.UserAgent
	}
	collector.SetRequestTimeout(e.cfg.Timeout)
	collector.OnResponse(func(r *colly.Response) {
		metrics.ObserveFetch(r.Request.URL.String(), len(r.Body))
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		if err != nil {
			fetchErr = fmt.Errorf("parse markup: %w", err)
			return
		}
		text = extractText(doc, e.selector)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := runCollector(ctx, collector, permalink, &fetchErr); err != nil {
		e.logger.Debug("direct fetch failed", zap.String("permalink", permalink), zap.Error(err))
		return "", fmt.Errorf("%w: %w", crawler.ErrNotAvailable, err)
	}
	if text == "" {
		return "", crawler.ErrNotAvailable
	}
	return text, nil
}

// extractText reads the selector's text, falling back to the Open Graph
// description that server-rendered permalink pages carry.
func extractText(doc *goquery.Document, selector string) string {
	if selector != "" {
		if text := strings.TrimSpace(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	for _, meta := range []string{`meta[property="og:description"]`, `meta[name="description"]`} {
		if content, ok := doc.Find(meta).First().Attr("content"); ok {
			if text := strings.TrimSpace(content); text != "" {
				return text
			}
		}
	}
	return ""
}

func runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
