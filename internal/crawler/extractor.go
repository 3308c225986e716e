package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedharvest/internal/metrics"
)

// Expansion outcomes used as metric labels.
const (
	outcomeAdopted        = "adopted"
	outcomeShorter        = "shorter"
	outcomeUnavailable    = "unavailable"
	outcomePanic          = "panic"
	outcomeSkippedVisited = "skipped_visited"
	outcomeNoPermalink    = "no_permalink"
)

var errExpanderPanic = errors.New("expander panicked")

// Extractor turns surface items into records. Truncated items get at most one
// expansion attempt per permalink for the lifetime of the extractor.
type Extractor struct {
	expander Expander
	backend  string
	timeout  time.Duration
	visited  *visitedSet
	logger   *zap.Logger

	attempts atomic.Int64
	adopted  atomic.Int64
}

// NewExtractor wires an expansion backend into an Extractor. A nil expander
// behaves like a backend that never has the full text.
func NewExtractor(expander Expander, backend string, timeout time.Duration, logger *zap.Logger) *Extractor {
	if expander == nil {
		expander = noExpander{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultConfig().ExpansionTimeout
	}
	return &Extractor{
		expander: expander,
		backend:  backend,
		timeout:  timeout,
		visited:  newVisitedSet(),
		logger:   logger,
	}
}

// Extract builds a record from item. It reports false when the item has no
// usable text yet; such items stay unmarked so a later pass retries them.
// CollectedAt is left empty for the caller to stamp.
func (x *Extractor) Extract(ctx context.Context, item Item) (Record, bool) {
	if !item.HasText {
		return Record{}, false
	}
	text := strings.TrimSpace(item.Text)
	if text == "" {
		return Record{}, false
	}
	if item.Truncated {
		text = x.expandText(ctx, item.Permalink, text)
	}
	return Record{
		IdentityKey: IdentityKey(item.Permalink, item.Timestamp, text),
		Text:        text,
		Permalink:   optional(item.Permalink),
		Timestamp:   optional(item.Timestamp),
		IsExpanded:  item.Truncated,
		TextLength:  textLength(text),
	}, true
}

// Attempts returns the number of expansions started.
func (x *Extractor) Attempts() int {
	return int(x.attempts.Load())
}

// Adopted returns the number of expansions whose text replaced the truncated text.
func (x *Extractor) Adopted() int {
	return int(x.adopted.Load())
}

func (x *Extractor) expandText(ctx context.Context, permalink, truncated string) string {
	if permalink == "" {
		metrics.ObserveExpansion(x.backend, outcomeNoPermalink, 0)
		return truncated
	}
	if !x.visited.add(permalink) {
		metrics.ObserveExpansion(x.backend, outcomeSkippedVisited, 0)
		return truncated
	}
	x.attempts.Add(1)

	ctx, span := tracer.Start(ctx, "crawler.expand")
	span.SetAttributes(attribute.String("backend", x.backend), attribute.String("permalink", permalink))
	defer span.End()

	start := time.Now()
	full, err := x.guardedExpand(ctx, permalink)
	full = strings.TrimSpace(full)

	outcome := outcomeShorter
	result := truncated
	switch {
	case errors.Is(err, errExpanderPanic):
		outcome = outcomePanic
		span.SetStatus(codes.Error, err.Error())
		x.logger.Warn("expansion backend panicked", zap.String("permalink", permalink), zap.Error(err))
	case err != nil || full == "":
		outcome = outcomeUnavailable
		x.logger.Debug("full text not available", zap.String("permalink", permalink), zap.Error(err))
	case textLength(full) > textLength(truncated):
		outcome = outcomeAdopted
		result = full
		x.adopted.Add(1)
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	metrics.ObserveExpansion(x.backend, outcome, time.Since(start))
	return result
}

// guardedExpand calls the backend detached from stop cancellation, bounded by
// the extractor timeout, and converts a panic into an error.
func (x *Extractor) guardedExpand(ctx context.Context, permalink string) (text string, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %v", errExpanderPanic, r)
		}
	}()
	return x.expander.Expand(ctx, permalink)
}

type noExpander struct{}

func (noExpander) Expand(context.Context, string) (string, error) {
	return "", ErrNotAvailable
}
