package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/feedharvest/internal/crawler"
)

const feedPage = `<!doctype html><html><body><main>
<article role="article">
  <a role="link" href="/alice/status/1"><time datetime="2024-03-05T07:00:00.000Z">1h</time></a>
  <div data-testid="tweetText">first post</div>
</article>
<article role="article">
  <a role="link" href="https://x.com/bob/status/2"><time datetime="2024-03-05T06:00:00.000Z">2h</time></a>
  <div data-testid="tweetText">second post, cut short</div>
  <span data-testid="tweet-text-show-more-link">Show more</span>
</article>
<article role="article">
  <a role="link" href="/carol/status/3"><time datetime="2024-03-05T05:00:00.000Z">3h</time></a>
</article>
</main></body></html>`

func TestParseSnapshot(t *testing.T) {
	t.Parallel()

	s, err := New(strings.NewReader(feedPage), crawler.DefaultSelectors(), Options{BaseURL: "https://x.com/home", PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())

	items, err := s.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "1", items[0].ID)
	assert.True(t, items[0].HasText)
	assert.Equal(t, "first post", items[0].Text)
	assert.False(t, items[0].Truncated)
	assert.Equal(t, "https://x.com/alice/status/1", items[0].Permalink)
	assert.Equal(t, "2024-03-05T07:00:00.000Z", items[0].Timestamp)

	assert.True(t, items[1].Truncated)
	assert.Equal(t, "https://x.com/bob/status/2", items[1].Permalink)

	assert.False(t, items[2].HasText)
}

func TestScrollRevealsPages(t *testing.T) {
	t.Parallel()

	s, err := New(strings.NewReader(feedPage), crawler.DefaultSelectors(), Options{PageSize: 2})
	require.NoError(t, err)
	ctx := context.Background()

	items, err := s.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	require.NoError(t, s.ScrollBy(ctx, 300))
	items, err = s.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	require.NoError(t, s.ScrollBy(ctx, 300))
	items, err = s.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestMarkProcessed(t *testing.T) {
	t.Parallel()

	s, err := New(strings.NewReader(feedPage), crawler.DefaultSelectors(), Options{PageSize: 1})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.MarkProcessed(ctx, "1"))
	require.Error(t, s.MarkProcessed(ctx, "2"), "not yet revealed")
	require.Error(t, s.MarkProcessed(ctx, "nope"))

	items, err := s.Items(ctx)
	require.NoError(t, err)
	assert.True(t, items[0].Processed)
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "missing.html"), crawler.DefaultSelectors(), Options{})
	require.Error(t, err)
}

func TestEngineHarvestsSnapshot(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feed.html")
	require.NoError(t, os.WriteFile(path, []byte(feedPage), 0o600))
	s, err := Open(path, crawler.DefaultSelectors(), Options{BaseURL: "https://x.com/", PageSize: 1})
	require.NoError(t, err)

	cfg := crawler.DefaultConfig()
	cfg.User = "alice"
	cfg.DelayMin, cfg.DelayMax = 0, 0
	cfg.MaxUnchangedScrolls = 2
	engine, err := crawler.NewEngine(cfg, crawler.Deps{Surface: s})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Run(ctx))

	records := engine.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "first post", records[0].Text)
	assert.True(t, records[1].IsExpanded)
}
