package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotAvailable signals that an expansion backend could not produce the
// full text for a permalink.
var ErrNotAvailable = errors.New("full text not available")

// Surface is the rendering surface the engine reads from and scrolls.
type Surface interface {
	// Items enumerates every feed item currently attached to the document.
	Items(ctx context.Context) ([]Item, error)
	// MarkProcessed tags the item so later passes skip it.
	MarkProcessed(ctx context.Context, id string) error
	// ScrollBy advances the scroll position with smooth motion.
	ScrollBy(ctx context.Context, distance int) error
}

// Expander fetches the full text for a truncated item. Implementations must
// bound their own wait and tear down any auxiliary surface on every path.
type Expander interface {
	Expand(ctx context.Context, permalink string) (string, error)
}

// Sink persists a checkpoint and returns a URI describing where it went.
type Sink interface {
	Save(ctx context.Context, cp Checkpoint) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes checkpoint notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for checkpoint integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
