package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedharvest/internal/metrics"
)

// DefaultContentType is used for checkpoint blobs when none is configured.
const DefaultContentType = "application/json"

// NamedSink is a Sink that reports a short label for logs and metrics.
type NamedSink interface {
	Sink
	Name() string
}

// Notification is published after each successful checkpoint write.
type Notification struct {
	RunID   string `json:"run_id"`
	URI     string `json:"uri"`
	Records int    `json:"records"`
	SHA256  string `json:"sha256,omitempty"`
}

// FlushResult describes one checkpoint flush.
type FlushResult struct {
	Name    string
	Records int
	URIs    []string
	Digest  string
}

// CheckpointerOptions configures a Checkpointer.
type CheckpointerOptions struct {
	Prefix    string
	User      string
	RunID     string
	Sinks     []NamedSink
	Publisher Publisher
	Topic     string
	Hasher    Hasher
	Clock     Clock
	Logger    *zap.Logger
}

// Checkpointer serializes the record set and hands it to every configured
// sink. It never mutates the records it is given.
type Checkpointer struct {
	opts   CheckpointerOptions
	logger *zap.Logger

	mu   sync.Mutex
	last time.Time
}

// NewCheckpointer builds a Checkpointer.
func NewCheckpointer(opts CheckpointerOptions) *Checkpointer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = wallClock{}
	}
	return &Checkpointer{opts: opts, logger: logger}
}

// Flush writes records as a two-space indented JSON array to every sink.
// An empty record set writes nothing. Sink failures are logged, counted and
// joined into the returned error; successful sinks still report their URIs.
func (c *Checkpointer) Flush(ctx context.Context, records []Record) (FlushResult, error) {
	if len(records) == 0 {
		return FlushResult{}, nil
	}
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return FlushResult{}, fmt.Errorf("marshal checkpoint: %w", err)
	}
	res := FlushResult{
		Name:    c.nextName(),
		Records: len(records),
	}
	if c.opts.Hasher != nil {
		digest, hashErr := c.opts.Hasher.Hash(payload)
		if hashErr != nil {
			c.logger.Warn("checkpoint digest failed", zap.Error(hashErr))
		}
		res.Digest = digest
	}

	cp := Checkpoint{
		Name:    res.Name,
		RunID:   c.opts.RunID,
		Records: records,
		Payload: payload,
	}
	var errs []error
	for _, sink := range c.opts.Sinks {
		uri, saveErr := sink.Save(ctx, cp)
		if saveErr != nil {
			metrics.ObserveCheckpoint(sink.Name(), "error")
			c.logger.Error("checkpoint sink failed",
				zap.String("sink", sink.Name()),
				zap.String("name", res.Name),
				zap.Error(saveErr),
			)
			errs = append(errs, fmt.Errorf("sink %s: %w", sink.Name(), saveErr))
			continue
		}
		metrics.ObserveCheckpoint(sink.Name(), "success")
		c.logger.Info("checkpoint saved",
			zap.String("sink", sink.Name()),
			zap.String("uri", uri),
			zap.Int("records", res.Records),
		)
		res.URIs = append(res.URIs, uri)
		c.notify(ctx, uri, res)
	}
	return res, errors.Join(errs...)
}

func (c *Checkpointer) notify(ctx context.Context, uri string, res FlushResult) {
	if c.opts.Publisher == nil || c.opts.Topic == "" {
		return
	}
	msg := Notification{
		RunID:   c.opts.RunID,
		URI:     uri,
		Records: res.Records,
		SHA256:  res.Digest,
	}
	if _, err := c.opts.Publisher.Publish(ctx, c.opts.Topic, msg); err != nil {
		c.logger.Warn("checkpoint notification failed", zap.String("uri", uri), zap.Error(err))
	}
}

// nextName returns a checkpoint name whose timestamp is strictly after the
// previous one at millisecond resolution.
func (c *Checkpointer) nextName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	at := c.opts.Clock.Now().UTC().Truncate(time.Millisecond)
	if !at.After(c.last) {
		at = c.last.Add(time.Millisecond)
	}
	c.last = at
	return CheckpointName(c.opts.Prefix, c.opts.User, at)
}

// BlobSink adapts a BlobStore to the Sink interface.
type BlobSink struct {
	name        string
	store       BlobStore
	contentType string
}

// NewBlobSink wraps store; name labels metrics and logs.
func NewBlobSink(name string, store BlobStore, contentType string) *BlobSink {
	if contentType == "" {
		contentType = DefaultContentType
	}
	return &BlobSink{name: name, store: store, contentType: contentType}
}

// Name implements NamedSink.
func (s *BlobSink) Name() string {
	return s.name
}

// Save writes the serialized payload under the checkpoint name.
func (s *BlobSink) Save(ctx context.Context, cp Checkpoint) (string, error) {
	uri, err := s.store.PutObject(ctx, cp.Name, s.contentType, bytes.NewReader(cp.Payload))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", cp.Name, err)
	}
	return uri, nil
}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now().UTC()
}
