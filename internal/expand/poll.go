package expand

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/feedharvest/internal/crawler"
)

// ErrSurfaceClosed is returned by a Probe when the auxiliary surface it reads
// from has gone away.
var ErrSurfaceClosed = errors.New("auxiliary surface closed")

// Outcome is a state of the polling machine.
type Outcome string

// Polling states. WAITING is the only non-terminal state.
const (
	Waiting  Outcome = "WAITING"
	Found    Outcome = "FOUND"
	Closed   Outcome = "CLOSED"
	TimedOut Outcome = "TIMED_OUT"
)

// PollConfig bounds a poll.
type PollConfig struct {
	// InitialDelay is waited once before the first probe.
	InitialDelay time.Duration
	// Interval separates consecutive probes.
	Interval time.Duration
	// MaxRetries caps the number of probes.
	MaxRetries int
}

// DefaultPollConfig waits one second, then probes every 500ms up to ten times.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialDelay: time.Second,
		Interval:     500 * time.Millisecond,
		MaxRetries:   10,
	}
}

// Probe reads the surface once. It returns "" while the text is not rendered
// yet, ErrSurfaceClosed once the surface is gone, and any other error for a
// transient read failure.
type Probe func(ctx context.Context) (string, error)

// Result is the terminal state of a poll.
type Result struct {
	Outcome  Outcome
	Text     string
	Attempts int
	// LastErr is the most recent transient probe error, if any.
	LastErr error
}

// Resolve converts the result into the Expander contract.
func (r Result) Resolve() (string, error) {
	if r.Outcome == Found {
		return r.Text, nil
	}
	if r.LastErr != nil {
		return "", fmt.Errorf("%w: %s after %d attempts: %w", crawler.ErrNotAvailable, r.Outcome, r.Attempts, r.LastErr)
	}
	return "", fmt.Errorf("%w: %s after %d attempts", crawler.ErrNotAvailable, r.Outcome, r.Attempts)
}

type poller struct {
	cfg    PollConfig
	probe  Probe
	result Result
}

// Poll drives probe through WAITING until it reaches FOUND, CLOSED or
// TIMED_OUT. It transitions exactly once into a terminal state. A canceled
// ctx ends the wait as TIMED_OUT.
func Poll(ctx context.Context, cfg PollConfig, probe Probe) Result {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	p := &poller{cfg: cfg, probe: probe, result: Result{Outcome: Waiting}}
	if !sleep(ctx, cfg.InitialDelay) {
		p.result.Outcome = TimedOut
		return p.result
	}
	for p.result.Outcome == Waiting {
		p.step(ctx)
	}
	return p.result
}

func (p *poller) step(ctx context.Context) {
	p.result.Attempts++
	text, err := p.probe(ctx)
	switch {
	case errors.Is(err, ErrSurfaceClosed):
		p.result.Outcome = Closed
		return
	case err != nil:
		p.result.LastErr = err
	case text != "":
		p.result.Outcome = Found
		p.result.Text = text
		return
	}
	if p.result.Attempts >= p.cfg.MaxRetries || !sleep(ctx, p.cfg.Interval) {
		p.result.Outcome = TimedOut
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
