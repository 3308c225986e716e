package crawler

import (
	"fmt"
	"time"
)

// Config holds the policy knobs for one crawl run. It is decoupled from
// Viper so the engine can be configured directly in tests.
type Config struct {
	// Prefix and User form the checkpoint file name.
	Prefix string
	User   string

	DelayMin  time.Duration
	DelayMax  time.Duration
	ScrollMin int
	ScrollMax int

	// MaxUnchangedScrolls is the number of consecutive passes without a new
	// record after which the run stops.
	MaxUnchangedScrolls int
	// CheckpointInterval triggers a checkpoint whenever the index size
	// crosses a multiple of it.
	CheckpointInterval int

	// ExpansionTimeout is the outer ceiling applied around every expansion.
	ExpansionTimeout time.Duration
	// ExpansionBackend labels expansion metrics.
	ExpansionBackend string
	// FinalFlushTimeout bounds the persistence call made while stopping.
	FinalFlushTimeout time.Duration
}

// DefaultConfig returns the default timeline pacing.
func DefaultConfig() Config {
	return Config{
		Prefix:              "x_posts",
		User:                "unknown",
		DelayMin:            1500 * time.Millisecond,
		DelayMax:            4000 * time.Millisecond,
		ScrollMin:           150,
		ScrollMax:           500,
		MaxUnchangedScrolls: 15,
		CheckpointInterval:  50,
		ExpansionTimeout:    15 * time.Second,
		ExpansionBackend:    "newtab",
		FinalFlushTimeout:   30 * time.Second,
	}
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.Prefix == "" {
		return fmt.Errorf("prefix must be set")
	}
	if c.DelayMin < 0 || c.DelayMax < c.DelayMin {
		return fmt.Errorf("scroll delay range [%s, %s] is invalid", c.DelayMin, c.DelayMax)
	}
	if c.ScrollMin < 0 || c.ScrollMax < c.ScrollMin {
		return fmt.Errorf("scroll distance range [%d, %d] is invalid", c.ScrollMin, c.ScrollMax)
	}
	if c.MaxUnchangedScrolls <= 0 {
		return fmt.Errorf("max unchanged scrolls must be > 0")
	}
	if c.CheckpointInterval <= 0 {
		return fmt.Errorf("checkpoint interval must be > 0")
	}
	if c.ExpansionTimeout <= 0 {
		return fmt.Errorf("expansion timeout must be > 0")
	}
	if c.FinalFlushTimeout <= 0 {
		return fmt.Errorf("final flush timeout must be > 0")
	}
	return nil
}
