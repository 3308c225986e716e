package crawler

import "time"

// Record is one harvested feed item. Field names are part of the checkpoint
// file format.
type Record struct {
	IdentityKey string  `json:"identityKey"`
	Text        string  `json:"text"`
	Permalink   *string `json:"permalink"`
	Timestamp   *string `json:"timestamp"`
	CollectedAt string  `json:"collectedAt"`
	IsExpanded  bool    `json:"isExpanded"`
	TextLength  int     `json:"textLength"`
}

// Item is a single rendered feed item as reported by a Surface.
type Item struct {
	// ID is the surface handle used to mark the item processed.
	ID        string
	Processed bool
	// HasText reports whether the primary text node exists at all.
	HasText   bool
	Text      string
	Truncated bool
	Permalink string
	Timestamp string
}

// State is the lifecycle state of an Engine.
type State string

// Engine lifecycle states.
const (
	StateIdle     State = "IDLE"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
)

// CrawlState tracks the loop counters for one run.
type CrawlState struct {
	State                        State     `json:"state"`
	ConsecutiveEmptyPasses       int       `json:"consecutive_empty_passes"`
	TotalPassesWithoutNewRecords int       `json:"total_passes_without_new_records"`
	Passes                       int       `json:"passes"`
	StartedAt                    time.Time `json:"started_at"`
	LastCheckpointSize           int       `json:"last_checkpoint_size"`
}

// Status is a point-in-time view of a run, served by the admin API.
type Status struct {
	RunID             string     `json:"run_id"`
	Crawl             CrawlState `json:"crawl"`
	Records           int        `json:"records"`
	ExpansionAttempts int        `json:"expansion_attempts"`
	Checkpoints       int        `json:"checkpoints"`
}

// Selectors locate feed items and their sub-elements in the rendered
// document.
type Selectors struct {
	Article     string `mapstructure:"article"`
	Text        string `mapstructure:"text"`
	ShowMore    string `mapstructure:"show_more"`
	Permalink   string `mapstructure:"permalink"`
	Timestamp   string `mapstructure:"timestamp"`
	MainArticle string `mapstructure:"main_article"`
}

// DefaultSelectors matches the X/Twitter timeline markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Article:     `article[role="article"]`,
		Text:        `[data-testid="tweetText"]`,
		ShowMore:    `[data-testid="tweet-text-show-more-link"]`,
		Permalink:   `a[role="link"][href*="/status/"]`,
		Timestamp:   `time`,
		MainArticle: `article[data-testid="tweet"]`,
	}
}

// Checkpoint is one serialized snapshot of the record set handed to sinks.
type Checkpoint struct {
	Name    string
	RunID   string
	Records []Record
	Payload []byte
}
