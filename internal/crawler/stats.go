package crawler

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Stats summarizes a run.
type Stats struct {
	Records           int           `json:"records"`
	Elapsed           time.Duration `json:"elapsed"`
	RecordsPerSecond  float64       `json:"records_per_second"`
	ExpandedRecords   int           `json:"expanded_records"`
	ExpansionAttempts int           `json:"expansion_attempts"`
	ExpansionsAdopted int           `json:"expansions_adopted"`
	Passes            int           `json:"passes"`
	Checkpoints       int           `json:"checkpoints"`
}

// RecordsPerSecond returns records/elapsed, or 0 when less than a
// millisecond has elapsed.
func RecordsPerSecond(records int, elapsed time.Duration) float64 {
	if elapsed < time.Millisecond {
		return 0
	}
	return float64(records) / elapsed.Seconds()
}

// String renders the end-of-run summary line.
func (s Stats) String() string {
	return fmt.Sprintf(
		"harvested %d records in %s (%.2f/s); %d expanded, %d of %d expansion attempts adopted; %d passes, %d checkpoints",
		s.Records,
		s.Elapsed.Round(time.Millisecond),
		s.RecordsPerSecond,
		s.ExpandedRecords,
		s.ExpansionsAdopted,
		s.ExpansionAttempts,
		s.Passes,
		s.Checkpoints,
	)
}

// Fields renders the stats as structured log fields.
func (s Stats) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("records", s.Records),
		zap.Duration("elapsed", s.Elapsed),
		zap.Float64("records_per_second", s.RecordsPerSecond),
		zap.Int("expanded_records", s.ExpandedRecords),
		zap.Int("expansion_attempts", s.ExpansionAttempts),
		zap.Int("expansions_adopted", s.ExpansionsAdopted),
		zap.Int("passes", s.Passes),
		zap.Int("checkpoints", s.Checkpoints),
	}
}

// Report logs the summary once and returns it.
func Report(logger *zap.Logger, s Stats) string {
	summary := s.String()
	if logger != nil {
		logger.Info(summary, s.Fields()...)
	}
	return summary
}
