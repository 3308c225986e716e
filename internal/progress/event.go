package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StagePassDone   Stage = "PASS_DONE"
	StageCheckpoint Stage = "CHECKPOINT"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// Lifecycle reports whether the stage marks a run boundary or a persisted
// checkpoint. The hub never drops these for backpressure alone.
func (s Stage) Lifecycle() bool {
	switch s {
	case StageRunStart, StageCheckpoint, StageRunDone, StageRunError:
		return true
	default:
		return false
	}
}

// Event captures a single component of crawl progress.
type Event struct {
	// RunID uniquely identifies a crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// NewRecords is the number of records a pass inserted.
	NewRecords int64
	// Total is the index size after the milestone.
	Total int64
	// URI is the checkpoint destination for CHECKPOINT events.
	URI string
	// Dur captures pass latency or the whole run's wall time.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StagePassDone, StageRunDone, StageRunError:
	case StageCheckpoint:
		if e.URI == "" {
			return errors.New("checkpoint requires uri")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.NewRecords < 0 || e.Total < 0 {
		return errors.New("record counts must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
