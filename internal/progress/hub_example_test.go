package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExampleHub totals newly harvested records across pass events.
func ExampleHub() {
	var harvested int64
	hub := NewHub(Config{MaxBatchWait: time.Second}, SinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			harvested += evt.NewRecords
		}
		return nil
	}))

	runID := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000002"))
	for _, n := range []int64{12, 0, 5} {
		hub.Emit(Event{RunID: runID, TS: time.Unix(0, 0), Stage: StagePassDone, NewRecords: n})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("records harvested: %d\n", harvested)
	// Output:
	// records harvested: 17
}
