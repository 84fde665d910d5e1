package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCountingSink struct {
	tokens int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		if evt.Stage == StageTokenDone {
			s.tokens++
		}
	}
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting token events and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1, MaxBatchWait: time.Second}, sink)

	runID := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001"))
	for id := int64(1); id <= 3; id++ {
		hub.Emit(Event{
			RunID:    runID,
			TS:       time.Unix(0, 0),
			Stage:    StageTokenDone,
			Chain:    "ethereum",
			Contract: "0xabc",
			TokenID:  id,
			Attempts: 1,
		})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("tokens stored: %d\n", sink.tokens)
	// Output:
	// tokens stored: 3
}
