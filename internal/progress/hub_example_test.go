package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	written int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		if evt.Stage == StageItemDone && evt.Outcome == OutcomeWritten {
			s.written++
		}
	}
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting item events and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{MaxBatchEvents: 10, FlushInterval: time.Second}, sink)

	for _, id := range []string{"101", "102"} {
		hub.Emit(Event{
			JobID:   "job-1",
			TS:      time.Unix(0, 0),
			Stage:   StageItemDone,
			ItemID:  id,
			Outcome: OutcomeWritten,
		})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}
	fmt.Println(sink.written)
	// Output: 2
}
