package main

import (
	"context"
	"fmt"
	"time"

	"github.com/vectorflow/conduit/internal/buffer"
	"github.com/vectorflow/conduit/internal/buffer/memory"
	"github.com/vectorflow/conduit/internal/event"
)

// runDropNewestDemo is spec.md §8 scenario S4: an in-memory buffer capped
// at 2 batches under DropNewest accepts only the first 2 of 5 sent
// batches, and reports the other 3 as dropped.
func runDropNewestDemo() error {
	buf, err := memory.New(memory.Options{MaxEvents: 2, WhenFull: buffer.DropNewest})
	if err != nil {
		return fmt.Errorf("opening memory buffer: %w", err)
	}
	defer buf.Close()

	fmt.Println("1. sending 5 batches without reading...")
	for i := 0; i < 5; i++ {
		arr, err := event.NewEventArray(event.KindLog, []event.Event{
			{Kind: event.KindLog, Log: &event.LogPayload{Fields: map[string]any{"msg": fmt.Sprintf("batch-%d", i)}}},
		})
		if err != nil {
			return fmt.Errorf("building batch %d: %w", i, err)
		}
		if err := buf.TrySend(arr); err != nil {
			return fmt.Errorf("sending batch %d: %w", i, err)
		}
	}

	if got := buf.Dropped(); got != 3 {
		return fmt.Errorf("Dropped() = %d, want 3", got)
	}
	fmt.Println("2. Dropped()=3 ✓")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		got, err := buf.Next(ctx)
		if err != nil {
			return fmt.Errorf("reading batch %d: %w", i, err)
		}
		want := fmt.Sprintf("batch-%d", i)
		if got.Events[0].Log.Fields["msg"] != want {
			return fmt.Errorf("batch %d msg = %v, want %s", i, got.Events[0].Log.Fields["msg"], want)
		}
	}
	fmt.Println("3. reader sees exactly the first 2 batches ✓")
	return nil
}
