package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryBus_PublishDelivers(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	var got []Event
	bus.Subscribe(TypeTaskCompleted, func(ctx context.Context, ev Event) error {
		got = append(got, ev)
		return nil
	})

	ev := Event{Type: TypeTaskCompleted, TaskID: "t1", Timestamp: time.Now().UTC()}
	if err := bus.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(got) != 1 || got[0].TaskID != "t1" {
		t.Fatalf("got %v, want one event for t1", got)
	}

	// Events of an unsubscribed type go nowhere without error.
	if err := bus.Publish(ctx, Event{Type: "other"}); err != nil {
		t.Fatalf("Publish (no subscribers): %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("handler received event of foreign type")
	}
}

func TestInMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	calls := 0
	unsub := bus.Subscribe(TypeTaskCompleted, func(ctx context.Context, ev Event) error {
		calls++
		return nil
	})

	if err := bus.Publish(ctx, Event{Type: TypeTaskCompleted}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	unsub()
	if err := bus.Publish(ctx, Event{Type: TypeTaskCompleted}); err != nil {
		t.Fatalf("Publish after unsubscribe: %v", err)
	}
	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
}

func TestInMemoryBus_HandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	boom := errors.New("boom")
	bus.Subscribe(TypeTaskCompleted, func(ctx context.Context, ev Event) error {
		return boom
	})
	second := false
	bus.Subscribe(TypeTaskCompleted, func(ctx context.Context, ev Event) error {
		second = true
		return nil
	})

	err := bus.Publish(ctx, Event{Type: TypeTaskCompleted})
	if err == nil {
		t.Fatal("expected error from failing handler")
	}
	if !second {
		t.Fatal("second handler not invoked after first failed")
	}
}
