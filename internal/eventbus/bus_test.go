package eventbus

import (
	"context"
	"errors"
	"testing"
)

func TestBusPublishBroadcast(t *testing.T) {
	bus := NewBus()
	calledA := false
	calledB := false

	bus.Subscribe(ReportEventCompleted, func(ctx context.Context, event ReportEvent) error {
		calledA = true
		return nil
	})
	bus.Subscribe(ReportEventCompleted, func(ctx context.Context, event ReportEvent) error {
		calledB = true
		return nil
	})

	if err := bus.Publish(context.Background(), ReportEvent{Type: ReportEventCompleted}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !calledA || !calledB {
		t.Fatalf("expected handlers to be called")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	called := false
	unsubscribe := bus.Subscribe(ReportEventStarted, func(ctx context.Context, event ReportEvent) error {
		called = true
		return nil
	})
	unsubscribe()

	if err := bus.Publish(context.Background(), ReportEvent{Type: ReportEventStarted}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatalf("expected handler to be unsubscribed")
	}
}

func TestBusPublishJoinErrors(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(ReportEventFailed, func(ctx context.Context, event ReportEvent) error {
		return errors.New("err-a")
	})
	bus.Subscribe(ReportEventFailed, func(ctx context.Context, event ReportEvent) error {
		return errors.New("err-b")
	})

	if err := bus.Publish(context.Background(), ReportEvent{Type: ReportEventFailed}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBusIgnoresOtherEventTypes(t *testing.T) {
	bus := NewBus()
	called := false
	bus.Subscribe(ReportEventCompleted, func(ctx context.Context, event ReportEvent) error {
		called = true
		return nil
	})

	if err := bus.Publish(context.Background(), ReportEvent{Type: ReportEventFailed}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatalf("handler must not fire for other event types")
	}
}
