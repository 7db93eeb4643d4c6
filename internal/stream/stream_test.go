package stream

import (
	"context"
	"testing"
	"time"

	"seatgrid.io/internal/impersonation"
)

func TestPublishReachesSubscribers(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)

	s.Publish(impersonation.AuditEntry{ID: "e-1", SessionID: "sess-1"})

	for name, ch := range map[string]<-chan impersonation.AuditEntry{"a": a, "b": b} {
		select {
		case entry := <-ch:
			if entry.ID != "e-1" {
				t.Fatalf("subscriber %s: unexpected entry %+v", name, entry)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s did not receive entry", name)
		}
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = s.Subscribe(ctx) // never drained

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s.Publish(impersonation.AuditEntry{ID: "e", SessionID: "sess"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestSubscribeClosesOnContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
