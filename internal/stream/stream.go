package stream

import (
	"context"
	"sync"

	"seatgrid.io/internal/impersonation"
)

// Stream fan-outs audit entries to all active subscribers (the SSE feed
// behind the audit log viewer).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan impersonation.AuditEntry
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan impersonation.AuditEntry)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// entries. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan impersonation.AuditEntry {
	ch := make(chan impersonation.AuditEntry, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the entry to all subscribers.
func (s *Stream) Publish(entry impersonation.AuditEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- entry:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
