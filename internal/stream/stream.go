package stream

import (
	"context"
	"sync"
	"time"
)

// PromotionEvent describes a committed rank change for the admin dashboard
// feed.
type PromotionEvent struct {
	UserID    string    `json:"user_id"`
	OldRank   int       `json:"old_rank"`
	NewRank   int       `json:"new_rank"`
	Title     string    `json:"title,omitempty"`
	BonusPaid bool      `json:"bonus_paid"`
	Manual    bool      `json:"manual"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream fan-outs promotion events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan PromotionEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan PromotionEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan PromotionEvent {
	ch := make(chan PromotionEvent, 16)

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

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt PromotionEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
