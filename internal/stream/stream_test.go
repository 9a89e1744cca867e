package stream

import (
	"context"
	"testing"
	"time"
)

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	evt := PromotionEvent{UserID: "u1", OldRank: 0, NewRank: 1, BonusPaid: true, Timestamp: time.Now().UTC()}
	s.Publish(evt)

	select {
	case got := <-ch:
		if got.UserID != "u1" || got.NewRank != 1 || !got.BonusPaid {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscribeClosesOnContextEnd(t *testing.T) {
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

	// Publishing after unsubscribe must not panic or block.
	s.Publish(PromotionEvent{UserID: "u2"})
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = s.Subscribe(ctx)
	done := make(chan struct{})
	go func() {
		// Overfill the buffered channel; Publish must drop, not block.
		for i := 0; i < 100; i++ {
			s.Publish(PromotionEvent{UserID: "u3", NewRank: i % 6})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}
