package server

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/internal/polaroids"
)

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	dispatcher.PublishStickerUpdate("polaroid-1", polaroids.StickerStatusComplete)

	select {
	case received := <-stream:
		if received.PolaroidID != "polaroid-1" {
			t.Fatalf("expected polaroid-1, got %s", received.PolaroidID)
		}
		if received.Status != polaroids.StickerStatusComplete {
			t.Fatalf("expected complete status, got %s", received.Status)
		}
		if received.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be stamped")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestRealtimeDispatcherFansOutToEverySubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, firstCleanup := dispatcher.Subscribe(ctx)
	defer firstCleanup()
	second, secondCleanup := dispatcher.Subscribe(ctx)
	defer secondCleanup()

	dispatcher.PublishStickerUpdate("polaroid-2", polaroids.StickerStatusFailed)

	for _, stream := range []<-chan RealtimeMessage{first, second} {
		select {
		case received := <-stream:
			if received.Status != polaroids.StickerStatusFailed {
				t.Fatalf("expected failed status, got %s", received.Status)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatal("expected every subscriber to receive the update")
		}
	}
}

func TestRealtimeDispatcherUnsubscribeStopsDelivery(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	cleanup()

	dispatcher.PublishStickerUpdate("polaroid-3", polaroids.StickerStatusComplete)

	select {
	case <-stream:
		t.Fatal("did not expect a message after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRealtimeDispatcherIgnoresEmptyPolaroidID(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	dispatcher.PublishStickerUpdate("", polaroids.StickerStatusComplete)

	select {
	case <-stream:
		t.Fatal("did not expect a message for an empty identifier")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRealtimeDispatcherNeverBlocksOnStalledSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for index := 0; index < dispatcher.bufferSize+8; index++ {
			dispatcher.PublishStickerUpdate("polaroid-4", polaroids.StickerStatusPending)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing must not block on a stalled subscriber")
	}

	delivered := 0
	for {
		select {
		case <-stream:
			delivered++
		default:
			if delivered == 0 {
				t.Fatal("expected buffered messages to remain deliverable")
			}
			if delivered > dispatcher.bufferSize {
				t.Fatalf("expected at most %d buffered messages, got %d", dispatcher.bufferSize, delivered)
			}
			return
		}
	}
}
