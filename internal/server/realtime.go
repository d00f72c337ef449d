package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/internal/polaroids"
)

const (
	RealtimeEventStickerUpdate = "sticker-update"
	realtimeEventHeartbeat     = "heartbeat"
	heartbeatInterval          = 25 * time.Second
)

type RealtimeMessage struct {
	PolaroidID string                  `json:"polaroidId"`
	Status     polaroids.StickerStatus `json:"stickerStatus"`
	Timestamp  time.Time               `json:"timestamp"`
}

type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for sticker lifecycle events. Messages to a
// full stream are dropped so one stalled client cannot block the publishers.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context) (<-chan RealtimeMessage, func()) {
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(subscriber)
	cleanup := func() {
		d.unregisterSubscriber(subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishStickerUpdate broadcasts one status change to every subscriber.
func (d *RealtimeDispatcher) PublishStickerUpdate(polaroidID string, status polaroids.StickerStatus) {
	if polaroidID == "" || status == "" {
		return
	}
	d.Publish(RealtimeMessage{
		PolaroidID: polaroidID,
		Status:     status,
		Timestamp:  time.Now().UTC(),
	})
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	d.mu.RLock()
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}
