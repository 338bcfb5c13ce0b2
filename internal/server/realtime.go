package server

import (
	"context"
	"sync"
	"time"
)

const (
	RealtimeEventSnapshotUpdated = "snapshot-updated"
	realtimeEventHeartbeat       = "heartbeat"
	realtimeHeartbeatInterval    = 25 * time.Second
	realtimeSubscriberBuffer     = 16
)

// RealtimeMessage tells a user's other devices that a newer snapshot is stored.
type RealtimeMessage struct {
	UserID    string
	EventType string
	Version   int64
	UpdatedAt time.Time
	Timestamp time.Time
}

// RealtimeDispatcher fans snapshot events out to per-user subscribers. Slow subscribers drop events.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]chan RealtimeMessage
	nextID      int64
	bufferSize  int
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]chan RealtimeMessage),
		bufferSize:  realtimeSubscriberBuffer,
	}
}

// Subscribe registers a stream for userID until ctx ends or the returned cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	if userID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	stream := make(chan RealtimeMessage, d.bufferSize)

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]chan RealtimeMessage)
	}
	d.subscribers[userID][id] = stream
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unsubscribe(userID, id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Subscribers returns the number of open streams for userID.
func (d *RealtimeDispatcher) Subscribers(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, stream := range d.subscribers[message.UserID] {
		select {
		case stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) unsubscribe(userID string, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[userID]
	if subscribers == nil {
		return
	}
	delete(subscribers, id)
	if len(subscribers) == 0 {
		delete(d.subscribers, userID)
	}
}
