package app

import (
	"sync"
	"time"
)

// subscriberBuffer is how far a UI client may lag before it is cut off.
const subscriberBuffer = 128

type NotificationEvent struct {
	Seq       int64     `json:"seq"`
	Method    string    `json:"method"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationHub numbers engine notifications, keeps the last limit of them
// for clients that reconnect, and fans them out to live subscribers.
// Publish never blocks: a subscriber whose buffer is full is closed and must
// resubscribe from its last seen Seq.
type NotificationHub struct {
	mu      sync.Mutex
	seq     int64
	limit   int
	backlog []NotificationEvent
	subs    map[uint64]chan NotificationEvent
	nextID  uint64
	dropped uint64
	now     func() time.Time
}

func NewNotificationHub(limit int) *NotificationHub {
	return &NotificationHub{
		limit: max(limit, 1),
		subs:  make(map[uint64]chan NotificationEvent),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (h *NotificationHub) Publish(method string, payload any) NotificationEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	evt := NotificationEvent{Seq: h.seq, Method: method, Payload: payload, Timestamp: h.now()}
	if len(h.backlog) == h.limit {
		copy(h.backlog, h.backlog[1:])
		h.backlog[len(h.backlog)-1] = evt
	} else {
		h.backlog = append(h.backlog, evt)
	}

	for id, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			h.dropLocked(id)
		}
	}
	return evt
}

// Subscribe returns the retained events with Seq > fromSeq and a channel for
// everything published afterwards. cancel is idempotent.
func (h *NotificationHub) Subscribe(fromSeq int64) ([]NotificationEvent, <-chan NotificationEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var replay []NotificationEvent
	for i, evt := range h.backlog {
		if evt.Seq > fromSeq {
			replay = append([]NotificationEvent(nil), h.backlog[i:]...)
			break
		}
	}

	id := h.nextID
	h.nextID++
	ch := make(chan NotificationEvent, subscriberBuffer)
	h.subs[id] = ch
	return replay, ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			close(ch)
			delete(h.subs, id)
		}
	}
}

func (h *NotificationHub) dropLocked(id uint64) {
	close(h.subs[id])
	delete(h.subs, id)
	h.dropped++
}

func (h *NotificationHub) BacklogSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.backlog)
}

func (h *NotificationHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped counts subscribers cut off for falling behind.
func (h *NotificationHub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
