package engine

import "time"

type parcel struct {
	data          []byte
	operation     string
	correlationID string
	queuedAt      time.Time
}

// outbox holds publishes that failed because the relay was down. It is
// bounded: the oldest parcel is dropped when full.
type outbox struct {
	limit int
	ttl   time.Duration
	items []parcel
}

func newOutbox(limit int, ttl time.Duration) *outbox {
	return &outbox{limit: limit, ttl: ttl}
}

// push parks p and reports whether an older parcel was dropped to make room.
func (o *outbox) push(p parcel) bool {
	dropped := false
	if len(o.items) >= o.limit {
		o.items = o.items[1:]
		dropped = true
	}
	o.items = append(o.items, p)
	return dropped
}

// expire removes parcels older than the TTL and returns how many went.
func (o *outbox) expire(now time.Time) int {
	kept := o.items[:0]
	for _, p := range o.items {
		if now.Sub(p.queuedAt) < o.ttl {
			kept = append(kept, p)
		}
	}
	n := len(o.items) - len(kept)
	clear(o.items[len(kept):])
	o.items = kept
	return n
}

// drain hands every parcel to send in order. A parcel send rejects stops the
// drain and stays queued together with the rest.
func (o *outbox) drain(send func(parcel) error) (int, error) {
	sent := 0
	for len(o.items) > 0 {
		if err := send(o.items[0]); err != nil {
			return sent, err
		}
		o.items = o.items[1:]
		sent++
	}
	o.items = nil
	return sent, nil
}

func (o *outbox) len() int {
	return len(o.items)
}
