package relay

import (
	"context"
	"errors"
	"sync"

	"nostr-signer/go-backend/pkg/models"
)

var errMemoryRelayRefused = errors.New("memory relay refused connection")

// MemoryRelay is an in-process relay: it stores published events, routes
// them to matching subscriptions and replays history on REQ. Outbound frames
// are split into FragmentSize chunks when FragmentSize > 0.
type MemoryRelay struct {
	mu           sync.Mutex
	conns        map[*memoryConn]struct{}
	events       []models.Event
	published    []models.Event
	waiters      []chan struct{}
	refuse       bool
	dials        int
	pings        int
	closes       []string
	FragmentSize int
}

func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{conns: make(map[*memoryConn]struct{})}
}

func (r *MemoryRelay) Dial(ctx context.Context, _ string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dials++
	if r.refuse {
		return nil, errMemoryRelayRefused
	}
	c := &memoryConn{
		relay:  r,
		subs:   make(map[string][]models.Filter),
		inbox:  make(chan []byte, 256),
		pongs:  make(chan struct{}, 8),
		closed: make(chan struct{}),
	}
	r.conns[c] = struct{}{}
	return c, nil
}

// SetRefuse makes subsequent dials fail.
func (r *MemoryRelay) SetRefuse(refuse bool) {
	r.mu.Lock()
	r.refuse = refuse
	r.mu.Unlock()
}

func (r *MemoryRelay) Dials() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials
}

func (r *MemoryRelay) Pings() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pings
}

// Closed lists the subscription ids clients have sent CLOSE for.
func (r *MemoryRelay) Closed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.closes...)
}

func (r *MemoryRelay) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Subscriptions counts open subscriptions across all connections.
func (r *MemoryRelay) Subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for c := range r.conns {
		n += len(c.subs)
	}
	return n
}

// DropAll closes every connection as if the relay restarted.
func (r *MemoryRelay) DropAll() {
	r.mu.Lock()
	conns := make([]*memoryConn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Inject stores ev and delivers it to matching subscribers, as if another
// client had published it.
func (r *MemoryRelay) Inject(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storeLocked(ev)
}

// SendRaw pushes an arbitrary frame to every connection.
func (r *MemoryRelay) SendRaw(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.conns {
		c.deliver(data)
	}
}

// Published returns the events clients have published through the relay.
func (r *MemoryRelay) Published() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.published...)
}

// WaitPublished blocks until a published event satisfies match.
func (r *MemoryRelay) WaitPublished(ctx context.Context, match func(models.Event) bool) (models.Event, error) {
	for {
		r.mu.Lock()
		for _, ev := range r.published {
			if match(ev) {
				r.mu.Unlock()
				return ev, nil
			}
		}
		ch := make(chan struct{})
		r.waiters = append(r.waiters, ch)
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.Event{}, ctx.Err()
		case <-ch:
		}
	}
}

func (r *MemoryRelay) storeLocked(ev models.Event) {
	r.events = append(r.events, ev)
	for c := range r.conns {
		for subID, filters := range c.subs {
			if matchesAny(filters, ev) {
				if frame, err := EncodeEvent(ev, subID); err == nil {
					c.deliver(frame)
				}
			}
		}
	}
}

func (r *MemoryRelay) handle(c *memoryConn, data []byte) error {
	msg, err := ParseMessage(data)
	if err != nil {
		if notice, encErr := EncodeNotice("invalid: " + err.Error()); encErr == nil {
			c.deliver(notice)
		}
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch msg.Type {
	case TypeReq:
		c.subs[msg.SubscriptionID] = msg.Filters
		for _, ev := range r.events {
			if matchesAny(msg.Filters, ev) {
				if frame, err := EncodeEvent(ev, msg.SubscriptionID); err == nil {
					c.deliver(frame)
				}
			}
		}
		if frame, err := EncodeEOSE(msg.SubscriptionID); err == nil {
			c.deliver(frame)
		}
	case TypeClose:
		delete(c.subs, msg.SubscriptionID)
		r.closes = append(r.closes, msg.SubscriptionID)
	case TypeEvent:
		if msg.Event == nil {
			return nil
		}
		r.published = append(r.published, *msg.Event)
		r.storeLocked(*msg.Event)
		if frame, err := EncodeOK(msg.Event.ID, true, ""); err == nil {
			c.deliver(frame)
		}
		for _, ch := range r.waiters {
			close(ch)
		}
		r.waiters = nil
	}
	return nil
}

func (r *MemoryRelay) remove(c *memoryConn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
}

func matchesAny(filters []models.Filter, ev models.Event) bool {
	for _, f := range filters {
		if f.Matches(ev) {
			return true
		}
	}
	return false
}

type memoryConn struct {
	relay     *MemoryRelay
	subs      map[string][]models.Filter
	inbox     chan []byte
	pongs     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// deliver is called with relay.mu held.
func (c *memoryConn) deliver(frame []byte) {
	select {
	case c.inbox <- frame:
	case <-c.closed:
	default:
		// Slow consumer: drop, like a relay shedding load.
	}
}

func (c *memoryConn) Run(ctx context.Context, sink Sink) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.closed:
			return errors.New("memory relay connection closed")
		case <-c.pongs:
			sink.Pong()
		case frame := <-c.inbox:
			c.emit(frame, sink)
		}
	}
}

func (c *memoryConn) emit(frame []byte, sink Sink) {
	size := c.relay.fragmentSize()
	if size <= 0 || len(frame) <= size {
		sink.Fragment(Fragment{Data: frame, Final: true})
		return
	}
	for off := 0; off < len(frame); off += size {
		end := min(off+size, len(frame))
		sink.Fragment(Fragment{
			Data:         frame[off:end],
			Continuation: off > 0,
			Final:        end == len(frame),
		})
	}
}

func (r *MemoryRelay) fragmentSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.FragmentSize
}

func (c *memoryConn) WriteText(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("memory relay connection closed")
	default:
	}
	return c.relay.handle(c, append([]byte(nil), data...))
}

func (c *memoryConn) WritePing() error {
	select {
	case <-c.closed:
		return errors.New("memory relay connection closed")
	default:
	}
	c.relay.mu.Lock()
	c.relay.pings++
	c.relay.mu.Unlock()
	select {
	case c.pongs <- struct{}{}:
	default:
	}
	return nil
}

func (c *memoryConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.relay.remove(c)
	})
	return nil
}
