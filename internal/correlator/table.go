// Package correlator matches asynchronous responses to outstanding requests
// over a channel that may reorder or replay deliveries.
package correlator

import (
	"errors"
	"sort"
	"time"
)

type Kind string

const (
	KindSignerApproval Kind = "signer.approval"
	KindMakeInvoice    Kind = "wallet.make_invoice"
	KindLookupInvoice  Kind = "wallet.lookup_invoice"
)

type Completion int

const (
	Pending Completion = iota
	Fulfilled
	Expired
)

func (c Completion) String() string {
	switch c {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

var (
	ErrDuplicateRequest = errors.New("request id already pending")
	ErrRequestExpired   = errors.New("request expired")
	ErrUnknownRequest   = errors.New("unknown request id")
)

const (
	DefaultTimeout       = 60 * time.Second
	defaultTombstoneTTL  = 10 * time.Minute
	defaultMaxTombstones = 1024
)

type PendingRequest struct {
	ID         string
	Kind       Kind
	Peer       string
	CreatedAt  time.Time
	Completion Completion
	Response   any
	ClosedAt   time.Time
}

type tombstone struct {
	completion Completion
	at         time.Time
}

// Table is the pending request table. It is not safe for concurrent use.
type Table struct {
	timeouts       map[Kind]time.Duration
	defaultTimeout time.Duration
	pending        map[string]*PendingRequest
	closed         map[string]tombstone
	tombstoneTTL   time.Duration
	maxTombstones  int
	onExpire       func(PendingRequest)
}

type Options struct {
	Timeouts       map[Kind]time.Duration
	DefaultTimeout time.Duration
	TombstoneTTL   time.Duration
	MaxTombstones  int
	// OnExpire runs once per request that Sweep expires.
	OnExpire func(PendingRequest)
}

func New(opts Options) *Table {
	t := &Table{
		timeouts:       make(map[Kind]time.Duration, len(opts.Timeouts)),
		defaultTimeout: opts.DefaultTimeout,
		pending:        make(map[string]*PendingRequest),
		closed:         make(map[string]tombstone),
		tombstoneTTL:   opts.TombstoneTTL,
		maxTombstones:  opts.MaxTombstones,
		onExpire:       opts.OnExpire,
	}
	for kind, d := range opts.Timeouts {
		t.timeouts[kind] = d
	}
	if t.defaultTimeout <= 0 {
		t.defaultTimeout = DefaultTimeout
	}
	if t.tombstoneTTL <= 0 {
		t.tombstoneTTL = defaultTombstoneTTL
	}
	if t.maxTombstones <= 0 {
		t.maxTombstones = defaultMaxTombstones
	}
	return t
}

func (t *Table) Timeout(kind Kind) time.Duration {
	if d, ok := t.timeouts[kind]; ok && d > 0 {
		return d
	}
	return t.defaultTimeout
}

func (t *Table) Register(id string, kind Kind, peer string, now time.Time) error {
	if _, ok := t.pending[id]; ok {
		return ErrDuplicateRequest
	}
	delete(t.closed, id)
	t.pending[id] = &PendingRequest{
		ID:         id,
		Kind:       kind,
		Peer:       peer,
		CreatedAt:  now,
		Completion: Pending,
	}
	return nil
}

// Resolve fulfills a pending request. Resolving an id that is not pending,
// including one already fulfilled or expired, is a no-op.
func (t *Table) Resolve(id string, resp any, now time.Time) (PendingRequest, bool) {
	req, ok := t.pending[id]
	if !ok {
		return PendingRequest{}, false
	}
	delete(t.pending, id)
	req.Completion = Fulfilled
	req.Response = resp
	req.ClosedAt = now
	t.bury(id, Fulfilled, now)
	return *req, true
}

func (t *Table) Get(id string) (PendingRequest, bool) {
	req, ok := t.pending[id]
	if !ok {
		return PendingRequest{}, false
	}
	return *req, true
}

// Check reports whether id is still pending, and if not, why.
func (t *Table) Check(id string) error {
	if _, ok := t.pending[id]; ok {
		return nil
	}
	if ts, ok := t.closed[id]; ok && ts.completion == Expired {
		return ErrRequestExpired
	}
	return ErrUnknownRequest
}

// Status returns the completion of a pending or recently closed request.
func (t *Table) Status(id string) (Completion, bool) {
	if _, ok := t.pending[id]; ok {
		return Pending, true
	}
	ts, ok := t.closed[id]
	return ts.completion, ok
}

// Sweep expires every request older than its kind's timeout. It is the only
// path from Pending to Expired.
func (t *Table) Sweep(now time.Time) []PendingRequest {
	var expired []PendingRequest
	for id, req := range t.pending {
		if now.Sub(req.CreatedAt) < t.Timeout(req.Kind) {
			continue
		}
		delete(t.pending, id)
		req.Completion = Expired
		req.ClosedAt = now
		t.bury(id, Expired, now)
		expired = append(expired, *req)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	if t.onExpire != nil {
		for _, req := range expired {
			t.onExpire(req)
		}
	}
	t.prune(now)
	return expired
}

func (t *Table) Len() int {
	return len(t.pending)
}

func (t *Table) CountByKind() map[Kind]int {
	out := make(map[Kind]int)
	for _, req := range t.pending {
		out[req.Kind]++
	}
	return out
}

func (t *Table) bury(id string, c Completion, now time.Time) {
	t.closed[id] = tombstone{completion: c, at: now}
	if len(t.closed) <= t.maxTombstones {
		return
	}
	var oldestID string
	var oldestAt time.Time
	first := true
	for key, ts := range t.closed {
		if first || ts.at.Before(oldestAt) {
			oldestID = key
			oldestAt = ts.at
			first = false
		}
	}
	delete(t.closed, oldestID)
}

func (t *Table) prune(now time.Time) {
	for id, ts := range t.closed {
		if now.Sub(ts.at) > t.tombstoneTTL {
			delete(t.closed, id)
		}
	}
}
