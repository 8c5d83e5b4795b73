package signer

import (
	"sort"
	"time"
)

type approvalKey struct {
	peer   string
	method Method
	kind   int
}

// Approvals is the remembered-approval set. It only shrinks through Revoke.
type Approvals struct {
	entries map[approvalKey]time.Time
	trusted map[string]time.Time
	gen     uint64
}

func NewApprovals() *Approvals {
	return &Approvals{
		entries: make(map[approvalKey]time.Time),
		trusted: make(map[string]time.Time),
	}
}

// Remember records a standing approval. kind scopes sign_event approvals to
// one event kind and is ignored for other methods.
func (a *Approvals) Remember(peer string, method Method, kind int, now time.Time) {
	if method != MethodSignEvent {
		kind = 0
	}
	key := approvalKey{peer: peer, method: method, kind: kind}
	if _, ok := a.entries[key]; !ok {
		a.gen++
	}
	a.entries[key] = now
}

func (a *Approvals) Remembered(peer string, method Method, kind int) bool {
	if method != MethodSignEvent {
		kind = 0
	}
	_, ok := a.entries[approvalKey{peer: peer, method: method, kind: kind}]
	return ok
}

func (a *Approvals) Trust(peer string, now time.Time) {
	if _, ok := a.trusted[peer]; !ok {
		a.trusted[peer] = now
		a.gen++
	}
}

func (a *Approvals) Trusted(peer string) bool {
	_, ok := a.trusted[peer]
	return ok
}

// Revoke drops trust and every remembered approval for peer and reports
// whether anything was removed.
func (a *Approvals) Revoke(peer string) bool {
	_, removed := a.trusted[peer]
	delete(a.trusted, peer)
	for key := range a.entries {
		if key.peer == peer {
			delete(a.entries, key)
			removed = true
		}
	}
	if removed {
		a.gen++
	}
	return removed
}

func (a *Approvals) Len() int {
	return len(a.entries)
}

// Generation changes whenever the set gains or loses an entry.
func (a *Approvals) Generation() uint64 {
	return a.gen
}

type ApprovalRecord struct {
	Peer   string    `json:"peer"`
	Method string    `json:"method"`
	Kind   int       `json:"kind,omitempty"`
	At     time.Time `json:"at"`
}

// ApprovalSnapshot is the persisted form of Approvals.
type ApprovalSnapshot struct {
	Trusted    map[string]time.Time `json:"trusted"`
	Remembered []ApprovalRecord     `json:"remembered"`
}

func (a *Approvals) Snapshot() ApprovalSnapshot {
	snap := ApprovalSnapshot{
		Trusted:    make(map[string]time.Time, len(a.trusted)),
		Remembered: make([]ApprovalRecord, 0, len(a.entries)),
	}
	for peer, at := range a.trusted {
		snap.Trusted[peer] = at
	}
	for key, at := range a.entries {
		snap.Remembered = append(snap.Remembered, ApprovalRecord{Peer: key.peer, Method: key.method.String(), Kind: key.kind, At: at})
	}
	sort.Slice(snap.Remembered, func(i, j int) bool {
		x, y := snap.Remembered[i], snap.Remembered[j]
		if x.Peer != y.Peer {
			return x.Peer < y.Peer
		}
		if x.Method != y.Method {
			return x.Method < y.Method
		}
		return x.Kind < y.Kind
	})
	return snap
}

// Restore replaces the set with snap and returns how many records were
// skipped because their method is no longer recognised.
func (a *Approvals) Restore(snap ApprovalSnapshot) int {
	a.entries = make(map[approvalKey]time.Time, len(snap.Remembered))
	a.trusted = make(map[string]time.Time, len(snap.Trusted))
	for peer, at := range snap.Trusted {
		a.trusted[peer] = at
	}
	skipped := 0
	for _, rec := range snap.Remembered {
		method := ParseMethod(rec.Method)
		if method == MethodUnknown || rec.Peer == "" {
			skipped++
			continue
		}
		a.Remember(rec.Peer, method, rec.Kind, rec.At)
	}
	a.gen = 0
	return skipped
}
