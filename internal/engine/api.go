package engine

import (
	"context"
	"time"

	"nostr-signer/go-backend/internal/relay"
	"nostr-signer/go-backend/internal/wallet"
	"nostr-signer/go-backend/internal/watchdog"
	"nostr-signer/go-backend/pkg/models"
)

// Status is a point-in-time health report.
type Status struct {
	PublicKey          string                 `json:"pubkey"`
	Relay              relay.Status           `json:"relay"`
	PendingApprovals   []models.SigningPrompt `json:"pending_approvals"`
	PendingRequests    map[string]int         `json:"pending_requests"`
	WalletPaired       bool                   `json:"wallet_paired"`
	Invoice            *wallet.InvoiceRecord  `json:"invoice,omitempty"`
	NotificationsArmed bool                   `json:"notifications_armed"`
	WatchdogFires      map[string]int         `json:"watchdog_fires"`
	Outbox             int                    `json:"outbox"`
	SeenEvents         int                    `json:"seen_events"`
	GeneratedAt        time.Time              `json:"generated_at"`
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.do(ctx, func(context.Context) {
		st = e.status()
	})
	return st, err
}

func (e *Engine) status() Status {
	st := Status{
		PublicKey:          e.keys.PublicKey().Hex(),
		Relay:              e.manager.Status(),
		PendingApprovals:   e.signer.Pending(),
		PendingRequests:    make(map[string]int),
		WalletPaired:       e.wallet != nil,
		NotificationsArmed: e.watchdog.NotificationsArmed(),
		WatchdogFires:      make(map[string]int),
		Outbox:             e.outbox.len(),
		SeenEvents:         e.seen.Len(),
		GeneratedAt:        e.now().UTC(),
	}
	for kind, n := range e.table.CountByKind() {
		st.PendingRequests[string(kind)] = n
	}
	for _, reason := range []watchdog.Reason{watchdog.ReasonConnectionStale, watchdog.ReasonNotificationSilence} {
		st.WatchdogFires[string(reason)] = e.watchdog.Fires(reason)
	}
	if e.wallet != nil {
		if rec, ok := e.wallet.Current(); ok {
			st.Invoice = &rec
		}
	}
	return st
}

// Approve releases a request waiting on the user. remember stores the
// decision for later requests of the same shape from the same peer.
func (e *Engine) Approve(ctx context.Context, requestID string, remember bool) error {
	return e.decide(ctx, requestID, true, remember)
}

func (e *Engine) Deny(ctx context.Context, requestID string) error {
	return e.decide(ctx, requestID, false, false)
}

func (e *Engine) decide(ctx context.Context, requestID string, approve, remember bool) error {
	var err error
	derr := e.do(ctx, func(context.Context) {
		// A decision that races the deadline loses.
		e.table.Sweep(e.now())
		reply, resolution, cerr := e.signer.Complete(requestID, approve, remember)
		if cerr != nil {
			err = cerr
			e.logWarn("signer.complete", requestID, "approval signal ignored", "error", cerr.Error())
			return
		}
		e.observer.OnSigningResolved(resolution)
		e.persistApprovals()
		if reply != nil {
			e.sendReply(*reply)
		}
	})
	if derr != nil {
		return derr
	}
	return err
}

func (e *Engine) PendingApprovals(ctx context.Context) ([]models.SigningPrompt, error) {
	var out []models.SigningPrompt
	err := e.do(ctx, func(context.Context) {
		out = e.signer.Pending()
	})
	return out, err
}

// Revoke forgets trust and remembered approvals for peer.
func (e *Engine) Revoke(ctx context.Context, peer string) (bool, error) {
	var removed bool
	err := e.do(ctx, func(context.Context) {
		removed = e.signer.Revoke(peer)
		e.persistApprovals()
	})
	return removed, err
}

func (e *Engine) BunkerURL(ctx context.Context) (string, error) {
	var out string
	err := e.do(ctx, func(context.Context) {
		out = e.signer.BunkerURL([]string{e.manager.Config().Endpoint})
	})
	return out, err
}

// MakeInvoice asks the paired wallet for an invoice. The returned record is
// Requested; updates arrive through the observer.
func (e *Engine) MakeInvoice(ctx context.Context, amountMsat int64, memo string) (wallet.InvoiceRecord, error) {
	if e.wallet == nil {
		return wallet.InvoiceRecord{}, wallet.ErrNotPaired
	}
	var (
		rec wallet.InvoiceRecord
		err error
	)
	derr := e.do(ctx, func(context.Context) {
		ev, merr := e.wallet.MakeInvoice(amountMsat, memo)
		if merr != nil {
			err = merr
			return
		}
		rec, _ = e.wallet.Current()
		e.invoiceChanged(rec)
		e.publish(ev, "wallet.make_invoice", ev.ID)
	})
	if derr != nil {
		return wallet.InvoiceRecord{}, derr
	}
	return rec, err
}

func (e *Engine) LookupInvoice(ctx context.Context, reference string) error {
	if e.wallet == nil {
		return wallet.ErrNotPaired
	}
	var err error
	derr := e.do(ctx, func(context.Context) {
		ev, lerr := e.wallet.LookupInvoice(reference)
		if lerr != nil {
			err = lerr
			return
		}
		e.publish(ev, "wallet.lookup_invoice", ev.ID)
	})
	if derr != nil {
		return derr
	}
	return err
}

func (e *Engine) CurrentInvoice(ctx context.Context) (wallet.InvoiceRecord, bool, error) {
	if e.wallet == nil {
		return wallet.InvoiceRecord{}, false, wallet.ErrNotPaired
	}
	var (
		rec wallet.InvoiceRecord
		ok  bool
	)
	err := e.do(ctx, func(context.Context) {
		rec, ok = e.wallet.Current()
	})
	return rec, ok, err
}

// Reconnect is the user-triggered recovery path. From Disconnected, including
// after the retry budget ran out, it dials again; otherwise it behaves like a
// watchdog reconnect and is a no-op while a dial is underway.
func (e *Engine) Reconnect(ctx context.Context) (bool, error) {
	var accepted bool
	err := e.do(ctx, func(loopCtx context.Context) {
		if e.manager.State() == relay.StateDisconnected {
			if cerr := e.manager.Connect(loopCtx); cerr != nil {
				e.logError("relay.reconnect", "", cerr)
				return
			}
			accepted = true
		} else {
			accepted = e.manager.Reconnect("user")
		}
		e.metrics.ObserveReconnect("user", accepted)
	})
	return accepted, err
}
