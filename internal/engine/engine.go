// Package engine runs the protocol engine: one dispatch loop owns the relay
// connection, the correlator, the signer and wallet state machines and the
// watchdog. Background I/O only posts events into the loop.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"nostr-signer/go-backend/internal/correlator"
	"nostr-signer/go-backend/internal/crypto"
	"nostr-signer/go-backend/internal/metrics"
	"nostr-signer/go-backend/internal/relay"
	"nostr-signer/go-backend/internal/signer"
	"nostr-signer/go-backend/internal/wallet"
	"nostr-signer/go-backend/internal/watchdog"
)

var (
	ErrAlreadyRunning = errors.New("engine is already running")
	ErrStopped        = errors.New("engine is not running")
	ErrMissingKeys    = errors.New("engine requires a device keyring")
)

const (
	routeSigner = "signer"
	routeWallet = "wallet"
)

type Options struct {
	Engine Config
	Relay  relay.Config
	Signer signer.Config
	// Wallet is optional; an empty pairing URL leaves the wallet disabled.
	Wallet    wallet.Config
	Keys      *crypto.Keyring
	Dialer    relay.Dialer
	Observer  Observer
	// Approvals persists trusted peers and remembered decisions; nil keeps
	// them in memory only.
	Approvals ApprovalStore
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

type ApprovalStore interface {
	Load() (signer.ApprovalSnapshot, error)
	Save(signer.ApprovalSnapshot) error
}

type command struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

type Engine struct {
	cfg      Config
	keys     *crypto.Keyring
	manager  *relay.Manager
	table    *correlator.Table
	signer   *signer.Machine
	wallet   *wallet.Client
	watchdog *watchdog.Supervisor
	seen     *expirable.LRU[string, struct{}]
	outbox   *outbox
	observer Observer
	store    ApprovalStore
	storeGen uint64
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	events  chan any
	cmds    chan command
	done    chan struct{}
	running atomic.Bool

	subs      map[string]string
	connected bool
	lastLive  time.Time
}

func New(opts Options) (*Engine, error) {
	if opts.Keys == nil {
		return nil, ErrMissingKeys
	}
	cfg := NormalizeConfig(opts.Engine)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(false)
	}
	dialer := opts.Dialer
	relayCfg := relay.NormalizeConfig(opts.Relay)
	if dialer == nil {
		dialer = relay.NewWebsocketDialer(relayCfg)
	}
	signerCfg := signer.NormalizeConfig(opts.Signer)
	walletCfg := wallet.NormalizeConfig(opts.Wallet)

	e := &Engine{
		cfg:      cfg,
		keys:     opts.Keys,
		seen:     expirable.NewLRU[string, struct{}](cfg.SeenCacheSize, nil, cfg.SeenTTL),
		outbox:   newOutbox(cfg.OutboxSize, cfg.OutboxTTL),
		observer: observer,
		store:    opts.Approvals,
		metrics:  m,
		logger:   logger,
		now:      now,
		events:   make(chan any, 256),
		cmds:     make(chan command),
		done:     make(chan struct{}),
		subs:     make(map[string]string),
	}
	e.table = correlator.New(correlator.Options{
		Timeouts: map[correlator.Kind]time.Duration{
			correlator.KindSignerApproval: signerCfg.ApprovalTimeout,
			correlator.KindMakeInvoice:    walletCfg.RequestTimeout,
			correlator.KindLookupInvoice:  walletCfg.RequestTimeout,
		},
		OnExpire: e.onExpire,
	})
	e.signer = signer.NewMachine(signerCfg, opts.Keys, e.table, logger)
	e.signer.SetClock(now)
	if e.store != nil {
		snap, err := e.store.Load()
		if err != nil {
			return nil, err
		}
		if skipped := e.signer.Approvals().Restore(snap); skipped > 0 {
			logger.Warn("stored approvals skipped", "operation", "signer.restore", "skipped", skipped)
		}
		e.storeGen = e.signer.Approvals().Generation()
	}

	if walletCfg.PairingURL != "" {
		client, err := wallet.NewClient(walletCfg, e.table, logger)
		if err != nil {
			return nil, err
		}
		client.SetClock(now)
		e.wallet = client
		if relayCfg.Endpoint == "" && len(client.Pairing().Relays) > 0 {
			relayCfg.Endpoint = client.Pairing().Relays[0]
		}
	}

	e.manager = relay.NewManager(relayCfg, dialer, e.post, logger)
	e.manager.SetClock(now)
	e.manager.OnStateChange = e.onStateChange
	e.watchdog = watchdog.New(watchdog.Config{
		ActivityTimeout:     relayCfg.ActivityTimeout,
		NotificationTimeout: walletCfg.NotificationTimeout,
	}, e.manager.Reconnect, logger)
	return e, nil
}

func (e *Engine) PublicKey() crypto.PublicKey {
	return e.keys.PublicKey()
}

func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Run owns the dispatch loop until ctx is cancelled. It may be called once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.done)

	if err := e.manager.Connect(ctx); err != nil {
		e.logError("engine.start", "", err)
	}
	e.logInfo("engine.start", "", "engine started", "pubkey", e.keys.PublicKey().Hex(), "wallet", e.wallet != nil)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.closeSubscriptions()
			e.manager.Disconnect()
			e.logInfo("engine.stop", "", "engine stopped")
			return nil
		case ev := <-e.events:
			e.dispatch(ctx, ev)
		case cmd := <-e.cmds:
			cmd.fn(ctx)
			close(cmd.done)
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// post is handed to the relay layer; it never blocks once the loop is gone.
func (e *Engine) post(ev any) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// do runs fn on the dispatch loop and waits for it to finish.
func (e *Engine) do(ctx context.Context, fn func(ctx context.Context)) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case e.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

func (e *Engine) dispatch(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case relay.DialResult:
		if e.manager.HandleDialResult(ctx, ev) {
			e.onConnected()
		}
	case relay.FrameReceived:
		raw, complete, err := e.manager.HandleFrame(ev)
		e.watchdog.ObserveActivity(e.manager.LastActivity())
		switch {
		case errors.Is(err, relay.ErrFrameTooLarge):
			e.metrics.Frames.WithLabelValues("too_large").Inc()
			e.logWarn("relay.frame", "", "oversized relay message discarded", "max_bytes", e.manager.Config().MaxMessageBytes)
		case err != nil:
			e.metrics.Frames.WithLabelValues("malformed").Inc()
			e.logWarn("relay.frame", "", "malformed relay frame dropped", "error", err.Error())
		case complete:
			e.metrics.Frames.WithLabelValues("complete").Inc()
			e.handleMessage(raw)
		default:
			e.metrics.Frames.WithLabelValues("partial").Inc()
		}
	case relay.PongReceived:
		e.manager.HandlePong(ev)
		e.watchdog.ObserveActivity(e.manager.LastActivity())
	case relay.ConnClosed:
		e.manager.HandleClosed(ev)
	default:
		e.logWarn("engine.dispatch", "", "unknown event dropped")
	}
}

func (e *Engine) tick(ctx context.Context) {
	now := e.now()
	e.manager.Tick(ctx)
	e.table.Sweep(now)

	if e.wallet != nil {
		record, lookup := e.wallet.Tick()
		if record != nil {
			e.invoiceChanged(*record)
		}
		if lookup != nil {
			e.publish(*lookup, "wallet.lookup_invoice", lookup.ID)
		}
	}

	for _, fired := range e.watchdog.Check(now, e.manager.State() == relay.StateConnected) {
		e.metrics.ObserveReconnect(string(fired.Reason), fired.Accepted)
	}

	if n := e.outbox.expire(now); n > 0 {
		e.logWarn("engine.outbox", "", "undelivered messages expired", "count", n)
	}
	e.refreshGauges()
}

func (e *Engine) onStateChange(status relay.Status) {
	e.metrics.SetConnectionState(status.State)
	if e.connected && status.State != relay.StateConnected {
		e.connected = false
		e.lastLive = status.LastActivity
		clear(e.subs)
	}
	e.observer.OnConnectionState(status)
}

// onConnected subscribes to both routes and flushes the outbox.
func (e *Engine) onConnected() {
	now := e.now()
	e.connected = true
	e.watchdog.ObserveActivity(now)

	from := e.lastLive
	if from.IsZero() {
		from = now
	}
	since := from.Add(-e.cfg.SinceWindow).Unix()
	e.subscribe(routeSigner, signerFilter(e.keys.PublicKey(), since))
	if e.wallet != nil {
		e.subscribe(routeWallet, e.wallet.Filter(since))
	}
	e.flushOutbox()
}

func (e *Engine) onExpire(req correlator.PendingRequest) {
	switch req.Kind {
	case correlator.KindSignerApproval:
		if res, ok := e.signer.Expire(req.ID); ok {
			e.observer.OnSigningResolved(res)
		}
	case correlator.KindMakeInvoice, correlator.KindLookupInvoice:
		if e.wallet == nil {
			return
		}
		if record := e.wallet.HandleExpired(req); record != nil {
			e.invoiceChanged(*record)
		}
	}
	e.logInfo("correlator.expire", req.ID, "request expired", "kind", string(req.Kind))
}

func (e *Engine) invoiceChanged(record wallet.InvoiceRecord) {
	e.metrics.InvoiceUpdates.WithLabelValues(string(record.Status)).Inc()
	e.watchdog.ArmNotifications(e.wallet.AwaitingSettlement(), e.now())
	e.observer.OnInvoiceUpdate(record)
}

func (e *Engine) refreshGauges() {
	counts := make(map[string]int)
	for kind, n := range e.table.CountByKind() {
		counts[string(kind)] = n
	}
	e.metrics.SetPending(counts)
	e.metrics.OutboxSize.Set(float64(e.outbox.len()))
}

// persistApprovals writes the approval set when it changed since the last
// save. Failures are logged and retried on the next change.
func (e *Engine) persistApprovals() {
	if e.store == nil {
		return
	}
	approvals := e.signer.Approvals()
	gen := approvals.Generation()
	if gen == e.storeGen {
		return
	}
	if err := e.store.Save(approvals.Snapshot()); err != nil {
		e.logError("signer.persist", "", err)
		return
	}
	e.storeGen = gen
}
