// Package wallet is the NIP-47 wallet-connect client: invoice creation,
// lookup polling and payment notifications over the shared relay.
package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nostr-signer/go-backend/internal/correlator"
	"nostr-signer/go-backend/internal/crypto"
	"nostr-signer/go-backend/pkg/models"
)

const (
	methodMakeInvoice   = "make_invoice"
	methodLookupInvoice = "lookup_invoice"

	notificationPaymentReceived = "payment_received"
	encryptionTagV2             = "nip44_v2"
)

type Status string

const (
	StatusRequested Status = "requested"
	StatusPending   Status = "pending"
	StatusSettled   Status = "settled"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusExpired || s == StatusFailed
}

type Config struct {
	PairingURL          string        `yaml:"pairingURL"`
	Encryption          string        `yaml:"encryption"`
	LookupInterval      time.Duration `yaml:"lookupInterval"`
	NotificationTimeout time.Duration `yaml:"notificationTimeout"`
	RequestTimeout      time.Duration `yaml:"requestTimeout"`
	InvoiceExpiry       time.Duration `yaml:"invoiceExpiry"`
}

func DefaultConfig() Config {
	return Config{
		Encryption:          "nip04",
		LookupInterval:      5 * time.Second,
		NotificationTimeout: 120 * time.Second,
		RequestTimeout:      30 * time.Second,
		InvoiceExpiry:       10 * time.Minute,
	}
}

func NormalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	cfg.PairingURL = strings.TrimSpace(cfg.PairingURL)
	if _, err := crypto.ParseEnvelopeVersion(cfg.Encryption); err != nil || cfg.Encryption == "" {
		cfg.Encryption = def.Encryption
	}
	if cfg.LookupInterval <= 0 {
		cfg.LookupInterval = def.LookupInterval
	}
	if cfg.NotificationTimeout <= 0 {
		cfg.NotificationTimeout = def.NotificationTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.InvoiceExpiry <= 0 {
		cfg.InvoiceExpiry = def.InvoiceExpiry
	}
	return cfg
}

// InvoiceRecord tracks the one current invoice.
type InvoiceRecord struct {
	RequestID   string    `json:"request_id"`
	Invoice     string    `json:"invoice,omitempty"`
	PaymentHash string    `json:"payment_hash,omitempty"`
	AmountMsat  int64     `json:"amount_msat"`
	Memo        string    `json:"memo,omitempty"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	SettledAt   time.Time `json:"settled_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Result describes what an inbound wallet event changed.
type Result struct {
	// Invoice is set when the current record changed.
	Invoice      *InvoiceRecord
	Notification bool
	RequestKind  correlator.Kind
	Response     *models.WalletResponse
}

// Client is not safe for concurrent use.
type Client struct {
	cfg     Config
	pairing Pairing
	keys    *crypto.Keyring
	version crypto.EnvelopeVersion
	table   *correlator.Table

	current        *InvoiceRecord
	lastLookup     time.Time
	lookupInFlight string

	now    func() time.Time
	logger *slog.Logger
}

func NewClient(cfg Config, table *correlator.Table, logger *slog.Logger) (*Client, error) {
	cfg = NormalizeConfig(cfg)
	if cfg.PairingURL == "" {
		return nil, ErrNotPaired
	}
	pairing, err := ParsePairingURL(cfg.PairingURL)
	if err != nil {
		return nil, err
	}
	version, _ := crypto.ParseEnvelopeVersion(cfg.Encryption)
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		pairing: pairing,
		keys:    crypto.NewKeyring(pairing.Secret),
		version: version,
		table:   table,
		now:     time.Now,
		logger:  logger.With("component", "wallet"),
	}, nil
}

func (c *Client) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) Pairing() Pairing {
	return c.pairing
}

// ClientPubKey is the identity the wallet service knows this device by.
func (c *Client) ClientPubKey() crypto.PublicKey {
	return c.keys.PublicKey()
}

func (c *Client) WalletPubKey() crypto.PublicKey {
	return c.pairing.WalletPubKey
}

// Filter selects responses and notifications addressed to this client.
func (c *Client) Filter(since int64) models.Filter {
	return models.Filter{
		Kinds:   []int{models.KindWalletResponse, models.KindWalletNotification, models.KindWalletNotificationV2},
		Authors: []string{c.pairing.WalletPubKey.Hex()},
		PTags:   []string{c.keys.PublicKey().Hex()},
		Since:   &since,
	}
}

func (c *Client) Current() (InvoiceRecord, bool) {
	if c.current == nil {
		return InvoiceRecord{}, false
	}
	return *c.current, true
}

// AwaitingSettlement reports whether a notification is expected.
func (c *Client) AwaitingSettlement() bool {
	return c.current != nil && c.current.Status == StatusPending
}

// MakeInvoice builds a signed make_invoice request and makes it the current
// record. A previous record is dropped; its request is left to expire.
func (c *Client) MakeInvoice(amountMsat int64, memo string) (models.Event, error) {
	if amountMsat <= 0 {
		return models.Event{}, errors.New("amount must be positive")
	}
	now := c.now()
	ev, err := c.request(methodMakeInvoice, models.MakeInvoiceParams{
		Amount:      amountMsat,
		Description: memo,
		Expiry:      int64(c.cfg.InvoiceExpiry / time.Second),
	}, now)
	if err != nil {
		return models.Event{}, err
	}
	if err := c.table.Register(ev.ID, correlator.KindMakeInvoice, c.pairing.WalletPubKey.Hex(), now); err != nil {
		return models.Event{}, err
	}
	if c.current != nil {
		c.logger.Info("invoice superseded", "operation", "wallet.make_invoice", "request_id", c.current.RequestID, "status", string(c.current.Status))
	}
	c.current = &InvoiceRecord{
		RequestID:  ev.ID,
		AmountMsat: amountMsat,
		Memo:       memo,
		Status:     StatusRequested,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	c.lookupInFlight = ""
	c.lastLookup = time.Time{}
	return ev, nil
}

// LookupInvoice builds a lookup_invoice request. reference is a payment hash
// or a BOLT-11 invoice string.
func (c *Client) LookupInvoice(reference string) (models.Event, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return models.Event{}, errors.New("reference is required")
	}
	params := models.LookupInvoiceParams{PaymentHash: reference}
	if strings.HasPrefix(strings.ToLower(reference), "ln") {
		params = models.LookupInvoiceParams{Invoice: reference}
	}
	now := c.now()
	ev, err := c.request(methodLookupInvoice, params, now)
	if err != nil {
		return models.Event{}, err
	}
	if err := c.table.Register(ev.ID, correlator.KindLookupInvoice, c.pairing.WalletPubKey.Hex(), now); err != nil {
		return models.Event{}, err
	}
	return ev, nil
}

// Tick expires an overdue invoice and returns a lookup request when one is
// due. Polling only runs while the current invoice is Pending.
func (c *Client) Tick() (*InvoiceRecord, *models.Event) {
	if !c.AwaitingSettlement() {
		return nil, nil
	}
	now := c.now()
	if !c.current.ExpiresAt.IsZero() && !now.Before(c.current.ExpiresAt) {
		c.setStatus(StatusExpired, now)
		rec := *c.current
		return &rec, nil
	}
	if c.lookupInFlight != "" {
		if status, ok := c.table.Status(c.lookupInFlight); ok && status == correlator.Pending {
			return nil, nil
		}
		c.lookupInFlight = ""
	}
	if !c.lastLookup.IsZero() && now.Sub(c.lastLookup) < c.cfg.LookupInterval {
		return nil, nil
	}
	ref := c.current.PaymentHash
	if ref == "" {
		ref = c.current.Invoice
	}
	ev, err := c.LookupInvoice(ref)
	if err != nil {
		c.logger.Warn("invoice lookup not scheduled", "operation", "wallet.lookup_invoice", "error", err.Error())
		return nil, nil
	}
	c.lastLookup = now
	c.lookupInFlight = ev.ID
	return nil, &ev
}

// HandleExpired reacts to a wallet request the correlator timed out.
func (c *Client) HandleExpired(req correlator.PendingRequest) *InvoiceRecord {
	switch req.Kind {
	case correlator.KindLookupInvoice:
		if c.lookupInFlight == req.ID {
			c.lookupInFlight = ""
		}
	case correlator.KindMakeInvoice:
		if c.current != nil && c.current.RequestID == req.ID && c.current.Status == StatusRequested {
			c.current.Error = correlator.ErrRequestExpired.Error()
			c.setStatus(StatusFailed, c.now())
			rec := *c.current
			return &rec
		}
	}
	return nil
}

// HandleEvent processes a response or notification authored by the wallet.
func (c *Client) HandleEvent(ev models.Event) (Result, error) {
	if ev.PubKey != c.pairing.WalletPubKey.Hex() {
		return Result{}, fmt.Errorf("event %s not from paired wallet", ev.ID)
	}
	plain, _, err := c.keys.Decrypt(ev.Content, c.pairing.WalletPubKey)
	if err != nil {
		return Result{}, err
	}
	switch ev.Kind {
	case models.KindWalletResponse:
		return c.handleResponse(ev, plain)
	case models.KindWalletNotification, models.KindWalletNotificationV2:
		return c.handleNotification(plain)
	default:
		return Result{}, fmt.Errorf("unexpected wallet event kind %d", ev.Kind)
	}
}

func (c *Client) handleResponse(ev models.Event, plain string) (Result, error) {
	var resp models.WalletResponse
	if err := json.Unmarshal([]byte(plain), &resp); err != nil {
		return Result{}, fmt.Errorf("decode wallet response: %w", err)
	}
	reqID := ev.TagValue("e")
	pending, ok := c.table.Resolve(reqID, resp, c.now())
	if !ok {
		// Replayed or unsolicited response.
		return Result{}, nil
	}
	out := Result{RequestKind: pending.Kind, Response: &resp}
	now := c.now()

	switch pending.Kind {
	case correlator.KindMakeInvoice:
		if c.current == nil || c.current.RequestID != reqID {
			return out, nil
		}
		if resp.Error != nil {
			c.current.Error = resp.Error.Code + ": " + resp.Error.Message
			c.setStatus(StatusFailed, now)
		} else {
			var tx models.WalletTransaction
			if err := json.Unmarshal(resp.Result, &tx); err != nil {
				c.current.Error = "malformed make_invoice result"
				c.setStatus(StatusFailed, now)
				rec := *c.current
				out.Invoice = &rec
				return out, fmt.Errorf("decode make_invoice result: %w", err)
			}
			if tx.Invoice == "" && tx.PaymentHash == "" {
				// Nothing to poll or match a notification against.
				c.current.Error = "make_invoice result has no invoice or payment hash"
				c.setStatus(StatusFailed, now)
				rec := *c.current
				out.Invoice = &rec
				return out, nil
			}
			c.current.Invoice = tx.Invoice
			c.current.PaymentHash = tx.PaymentHash
			if tx.ExpiresAt > 0 {
				c.current.ExpiresAt = time.Unix(tx.ExpiresAt, 0)
			} else {
				c.current.ExpiresAt = now.Add(c.cfg.InvoiceExpiry)
			}
			c.applyTransaction(tx, now)
			if c.current.Status == StatusRequested {
				c.setStatus(StatusPending, now)
			}
		}
		rec := *c.current
		out.Invoice = &rec
	case correlator.KindLookupInvoice:
		if c.lookupInFlight == reqID {
			c.lookupInFlight = ""
		}
		if resp.Error != nil || c.current == nil {
			return out, nil
		}
		var tx models.WalletTransaction
		if err := json.Unmarshal(resp.Result, &tx); err != nil {
			return out, fmt.Errorf("decode lookup_invoice result: %w", err)
		}
		if c.matches(tx) && c.applyTransaction(tx, now) {
			rec := *c.current
			out.Invoice = &rec
		}
	}
	return out, nil
}

func (c *Client) handleNotification(plain string) (Result, error) {
	var n models.WalletNotification
	if err := json.Unmarshal([]byte(plain), &n); err != nil {
		return Result{}, fmt.Errorf("decode wallet notification: %w", err)
	}
	out := Result{Notification: true}
	if n.NotificationType != notificationPaymentReceived || c.current == nil || !c.matches(n.Notification) {
		return out, nil
	}
	now := c.now()
	if c.current.Status.Terminal() {
		return out, nil
	}
	if n.Notification.SettledAt > 0 {
		c.current.SettledAt = time.Unix(n.Notification.SettledAt, 0)
	} else {
		c.current.SettledAt = now
	}
	c.setStatus(StatusSettled, now)
	rec := *c.current
	out.Invoice = &rec
	return out, nil
}

// applyTransaction maps a wallet-reported state onto the current record and
// reports whether it changed.
func (c *Client) applyTransaction(tx models.WalletTransaction, now time.Time) bool {
	if c.current.Status.Terminal() {
		return false
	}
	switch {
	case tx.State == "settled" || tx.SettledAt > 0:
		if tx.SettledAt > 0 {
			c.current.SettledAt = time.Unix(tx.SettledAt, 0)
		} else {
			c.current.SettledAt = now
		}
		c.setStatus(StatusSettled, now)
	case tx.State == "expired":
		c.setStatus(StatusExpired, now)
	case tx.State == "failed":
		c.setStatus(StatusFailed, now)
	default:
		return false
	}
	return true
}

func (c *Client) matches(tx models.WalletTransaction) bool {
	if c.current == nil {
		return false
	}
	if tx.PaymentHash != "" && strings.EqualFold(tx.PaymentHash, c.current.PaymentHash) {
		return true
	}
	return tx.Invoice != "" && tx.Invoice == c.current.Invoice
}

func (c *Client) setStatus(s Status, now time.Time) {
	c.logger.Info("invoice status changed", "operation", "wallet.invoice", "request_id", c.current.RequestID, "from", string(c.current.Status), "to", string(s))
	c.current.Status = s
	c.current.UpdatedAt = now
	if s.Terminal() {
		c.lookupInFlight = ""
	}
}

func (c *Client) request(method string, params any, now time.Time) (models.Event, error) {
	body, err := json.Marshal(models.WalletRequest{Method: method, Params: params})
	if err != nil {
		return models.Event{}, err
	}
	content, err := c.keys.Encrypt(string(body), c.pairing.WalletPubKey, c.version)
	if err != nil {
		return models.Event{}, err
	}
	tags := [][]string{{"p", c.pairing.WalletPubKey.Hex()}}
	if c.version == crypto.Versioned {
		tags = append(tags, []string{"encryption", encryptionTagV2})
	}
	return c.keys.Sign(models.Event{
		Kind:      models.KindWalletRequest,
		CreatedAt: now.Unix(),
		Tags:      tags,
		Content:   content,
	})
}
