package models

import (
	"encoding/json"
	"time"
)

// SignerRequest is the decrypted content of a NIP-46 request event.
type SignerRequest struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// SignerResponse is the decrypted content of a NIP-46 response event.
type SignerResponse struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// WalletRequest is the decrypted content of a NIP-47 request event.
type WalletRequest struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type MakeInvoiceParams struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	Expiry      int64  `json:"expiry,omitempty"`
}

type LookupInvoiceParams struct {
	PaymentHash string `json:"payment_hash,omitempty"`
	Invoice     string `json:"invoice,omitempty"`
}

type WalletError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WalletResponse is the decrypted content of a NIP-47 response event.
type WalletResponse struct {
	ResultType string          `json:"result_type"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *WalletError    `json:"error,omitempty"`
}

// WalletTransaction is the result shape shared by make_invoice,
// lookup_invoice and payment notifications.
type WalletTransaction struct {
	Type        string `json:"type,omitempty"`
	State       string `json:"state,omitempty"`
	Invoice     string `json:"invoice,omitempty"`
	Description string `json:"description,omitempty"`
	PaymentHash string `json:"payment_hash,omitempty"`
	Preimage    string `json:"preimage,omitempty"`
	Amount      int64  `json:"amount"`
	CreatedAt   int64  `json:"created_at,omitempty"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
	SettledAt   int64  `json:"settled_at,omitempty"`
}

// WalletNotification is the decrypted content of a NIP-47 notification event.
type WalletNotification struct {
	NotificationType string            `json:"notification_type"`
	Notification     WalletTransaction `json:"notification"`
}

// SigningPrompt is what the UI collaborator shows for an AskUser decision.
type SigningPrompt struct {
	RequestID string    `json:"request_id"`
	Peer      string    `json:"peer"`
	Method    string    `json:"method"`
	EventKind int       `json:"event_kind,omitempty"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SigningResolution tells the UI collaborator how a prompt ended.
type SigningResolution struct {
	RequestID string `json:"request_id"`
	Peer      string `json:"peer"`
	Outcome   string `json:"outcome"`
}

const (
	OutcomeApproved = "approved"
	OutcomeDenied   = "denied"
	OutcomeExpired  = "expired"
)
