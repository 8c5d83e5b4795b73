package app

import (
	"nostr-signer/go-backend/internal/relay"
	"nostr-signer/go-backend/internal/wallet"
	"nostr-signer/go-backend/pkg/models"
)

// Notification methods streamed to UI clients.
const (
	MethodSigningRequest  = "signer.request"
	MethodSigningResolved = "signer.resolved"
	MethodInvoiceUpdate   = "wallet.invoice"
	MethodRelayStatus     = "relay.status"
)

// HubObserver publishes engine callbacks to a NotificationHub. Publish never
// blocks, so it is safe to call from the dispatch loop.
type HubObserver struct {
	Hub *NotificationHub
}

func (o HubObserver) OnSigningRequest(prompt models.SigningPrompt) {
	o.Hub.Publish(MethodSigningRequest, prompt)
}

func (o HubObserver) OnSigningResolved(resolution models.SigningResolution) {
	o.Hub.Publish(MethodSigningResolved, resolution)
}

func (o HubObserver) OnInvoiceUpdate(record wallet.InvoiceRecord) {
	o.Hub.Publish(MethodInvoiceUpdate, record)
}

func (o HubObserver) OnConnectionState(status relay.Status) {
	o.Hub.Publish(MethodRelayStatus, status)
}
