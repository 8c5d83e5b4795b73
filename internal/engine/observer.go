package engine

import (
	"nostr-signer/go-backend/internal/relay"
	"nostr-signer/go-backend/internal/wallet"
	"nostr-signer/go-backend/pkg/models"
)

// Observer is the UI collaborator. Methods run on the dispatch loop and must
// not block.
type Observer interface {
	OnSigningRequest(prompt models.SigningPrompt)
	OnSigningResolved(resolution models.SigningResolution)
	OnInvoiceUpdate(record wallet.InvoiceRecord)
	OnConnectionState(status relay.Status)
}

type NopObserver struct{}

func (NopObserver) OnSigningRequest(models.SigningPrompt) {}
func (NopObserver) OnSigningResolved(models.SigningResolution) {}
func (NopObserver) OnInvoiceUpdate(wallet.InvoiceRecord) {}
func (NopObserver) OnConnectionState(relay.Status) {}
