package identity

import (
	"time"

	"nostr-signer/go-backend/internal/crypto"
)

// Identity is the public description of the device key.
type Identity struct {
	PubKey    string    `json:"pubkey"`
	Npub      string    `json:"npub"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

const (
	SourceGenerated = "generated"
	SourceHex       = "hex"
	SourceNsec      = "nsec"
	SourceMnemonic  = "mnemonic"
)

func Describe(pub crypto.PublicKey) Identity {
	npub, _ := EncodeNpub(pub)
	return Identity{PubKey: pub.Hex(), Npub: npub}
}
