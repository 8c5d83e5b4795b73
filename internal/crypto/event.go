package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nostr-signer/go-backend/pkg/models"
)

// ComputeEventID returns the NIP-01 id: sha256 over the canonical array
// [0, pubkey, created_at, kind, tags, content].
func ComputeEventID(ev models.Event) (string, error) {
	tags := ev.Tags
	if tags == nil {
		tags = [][]string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any{0, ev.PubKey, ev.CreatedAt, ev.Kind, tags, ev.Content}); err != nil {
		return "", err
	}
	sum := sha256.Sum256(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hex.EncodeToString(sum[:]), nil
}

// SignEvent sets pubkey, id and a BIP-340 signature on a copy of ev.
func SignEvent(ev models.Event, priv *PrivateKey) (models.Event, error) {
	ev.PubKey = priv.PublicKey().Hex()
	if ev.Tags == nil {
		ev.Tags = [][]string{}
	}
	id, err := ComputeEventID(ev)
	if err != nil {
		return models.Event{}, err
	}
	hash, _ := hex.DecodeString(id)
	sig, err := schnorr.Sign(priv.key, hash)
	if err != nil {
		return models.Event{}, err
	}
	ev.ID = id
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return ev, nil
}

// VerifyEvent checks that the id matches the content and that sig is a valid
// signature by pubkey.
func VerifyEvent(ev models.Event) error {
	id, err := ComputeEventID(ev)
	if err != nil {
		return err
	}
	if id != ev.ID {
		return ErrInvalidEventID
	}
	pubRaw, err := hex.DecodeString(ev.PubKey)
	if err != nil {
		return ErrInvalidPeerKey
	}
	pub, err := schnorr.ParsePubKey(pubRaw)
	if err != nil {
		return ErrInvalidPeerKey
	}
	sigRaw, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return ErrInvalidSignature
	}
	sig, err := schnorr.ParseSignature(sigRaw)
	if err != nil {
		return ErrInvalidSignature
	}
	hash, _ := hex.DecodeString(id)
	if !sig.Verify(hash, pub) {
		return ErrInvalidSignature
	}
	return nil
}
