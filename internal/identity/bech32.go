package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"nostr-signer/go-backend/internal/crypto"
)

const (
	hrpPublic  = "npub"
	hrpPrivate = "nsec"
)

var ErrInvalidBech32 = errors.New("invalid bech32 key")

func EncodeNpub(pub crypto.PublicKey) (string, error) {
	return encodeKey(hrpPublic, pub[:])
}

func EncodeNsec(priv *crypto.PrivateKey) (string, error) {
	raw := priv.Bytes()
	defer clear(raw)
	return encodeKey(hrpPrivate, raw)
}

func DecodeNpub(s string) (crypto.PublicKey, error) {
	raw, err := decodeKey(hrpPublic, s)
	if err != nil {
		return crypto.PublicKey{}, err
	}
	return crypto.PublicKeyFromBytes(raw)
}

func DecodeNsec(s string) (*crypto.PrivateKey, error) {
	raw, err := decodeKey(hrpPrivate, s)
	if err != nil {
		return nil, err
	}
	defer clear(raw)
	return crypto.PrivateKeyFromBytes(raw)
}

func encodeKey(hrp string, raw []byte) (string, error) {
	data, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, data)
}

func decodeKey(wantHRP, s string) ([]byte, error) {
	hrp, data, err := bech32.Decode(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBech32, err)
	}
	if hrp != wantHRP {
		return nil, fmt.Errorf("%w: prefix %q, want %q", ErrInvalidBech32, hrp, wantHRP)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBech32, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidBech32, len(raw))
	}
	return raw, nil
}
