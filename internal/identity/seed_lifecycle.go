package identity

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"nostr-signer/go-backend/internal/crypto"
)

var (
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrMnemonicRequired = errors.New("mnemonic is required")
	ErrUnknownSecret    = errors.New("secret is not a hex key, nsec or mnemonic")
)

// NewMnemonic returns a fresh 24-word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(normalizeMnemonic(mnemonic))
}

// FromMnemonic derives the NIP-06 key. passphrase is the optional BIP-39
// extension word, not the key file passphrase.
func FromMnemonic(mnemonic, passphrase string, account uint32) (*crypto.PrivateKey, error) {
	mnemonic = normalizeMnemonic(mnemonic)
	if mnemonic == "" {
		return nil, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	defer clear(seed)
	return DeriveKey(seed, account)
}

// ParseSecret accepts a 64-char hex key, an nsec, or a mnemonic (account 0,
// no extension word) and reports which form it was.
func ParseSecret(raw string) (*crypto.PrivateKey, string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(strings.ToLower(raw), hrpPrivate+"1"):
		priv, err := DecodeNsec(raw)
		return priv, SourceNsec, err
	case len(raw) == 64 && isHex(raw):
		priv, err := crypto.ParsePrivateKeyHex(raw)
		return priv, SourceHex, err
	case strings.Contains(raw, " "):
		priv, err := FromMnemonic(raw, "", 0)
		return priv, SourceMnemonic, err
	default:
		return nil, "", ErrUnknownSecret
	}
}

func normalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
