package identity

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nostr-signer/go-backend/internal/crypto"
	"nostr-signer/go-backend/internal/securestore"
)

const keyFileVersion = 1

var ErrKeyFileMismatch = errors.New("key file public key does not match its secret")

type keyFile struct {
	Version   int       `json:"version"`
	PubKey    string    `json:"pubkey"`
	SecretKey string    `json:"secret_key"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveKey seals priv into path under passphrase.
func SaveKey(path, passphrase string, priv *crypto.PrivateKey, source string, now time.Time, overwrite bool) (Identity, error) {
	raw := priv.Bytes()
	defer clear(raw)
	doc := keyFile{
		Version:   keyFileVersion,
		PubKey:    priv.PublicKey().Hex(),
		SecretKey: hex.EncodeToString(raw),
		Source:    source,
		CreatedAt: now.UTC(),
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return Identity{}, err
	}
	defer clear(payload)
	if err := securestore.WriteEncryptedFile(path, passphrase, payload, overwrite); err != nil {
		return Identity{}, err
	}
	id := Describe(priv.PublicKey())
	id.Source = source
	id.CreatedAt = doc.CreatedAt
	return id, nil
}

// LoadKey opens the key file at path.
func LoadKey(path, passphrase string) (*crypto.PrivateKey, Identity, error) {
	payload, err := securestore.ReadDecryptedFile(path, passphrase)
	if err != nil {
		return nil, Identity{}, err
	}
	defer clear(payload)
	var doc keyFile
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, Identity{}, fmt.Errorf("decode key file: %w", err)
	}
	if doc.Version != keyFileVersion {
		return nil, Identity{}, fmt.Errorf("unsupported key file version %d", doc.Version)
	}
	priv, err := crypto.ParsePrivateKeyHex(doc.SecretKey)
	if err != nil {
		return nil, Identity{}, err
	}
	if priv.PublicKey().Hex() != doc.PubKey {
		priv.Zero()
		return nil, Identity{}, ErrKeyFileMismatch
	}
	id := Describe(priv.PublicKey())
	id.Source = doc.Source
	id.CreatedAt = doc.CreatedAt
	return priv, id, nil
}
