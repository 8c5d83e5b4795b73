package identity

import (
	"errors"
	"strings"
	"time"

	"nostr-signer/go-backend/internal/crypto"
	"nostr-signer/go-backend/internal/securestore"
)

var (
	ErrKeyFileRequired = errors.New("key file path is required")
	ErrNoKeyFile       = errors.New("no key file; run keygen or import first")
)

// Manager owns the device key file.
type Manager struct {
	path string
	now  func() time.Time
}

func NewManager(path string) (*Manager, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrKeyFileRequired
	}
	return &Manager{path: path, now: time.Now}, nil
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) Exists() bool {
	return securestore.Exists(m.path)
}

// Create derives a fresh key from a new mnemonic and seals it. The mnemonic is
// returned once for backup and is not stored.
func (m *Manager) Create(passphrase string, overwrite bool) (Identity, string, error) {
	mnemonic, err := NewMnemonic()
	if err != nil {
		return Identity{}, "", err
	}
	priv, err := FromMnemonic(mnemonic, "", 0)
	if err != nil {
		return Identity{}, "", err
	}
	defer priv.Zero()
	id, err := SaveKey(m.path, passphrase, priv, SourceGenerated, m.now(), overwrite)
	if err != nil {
		return Identity{}, "", err
	}
	return id, mnemonic, nil
}

// Import seals an existing secret (hex, nsec or mnemonic).
func (m *Manager) Import(secret, passphrase string, overwrite bool) (Identity, error) {
	priv, source, err := ParseSecret(secret)
	if err != nil {
		return Identity{}, err
	}
	defer priv.Zero()
	return SaveKey(m.path, passphrase, priv, source, m.now(), overwrite)
}

// Unlock opens the key file and hands the key to a keyring. Callers Close the
// keyring when done.
func (m *Manager) Unlock(passphrase string) (*crypto.Keyring, Identity, error) {
	if !m.Exists() {
		return nil, Identity{}, ErrNoKeyFile
	}
	priv, id, err := LoadKey(m.path, passphrase)
	if err != nil {
		return nil, Identity{}, err
	}
	return crypto.NewKeyring(priv), id, nil
}
