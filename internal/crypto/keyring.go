package crypto

import (
	"sync"

	"nostr-signer/go-backend/pkg/models"
)

// Keyring holds one private key and caches NIP-44 conversation keys per
// peer. The key is read-only after construction.
type Keyring struct {
	priv *PrivateKey
	pub  PublicKey

	mu        sync.RWMutex
	convCache map[PublicKey][]byte
}

func NewKeyring(priv *PrivateKey) *Keyring {
	return &Keyring{
		priv:      priv,
		pub:       priv.PublicKey(),
		convCache: make(map[PublicKey][]byte),
	}
}

func (k *Keyring) PublicKey() PublicKey {
	return k.pub
}

func (k *Keyring) conversationKey(peer PublicKey) ([]byte, error) {
	k.mu.RLock()
	key, ok := k.convCache[peer]
	k.mu.RUnlock()
	if ok {
		return key, nil
	}
	key, err := ConversationKey(k.priv, peer)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	k.convCache[peer] = key
	k.mu.Unlock()
	return key, nil
}

func (k *Keyring) Encrypt(plaintext string, recipient PublicKey, version EnvelopeVersion) (string, error) {
	if version != Versioned {
		return Encrypt(plaintext, k.priv, recipient, version)
	}
	convKey, err := k.conversationKey(recipient)
	if err != nil {
		return "", err
	}
	env, err := sealVersioned([]byte(plaintext), convKey)
	if err != nil {
		return "", err
	}
	return env.Encode(), nil
}

func (k *Keyring) Decrypt(payload string, sender PublicKey) (string, EnvelopeVersion, error) {
	env, err := ParseEnvelope(payload)
	if err != nil {
		return "", 0, err
	}
	versioned, ok := env.(VersionedEnvelope)
	if !ok {
		return Decrypt(payload, k.priv, sender)
	}
	convKey, err := k.conversationKey(sender)
	if err != nil {
		return "", 0, err
	}
	plain, err := openVersioned(versioned, convKey)
	if err != nil {
		return "", 0, err
	}
	return string(plain), Versioned, nil
}

// Sign fills pubkey, id and sig on a copy of ev.
func (k *Keyring) Sign(ev models.Event) (models.Event, error) {
	return SignEvent(ev, k.priv)
}

// Close wipes the private key and cached conversation keys.
func (k *Keyring) Close() {
	k.mu.Lock()
	for peer, key := range k.convCache {
		zeroBytes(key)
		delete(k.convCache, peer)
	}
	k.mu.Unlock()
	k.priv.Zero()
}
