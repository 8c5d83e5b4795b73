package crypto

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

const (
	PrivateKeySize = 32
	PublicKeySize  = 32
)

// PublicKey is an x-only secp256k1 public key as used on the wire.
type PublicKey [PublicKeySize]byte

// PrivateKey wraps a secp256k1 scalar. It is never serialized by this package
// except through Bytes, which callers use only for sealing at rest.
type PrivateKey struct {
	key *btcec.PrivateKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: key}, nil
}

func PrivateKeyFromBytes(raw []byte) (*PrivateKey, error) {
	if len(raw) != PrivateKeySize || isZero(raw) {
		return nil, ErrInvalidPrivateKey
	}
	var scalar btcec.ModNScalar
	if overflow := scalar.SetByteSlice(raw); overflow {
		return nil, ErrInvalidPrivateKey
	}
	key, _ := btcec.PrivKeyFromBytes(raw)
	return &PrivateKey{key: key}, nil
}

func ParsePrivateKeyHex(raw string) (*PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	defer zeroBytes(b)
	return PrivateKeyFromBytes(b)
}

// Bytes returns a copy of the 32-byte scalar.
func (k *PrivateKey) Bytes() []byte {
	return k.key.Serialize()
}

func (k *PrivateKey) PublicKey() PublicKey {
	var pub PublicKey
	copy(pub[:], schnorr.SerializePubKey(k.key.PubKey()))
	return pub
}

// Zero wipes the scalar held by k.
func (k *PrivateKey) Zero() {
	if k == nil || k.key == nil {
		return
	}
	k.key.Zero()
}

func ParsePublicKeyHex(raw string) (PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil || len(b) != PublicKeySize {
		return PublicKey{}, ErrInvalidPeerKey
	}
	return PublicKeyFromBytes(b)
}

func PublicKeyFromBytes(raw []byte) (PublicKey, error) {
	if len(raw) != PublicKeySize {
		return PublicKey{}, ErrInvalidPeerKey
	}
	if _, err := schnorr.ParsePubKey(raw); err != nil {
		return PublicKey{}, ErrInvalidPeerKey
	}
	var pub PublicKey
	copy(pub[:], raw)
	return pub, nil
}

func (p PublicKey) Hex() string {
	return hex.EncodeToString(p[:])
}

func (p PublicKey) String() string {
	return p.Hex()
}

func (p PublicKey) IsZero() bool {
	return isZero(p[:])
}

// sharedX performs ECDH and returns the unhashed x coordinate of the shared
// point, which both envelope versions build on.
func sharedX(priv *PrivateKey, peer PublicKey) ([]byte, error) {
	pub, err := schnorr.ParsePubKey(peer[:])
	if err != nil {
		return nil, ErrInvalidPeerKey
	}
	return btcec.GenerateSharedSecret(priv.key, pub), nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
