package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"io"
	"math/bits"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	versionedByte       = 0x02
	versionedNonceSize  = 32
	versionedMACSize    = 32
	versionedSalt       = "nip44-v2"
	minPlaintextSize    = 1
	maxPlaintextSize    = 65535
	maxVersionedPayload = 87472
	minVersionedDecoded = 99
	maxVersionedDecoded = 65603
)

// VersionedEnvelope is the NIP-44 v2 shape: ChaCha20 with keys expanded from
// a per-message nonce, HMAC-SHA256 over nonce and ciphertext.
type VersionedEnvelope struct {
	Nonce      []byte
	Ciphertext []byte
	MAC        []byte
}

func (VersionedEnvelope) Version() EnvelopeVersion { return Versioned }

func (e VersionedEnvelope) Encode() string {
	raw := make([]byte, 0, 1+len(e.Nonce)+len(e.Ciphertext)+len(e.MAC))
	raw = append(raw, versionedByte)
	raw = append(raw, e.Nonce...)
	raw = append(raw, e.Ciphertext...)
	raw = append(raw, e.MAC...)
	return base64.StdEncoding.EncodeToString(raw)
}

// ConversationKey derives the long-lived NIP-44 key shared by priv and peer.
// It is symmetric: both sides derive the same value.
func ConversationKey(priv *PrivateKey, peer PublicKey) ([]byte, error) {
	shared, err := sharedX(priv, peer)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(shared)
	return hkdf.Extract(sha256.New, shared, []byte(versionedSalt)), nil
}

func messageKeys(conversationKey, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	if len(conversationKey) != 32 || len(nonce) != versionedNonceSize {
		return nil, nil, nil, errInvalidConversationKey
	}
	keys := make([]byte, 76)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, conversationKey, nonce), keys); err != nil {
		return nil, nil, nil, err
	}
	return keys[0:32], keys[32:44], keys[44:76], nil
}

func sealVersioned(plaintext []byte, conversationKey []byte) (VersionedEnvelope, error) {
	nonce := make([]byte, versionedNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return VersionedEnvelope{}, err
	}
	return sealVersionedWithNonce(plaintext, conversationKey, nonce)
}

func sealVersionedWithNonce(plaintext, conversationKey, nonce []byte) (VersionedEnvelope, error) {
	padded, err := padPlaintext(plaintext)
	if err != nil {
		return VersionedEnvelope{}, err
	}
	chachaKey, chachaNonce, hmacKey, err := messageKeys(conversationKey, nonce)
	if err != nil {
		return VersionedEnvelope{}, err
	}
	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return VersionedEnvelope{}, err
	}
	ct := make([]byte, len(padded))
	stream.XORKeyStream(ct, padded)
	return VersionedEnvelope{
		Nonce:      append([]byte(nil), nonce...),
		Ciphertext: ct,
		MAC:        versionedMAC(hmacKey, nonce, ct),
	}, nil
}

func openVersioned(env VersionedEnvelope, conversationKey []byte) ([]byte, error) {
	chachaKey, chachaNonce, hmacKey, err := messageKeys(conversationKey, env.Nonce)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(versionedMAC(hmacKey, env.Nonce, env.Ciphertext), env.MAC) {
		return nil, ErrAuthenticationFailed
	}
	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return nil, err
	}
	padded := make([]byte, len(env.Ciphertext))
	stream.XORKeyStream(padded, env.Ciphertext)
	return unpadPlaintext(padded)
}

func parseVersioned(raw []byte) (VersionedEnvelope, error) {
	// The version byte decides the error before the size does.
	if len(raw) > 0 && raw[0] != versionedByte {
		return VersionedEnvelope{}, ErrUnsupportedVersion
	}
	if len(raw) < minVersionedDecoded || len(raw) > maxVersionedDecoded {
		return VersionedEnvelope{}, ErrUnknownEnvelopeFormat
	}
	macStart := len(raw) - versionedMACSize
	return VersionedEnvelope{
		Nonce:      raw[1 : 1+versionedNonceSize],
		Ciphertext: raw[1+versionedNonceSize : macStart],
		MAC:        raw[macStart:],
	}, nil
}

func versionedMAC(key, nonce, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(nonce)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

// PaddedLen returns the padded size for an unpadded plaintext length.
func PaddedLen(n int) int {
	if n <= 32 {
		return 32
	}
	nextPower := 1 << bits.Len(uint(n-1))
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((n-1)/chunk + 1)
}

func padPlaintext(plaintext []byte) ([]byte, error) {
	n := len(plaintext)
	if n < minPlaintextSize || n > maxPlaintextSize {
		return nil, ErrInvalidPlaintextLength
	}
	out := make([]byte, 2+PaddedLen(n))
	binary.BigEndian.PutUint16(out, uint16(n))
	copy(out[2:], plaintext)
	return out, nil
}

func unpadPlaintext(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, ErrInvalidPadding
	}
	n := int(binary.BigEndian.Uint16(padded))
	if n < minPlaintextSize || len(padded) != 2+PaddedLen(n) {
		return nil, ErrInvalidPadding
	}
	return padded[2 : 2+n], nil
}
