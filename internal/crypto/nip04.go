package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"strings"
)

const legacySeparator = "?iv="

// LegacyEnvelope is the NIP-04 shape: AES-256-CBC keyed by the raw ECDH x
// coordinate, IV carried next to the ciphertext.
type LegacyEnvelope struct {
	Ciphertext []byte
	IV         []byte
}

func (LegacyEnvelope) Version() EnvelopeVersion { return Legacy }

func (e LegacyEnvelope) Encode() string {
	return base64.StdEncoding.EncodeToString(e.Ciphertext) + legacySeparator + base64.StdEncoding.EncodeToString(e.IV)
}

func parseLegacy(payload string) (LegacyEnvelope, error) {
	ctPart, ivPart, ok := strings.Cut(payload, legacySeparator)
	if !ok || ctPart == "" || ivPart == "" {
		return LegacyEnvelope{}, ErrMalformedLegacyEnvelope
	}
	ct, err := base64.StdEncoding.DecodeString(ctPart)
	if err != nil {
		return LegacyEnvelope{}, ErrMalformedLegacyEnvelope
	}
	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil || len(iv) != aes.BlockSize {
		return LegacyEnvelope{}, ErrMalformedLegacyEnvelope
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return LegacyEnvelope{}, ErrMalformedLegacyEnvelope
	}
	return LegacyEnvelope{Ciphertext: ct, IV: iv}, nil
}

func sealLegacy(plaintext []byte, key []byte) (LegacyEnvelope, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return LegacyEnvelope{}, err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return LegacyEnvelope{}, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
	return LegacyEnvelope{Ciphertext: ct, IV: iv}, nil
}

func openLegacy(env LegacyEnvelope, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(env.Ciphertext))
	cipher.NewCBCDecrypter(block, env.IV).CryptBlocks(out, env.Ciphertext)
	plain, ok := pkcs7Unpad(out, aes.BlockSize)
	if !ok {
		return nil, ErrMalformedLegacyEnvelope
	}
	return plain, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append(make([]byte, 0, len(data)+n), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
