// Package securestore seals small secrets (the device key) under a
// passphrase: argon2id for key stretching, XChaCha20-Poly1305 for the data.
package securestore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	filePrefix      = "NSIGKEY1\n"
	kdfName         = "argon2id"

	defaultKDFTime     = 2
	defaultKDFMemoryKB = 64 * 1024
	defaultKDFThreads  = 1
	maxKDFMemoryKB     = 1024 * 1024
	maxKDFTime         = 16
)

var (
	ErrAuthFailed      = errors.New("securestore authentication failed")
	ErrInvalid         = errors.New("securestore envelope is invalid")
	ErrEmptyPassphrase = errors.New("securestore passphrase is empty")
)

// additionalData binds ciphertexts to this file format.
var additionalData = []byte(strings.TrimSpace(filePrefix))

type Envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

func Encrypt(passphrase string, plaintext []byte) ([]byte, error) {
	env, err := EncryptEnvelope(passphrase, plaintext)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(filePrefix), raw...), nil
}

func EncryptEnvelope(passphrase string, plaintext []byte) (*Envelope, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	env := &Envelope{
		Version:     envelopeVersion,
		KDF:         kdfName,
		KDFTime:     defaultKDFTime,
		KDFMemoryKB: defaultKDFMemoryKB,
		KDFThreads:  defaultKDFThreads,
		Salt:        make([]byte, saltSize),
		Nonce:       make([]byte, chacha20poly1305.NonceSizeX),
	}
	if _, err := rand.Read(env.Salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(env.Nonce); err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, env)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	env.Ciphertext = aead.Seal(nil, env.Nonce, plaintext, additionalData)
	return env, nil
}

func Decrypt(passphrase string, data []byte) ([]byte, error) {
	if !strings.HasPrefix(string(data), filePrefix) {
		return nil, ErrInvalid
	}
	var env Envelope
	if err := json.Unmarshal(data[len(filePrefix):], &env); err != nil {
		return nil, ErrInvalid
	}
	return DecryptEnvelope(passphrase, &env)
}

func DecryptEnvelope(passphrase string, env *Envelope) ([]byte, error) {
	if err := validate(env); err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, env)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, additionalData)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// validate bounds the KDF cost a file may ask for.
func validate(env *Envelope) error {
	switch {
	case env == nil, env.Version != envelopeVersion, env.KDF != kdfName:
		return ErrInvalid
	case len(env.Salt) != saltSize, len(env.Nonce) != chacha20poly1305.NonceSizeX:
		return ErrInvalid
	case env.KDFTime == 0, env.KDFTime > maxKDFTime:
		return ErrInvalid
	case env.KDFMemoryKB < 8*uint32(max(env.KDFThreads, 1)), env.KDFMemoryKB > maxKDFMemoryKB:
		return ErrInvalid
	case env.KDFThreads == 0:
		return ErrInvalid
	}
	return nil
}

func deriveKey(passphrase string, env *Envelope) []byte {
	return argon2.IDKey([]byte(passphrase), env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
