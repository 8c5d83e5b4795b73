package crypto

import (
	"encoding/base64"
	"fmt"
	"strings"
)

type EnvelopeVersion int

const (
	Legacy EnvelopeVersion = iota + 1
	Versioned
)

func (v EnvelopeVersion) String() string {
	switch v {
	case Legacy:
		return "nip04"
	case Versioned:
		return "nip44_v2"
	default:
		return "unknown"
	}
}

// ParseEnvelopeVersion accepts the names used in config files and NIP-47
// encryption tags.
func ParseEnvelopeVersion(raw string) (EnvelopeVersion, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "nip04", "legacy", "":
		return Legacy, nil
	case "nip44", "nip44_v2", "versioned":
		return Versioned, nil
	default:
		return 0, fmt.Errorf("unknown envelope version %q", raw)
	}
}

// Envelope is either a LegacyEnvelope or a VersionedEnvelope.
type Envelope interface {
	Version() EnvelopeVersion
	Encode() string
}

// ParseEnvelope classifies an untrusted payload. The "?iv=" separator marks
// Legacy; anything else must decode as base64 with a known version byte.
func ParseEnvelope(payload string) (Envelope, error) {
	if strings.Contains(payload, legacySeparator) {
		return parseLegacy(payload)
	}
	if payload == "" || payload[0] == '#' {
		return nil, ErrUnsupportedVersion
	}
	if len(payload) > maxVersionedPayload {
		return nil, ErrUnknownEnvelopeFormat
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrUnknownEnvelopeFormat
	}
	return parseVersioned(raw)
}

// Encrypt seals plaintext from priv to recipient.
func Encrypt(plaintext string, priv *PrivateKey, recipient PublicKey, version EnvelopeVersion) (string, error) {
	switch version {
	case Legacy:
		key, err := sharedX(priv, recipient)
		if err != nil {
			return "", err
		}
		defer zeroBytes(key)
		env, err := sealLegacy([]byte(plaintext), key)
		if err != nil {
			return "", err
		}
		return env.Encode(), nil
	case Versioned:
		convKey, err := ConversationKey(priv, recipient)
		if err != nil {
			return "", err
		}
		defer zeroBytes(convKey)
		env, err := sealVersioned([]byte(plaintext), convKey)
		if err != nil {
			return "", err
		}
		return env.Encode(), nil
	default:
		return "", ErrUnsupportedVersion
	}
}

// Decrypt opens payload sent by sender to priv and reports which version it
// used so replies can mirror it.
func Decrypt(payload string, priv *PrivateKey, sender PublicKey) (string, EnvelopeVersion, error) {
	env, err := ParseEnvelope(payload)
	if err != nil {
		return "", 0, err
	}
	switch e := env.(type) {
	case LegacyEnvelope:
		key, err := sharedX(priv, sender)
		if err != nil {
			return "", 0, err
		}
		defer zeroBytes(key)
		plain, err := openLegacy(e, key)
		if err != nil {
			return "", 0, err
		}
		return string(plain), Legacy, nil
	case VersionedEnvelope:
		convKey, err := ConversationKey(priv, sender)
		if err != nil {
			return "", 0, err
		}
		defer zeroBytes(convKey)
		plain, err := openVersioned(e, convKey)
		if err != nil {
			return "", 0, err
		}
		return string(plain), Versioned, nil
	default:
		return "", 0, ErrUnknownEnvelopeFormat
	}
}
