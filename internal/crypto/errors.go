package crypto

import "errors"

var (
	ErrInvalidPrivateKey = errors.New("invalid private key")
	ErrInvalidPeerKey    = errors.New("invalid peer key")
	ErrInvalidSignature  = errors.New("invalid event signature")
	ErrInvalidEventID    = errors.New("event id does not match content")

	// ErrDecode matches every DecodeError via errors.Is.
	ErrDecode = errors.New("envelope decode failed")

	ErrMalformedLegacyEnvelope = &DecodeError{Reason: "malformed_legacy_envelope"}
	ErrAuthenticationFailed    = &DecodeError{Reason: "authentication_failed"}
	ErrUnsupportedVersion      = &DecodeError{Reason: "unsupported_version"}
	ErrUnknownEnvelopeFormat   = &DecodeError{Reason: "unknown_envelope_format"}
	ErrInvalidPadding          = &DecodeError{Reason: "invalid_padding"}
	ErrInvalidPlaintextLength  = errors.New("plaintext length out of range")

	errInvalidConversationKey = errors.New("invalid conversation key or nonce")
)

// DecodeError is returned for untrusted envelopes that cannot be opened.
// Reason is stable and safe to log or export as a metric label.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "envelope decode failed: " + e.Reason
}

func (e *DecodeError) Is(target error) bool {
	if target == ErrDecode {
		return true
	}
	other, ok := target.(*DecodeError)
	return ok && other.Reason == e.Reason
}

// DecodeReason extracts the DecodeError reason, or "other".
func DecodeReason(err error) string {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return decodeErr.Reason
	}
	return "other"
}
