// Package privacylog keeps key material, pairing secrets and decrypted
// payloads out of the daemon's logs.
package privacylog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

const redactedValue = "[REDACTED]"

type action int

const (
	keep action = iota
	redact
	fingerprint
	scrubURL
)

var (
	bootSalt = newBootSalt()

	// Identifiers that link log lines to a Nostr identity.
	identityKeys = map[string]struct{}{
		"peer":       {},
		"pubkey":     {},
		"npub":       {},
		"request_id": {},
		"event_id":   {},
	}
	secretKeyParts = []string{"secret", "nsec", "mnemonic", "passphrase", "password", "token", "authorization", "plaintext"}

	// Query parameters that carry a shared secret in pairing URLs.
	secretParams = []string{"secret"}
)

// SanitizingHandler rewrites every attribute before the record reaches next.
type SanitizingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = SanitizeAttr(attr)
	}
	return &SanitizingHandler{next: h.next.WithAttrs(clean)}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

// SanitizeAttr applies the key rules first and then inspects string values,
// so an nsec or a pairing URL logged under an innocent key is still caught.
func SanitizeAttr(attr slog.Attr) slog.Attr {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		members := value.Group()
		clean := make([]any, len(members))
		for i, member := range members {
			clean[i] = SanitizeAttr(member)
		}
		return slog.Group(attr.Key, clean...)
	}
	key, out := sanitize(attr.Key, value.Any())
	if out == nil {
		return slog.Attr{Key: key, Value: value}
	}
	return slog.Any(key, out)
}

// SanitizeArgs is the slog key/value form of SanitizeAttr, for callers that
// format records themselves.
func SanitizeArgs(args ...any) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, 0, len(args))
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			out = append(out, args[i])
			i--
			continue
		}
		newKey, value := sanitize(key, args[i+1])
		if value == nil {
			value = args[i+1]
		}
		out = append(out, newKey, value)
	}
	return out
}

// FingerprintID maps an identifier to a short digest that is stable for the
// lifetime of the process and meaningless after it.
func FingerprintID(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(bootSalt + "|" + trimmed))
	return "fp_" + hex.EncodeToString(sum[:8])
}

// sanitize returns the key to log under and a replacement value, or nil when
// the original value may be logged as is.
func sanitize(key string, value any) (string, any) {
	key = strings.TrimSpace(key)
	switch classify(strings.ToLower(key), value) {
	case redact:
		return key, redactedValue
	case fingerprint:
		if strings.HasSuffix(strings.ToLower(key), "_fp") {
			return key, FingerprintID(stringify(value))
		}
		return key + "_fp", FingerprintID(stringify(value))
	case scrubURL:
		return key, scrubSecretParams(value.(string))
	default:
		return key, nil
	}
}

func classify(key string, value any) action {
	for _, part := range secretKeyParts {
		if strings.Contains(key, part) {
			return redact
		}
	}
	if _, ok := identityKeys[key]; ok {
		return fingerprint
	}
	if strings.HasSuffix(key, "_pubkey") || strings.HasSuffix(key, "_peer") {
		return fingerprint
	}
	s, ok := value.(string)
	if !ok {
		return keep
	}
	lower := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(lower, "nsec1"):
		return redact
	case strings.HasPrefix(lower, "nostr+walletconnect:"), strings.HasPrefix(lower, "bunker:"):
		return scrubURL
	}
	return keep
}

// scrubSecretParams keeps a pairing URL readable while hiding its secret.
// Anything that does not parse is redacted whole.
func scrubSecretParams(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return redactedValue
	}
	q := u.Query()
	for _, name := range secretParams {
		if q.Has(name) {
			q.Set(name, redactedValue)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func newBootSalt() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("salt_%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
