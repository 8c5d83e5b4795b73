package privacylog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestSanitizeArgsFingerprintsPeerKeys(t *testing.T) {
	args := SanitizeArgs(
		"peer", "4f355bdcb7cc0af728ef3cceb9615d90684bb5b2ca5f859ab0f0b704075871aa",
		"request_id", "req-1",
		"kind", 1,
	)
	if len(args) != 6 {
		t.Fatalf("unexpected args length: %d", len(args))
	}
	if got := args[0]; got != "peer_fp" {
		t.Fatalf("unexpected key: %v", got)
	}
	if got := args[1].(string); !strings.HasPrefix(got, "fp_") {
		t.Fatalf("unexpected fingerprint value: %q", got)
	}
	if got := args[2]; got != "request_id_fp" {
		t.Fatalf("unexpected key: %v", got)
	}
	if got := args[4]; got != "kind" {
		t.Fatalf("expected untouched key, got %v", got)
	}
}

func TestSanitizingHandlerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Info("test",
		"wallet_pubkey", "abc",
		"connect_secret", "s3cr3t",
		"nsec", "nsec1xyz",
		"plaintext", "hello",
		"rpc_token", "tok",
		"status", "ok",
	)

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}
	if _, ok := payload["wallet_pubkey"]; ok {
		t.Fatal("wallet_pubkey should not be present")
	}
	if _, ok := payload["wallet_pubkey_fp"]; !ok {
		t.Fatal("wallet_pubkey_fp should be present")
	}
	for _, key := range []string{"connect_secret", "nsec", "plaintext", "rpc_token"} {
		if got, _ := payload[key].(string); got != redactedValue {
			t.Fatalf("expected %s redacted, got %q", key, got)
		}
	}
	if payload["status"] != "ok" {
		t.Fatalf("unrelated attrs must pass through, got %v", payload["status"])
	}
}

func TestSanitizingHandlerImplementsSlogHandlerContract(t *testing.T) {
	var buf bytes.Buffer
	h := WrapHandler(slog.NewJSONHandler(&buf, nil))
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected handler enabled for info")
	}
	rec := slog.NewRecord(time.Now().UTC(), slog.LevelInfo, "msg", 0)
	rec.AddAttrs(slog.String("event_id", "e1"))
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if !strings.Contains(buf.String(), "event_id_fp") {
		t.Fatalf("expected sanitized event_id key, got %s", buf.String())
	}
}

func TestFingerprintIsStableWithinBoot(t *testing.T) {
	if FingerprintID("peer-a") != FingerprintID(" peer-a ") {
		t.Fatal("fingerprint must ignore surrounding space")
	}
	if FingerprintID("peer-a") == FingerprintID("peer-b") {
		t.Fatal("distinct ids must not collide")
	}
	if FingerprintID("") != "" {
		t.Fatal("empty id must stay empty")
	}
}

func TestSanitizeCatchesSecretsUnderInnocentKeys(t *testing.T) {
	args := SanitizeArgs(
		"input", "nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5",
		"pairing", "nostr+walletconnect://b889ff5b?relay=wss%3A%2F%2Frelay.example.com&secret=71a8c14c",
		"bunker", "bunker://ab12?relay=wss://r.example&secret=abc",
		"reason", "nsec is not a valid reason",
	)
	if got := args[1]; got != redactedValue {
		t.Fatalf("nsec value must be redacted, got %v", got)
	}
	pairing := args[3].(string)
	if strings.Contains(pairing, "71a8c14c") || !strings.Contains(pairing, "relay.example.com") {
		t.Fatalf("pairing url must keep relay and hide secret, got %q", pairing)
	}
	bunker := args[5].(string)
	if strings.Contains(bunker, "secret=abc") || !strings.HasPrefix(bunker, "bunker://ab12") {
		t.Fatalf("bunker url must hide secret, got %q", bunker)
	}
	if got := args[7]; got != "nsec is not a valid reason" {
		t.Fatalf("plain text must pass through, got %v", got)
	}
}

func TestSanitizeAttrRecursesIntoGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Info("grouped", slog.Group("request", slog.String("peer", "abcd"), slog.String("connect_secret", "hunter2")))
	out := buf.String()
	if strings.Contains(out, "hunter2") || strings.Contains(out, "\"abcd\"") {
		t.Fatalf("group members must be sanitized: %s", out)
	}
	if !strings.Contains(out, "peer_fp") {
		t.Fatalf("expected fingerprinted peer inside group: %s", out)
	}
}
