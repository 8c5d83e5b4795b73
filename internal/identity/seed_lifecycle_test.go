package identity

import (
	"errors"
	"strings"
	"testing"
)

const nip06Mnemonic = "leader monkey parrot ring guide accident before fence cannon height naive bean"

func TestFromMnemonicMatchesKnownVector(t *testing.T) {
	priv, err := FromMnemonic(nip06Mnemonic, "", 0)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	raw := priv.Bytes()
	if got := hexString(raw); got != "7f7ff03d123792d6ac594bfa67bf6d0c0ab55b6b1fdb6249303fe861f1ccba9a" {
		t.Fatalf("unexpected private key: %s", got)
	}
	if got := priv.PublicKey().Hex(); got != "17162c921dc4d2518f9a101db33695df1afb56ab82f5ff3e5da6eec3ca5cd917" {
		t.Fatalf("unexpected public key: %s", got)
	}
}

func TestFromMnemonicAccountsDiffer(t *testing.T) {
	a, err := FromMnemonic(nip06Mnemonic, "", 0)
	if err != nil {
		t.Fatalf("derive account 0: %v", err)
	}
	b, err := FromMnemonic(nip06Mnemonic, "", 1)
	if err != nil {
		t.Fatalf("derive account 1: %v", err)
	}
	if a.PublicKey() == b.PublicKey() {
		t.Fatal("accounts must derive distinct keys")
	}
}

func TestFromMnemonicNormalizesWhitespaceAndCase(t *testing.T) {
	messy := "  LEADER monkey\tparrot ring guide accident before fence cannon height naive   bean "
	a, err := FromMnemonic(messy, "", 0)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if a.PublicKey().Hex() != "17162c921dc4d2518f9a101db33695df1afb56ab82f5ff3e5da6eec3ca5cd917" {
		t.Fatal("normalized mnemonic must derive the same key")
	}
}

func TestFromMnemonicInvalidInputs(t *testing.T) {
	if _, err := FromMnemonic("", "", 0); !errors.Is(err, ErrMnemonicRequired) {
		t.Fatalf("expected ErrMnemonicRequired, got %v", err)
	}
	if _, err := FromMnemonic("not a mnemonic at all", "", 0); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("expected ErrInvalidMnemonic, got %v", err)
	}
}

func TestNewMnemonicIsValid24Words(t *testing.T) {
	m, err := NewMnemonic()
	if err != nil {
		t.Fatalf("new mnemonic failed: %v", err)
	}
	if n := len(strings.Fields(m)); n != 24 {
		t.Fatalf("expected 24 words, got %d", n)
	}
	if !ValidateMnemonic(m) {
		t.Fatal("generated mnemonic must validate")
	}
}

func TestParseSecretDetectsForm(t *testing.T) {
	const hexKey = "67dea2ed018072d675f5415ecfaed7d2597555e202d85b3d65ea4e58d2d92ffa"
	cases := []struct {
		in     string
		source string
	}{
		{hexKey, SourceHex},
		{"nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5", SourceNsec},
		{nip06Mnemonic, SourceMnemonic},
	}
	for _, tc := range cases {
		priv, source, err := ParseSecret(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in[:8], err)
		}
		if source != tc.source {
			t.Fatalf("expected source %s, got %s", tc.source, source)
		}
		if priv == nil {
			t.Fatal("expected key")
		}
	}
	if _, _, err := ParseSecret("garbage"); !errors.Is(err, ErrUnknownSecret) {
		t.Fatalf("expected ErrUnknownSecret, got %v", err)
	}
}
