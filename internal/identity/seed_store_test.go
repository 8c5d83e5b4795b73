package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nostr-signer/go-backend/internal/securestore"
	"nostr-signer/go-backend/internal/testutil/fsperm"
)

func TestManagerCreateUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.key")
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if mgr.Exists() {
		t.Fatal("key file must not exist yet")
	}
	created, mnemonic, err := mgr.Create("pass-1", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !ValidateMnemonic(mnemonic) {
		t.Fatal("backup mnemonic must be valid")
	}
	if created.Source != SourceGenerated || created.Npub == "" {
		t.Fatalf("unexpected identity: %+v", created)
	}
	fsperm.AssertPrivateFilePerm(t, path)

	keys, opened, err := mgr.Unlock("pass-1")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	defer keys.Close()
	if keys.PublicKey().Hex() != created.PubKey || opened.PubKey != created.PubKey {
		t.Fatal("unlocked key must match created identity")
	}

	restored, err := FromMnemonic(mnemonic, "", 0)
	if err != nil {
		t.Fatalf("restore from mnemonic: %v", err)
	}
	if restored.PublicKey().Hex() != created.PubKey {
		t.Fatal("mnemonic must restore the same key")
	}
}

func TestManagerWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.key")
	mgr, _ := NewManager(path)
	if _, _, err := mgr.Create("right", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := mgr.Unlock("wrong"); !errors.Is(err, securestore.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestManagerImportRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.key")
	mgr, _ := NewManager(path)
	mgr.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	id, err := mgr.Import(nip06Mnemonic, "pass", false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if id.PubKey != "17162c921dc4d2518f9a101db33695df1afb56ab82f5ff3e5da6eec3ca5cd917" || id.Source != SourceMnemonic {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if _, err := mgr.Import(nip06Mnemonic, "pass", false); !errors.Is(err, os.ErrExist) {
		t.Fatalf("expected os.ErrExist, got %v", err)
	}
	if _, err := mgr.Import("nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5", "pass", true); err != nil {
		t.Fatalf("overwrite import: %v", err)
	}
	_, opened, err := mgr.Unlock("pass")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if opened.Source != SourceNsec || !opened.CreatedAt.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("unexpected identity after overwrite: %+v", opened)
	}
}

func TestManagerUnlockWithoutFile(t *testing.T) {
	mgr, _ := NewManager(filepath.Join(t.TempDir(), "missing.key"))
	if _, _, err := mgr.Unlock("x"); !errors.Is(err, ErrNoKeyFile) {
		t.Fatalf("expected ErrNoKeyFile, got %v", err)
	}
	if _, err := NewManager(" "); !errors.Is(err, ErrKeyFileRequired) {
		t.Fatalf("expected ErrKeyFileRequired, got %v", err)
	}
}
