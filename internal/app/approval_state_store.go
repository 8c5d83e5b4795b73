package app

import (
	"encoding/json"
	"errors"
	"io/fs"
	"strings"

	"nostr-signer/go-backend/internal/securestore"
	"nostr-signer/go-backend/internal/signer"
)

const approvalStateVersion = 1

var ErrInvalidApprovalState = errors.New("approval persistence payload is invalid")

// ApprovalStateStore keeps trusted peers and remembered approvals in a
// passphrase-sealed file so they survive restarts. An unconfigured store is
// a no-op.
type ApprovalStateStore struct {
	path   string
	secret string
}

func NewApprovalStateStore(path, secret string) *ApprovalStateStore {
	return &ApprovalStateStore{
		path:   strings.TrimSpace(path),
		secret: secret,
	}
}

func (s *ApprovalStateStore) configured() bool {
	return s != nil && s.path != "" && s.secret != ""
}

// Load returns the stored snapshot, or an empty one when nothing is stored.
func (s *ApprovalStateStore) Load() (signer.ApprovalSnapshot, error) {
	if !s.configured() {
		return signer.ApprovalSnapshot{}, nil
	}
	plaintext, err := securestore.ReadDecryptedFile(s.path, s.secret)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return signer.ApprovalSnapshot{}, nil
		}
		return signer.ApprovalSnapshot{}, err
	}

	var state persistedApprovalState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return signer.ApprovalSnapshot{}, err
	}
	if state.Version != approvalStateVersion {
		return signer.ApprovalSnapshot{}, ErrInvalidApprovalState
	}
	return state.Approvals, nil
}

func (s *ApprovalStateStore) Save(snap signer.ApprovalSnapshot) error {
	if !s.configured() {
		return nil
	}
	payload, err := json.Marshal(persistedApprovalState{
		Version:   approvalStateVersion,
		Approvals: snap,
	})
	if err != nil {
		return err
	}
	return securestore.WriteEncryptedFile(s.path, s.secret, payload, true)
}

type persistedApprovalState struct {
	Version   int                     `json:"version"`
	Approvals signer.ApprovalSnapshot `json:"approvals"`
}
