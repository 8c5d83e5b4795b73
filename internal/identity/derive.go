package identity

import (
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"nostr-signer/go-backend/internal/crypto"
)

// NIP-06 path: m/44'/1237'/<account>'/0/0.
const (
	purposeBIP44  = 44
	coinTypeNostr = 1237
)

// DeriveKey derives the account key for a BIP-39 seed.
func DeriveKey(seed []byte, account uint32) (*crypto.PrivateKey, error) {
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	path := []uint32{
		hdkeychain.HardenedKeyStart + purposeBIP44,
		hdkeychain.HardenedKeyStart + coinTypeNostr,
		hdkeychain.HardenedKeyStart + account,
		0,
		0,
	}
	key := master
	for _, index := range path {
		key, err = key.Derive(index)
		if err != nil {
			return nil, err
		}
	}
	ecPriv, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	raw := ecPriv.Serialize()
	defer clear(raw)
	return crypto.PrivateKeyFromBytes(raw)
}
