package wallet

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"nostr-signer/go-backend/internal/crypto"
)

var (
	ErrNotPaired         = errors.New("wallet connect is not paired")
	ErrInvalidPairingURL = errors.New("invalid wallet connect pairing url")
)

// Pairing is the decoded nostr+walletconnect:// URL.
type Pairing struct {
	WalletPubKey crypto.PublicKey
	Relays       []string
	Secret       *crypto.PrivateKey
	LUD16        string
}

func ParsePairingURL(raw string) (Pairing, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Pairing{}, fmt.Errorf("%w: %v", ErrInvalidPairingURL, err)
	}
	switch u.Scheme {
	case "nostr+walletconnect", "nostrwalletconnect":
	default:
		return Pairing{}, fmt.Errorf("%w: scheme %q", ErrInvalidPairingURL, u.Scheme)
	}
	host := u.Host
	if host == "" {
		// Some wallets emit nostr+walletconnect:<pubkey>?...
		host = u.Opaque
	}
	walletPub, err := crypto.ParsePublicKeyHex(host)
	if err != nil {
		return Pairing{}, fmt.Errorf("%w: wallet pubkey", ErrInvalidPairingURL)
	}
	q := u.Query()
	secret, err := crypto.ParsePrivateKeyHex(q.Get("secret"))
	if err != nil {
		return Pairing{}, fmt.Errorf("%w: secret", ErrInvalidPairingURL)
	}
	relays := q["relay"]
	if len(relays) == 0 {
		return Pairing{}, fmt.Errorf("%w: missing relay", ErrInvalidPairingURL)
	}
	return Pairing{WalletPubKey: walletPub, Relays: relays, Secret: secret, LUD16: q.Get("lud16")}, nil
}
