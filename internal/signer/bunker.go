package signer

import (
	"errors"
	"net/url"
	"strings"

	"nostr-signer/go-backend/internal/crypto"
)

const bunkerScheme = "bunker"

// BunkerURL builds the pairing URL a client scans to connect to this signer.
func BunkerURL(pub crypto.PublicKey, relays []string, secret string) string {
	q := url.Values{}
	for _, r := range relays {
		if r = strings.TrimSpace(r); r != "" {
			q.Add("relay", r)
		}
	}
	if secret != "" {
		q.Set("secret", secret)
	}
	u := url.URL{Scheme: bunkerScheme, Host: pub.Hex(), RawQuery: q.Encode()}
	return u.String()
}

// BunkerURL returns the pairing URL with the current one-time secret.
func (m *Machine) BunkerURL(relays []string) string {
	return BunkerURL(m.keys.PublicKey(), relays, m.secret)
}

type BunkerInfo struct {
	Signer crypto.PublicKey
	Relays []string
	Secret string
}

func ParseBunkerURL(raw string) (BunkerInfo, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return BunkerInfo{}, err
	}
	if u.Scheme != bunkerScheme {
		return BunkerInfo{}, errors.New("not a bunker url")
	}
	pub, err := crypto.ParsePublicKeyHex(u.Host)
	if err != nil {
		return BunkerInfo{}, err
	}
	q := u.Query()
	return BunkerInfo{Signer: pub, Relays: q["relay"], Secret: q.Get("secret")}, nil
}
