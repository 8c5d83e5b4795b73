package rpc

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"

	"nostr-signer/go-backend/internal/platform/ratelimiter"
)

// RateLimitConfig bounds JSON-RPC calls per client; zero values take the
// defaults.
type RateLimitConfig struct {
	Disabled bool
	RPS      float64
	Burst    int
}

const (
	defaultRPCRate  = 30
	defaultRPCBurst = 60
	rpcClientIdle   = 10 * time.Minute
)

func newRPCRateLimiter(cfg RateLimitConfig) *ratelimiter.MapLimiter {
	if cfg.Disabled {
		return nil
	}
	if cfg.RPS <= 0 {
		cfg.RPS = defaultRPCRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultRPCBurst
	}
	return ratelimiter.New(cfg.RPS, cfg.Burst, rpcClientIdle)
}

// rpcClientKey names the caller for rate and stream limits: a digest of its
// token when it sent one, otherwise its remote host.
func rpcClientKey(r *http.Request, token string) string {
	if token = strings.TrimSpace(token); token != "" {
		sum := sha256.Sum256([]byte(token))
		return "token:" + hex.EncodeToString(sum[:8])
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	if host == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}
