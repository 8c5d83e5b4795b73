package rpc

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Mutating calls that carry this header are answered once; a retry with
// the same key and body gets the stored response.
const (
	rpcIdempotencyHeader     = "X-Signer-Idempotency-Key"
	rpcIdempotencyTTL        = 10 * time.Minute
	rpcIdempotencyMaxEntries = 256
)

type storedReply struct {
	fingerprint string
	response    rpcResponse
}

type replayCache struct {
	entries *expirable.LRU[string, storedReply]
}

func newReplayCache() *replayCache {
	return &replayCache{
		entries: expirable.NewLRU[string, storedReply](rpcIdempotencyMaxEntries, nil, rpcIdempotencyTTL),
	}
}

// lookup reports a stored response for key, or conflict when key was used
// for a different request.
func (c *replayCache) lookup(key, fingerprint string) (resp rpcResponse, hit, conflict bool) {
	stored, ok := c.entries.Get(key)
	if !ok {
		return rpcResponse{}, false, false
	}
	if stored.fingerprint != fingerprint {
		return rpcResponse{}, false, true
	}
	return stored.response, true, false
}

func (c *replayCache) store(key, fingerprint string, resp rpcResponse) {
	c.entries.Add(key, storedReply{fingerprint: fingerprint, response: resp})
}

// replayKey scopes a client-chosen key to the caller so two UIs cannot
// read each other's replies.
func replayKey(header string, client string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	return client + "|" + header
}

func requestFingerprint(req rpcRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Method))
	h.Write([]byte{0})
	h.Write(req.Params)
	if req.APIVersion != nil {
		h.Write([]byte{0, byte(*req.APIVersion)})
	}
	return hex.EncodeToString(h.Sum(nil))
}
