package rpc

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// StreamLimitConfig caps concurrent SSE subscriptions overall and per client.
type StreamLimitConfig struct {
	MaxGlobal    int
	MaxPerClient int
}

type rpcStreamLimiter struct {
	slots        *semaphore.Weighted
	maxPerClient int

	mu       sync.Mutex
	byClient map[string]int
}

func newRPCStreamLimiter(cfg StreamLimitConfig) *rpcStreamLimiter {
	if cfg.MaxGlobal <= 0 {
		cfg.MaxGlobal = 32
	}
	if cfg.MaxPerClient <= 0 {
		cfg.MaxPerClient = 4
	}
	return &rpcStreamLimiter{
		slots:        semaphore.NewWeighted(int64(cfg.MaxGlobal)),
		maxPerClient: cfg.MaxPerClient,
		byClient:     make(map[string]int),
	}
}

// acquire never waits. The returned release is safe to call more than once.
func (l *rpcStreamLimiter) acquire(client string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byClient[client] >= l.maxPerClient || !l.slots.TryAcquire(1) {
		return nil, false
	}
	l.byClient[client]++

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.byClient[client] <= 1 {
				delete(l.byClient, client)
			} else {
				l.byClient[client]--
			}
			l.mu.Unlock()
			l.slots.Release(1)
		})
	}, true
}

func (l *rpcStreamLimiter) active(client string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byClient[client]
}
