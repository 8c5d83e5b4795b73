// Package rpc serves the local JSON-RPC 2.0 surface the UI uses to drive the
// signer, plus an SSE stream of engine notifications.
package rpc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"nostr-signer/go-backend/internal/app"
	"nostr-signer/go-backend/internal/engine"
	"nostr-signer/go-backend/internal/platform/ratelimiter"
	"nostr-signer/go-backend/internal/wallet"
	"nostr-signer/go-backend/pkg/models"
)

const DefaultRPCAddr = "127.0.0.1:7647"

// Service is the engine surface the RPC methods call into.
type Service interface {
	Status(ctx context.Context) (engine.Status, error)
	PendingApprovals(ctx context.Context) ([]models.SigningPrompt, error)
	Approve(ctx context.Context, requestID string, remember bool) error
	Deny(ctx context.Context, requestID string) error
	Revoke(ctx context.Context, peer string) (bool, error)
	BunkerURL(ctx context.Context) (string, error)
	MakeInvoice(ctx context.Context, amountMsat int64, memo string) (wallet.InvoiceRecord, error)
	LookupInvoice(ctx context.Context, reference string) error
	CurrentInvoice(ctx context.Context) (wallet.InvoiceRecord, bool, error)
	Reconnect(ctx context.Context) (bool, error)
}

// NotificationSource feeds /rpc/stream. *app.NotificationHub implements it.
type NotificationSource interface {
	Subscribe(fromSeq int64) ([]app.NotificationEvent, <-chan app.NotificationEvent, func())
}

type Options struct {
	Addr         string
	Token        string
	RequireToken bool
	// AllowNullOrigin admits the "null" Origin sent by file:// pages.
	AllowNullOrigin bool
	RateLimit       RateLimitConfig
	Streams         StreamLimitConfig
	CallTimeout     time.Duration
	Heartbeat       time.Duration
	Logger          *slog.Logger
}

type Server struct {
	httpServer      *http.Server
	service         Service
	notifications   NotificationSource
	initErr         error
	rpcToken        string
	requireRPC      bool
	allowNullOrigin bool
	callTimeout     time.Duration
	heartbeat       time.Duration
	rpcLimiter      *ratelimiter.MapLimiter
	streams         *rpcStreamLimiter
	replies         *replayCache
	logger          *slog.Logger
}

func NewServer(opts Options, svc Service, notifications NotificationSource) *Server {
	if opts.RequireToken && opts.Token == "" {
		return &Server{initErr: errors.New("rpc token is required but not configured")}
	}
	if svc == nil {
		return &Server{initErr: errors.New("rpc service is required")}
	}
	if opts.Addr == "" {
		opts.Addr = DefaultRPCAddr
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 20 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		service:         svc,
		notifications:   notifications,
		rpcToken:        opts.Token,
		requireRPC:      opts.RequireToken,
		allowNullOrigin: opts.AllowNullOrigin,
		callTimeout:     opts.CallTimeout,
		heartbeat:       opts.Heartbeat,
		rpcLimiter:      newRPCRateLimiter(opts.RateLimit),
		streams:         newRPCStreamLimiter(opts.Streams),
		replies:         newReplayCache(),
		logger:          logger,
	}
	if s.rpcToken == "" {
		logger.Warn("SIGNER_RPC_TOKEN is not set; RPC auth disabled", "operation", "rpc.start")
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/rpc/stream", s.handleRPCStream)
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "api": currentAPIInfo()})
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler {
	if s.httpServer == nil {
		return http.NotFoundHandler()
	}
	return s.httpServer.Handler
}

func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.initErr != nil {
		return s.initErr
	}
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()
	s.logger.Info("rpc server listening", "operation", "rpc.start", "addr", s.httpServer.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// GenerateToken returns a random bearer token for the RPC surface.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "rpc_" + hex.EncodeToString(buf), nil
}

var _ Service = (*engine.Engine)(nil)
