// Package signer implements the NIP-46 remote-signer state machine.
package signer

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"nostr-signer/go-backend/internal/correlator"
	"nostr-signer/go-backend/internal/crypto"
	"nostr-signer/go-backend/internal/platform/ratelimiter"
	"nostr-signer/go-backend/pkg/models"
)

const (
	errMethodNotSupported = "method not supported"
	errRequestDenied      = "request denied"
	errRateLimited        = "rate limited"
	errDuplicateRequest   = "duplicate request id"
	resultPong            = "pong"
	resultAck             = "ack"
)

var ErrUnknownApproval = errors.New("no pending approval with that id")

type Config struct {
	ConnectSecret    string        `yaml:"connectSecret"`
	AutoApproveKinds []int         `yaml:"autoApproveKinds"`
	ApprovalTimeout  time.Duration `yaml:"approvalTimeout"`
	RateLimitRPS     float64       `yaml:"rateLimitRPS"`
	RateLimitBurst   int           `yaml:"rateLimitBurst"`
}

func DefaultConfig() Config {
	return Config{
		ApprovalTimeout: 60 * time.Second,
		RateLimitRPS:    5,
		RateLimitBurst:  10,
	}
}

func NormalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = def.ApprovalTimeout
	}
	if cfg.RateLimitRPS < 0 {
		cfg.RateLimitRPS = 0
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = def.RateLimitBurst
	}
	cfg.ConnectSecret = strings.TrimSpace(cfg.ConnectSecret)
	return cfg
}

// Request is a decoded signer request together with its transport context.
type Request struct {
	ID      string
	Peer    crypto.PublicKey
	Method  Method
	Params  []string
	Version crypto.EnvelopeVersion

	event      *models.UnsignedEvent
	thirdParty crypto.PublicKey
	secret     string
}

// Reply is a response to encrypt back to Peer under Version.
type Reply struct {
	Peer     crypto.PublicKey
	Version  crypto.EnvelopeVersion
	Response models.SignerResponse
}

// Outcome of handling one inbound request. Reply is nil when nothing should
// be sent; Prompt is set when the request is waiting on the user.
type Outcome struct {
	Method   Method
	Decision Decision
	Reply    *Reply
	Prompt   *models.SigningPrompt
}

type suspendedRequest struct {
	req    Request
	prompt models.SigningPrompt
}

// Machine is not safe for concurrent use; the engine calls it from its
// dispatch loop only.
type Machine struct {
	cfg       Config
	keys      *crypto.Keyring
	table     *correlator.Table
	policy    Policy
	approvals *Approvals
	limiter   *ratelimiter.MapLimiter
	secret    string
	suspended map[string]*suspendedRequest
	now       func() time.Time
	logger    *slog.Logger
}

func NewMachine(cfg Config, keys *crypto.Keyring, table *correlator.Table, logger *slog.Logger) *Machine {
	cfg = NormalizeConfig(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		cfg:       cfg,
		keys:      keys,
		table:     table,
		policy:    DefaultPolicy{AutoApproveKinds: cfg.AutoApproveKinds},
		approvals: NewApprovals(),
		limiter:   ratelimiter.New(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute),
		secret:    cfg.ConnectSecret,
		suspended: make(map[string]*suspendedRequest),
		now:       time.Now,
		logger:    logger.With("component", "signer"),
	}
	if m.secret == "" {
		m.secret = newSecret()
	}
	return m
}

func (m *Machine) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

func (m *Machine) Approvals() *Approvals {
	return m.approvals
}

// Secret is the current one-time connect secret.
func (m *Machine) Secret() string {
	return m.secret
}

// Handle interprets one decrypted request from peer.
func (m *Machine) Handle(peer crypto.PublicKey, version crypto.EnvelopeVersion, in models.SignerRequest) Outcome {
	now := m.now()
	method := ParseMethod(in.Method)
	out := Outcome{Method: method}
	if strings.TrimSpace(in.ID) == "" {
		m.logger.Warn("signer request without id dropped", "operation", "signer.handle", "peer", peer.Hex(), "method", in.Method)
		return out
	}
	reply := func(resp models.SignerResponse) Outcome {
		resp.ID = in.ID
		out.Reply = &Reply{Peer: peer, Version: version, Response: resp}
		return out
	}

	if !m.limiter.Allow(peer.Hex(), now) {
		return reply(models.SignerResponse{Error: errRateLimited})
	}
	if method == MethodUnknown {
		m.logger.Info("unsupported signer method", "operation", "signer.handle", "request_id", in.ID, "method", in.Method)
		return reply(models.SignerResponse{Error: errMethodNotSupported})
	}
	if pending, ok := m.table.Get(in.ID); ok {
		if pending.Peer == peer.Hex() {
			// Relay replay of a request already waiting on the user.
			out.Decision = AskUser
			return out
		}
		return reply(models.SignerResponse{Error: errDuplicateRequest})
	}

	req, err := m.decode(in, peer, version, method)
	if err != nil {
		return reply(models.SignerResponse{Error: err.Error()})
	}

	input := PolicyInput{
		Peer:       peer.Hex(),
		Method:     method,
		Trusted:    m.approvals.Trusted(peer.Hex()),
		Remembered: m.approvals.Remembered(peer.Hex(), method, req.eventKind()),
		EventKind:  req.eventKind(),
	}
	if method == MethodConnect && req.secret != "" {
		input.SecretGiven = true
		input.SecretValid = subtle.ConstantTimeCompare([]byte(req.secret), []byte(m.secret)) == 1
	}
	out.Decision = m.policy.Decide(input)
	m.logger.Info("signer request decided", "operation", "signer.handle", "request_id", in.ID, "peer", peer.Hex(), "method", method.String(), "decision", out.Decision.String())

	switch out.Decision {
	case Approve:
		return reply(m.execute(req, now))
	case AskUser:
		if err := m.table.Register(req.ID, correlator.KindSignerApproval, peer.Hex(), now); err != nil {
			return reply(models.SignerResponse{Error: errDuplicateRequest})
		}
		prompt := models.SigningPrompt{
			RequestID: req.ID,
			Peer:      peer.Hex(),
			Method:    method.String(),
			EventKind: req.eventKind(),
			Summary:   summarize(req),
			CreatedAt: now,
			ExpiresAt: now.Add(m.table.Timeout(correlator.KindSignerApproval)),
		}
		m.suspended[req.ID] = &suspendedRequest{req: req, prompt: prompt}
		out.Prompt = &prompt
		return out
	default:
		return reply(models.SignerResponse{Error: errRequestDenied})
	}
}

// Complete applies the user's decision on a suspended request. A decision
// for a request that already expired or was already decided returns an
// error and produces no reply.
func (m *Machine) Complete(id string, approve, remember bool) (*Reply, models.SigningResolution, error) {
	if err := m.table.Check(id); err != nil {
		if errors.Is(err, correlator.ErrRequestExpired) {
			return nil, models.SigningResolution{}, err
		}
		return nil, models.SigningResolution{}, ErrUnknownApproval
	}
	s, ok := m.suspended[id]
	if !ok {
		return nil, models.SigningResolution{}, ErrUnknownApproval
	}
	now := m.now()
	outcome := models.OutcomeDenied
	if approve {
		outcome = models.OutcomeApproved
	}
	m.table.Resolve(id, outcome, now)
	delete(m.suspended, id)

	req := s.req
	resolution := models.SigningResolution{RequestID: id, Peer: req.Peer.Hex(), Outcome: outcome}
	resp := models.SignerResponse{Error: errRequestDenied}
	if approve {
		if remember {
			m.approvals.Remember(req.Peer.Hex(), req.Method, req.eventKind(), now)
		}
		resp = m.execute(req, now)
	}
	resp.ID = id
	m.logger.Info("signer request resolved", "operation", "signer.complete", "request_id", id, "peer", req.Peer.Hex(), "outcome", outcome, "remember", remember)
	return &Reply{Peer: req.Peer, Version: req.Version, Response: resp}, resolution, nil
}

// Expire drops a suspended request the correlator timed out. No reply is sent.
func (m *Machine) Expire(id string) (models.SigningResolution, bool) {
	s, ok := m.suspended[id]
	if !ok {
		return models.SigningResolution{}, false
	}
	delete(m.suspended, id)
	m.logger.Info("signer request expired", "operation", "signer.expire", "request_id", id, "peer", s.req.Peer.Hex())
	return models.SigningResolution{RequestID: id, Peer: s.req.Peer.Hex(), Outcome: models.OutcomeExpired}, true
}

// Revoke removes trust and remembered approvals for peer.
func (m *Machine) Revoke(peer string) bool {
	peer = strings.ToLower(strings.TrimSpace(peer))
	m.limiter.Forget(peer)
	return m.approvals.Revoke(peer)
}

// Pending lists prompts waiting on the user, oldest first.
func (m *Machine) Pending() []models.SigningPrompt {
	out := make([]models.SigningPrompt, 0, len(m.suspended))
	for _, s := range m.suspended {
		out = append(out, s.prompt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Machine) decode(in models.SignerRequest, peer crypto.PublicKey, version crypto.EnvelopeVersion, method Method) (Request, error) {
	req := Request{ID: in.ID, Peer: peer, Method: method, Params: in.Params, Version: version}
	switch {
	case method == MethodConnect:
		if len(in.Params) > 0 && in.Params[0] != "" && !strings.EqualFold(in.Params[0], m.keys.PublicKey().Hex()) {
			return Request{}, errors.New("connect addressed to another signer")
		}
		if len(in.Params) > 1 {
			req.secret = strings.TrimSpace(in.Params[1])
		}
	case method == MethodSignEvent:
		if len(in.Params) < 1 {
			return Request{}, errors.New("invalid params: missing event")
		}
		var ev models.UnsignedEvent
		if err := json.Unmarshal([]byte(in.Params[0]), &ev); err != nil {
			return Request{}, errors.New("invalid params: malformed event")
		}
		if ev.PubKey != "" && !strings.EqualFold(ev.PubKey, m.keys.PublicKey().Hex()) {
			return Request{}, errors.New("invalid params: event pubkey does not match signer")
		}
		req.event = &ev
	case method.IsCipher():
		if len(in.Params) < 2 {
			return Request{}, errors.New("invalid params: expected pubkey and text")
		}
		third, err := crypto.ParsePublicKeyHex(in.Params[0])
		if err != nil {
			return Request{}, errors.New("invalid params: bad pubkey")
		}
		req.thirdParty = third
	}
	return req, nil
}

func (m *Machine) execute(req Request, now time.Time) models.SignerResponse {
	switch req.Method {
	case MethodPing:
		return models.SignerResponse{Result: resultPong}
	case MethodConnect:
		m.approvals.Trust(req.Peer.Hex(), now)
		if req.secret == "" {
			return models.SignerResponse{Result: resultAck}
		}
		if subtle.ConstantTimeCompare([]byte(req.secret), []byte(m.secret)) == 1 {
			m.secret = newSecret()
		}
		return models.SignerResponse{Result: req.secret}
	case MethodGetPublicKey:
		return models.SignerResponse{Result: m.keys.PublicKey().Hex()}
	case MethodSignEvent:
		ev := models.Event{
			Kind:      req.event.Kind,
			Content:   req.event.Content,
			Tags:      req.event.Tags,
			CreatedAt: req.event.CreatedAt,
		}
		if ev.CreatedAt == 0 {
			ev.CreatedAt = now.Unix()
		}
		signed, err := m.keys.Sign(ev)
		if err != nil {
			return models.SignerResponse{Error: "signing failed"}
		}
		raw, err := json.Marshal(signed)
		if err != nil {
			return models.SignerResponse{Error: "signing failed"}
		}
		return models.SignerResponse{Result: string(raw)}
	case MethodNip04Encrypt, MethodNip44Encrypt:
		version := crypto.Legacy
		if req.Method == MethodNip44Encrypt {
			version = crypto.Versioned
		}
		ct, err := m.keys.Encrypt(req.Params[1], req.thirdParty, version)
		if err != nil {
			return models.SignerResponse{Error: "encrypt failed: " + err.Error()}
		}
		return models.SignerResponse{Result: ct}
	case MethodNip04Decrypt, MethodNip44Decrypt:
		plain, _, err := m.keys.Decrypt(req.Params[1], req.thirdParty)
		if err != nil {
			return models.SignerResponse{Error: "decrypt failed: " + crypto.DecodeReason(err)}
		}
		return models.SignerResponse{Result: plain}
	default:
		return models.SignerResponse{Error: errMethodNotSupported}
	}
}

func (r Request) eventKind() int {
	if r.event == nil {
		return 0
	}
	return r.event.Kind
}

func summarize(req Request) string {
	switch req.Method {
	case MethodSignEvent:
		return fmt.Sprintf("sign kind %d: %s", req.event.Kind, models.Preview(req.event.Content))
	case MethodConnect:
		return "connect from " + shortKey(req.Peer.Hex())
	case MethodGetPublicKey:
		return "share public key with " + shortKey(req.Peer.Hex())
	default:
		if req.Method.IsCipher() {
			return fmt.Sprintf("%s with %s", req.Method, shortKey(req.thirdParty.Hex()))
		}
		return req.Method.String()
	}
}

func shortKey(hexKey string) string {
	if len(hexKey) <= 16 {
		return hexKey
	}
	return hexKey[:8] + "…" + hexKey[len(hexKey)-8:]
}

func newSecret() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("signer: read random secret: %v", err))
	}
	return hex.EncodeToString(b)
}
