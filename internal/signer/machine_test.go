package signer

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"nostr-signer/go-backend/internal/correlator"
	"nostr-signer/go-backend/internal/crypto"
	"nostr-signer/go-backend/pkg/models"
)

type harness struct {
	m     *Machine
	table *correlator.Table
	keys  *crypto.Keyring
	peer  *crypto.PrivateKey
	now   time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	device, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("device key: %v", err)
	}
	peer, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("peer key: %v", err)
	}
	h := &harness{
		table: correlator.New(correlator.Options{Timeouts: map[correlator.Kind]time.Duration{correlator.KindSignerApproval: 30 * time.Second}}),
		keys:  crypto.NewKeyring(device),
		peer:  peer,
		now:   time.Unix(1700000000, 0),
	}
	h.m = NewMachine(cfg, h.keys, h.table, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.m.SetClock(func() time.Time { return h.now })
	return h
}

func (h *harness) send(id, method string, params ...string) Outcome {
	return h.m.Handle(h.peer.PublicKey(), crypto.Versioned, models.SignerRequest{ID: id, Method: method, Params: params})
}

func signEventParam(kind int, content string) string {
	raw, _ := json.Marshal(models.UnsignedEvent{Kind: kind, Content: content, Tags: [][]string{}, CreatedAt: 1700000000})
	return string(raw)
}

func TestPingApprovesImmediately(t *testing.T) {
	h := newHarness(t, Config{})
	out := h.send("1", "ping")
	if out.Reply == nil || out.Reply.Response.Result != "pong" || out.Reply.Response.ID != "1" {
		t.Fatalf("unexpected ping outcome: %+v", out)
	}
	if out.Reply.Version != crypto.Versioned {
		t.Fatal("reply must mirror the request envelope version")
	}
}

func TestUnknownMethodGetsExplicitError(t *testing.T) {
	h := newHarness(t, Config{})
	out := h.send("2", "sign_everything")
	if out.Method != MethodUnknown || out.Reply == nil || out.Reply.Response.Error != "method not supported" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestRequestWithoutIDIsDropped(t *testing.T) {
	h := newHarness(t, Config{})
	if out := h.send("", "ping"); out.Reply != nil {
		t.Fatalf("request without id must not be answered: %+v", out)
	}
}

func TestSignEventAskUserThenApprove(t *testing.T) {
	h := newHarness(t, Config{})
	out := h.send("req-1", "sign_event", signEventParam(1, "hello world"))
	if out.Decision != AskUser || out.Prompt == nil || out.Reply != nil {
		t.Fatalf("expected AskUser prompt, got %+v", out)
	}
	if out.Prompt.EventKind != 1 || out.Prompt.Summary != "sign kind 1: hello world" {
		t.Fatalf("unexpected prompt: %+v", out.Prompt)
	}
	if len(h.m.Pending()) != 1 {
		t.Fatalf("expected one pending prompt, got %d", len(h.m.Pending()))
	}

	h.now = h.now.Add(10 * time.Second)
	reply, res, err := h.m.Complete("req-1", true, false)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Outcome != models.OutcomeApproved || reply.Peer != h.peer.PublicKey() || reply.Version != crypto.Versioned {
		t.Fatalf("unexpected resolution %+v reply %+v", res, reply)
	}
	var signed models.Event
	if err := json.Unmarshal([]byte(reply.Response.Result), &signed); err != nil {
		t.Fatalf("result is not an event: %v", err)
	}
	if err := crypto.VerifyEvent(signed); err != nil {
		t.Fatalf("signed event does not verify: %v", err)
	}
	if signed.PubKey != h.keys.PublicKey().Hex() {
		t.Fatal("event must be signed by the device key")
	}

	if _, _, err := h.m.Complete("req-1", true, false); !errors.Is(err, ErrUnknownApproval) {
		t.Fatalf("duplicate approval must be rejected, got %v", err)
	}
	if len(h.m.Pending()) != 0 {
		t.Fatal("pending prompts must be cleared")
	}
}

func TestApprovalAfterExpiryIsRejected(t *testing.T) {
	h := newHarness(t, Config{})
	h.send("req-2", "sign_event", signEventParam(1, "late"))

	h.now = h.now.Add(31 * time.Second)
	for _, req := range h.table.Sweep(h.now) {
		if _, ok := h.m.Expire(req.ID); !ok {
			t.Fatalf("expected suspended request %s", req.ID)
		}
	}
	reply, _, err := h.m.Complete("req-2", true, false)
	if !errors.Is(err, correlator.ErrRequestExpired) || reply != nil {
		t.Fatalf("expected ErrRequestExpired and no reply, got %v %+v", err, reply)
	}
	if _, ok := h.m.Expire("req-2"); ok {
		t.Fatal("expire must happen once")
	}
}

func TestDenyRepliesWithError(t *testing.T) {
	h := newHarness(t, Config{})
	h.send("req-3", "get_public_key")
	reply, res, err := h.m.Complete("req-3", false, false)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Outcome != models.OutcomeDenied || reply.Response.Error != "request denied" || reply.Response.Result != "" {
		t.Fatalf("unexpected deny: %+v %+v", res, reply)
	}
}

func TestDuplicatePendingID(t *testing.T) {
	h := newHarness(t, Config{})
	h.send("dup", "sign_event", signEventParam(1, "x"))
	if out := h.send("dup", "sign_event", signEventParam(1, "x")); out.Reply != nil || out.Prompt != nil {
		t.Fatalf("replayed request must be ignored, got %+v", out)
	}
	other, _ := crypto.GeneratePrivateKey()
	out := h.m.Handle(other.PublicKey(), crypto.Legacy, models.SignerRequest{ID: "dup", Method: "ping"})
	if out.Reply == nil || out.Reply.Response.Error != "duplicate request id" || out.Reply.Version != crypto.Legacy {
		t.Fatalf("expected duplicate error for other peer, got %+v", out)
	}
}

func TestConnectWithOneTimeSecret(t *testing.T) {
	h := newHarness(t, Config{ConnectSecret: "s3cret"})
	if got := h.send("c0", "connect", h.keys.PublicKey().Hex(), "wrong"); got.Reply.Response.Error != "request denied" {
		t.Fatalf("wrong secret must be denied: %+v", got.Reply)
	}
	out := h.send("c1", "connect", h.keys.PublicKey().Hex(), "s3cret")
	if out.Decision != Approve || out.Reply.Response.Result != "s3cret" {
		t.Fatalf("expected approve echoing secret, got %+v", out)
	}
	if h.m.Secret() == "s3cret" || h.m.Secret() == "" {
		t.Fatal("secret must be rotated after use")
	}
	if out := h.send("c2", "get_public_key"); out.Reply == nil || out.Reply.Response.Result != h.keys.PublicKey().Hex() {
		t.Fatalf("connected peer must get public key, got %+v", out)
	}
	if out := h.send("c3", "connect", h.keys.PublicKey().Hex(), "s3cret"); out.Decision != Deny {
		t.Fatalf("used secret must not work twice, got %s", out.Decision)
	}
}

func TestConnectToOtherSignerIsRejected(t *testing.T) {
	h := newHarness(t, Config{})
	other, _ := crypto.GeneratePrivateKey()
	out := h.send("c", "connect", other.PublicKey().Hex())
	if out.Reply == nil || out.Reply.Response.Error == "" {
		t.Fatalf("expected error, got %+v", out)
	}
}

func TestRememberedApprovalAndRevoke(t *testing.T) {
	h := newHarness(t, Config{})
	h.send("r1", "sign_event", signEventParam(7, "+"))
	if _, _, err := h.m.Complete("r1", true, true); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out := h.send("r2", "sign_event", signEventParam(7, "+")); out.Decision != Approve || out.Reply == nil {
		t.Fatalf("remembered kind must auto-approve, got %+v", out)
	}
	if out := h.send("r3", "sign_event", signEventParam(1, "note")); out.Decision != AskUser {
		t.Fatalf("other kinds still need approval, got %s", out.Decision)
	}
	if !h.m.Revoke(h.peer.PublicKey().Hex()) {
		t.Fatal("revoke must report removal")
	}
	if out := h.send("r4", "sign_event", signEventParam(7, "+")); out.Decision != AskUser {
		t.Fatalf("revoked approval must ask again, got %s", out.Decision)
	}
}

func TestAutoApproveKindsRequireTrust(t *testing.T) {
	h := newHarness(t, Config{AutoApproveKinds: []int{7}})
	if out := h.send("a1", "sign_event", signEventParam(7, "+")); out.Decision != AskUser {
		t.Fatalf("untrusted peer must be asked, got %s", out.Decision)
	}
	h.m.Approvals().Trust(h.peer.PublicKey().Hex(), h.now)
	if out := h.send("a2", "sign_event", signEventParam(7, "+")); out.Decision != Approve {
		t.Fatalf("trusted peer with auto kind must be approved, got %s", out.Decision)
	}
}

func TestCipherProxyForTrustedPeer(t *testing.T) {
	h := newHarness(t, Config{})
	h.m.Approvals().Trust(h.peer.PublicKey().Hex(), h.now)
	third, _ := crypto.GeneratePrivateKey()

	for _, pair := range [][2]string{{"nip44_encrypt", "nip44_decrypt"}, {"nip04_encrypt", "nip04_decrypt"}} {
		enc := h.send("e-"+pair[0], pair[0], third.PublicKey().Hex(), "secret note")
		if enc.Reply == nil || enc.Reply.Response.Error != "" {
			t.Fatalf("%s failed: %+v", pair[0], enc.Reply)
		}
		plain, _, err := crypto.Decrypt(enc.Reply.Response.Result, third, h.keys.PublicKey())
		if err != nil || plain != "secret note" {
			t.Fatalf("third party cannot read %s output: %q %v", pair[0], plain, err)
		}
		dec := h.send("d-"+pair[1], pair[1], third.PublicKey().Hex(), enc.Reply.Response.Result)
		if dec.Reply == nil || dec.Reply.Response.Result != "secret note" {
			t.Fatalf("%s failed: %+v", pair[1], dec.Reply)
		}
	}

	bad := h.send("bad", "nip44_decrypt", third.PublicKey().Hex(), "#garbage")
	if bad.Reply == nil || bad.Reply.Response.Error != "decrypt failed: unsupported_version" {
		t.Fatalf("expected structured decrypt error, got %+v", bad.Reply)
	}
}

func TestRateLimitedPeerGetsError(t *testing.T) {
	h := newHarness(t, Config{RateLimitRPS: 0.01, RateLimitBurst: 1})
	h.send("p1", "ping")
	out := h.send("p2", "ping")
	if out.Reply == nil || out.Reply.Response.Error != "rate limited" {
		t.Fatalf("expected rate limited error, got %+v", out.Reply)
	}
}

func TestBunkerURLRoundTrip(t *testing.T) {
	h := newHarness(t, Config{ConnectSecret: "abc"})
	raw := h.m.BunkerURL([]string{"wss://relay.example.com"})
	info, err := ParseBunkerURL(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	if info.Signer != h.keys.PublicKey() || info.Secret != "abc" || len(info.Relays) != 1 || info.Relays[0] != "wss://relay.example.com" {
		t.Fatalf("unexpected bunker info: %+v", info)
	}
}

func TestParseMethodIsClosed(t *testing.T) {
	for _, name := range []string{"connect", "get_public_key", "sign_event", "nip04_encrypt", "nip04_decrypt", "nip44_encrypt", "nip44_decrypt", "ping"} {
		if m := ParseMethod(name); m == MethodUnknown || m.String() != name {
			t.Fatalf("method %s did not round trip", name)
		}
	}
	if ParseMethod("get_relays") != MethodUnknown {
		t.Fatal("unlisted methods must map to unknown")
	}
}
