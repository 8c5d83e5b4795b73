package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nostr-signer/go-backend/internal/app"
	"nostr-signer/go-backend/internal/correlator"
	"nostr-signer/go-backend/internal/engine"
	"nostr-signer/go-backend/internal/signer"
	"nostr-signer/go-backend/internal/wallet"
	"nostr-signer/go-backend/pkg/models"
)

const testToken = "test-token"

type fakeService struct {
	mu         sync.Mutex
	approved   []string
	remembered []bool
	denied     []string
	invoices   int
	approveErr error
	paired     bool
}

func (f *fakeService) Status(context.Context) (engine.Status, error) {
	return engine.Status{PublicKey: "ab", WalletPaired: f.paired}, nil
}

func (f *fakeService) PendingApprovals(context.Context) ([]models.SigningPrompt, error) {
	return []models.SigningPrompt{{RequestID: "r1", Method: "sign_event"}}, nil
}

func (f *fakeService) Approve(_ context.Context, id string, remember bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.approveErr != nil {
		return f.approveErr
	}
	f.approved = append(f.approved, id)
	f.remembered = append(f.remembered, remember)
	return nil
}

func (f *fakeService) Deny(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied = append(f.denied, id)
	return nil
}

func (f *fakeService) Revoke(_ context.Context, peer string) (bool, error) {
	return peer == "known", nil
}

func (f *fakeService) BunkerURL(context.Context) (string, error) {
	return "bunker://ab?relay=wss%3A%2F%2Fr&secret=s", nil
}

func (f *fakeService) MakeInvoice(_ context.Context, amount int64, memo string) (wallet.InvoiceRecord, error) {
	if !f.paired {
		return wallet.InvoiceRecord{}, wallet.ErrNotPaired
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices++
	return wallet.InvoiceRecord{AmountMsat: amount, Memo: memo, Status: wallet.StatusRequested}, nil
}

func (f *fakeService) LookupInvoice(context.Context, string) error { return nil }

func (f *fakeService) CurrentInvoice(context.Context) (wallet.InvoiceRecord, bool, error) {
	return wallet.InvoiceRecord{}, false, nil
}

func (f *fakeService) Reconnect(context.Context) (bool, error) { return true, nil }

func newTestServer(t *testing.T, svc Service, hub NotificationSource) *Server {
	t.Helper()
	s := NewServer(Options{Token: testToken, RateLimit: RateLimitConfig{Disabled: true}}, svc, hub)
	if s.initErr != nil {
		t.Fatalf("new server: %v", s.initErr)
	}
	return s
}

func doRPC(t *testing.T, s *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(rpcTokenHeader, testToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) (map[string]any, *rpcError) {
	t.Helper()
	var resp struct {
		Result map[string]any `json:"result"`
		Error  *rpcError      `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp.Result, resp.Error
}

func TestHealthCheckReportsAPIVersion(t *testing.T) {
	s := newTestServer(t, &fakeService{}, nil)
	result, rpcErr := decodeResponse(t, doRPC(t, s, `{"jsonrpc":"2.0","id":1,"method":"health_check"}`, nil))
	if rpcErr != nil {
		t.Fatalf("unexpected error: %+v", rpcErr)
	}
	if result["status"] != "ok" {
		t.Fatalf("unexpected result: %v", result)
	}
	api, _ := result["api"].(map[string]any)
	if api["current_version"] != float64(apiVersion) {
		t.Fatalf("unexpected api info: %v", api)
	}
}

func TestApproveAcceptsObjectAndArrayParams(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, nil)
	bodies := []string{
		`{"jsonrpc":"2.0","id":1,"method":"signer.approve","params":{"id":"r1","remember":true}}`,
		`{"jsonrpc":"2.0","id":2,"method":"signer.approve","params":[{"id":"r2"}]}`,
	}
	for _, body := range bodies {
		if _, rpcErr := decodeResponse(t, doRPC(t, s, body, nil)); rpcErr != nil {
			t.Fatalf("approve failed: %+v", rpcErr)
		}
	}
	if len(svc.approved) != 2 || svc.approved[0] != "r1" || !svc.remembered[0] || svc.remembered[1] {
		t.Fatalf("unexpected approvals: %v %v", svc.approved, svc.remembered)
	}
}

func TestApproveMapsEngineErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{signer.ErrUnknownApproval, codeUnknownApproval},
		{correlator.ErrRequestExpired, codeRequestExpired},
		{engine.ErrStopped, codeEngineUnavailable},
	}
	for _, tc := range cases {
		s := newTestServer(t, &fakeService{approveErr: tc.err}, nil)
		_, rpcErr := decodeResponse(t, doRPC(t, s, `{"jsonrpc":"2.0","id":1,"method":"signer.approve","params":{"id":"r1"}}`, nil))
		if rpcErr == nil || rpcErr.Code != tc.code {
			t.Fatalf("%v: expected code %d, got %+v", tc.err, tc.code, rpcErr)
		}
	}
}

func TestInvalidParamsAndUnknownMethod(t *testing.T) {
	s := newTestServer(t, &fakeService{paired: true}, nil)
	cases := []struct {
		body string
		code int
	}{
		{`{"jsonrpc":"2.0","id":1,"method":"signer.approve","params":{"id":""}}`, codeInvalidParams},
		{`{"jsonrpc":"2.0","id":1,"method":"signer.approve","params":{"id":"r1","extra":1}}`, codeInvalidParams},
		{`{"jsonrpc":"2.0","id":1,"method":"signer.deny","params":[]}`, codeInvalidParams},
		{`{"jsonrpc":"2.0","id":1,"method":"wallet.make_invoice","params":{"amount_msat":0}}`, codeInvalidParams},
		{`{"jsonrpc":"2.0","id":1,"method":"nope"}`, codeMethodNotFound},
		{`{"jsonrpc":"1.0","id":1,"method":"health_check"}`, codeInvalidRequest},
		{`{"jsonrpc":"2.0","id":1,"method":"health_check","api_version":9}`, -32080},
		{`{not json`, codeParseError},
	}
	for _, tc := range cases {
		_, rpcErr := decodeResponse(t, doRPC(t, s, tc.body, nil))
		if rpcErr == nil || rpcErr.Code != tc.code {
			t.Fatalf("%s: expected code %d, got %+v", tc.body, tc.code, rpcErr)
		}
	}
}

func TestSignerMethods(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, nil)

	result, rpcErr := decodeResponse(t, doRPC(t, s, `{"jsonrpc":"2.0","id":1,"method":"signer.deny","params":["r9"]}`, nil))
	if rpcErr != nil || result["approved"] != false || len(svc.denied) != 1 || svc.denied[0] != "r9" {
		t.Fatalf("deny failed: %v %+v %v", result, rpcErr, svc.denied)
	}
	result, _ = decodeResponse(t, doRPC(t, s, `{"jsonrpc":"2.0","id":2,"method":"signer.revoke","params":{"peer":"known"}}`, nil))
	if result["removed"] != true {
		t.Fatalf("unexpected revoke result: %v", result)
	}
	result, _ = decodeResponse(t, doRPC(t, s, `{"jsonrpc":"2.0","id":3,"method":"signer.bunker_url"}`, nil))
	if url, _ := result["url"].(string); !strings.HasPrefix(url, "bunker://") {
		t.Fatalf("unexpected bunker url: %v", result)
	}
	result, _ = decodeResponse(t, doRPC(t, s, `{"jsonrpc":"2.0","id":4,"method":"signer.pending"}`, nil))
	if pending, _ := result["pending"].([]any); len(pending) != 1 {
		t.Fatalf("unexpected pending: %v", result)
	}
}

func TestMakeInvoiceWithoutPairing(t *testing.T) {
	s := newTestServer(t, &fakeService{}, nil)
	_, rpcErr := decodeResponse(t, doRPC(t, s, `{"jsonrpc":"2.0","id":1,"method":"wallet.make_invoice","params":{"amount_msat":1000}}`, nil))
	if rpcErr == nil || rpcErr.Code != codeWalletNotPaired {
		t.Fatalf("expected not paired, got %+v", rpcErr)
	}
}

func TestMakeInvoiceIdempotencyKeyReplaysResponse(t *testing.T) {
	svc := &fakeService{paired: true}
	s := newTestServer(t, svc, nil)
	headers := map[string]string{rpcIdempotencyHeader: "k1"}
	body := `{"jsonrpc":"2.0","id":1,"method":"wallet.make_invoice","params":{"amount_msat":21000,"memo":"coffee"}}`

	first, rpcErr := decodeResponse(t, doRPC(t, s, body, headers))
	if rpcErr != nil {
		t.Fatalf("make invoice: %+v", rpcErr)
	}
	second, rpcErr := decodeResponse(t, doRPC(t, s, body, headers))
	if rpcErr != nil {
		t.Fatalf("replayed make invoice: %+v", rpcErr)
	}
	if svc.invoices != 1 {
		t.Fatalf("expected a single wallet request, got %d", svc.invoices)
	}
	if first["amount_msat"] != second["amount_msat"] {
		t.Fatalf("replay must return the cached result: %v vs %v", first, second)
	}

	other := `{"jsonrpc":"2.0","id":2,"method":"wallet.make_invoice","params":{"amount_msat":5}}`
	if _, rpcErr := decodeResponse(t, doRPC(t, s, other, headers)); rpcErr == nil || rpcErr.Code != codeIdempotencyConflict {
		t.Fatalf("expected idempotency conflict, got %+v", rpcErr)
	}
}

func TestStreamReplaysBacklogAndDeliversLive(t *testing.T) {
	hub := app.NewNotificationHub(16)
	hub.Publish(app.MethodRelayStatus, map[string]string{"state": "connecting"})
	hub.Publish(app.MethodRelayStatus, map[string]string{"state": "connected"})

	s := newTestServer(t, &fakeService{}, hub)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/rpc/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	hub.Publish(app.MethodSigningRequest, models.SigningPrompt{RequestID: "r1"})

	var seqs []float64
	var methods []string
	scanner := bufio.NewScanner(resp.Body)
	for len(seqs) < 2 && scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg struct {
			Method string `json:"method"`
			Params struct {
				Seq float64 `json:"seq"`
			} `json:"params"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			t.Fatalf("decode sse: %v", err)
		}
		seqs = append(seqs, msg.Params.Seq)
		methods = append(methods, msg.Method)
	}
	if len(seqs) != 2 || seqs[0] != 2 || seqs[1] != 3 {
		t.Fatalf("unexpected sequence: %v", seqs)
	}
	if methods[0] != app.MethodRelayStatus || methods[1] != app.MethodSigningRequest {
		t.Fatalf("unexpected methods: %v", methods)
	}
}

func TestStreamRequiresToken(t *testing.T) {
	s := newTestServer(t, &fakeService{}, app.NewNotificationHub(4))
	req := httptest.NewRequest(http.MethodGet, "/rpc/stream", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStatusReconnectAndHealthz(t *testing.T) {
	s := newTestServer(t, &fakeService{paired: true}, nil)

	result, rpcErr := decodeResponse(t, doRPC(t, s, `{"jsonrpc":"2.0","id":1,"method":"engine.status"}`, nil))
	if rpcErr != nil || result["pubkey"] != "ab" || result["wallet_paired"] != true {
		t.Fatalf("unexpected status: %v %+v", result, rpcErr)
	}
	result, _ = decodeResponse(t, doRPC(t, s, `{"jsonrpc":"2.0","id":2,"method":"relay.reconnect"}`, nil))
	if result["accepted"] != true {
		t.Fatalf("unexpected reconnect result: %v", result)
	}
	result, _ = decodeResponse(t, doRPC(t, s, `{"jsonrpc":"2.0","id":3,"method":"wallet.current_invoice"}`, nil))
	if v, ok := result["invoice"]; !ok || v != nil {
		t.Fatalf("expected null invoice, got %v", result)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"current_version":1`) {
		t.Fatalf("unexpected healthz: %d %s", rec.Code, rec.Body.String())
	}
}
