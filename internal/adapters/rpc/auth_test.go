package rpc

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExtractRPCToken_PrefersCustomHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/rpc", nil)
	req.Header.Set(rpcTokenHeader, "header-token")
	req.Header.Set("Authorization", "Bearer bearer-token")

	s := &Server{}
	if got := s.extractRPCToken(req); got != "header-token" {
		t.Fatalf("expected header token, got %q", got)
	}
}

func TestExtractRPCToken_UsesBearerHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/rpc", nil)
	req.Header.Set("Authorization", "Bearer bearer-token")

	s := &Server{}
	if got := s.extractRPCToken(req); got != "bearer-token" {
		t.Fatalf("expected bearer token, got %q", got)
	}
}

func TestIsAllowedOrigin_LocalhostOnly(t *testing.T) {
	cases := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:3000", true},
		{"https://127.0.0.1:7647", true},
		{"http://[::1]:7647", true},
		{"https://example.com", false},
		{"not-a-url", false},
		{"null", false},
	}
	for _, tc := range cases {
		if got := isAllowedOrigin(tc.origin, false); got != tc.want {
			t.Fatalf("origin %q: got %v, want %v", tc.origin, got, tc.want)
		}
	}
	if !isAllowedOrigin("null", true) {
		t.Fatal("null origin must be admitted when allowed")
	}
}

func TestNewServerRequiresTokenWhenConfigured(t *testing.T) {
	s := NewServer(Options{RequireToken: true}, &fakeService{}, nil)
	if s.initErr == nil {
		t.Fatal("expected init error without token")
	}
}

func TestRPCRejectsMissingOrWrongToken(t *testing.T) {
	s := newTestServer(t, &fakeService{}, nil)
	for _, token := range []string{"", "nope"} {
		req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"health_check"}`))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %d", token, rec.Code)
		}
	}
}

func TestRPCRejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t, &fakeService{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"health_check"}`))
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set(rpcTokenHeader, testToken)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRPCRateLimitPerClient(t *testing.T) {
	svc := &fakeService{}
	s := NewServer(Options{Token: testToken, RateLimit: RateLimitConfig{RPS: 0.001, Burst: 2}}, svc, nil)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := doRPC(t, s, `{"jsonrpc":"2.0","id":1,"method":"health_check"}`, nil)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes: %v", codes)
	}
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, _ := GenerateToken()
	if !strings.HasPrefix(a, "rpc_") || len(a) != len("rpc_")+64 || a == b {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
}

func TestStreamLimiterCapsPerClientAndGlobal(t *testing.T) {
	l := newRPCStreamLimiter(StreamLimitConfig{MaxGlobal: 3, MaxPerClient: 2})
	releaseA1, ok := l.acquire("a")
	if !ok {
		t.Fatal("first stream must be admitted")
	}
	if _, ok := l.acquire("a"); !ok {
		t.Fatal("second stream for a must be admitted")
	}
	if _, ok := l.acquire("a"); ok {
		t.Fatal("third stream for a must be refused")
	}
	if _, ok := l.acquire("b"); !ok {
		t.Fatal("b must get the last global slot")
	}
	if _, ok := l.acquire("c"); ok {
		t.Fatal("global cap must refuse c")
	}
	releaseA1()
	releaseA1()
	if got := l.active("a"); got != 1 {
		t.Fatalf("double release must count once, active=%d", got)
	}
	if _, ok := l.acquire("c"); !ok {
		t.Fatal("released slot must be reusable")
	}
}

func TestClientKeyHidesToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	if got := rpcClientKey(req, ""); got != "ip:127.0.0.1" {
		t.Fatalf("unexpected ip key %q", got)
	}
	got := rpcClientKey(req, "rpc_secret")
	if !strings.HasPrefix(got, "token:") || strings.Contains(got, "rpc_secret") {
		t.Fatalf("token key must be a digest, got %q", got)
	}
}
