package rpc

import (
	"crypto/subtle"
	"net"
	"net/http"
	"net/url"
	"strings"
)

const rpcTokenHeader = "X-Signer-RPC-Token"

var corsAllowHeaders = strings.Join([]string{
	"Content-Type",
	"Accept",
	"Authorization",
	"Last-Event-ID",
	rpcTokenHeader,
	rpcIdempotencyHeader,
}, ", ")

// preflight applies the CORS policy and answers OPTIONS. It reports whether
// the handler should continue.
func (s *Server) preflight(w http.ResponseWriter, r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin != "" {
		if !isAllowedOrigin(origin, s.allowNullOrigin) {
			http.Error(w, "origin is not allowed", http.StatusForbidden)
			return false
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	h := w.Header()
	h.Set("Vary", "Origin")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	return true
}

func (s *Server) authorizeRPC(w http.ResponseWriter, r *http.Request) bool {
	if s.rpcToken == "" && !s.requireRPC {
		return true
	}
	got := s.extractRPCToken(r)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.rpcToken)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// extractRPCToken prefers the signer header over a bearer Authorization.
func (s *Server) extractRPCToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(rpcTokenHeader)); token != "" {
		return token
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// isAllowedOrigin admits loopback pages only. "null" comes from file://
// and sandboxed frames and is opt-in.
func isAllowedOrigin(raw string, allowNull bool) bool {
	if raw == "null" {
		return allowNull
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
