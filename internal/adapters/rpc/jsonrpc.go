package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type rpcRequest struct {
	JSONRPC    string          `json:"jsonrpc"`
	ID         json.RawMessage `json:"id"`
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params"`
	APIVersion *int            `json:"api_version,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

const maxRPCBodyBytes int64 = 64 << 10

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r) || !s.authorizeRPC(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	client := rpcClientKey(r, s.extractRPCToken(r))
	if !s.rpcLimiter.Allow(client, time.Now()) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	req, rpcErr, status := readRPCRequest(w, r)
	if status != 0 {
		http.Error(w, "request body too large", status)
		return
	}
	if rpcErr == nil {
		rpcErr = checkAPIVersion(req.APIVersion)
	}
	if rpcErr != nil {
		writeRPC(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}

	var key, fingerprint string
	if isMutatingMethod(req.Method) {
		key = replayKey(r.Header.Get(rpcIdempotencyHeader), client)
	}
	if key != "" {
		fingerprint = requestFingerprint(req)
		cached, hit, conflict := s.replies.lookup(key, fingerprint)
		switch {
		case conflict:
			writeRPC(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeIdempotencyConflict, Message: "idempotency key reused with a different request"}})
			return
		case hit:
			cached.ID = req.ID
			writeRPC(w, cached)
			return
		}
	}

	resp := s.call(r.Context(), req)
	if key != "" && resp.Error == nil {
		s.replies.store(key, fingerprint, resp)
	}
	writeRPC(w, resp)
}

// readRPCRequest decodes exactly one JSON-RPC 2.0 request. A non-zero status
// means the body was rejected before it could be parsed.
func readRPCRequest(w http.ResponseWriter, r *http.Request) (rpcRequest, *rpcError, int) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	dec := json.NewDecoder(r.Body)
	var req rpcRequest
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, nil, http.StatusRequestEntityTooLarge
		}
		return rpcRequest{}, &rpcError{Code: codeParseError, Message: "parse error"}, 0
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return req, &rpcError{Code: codeInvalidRequest, Message: "invalid request"}, 0
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return req, &rpcError{Code: codeInvalidRequest, Message: "invalid request"}, 0
	}
	return req, nil, 0
}

func (s *Server) call(parent context.Context, req rpcRequest) rpcResponse {
	correlationID := uuid.NewString()
	started := time.Now()
	s.logger.Debug("rpc request", "operation", "rpc.call", "correlation_id", correlationID, "method", req.Method)

	ctx, cancel := context.WithTimeout(parent, s.callTimeout)
	defer cancel()
	result, rpcErr := s.dispatchRPC(ctx, req.Method, req.Params)

	attrs := []any{"operation", "rpc.call", "correlation_id", correlationID, "method", req.Method, "latency_ms", time.Since(started).Milliseconds()}
	if rpcErr != nil {
		s.logger.Warn("rpc failed", append(attrs, "rpc_code", rpcErr.Code)...)
	} else {
		s.logger.Info("rpc handled", attrs...)
	}
	return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr}
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
