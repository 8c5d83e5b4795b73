package rpc

import (
	"context"
	"errors"

	"nostr-signer/go-backend/internal/correlator"
	"nostr-signer/go-backend/internal/engine"
	"nostr-signer/go-backend/internal/signer"
	"nostr-signer/go-backend/internal/wallet"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602

	codeServiceError        = -32000
	codeEngineUnavailable   = -32001
	codeTimeout             = -32002
	codeUnknownApproval     = -32010
	codeRequestExpired      = -32011
	codeWalletNotPaired     = -32020
	codeWalletRequest       = -32021
	codeIdempotencyConflict = -32090
)

var errInvalidParams = errors.New("invalid params")

func rpcInvalidParams() *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: "invalid params"}
}

// mapServiceError turns engine errors into stable RPC codes.
func mapServiceError(err error) *rpcError {
	switch {
	case errors.Is(err, signer.ErrUnknownApproval), errors.Is(err, correlator.ErrUnknownRequest):
		return &rpcError{Code: codeUnknownApproval, Message: err.Error()}
	case errors.Is(err, correlator.ErrRequestExpired):
		return &rpcError{Code: codeRequestExpired, Message: err.Error()}
	case errors.Is(err, wallet.ErrNotPaired):
		return &rpcError{Code: codeWalletNotPaired, Message: err.Error()}
	case errors.Is(err, engine.ErrStopped):
		return &rpcError{Code: codeEngineUnavailable, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &rpcError{Code: codeTimeout, Message: "engine did not answer in time"}
	default:
		return &rpcError{Code: codeServiceError, Message: err.Error()}
	}
}
