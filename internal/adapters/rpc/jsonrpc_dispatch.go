package rpc

import (
	"context"
	"encoding/json"
)

const (
	MethodHealthCheck    = "health_check"
	MethodEngineStatus   = "engine.status"
	MethodSignerPending  = "signer.pending"
	MethodSignerApprove  = "signer.approve"
	MethodSignerDeny     = "signer.deny"
	MethodSignerRevoke   = "signer.revoke"
	MethodSignerBunker   = "signer.bunker_url"
	MethodMakeInvoice    = "wallet.make_invoice"
	MethodLookupInvoice  = "wallet.lookup_invoice"
	MethodCurrentInvoice = "wallet.current_invoice"
	MethodRelayReconnect = "relay.reconnect"
)

func isMutatingMethod(method string) bool {
	switch method {
	case MethodSignerApprove, MethodSignerDeny, MethodSignerRevoke,
		MethodMakeInvoice, MethodLookupInvoice, MethodRelayReconnect:
		return true
	default:
		return false
	}
}

func (s *Server) dispatchRPC(ctx context.Context, method string, rawParams json.RawMessage) (any, *rpcError) {
	switch method {
	case MethodHealthCheck:
		return map[string]any{"status": "ok", "api": currentAPIInfo()}, nil
	case MethodEngineStatus:
		return callWithoutParams(func() (any, error) { return s.service.Status(ctx) })
	case MethodSignerPending:
		return callWithoutParams(func() (any, error) {
			pending, err := s.service.PendingApprovals(ctx)
			return map[string]any{"pending": pending}, err
		})
	case MethodSignerApprove:
		p, err := decodeApproveParams(rawParams)
		if err != nil {
			return nil, rpcInvalidParams()
		}
		return callWithoutParams(func() (any, error) {
			return map[string]any{"id": p.ID, "approved": true}, s.service.Approve(ctx, p.ID, p.Remember)
		})
	case MethodSignerDeny:
		id, err := decodeStringParam(rawParams, "id")
		if err != nil {
			return nil, rpcInvalidParams()
		}
		return callWithoutParams(func() (any, error) {
			return map[string]any{"id": id, "approved": false}, s.service.Deny(ctx, id)
		})
	case MethodSignerRevoke:
		peer, err := decodeStringParam(rawParams, "peer")
		if err != nil {
			return nil, rpcInvalidParams()
		}
		return callWithoutParams(func() (any, error) {
			removed, err := s.service.Revoke(ctx, peer)
			return map[string]any{"peer": peer, "removed": removed}, err
		})
	case MethodSignerBunker:
		return callWithoutParams(func() (any, error) {
			url, err := s.service.BunkerURL(ctx)
			return map[string]string{"url": url}, err
		})
	case MethodMakeInvoice:
		p, err := decodeInvoiceParams(rawParams)
		if err != nil {
			return nil, rpcInvalidParams()
		}
		return callWithoutParams(func() (any, error) { return s.service.MakeInvoice(ctx, p.AmountMsat, p.Memo) })
	case MethodLookupInvoice:
		ref, err := decodeStringParam(rawParams, "reference")
		if err != nil {
			return nil, rpcInvalidParams()
		}
		return callWithoutParams(func() (any, error) {
			return map[string]any{"reference": ref, "requested": true}, s.service.LookupInvoice(ctx, ref)
		})
	case MethodCurrentInvoice:
		return callWithoutParams(func() (any, error) {
			rec, ok, err := s.service.CurrentInvoice(ctx)
			if !ok {
				return map[string]any{"invoice": nil}, err
			}
			return map[string]any{"invoice": rec}, err
		})
	case MethodRelayReconnect:
		return callWithoutParams(func() (any, error) {
			accepted, err := s.service.Reconnect(ctx)
			return map[string]bool{"accepted": accepted}, err
		})
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "method not found"}
	}
}

func callWithoutParams(call func() (any, error)) (any, *rpcError) {
	result, err := call()
	if err != nil {
		return nil, mapServiceError(err)
	}
	return result, nil
}
