package engine

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"nostr-signer/go-backend/internal/crypto"
	"nostr-signer/go-backend/internal/relay"
	"nostr-signer/go-backend/internal/signer"
	"nostr-signer/go-backend/pkg/models"
)

func signerFilter(device crypto.PublicKey, since int64) models.Filter {
	return models.Filter{
		Kinds: []int{models.KindNostrConnect},
		PTags: []string{device.Hex()},
		Since: &since,
	}
}

func (e *Engine) subscribe(route string, filter models.Filter) {
	subID := uuid.NewString()
	data, err := relay.EncodeReq(subID, filter)
	if err != nil {
		e.logError("relay.subscribe", subID, err, "route", route)
		return
	}
	if err := e.manager.Send(data); err != nil {
		e.logWarn("relay.subscribe", subID, "subscription not sent", "route", route, "error", err.Error())
		return
	}
	e.subs[route] = subID
	e.logInfo("relay.subscribe", subID, "subscribed", "route", route, "since", *filter.Since)
}

// closeSubscriptions tells the relay to stop routing to this client. Failures
// are only logged since the connection is going away anyway.
func (e *Engine) closeSubscriptions() {
	for route, subID := range e.subs {
		data, err := relay.EncodeClose(subID)
		if err == nil {
			err = e.manager.Send(data)
		}
		if err != nil {
			e.logDebug("relay.close", subID, "subscription close not sent", "route", route, "error", err.Error())
			continue
		}
		e.logDebug("relay.close", subID, "subscription closed", "route", route)
	}
	clear(e.subs)
}

func (e *Engine) routeOf(subID string) string {
	for route, id := range e.subs {
		if id == subID {
			return route
		}
	}
	return ""
}

func (e *Engine) handleMessage(raw string) {
	msg, err := relay.ParseMessage([]byte(raw))
	if err != nil {
		e.metrics.RelayMessages.WithLabelValues("invalid").Inc()
		e.logWarn("relay.message", "", "unparseable relay message dropped", "error", err.Error())
		return
	}
	e.metrics.RelayMessages.WithLabelValues(msg.Type).Inc()
	switch msg.Type {
	case relay.TypeEvent:
		if msg.Event != nil {
			e.handleEvent(*msg.Event)
		}
	case relay.TypeOK:
		if !msg.Accepted {
			e.logWarn("relay.publish", msg.EventID, "relay rejected event", "reason", msg.Text)
		}
	case relay.TypeEOSE:
		e.logDebug("relay.subscribe", msg.SubscriptionID, "stored events replayed")
	case relay.TypeClosed:
		route := e.routeOf(msg.SubscriptionID)
		e.logWarn("relay.subscribe", msg.SubscriptionID, "relay closed subscription", "route", route, "reason", msg.Text)
		if route != "" {
			delete(e.subs, route)
			e.resubscribe(route)
		}
	case relay.TypeNotice:
		e.logInfo("relay.notice", "", "relay notice", "text", msg.Text)
	case relay.TypeAuth:
		e.logWarn("relay.auth", "", "relay requested authentication; not supported")
	}
}

func (e *Engine) resubscribe(route string) {
	since := e.now().Add(-e.cfg.SinceWindow).Unix()
	switch route {
	case routeSigner:
		e.subscribe(routeSigner, signerFilter(e.keys.PublicKey(), since))
	case routeWallet:
		if e.wallet != nil {
			e.subscribe(routeWallet, e.wallet.Filter(since))
		}
	}
}

// handleEvent verifies, de-duplicates and routes one inbound event by kind.
func (e *Engine) handleEvent(ev models.Event) {
	if err := crypto.VerifyEvent(ev); err != nil {
		e.metrics.DroppedEvents.WithLabelValues("invalid_signature").Inc()
		e.logWarn("relay.event", ev.ID, "event failed verification", "kind", ev.Kind, "error", err.Error())
		return
	}
	if e.seen.Contains(ev.ID) {
		e.metrics.DroppedEvents.WithLabelValues("duplicate").Inc()
		e.logDebug("relay.event", ev.ID, "duplicate event ignored", "kind", ev.Kind)
		return
	}
	e.seen.Add(ev.ID, struct{}{})

	switch ev.Kind {
	case models.KindNostrConnect:
		if ev.TagValue("p") != e.keys.PublicKey().Hex() {
			e.metrics.DroppedEvents.WithLabelValues("unaddressed").Inc()
			return
		}
		e.metrics.Events.WithLabelValues(routeSigner).Inc()
		e.handleSignerEvent(ev)
	case models.KindWalletResponse, models.KindWalletNotification, models.KindWalletNotificationV2:
		if e.wallet == nil {
			e.metrics.DroppedEvents.WithLabelValues("unrouted").Inc()
			return
		}
		e.metrics.Events.WithLabelValues(routeWallet).Inc()
		e.handleWalletEvent(ev)
	default:
		e.metrics.DroppedEvents.WithLabelValues("unrouted").Inc()
	}
}

func (e *Engine) handleSignerEvent(ev models.Event) {
	peer, err := crypto.ParsePublicKeyHex(ev.PubKey)
	if err != nil {
		e.metrics.DroppedEvents.WithLabelValues("invalid_peer").Inc()
		return
	}
	plain, version, err := e.keys.Decrypt(ev.Content, peer)
	if err != nil {
		// No request id is recoverable from an undecryptable payload.
		e.metrics.DecodeFailures.WithLabelValues(crypto.DecodeReason(err)).Inc()
		e.logWarn("signer.decrypt", ev.ID, "signer request dropped", "peer", ev.PubKey, "reason", crypto.DecodeReason(err))
		return
	}
	var req models.SignerRequest
	if err := json.Unmarshal([]byte(plain), &req); err != nil {
		e.metrics.DroppedEvents.WithLabelValues("invalid_request").Inc()
		e.logWarn("signer.decode", ev.ID, "signer request is not valid json", "peer", ev.PubKey)
		return
	}

	out := e.signer.Handle(peer, version, req)
	e.persistApprovals()
	e.metrics.SignerRequests.WithLabelValues(out.Method.String(), out.Decision.String()).Inc()
	if out.Prompt != nil {
		e.observer.OnSigningRequest(*out.Prompt)
	}
	if out.Reply != nil {
		e.sendReply(*out.Reply)
	}
}

func (e *Engine) handleWalletEvent(ev models.Event) {
	res, err := e.wallet.HandleEvent(ev)
	if err != nil {
		if errors.Is(err, crypto.ErrDecode) {
			e.metrics.DecodeFailures.WithLabelValues(crypto.DecodeReason(err)).Inc()
		}
		e.logWarn("wallet.event", ev.ID, "wallet event dropped", "kind", ev.Kind, "error", err.Error())
		if res.Invoice != nil {
			e.invoiceChanged(*res.Invoice)
		}
		return
	}
	if res.Notification {
		e.watchdog.ObserveNotification(e.now())
	}
	if res.Invoice != nil {
		e.invoiceChanged(*res.Invoice)
	}
}

// sendReply encrypts r back to its peer under the version the peer used.
func (e *Engine) sendReply(r signer.Reply) {
	body, err := json.Marshal(r.Response)
	if err != nil {
		e.logError("signer.reply", r.Response.ID, err)
		return
	}
	content, err := e.keys.Encrypt(string(body), r.Peer, r.Version)
	if err != nil {
		e.logError("signer.reply", r.Response.ID, err, "peer", r.Peer.Hex())
		return
	}
	ev, err := e.keys.Sign(models.Event{
		Kind:      models.KindNostrConnect,
		CreatedAt: e.now().Unix(),
		Tags:      [][]string{{"p", r.Peer.Hex()}},
		Content:   content,
	})
	if err != nil {
		e.logError("signer.reply", r.Response.ID, err)
		return
	}
	e.publish(ev, "signer.reply", r.Response.ID)
}

// publish sends ev now or parks it in the outbox while the relay is down.
func (e *Engine) publish(ev models.Event, operation, correlationID string) {
	data, err := relay.EncodeEvent(ev, "")
	if err != nil {
		e.logError(operation, correlationID, err)
		return
	}
	err = e.manager.Send(data)
	var terr *relay.TransportError
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrNotConnected), errors.As(err, &terr):
		if e.outbox.push(parcel{data: data, operation: operation, correlationID: correlationID, queuedAt: e.now()}) {
			e.logWarn("engine.outbox", correlationID, "outbox full; oldest message dropped")
		}
		e.logInfo(operation, correlationID, "relay unavailable; message queued", "queued", e.outbox.len())
	default:
		e.logError(operation, correlationID, err, "bytes", len(data))
	}
	e.metrics.OutboxSize.Set(float64(e.outbox.len()))
}

func (e *Engine) flushOutbox() {
	if e.outbox.len() == 0 {
		return
	}
	sent, err := e.outbox.drain(func(p parcel) error {
		err := e.manager.Send(p.data)
		if errors.Is(err, relay.ErrFrameTooLarge) {
			e.logError(p.operation, p.correlationID, err)
			return nil
		}
		return err
	})
	if err != nil {
		e.logWarn("engine.outbox", "", "outbox flush interrupted", "sent", sent, "error", err.Error())
	} else {
		e.logInfo("engine.outbox", "", "outbox flushed", "sent", sent)
	}
	e.metrics.OutboxSize.Set(float64(e.outbox.len()))
}
