package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"nostr-signer/go-backend/internal/relay"
	"nostr-signer/go-backend/internal/wallet"
	"nostr-signer/go-backend/pkg/models"
)

func TestNotificationHubReplaysBacklogAfterSeq(t *testing.T) {
	hub := NewNotificationHub(2)
	hub.Publish("a", 1)
	second := hub.Publish("b", 2)
	hub.Publish("c", 3)
	if hub.BacklogSize() != 2 {
		t.Fatalf("backlog must be bounded, got %d", hub.BacklogSize())
	}
	replay, _, cancel := hub.Subscribe(second.Seq)
	defer cancel()
	if len(replay) != 1 || replay[0].Method != "c" {
		t.Fatalf("unexpected replay %+v", replay)
	}
}

func TestHubObserverPublishesEngineCallbacks(t *testing.T) {
	hub := NewNotificationHub(16)
	_, ch, cancel := hub.Subscribe(0)
	defer cancel()

	obs := HubObserver{Hub: hub}
	obs.OnSigningRequest(models.SigningPrompt{RequestID: "r1"})
	obs.OnSigningResolved(models.SigningResolution{RequestID: "r1", Outcome: models.OutcomeApproved})
	obs.OnInvoiceUpdate(wallet.InvoiceRecord{RequestID: "inv", Status: wallet.StatusPending})
	obs.OnConnectionState(relay.Status{State: relay.StateConnected})

	want := []string{MethodSigningRequest, MethodSigningResolved, MethodInvoiceUpdate, MethodRelayStatus}
	for i, method := range want {
		ev := <-ch
		if ev.Method != method || ev.Seq != int64(i+1) {
			t.Fatalf("event %d: got %s/%d, want %s", i, ev.Method, ev.Seq, method)
		}
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := NewNotificationHub(1)
	_, ch, cancel := hub.Subscribe(0)
	defer cancel()
	for i := 0; i < 200; i++ {
		hub.Publish("flood", i)
	}
	if hub.Subscribers() != 0 || hub.Dropped() != 1 {
		t.Fatal("a subscriber that cannot keep up must be disconnected")
	}
	n := 0
	for range ch {
		n++
	}
	if n != subscriberBuffer {
		t.Fatalf("expected the buffered events before close, got %d", n)
	}
}

func TestNewLoggerRedactsThroughPrivacyHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug", "json")
	logger.Debug("hello", "connect_secret", "s3cr3t-value", "peer", "ff")
	out := buf.String()
	if strings.Contains(out, "s3cr3t-value") || !strings.Contains(out, "peer_fp") {
		t.Fatalf("logger output not sanitized: %s", out)
	}
	if ParseLevel("warning") != slog.LevelWarn || ParseLevel("nope") != slog.LevelInfo {
		t.Fatal("unexpected level parsing")
	}
}
