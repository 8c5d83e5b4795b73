package watchdog

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

type reconnectRecorder struct {
	calls   []string
	pending bool
}

// reconnect mimics the connection manager: accepted once, then a no-op
// until the dial completes.
func (r *reconnectRecorder) reconnect(reason string) bool {
	r.calls = append(r.calls, reason)
	if r.pending {
		return false
	}
	r.pending = true
	return true
}

func newSupervisor(cfg Config) (*Supervisor, *reconnectRecorder) {
	rec := &reconnectRecorder{}
	return New(cfg, rec.reconnect, slog.New(slog.NewTextHandler(io.Discard, nil))), rec
}

var t0 = time.Unix(1700000000, 0)

func TestNotificationSilenceTriggersOneReconnect(t *testing.T) {
	s, rec := newSupervisor(Config{NotificationTimeout: 60 * time.Second})
	s.ArmNotifications(true, t0)

	if fired := s.Check(t0.Add(59*time.Second), true); len(fired) != 0 {
		t.Fatalf("fired before timeout: %+v", fired)
	}
	fired := s.Check(t0.Add(61*time.Second), true)
	if len(fired) != 1 || fired[0].Reason != ReasonNotificationSilence || !fired[0].Accepted {
		t.Fatalf("expected one accepted fire, got %+v", fired)
	}
	if again := s.Check(t0.Add(62*time.Second), true); len(again) != 0 {
		t.Fatalf("timer must re-arm after firing, got %+v", again)
	}
	// An explicit reconnect moments later is a no-op in the manager.
	if rec.reconnect("user") {
		t.Fatal("second reconnect must be rejected while the first is pending")
	}
	if s.Fires(ReasonNotificationSilence) != 1 {
		t.Fatalf("expected exactly one watchdog reconnect, got %d", s.Fires(ReasonNotificationSilence))
	}
}

func TestNotificationResetsTimer(t *testing.T) {
	s, rec := newSupervisor(Config{NotificationTimeout: 60 * time.Second})
	s.ArmNotifications(true, t0)
	s.ObserveNotification(t0.Add(50 * time.Second))
	if fired := s.Check(t0.Add(100*time.Second), true); len(fired) != 0 {
		t.Fatalf("notification must reset the timer, fired %+v", fired)
	}
	if len(rec.calls) != 0 {
		t.Fatal("no reconnect expected")
	}
}

func TestDisarmedNotificationTimerNeverFires(t *testing.T) {
	s, _ := newSupervisor(Config{NotificationTimeout: time.Second})
	if fired := s.Check(t0.Add(time.Hour), true); len(fired) != 0 {
		t.Fatalf("disarmed timer fired: %+v", fired)
	}
	s.ArmNotifications(true, t0)
	s.ArmNotifications(false, t0)
	if fired := s.Check(t0.Add(time.Hour), true); len(fired) != 0 {
		t.Fatalf("disarmed timer fired: %+v", fired)
	}
}

func TestConnectionStaleOnlyWhileConnected(t *testing.T) {
	s, _ := newSupervisor(Config{ActivityTimeout: 90 * time.Second})
	s.ObserveActivity(t0)
	if fired := s.Check(t0.Add(2*time.Minute), false); len(fired) != 0 {
		t.Fatalf("stale timer must not fire while disconnected: %+v", fired)
	}
	fired := s.Check(t0.Add(2*time.Minute), true)
	if len(fired) != 1 || fired[0].Reason != ReasonConnectionStale {
		t.Fatalf("expected stale fire, got %+v", fired)
	}
	s.ObserveActivity(t0.Add(3 * time.Minute))
	if fired := s.Check(t0.Add(4*time.Minute), true); len(fired) != 0 {
		t.Fatalf("activity must reset the timer: %+v", fired)
	}
}
