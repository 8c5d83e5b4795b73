// Package watchdog detects silent connections and forces reconnection.
package watchdog

import (
	"log/slog"
	"time"
)

type Reason string

const (
	ReasonConnectionStale     Reason = "connection_stale"
	ReasonNotificationSilence Reason = "notification_silence"
)

type Config struct {
	ActivityTimeout     time.Duration
	NotificationTimeout time.Duration
}

// Fired records one timer expiry and whether the reconnect was accepted.
type Fired struct {
	Reason   Reason
	Accepted bool
}

// Supervisor owns two independent timers. Each is reset by its own traffic
// category and, on expiry, calls reconnect once and re-arms from that moment.
type Supervisor struct {
	cfg       Config
	reconnect func(reason string) bool
	logger    *slog.Logger

	lastActivity      time.Time
	lastNotification  time.Time
	notificationArmed bool
	fires             map[Reason]int
}

func New(cfg Config, reconnect func(reason string) bool, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:       cfg,
		reconnect: reconnect,
		logger:    logger.With("component", "watchdog"),
		fires:     make(map[Reason]int),
	}
}

// ObserveActivity resets the connection timer.
func (s *Supervisor) ObserveActivity(now time.Time) {
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
}

// ObserveNotification resets the notification timer.
func (s *Supervisor) ObserveNotification(now time.Time) {
	if now.After(s.lastNotification) {
		s.lastNotification = now
	}
}

// ArmNotifications enables the notification timer while a settlement is
// expected. Arming starts the silence window at now.
func (s *Supervisor) ArmNotifications(active bool, now time.Time) {
	if active && !s.notificationArmed {
		s.lastNotification = now
	}
	s.notificationArmed = active
}

func (s *Supervisor) NotificationsArmed() bool {
	return s.notificationArmed
}

// Check evaluates both timers. The connection timer only counts while
// connected; the manager's own retry schedule covers the other states.
func (s *Supervisor) Check(now time.Time, connected bool) []Fired {
	var fired []Fired
	if connected && s.cfg.ActivityTimeout > 0 && !s.lastActivity.IsZero() && now.Sub(s.lastActivity) >= s.cfg.ActivityTimeout {
		fired = append(fired, s.fire(ReasonConnectionStale, now))
		s.lastActivity = now
	}
	if s.notificationArmed && s.cfg.NotificationTimeout > 0 && now.Sub(s.lastNotification) >= s.cfg.NotificationTimeout {
		fired = append(fired, s.fire(ReasonNotificationSilence, now))
		s.lastNotification = now
	}
	return fired
}

func (s *Supervisor) Fires(reason Reason) int {
	return s.fires[reason]
}

func (s *Supervisor) fire(reason Reason, now time.Time) Fired {
	s.fires[reason]++
	accepted := s.reconnect(string(reason))
	s.logger.Warn("watchdog expired", "operation", "watchdog.fire", "reason", string(reason), "reconnect_accepted", accepted, "at", now)
	return Fired{Reason: reason, Accepted: accepted}
}
