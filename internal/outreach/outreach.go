// Package outreach implements the scheduled sweeps that run outside the
// request path: marking idle chats as ended, following up on ended chats,
// checking in on the worst-scoring users, and the daily quota reset.
package outreach

import (
	"context"
	"log/slog"
	"time"

	"github.com/haven-labs/mindhaven/internal/messaging"
	"github.com/haven-labs/mindhaven/internal/prompts"
	"github.com/haven-labs/mindhaven/internal/scheduler"
	"github.com/haven-labs/mindhaven/internal/store"
)

// Default sweep parameters.
const (
	// DefaultIdleWindow is how long without a message counts as a chat end.
	DefaultIdleWindow = 10 * time.Minute
	// DefaultFollowupAfter is how long after a chat end the follow-up goes out.
	DefaultFollowupAfter = 3 * time.Hour
	// DefaultWorstK is how many users get the daily wellbeing check-in.
	DefaultWorstK = 3
	// DefaultSendTimeout bounds each outbound send within a sweep.
	DefaultSendTimeout = 10 * time.Second

	markIdleCadence   = "* * * * *"  // every minute
	followupCadence   = "0 * * * *"  // hourly
	checkinCadence    = "0 10 * * *" // daily, mid-morning
	dailyResetCadence = "0 0 * * *"  // daily boundary
)

// Config carries the sweep knobs. Zero fields fall back to defaults.
type Config struct {
	IdleWindow    time.Duration
	FollowupAfter time.Duration
	WorstK        int
	SendTimeout   time.Duration
}

func (c Config) normalize() Config {
	if c.IdleWindow <= 0 {
		c.IdleWindow = DefaultIdleWindow
	}
	if c.FollowupAfter <= 0 {
		c.FollowupAfter = DefaultFollowupAfter
	}
	if c.WorstK <= 0 {
		c.WorstK = DefaultWorstK
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}

// Dispatcher runs the outreach sweeps over the session store. Sends go out on
// the configured sender, which may be the primary transport or the Twilio
// fallback channel.
type Dispatcher struct {
	store  store.Store
	sender messaging.Sender
	cfg    Config
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(st store.Store, sender messaging.Sender, cfg Config) *Dispatcher {
	return &Dispatcher{store: st, sender: sender, cfg: cfg.normalize()}
}

// Register wires all four sweeps into the scheduler.
func (d *Dispatcher) Register(s *scheduler.Scheduler) error {
	jobs := []scheduler.Job{
		{Name: "mark-idle-chats", Cadence: markIdleCadence, Run: d.runLogged("mark-idle-chats", d.MarkIdleChats)},
		{Name: "send-followups", Cadence: followupCadence, Run: d.runLogged("send-followups", d.SendFollowups)},
		{Name: "send-checkins", Cadence: checkinCadence, Run: d.runLogged("send-checkins", d.SendCheckins)},
		{Name: "daily-reset", Cadence: dailyResetCadence, Run: d.runLogged("daily-reset", d.ResetDailyCounts)},
	}
	for _, job := range jobs {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) runLogged(name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			slog.Error("Dispatcher: sweep failed", "job", name, "error", err)
		}
	}
}

// MarkIdleChats sets the chat-end marker on sessions idle past the window.
// The store only marks sessions without an existing marker, so re-running the
// sweep is idempotent.
func (d *Dispatcher) MarkIdleChats() error {
	marked, err := d.store.MarkEndedChats(time.Now().Add(-d.cfg.IdleWindow))
	if err != nil {
		return err
	}
	if marked > 0 {
		slog.Info("Dispatcher.MarkIdleChats: chats marked ended", "count", marked)
	}
	return nil
}

// SendFollowups sends one follow-up message to every user whose chat ended
// past the threshold and has not been followed up since. One user's send
// failure never aborts the sweep for the rest.
func (d *Dispatcher) SendFollowups() error {
	candidates, err := d.store.FollowupCandidates(time.Now().Add(-d.cfg.FollowupAfter))
	if err != nil {
		return err
	}
	for _, userID := range candidates {
		if err := d.send(userID, prompts.FollowupMessage); err != nil {
			slog.Error("Dispatcher.SendFollowups: send failed, continuing sweep", "userID", userID, "error", err)
			continue
		}
		if err := d.store.MarkFollowupSent(userID); err != nil {
			slog.Error("Dispatcher.SendFollowups: failed to mark follow-up", "userID", userID, "error", err)
		}
	}
	if len(candidates) > 0 {
		slog.Info("Dispatcher.SendFollowups: sweep complete", "candidates", len(candidates))
	}
	return nil
}

// SendCheckins sends the daily check-in to the K non-banned users with the
// highest combined wellbeing score not yet contacted in the last day.
func (d *Dispatcher) SendCheckins() error {
	sessions, err := d.store.CheckinCandidates(d.cfg.WorstK, time.Now().Add(-24*time.Hour))
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := d.send(sess.UserID, prompts.CheckinMessage); err != nil {
			slog.Error("Dispatcher.SendCheckins: send failed, continuing sweep", "userID", sess.UserID, "error", err)
			continue
		}
		if err := d.store.MarkCheckinSent(sess.UserID); err != nil {
			slog.Error("Dispatcher.SendCheckins: failed to mark check-in", "userID", sess.UserID, "error", err)
		}
	}
	if len(sessions) > 0 {
		slog.Info("Dispatcher.SendCheckins: sweep complete", "candidates", len(sessions))
	}
	return nil
}

// ResetDailyCounts zeroes every session's daily counter.
func (d *Dispatcher) ResetDailyCounts() error {
	if err := d.store.ResetAllDailyCounts(); err != nil {
		return err
	}
	slog.Info("Dispatcher.ResetDailyCounts: daily counters reset")
	return nil
}

func (d *Dispatcher) send(userID string, body string) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()
	_, err := d.sender.SendMessage(ctx, userID, body)
	return err
}
