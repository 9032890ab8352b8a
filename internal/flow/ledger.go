package flow

import (
	"fmt"
	"log/slog"

	"github.com/haven-labs/mindhaven/internal/models"
	"github.com/haven-labs/mindhaven/internal/store"
)

// Ledger enforces the daily quota and the warning-to-ban escalation. Counter
// updates go through the store's atomic increments; the session object passed
// in is updated in place so callers see the post-increment values.
type Ledger struct {
	store store.Store
	cfg   Config
}

// NewLedger creates a Ledger over the given store.
func NewLedger(st store.Store, cfg Config) *Ledger {
	return &Ledger{store: st, cfg: cfg.Normalize()}
}

// TryConsumeDailyQuota increments the daily counter and compares against the
// cap. The increment is never rolled back: a blocked attempt still counts.
func (l *Ledger) TryConsumeDailyQuota(sess *models.Session) (bool, error) {
	count, err := l.store.IncrementDailyCount(sess.UserID)
	if err != nil {
		return false, fmt.Errorf("Ledger.TryConsumeDailyQuota: failed to increment daily count: %w", err)
	}
	sess.DailyCount = count
	allowed := count <= l.cfg.DailyChatCap
	if !allowed {
		slog.Info("Ledger.TryConsumeDailyQuota: daily cap reached", "userID", sess.UserID, "count", count, "cap", l.cfg.DailyChatCap)
	}
	return allowed, nil
}

// BanThreshold returns the warning threshold that applies to the session's
// current state. In crisis mode the threshold is higher.
func (l *Ledger) BanThreshold(sess *models.Session) int {
	if sess.InCrisis {
		return l.cfg.BanThresholdCrisis
	}
	return l.cfg.BanThresholdNormal
}

// RecordWarning increments the warning counter and bans the user when the
// state-dependent threshold is reached. Returns the new count and whether the
// session is now banned. The ban flag is persisted before returning.
func (l *Ledger) RecordWarning(sess *models.Session) (int, bool, error) {
	count, err := l.store.IncrementWarningCount(sess.UserID)
	if err != nil {
		return 0, false, fmt.Errorf("Ledger.RecordWarning: failed to increment warning count: %w", err)
	}
	sess.WarningCount = count

	threshold := l.BanThreshold(sess)
	if count >= threshold && !sess.Banned {
		sess.Banned = true
		if err := l.store.SaveSession(sess); err != nil {
			return count, true, fmt.Errorf("Ledger.RecordWarning: failed to persist ban: %w", err)
		}
		slog.Warn("Ledger.RecordWarning: warning threshold reached, user banned",
			"userID", sess.UserID, "warnings", count, "threshold", threshold)
	} else {
		slog.Info("Ledger.RecordWarning: warning recorded",
			"userID", sess.UserID, "warnings", count, "threshold", threshold)
	}
	return count, sess.Banned, nil
}
