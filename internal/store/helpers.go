package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/haven-labs/mindhaven/internal/models"
)

// Opts holds configuration options shared by the SQL-backed stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-shaped DSNs and "sqlite"
// otherwise (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// rowScanner abstracts *sql.Row and *sql.Rows for the session scan helper.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSession scans one users row in canonical column order.
func scanSession(r rowScanner) (*models.Session, error) {
	var s models.Session
	var lastActive, lastMessage, lastChatEnd, followupSent, lastCheckin sql.NullTime
	err := r.Scan(
		&s.UserID, &s.DailyCount, &s.WarningCount,
		&s.DepressionScore, &s.AnxietyScore,
		&s.InCrisis, &s.Banned,
		&lastActive, &lastMessage, &lastChatEnd, &followupSent, &lastCheckin,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.LastActiveTime = timePtr(lastActive)
	s.LastMessageTime = timePtr(lastMessage)
	s.LastChatEndTime = timePtr(lastChatEnd)
	s.FollowupSentAt = timePtr(followupSent)
	s.LastCheckinAt = timePtr(lastCheckin)
	return &s, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time
	return &tt
}

// nullTime converts an optional timestamp for a nullable column.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// sessionColumns is the canonical column list matching scanSession.
const sessionColumns = `user_id, daily_chat_count, warning_count,
	depression_score, anxiety_score, is_in_crisis, is_banned,
	last_active_time, last_message_time, last_chat_end_time,
	followup_sent_at, last_checkin_at, created_at, updated_at`
