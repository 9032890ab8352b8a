// Package store provides storage backends for MindHaven.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/haven-labs/mindhaven/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetSession(userID string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM users WHERE user_id = $1`, userID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get session for %s: %w", userID, err)
	}
	return sess, nil
}

func (s *PostgresStore) GetOrCreateSession(userID string) (*models.Session, error) {
	now := time.Now()
	_, err := s.db.Exec(`INSERT INTO users (user_id, created_at, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING`, userID, now, now)
	if err != nil {
		slog.Error("PostgresStore GetOrCreateSession insert failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to create session for %s: %w", userID, err)
	}
	return s.GetSession(userID)
}

func (s *PostgresStore) SaveSession(sess *models.Session) error {
	now := time.Now()
	_, err := s.db.Exec(`INSERT INTO users (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id) DO UPDATE SET
			daily_chat_count = EXCLUDED.daily_chat_count,
			warning_count = EXCLUDED.warning_count,
			depression_score = EXCLUDED.depression_score,
			anxiety_score = EXCLUDED.anxiety_score,
			is_in_crisis = EXCLUDED.is_in_crisis,
			is_banned = EXCLUDED.is_banned,
			last_active_time = EXCLUDED.last_active_time,
			last_message_time = EXCLUDED.last_message_time,
			last_chat_end_time = EXCLUDED.last_chat_end_time,
			followup_sent_at = EXCLUDED.followup_sent_at,
			last_checkin_at = EXCLUDED.last_checkin_at,
			updated_at = EXCLUDED.updated_at`,
		sess.UserID, sess.DailyCount, sess.WarningCount,
		sess.DepressionScore, sess.AnxietyScore, sess.InCrisis, sess.Banned,
		nullTime(sess.LastActiveTime), nullTime(sess.LastMessageTime), nullTime(sess.LastChatEndTime),
		nullTime(sess.FollowupSentAt), nullTime(sess.LastCheckinAt),
		sess.CreatedAt, now)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("failed to save session for %s: %w", sess.UserID, err)
	}
	return nil
}

func (s *PostgresStore) IncrementDailyCount(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`UPDATE users SET daily_chat_count = daily_chat_count + 1, updated_at = $1
		WHERE user_id = $2 RETURNING daily_chat_count`, time.Now(), userID).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore IncrementDailyCount failed", "error", err, "userID", userID)
		return 0, fmt.Errorf("failed to increment daily count for %s: %w", userID, err)
	}
	return count, nil
}

func (s *PostgresStore) IncrementWarningCount(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`UPDATE users SET warning_count = warning_count + 1, updated_at = $1
		WHERE user_id = $2 RETURNING warning_count`, time.Now(), userID).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore IncrementWarningCount failed", "error", err, "userID", userID)
		return 0, fmt.Errorf("failed to increment warning count for %s: %w", userID, err)
	}
	return count, nil
}

func (s *PostgresStore) ResetAllDailyCounts() error {
	_, err := s.db.Exec(`UPDATE users SET daily_chat_count = 0, updated_at = $1`, time.Now())
	if err != nil {
		slog.Error("PostgresStore ResetAllDailyCounts failed", "error", err)
		return fmt.Errorf("failed to reset daily counts: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendTurn(t models.Turn) error {
	_, err := s.db.Exec(`INSERT INTO messages (user_id, role, content, timestamp) VALUES ($1, $2, $3, $4)`,
		t.UserID, t.Role, t.Content, t.Timestamp)
	if err != nil {
		slog.Error("PostgresStore AppendTurn failed", "error", err, "userID", t.UserID)
		return fmt.Errorf("failed to append turn for %s: %w", t.UserID, err)
	}
	return nil
}

func (s *PostgresStore) RecentTurns(userID string, limit int) ([]models.Turn, error) {
	rows, err := s.db.Query(`SELECT id, user_id, role, content, timestamp FROM messages
		WHERE user_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		slog.Error("PostgresStore RecentTurns query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query turns for %s: %w", userID, err)
	}
	defer rows.Close()

	var turns []models.Turn
	for rows.Next() {
		var t models.Turn
		if err := rows.Scan(&t.ID, &t.UserID, &t.Role, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn rows: %w", err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *PostgresStore) MarkEndedChats(idleBefore time.Time) (int, error) {
	now := time.Now()
	res, err := s.db.Exec(`UPDATE users SET last_chat_end_time = $1, updated_at = $2
		WHERE last_message_time IS NOT NULL AND last_chat_end_time IS NULL AND last_message_time < $3`,
		now, now, idleBefore)
	if err != nil {
		slog.Error("PostgresStore MarkEndedChats failed", "error", err)
		return 0, fmt.Errorf("failed to mark ended chats: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) FollowupCandidates(endedBefore time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT user_id FROM users
		WHERE is_banned = FALSE AND followup_sent_at IS NULL
		AND last_chat_end_time IS NOT NULL AND last_chat_end_time < $1
		ORDER BY user_id`, endedBefore)
	if err != nil {
		slog.Error("PostgresStore FollowupCandidates query failed", "error", err)
		return nil, fmt.Errorf("failed to query follow-up candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan candidate row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) MarkFollowupSent(userID string) error {
	now := time.Now()
	_, err := s.db.Exec(`UPDATE users SET followup_sent_at = $1, updated_at = $2 WHERE user_id = $3`,
		now, now, userID)
	if err != nil {
		slog.Error("PostgresStore MarkFollowupSent failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to mark follow-up sent for %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) CheckinCandidates(k int, since time.Time) ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM users
		WHERE is_banned = FALSE AND (last_checkin_at IS NULL OR last_checkin_at < $1)
		ORDER BY depression_score + anxiety_score DESC, user_id LIMIT $2`, since, k)
	if err != nil {
		slog.Error("PostgresStore CheckinCandidates query failed", "error", err)
		return nil, fmt.Errorf("failed to query check-in candidates: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) MarkCheckinSent(userID string) error {
	now := time.Now()
	_, err := s.db.Exec(`UPDATE users SET last_checkin_at = $1, updated_at = $2 WHERE user_id = $3`,
		now, now, userID)
	if err != nil {
		slog.Error("PostgresStore MarkCheckinSent failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to mark check-in sent for %s: %w", userID, err)
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
