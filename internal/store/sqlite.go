// Package store provides storage backends for MindHaven.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/haven-labs/mindhaven/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file path).
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetSession(userID string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM users WHERE user_id = ?`, userID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get session for %s: %w", userID, err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetOrCreateSession(userID string) (*models.Session, error) {
	now := time.Now()
	_, err := s.db.Exec(`INSERT INTO users (user_id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`, userID, now, now)
	if err != nil {
		slog.Error("SQLiteStore GetOrCreateSession insert failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to create session for %s: %w", userID, err)
	}
	return s.GetSession(userID)
}

func (s *SQLiteStore) SaveSession(sess *models.Session) error {
	now := time.Now()
	_, err := s.db.Exec(`INSERT INTO users (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			daily_chat_count = excluded.daily_chat_count,
			warning_count = excluded.warning_count,
			depression_score = excluded.depression_score,
			anxiety_score = excluded.anxiety_score,
			is_in_crisis = excluded.is_in_crisis,
			is_banned = excluded.is_banned,
			last_active_time = excluded.last_active_time,
			last_message_time = excluded.last_message_time,
			last_chat_end_time = excluded.last_chat_end_time,
			followup_sent_at = excluded.followup_sent_at,
			last_checkin_at = excluded.last_checkin_at,
			updated_at = excluded.updated_at`,
		sess.UserID, sess.DailyCount, sess.WarningCount,
		sess.DepressionScore, sess.AnxietyScore, sess.InCrisis, sess.Banned,
		nullTime(sess.LastActiveTime), nullTime(sess.LastMessageTime), nullTime(sess.LastChatEndTime),
		nullTime(sess.FollowupSentAt), nullTime(sess.LastCheckinAt),
		sess.CreatedAt, now)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("failed to save session for %s: %w", sess.UserID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "userID", sess.UserID, "state", sess.State())
	return nil
}

func (s *SQLiteStore) IncrementDailyCount(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`UPDATE users SET daily_chat_count = daily_chat_count + 1, updated_at = ?
		WHERE user_id = ? RETURNING daily_chat_count`, time.Now(), userID).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore IncrementDailyCount failed", "error", err, "userID", userID)
		return 0, fmt.Errorf("failed to increment daily count for %s: %w", userID, err)
	}
	return count, nil
}

func (s *SQLiteStore) IncrementWarningCount(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`UPDATE users SET warning_count = warning_count + 1, updated_at = ?
		WHERE user_id = ? RETURNING warning_count`, time.Now(), userID).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore IncrementWarningCount failed", "error", err, "userID", userID)
		return 0, fmt.Errorf("failed to increment warning count for %s: %w", userID, err)
	}
	return count, nil
}

func (s *SQLiteStore) ResetAllDailyCounts() error {
	res, err := s.db.Exec(`UPDATE users SET daily_chat_count = 0, updated_at = ?`, time.Now())
	if err != nil {
		slog.Error("SQLiteStore ResetAllDailyCounts failed", "error", err)
		return fmt.Errorf("failed to reset daily counts: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Debug("SQLiteStore ResetAllDailyCounts succeeded", "sessions", n)
	return nil
}

func (s *SQLiteStore) AppendTurn(t models.Turn) error {
	_, err := s.db.Exec(`INSERT INTO messages (user_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		t.UserID, t.Role, t.Content, t.Timestamp)
	if err != nil {
		slog.Error("SQLiteStore AppendTurn failed", "error", err, "userID", t.UserID)
		return fmt.Errorf("failed to append turn for %s: %w", t.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) RecentTurns(userID string, limit int) ([]models.Turn, error) {
	rows, err := s.db.Query(`SELECT id, user_id, role, content, timestamp FROM messages
		WHERE user_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		slog.Error("SQLiteStore RecentTurns query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query turns for %s: %w", userID, err)
	}
	defer rows.Close()

	var turns []models.Turn
	for rows.Next() {
		var t models.Turn
		if err := rows.Scan(&t.ID, &t.UserID, &t.Role, &t.Content, &t.Timestamp); err != nil {
			slog.Error("SQLiteStore RecentTurns scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn rows: %w", err)
	}
	// Rows come newest-first; reverse to restore chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *SQLiteStore) MarkEndedChats(idleBefore time.Time) (int, error) {
	now := time.Now()
	res, err := s.db.Exec(`UPDATE users SET last_chat_end_time = ?, updated_at = ?
		WHERE last_message_time IS NOT NULL AND last_chat_end_time IS NULL AND last_message_time < ?`,
		now, now, idleBefore)
	if err != nil {
		slog.Error("SQLiteStore MarkEndedChats failed", "error", err)
		return 0, fmt.Errorf("failed to mark ended chats: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) FollowupCandidates(endedBefore time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT user_id FROM users
		WHERE is_banned = 0 AND followup_sent_at IS NULL
		AND last_chat_end_time IS NOT NULL AND last_chat_end_time < ?
		ORDER BY user_id`, endedBefore)
	if err != nil {
		slog.Error("SQLiteStore FollowupCandidates query failed", "error", err)
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

func (s *SQLiteStore) MarkFollowupSent(userID string) error {
	now := time.Now()
	_, err := s.db.Exec(`UPDATE users SET followup_sent_at = ?, updated_at = ? WHERE user_id = ?`,
		now, now, userID)
	if err != nil {
		slog.Error("SQLiteStore MarkFollowupSent failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to mark follow-up sent for %s: %w", userID, err)
	}
	return nil
}

func (s *SQLiteStore) CheckinCandidates(k int, since time.Time) ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM users
		WHERE is_banned = 0 AND (last_checkin_at IS NULL OR last_checkin_at < ?)
		ORDER BY depression_score + anxiety_score DESC, user_id LIMIT ?`, since, k)
	if err != nil {
		slog.Error("SQLiteStore CheckinCandidates query failed", "error", err)
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

func (s *SQLiteStore) MarkCheckinSent(userID string) error {
	now := time.Now()
	_, err := s.db.Exec(`UPDATE users SET last_checkin_at = ?, updated_at = ? WHERE user_id = ?`,
		now, now, userID)
	if err != nil {
		slog.Error("SQLiteStore MarkCheckinSent failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to mark check-in sent for %s: %w", userID, err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
