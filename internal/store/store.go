// Package store provides storage backends for MindHaven sessions and the
// append-only conversation turn log.
//
// It includes an in-memory store for tests and SQLite/PostgreSQL stores for
// production use.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/haven-labs/mindhaven/internal/models"
)

// Store is the persistence surface used by the conversation controller and the
// outreach sweeps. Counter increments are atomic: increment-then-read, never
// read-modify-write.
type Store interface {
	// GetSession returns the session for userID, or nil if none exists.
	GetSession(userID string) (*models.Session, error)

	// GetOrCreateSession lazily creates a default Normal-state session.
	GetOrCreateSession(userID string) (*models.Session, error)

	// SaveSession persists the mutable session fields in one write.
	SaveSession(s *models.Session) error

	// IncrementDailyCount atomically bumps the daily counter and returns the
	// new value. The caller compares against the cap; a blocked attempt still
	// counts.
	IncrementDailyCount(userID string) (int, error)

	// IncrementWarningCount atomically bumps the warning counter and returns
	// the new value.
	IncrementWarningCount(userID string) (int, error)

	// ResetAllDailyCounts zeroes daily_chat_count for every session.
	ResetAllDailyCounts() error

	// AppendTurn appends one conversation turn. Turns are never mutated.
	AppendTurn(t models.Turn) error

	// RecentTurns returns the last limit turns for userID in chronological
	// order (oldest first).
	RecentTurns(userID string, limit int) ([]models.Turn, error)

	// MarkEndedChats sets last_chat_end_time for sessions whose last message
	// is older than idleBefore and that have no end time yet. Returns the
	// number of sessions marked.
	MarkEndedChats(idleBefore time.Time) (int, error)

	// FollowupCandidates returns non-banned users whose chat ended before
	// endedBefore and who have not been followed up since.
	FollowupCandidates(endedBefore time.Time) ([]string, error)

	// MarkFollowupSent records that a follow-up went out.
	MarkFollowupSent(userID string) error

	// CheckinCandidates returns up to k non-banned sessions with the highest
	// combined wellbeing score not yet checked in since the given time.
	CheckinCandidates(k int, since time.Time) ([]models.Session, error)

	// MarkCheckinSent records that a check-in went out.
	MarkCheckinSent(userID string) error

	Close() error
}

// InMemoryStore is a mutex-guarded in-memory Store used in tests.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	turns    []models.Turn
	nextID   int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*models.Session)}
}

func (s *InMemoryStore) GetSession(userID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *InMemoryStore) GetOrCreateSession(userID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		now := time.Now()
		sess = &models.Session{UserID: userID, CreatedAt: now, UpdatedAt: now}
		s.sessions[userID] = sess
	}
	cp := *sess
	return &cp, nil
}

func (s *InMemoryStore) SaveSession(sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	cp.UpdatedAt = time.Now()
	if prev, ok := s.sessions[sess.UserID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}
	s.sessions[sess.UserID] = &cp
	return nil
}

func (s *InMemoryStore) IncrementDailyCount(userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		now := time.Now()
		sess = &models.Session{UserID: userID, CreatedAt: now, UpdatedAt: now}
		s.sessions[userID] = sess
	}
	sess.DailyCount++
	sess.UpdatedAt = time.Now()
	return sess.DailyCount, nil
}

func (s *InMemoryStore) IncrementWarningCount(userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		now := time.Now()
		sess = &models.Session{UserID: userID, CreatedAt: now, UpdatedAt: now}
		s.sessions[userID] = sess
	}
	sess.WarningCount++
	sess.UpdatedAt = time.Now()
	return sess.WarningCount, nil
}

func (s *InMemoryStore) ResetAllDailyCounts() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.DailyCount = 0
		sess.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) AppendTurn(t models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t.ID = s.nextID
	s.turns = append(s.turns, t)
	return nil
}

func (s *InMemoryStore) RecentTurns(userID string, limit int) ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.Turn
	for _, t := range s.turns {
		if t.UserID == userID {
			all = append(all, t)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].ID < all[j].ID
		}
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *InMemoryStore) MarkEndedChats(idleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, sess := range s.sessions {
		if sess.LastMessageTime != nil && sess.LastChatEndTime == nil && sess.LastMessageTime.Before(idleBefore) {
			now := time.Now()
			sess.LastChatEndTime = &now
			sess.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) FollowupCandidates(endedBefore time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, sess := range s.sessions {
		if sess.Banned || sess.LastChatEndTime == nil || sess.FollowupSentAt != nil {
			continue
		}
		if sess.LastChatEndTime.Before(endedBefore) {
			ids = append(ids, sess.UserID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemoryStore) MarkFollowupSent(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		now := time.Now()
		sess.FollowupSentAt = &now
		sess.UpdatedAt = now
	}
	return nil
}

func (s *InMemoryStore) CheckinCandidates(k int, since time.Time) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Session
	for _, sess := range s.sessions {
		if sess.Banned {
			continue
		}
		if sess.LastCheckinAt != nil && !sess.LastCheckinAt.Before(since) {
			continue
		}
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WellbeingScore() == out[j].WellbeingScore() {
			return out[i].UserID < out[j].UserID
		}
		return out[i].WellbeingScore() > out[j].WellbeingScore()
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *InMemoryStore) MarkCheckinSent(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		now := time.Now()
		sess.LastCheckinAt = &now
		sess.UpdatedAt = now
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
