// Package models defines the core data structures shared across MindHaven components.
package models

import (
	"errors"
	"time"
)

// SessionState represents the response path a user's messages take.
type SessionState string

const (
	// StateNormal is the default state: full conversational turns.
	StateNormal SessionState = "NORMAL"
	// StateCrisis serves constrained turns with a reduced token budget.
	StateCrisis SessionState = "CRISIS"
	// StateBanned is terminal: no further AI turns are served.
	StateBanned SessionState = "BANNED"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is the durable per-user record of quota, ban/crisis state, and
// wellbeing scores. One row per user, created lazily on first contact.
type Session struct {
	UserID          string     `json:"userId"`
	DailyCount      int        `json:"dailyCount"`
	WarningCount    int        `json:"warningCount"`
	DepressionScore float64    `json:"depressionScore"`
	AnxietyScore    float64    `json:"anxietyScore"`
	InCrisis        bool       `json:"isInCrisis"`
	Banned          bool       `json:"isBanned"`
	LastActiveTime  *time.Time `json:"lastActiveTime,omitempty"`
	LastMessageTime *time.Time `json:"lastMessageTime,omitempty"`
	LastChatEndTime *time.Time `json:"lastChatEndTime,omitempty"`
	FollowupSentAt  *time.Time `json:"followupSentAt,omitempty"`
	LastCheckinAt   *time.Time `json:"lastCheckinAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// State derives the session state from the persisted flags. Banned is checked
// first: a session can be banned independent of prior crisis state.
func (s *Session) State() SessionState {
	switch {
	case s.Banned:
		return StateBanned
	case s.InCrisis:
		return StateCrisis
	default:
		return StateNormal
	}
}

// WellbeingScore is the combined score used to select check-in candidates.
func (s *Session) WellbeingScore() float64 {
	return s.DepressionScore + s.AnxietyScore
}

// Turn is one append-only conversation log entry.
type Turn struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CompletionMessage is one message in a completion request, oldest first.
type CompletionMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one call to the completion service. Model,
// temperature and transport details are configured on the client, not here.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []CompletionMessage
	// MaxTokens caps the output token budget. Zero means no cap.
	MaxTokens int64
}

// StreamDelta is one incremental fragment of a streaming completion. A delta
// carrying Err terminates the stream; the channel is closed after the final
// delta either way.
type StreamDelta struct {
	Text string
	Err  error
}

// MessageHandle identifies an outbound message for later edit or delete calls.
type MessageHandle struct {
	Chat string `json:"chat"`
	ID   string `json:"id"`
}

// Inbound is one incoming text event from the messaging platform.
type Inbound struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
	Time   int64  `json:"time"`
}

// ViolationMarker is the string the model is instructed to emit when it judges
// content to violate policy. The coordinator scans final output for it.
const ViolationMarker = "[VIOLATION]"

// Error kinds for the failure taxonomy. Callers match with errors.Is.
var (
	// ErrUpstreamService: the completion service errored or timed out.
	ErrUpstreamService = errors.New("completion service error")
	// ErrEmptyCompletion: the stream ended with no usable text.
	ErrEmptyCompletion = errors.New("completion produced no text")
	// ErrTransport: an outbound send/edit failed after retry.
	ErrTransport = errors.New("message transport error")
	// ErrAssessmentParse: the wellbeing payload was malformed or absent.
	ErrAssessmentParse = errors.New("assessment payload malformed")
)
