// Package messaging provides the pluggable transport layer for MindHaven.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/haven-labs/mindhaven/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when an operation is attempted on a stopped service.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Sender is the minimal outbound surface: enough for scheduled outreach
// where editing is never needed.
type Sender interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message and returns a handle for the sent message.
	SendMessage(ctx context.Context, to string, body string) (models.MessageHandle, error)
}

// Service defines the full message delivery abstraction used by the
// conversation flow. On top of Sender it supports in-place edits of a sent
// message, deletion, and the typing signal used as the streaming heartbeat.
type Service interface {
	Sender

	// EditMessage replaces the content of a previously sent message.
	EditMessage(ctx context.Context, handle models.MessageHandle, body string) error

	// DeleteMessage removes a previously sent message.
	DeleteMessage(ctx context.Context, handle models.MessageHandle) error

	// SignalTyping shows a transient typing indicator to the recipient.
	SignalTyping(ctx context.Context, to string) error

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Inbound returns a channel of incoming user messages.
	Inbound() <-chan models.Inbound
}
