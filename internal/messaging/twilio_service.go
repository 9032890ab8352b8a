package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haven-labs/mindhaven/internal/models"
	"github.com/haven-labs/mindhaven/internal/twiliowhatsapp"
)

// TwilioService implements the Sender interface using the Twilio API.
// Twilio cannot edit or revoke sent messages, so it only serves scheduled
// outreach, never the streaming conversation flow.
type TwilioService struct {
	client twiliowhatsapp.Sender // Could be real Twilio client or MockClient
}

// NewTwilioService creates a new TwilioService wrapping the given Twilio client.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{client: client}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	wasModified := recipient != canonical

	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	if wasModified {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}

	return canonical, nil
}

// SendMessage sends a message via Twilio. Twilio does not expose a message
// handle usable for edits, so the returned handle carries only the chat.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) (models.MessageHandle, error) {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return models.MessageHandle{}, err
	}

	if err := s.client.SendMessage(ctx, "+"+canonicalTo, body); err != nil {
		return models.MessageHandle{}, fmt.Errorf("%w: %s", models.ErrTransport, err.Error())
	}

	return models.MessageHandle{Chat: canonicalTo}, nil
}
