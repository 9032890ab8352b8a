package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haven-labs/mindhaven/internal/models"
	"github.com/haven-labs/mindhaven/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // Access to underlying client for event handling
	inbound  chan models.Inbound
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:  client,
		inbound: make(chan models.Inbound, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// Start begins background processing (e.g., event polling).
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")

	if s.waClient != nil {
		slog.Debug("WhatsAppService starting event handler")
		go s.handleEvents(ctx)
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}

	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.inbound)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
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
		slog.Debug("WhatsAppService canonicalized recipient", "original", recipient, "canonical", canonical)
	}

	return canonical, nil
}

// SendMessage sends a message and returns a handle for later edits.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) (models.MessageHandle, error) {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return models.MessageHandle{}, err
	}

	handle, err := s.client.SendText(ctx, canonicalTo, body)
	if err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return models.MessageHandle{}, fmt.Errorf("%w: %s", models.ErrTransport, err.Error())
	}
	return handle, nil
}

// EditMessage replaces the content of a previously sent message.
func (s *WhatsAppService) EditMessage(ctx context.Context, handle models.MessageHandle, body string) error {
	if err := s.client.EditText(ctx, handle, body); err != nil {
		return fmt.Errorf("%w: %s", models.ErrTransport, err.Error())
	}
	return nil
}

// DeleteMessage revokes a previously sent message.
func (s *WhatsAppService) DeleteMessage(ctx context.Context, handle models.MessageHandle) error {
	if err := s.client.RevokeMessage(ctx, handle); err != nil {
		return fmt.Errorf("%w: %s", models.ErrTransport, err.Error())
	}
	return nil
}

// SignalTyping shows a typing indicator to the recipient.
func (s *WhatsAppService) SignalTyping(ctx context.Context, to string) error {
	return s.client.SignalTyping(ctx, to)
}

// Inbound returns a channel of incoming user messages.
func (s *WhatsAppService) Inbound() <-chan models.Inbound {
	return s.inbound
}

// handleEvents processes WhatsApp events and feeds them into the inbound channel
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	slog.Debug("WhatsAppService handleEvents starting")

	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		default:
			// Ignore other event types
		}
	})

	slog.Debug("WhatsAppService event handler registered")

	// Keep handler running until context is cancelled
	select {
	case <-ctx.Done():
		slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
	case <-s.done:
		slog.Debug("WhatsAppService handleEvents stopping due to service stop")
	}
}

// handleIncomingMessage forwards incoming text messages to the inbound channel
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}
	if evt.Info.IsFromMe {
		return
	}

	// Extract text content
	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		// Skip non-text messages (images, audio, etc.)
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	in := models.Inbound{
		UserID: evt.Info.Sender.User,
		Text:   messageText,
		Time:   evt.Info.Timestamp.Unix(),
	}

	slog.Debug("WhatsAppService processing incoming message", "from", in.UserID, "body_length", len(in.Text))

	s.forwardInbound(in)
}

// forwardInbound hands one message to the channel consumer, dropping it when
// the channel stays full. The read lock is held across the send so Stop
// cannot close the channel while a send is in flight.
func (s *WhatsAppService) forwardInbound(in models.Inbound) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService dropping inbound message (service stopped)", "from", in.UserID)
		return
	}

	select {
	case s.inbound <- in:
		slog.Info("WhatsAppService incoming message forwarded", "from", in.UserID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService inbound channel blocked, dropping message", "from", in.UserID, "timeout", DefaultChannelTimeout)
	}
}
