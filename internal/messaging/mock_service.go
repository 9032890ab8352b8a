package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/haven-labs/mindhaven/internal/models"
)

// MockService is an in-memory Service implementation for tests. It records
// every outbound operation and lets tests inject failures.
type MockService struct {
	mu      sync.Mutex
	nextID  int
	inbound chan models.Inbound

	Sent    []MockMessage
	Edits   []MockEdit
	Deleted []models.MessageHandle
	Typing  []string

	SendErr   error
	EditErr   error
	DeleteErr error

	// EditFailures fails the next N edits, then edits succeed again.
	EditFailures int
}

// MockMessage is a recorded send.
type MockMessage struct {
	To     string
	Body   string
	Handle models.MessageHandle
}

// MockEdit is a recorded edit.
type MockEdit struct {
	Handle models.MessageHandle
	Body   string
}

// NewMockService creates an empty MockService.
func NewMockService() *MockService {
	return &MockService{inbound: make(chan models.Inbound, DefaultChannelBufferSize)}
}

// ValidateAndCanonicalizeRecipient accepts any non-empty recipient unchanged.
func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	return recipient, nil
}

// SendMessage records the message and returns a synthetic handle.
func (m *MockService) SendMessage(ctx context.Context, to string, body string) (models.MessageHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return models.MessageHandle{}, m.SendErr
	}
	m.nextID++
	handle := models.MessageHandle{Chat: to, ID: fmt.Sprintf("mock-%d", m.nextID)}
	m.Sent = append(m.Sent, MockMessage{To: to, Body: body, Handle: handle})
	return handle, nil
}

// EditMessage records the edit.
func (m *MockService) EditMessage(ctx context.Context, handle models.MessageHandle, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EditFailures > 0 {
		m.EditFailures--
		return fmt.Errorf("simulated edit failure")
	}
	if m.EditErr != nil {
		return m.EditErr
	}
	m.Edits = append(m.Edits, MockEdit{Handle: handle, Body: body})
	return nil
}

// DeleteMessage records the deletion.
func (m *MockService) DeleteMessage(ctx context.Context, handle models.MessageHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.Deleted = append(m.Deleted, handle)
	return nil
}

// SignalTyping records the typing signal.
func (m *MockService) SignalTyping(ctx context.Context, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Typing = append(m.Typing, to)
	return nil
}

// Start is a no-op.
func (m *MockService) Start(ctx context.Context) error { return nil }

// Stop closes the inbound channel.
func (m *MockService) Stop() error {
	close(m.inbound)
	return nil
}

// Inbound returns the inbound channel; tests push into it via Receive.
func (m *MockService) Inbound() <-chan models.Inbound { return m.inbound }

// Receive injects an inbound message, as if a user had sent it.
func (m *MockService) Receive(in models.Inbound) { m.inbound <- in }

// SentBodies returns the bodies of all recorded sends.
func (m *MockService) SentBodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	bodies := make([]string, 0, len(m.Sent))
	for _, s := range m.Sent {
		bodies = append(bodies, s.Body)
	}
	return bodies
}

// LastEditBody returns the body of the most recent edit, or "" if none.
func (m *MockService) LastEditBody() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Edits) == 0 {
		return ""
	}
	return m.Edits[len(m.Edits)-1].Body
}
