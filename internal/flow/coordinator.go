package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haven-labs/mindhaven/internal/genai"
	"github.com/haven-labs/mindhaven/internal/messaging"
	"github.com/haven-labs/mindhaven/internal/models"
	"github.com/haven-labs/mindhaven/internal/prompts"
)

// fallbackSendTimeout bounds the cleanup sends that run after the turn
// context has already expired.
const fallbackSendTimeout = 10 * time.Second

// Coordinator drives one streaming completion turn: it opens a draft message,
// folds incoming text fragments into it via edits, keeps a typing heartbeat
// alive while generation is in flight, and finalizes or aborts the turn.
//
// A turn's draft state (accumulated text, last rendered text, message handle,
// heartbeat) lives only on the stack of StreamReply; it is never shared
// across turns or users.
type Coordinator struct {
	msgr messaging.Service
	ai   genai.ClientInterface
	cfg  Config
}

// NewCoordinator creates a Coordinator over the given transport and
// completion client.
func NewCoordinator(msgr messaging.Service, ai genai.ClientInterface, cfg Config) *Coordinator {
	return &Coordinator{msgr: msgr, ai: ai, cfg: cfg.Normalize()}
}

// StreamReply runs one streaming turn for userID. It returns the final
// rendered text and whether the model flagged the content as a policy
// violation. On any failure path the user has already received exactly one
// terminal message (the fallback, with crisis resources appended when
// inCrisis) and the returned error carries the failure kind.
func (c *Coordinator) StreamReply(ctx context.Context, userID string, req models.CompletionRequest, inCrisis bool) (string, bool, error) {
	turnID := uuid.New().String()
	slog.Debug("Coordinator.StreamReply: turn starting", "turnID", turnID, "userID", userID, "inCrisis", inCrisis)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReplyTimeout)
	defer cancel()

	stream, err := c.ai.Stream(ctx, req)
	if err != nil {
		slog.Error("Coordinator.StreamReply: failed to open stream", "turnID", turnID, "error", err)
		c.sendFallback(userID, inCrisis)
		return "", false, err
	}

	handle, err := c.sendWithRetry(ctx, userID, prompts.ThinkingPlaceholder)
	if err != nil {
		// Transport failures never surface to the user; drain the stream
		// context and give up on this turn.
		slog.Error("Coordinator.StreamReply: failed to open draft", "turnID", turnID, "error", err)
		return "", false, err
	}

	// The heartbeat must never outlive the turn. Every exit path below runs
	// hbCancel before any user-visible cleanup.
	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go c.heartbeat(hbCtx, userID)

	accumulated := ""
	lastRendered := prompts.ThinkingPlaceholder

loop:
	for {
		select {
		case <-ctx.Done():
			hbCancel()
			slog.Warn("Coordinator.StreamReply: turn timed out", "turnID", turnID, "userID", userID, "accumulated_length", len(accumulated))
			c.abortDraft(userID, handle, inCrisis)
			return "", false, fmt.Errorf("%w: turn %s timed out after %s", models.ErrUpstreamService, turnID, c.cfg.ReplyTimeout)
		case delta, ok := <-stream:
			if !ok {
				break loop
			}
			if delta.Err != nil {
				hbCancel()
				slog.Error("Coordinator.StreamReply: upstream error mid-stream", "turnID", turnID, "error", delta.Err)
				c.abortDraft(userID, handle, inCrisis)
				return "", false, delta.Err
			}
			accumulated += delta.Text
			// Render only when the accumulated text actually changed;
			// re-rendering identical content trips platform rate limits.
			if strings.TrimSpace(accumulated) == "" || accumulated == lastRendered {
				continue
			}
			if err := c.msgr.EditMessage(ctx, handle, accumulated); err != nil {
				slog.Warn("Coordinator.StreamReply: draft edit failed, will retry on next fragment", "turnID", turnID, "error", err)
				continue
			}
			lastRendered = accumulated
		}
	}
	hbCancel()

	final := strings.TrimSpace(accumulated)
	if final == "" {
		slog.Warn("Coordinator.StreamReply: stream ended with no usable text", "turnID", turnID, "userID", userID)
		c.abortDraft(userID, handle, inCrisis)
		return "", false, fmt.Errorf("%w: turn %s", models.ErrEmptyCompletion, turnID)
	}

	if final != lastRendered {
		if err := c.editWithRetry(ctx, handle, final); err != nil {
			slog.Error("Coordinator.StreamReply: final render failed, draft left stale", "turnID", turnID, "error", err)
		}
	}

	// The model self-flags policy violations inline; the flagged text is
	// still rendered so the user sees why the warning was recorded.
	violated := strings.Contains(final, models.ViolationMarker)
	slog.Debug("Coordinator.StreamReply: turn complete", "turnID", turnID, "userID", userID, "length", len(final), "violated", violated)
	return final, violated, nil
}

// heartbeat emits the typing signal at a fixed cadence until cancelled.
func (c *Coordinator) heartbeat(ctx context.Context, userID string) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.msgr.SignalTyping(ctx, userID); err != nil {
				slog.Debug("Coordinator.heartbeat: typing signal failed", "userID", userID, "error", err)
			}
		}
	}
}

// abortDraft removes the dangling draft and delivers the single terminal
// fallback message. Draft deletion is best-effort.
func (c *Coordinator) abortDraft(userID string, handle models.MessageHandle, inCrisis bool) {
	ctx, cancel := context.WithTimeout(context.Background(), fallbackSendTimeout)
	defer cancel()
	if err := c.msgr.DeleteMessage(ctx, handle); err != nil {
		slog.Warn("Coordinator.abortDraft: failed to delete draft", "userID", userID, "messageID", handle.ID, "error", err)
	}
	c.sendFallback(userID, inCrisis)
}

// sendFallback sends the fixed error message, with crisis resources appended
// in crisis mode. Runs on its own context so it works after a turn timeout.
func (c *Coordinator) sendFallback(userID string, inCrisis bool) {
	body := prompts.APIErrorMessage
	if inCrisis {
		body += "\n\n" + prompts.CrisisResources
	}
	ctx, cancel := context.WithTimeout(context.Background(), fallbackSendTimeout)
	defer cancel()
	if _, err := c.sendWithRetry(ctx, userID, body); err != nil {
		slog.Error("Coordinator.sendFallback: failed to deliver fallback", "userID", userID, "error", err)
	}
}

// editWithRetry edits a draft, retrying once on transport failure.
func (c *Coordinator) editWithRetry(ctx context.Context, handle models.MessageHandle, body string) error {
	err := c.msgr.EditMessage(ctx, handle, body)
	if err == nil {
		return nil
	}
	slog.Warn("Coordinator.editWithRetry: edit failed, retrying once", "messageID", handle.ID, "error", err)
	if err := c.msgr.EditMessage(ctx, handle, body); err != nil {
		return fmt.Errorf("%w: edit of %s failed after retry: %s", models.ErrTransport, handle.ID, err.Error())
	}
	return nil
}

// sendWithRetry sends a message, retrying once on transport failure. A second
// failure is logged and dropped, never raised to the user.
func (c *Coordinator) sendWithRetry(ctx context.Context, userID string, body string) (models.MessageHandle, error) {
	handle, err := c.msgr.SendMessage(ctx, userID, body)
	if err == nil {
		return handle, nil
	}
	slog.Warn("Coordinator.sendWithRetry: send failed, retrying once", "userID", userID, "error", err)
	handle, err = c.msgr.SendMessage(ctx, userID, body)
	if err != nil {
		return models.MessageHandle{}, fmt.Errorf("%w: send to %s failed after retry: %s", models.ErrTransport, userID, err.Error())
	}
	return handle, nil
}
