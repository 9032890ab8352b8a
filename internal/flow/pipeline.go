// Package flow implements the per-user conversation controller: the crisis
// protocol state machine, the quota/warning ledger, the streaming response
// coordinator and the wellbeing assessment sampler, sequenced by the message
// ingestion pipeline.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haven-labs/mindhaven/internal/genai"
	"github.com/haven-labs/mindhaven/internal/messaging"
	"github.com/haven-labs/mindhaven/internal/models"
	"github.com/haven-labs/mindhaven/internal/prompts"
	"github.com/haven-labs/mindhaven/internal/store"
)

// AuditLogger is the durable append-only sink for the per-user chat audit
// trail. Implemented by the chatlog package; failures are logged, never fatal.
type AuditLogger interface {
	Append(userID string, role models.Role, content string, ts time.Time) error
}

// Pipeline is the top-level entry point per inbound event. It sequences
// ban check, quota check, persistence, crisis detection and dispatch, holding
// the per-user lock for the whole turn.
type Pipeline struct {
	store   store.Store
	msgr    messaging.Service
	ledger  *Ledger
	coord   *Coordinator
	sampler *Sampler
	audit   AuditLogger
	cfg     Config
	locker  *userLocker
	wg      sync.WaitGroup
}

// NewPipeline wires a Pipeline from its collaborators. audit may be nil to
// disable the file audit trail.
func NewPipeline(st store.Store, msgr messaging.Service, ai genai.ClientInterface, audit AuditLogger, cfg Config) *Pipeline {
	cfg = cfg.Normalize()
	return &Pipeline{
		store:   st,
		msgr:    msgr,
		ledger:  NewLedger(st, cfg),
		coord:   NewCoordinator(msgr, ai, cfg),
		sampler: NewSampler(ai, st, cfg),
		audit:   audit,
		cfg:     cfg,
		locker:  newUserLocker(),
	}
}

// HandleMessage processes one inbound event end to end. Persistence writes
// happen before any outbound reply is attempted, so a downstream send failure
// never desynchronizes ledger state from logged history.
func (p *Pipeline) HandleMessage(ctx context.Context, in models.Inbound) error {
	unlock := p.locker.Lock(in.UserID)
	defer unlock()

	sess, err := p.store.GetOrCreateSession(in.UserID)
	if err != nil {
		return fmt.Errorf("Pipeline.HandleMessage: failed to load session: %w", err)
	}

	if sess.Banned {
		slog.Info("Pipeline.HandleMessage: banned user denied", "userID", in.UserID)
		p.sendStatic(ctx, in.UserID, prompts.BannedMessage)
		return nil
	}

	allowed, err := p.ledger.TryConsumeDailyQuota(sess)
	if err != nil {
		return err
	}
	if !allowed {
		p.sendStatic(ctx, in.UserID, prompts.QuotaExceededMessage)
		return nil
	}

	now := time.Now()
	sess.LastMessageTime = &now
	sess.LastActiveTime = &now
	// A fresh inbound message re-engages the user: clear the chat-end marker
	// so the idle and follow-up sweeps start over.
	sess.LastChatEndTime = nil
	sess.FollowupSentAt = nil
	if err := p.store.SaveSession(sess); err != nil {
		return fmt.Errorf("Pipeline.HandleMessage: failed to persist session activity: %w", err)
	}

	if err := p.store.AppendTurn(models.Turn{UserID: in.UserID, Role: models.RoleUser, Content: in.Text, Timestamp: now}); err != nil {
		return fmt.Errorf("Pipeline.HandleMessage: failed to append user turn: %w", err)
	}
	p.auditAppend(in.UserID, models.RoleUser, in.Text, now)

	// Static blocklist check runs before any completion call; the model's
	// inline self-flag is the second, independent violation signal.
	if ContainsViolationKeyword(in.Text) {
		return p.handleViolation(ctx, sess)
	}

	if !sess.InCrisis && ContainsCrisisKeyword(in.Text) {
		return p.enterCrisis(ctx, sess)
	}

	if sess.InCrisis {
		return p.runCrisisTurn(ctx, sess)
	}
	return p.runNormalTurn(ctx, sess)
}

// ResetCrisis serves the /reset control event: the only Crisis -> Normal
// transition. It runs under the same per-user lock as HandleMessage, so a ban
// or warning landing mid-turn can never be clobbered by the write-back here.
// Bans are never lifted.
func (p *Pipeline) ResetCrisis(ctx context.Context, userID string) error {
	unlock := p.locker.Lock(userID)
	defer unlock()

	sess, err := p.store.GetOrCreateSession(userID)
	if err != nil {
		return fmt.Errorf("Pipeline.ResetCrisis: failed to load session: %w", err)
	}
	if sess.Banned {
		p.sendStatic(ctx, userID, prompts.BannedMessage)
		return nil
	}
	sess.InCrisis = false
	now := time.Now()
	sess.LastActiveTime = &now
	if err := p.store.SaveSession(sess); err != nil {
		return fmt.Errorf("Pipeline.ResetCrisis: failed to persist session: %w", err)
	}
	p.sendStatic(ctx, userID, prompts.ResetMessage)
	return nil
}

// Wait blocks until all background assessment samples have finished. Called
// on shutdown.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// enterCrisis performs the one-shot Normal -> Crisis transition: persist the
// new state, then send the stabilization message and the resource listing in
// order. The triggering text is never forwarded to the completion service.
func (p *Pipeline) enterCrisis(ctx context.Context, sess *models.Session) error {
	sess.InCrisis = true
	if err := p.store.SaveSession(sess); err != nil {
		return fmt.Errorf("Pipeline.enterCrisis: failed to persist crisis state: %w", err)
	}
	slog.Warn("Pipeline.enterCrisis: crisis trigger detected", "userID", sess.UserID)

	p.sendStatic(ctx, sess.UserID, prompts.CrisisStep1Message)
	p.sendStatic(ctx, sess.UserID, prompts.CrisisResources)
	return nil
}

// handleViolation records a warning for a blocklist match and tells the user
// where they stand, or delivers the ban notice when the threshold is hit.
func (p *Pipeline) handleViolation(ctx context.Context, sess *models.Session) error {
	count, banned, err := p.ledger.RecordWarning(sess)
	if err != nil {
		return err
	}
	if banned {
		p.sendStatic(ctx, sess.UserID, prompts.BannedMessage)
		return nil
	}
	p.sendStatic(ctx, sess.UserID, fmt.Sprintf(prompts.WarningTemplate, count, p.ledger.BanThreshold(sess)))
	return nil
}

// runNormalTurn serves an unbounded streaming turn and samples wellbeing
// scores after the reply has been delivered.
func (p *Pipeline) runNormalTurn(ctx context.Context, sess *models.Session) error {
	history, err := p.contextWindow(sess.UserID)
	if err != nil {
		return err
	}

	req := models.CompletionRequest{
		SystemPrompt: prompts.SystemPrompt,
		Messages:     history,
	}
	text, violated, err := p.coord.StreamReply(ctx, sess.UserID, req, false)
	if err != nil {
		// The coordinator has already delivered the terminal fallback.
		slog.Error("Pipeline.runNormalTurn: turn failed", "userID", sess.UserID, "error", err)
		return nil
	}
	if violated {
		return p.handleViolation(ctx, sess)
	}

	now := time.Now()
	if err := p.store.AppendTurn(models.Turn{UserID: sess.UserID, Role: models.RoleAssistant, Content: text, Timestamp: now}); err != nil {
		slog.Error("Pipeline.runNormalTurn: failed to append assistant turn", "userID", sess.UserID, "error", err)
	}
	p.auditAppend(sess.UserID, models.RoleAssistant, text, now)

	// The assessment never blocks or delays the delivered reply.
	userID := sess.UserID
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sampler.Assess(context.Background(), userID, history, text); err != nil {
			if errors.Is(err, models.ErrAssessmentParse) {
				slog.Warn("Pipeline: assessment payload unusable, keeping previous scores", "userID", userID, "error", err)
			} else {
				slog.Error("Pipeline: assessment failed", "userID", userID, "error", err)
			}
		}
	}()
	return nil
}

// runCrisisTurn serves a bounded streaming turn with the crisis system prompt
// and the reduced token budget. No assessment sampling in crisis mode.
func (p *Pipeline) runCrisisTurn(ctx context.Context, sess *models.Session) error {
	history, err := p.contextWindow(sess.UserID)
	if err != nil {
		return err
	}

	req := models.CompletionRequest{
		SystemPrompt: prompts.CrisisSystemPrompt,
		Messages:     history,
		MaxTokens:    p.cfg.CrisisMaxTokens,
	}
	text, violated, err := p.coord.StreamReply(ctx, sess.UserID, req, true)
	if err != nil {
		slog.Error("Pipeline.runCrisisTurn: turn failed", "userID", sess.UserID, "error", err)
		return nil
	}
	if violated {
		return p.handleViolation(ctx, sess)
	}

	now := time.Now()
	if err := p.store.AppendTurn(models.Turn{UserID: sess.UserID, Role: models.RoleAssistant, Content: text, Timestamp: now}); err != nil {
		slog.Error("Pipeline.runCrisisTurn: failed to append assistant turn", "userID", sess.UserID, "error", err)
	}
	p.auditAppend(sess.UserID, models.RoleAssistant, text, now)
	return nil
}

// contextWindow loads the most recent turns, oldest first, as completion
// messages.
func (p *Pipeline) contextWindow(userID string) ([]models.CompletionMessage, error) {
	turns, err := p.store.RecentTurns(userID, p.cfg.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("Pipeline.contextWindow: failed to load turns: %w", err)
	}
	msgs := make([]models.CompletionMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, models.CompletionMessage{Role: t.Role, Content: t.Content})
	}
	return msgs, nil
}

// sendStatic delivers a fixed message, logging delivery failures.
func (p *Pipeline) sendStatic(ctx context.Context, userID string, body string) {
	if _, err := p.msgr.SendMessage(ctx, userID, body); err != nil {
		slog.Error("Pipeline.sendStatic: failed to send message", "userID", userID, "error", err)
	}
}

func (p *Pipeline) auditAppend(userID string, role models.Role, content string, ts time.Time) {
	if p.audit == nil {
		return
	}
	if err := p.audit.Append(userID, role, content, ts); err != nil {
		slog.Warn("Pipeline: audit log append failed", "userID", userID, "error", err)
	}
}
