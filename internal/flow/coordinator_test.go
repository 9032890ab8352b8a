package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haven-labs/mindhaven/internal/messaging"
	"github.com/haven-labs/mindhaven/internal/models"
	"github.com/haven-labs/mindhaven/internal/prompts"
)

func TestStreamReplyRendersIncrementally(t *testing.T) {
	msgr := messaging.NewMockService()
	ai := &fakeAI{scripts: [][]models.StreamDelta{textDeltas("你", "", "好", "吗")}}
	coord := NewCoordinator(msgr, ai, testConfig())

	text, violated, err := coord.StreamReply(context.Background(), "user1", models.CompletionRequest{}, false)
	if err != nil {
		t.Fatalf("StreamReply failed: %v", err)
	}
	if violated {
		t.Error("unexpected violation flag")
	}
	if text != "你好吗" {
		t.Errorf("expected final text %q, got %q", "你好吗", text)
	}

	// One placeholder send, then one edit per actual content change. The
	// empty fragment must not produce a redundant edit.
	if len(msgr.Sent) != 1 || msgr.Sent[0].Body != prompts.ThinkingPlaceholder {
		t.Errorf("expected one placeholder send, got %+v", msgr.Sent)
	}
	wantEdits := []string{"你", "你好", "你好吗"}
	if len(msgr.Edits) != len(wantEdits) {
		t.Fatalf("expected %d edits, got %d: %+v", len(wantEdits), len(msgr.Edits), msgr.Edits)
	}
	for i, want := range wantEdits {
		if msgr.Edits[i].Body != want {
			t.Errorf("edit %d: expected %q, got %q", i, want, msgr.Edits[i].Body)
		}
	}
	// Never two consecutive renders with identical text.
	for i := 1; i < len(msgr.Edits); i++ {
		if msgr.Edits[i].Body == msgr.Edits[i-1].Body {
			t.Errorf("duplicate consecutive render: %q", msgr.Edits[i].Body)
		}
	}
}

func TestStreamReplyEmptyOutputFallsBack(t *testing.T) {
	msgr := messaging.NewMockService()
	ai := &fakeAI{scripts: [][]models.StreamDelta{textDeltas("  ", "\n")}}
	coord := NewCoordinator(msgr, ai, testConfig())

	_, _, err := coord.StreamReply(context.Background(), "user1", models.CompletionRequest{}, false)
	if !errors.Is(err, models.ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}

	if len(msgr.Deleted) != 1 {
		t.Errorf("expected the draft to be deleted, got %d deletions", len(msgr.Deleted))
	}
	bodies := msgr.SentBodies()
	if len(bodies) != 2 || bodies[1] != prompts.APIErrorMessage {
		t.Errorf("expected exactly one fallback after the placeholder, got %v", bodies)
	}
}

func TestStreamReplyCrisisFallbackIncludesResources(t *testing.T) {
	msgr := messaging.NewMockService()
	ai := &fakeAI{scripts: [][]models.StreamDelta{{}}}
	coord := NewCoordinator(msgr, ai, testConfig())

	_, _, err := coord.StreamReply(context.Background(), "user1", models.CompletionRequest{}, true)
	if !errors.Is(err, models.ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}

	bodies := msgr.SentBodies()
	last := bodies[len(bodies)-1]
	if !strings.Contains(last, prompts.APIErrorMessage) || !strings.Contains(last, prompts.CrisisResources) {
		t.Errorf("crisis fallback should carry the error text and the resources, got %q", last)
	}
}

func TestStreamReplyUpstreamErrorAborts(t *testing.T) {
	msgr := messaging.NewMockService()
	ai := &fakeAI{scripts: [][]models.StreamDelta{{
		{Text: "部分"},
		{Err: models.ErrUpstreamService},
	}}}
	coord := NewCoordinator(msgr, ai, testConfig())

	_, _, err := coord.StreamReply(context.Background(), "user1", models.CompletionRequest{}, false)
	if !errors.Is(err, models.ErrUpstreamService) {
		t.Fatalf("expected ErrUpstreamService, got %v", err)
	}
	if len(msgr.Deleted) != 1 {
		t.Errorf("expected partial draft to be deleted, got %d deletions", len(msgr.Deleted))
	}
	bodies := msgr.SentBodies()
	if bodies[len(bodies)-1] != prompts.APIErrorMessage {
		t.Errorf("expected fallback as terminal message, got %v", bodies)
	}
}

func TestStreamReplyTimesOut(t *testing.T) {
	msgr := messaging.NewMockService()
	ai := &fakeAI{
		scripts:     [][]models.StreamDelta{textDeltas("a", "b", "c", "d")},
		streamDelay: 100 * time.Millisecond,
	}
	cfg := testConfig()
	cfg.ReplyTimeout = 150 * time.Millisecond
	coord := NewCoordinator(msgr, ai, cfg)

	start := time.Now()
	_, _, err := coord.StreamReply(context.Background(), "user1", models.CompletionRequest{}, false)
	if !errors.Is(err, models.ErrUpstreamService) {
		t.Fatalf("expected ErrUpstreamService on timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
	if len(msgr.Deleted) != 1 {
		t.Errorf("expected draft deletion on timeout, got %d", len(msgr.Deleted))
	}
}

func TestStreamReplyHeartbeatRunsAndStops(t *testing.T) {
	msgr := messaging.NewMockService()
	ai := &fakeAI{
		scripts:     [][]models.StreamDelta{textDeltas("你", "好")},
		streamDelay: 40 * time.Millisecond,
	}
	coord := NewCoordinator(msgr, ai, testConfig())

	_, _, err := coord.StreamReply(context.Background(), "user1", models.CompletionRequest{}, false)
	if err != nil {
		t.Fatalf("StreamReply failed: %v", err)
	}

	// Let any tick already in flight at cancellation land first.
	time.Sleep(20 * time.Millisecond)
	typed := len(msgr.Typing)
	if typed == 0 {
		t.Error("expected typing signals while generation was in flight")
	}

	// The heartbeat must not outlive the turn.
	time.Sleep(50 * time.Millisecond)
	if len(msgr.Typing) != typed {
		t.Errorf("heartbeat kept running after the turn: %d -> %d signals", typed, len(msgr.Typing))
	}
}

func TestStreamReplyDetectsViolationMarker(t *testing.T) {
	msgr := messaging.NewMockService()
	ai := &fakeAI{scripts: [][]models.StreamDelta{textDeltas(models.ViolationMarker + " 无法继续这个话题。")}}
	coord := NewCoordinator(msgr, ai, testConfig())

	text, violated, err := coord.StreamReply(context.Background(), "user1", models.CompletionRequest{}, false)
	if err != nil {
		t.Fatalf("StreamReply failed: %v", err)
	}
	if !violated {
		t.Error("expected violation flag")
	}
	// The flagged text is still rendered for the user.
	if !strings.Contains(msgr.LastEditBody(), models.ViolationMarker) {
		t.Errorf("flagged text should be rendered, last edit: %q", msgr.LastEditBody())
	}
	if !strings.Contains(text, models.ViolationMarker) {
		t.Errorf("expected marker in returned text, got %q", text)
	}
}

func TestSendWithRetryRecoversOnce(t *testing.T) {
	msgr := messaging.NewMockService()
	ai := &fakeAI{scripts: [][]models.StreamDelta{textDeltas("好")}}
	coord := NewCoordinator(msgr, ai, testConfig())

	msgr.SendErr = errors.New("socket closed")
	if _, err := coord.sendWithRetry(context.Background(), "user1", "hello"); !errors.Is(err, models.ErrTransport) {
		t.Errorf("expected ErrTransport after two failures, got %v", err)
	}

	msgr.SendErr = nil
	if _, err := coord.sendWithRetry(context.Background(), "user1", "hello"); err != nil {
		t.Errorf("expected success, got %v", err)
	}
}

func TestStreamReplyFinalRenderRetriesOnce(t *testing.T) {
	msgr := messaging.NewMockService()
	// Both mid-stream edits fail, as does the final render's first attempt;
	// the single retry must still land the full text.
	msgr.EditFailures = 3
	ai := &fakeAI{scripts: [][]models.StreamDelta{textDeltas("答", "案")}}
	coord := NewCoordinator(msgr, ai, testConfig())

	text, _, err := coord.StreamReply(context.Background(), "user1", models.CompletionRequest{}, false)
	if err != nil {
		t.Fatalf("StreamReply failed: %v", err)
	}
	if text != "答案" {
		t.Errorf("expected final text %q, got %q", "答案", text)
	}
	if len(msgr.Edits) != 1 || msgr.Edits[0].Body != "答案" {
		t.Errorf("expected the retried final render to land the full text, got %+v", msgr.Edits)
	}
}

func TestStreamReplyFinalRenderGivesUpAfterOneRetry(t *testing.T) {
	msgr := messaging.NewMockService()
	msgr.EditFailures = 4
	ai := &fakeAI{scripts: [][]models.StreamDelta{textDeltas("答", "案")}}
	coord := NewCoordinator(msgr, ai, testConfig())

	// A stale draft is not a turn failure: the full reply is still returned
	// for persistence and no fallback message is sent.
	text, _, err := coord.StreamReply(context.Background(), "user1", models.CompletionRequest{}, false)
	if err != nil {
		t.Fatalf("StreamReply failed: %v", err)
	}
	if text != "答案" {
		t.Errorf("expected final text %q, got %q", "答案", text)
	}
	if len(msgr.Edits) != 0 {
		t.Errorf("expected no successful edits, got %+v", msgr.Edits)
	}
	if len(msgr.Deleted) != 0 {
		t.Errorf("draft must not be deleted on a render-only failure, got %+v", msgr.Deleted)
	}
	if got := msgr.SentBodies(); len(got) != 1 {
		t.Errorf("expected only the placeholder send, got %v", got)
	}
}
