package outreach

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haven-labs/mindhaven/internal/messaging"
	"github.com/haven-labs/mindhaven/internal/models"
	"github.com/haven-labs/mindhaven/internal/prompts"
	"github.com/haven-labs/mindhaven/internal/store"
)

func seedEndedChat(t *testing.T, st store.Store, userID string, endedAgo time.Duration) {
	t.Helper()
	sess, err := st.GetOrCreateSession(userID)
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	ended := time.Now().Add(-endedAgo)
	sess.LastChatEndTime = &ended
	if err := st.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
}

func TestSendFollowupsIsIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockService()
	d := NewDispatcher(st, sender, Config{})

	seedEndedChat(t, st, "user1", 4*time.Hour)

	if err := d.SendFollowups(); err != nil {
		t.Fatalf("SendFollowups failed: %v", err)
	}
	if len(sender.Sent) != 1 || sender.Sent[0].Body != prompts.FollowupMessage {
		t.Fatalf("expected one follow-up, got %+v", sender.Sent)
	}

	// Re-running the sweep before state changes must not re-notify.
	if err := d.SendFollowups(); err != nil {
		t.Fatalf("SendFollowups failed: %v", err)
	}
	if len(sender.Sent) != 1 {
		t.Errorf("follow-up sent twice: %d sends", len(sender.Sent))
	}
}

func TestSendFollowupsSkipsRecentChats(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockService()
	d := NewDispatcher(st, sender, Config{})

	seedEndedChat(t, st, "recent", 30*time.Minute)

	if err := d.SendFollowups(); err != nil {
		t.Fatalf("SendFollowups failed: %v", err)
	}
	if len(sender.Sent) != 0 {
		t.Errorf("chat ended within the threshold should not get a follow-up, got %+v", sender.Sent)
	}
}

// failingSender fails sends to one specific user and delegates the rest.
type failingSender struct {
	inner    *messaging.MockService
	failUser string
}

func (f *failingSender) ValidateAndCanonicalizeRecipient(r string) (string, error) {
	return f.inner.ValidateAndCanonicalizeRecipient(r)
}

func (f *failingSender) SendMessage(ctx context.Context, to string, body string) (models.MessageHandle, error) {
	if to == f.failUser {
		return models.MessageHandle{}, errors.New("simulated send failure")
	}
	return f.inner.SendMessage(ctx, to, body)
}

func TestSendFollowupsContinuesPastFailures(t *testing.T) {
	st := store.NewInMemoryStore()
	inner := messaging.NewMockService()
	sender := &failingSender{inner: inner, failUser: "broken"}
	d := NewDispatcher(st, sender, Config{})

	seedEndedChat(t, st, "broken", 4*time.Hour)
	seedEndedChat(t, st, "healthy", 4*time.Hour)

	if err := d.SendFollowups(); err != nil {
		t.Fatalf("SendFollowups failed: %v", err)
	}

	if len(inner.Sent) != 1 || inner.Sent[0].To != "healthy" {
		t.Errorf("expected the healthy user to still get a follow-up, got %+v", inner.Sent)
	}

	// The failed user stays a candidate for the next sweep.
	candidates, err := st.FollowupCandidates(time.Now().Add(-DefaultFollowupAfter))
	if err != nil {
		t.Fatalf("FollowupCandidates failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0] != "broken" {
		t.Errorf("expected %q to remain a candidate, got %v", "broken", candidates)
	}
}

func TestSendCheckinsPicksWorstK(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockService()
	d := NewDispatcher(st, sender, Config{WorstK: 2})

	scores := map[string]float64{"low": 2, "mid": 8, "high": 15}
	for userID, score := range scores {
		sess, _ := st.GetOrCreateSession(userID)
		sess.DepressionScore = score
		if err := st.SaveSession(sess); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	if err := d.SendCheckins(); err != nil {
		t.Fatalf("SendCheckins failed: %v", err)
	}

	if len(sender.Sent) != 2 {
		t.Fatalf("expected 2 check-ins, got %d", len(sender.Sent))
	}
	got := map[string]bool{}
	for _, s := range sender.Sent {
		got[s.To] = true
		if s.Body != prompts.CheckinMessage {
			t.Errorf("unexpected check-in body: %q", s.Body)
		}
	}
	if !got["high"] || !got["mid"] || got["low"] {
		t.Errorf("expected the two worst-scoring users, got %v", got)
	}

	// Re-running within the same day is a no-op.
	if err := d.SendCheckins(); err != nil {
		t.Fatalf("SendCheckins failed: %v", err)
	}
	if len(sender.Sent) != 2 {
		t.Errorf("check-ins re-sent within the same day: %d sends", len(sender.Sent))
	}
}

func TestSendCheckinsExcludesBanned(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockService()
	d := NewDispatcher(st, sender, Config{WorstK: 5})

	sess, _ := st.GetOrCreateSession("banned")
	sess.DepressionScore = 10
	sess.Banned = true
	if err := st.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	if err := d.SendCheckins(); err != nil {
		t.Fatalf("SendCheckins failed: %v", err)
	}
	if len(sender.Sent) != 0 {
		t.Errorf("banned users must not receive check-ins, got %+v", sender.Sent)
	}
}

func TestMarkIdleChats(t *testing.T) {
	st := store.NewInMemoryStore()
	d := NewDispatcher(st, messaging.NewMockService(), Config{})

	sess, _ := st.GetOrCreateSession("idle")
	past := time.Now().Add(-30 * time.Minute)
	sess.LastMessageTime = &past
	if err := st.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	if err := d.MarkIdleChats(); err != nil {
		t.Fatalf("MarkIdleChats failed: %v", err)
	}

	stored, _ := st.GetSession("idle")
	if stored.LastChatEndTime == nil {
		t.Error("idle session should be marked ended")
	}
}

func TestResetDailyCounts(t *testing.T) {
	st := store.NewInMemoryStore()
	d := NewDispatcher(st, messaging.NewMockService(), Config{})

	if _, err := st.IncrementDailyCount("user1"); err != nil {
		t.Fatalf("IncrementDailyCount failed: %v", err)
	}
	if err := d.ResetDailyCounts(); err != nil {
		t.Fatalf("ResetDailyCounts failed: %v", err)
	}
	sess, _ := st.GetSession("user1")
	if sess.DailyCount != 0 {
		t.Errorf("expected daily count reset to 0, got %d", sess.DailyCount)
	}
}
