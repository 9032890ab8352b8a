package app

import (
	"context"
	"testing"
	"time"

	"github.com/haven-labs/mindhaven/internal/flow"
	"github.com/haven-labs/mindhaven/internal/messaging"
	"github.com/haven-labs/mindhaven/internal/models"
	"github.com/haven-labs/mindhaven/internal/prompts"
	"github.com/haven-labs/mindhaven/internal/store"
)

// stubAI satisfies the completion interface for command tests; commands never
// reach the completion service.
type stubAI struct{}

func (stubAI) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	return `{"depression": 0, "anxiety": 0}`, nil
}

func (stubAI) Stream(ctx context.Context, req models.CompletionRequest) (<-chan models.StreamDelta, error) {
	ch := make(chan models.StreamDelta)
	close(ch)
	return ch, nil
}

func newTestLoop(t *testing.T) (*eventLoop, *store.InMemoryStore, *messaging.MockService) {
	t.Helper()
	st := store.NewInMemoryStore()
	msgr := messaging.NewMockService()
	pipeline := flow.NewPipeline(st, msgr, stubAI{}, nil, flow.Config{})
	return &eventLoop{pipeline: pipeline, msgr: msgr, store: st}, st, msgr
}

func TestStartCommandCreatesSessionAndWelcomes(t *testing.T) {
	loop, st, msgr := newTestLoop(t)

	loop.dispatch(context.Background(), models.Inbound{UserID: "user1", Text: "/start", Time: time.Now().Unix()})

	sess, _ := st.GetSession("user1")
	if sess == nil {
		t.Fatal("expected session to be created")
	}
	bodies := msgr.SentBodies()
	if len(bodies) != 1 || bodies[0] != prompts.WelcomeMessage {
		t.Errorf("expected welcome message, got %v", bodies)
	}
}

func TestHelpCommand(t *testing.T) {
	loop, _, msgr := newTestLoop(t)

	loop.dispatch(context.Background(), models.Inbound{UserID: "user1", Text: "/help"})

	bodies := msgr.SentBodies()
	if len(bodies) != 1 || bodies[0] != prompts.HelpMessage {
		t.Errorf("expected help message, got %v", bodies)
	}
}

func TestResetClearsCrisisState(t *testing.T) {
	loop, st, msgr := newTestLoop(t)

	sess, _ := st.GetOrCreateSession("user1")
	sess.InCrisis = true
	if err := st.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	loop.dispatch(context.Background(), models.Inbound{UserID: "user1", Text: "/reset"})

	stored, _ := st.GetSession("user1")
	if stored.InCrisis {
		t.Error("reset should clear the crisis flag")
	}
	bodies := msgr.SentBodies()
	if len(bodies) != 1 || bodies[0] != prompts.ResetMessage {
		t.Errorf("expected reset confirmation, got %v", bodies)
	}
}

func TestResetDoesNotLiftBan(t *testing.T) {
	loop, st, msgr := newTestLoop(t)

	sess, _ := st.GetOrCreateSession("user1")
	sess.Banned = true
	sess.InCrisis = true
	if err := st.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	loop.dispatch(context.Background(), models.Inbound{UserID: "user1", Text: "/reset"})

	stored, _ := st.GetSession("user1")
	if !stored.Banned {
		t.Error("reset must never lift a ban")
	}
	bodies := msgr.SentBodies()
	if len(bodies) != 1 || bodies[0] != prompts.BannedMessage {
		t.Errorf("expected denial, got %v", bodies)
	}
}

func TestUnknownCommandFallsBackToHelp(t *testing.T) {
	loop, _, msgr := newTestLoop(t)

	loop.dispatch(context.Background(), models.Inbound{UserID: "user1", Text: "/frobnicate now"})

	bodies := msgr.SentBodies()
	if len(bodies) != 1 || bodies[0] != prompts.HelpMessage {
		t.Errorf("expected help fallback, got %v", bodies)
	}
}

func TestBuildStoreDefaultsToMemory(t *testing.T) {
	st, err := buildStore(nil)
	if err != nil {
		t.Fatalf("buildStore failed: %v", err)
	}
	if _, ok := st.(*store.InMemoryStore); !ok {
		t.Errorf("expected in-memory store for empty DSN, got %T", st)
	}
}
