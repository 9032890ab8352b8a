package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haven-labs/mindhaven/internal/genai"
	"github.com/haven-labs/mindhaven/internal/models"
	"github.com/haven-labs/mindhaven/internal/prompts"
	"github.com/haven-labs/mindhaven/internal/store"
)

// Sampler runs the wellbeing assessment after a successful normal-mode turn.
// It is fire-and-forget from the pipeline's point of view: the user-visible
// reply has already been delivered, and any failure here leaves the previous
// scores unchanged.
type Sampler struct {
	ai    genai.ClientInterface
	store store.Store
	cfg   Config
}

// NewSampler creates a Sampler over the given completion client and store.
func NewSampler(ai genai.ClientInterface, st store.Store, cfg Config) *Sampler {
	return &Sampler{ai: ai, store: st, cfg: cfg.Normalize()}
}

// assessmentPayload is the structured output the assessment prompt requests.
type assessmentPayload struct {
	Depression float64 `json:"depression"`
	Anxiety    float64 `json:"anxiety"`
}

// Assess submits the turn history plus the new assistant reply for scoring
// and persists the parsed scores. Returns the error for logging; callers
// treat any failure as non-fatal.
func (s *Sampler) Assess(ctx context.Context, userID string, history []models.CompletionMessage, reply string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AssessTimeout)
	defer cancel()

	var transcript strings.Builder
	for _, m := range history {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&transcript, "%s: %s\n", models.RoleAssistant, reply)

	req := models.CompletionRequest{
		SystemPrompt: prompts.AssessmentSystemPrompt,
		Messages: []models.CompletionMessage{
			{Role: models.RoleUser, Content: transcript.String()},
		},
	}

	raw, err := s.ai.Complete(ctx, req)
	if err != nil {
		return fmt.Errorf("Sampler.Assess: assessment request failed: %w", err)
	}

	payload, err := parseAssessment(raw)
	if err != nil {
		return err
	}

	sess, err := s.store.GetOrCreateSession(userID)
	if err != nil {
		return fmt.Errorf("Sampler.Assess: failed to load session: %w", err)
	}
	sess.DepressionScore = payload.Depression
	sess.AnxietyScore = payload.Anxiety
	if err := s.store.SaveSession(sess); err != nil {
		return fmt.Errorf("Sampler.Assess: failed to persist scores: %w", err)
	}
	slog.Debug("Sampler.Assess: scores persisted", "userID", userID, "depression", payload.Depression, "anxiety", payload.Anxiety)
	return nil
}

// parseAssessment extracts the JSON object from the model output. Models
// sometimes wrap the payload in prose or code fences, so parsing starts at
// the first brace and ends at the last.
func parseAssessment(raw string) (assessmentPayload, error) {
	var payload assessmentPayload
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return payload, fmt.Errorf("%w: no JSON object in output", models.ErrAssessmentParse)
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return payload, fmt.Errorf("%w: %s", models.ErrAssessmentParse, err.Error())
	}
	payload.Depression = clampScore(payload.Depression)
	payload.Anxiety = clampScore(payload.Anxiety)
	return payload, nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
