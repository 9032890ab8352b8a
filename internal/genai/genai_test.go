package genai

import (
	"testing"

	"github.com/haven-labs/mindhaven/internal/models"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when no API key is configured")
	}
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.model != DefaultModel {
		t.Errorf("model = %q, want default %q", c.model, DefaultModel)
	}
	if c.temperature != DefaultTemperature {
		t.Errorf("temperature = %v, want default %v", c.temperature, DefaultTemperature)
	}
}

func TestBuildParams(t *testing.T) {
	c, err := NewClient(WithAPIKey("test-key"), WithModel("test-model"), WithTemperature(0.2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := models.CompletionRequest{
		SystemPrompt: "sys",
		Messages: []models.CompletionMessage{
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello"},
			{Role: models.RoleUser, Content: "how are you"},
		},
		MaxTokens: 100,
	}
	params := c.buildParams(req)

	if string(params.Model) != "test-model" {
		t.Errorf("model = %q, want test-model", params.Model)
	}
	// system prompt + 3 history messages
	if len(params.Messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("first message is not a system message")
	}
	if params.Messages[1].OfUser == nil || params.Messages[2].OfAssistant == nil {
		t.Error("history roles not mapped to user/assistant params")
	}
	if !params.MaxTokens.Valid() || params.MaxTokens.Value != 100 {
		t.Errorf("maxTokens = %v (set=%v), want 100", params.MaxTokens.Value, params.MaxTokens.Valid())
	}
}

func TestBuildParamsNoTokenCap(t *testing.T) {
	c, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := c.buildParams(models.CompletionRequest{
		Messages: []models.CompletionMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if params.MaxTokens.Valid() {
		t.Error("maxTokens should be unset when the request has no budget")
	}
}
