package generate

import (
	"context"
	"fmt"
	"time"

	"forgeline/internal/config"
	"forgeline/internal/logging"

	"google.golang.org/genai"
)

// Backend produces candidate content for a prompt. Implementations must
// honor context cancellation; an empty result is treated as a failure by
// the coordinator.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiBackend generates content through the Gemini API.
type GeminiBackend struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiBackend creates the Gemini backend from its configuration.
func NewGeminiBackend(cfg config.BackendConfig) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiBackend{client: client, model: model, timeout: cfg.GetBackendTimeout()}, nil
}

// Name identifies the backend in logs and feedback records.
func (b *GeminiBackend) Name() string {
	return fmt.Sprintf("gemini:%s", b.model)
}

// Generate sends the prompt and returns the first candidate's text. Each
// call is bounded by the backend's configured timeout.
func (b *GeminiBackend) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned an empty candidate")
	}
	logging.GenerateDebug("Gemini produced %d bytes", len(text))
	return text, nil
}

// StaticBackend returns canned content. It backs the "static" provider used
// in offline runs and tests.
type StaticBackend struct {
	BackendName string
	Content     string
	Err         error
}

// Name identifies the backend.
func (b *StaticBackend) Name() string {
	if b.BackendName != "" {
		return b.BackendName
	}
	return "static"
}

// Generate returns the canned content or error.
func (b *StaticBackend) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if b.Err != nil {
		return "", b.Err
	}
	return b.Content, nil
}
