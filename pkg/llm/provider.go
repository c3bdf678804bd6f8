package llm

import (
	"context"
	"time"
)

// Provider defines the interface for chat-completion backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message) (*Response, error)
}

// ImageGenerator turns a text prompt into a single image.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (*Image, error)
}

// Config holds common configuration for chat providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// ImageConfig holds configuration for image providers. Width, Height and
// Steps are sent as provider-specific request fields.
type ImageConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Width   int
	Height  int
	Steps   int
	Timeout time.Duration
}
