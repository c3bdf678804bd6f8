// Package translate converts image prompts into the image model's working
// language.
package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/otomed/otomed3/pkg/llm"
)

// Translator translates text into the target language code (e.g. "en").
// The source language is detected by the implementation.
type Translator interface {
	Translate(ctx context.Context, text, target string) (string, error)
}

// Identity returns text unchanged. Used when the image model understands the
// persona's language directly.
type Identity struct{}

func (Identity) Translate(ctx context.Context, text, target string) (string, error) {
	return text, nil
}

// LLM translates with a chat-completion provider.
type LLM struct {
	provider llm.Provider
}

// NewLLM returns a translator backed by provider.
func NewLLM(provider llm.Provider) *LLM {
	return &LLM{provider: provider}
}

const llmTranslatePrompt = "Translate the user's text into the language with ISO code %q. " +
	"Reply with the translation only, no quotes and no commentary."

func (t *LLM) Translate(ctx context.Context, text, target string) (string, error) {
	resp, err := t.provider.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(llmTranslatePrompt, target)},
		{Role: llm.RoleUser, Content: text},
	})
	if err != nil {
		return "", fmt.Errorf("translate via llm: %w", err)
	}
	out := strings.Trim(strings.TrimSpace(resp.Content), `"'`)
	if out == "" {
		return "", fmt.Errorf("translate via llm: empty result")
	}
	return out, nil
}

// New returns the translator named by provider: "google" (default), "llm"
// or "none".
func New(provider string, chat llm.Provider, google *Google) (Translator, error) {
	switch provider {
	case "", "google":
		if google == nil {
			google = NewGoogle("", nil)
		}
		return google, nil
	case "llm":
		if chat == nil {
			return nil, fmt.Errorf("llm translator needs a chat provider")
		}
		return NewLLM(chat), nil
	case "none":
		return Identity{}, nil
	default:
		return nil, fmt.Errorf("unknown translation provider %q", provider)
	}
}
