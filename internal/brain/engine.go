package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/otomed/otomed3/internal/persona"
	"github.com/otomed/otomed3/internal/retry"
	"github.com/otomed/otomed3/pkg/llm"
)

// Options tunes an Engine. Zero values are usable.
type Options struct {
	// Model selects the tokenizer; unknown models use cl100k_base.
	Model string
	// MaxContextTokens caps the conversation text sent to the model. Zero
	// disables trimming.
	MaxContextTokens int
	Policy           *retry.Policy
	Logger           *slog.Logger
}

// Engine turns a conversation into a Decision.
type Engine struct {
	provider  llm.Provider
	persona   persona.Persona
	policy    *retry.Policy
	logger    *slog.Logger
	tokenizer *tiktoken.Tiktoken
	maxTokens int
}

// New creates an engine. The persona is copied and never changes afterwards.
func New(provider llm.Provider, p persona.Persona, opts Options) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("brain: provider is required")
	}
	e := &Engine{
		provider:  provider,
		persona:   p,
		policy:    opts.Policy,
		logger:    opts.Logger,
		maxTokens: opts.MaxContextTokens,
	}
	if e.policy == nil {
		e.policy = retry.DefaultPolicy()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.maxTokens > 0 {
		enc, err := tiktoken.EncodingForModel(opts.Model)
		if err != nil {
			// Fallback to cl100k_base for unknown models
			enc, err = tiktoken.GetEncoding("cl100k_base")
			if err != nil {
				e.logger.Warn("tokenizer unavailable, trimming by characters", "error", err)
			}
		}
		e.tokenizer = enc
	}
	return e, nil
}

// Decide never fails: provider errors and unusable output both yield the
// persona's apology as a Chat decision.
func (e *Engine) Decide(ctx context.Context, conversation string) Decision {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: e.persona.SystemPrompt},
		{Role: llm.RoleUser, Content: e.trim(conversation)},
	}

	resp, err := retry.Do(ctx, e.policy, "decide", func(ctx context.Context) (*llm.Response, error) {
		return e.provider.Complete(ctx, messages)
	})
	if err != nil {
		e.logger.Error("decision model unavailable", "error", err)
		return e.fallback()
	}

	e.logger.Debug("decision model replied", "raw", resp.Content, "total_tokens", resp.Usage.TotalTokens)

	d, ok := ParseDecision(resp.Content)
	if !ok {
		e.logger.Warn("decision model reply holds no decision", "raw", truncate(resp.Content, 300))
		return e.fallback()
	}
	e.logger.Info("decision made", "tool", d.Tool())
	return d
}

func (e *Engine) fallback() Decision {
	return Chat{Text: e.persona.Messages.Apology}
}

// trim keeps the tail of the conversation, where the user's own message is.
func (e *Engine) trim(text string) string {
	if e.maxTokens <= 0 {
		return text
	}
	if e.tokenizer == nil {
		return trimRunes(text, e.maxTokens*4)
	}
	tokens := e.tokenizer.Encode(text, nil, nil)
	if len(tokens) <= e.maxTokens {
		return text
	}
	return validTail(e.tokenizer.Decode(tokens[len(tokens)-e.maxTokens:]))
}

// validTail drops the bytes of a rune cut in half by a token boundary at the
// start of s.
func validTail(s string) string {
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[1:]
	}
	return strings.ToValidUTF8(s, "")
}

func trimRunes(text string, max int) string {
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	return string(r[len(r)-max:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
