// Package dispatch carries out a decision against the social platform.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/otomed/otomed3/internal/brain"
	"github.com/otomed/otomed3/internal/persona"
	"github.com/otomed/otomed3/internal/retry"
	"github.com/otomed/otomed3/internal/social"
	"github.com/otomed/otomed3/internal/translate"
	"github.com/otomed/otomed3/pkg/llm"
)

// TempPrefix and TempSuffix bracket the names of generated image files.
const (
	TempPrefix = "otomed-"
	TempSuffix = ".png"
)

// Options tunes a Dispatcher. Zero values are usable.
type Options struct {
	// Policy wraps idempotent calls (translate, generate, upload, delete).
	Policy *retry.Policy
	// WritePolicy wraps status posts. Defaults to Policy with ClassifyWrite.
	WritePolicy *retry.Policy
	// TempDir holds generated images until upload. Defaults to os.TempDir().
	TempDir string
	// HTTPClient downloads images returned by URL.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Dispatcher executes decisions. It holds no per-mention state.
type Dispatcher struct {
	platform    social.Platform
	translator  translate.Translator
	images      llm.ImageGenerator
	persona     persona.Persona
	policy      *retry.Policy
	writePolicy *retry.Policy
	tempDir     string
	httpClient  *http.Client
	logger      *slog.Logger
}

// New creates a dispatcher.
func New(platform social.Platform, translator translate.Translator, images llm.ImageGenerator, p persona.Persona, opts Options) *Dispatcher {
	d := &Dispatcher{
		platform:    platform,
		translator:  translator,
		images:      images,
		persona:     p,
		policy:      opts.Policy,
		writePolicy: opts.WritePolicy,
		tempDir:     opts.TempDir,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
	}
	if d.policy == nil {
		d.policy = retry.DefaultPolicy()
	}
	if d.writePolicy == nil {
		d.writePolicy = d.policy.WithClassifier(retry.ClassifyWrite)
	}
	if d.tempDir == "" {
		d.tempDir = os.TempDir()
	}
	if d.httpClient == nil {
		d.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.translator == nil {
		d.translator = translate.Identity{}
	}
	return d
}

// TempDir returns the directory generated images are written to.
func (d *Dispatcher) TempDir() string {
	return d.tempDir
}

// Dispatch performs decision as a reply to status from author. The error is
// non-nil only when the final reply could not be posted.
func (d *Dispatcher) Dispatch(ctx context.Context, decision brain.Decision, status *social.Status, author string) error {
	if status == nil || status.ID == "" {
		return fmt.Errorf("dispatch: missing status")
	}
	logger := d.logger.With("status_id", status.ID, "author", author)

	switch dec := decision.(type) {
	case brain.Chat:
		return d.reply(ctx, status, author, dec.Text, nil)
	case brain.GenerateImage:
		return d.generateImage(ctx, logger, dec.Prompt, status, author)
	case brain.Unknown:
		logger.Warn("undecided tool, sending default reply", "tool", dec.Name)
		return d.reply(ctx, status, author, d.persona.Messages.Undecided, nil)
	default:
		logger.Warn("no decision, sending default reply")
		return d.reply(ctx, status, author, d.persona.Messages.Undecided, nil)
	}
}

func (d *Dispatcher) reply(ctx context.Context, status *social.Status, author, text string, mediaIDs []string) error {
	_, err := d.post(ctx, social.Post{
		Text:        fmt.Sprintf("@%s %s", author, text),
		InReplyToID: status.ID,
		MediaIDs:    mediaIDs,
	})
	if err != nil {
		return fmt.Errorf("post reply to %s: %w", status.ID, err)
	}
	return nil
}

func (d *Dispatcher) post(ctx context.Context, p social.Post) (*social.Status, error) {
	return retry.Do(ctx, d.writePolicy, "post_status", func(ctx context.Context) (*social.Status, error) {
		return d.platform.PostStatus(ctx, p)
	})
}
