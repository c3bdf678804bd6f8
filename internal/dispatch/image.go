package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/otomed/otomed3/internal/retry"
	"github.com/otomed/otomed3/internal/social"
	"github.com/otomed/otomed3/pkg/llm"
)

const maxImageBytes = 20 << 20

// generateImage posts an interim reply, produces the image and replies with
// it (or with a failure message), then removes the interim reply.
func (d *Dispatcher) generateImage(ctx context.Context, logger *slog.Logger, prompt string, status *social.Status, author string) error {
	interim, err := d.post(ctx, social.Post{
		Text:        fmt.Sprintf("@%s %s", author, d.persona.Messages.Thinking),
		InReplyToID: status.ID,
	})
	if err != nil {
		logger.Warn("interim reply failed", "error", err)
	}
	if interim != nil && interim.ID != "" {
		defer d.deleteInterim(ctx, logger, interim.ID)
	}

	text, mediaIDs := d.renderImage(ctx, logger, prompt)
	return d.reply(ctx, status, author, text, mediaIDs)
}

// renderImage returns the reply text and, on success, the uploaded media id.
func (d *Dispatcher) renderImage(ctx context.Context, logger *slog.Logger, prompt string) (string, []string) {
	msgs := d.persona.Messages

	translated, err := retry.Do(ctx, d.policy, "translate", func(ctx context.Context) (string, error) {
		return d.translator.Translate(ctx, prompt, d.persona.ImageTarget())
	})
	if err != nil || translated == "" {
		logger.Error("prompt translation failed", "error", err)
		return msgs.GenerateFailed, nil
	}
	logger.Info("generating image", "prompt", prompt, "translated", translated)

	img, err := retry.Do(ctx, d.policy, "generate_image", func(ctx context.Context) (*llm.Image, error) {
		return d.images.Generate(ctx, translated)
	})
	if err != nil || img.Empty() {
		logger.Error("image generation failed", "error", err)
		return msgs.GenerateFailed, nil
	}

	data, err := d.imageBytes(ctx, img)
	if err != nil || len(data) == 0 {
		logger.Error("image download failed", "error", err)
		return msgs.GenerateFailed, nil
	}

	path, err := d.writeTemp(data)
	if err != nil {
		logger.Error("write temp image failed", "error", err)
		return msgs.GenerateFailed, nil
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("remove temp image failed", "path", path, "error", err)
		}
	}()

	media, err := retry.Do(ctx, d.policy, "upload_media", func(ctx context.Context) (*social.Media, error) {
		return d.platform.UploadMedia(ctx, path)
	})
	if err != nil || media == nil || media.ID == "" {
		logger.Error("media upload failed", "error", err)
		return msgs.UploadFailed, nil
	}
	return msgs.ImageCaption, []string{media.ID}
}

func (d *Dispatcher) imageBytes(ctx context.Context, img *llm.Image) ([]byte, error) {
	if len(img.Data) > 0 {
		return img.Data, nil
	}
	return retry.Do(ctx, d.policy, "fetch_image", func(ctx context.Context) ([]byte, error) {
		return d.fetch(ctx, img.URL)
	})
}

func (d *Dispatcher) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w: %w", retry.ErrPermanent, err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, retry.WrapStatus(resp.StatusCode, fmt.Errorf("fetching image: status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("reading image: %w: larger than %d bytes", retry.ErrPermanent, maxImageBytes)
	}
	return data, nil
}

func (d *Dispatcher) writeTemp(data []byte) (string, error) {
	if err := os.MkdirAll(d.tempDir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	path := filepath.Join(d.tempDir, TempPrefix+uuid.NewString()+TempSuffix)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write temp image: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close temp image: %w", err)
	}
	return path, nil
}

// deleteInterim runs even when ctx was canceled mid-generation.
func (d *Dispatcher) deleteInterim(ctx context.Context, logger *slog.Logger, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	err := d.policy.Execute(ctx, "delete_status", func(ctx context.Context) error {
		return d.platform.DeleteStatus(ctx, id)
	})
	if err != nil {
		logger.Warn("interim reply not deleted", "interim_id", id, "error", err)
	}
}
