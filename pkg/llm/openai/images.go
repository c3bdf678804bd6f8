package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/otomed/otomed3/pkg/llm"
)

// ImageClient implements llm.ImageGenerator against an OpenAI-compatible
// images endpoint. Width, height and steps are added to the request body for
// providers such as Together that accept them.
type ImageClient struct {
	config *llm.ImageConfig
	api    openai.Client
}

var _ llm.ImageGenerator = (*ImageClient)(nil)

// NewImageClient creates an image client for the given configuration.
func NewImageClient(config *llm.ImageConfig) *ImageClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	return &ImageClient{
		config: config,
		api:    openai.NewClient(requestOptions(config.BaseURL, config.APIKey, timeout)...),
	}
}

// Generate requests one image. Inline base64 payloads are decoded; URL
// results are returned as-is for the caller to download.
func (c *ImageClient) Generate(ctx context.Context, prompt string) (*llm.Image, error) {
	params := openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(c.config.Model),
		N:              openai.Int(1),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	}

	var extra []option.RequestOption
	if c.config.Width > 0 {
		extra = append(extra, option.WithJSONSet("width", c.config.Width))
	}
	if c.config.Height > 0 {
		extra = append(extra, option.WithJSONSet("height", c.config.Height))
	}
	if c.config.Steps > 0 {
		extra = append(extra, option.WithJSONSet("steps", c.config.Steps))
	}

	resp, err := c.api.Images.Generate(ctx, params, extra...)
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", mapError(err))
	}
	if len(resp.Data) == 0 {
		return &llm.Image{}, nil
	}

	first := resp.Data[0]
	img := &llm.Image{URL: first.URL}
	if first.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(first.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("decode image payload: %w", err)
		}
		img.Data = data
	}
	return img, nil
}
