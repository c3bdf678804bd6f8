package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/otomed/otomed3/internal/retry"
)

// DefaultGoogleURL is the public web translation endpoint.
const DefaultGoogleURL = "https://translate.googleapis.com/translate_a/single"

// Google calls the keyless Google web translation endpoint.
type Google struct {
	endpoint   string
	httpClient *http.Client
}

// NewGoogle creates a client. Empty endpoint uses DefaultGoogleURL; nil
// client uses a 30s timeout client.
func NewGoogle(endpoint string, client *http.Client) *Google {
	if endpoint == "" {
		endpoint = DefaultGoogleURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Google{endpoint: endpoint, httpClient: client}
}

func (g *Google) Translate(ctx context.Context, text, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", "auto")
	q.Set("tl", target)
	q.Set("dt", "t")
	q.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", retry.WrapStatus(resp.StatusCode,
			fmt.Errorf("translate error (status %d): %s", resp.StatusCode, truncate(string(body), 200)))
	}

	out, err := parseGoogleResponse(body)
	if err != nil {
		return "", err
	}
	return out, nil
}

// parseGoogleResponse joins the translated segments of a response shaped
// like [[["segment","source",...],...],...].
func parseGoogleResponse(body []byte) (string, error) {
	var root []json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(root) == 0 {
		return "", fmt.Errorf("parsing response: empty payload")
	}

	var segments [][]any
	if err := json.Unmarshal(root[0], &segments); err != nil {
		return "", fmt.Errorf("parsing segments: %w", err)
	}

	var b strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		if s, ok := seg[0].(string); ok {
			b.WriteString(s)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("parsing response: no translated text")
	}
	return b.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
