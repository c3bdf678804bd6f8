// Package mastodon adapts github.com/mattn/go-mastodon to social.Platform.
package mastodon

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomastodon "github.com/mattn/go-mastodon"

	"github.com/otomed/otomed3/internal/retry"
	"github.com/otomed/otomed3/internal/social"
)

// Config holds the connection settings for one bot account.
type Config struct {
	Server      string
	AccessToken string
	// Visibility of posted replies; empty uses the account default.
	Visibility string
	Timeout    time.Duration
	UserAgent  string
}

const (
	// pageLimit is the largest page Mastodon serves for notifications.
	pageLimit = 40
	maxPages  = 10
)

// Client implements social.Platform for a Mastodon-compatible server.
type Client struct {
	api        *gomastodon.Client
	visibility string
}

var _ social.Platform = (*Client)(nil)

// New creates a client. No network traffic happens until the first call.
func New(cfg Config) *Client {
	api := gomastodon.NewClient(&gomastodon.Config{
		Server:      cfg.Server,
		AccessToken: cfg.AccessToken,
	})
	api.Timeout = cfg.Timeout
	if api.Timeout == 0 {
		api.Timeout = 30 * time.Second
	}
	if cfg.UserAgent != "" {
		api.UserAgent = cfg.UserAgent
	}
	return &Client{api: api, visibility: cfg.Visibility}
}

func (c *Client) VerifyCredentials(ctx context.Context) (*social.Account, error) {
	acct, err := c.api.GetAccountCurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify credentials: %w", mapError(err))
	}
	return convertAccount(*acct), nil
}

// Notifications drains every notification newer than sinceID by walking
// upwards with min_id, pageLimit entries at a time. At most maxPages pages are
// read per call; the oldest entries come first, so anything beyond the cap is
// still above the caller's next cursor. An empty sinceID returns only the
// newest page.
func (c *Client) Notifications(ctx context.Context, sinceID string) ([]*social.Notification, error) {
	if sinceID == "" {
		return c.notificationPage(ctx, &gomastodon.Pagination{Limit: pageLimit}, "")
	}

	var out []*social.Notification
	minID := sinceID
	for page := 0; page < maxPages; page++ {
		notes, err := c.notificationPage(ctx, &gomastodon.Pagination{MinID: gomastodon.ID(minID), Limit: pageLimit}, minID)
		if err != nil {
			return nil, err
		}
		if len(notes) == 0 {
			break
		}
		out = append(out, notes...)
		next := social.MaxID(notes)
		if next == "" {
			break
		}
		minID = next
	}
	return out, nil
}

// notificationPage fetches one page and drops entries at or below floor.
func (c *Client) notificationPage(ctx context.Context, pg *gomastodon.Pagination, floor string) ([]*social.Notification, error) {
	notes, err := c.api.GetNotifications(ctx, pg)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", mapError(err))
	}
	out := make([]*social.Notification, 0, len(notes))
	for _, n := range notes {
		if n == nil {
			continue
		}
		if floor != "" && social.CompareIDs(string(n.ID), floor) <= 0 {
			continue
		}
		out = append(out, convertNotification(n))
	}
	return out, nil
}

func (c *Client) GetStatus(ctx context.Context, id string) (*social.Status, error) {
	st, err := c.api.GetStatus(ctx, gomastodon.ID(id))
	if err != nil {
		return nil, fmt.Errorf("get status %s: %w", id, mapError(err))
	}
	return convertStatus(st), nil
}

func (c *Client) PostStatus(ctx context.Context, post social.Post) (*social.Status, error) {
	toot := &gomastodon.Toot{
		Status:      post.Text,
		InReplyToID: gomastodon.ID(post.InReplyToID),
		Visibility:  c.visibility,
	}
	for _, id := range post.MediaIDs {
		toot.MediaIDs = append(toot.MediaIDs, gomastodon.ID(id))
	}
	st, err := c.api.PostStatus(ctx, toot)
	if err != nil {
		return nil, fmt.Errorf("post status: %w", mapError(err))
	}
	return convertStatus(st), nil
}

func (c *Client) UploadMedia(ctx context.Context, path string) (*social.Media, error) {
	att, err := c.api.UploadMedia(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", mapError(err))
	}
	return &social.Media{ID: string(att.ID)}, nil
}

func (c *Client) DeleteStatus(ctx context.Context, id string) error {
	if err := c.api.DeleteStatus(ctx, gomastodon.ID(id)); err != nil {
		return fmt.Errorf("delete status %s: %w", id, mapError(err))
	}
	return nil
}

// mapError exposes the HTTP status of API failures to the retry classifier.
func mapError(err error) error {
	var apiErr *gomastodon.APIError
	if errors.As(err, &apiErr) {
		return retry.WrapStatus(apiErr.StatusCode, err)
	}
	return err
}

func convertAccount(a gomastodon.Account) *social.Account {
	return &social.Account{ID: string(a.ID), Acct: a.Acct}
}

func convertStatus(st *gomastodon.Status) *social.Status {
	if st == nil {
		return nil
	}
	out := &social.Status{
		ID:      string(st.ID),
		Content: st.Content,
		Account: *convertAccount(st.Account),
	}
	if st.InReplyToID != nil {
		out.InReplyToID = fmt.Sprint(st.InReplyToID)
	}
	return out
}

func convertNotification(n *gomastodon.Notification) *social.Notification {
	return &social.Notification{
		ID:      string(n.ID),
		Type:    social.NotificationType(n.Type),
		Status:  convertStatus(n.Status),
		Account: *convertAccount(n.Account),
	}
}
