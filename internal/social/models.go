// Package social holds the platform-neutral view of the notification feed
// that the bot engine works on.
package social

import "context"

// NotificationType is the kind of event reported in the notification feed.
type NotificationType string

const (
	NotificationMention   NotificationType = "mention"
	NotificationFavourite NotificationType = "favourite"
	NotificationReblog    NotificationType = "reblog"
	NotificationFollow    NotificationType = "follow"
)

// Account identifies the author of a status or notification.
type Account struct {
	ID   string `json:"id"`
	Acct string `json:"acct"`
}

// Status is a single post. Content is raw HTML as delivered by the platform.
type Status struct {
	ID          string  `json:"id"`
	Content     string  `json:"content"`
	InReplyToID string  `json:"in_reply_to_id,omitempty"`
	Account     Account `json:"account"`
}

// Notification is an immutable snapshot of one feed entry.
type Notification struct {
	ID      string           `json:"id"`
	Type    NotificationType `json:"type"`
	Status  *Status          `json:"status,omitempty"`
	Account Account          `json:"account"`
}

// Media is an uploaded attachment.
type Media struct {
	ID string `json:"id"`
}

// Post is an outgoing status.
type Post struct {
	Text        string
	InReplyToID string
	MediaIDs    []string
}

// Platform is the subset of the social network API the bot needs.
type Platform interface {
	VerifyCredentials(ctx context.Context) (*Account, error)
	// Notifications returns every entry newer than sinceID, usually newest
	// first. An empty sinceID means the head of the visible feed.
	Notifications(ctx context.Context, sinceID string) ([]*Notification, error)
	GetStatus(ctx context.Context, id string) (*Status, error)
	PostStatus(ctx context.Context, post Post) (*Status, error)
	UploadMedia(ctx context.Context, path string) (*Media, error)
	DeleteStatus(ctx context.Context, id string) error
}
