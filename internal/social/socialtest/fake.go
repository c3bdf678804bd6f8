// Package socialtest provides an in-memory social.Platform for tests.
package socialtest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/otomed/otomed3/internal/social"
)

// Platform records every write and serves notifications from Feed.
type Platform struct {
	mu sync.Mutex

	Self     social.Account
	Feed     []*social.Notification
	Statuses map[string]*social.Status

	// Error hooks; nil means success.
	VerifyErr        error
	NotificationsErr error
	GetStatusErr     error
	PostErr          func(p social.Post) error
	UploadErr        error
	DeleteErr        error
	// UploadID overrides the media id returned by UploadMedia; "" keeps the default.
	UploadID string

	posts    []social.Post
	deleted  []string
	uploads  []Upload
	sinceIDs []string
	nextID   int
}

// Upload records one UploadMedia call.
type Upload struct {
	Path string
	// Existed reports whether the file was on disk during the call.
	Existed bool
	Size    int64
}

// New returns a fake logged in as acct.
func New(acct string) *Platform {
	return &Platform{
		Self:     social.Account{ID: "1", Acct: acct},
		Statuses: map[string]*social.Status{},
		nextID:   1000,
	}
}

var _ social.Platform = (*Platform)(nil)

func (p *Platform) VerifyCredentials(ctx context.Context) (*social.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.VerifyErr != nil {
		return nil, p.VerifyErr
	}
	acct := p.Self
	return &acct, nil
}

// Notifications returns feed entries newer than sinceID, newest first.
func (p *Platform) Notifications(ctx context.Context, sinceID string) ([]*social.Notification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinceIDs = append(p.sinceIDs, sinceID)
	if p.NotificationsErr != nil {
		return nil, p.NotificationsErr
	}

	var out []*social.Notification
	for _, n := range p.Feed {
		// nil entries are passed through unchanged.
		if n == nil || sinceID == "" || social.CompareIDs(n.ID, sinceID) > 0 {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		switch {
		case out[i] == nil:
			return false
		case out[j] == nil:
			return true
		default:
			return social.CompareIDs(out[i].ID, out[j].ID) > 0
		}
	})
	return out, nil
}

func (p *Platform) GetStatus(ctx context.Context, id string) (*social.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.GetStatusErr != nil {
		return nil, p.GetStatusErr
	}
	st, ok := p.Statuses[id]
	if !ok {
		return nil, fmt.Errorf("status %s not found", id)
	}
	return st, nil
}

func (p *Platform) PostStatus(ctx context.Context, post social.Post) (*social.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PostErr != nil {
		if err := p.PostErr(post); err != nil {
			return nil, err
		}
	}
	p.posts = append(p.posts, post)
	p.nextID++
	st := &social.Status{
		ID:          fmt.Sprint(p.nextID),
		Content:     post.Text,
		InReplyToID: post.InReplyToID,
		Account:     p.Self,
	}
	p.Statuses[st.ID] = st
	return st, nil
}

func (p *Platform) UploadMedia(ctx context.Context, path string) (*social.Media, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	up := Upload{Path: path}
	if fi, err := os.Stat(path); err == nil {
		up.Existed = true
		up.Size = fi.Size()
	}
	p.uploads = append(p.uploads, up)
	if p.UploadErr != nil {
		return nil, p.UploadErr
	}
	id := p.UploadID
	if id == "" {
		p.nextID++
		id = fmt.Sprintf("m%d", p.nextID)
	}
	return &social.Media{ID: id}, nil
}

func (p *Platform) DeleteStatus(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DeleteErr != nil {
		return p.DeleteErr
	}
	p.deleted = append(p.deleted, id)
	delete(p.Statuses, id)
	return nil
}

// Posts returns a copy of every successful post, in order.
func (p *Platform) Posts() []social.Post {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]social.Post(nil), p.posts...)
}

// Deleted returns the ids passed to DeleteStatus.
func (p *Platform) Deleted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

// Uploads returns every UploadMedia call.
func (p *Platform) Uploads() []Upload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Upload(nil), p.uploads...)
}

// SinceIDs returns the cursor passed to each Notifications call.
func (p *Platform) SinceIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sinceIDs...)
}

// Mention builds a mention notification from acct with the given ids.
func Mention(id, statusID, acct, html string) *social.Notification {
	author := social.Account{ID: "u-" + acct, Acct: acct}
	return &social.Notification{
		ID:      id,
		Type:    social.NotificationMention,
		Account: author,
		Status:  &social.Status{ID: statusID, Content: html, Account: author},
	}
}
