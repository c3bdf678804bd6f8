package dispatch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otomed/otomed3/internal/brain"
	"github.com/otomed/otomed3/internal/persona"
	"github.com/otomed/otomed3/internal/retry"
	"github.com/otomed/otomed3/internal/social"
	"github.com/otomed/otomed3/internal/social/socialtest"
	"github.com/otomed/otomed3/pkg/llm"
)

type fakeTranslator struct {
	out   string
	err   error
	calls []string
}

func (f *fakeTranslator) Translate(ctx context.Context, text, target string) (string, error) {
	f.calls = append(f.calls, text+"->"+target)
	return f.out, f.err
}

type fakeImages struct {
	img     *llm.Image
	err     error
	prompts []string
}

func (f *fakeImages) Generate(ctx context.Context, prompt string) (*llm.Image, error) {
	f.prompts = append(f.prompts, prompt)
	return f.img, f.err
}

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

func noWait() *retry.Policy {
	return &retry.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
		Sleep:        func(context.Context, time.Duration) error { return nil },
	}
}

type fixture struct {
	platform   *socialtest.Platform
	translator *fakeTranslator
	images     *fakeImages
	dir        string
	d          *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		platform:   socialtest.New("otomed"),
		translator: &fakeTranslator{out: "a cat"},
		images:     &fakeImages{img: &llm.Image{Data: pngBytes}},
		dir:        t.TempDir(),
	}
	f.d = New(f.platform, f.translator, f.images, persona.Default(), Options{
		Policy:  noWait(),
		TempDir: f.dir,
	})
	return f
}

func (f *fixture) tempFiles(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(f.dir, TempPrefix+"*"))
	require.NoError(t, err)
	return matches
}

var mention = &social.Status{ID: "900", Content: "<p>@otomed bir kedi çiz</p>"}

func TestDispatchChat(t *testing.T) {
	f := newFixture(t)

	err := f.d.Dispatch(context.Background(), brain.Chat{Text: "Merhaba!"}, mention, "ayse")
	require.NoError(t, err)

	posts := f.platform.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "@ayse Merhaba!", posts[0].Text)
	assert.Equal(t, "900", posts[0].InReplyToID)
	assert.Empty(t, posts[0].MediaIDs)
}

func TestDispatchUnknownSendsUndecided(t *testing.T) {
	f := newFixture(t)

	err := f.d.Dispatch(context.Background(), brain.Unknown{Name: "search_web"}, mention, "ayse")
	require.NoError(t, err)

	posts := f.platform.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "@ayse "+persona.Default().Messages.Undecided, posts[0].Text)
}

func TestDispatchImageScenario(t *testing.T) {
	f := newFixture(t)
	msgs := persona.Default().Messages

	err := f.d.Dispatch(context.Background(), brain.GenerateImage{Prompt: "bir kedi"}, mention, "ayse")
	require.NoError(t, err)

	assert.Equal(t, []string{"bir kedi->en"}, f.translator.calls)
	assert.Equal(t, []string{"a cat"}, f.images.prompts)

	posts := f.platform.Posts()
	require.Len(t, posts, 2)
	assert.Equal(t, "@ayse "+msgs.Thinking, posts[0].Text)
	assert.Equal(t, "@ayse "+msgs.ImageCaption, posts[1].Text)
	assert.Equal(t, "900", posts[1].InReplyToID)
	require.Len(t, posts[1].MediaIDs, 1)

	uploads := f.platform.Uploads()
	require.Len(t, uploads, 1)
	assert.True(t, uploads[0].Existed, "file should exist while uploading")
	assert.Equal(t, int64(len(pngBytes)), uploads[0].Size)
	assert.True(t, strings.HasPrefix(filepath.Base(uploads[0].Path), TempPrefix))
	assert.True(t, strings.HasSuffix(uploads[0].Path, TempSuffix))

	assert.Len(t, f.platform.Deleted(), 1, "interim reply should be deleted")
	assert.Empty(t, f.tempFiles(t), "temp image should be removed")
}

func TestDispatchImageUploadFailureCleansUp(t *testing.T) {
	f := newFixture(t)
	f.platform.UploadErr = retry.WrapStatus(http.StatusUnprocessableEntity, errors.New("bad media"))

	err := f.d.Dispatch(context.Background(), brain.GenerateImage{Prompt: "bir kedi"}, mention, "ayse")
	require.NoError(t, err)

	posts := f.platform.Posts()
	require.Len(t, posts, 2)
	assert.Equal(t, "@ayse "+persona.Default().Messages.UploadFailed, posts[1].Text)
	assert.Len(t, f.platform.Uploads(), 1, "permanent upload error is not retried")
	assert.Empty(t, f.tempFiles(t))
	assert.Len(t, f.platform.Deleted(), 1)
}

func TestDispatchImageEmptyMediaID(t *testing.T) {
	f := newFixture(t)
	f.d.platform = &emptyMediaPlatform{Platform: f.platform}

	err := f.d.Dispatch(context.Background(), brain.GenerateImage{Prompt: "bir kedi"}, mention, "ayse")
	require.NoError(t, err)

	posts := f.platform.Posts()
	require.Len(t, posts, 2)
	assert.Equal(t, "@ayse "+persona.Default().Messages.UploadFailed, posts[1].Text)
	assert.Empty(t, f.tempFiles(t))
}

type emptyMediaPlatform struct {
	*socialtest.Platform
}

func (p *emptyMediaPlatform) UploadMedia(ctx context.Context, path string) (*social.Media, error) {
	return &social.Media{}, nil
}

func TestDispatchImageGenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.images.err = errors.New("gpu on fire")

	err := f.d.Dispatch(context.Background(), brain.GenerateImage{Prompt: "bir kedi"}, mention, "ayse")
	require.NoError(t, err)

	posts := f.platform.Posts()
	require.Len(t, posts, 2)
	assert.Equal(t, "@ayse "+persona.Default().Messages.GenerateFailed, posts[1].Text)
	assert.Len(t, f.images.prompts, 3, "transient errors are retried")
	assert.Empty(t, f.platform.Uploads())
	assert.Empty(t, f.tempFiles(t))
	assert.Len(t, f.platform.Deleted(), 1)
}

func TestDispatchImageNoPayload(t *testing.T) {
	f := newFixture(t)
	f.images.img = &llm.Image{}

	require.NoError(t, f.d.Dispatch(context.Background(), brain.GenerateImage{Prompt: "x"}, mention, "ayse"))

	posts := f.platform.Posts()
	require.Len(t, posts, 2)
	assert.Equal(t, "@ayse "+persona.Default().Messages.GenerateFailed, posts[1].Text)
}

func TestDispatchImageTranslationFailure(t *testing.T) {
	f := newFixture(t)
	f.translator.err = retry.WrapStatus(http.StatusForbidden, errors.New("blocked"))

	require.NoError(t, f.d.Dispatch(context.Background(), brain.GenerateImage{Prompt: "x"}, mention, "ayse"))

	posts := f.platform.Posts()
	require.Len(t, posts, 2)
	assert.Equal(t, "@ayse "+persona.Default().Messages.GenerateFailed, posts[1].Text)
	assert.Empty(t, f.images.prompts)
}

func TestDispatchImageFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	f := newFixture(t)
	f.images.img = &llm.Image{URL: srv.URL + "/img.png"}

	require.NoError(t, f.d.Dispatch(context.Background(), brain.GenerateImage{Prompt: "x"}, mention, "ayse"))

	uploads := f.platform.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, int64(len(pngBytes)), uploads[0].Size)
	assert.Empty(t, f.tempFiles(t))
}

func TestDispatchImageFromURLTooLarge(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(bytes.Repeat([]byte{0xff}, maxImageBytes+1024))
	}))
	defer srv.Close()

	f := newFixture(t)
	f.images.img = &llm.Image{URL: srv.URL + "/huge.png"}

	require.NoError(t, f.d.Dispatch(context.Background(), brain.GenerateImage{Prompt: "x"}, mention, "ayse"))

	assert.Empty(t, f.platform.Uploads(), "oversized image must not be uploaded")
	assert.Equal(t, int32(1), requests.Load(), "oversized image is not retried")
	posts := f.platform.Posts()
	require.Len(t, posts, 2)
	assert.Equal(t, "@ayse "+persona.Default().Messages.GenerateFailed, posts[1].Text)
	assert.Empty(t, f.tempFiles(t))
}

func TestDispatchInterimFailureContinues(t *testing.T) {
	f := newFixture(t)
	thinking := persona.Default().Messages.Thinking
	f.platform.PostErr = func(p social.Post) error {
		if strings.HasSuffix(p.Text, thinking) {
			return retry.WrapStatus(http.StatusUnprocessableEntity, errors.New("rejected"))
		}
		return nil
	}

	require.NoError(t, f.d.Dispatch(context.Background(), brain.GenerateImage{Prompt: "x"}, mention, "ayse"))

	posts := f.platform.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "@ayse "+persona.Default().Messages.ImageCaption, posts[0].Text)
	assert.Empty(t, f.platform.Deleted())
}

func TestDispatchInterimDeleteFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.platform.DeleteErr = retry.WrapStatus(http.StatusNotFound, errors.New("gone"))

	assert.NoError(t, f.d.Dispatch(context.Background(), brain.GenerateImage{Prompt: "x"}, mention, "ayse"))
	assert.Empty(t, f.tempFiles(t))
}

func TestDispatchFinalPostFailureReturnsError(t *testing.T) {
	f := newFixture(t)
	f.platform.PostErr = func(p social.Post) error {
		return retry.WrapStatus(http.StatusUnprocessableEntity, errors.New("too long"))
	}

	err := f.d.Dispatch(context.Background(), brain.Chat{Text: "x"}, mention, "ayse")
	assert.Error(t, err)
}

func TestDispatchWriteTimeoutIsNotRetried(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.platform.PostErr = func(p social.Post) error {
		calls++
		return context.DeadlineExceeded
	}

	err := f.d.Dispatch(context.Background(), brain.Chat{Text: "x"}, mention, "ayse")
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "ambiguous write must not be repeated")
}

func TestDispatchMissingStatus(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.d.Dispatch(context.Background(), brain.Chat{Text: "x"}, nil, "ayse"))
	assert.Empty(t, f.platform.Posts())
}

func TestWriteTempIsUnique(t *testing.T) {
	f := newFixture(t)
	a, err := f.d.writeTemp(pngBytes)
	require.NoError(t, err)
	b, err := f.d.writeTemp(pngBytes)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	data, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
}
