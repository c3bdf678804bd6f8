package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/otomed/otomed3/internal/alert"
	"github.com/otomed/otomed3/internal/brain"
	"github.com/otomed/otomed3/internal/config"
	"github.com/otomed/otomed3/internal/cursor"
	"github.com/otomed/otomed3/internal/dispatch"
	"github.com/otomed/otomed3/internal/persona"
	"github.com/otomed/otomed3/internal/poller"
	"github.com/otomed/otomed3/internal/retry"
	"github.com/otomed/otomed3/internal/social/mastodon"
	"github.com/otomed/otomed3/internal/translate"
	"github.com/otomed/otomed3/pkg/llm"
	"github.com/otomed/otomed3/pkg/llm/openai"
)

// app holds the wired bot for one process.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	cursor     cursor.Store
	dispatcher *dispatch.Dispatcher
	poller     *poller.Poller
	alerter    *alert.Alerter
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := persona.Default()
	if cfg.PersonaFile != "" {
		loaded, err := persona.Load(cfg.PersonaFile)
		if err != nil {
			return nil, fmt.Errorf("load persona: %w", err)
		}
		p = loaded
	}

	policy := &retry.Policy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.RetryInitialDelay(),
		Multiplier:   cfg.Retry.Multiplier,
		MaxDelay:     cfg.RetryMaxDelay(),
		Logger:       logger,
	}

	platform := mastodon.New(mastodon.Config{
		Server:      cfg.Mastodon.BaseURL,
		AccessToken: cfg.Mastodon.AccessToken,
		Visibility:  cfg.Mastodon.Visibility,
		Timeout:     cfg.MastodonTimeout(),
		UserAgent:   "otomed/" + version,
	})

	chat := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLMTimeout(),
	})
	images := openai.NewImageClient(&llm.ImageConfig{
		BaseURL: cfg.Image.BaseURL,
		APIKey:  cfg.Image.APIKey,
		Model:   cfg.Image.Model,
		Width:   cfg.Image.Width,
		Height:  cfg.Image.Height,
		Steps:   cfg.Image.Steps,
		Timeout: cfg.ImageTimeout(),
	})

	translator, err := translate.New(cfg.Translate.Provider, chat, translate.NewGoogle(cfg.Translate.Endpoint, nil))
	if err != nil {
		return nil, err
	}

	engine, err := brain.New(chat, p, brain.Options{
		Model:            cfg.LLM.Model,
		MaxContextTokens: cfg.LLM.MaxContextTokens,
		Policy:           policy,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create decision engine: %w", err)
	}

	dispatcher := dispatch.New(platform, translator, images, p, dispatch.Options{
		Policy:  policy,
		TempDir: cfg.TempDir(),
		Logger:  logger,
	})

	store, err := openCursor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	alerter := newAlerter(cfg, logger)
	pl := poller.New(platform, store, engine, dispatcher, p, poller.Config{
		Interval:    cfg.PollInterval(),
		Cooldown:    cfg.PollCooldown(),
		Ignore:      cfg.Poll.Ignore,
		Policy:      policy,
		OnLoopError: alerter.LoopError,
		Logger:      logger,
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		cursor:     store,
		dispatcher: dispatcher,
		poller:     pl,
		alerter:    alerter,
	}, nil
}

func (a *app) Close() error {
	return a.cursor.Close()
}

func openCursor(ctx context.Context, cfg *config.Config) (cursor.Store, error) {
	store, err := cursor.Open(ctx, cursor.Options{
		Backend:  cfg.Cursor.Backend,
		Path:     cfg.CursorPath(),
		RedisURL: cfg.Cursor.RedisURL,
		Key:      cfg.Cursor.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("open cursor store: %w", err)
	}
	return store, nil
}

// newAlerter routes operator alerts to Telegram when configured and to the
// log otherwise.
func newAlerter(cfg *config.Config, logger *slog.Logger) *alert.Alerter {
	reg := alert.NewRegistry()
	reg.Register("log:", alert.LogHandler(logger))

	var targets []string
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		tg, err := alert.NewTelegram(cfg.Telegram.Token, "", nil)
		if err != nil {
			logger.Warn("telegram alerts disabled", "error", err)
		} else {
			reg.Register(alert.TelegramPrefix, tg.Handler())
			targets = append(targets, alert.Target(cfg.Telegram.ChatID))
		}
	}
	if len(targets) == 0 {
		targets = []string{"log:operator"}
	}
	return alert.New(reg, targets, alert.WithLogger(logger))
}
