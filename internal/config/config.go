package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingCredentials is returned by Validate when a required secret is unset.
var ErrMissingCredentials = errors.New("missing required credentials")

type Config struct {
	DataDir     string `json:"data_dir"`
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
	PersonaFile string `json:"persona_file"`
	Mastodon    struct {
		BaseURL        string `json:"base_url"`
		AccessToken    string `json:"access_token"`
		Visibility     string `json:"visibility"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"mastodon"`
	LLM struct {
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		TimeoutSeconds   int     `json:"timeout_seconds"`
	} `json:"llm"`
	Image struct {
		BaseURL        string `json:"base_url"`
		APIKey         string `json:"api_key"`
		Model          string `json:"model"`
		Width          int    `json:"width"`
		Height         int    `json:"height"`
		Steps          int    `json:"steps"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"image"`
	Translate struct {
		Provider string `json:"provider"`
		Endpoint string `json:"endpoint"`
	} `json:"translate"`
	Cursor struct {
		Backend  string `json:"backend"`
		Path     string `json:"path"`
		RedisURL string `json:"redis_url"`
		Key      string `json:"key"`
	} `json:"cursor"`
	Poll struct {
		IntervalSeconds int      `json:"interval_seconds"`
		CooldownSeconds int      `json:"cooldown_seconds"`
		Ignore          []string `json:"ignore"`
	} `json:"poll"`
	Retry struct {
		MaxAttempts         int     `json:"max_attempts"`
		InitialDelaySeconds float64 `json:"initial_delay_seconds"`
		Multiplier          float64 `json:"multiplier"`
		MaxDelaySeconds     float64 `json:"max_delay_seconds"`
	} `json:"retry"`
	Telegram struct {
		Token  string `json:"token"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
	HTTP struct {
		Addr string `json:"addr"`
	} `json:"http"`
	Maintenance struct {
		SweepSchedule      string `json:"sweep_schedule"`
		SweepMaxAgeMinutes int    `json:"sweep_max_age_minutes"`
	} `json:"maintenance"`
}

// Defaults returns the configuration used for keys absent from the file.
func Defaults() *Config {
	cfg := &Config{
		DataDir:   filepath.Join(os.Getenv("HOME"), ".otomed"),
		LogLevel:  "info",
		LogFormat: "text",
	}
	cfg.Mastodon.BaseURL = "https://sosyal.teknofest.app"
	cfg.Mastodon.TimeoutSeconds = 30
	cfg.LLM.BaseURL = "https://api.studio.nebius.com/v1/"
	cfg.LLM.Model = "deepseek-ai/DeepSeek-V3-0324"
	cfg.LLM.MaxTokens = 1024
	cfg.LLM.MaxContextTokens = 8000
	cfg.LLM.TimeoutSeconds = 45
	cfg.Image.BaseURL = "https://api.together.xyz/v1/"
	cfg.Image.Model = "black-forest-labs/FLUX.1-schnell-Free"
	cfg.Image.Width = 1024
	cfg.Image.Height = 1024
	cfg.Image.Steps = 4
	cfg.Image.TimeoutSeconds = 90
	cfg.Translate.Provider = "google"
	cfg.Cursor.Backend = "file"
	cfg.Poll.IntervalSeconds = 15
	cfg.Poll.CooldownSeconds = 60
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.InitialDelaySeconds = 5
	cfg.Retry.Multiplier = 2
	cfg.Retry.MaxDelaySeconds = 60
	cfg.HTTP.Addr = "127.0.0.1:8085"
	cfg.Maintenance.SweepSchedule = "@every 30m"
	cfg.Maintenance.SweepMaxAgeMinutes = 60
	return cfg
}

// LoadDotEnv reads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides file values from the environment (highest precedence).
func applyEnv(cfg *Config) {
	if v := os.Getenv("MASTODON_ACCESS_TOKEN"); v != "" {
		cfg.Mastodon.AccessToken = v
	}
	if v := os.Getenv("MASTODON_API_BASE_URL"); v != "" {
		cfg.Mastodon.BaseURL = v
	}
	if v := os.Getenv("NEBIUS_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("TOGETHER_API_KEY"); v != "" {
		cfg.Image.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cursor.RedisURL = v
	}
}

// Validate reports missing credentials and unusable values. Missing
// credentials wrap ErrMissingCredentials.
func (c *Config) Validate() error {
	var missing []string
	if c.Mastodon.AccessToken == "" {
		missing = append(missing, "mastodon.access_token (MASTODON_ACCESS_TOKEN)")
	}
	if c.LLM.APIKey == "" {
		missing = append(missing, "llm.api_key (NEBIUS_API_KEY)")
	}
	if c.Image.APIKey == "" {
		missing = append(missing, "image.api_key (TOGETHER_API_KEY)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	if c.Mastodon.BaseURL == "" {
		return fmt.Errorf("mastodon.base_url is empty")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	return nil
}

// CursorPath returns the cursor file (or sqlite database) location.
func (c *Config) CursorPath() string {
	if c.Cursor.Path != "" {
		return c.Cursor.Path
	}
	if c.Cursor.Backend == "sqlite" {
		return filepath.Join(c.DataDir, "state.db")
	}
	return filepath.Join(c.DataDir, "last_mention_id.txt")
}

// TempDir is where generated images wait for upload.
func (c *Config) TempDir() string {
	return filepath.Join(c.DataDir, "tmp")
}

// PIDPath is the daemon's PID file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "otomed.pid")
}

func seconds(n float64) time.Duration {
	return time.Duration(n * float64(time.Second))
}

func (c *Config) PollInterval() time.Duration { return seconds(float64(c.Poll.IntervalSeconds)) }
func (c *Config) PollCooldown() time.Duration { return seconds(float64(c.Poll.CooldownSeconds)) }
func (c *Config) LLMTimeout() time.Duration   { return seconds(float64(c.LLM.TimeoutSeconds)) }
func (c *Config) ImageTimeout() time.Duration { return seconds(float64(c.Image.TimeoutSeconds)) }
func (c *Config) MastodonTimeout() time.Duration {
	return seconds(float64(c.Mastodon.TimeoutSeconds))
}
func (c *Config) RetryInitialDelay() time.Duration { return seconds(c.Retry.InitialDelaySeconds) }
func (c *Config) RetryMaxDelay() time.Duration     { return seconds(c.Retry.MaxDelaySeconds) }
func (c *Config) SweepMaxAge() time.Duration {
	return time.Duration(c.Maintenance.SweepMaxAgeMinutes) * time.Minute
}
