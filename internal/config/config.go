// Package config loads the application configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"transmission_rss/internal/filter"
	"transmission_rss/internal/model"
	"transmission_rss/internal/retrier"
)

// Defaults applied when the file leaves a value unset.
const (
	DefaultStorePath   = "./data/seen.db"
	DefaultLogLevel    = "info"
	DefaultHTTPTimeout = 30 * time.Second
	DefaultUserAgent   = "transmission-rss/1.0"
	DefaultMaxInFlight = 8
)

// Config holds the resolved application configuration. Secrets are plain
// strings here; file references were read during Load.
type Config struct {
	StorePath    string
	LogLevel     string
	Transmission Transmission
	Feeds        []model.FeedSource
	Notification Notification
	Retry        retrier.Policy
	HTTPTimeout  time.Duration
	UserAgent    string
	MaxInFlight  int
}

// Transmission holds the download backend endpoint and credentials.
type Transmission struct {
	URL      string
	Username string
	Password string
}

// Notification holds the optional notification sinks.
type Notification struct {
	Telegram *Telegram
	Feishu   *Feishu
}

// Telegram configures the Telegram sink.
type Telegram struct {
	BotToken string
	ChatID   int64
}

// Feishu configures the Feishu webhook sink.
type Feishu struct {
	Webhook string
}

type rawConfig struct {
	LogLevel    string `yaml:"log_level"`
	Persistence struct {
		Path string `yaml:"path"`
	} `yaml:"persistence"`
	Transmission struct {
		URL          string `yaml:"url"`
		Username     string `yaml:"username"`
		Password     string `yaml:"password"`
		PasswordFile string `yaml:"password_file"`
	} `yaml:"transmission"`
	RSSList []struct {
		Title       string   `yaml:"title"`
		URL         string   `yaml:"url"`
		Filters     []string `yaml:"filters"`
		DownloadDir string   `yaml:"download_dir"`
	} `yaml:"rss_list"`
	Notification struct {
		Telegram *struct {
			BotToken     string `yaml:"bot_token"`
			BotTokenFile string `yaml:"bot_token_file"`
			ChatID       int64  `yaml:"chat_id"`
		} `yaml:"telegram"`
		Feishu *struct {
			Webhook     string `yaml:"webhook"`
			WebhookFile string `yaml:"webhook_file"`
		} `yaml:"feishu"`
	} `yaml:"notification"`
	Retry struct {
		Attempts uint          `yaml:"attempts"`
		Delay    time.Duration `yaml:"delay"`
	} `yaml:"retry"`
	HTTP struct {
		Timeout   time.Duration `yaml:"timeout"`
		UserAgent string        `yaml:"user_agent"`
	} `yaml:"http"`
	Concurrency struct {
		MaxInFlight int `yaml:"max_in_flight"`
	} `yaml:"concurrency"`
}

// envOverrides are applied on top of the file when set.
type envOverrides struct {
	PersistencePath      string `env:"PERSISTENCE_PATH"`
	TransmissionURL      string `env:"TRANSMISSION_URL"`
	TransmissionUsername string `env:"TRANSMISSION_USERNAME"`
	TransmissionPassword string `env:"TRANSMISSION_PASSWORD"`
	TelegramBotToken     string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID       int64  `env:"TELEGRAM_CHAT_ID"`
	FeishuWebhook        string `env:"FEISHU_WEBHOOK"`
}

// Load reads the YAML file at path, resolves secret files, applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	cfg, err := resolve(&raw)
	if err != nil {
		return nil, err
	}

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	applyOverrides(cfg, overrides)

	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func resolve(raw *rawConfig) (*Config, error) {
	password, err := secret{inline: raw.Transmission.Password, file: raw.Transmission.PasswordFile}.resolve("transmission.password")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		StorePath: raw.Persistence.Path,
		LogLevel:  raw.LogLevel,
		Transmission: Transmission{
			URL:      strings.TrimSpace(raw.Transmission.URL),
			Username: raw.Transmission.Username,
			Password: password,
		},
		Retry:       retrier.Policy{Attempts: raw.Retry.Attempts, Delay: raw.Retry.Delay},
		HTTPTimeout: raw.HTTP.Timeout,
		UserAgent:   raw.HTTP.UserAgent,
		MaxInFlight: raw.Concurrency.MaxInFlight,
	}

	for _, f := range raw.RSSList {
		cfg.Feeds = append(cfg.Feeds, model.FeedSource{
			Title:       strings.TrimSpace(f.Title),
			URL:         strings.TrimSpace(f.URL),
			Filters:     filter.Normalize(f.Filters),
			DownloadDir: strings.TrimSpace(f.DownloadDir),
		})
	}

	if tg := raw.Notification.Telegram; tg != nil {
		token, err := secret{inline: tg.BotToken, file: tg.BotTokenFile}.resolve("notification.telegram.bot_token")
		if err != nil {
			return nil, err
		}
		cfg.Notification.Telegram = &Telegram{BotToken: token, ChatID: tg.ChatID}
	}
	if fs := raw.Notification.Feishu; fs != nil {
		webhook, err := secret{inline: fs.Webhook, file: fs.WebhookFile}.resolve("notification.feishu.webhook")
		if err != nil {
			return nil, err
		}
		cfg.Notification.Feishu = &Feishu{Webhook: webhook}
	}
	return cfg, nil
}

func applyOverrides(cfg *Config, o envOverrides) {
	if o.PersistencePath != "" {
		cfg.StorePath = o.PersistencePath
	}
	if o.TransmissionURL != "" {
		cfg.Transmission.URL = o.TransmissionURL
	}
	if o.TransmissionUsername != "" {
		cfg.Transmission.Username = o.TransmissionUsername
	}
	if o.TransmissionPassword != "" {
		cfg.Transmission.Password = o.TransmissionPassword
	}
	if o.TelegramBotToken != "" || o.TelegramChatID != 0 {
		if cfg.Notification.Telegram == nil {
			cfg.Notification.Telegram = &Telegram{}
		}
		if o.TelegramBotToken != "" {
			cfg.Notification.Telegram.BotToken = o.TelegramBotToken
		}
		if o.TelegramChatID != 0 {
			cfg.Notification.Telegram.ChatID = o.TelegramChatID
		}
	}
	if o.FeishuWebhook != "" {
		cfg.Notification.Feishu = &Feishu{Webhook: o.FeishuWebhook}
	}
}

func setDefaults(cfg *Config) {
	if cfg.StorePath == "" {
		cfg.StorePath = DefaultStorePath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = retrier.DefaultAttempts
	}
	if cfg.Retry.Delay == 0 {
		cfg.Retry.Delay = retrier.DefaultDelay
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxInFlight == 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
}

func (c *Config) validate() error {
	var errs []error

	if c.Transmission.URL == "" {
		errs = append(errs, errors.New("transmission.url is required"))
	} else if u, err := url.Parse(c.Transmission.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("transmission.url %q must be an http(s) URL", c.Transmission.URL))
	}

	for i, f := range c.Feeds {
		if f.Title == "" {
			errs = append(errs, fmt.Errorf("rss_list[%d]: title is required", i))
		}
		if f.URL == "" {
			errs = append(errs, fmt.Errorf("rss_list[%d]: url is required", i))
		}
		if f.DownloadDir == "" {
			errs = append(errs, fmt.Errorf("rss_list[%d]: download_dir is required", i))
		}
	}

	if tg := c.Notification.Telegram; tg != nil {
		if tg.BotToken == "" {
			errs = append(errs, errors.New("notification.telegram: bot_token is required"))
		}
		if tg.ChatID == 0 {
			errs = append(errs, errors.New("notification.telegram: chat_id is required"))
		}
	}
	if fs := c.Notification.Feishu; fs != nil && fs.Webhook == "" {
		errs = append(errs, errors.New("notification.feishu: webhook is required"))
	}

	if c.MaxInFlight < 0 {
		errs = append(errs, errors.New("concurrency.max_in_flight must be non-negative"))
	}
	if c.Retry.Delay < 0 {
		errs = append(errs, errors.New("retry.delay must be non-negative"))
	}
	return errors.Join(errs...)
}
