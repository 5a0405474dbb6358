package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"transmission_rss/internal/config"
	"transmission_rss/internal/fetcher"
	"transmission_rss/internal/notify"
	"transmission_rss/internal/pipeline"
	"transmission_rss/internal/resolver"
	"transmission_rss/internal/storage"
	"transmission_rss/internal/transmission"
)

// version is set at build time via -ldflags.
var version = "dev"

type options struct {
	Config   string `short:"c" long:"config" env:"TRANSMISSION_RSS_CONFIG" default:"config.yaml" description:"Path to the YAML configuration file"`
	LogLevel string `short:"l" long:"log-level" env:"LOG_LEVEL" description:"Log level (debug, info, warn, error); overrides log_level in the file"`
	Version  bool   `long:"version" description:"Print the version and exit"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		return 2
	}
	if opts.Version {
		fmt.Println(version)
		return 0
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		slog.Error("load config", "path", opts.Config, "error", err)
		return 1
	}

	log := newLogger(cmp.Or(opts.LogLevel, cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if dir := filepath.Dir(cfg.StorePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			return 1
		}
	}

	store, err := storage.Open(ctx, cfg.StorePath, log)
	if err != nil {
		log.Error("open seen set", "path", cfg.StorePath, "error", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	notifier := notify.New(log, buildSinks(cfg, httpClient, log)...)
	log.Debug("notification sinks", "sinks", strings.Join(notifier.Sinks(), ","))

	rpc := transmission.NewClient(cfg.Transmission.URL, cfg.Transmission.Username, cfg.Transmission.Password, httpClient)
	deps := pipeline.Deps{
		Feeds:    fetcher.New(httpClient, log, fetcher.WithRetry(cfg.Retry), fetcher.WithUserAgent(cfg.UserAgent)),
		Resolver: resolver.New(httpClient, cfg.Retry, cfg.UserAgent, log),
		Backend:  transmission.NewBackend(rpc, cfg.Retry, log),
		Store:    store,
		Notifier: notifier,
	}
	coord := pipeline.NewCoordinator(deps, cfg.MaxInFlight, log)

	seen, err := store.Count(ctx)
	if err != nil {
		log.Error("count seen set", "error", err)
		return 1
	}

	start := time.Now()
	log.Info("starting run",
		"version", version,
		"feeds", len(cfg.Feeds),
		"store", cfg.StorePath,
		"store_state", store.State().String(),
		"seen", seen,
	)

	if _, err := coord.Reconcile(ctx, store.State()); err != nil {
		log.Error("reconcile seen set", "error", err)
		return 1
	}

	if len(cfg.Feeds) == 0 {
		log.Warn("no feeds configured")
	}
	results := coord.Run(ctx, cfg.Feeds)

	sum := pipeline.Summarize(results)
	log.Info("run finished",
		"feeds", sum.Feeds,
		"added", sum.Added,
		"failed", sum.Failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if sum.Failed > 0 {
		return 1
	}
	return 0
}

// buildSinks creates the configured notification sinks. A sink that cannot
// be initialised is logged and left out.
func buildSinks(cfg *config.Config, client *http.Client, log *slog.Logger) []notify.Sink {
	var sinks []notify.Sink

	if tg := cfg.Notification.Telegram; tg != nil {
		s, err := notify.NewTelegram(tg.BotToken, tg.ChatID, client)
		if err != nil {
			log.Warn("telegram notifications disabled", "error", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if fs := cfg.Notification.Feishu; fs != nil {
		sinks = append(sinks, notify.NewFeishu(fs.Webhook, client))
	}
	return sinks
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
