// Package pipeline drives one run: reconcile the seen set with the backend,
// then synchronize every configured feed into it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"transmission_rss/internal/fetcher"
	"transmission_rss/internal/filter"
	"transmission_rss/internal/model"
	"transmission_rss/internal/notify"
	"transmission_rss/internal/storage"
)

// DefaultMaxInFlight bounds concurrent resolutions within one feed.
const DefaultMaxInFlight = 8

// FeedClient fetches and parses a feed document.
type FeedClient interface {
	Fetch(ctx context.Context, url string) ([]model.FeedItem, error)
}

// ItemResolver turns an item link into a submittable resource.
type ItemResolver interface {
	Resolve(ctx context.Context, title, link string) (model.ResolvedItem, error)
}

// Backend is the download daemon as seen by the pipeline.
type Backend interface {
	ListCurrent(ctx context.Context) ([]string, error)
	Submit(ctx context.Context, resource, downloadDir string) model.Outcome
}

// Notifier delivers best-effort user messages.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Deps groups the collaborators shared by the synchronizer and coordinator.
type Deps struct {
	Feeds    FeedClient
	Resolver ItemResolver
	Backend  Backend
	Store    storage.SeenSet
	Notifier Notifier
}

// Synchronizer moves the new items of one feed into the backend.
type Synchronizer struct {
	deps        Deps
	maxInFlight int
	log         *slog.Logger
}

// NewSynchronizer creates a Synchronizer. A non-positive maxInFlight uses
// DefaultMaxInFlight.
func NewSynchronizer(deps Deps, maxInFlight int, log *slog.Logger) *Synchronizer {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Synchronizer{deps: deps, maxInFlight: maxInFlight, log: log}
}

// Sync fetches feed, resolves and filters its items, submits the accepted
// ones in feed order and flushes the seen set. It returns the number of
// items the backend newly added.
func (s *Synchronizer) Sync(ctx context.Context, feed model.FeedSource) (int, error) {
	log := s.log.With("feed", feed.Title)
	log.Debug("checking feed", "url", feed.URL)

	items, err := s.deps.Feeds.Fetch(ctx, feed.URL)
	if err != nil {
		return 0, err
	}

	resolved, err := s.resolveAll(ctx, log, items)
	if err != nil {
		return 0, err
	}

	accepted, err := s.filter(ctx, log, feed, resolved)
	if err != nil {
		return 0, err
	}

	added, err := s.submit(ctx, log, feed, accepted)
	if err != nil {
		return added, err
	}

	if err := s.deps.Store.Flush(ctx); err != nil {
		return added, fmt.Errorf("flush seen set: %w", err)
	}

	if added > 0 {
		log.Info("added torrents", "count", added)
	}
	return added, nil
}

// resolveAll resolves every item with a usable link, keeping feed order.
// Items that fail to resolve are logged and dropped.
func (s *Synchronizer) resolveAll(ctx context.Context, log *slog.Logger, items []model.FeedItem) ([]model.ResolvedItem, error) {
	slots := make([]*model.ResolvedItem, len(items))

	var g errgroup.Group
	g.SetLimit(s.maxInFlight)

	for i, item := range items {
		link, ok := fetcher.ResolveLink(item)
		if !ok {
			log.Warn("item has no link, dropped", "title", item.Title)
			continue
		}
		g.Go(func() error {
			r, err := s.deps.Resolver.Resolve(ctx, item.Title, link)
			if err != nil {
				log.Warn("resolve item", "title", item.Title, "link", link, "error", err)
				return nil
			}
			slots[i] = &r
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]model.ResolvedItem, 0, len(items))
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *Synchronizer) filter(ctx context.Context, log *slog.Logger, feed model.FeedSource, items []model.ResolvedItem) ([]model.ResolvedItem, error) {
	batch := make(map[string]struct{}, len(items))
	var accepted []model.ResolvedItem

	for _, item := range items {
		seen, err := s.deps.Store.Contains(ctx, item.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("check seen %s: %w", item.Fingerprint, err)
		}
		if seen {
			continue
		}
		if _, dup := batch[item.Fingerprint]; dup {
			log.Debug("skip repeated item", "title", item.Title, "fingerprint", item.Fingerprint)
			continue
		}

		matched, ok := filter.MatchedBy(item.Title, feed.Filters)
		if !ok {
			log.Debug("item filtered out", "title", item.Title)
			continue
		}
		if matched != "" {
			log.Debug("item matched filter", "title", item.Title, "filter", matched)
		}

		batch[item.Fingerprint] = struct{}{}
		accepted = append(accepted, item)
	}
	return accepted, nil
}

func (s *Synchronizer) submit(ctx context.Context, log *slog.Logger, feed model.FeedSource, items []model.ResolvedItem) (int, error) {
	added := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return added, err
		}

		// Another feed may have submitted the same content since filtering.
		seen, err := s.deps.Store.Contains(ctx, item.Fingerprint)
		if err != nil {
			return added, fmt.Errorf("check seen %s: %w", item.Fingerprint, err)
		}
		if seen {
			continue
		}

		out := s.deps.Backend.Submit(ctx, item.Resource, feed.DownloadDir)
		switch out.Kind {
		case model.OutcomeAdded:
			added++
			s.remember(ctx, log, item, out)
			log.Info("torrent added", "title", item.Title, "name", out.Name, "hash", out.Fingerprint)
			s.deps.Notifier.Notify(ctx, notify.FormatAdded(item.Title))
		case model.OutcomeDuplicate:
			s.remember(ctx, log, item, out)
			log.Debug("torrent already present", "title", item.Title, "hash", out.Fingerprint)
		default:
			log.Warn("submit torrent", "title", item.Title, "reason", out.Reason)
		}
	}
	return added, nil
}

// remember records the backend hash, and the resolved fingerprint when it
// differs, so later runs skip the item either way.
func (s *Synchronizer) remember(ctx context.Context, log *slog.Logger, item model.ResolvedItem, out model.Outcome) {
	hashes := []string{item.Fingerprint}
	if h := strings.ToLower(out.Fingerprint); h != "" && h != item.Fingerprint {
		hashes = append(hashes, h)
	}
	for _, h := range hashes {
		if err := s.deps.Store.Insert(ctx, h); err != nil {
			log.Error("record seen", "title", item.Title, "hash", h, "error", err)
		}
	}
}
