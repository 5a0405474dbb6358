package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"transmission_rss/internal/model"
	"transmission_rss/internal/notify"
	"transmission_rss/internal/storage"
)

// batchInserter is implemented by stores that can insert many
// fingerprints in one transaction.
type batchInserter interface {
	InsertAll(ctx context.Context, fingerprints []string) error
}

// counter is implemented by stores that can report their size.
type counter interface {
	Count(ctx context.Context) (int, error)
}

// Coordinator runs the synchronizers of all feeds for one invocation.
type Coordinator struct {
	deps   Deps
	syncer *Synchronizer
	log    *slog.Logger
}

// NewCoordinator creates a Coordinator sharing deps with its synchronizer.
func NewCoordinator(deps Deps, maxInFlight int, log *slog.Logger) *Coordinator {
	return &Coordinator{
		deps:   deps,
		syncer: NewSynchronizer(deps, maxInFlight, log),
		log:    log,
	}
}

// Reconcile seeds a fresh seen set with what the backend already holds so
// that existing downloads are not submitted again. It is a no-op for an
// existing store and returns the number of hashes recorded.
func (c *Coordinator) Reconcile(ctx context.Context, state storage.OpenState) (int, error) {
	if !state.Fresh() {
		return 0, nil
	}

	c.log.Info("reconciling seen set with backend", "store_state", state.String())

	hashes, err := c.deps.Backend.ListCurrent(ctx)
	if err != nil {
		return 0, fmt.Errorf("list backend torrents: %w", err)
	}

	if bi, ok := c.deps.Store.(batchInserter); ok {
		if err := bi.InsertAll(ctx, hashes); err != nil {
			return 0, fmt.Errorf("record backend torrents: %w", err)
		}
	} else {
		for _, h := range hashes {
			if err := c.deps.Store.Insert(ctx, h); err != nil {
				return 0, fmt.Errorf("record backend torrent %s: %w", h, err)
			}
		}
	}

	if err := c.deps.Store.Flush(ctx); err != nil {
		return 0, fmt.Errorf("flush seen set: %w", err)
	}

	attrs := []any{"count", len(hashes)}
	if cs, ok := c.deps.Store.(counter); ok {
		if total, err := cs.Count(ctx); err == nil {
			attrs = append(attrs, "total", total)
		} else {
			c.log.Warn("count seen set", "error", err)
		}
	}
	c.log.Info("reconciled seen set", attrs...)
	return len(hashes), nil
}

// Run synchronizes every feed concurrently and waits for all of them. A
// failing feed is logged and notified without affecting the others.
func (c *Coordinator) Run(ctx context.Context, feeds []model.FeedSource) []model.FeedResult {
	results := make([]model.FeedResult, len(feeds))

	var wg sync.WaitGroup
	for i, feed := range feeds {
		wg.Add(1)
		go func() {
			defer wg.Done()

			added, err := c.syncer.Sync(ctx, feed)
			results[i] = model.FeedResult{Feed: feed, Added: added, Err: err}
			if err != nil {
				c.log.Error("process feed", "feed", feed.Title, "error", err)
				c.deps.Notifier.Notify(ctx, notify.FormatFeedFailure(feed.Title, err))
			}
		}()
	}
	wg.Wait()

	return results
}

// Summary totals the results of a run.
type Summary struct {
	Feeds  int
	Added  int
	Failed int
}

// Summarize totals results.
func Summarize(results []model.FeedResult) Summary {
	s := Summary{Feeds: len(results)}
	for _, r := range results {
		s.Added += r.Added
		if r.Err != nil {
			s.Failed++
		}
	}
	return s
}
