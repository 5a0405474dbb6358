package transmission

import (
	"context"
	"fmt"
	"log/slog"

	"transmission_rss/internal/model"
	"transmission_rss/internal/retrier"
)

// RPC is the subset of Client the Backend drives.
type RPC interface {
	ListCurrent(ctx context.Context) ([]Torrent, error)
	Add(ctx context.Context, resource, downloadDir string) (model.Outcome, error)
}

// Backend wraps an RPC with bounded retries. Transport failures are retried
// up to the policy's attempt count; rejections are returned at once.
type Backend struct {
	rpc    RPC
	policy retrier.Policy
	log    *slog.Logger
}

// NewBackend creates a Backend. A zero policy falls back to the retrier defaults.
func NewBackend(rpc RPC, policy retrier.Policy, log *slog.Logger) *Backend {
	return &Backend{rpc: rpc, policy: policy, log: log}
}

// ListCurrent returns the info-hash of every torrent known to the daemon.
func (b *Backend) ListCurrent(ctx context.Context) ([]string, error) {
	var torrents []Torrent
	err := retrier.Do(ctx, b.policy, b.log, "list torrents", func(ctx context.Context) error {
		var err error
		torrents, err = b.rpc.ListCurrent(ctx)
		return classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("list current torrents: %w", err)
	}

	hashes := make([]string, 0, len(torrents))
	for _, t := range torrents {
		if t.HashString == "" {
			b.log.Warn("torrent without hash", "id", t.ID, "name", t.Name)
			continue
		}
		hashes = append(hashes, t.HashString)
	}
	return hashes, nil
}

// Submit adds resource into downloadDir. It never returns an error: any
// failure left after the retries becomes a Failed outcome.
func (b *Backend) Submit(ctx context.Context, resource, downloadDir string) model.Outcome {
	var outcome model.Outcome
	err := retrier.Do(ctx, b.policy, b.log, "add torrent", func(ctx context.Context) error {
		var err error
		outcome, err = b.rpc.Add(ctx, resource, downloadDir)
		return classify(err)
	})
	if err != nil {
		return model.Failed(err.Error())
	}
	return outcome
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsRejected(err) {
		return retrier.Terminal(err)
	}
	return err
}
