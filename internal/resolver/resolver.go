// Package resolver turns a feed item link into a submittable resource and
// its content fingerprint.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"transmission_rss/internal/model"
	"transmission_rss/internal/retrier"
)

const (
	defaultUserAgent = "transmission-rss/1.0"
	maxTorrentBytes  = 10 * 1024 * 1024
	magnetPrefix     = "magnet:"
)

// ErrMalformed marks a resource body or magnet URI that cannot be decoded.
var ErrMalformed = errors.New("malformed resource")

// ErrTooLarge marks a resource body above the size limit.
var ErrTooLarge = errors.New("resource too large")

// ResolveError is returned when a single item cannot be resolved.
type ResolveError struct {
	Link string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Link, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Resolver fetches torrent files and derives their info-hash and magnet URI.
type Resolver struct {
	client    HTTPClient
	policy    retrier.Policy
	userAgent string
	maxBytes  int64
	log       *slog.Logger
}

// New creates a Resolver. A zero policy falls back to the retrier defaults.
func New(client HTTPClient, policy retrier.Policy, userAgent string, log *slog.Logger) *Resolver {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Resolver{client: client, policy: policy, userAgent: userAgent, maxBytes: maxTorrentBytes, log: log}
}

// Resolve identifies the resource behind link. Magnet links are decoded in
// place; anything else is downloaded and decoded as a .torrent file.
func (r *Resolver) Resolve(ctx context.Context, title, link string) (model.ResolvedItem, error) {
	if strings.HasPrefix(strings.ToLower(link), magnetPrefix) {
		item, err := fromMagnet(title, link)
		if err != nil {
			return model.ResolvedItem{}, &ResolveError{Link: link, Err: err}
		}
		return item, nil
	}

	var item model.ResolvedItem
	err := retrier.Do(ctx, r.policy, r.log, "fetch torrent", func(ctx context.Context) error {
		body, err := r.get(ctx, link)
		if err != nil {
			return err
		}
		decoded, err := FromTorrent(title, body)
		if err != nil {
			return retrier.Terminal(err)
		}
		item = decoded
		return nil
	})
	if err != nil {
		return model.ResolvedItem{}, &ResolveError{Link: link, Err: err}
	}
	return item, nil
}

func (r *Resolver) get(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, http.NoBody)
	if err != nil {
		return nil, retrier.Terminal(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > r.maxBytes {
		return nil, retrier.Terminal(fmt.Errorf("%w: more than %d bytes", ErrTooLarge, r.maxBytes))
	}
	return body, nil
}

// FromTorrent decodes a .torrent body. The fingerprint is the lowercase hex
// info-hash and the resource is a magnet URI carrying the name and trackers.
func FromTorrent(title string, body []byte) (model.ResolvedItem, error) {
	mi, err := metainfo.Load(bytes.NewReader(body))
	if err != nil {
		return model.ResolvedItem{}, fmt.Errorf("%w: decode metainfo: %w", ErrMalformed, err)
	}
	if len(mi.InfoBytes) == 0 {
		return model.ResolvedItem{}, fmt.Errorf("%w: missing info dictionary", ErrMalformed)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return model.ResolvedItem{}, fmt.Errorf("%w: decode info: %w", ErrMalformed, err)
	}

	hash := mi.HashInfoBytes()
	magnet := metainfo.Magnet{
		InfoHash:    hash,
		DisplayName: info.Name,
		Trackers:    trackers(mi),
	}
	return model.ResolvedItem{
		Title:       title,
		Resource:    magnet.String(),
		Fingerprint: hash.HexString(),
	}, nil
}

func fromMagnet(title, link string) (model.ResolvedItem, error) {
	m, err := metainfo.ParseMagnetUri(link)
	if err != nil {
		return model.ResolvedItem{}, fmt.Errorf("%w: parse magnet: %w", ErrMalformed, err)
	}
	if m.InfoHash == (metainfo.Hash{}) {
		return model.ResolvedItem{}, fmt.Errorf("%w: magnet without btih info-hash", ErrMalformed)
	}
	return model.ResolvedItem{
		Title:       title,
		Resource:    link,
		Fingerprint: m.InfoHash.HexString(),
	}, nil
}

func trackers(mi *metainfo.MetaInfo) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	add(mi.Announce)
	for _, tier := range mi.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}
	return out
}
