// Package fetcher handles feed downloading, parsing, and link resolution.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"transmission_rss/internal/model"
	"transmission_rss/internal/retrier"
)

// TorrentMIMEType is the enclosure type preferred over an item's plain link.
const TorrentMIMEType = "application/x-bittorrent"

const (
	defaultUserAgent = "transmission-rss/1.0"
	maxFeedBytes     = 5 * 1024 * 1024
)

// ErrParse marks a fetched document that could not be parsed as a feed.
var ErrParse = errors.New("parse feed")

// ErrTooLarge marks a feed document above the size limit.
var ErrTooLarge = errors.New("feed too large")

// FetchError is returned when a feed cannot be fetched or parsed.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses feeds.
type Fetcher struct {
	client    HTTPClient
	policy    retrier.Policy
	userAgent string
	maxBytes  int64
	log       *slog.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithRetry overrides the default retry policy.
func WithRetry(p retrier.Policy) Option {
	return func(f *Fetcher) { f.policy = p }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient, log *slog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    client,
		policy:    retrier.Default(),
		userAgent: defaultUserAgent,
		maxBytes:  maxFeedBytes,
		log:       log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads and parses the feed at url, returning its items in
// document order. Network failures and unexpected statuses are retried;
// a document that fails to parse is not.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]model.FeedItem, error) {
	var feed *gofeed.Feed
	err := retrier.Do(ctx, f.policy, f.log, "fetch feed", func(ctx context.Context) error {
		body, err := f.get(ctx, url)
		if err != nil {
			return err
		}
		parsed, err := gofeed.NewParser().ParseString(string(body))
		if err != nil {
			return retrier.Terminal(fmt.Errorf("%w: %w", ErrParse, err))
		}
		feed = parsed
		return nil
	})
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	items := make([]model.FeedItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		items = append(items, convertItem(it))
	}
	return items, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, retrier.Terminal(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, retrier.Terminal(fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes))
	}
	return body, nil
}

func convertItem(it *gofeed.Item) model.FeedItem {
	item := model.FeedItem{
		Title: strings.TrimSpace(it.Title),
		Link:  strings.TrimSpace(it.Link),
	}
	var first *model.Enclosure
	for _, enc := range it.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		e := &model.Enclosure{URL: strings.TrimSpace(enc.URL), MIMEType: strings.TrimSpace(enc.Type)}
		if isTorrentType(e.MIMEType) {
			item.Enclosure = e
			return item
		}
		if first == nil {
			first = e
		}
	}
	item.Enclosure = first
	return item
}

// ResolveLink picks the link to resolve for item: a torrent enclosure when
// present, otherwise the item's own link. ok is false when neither exists.
func ResolveLink(item model.FeedItem) (link string, ok bool) {
	if item.Enclosure != nil && item.Enclosure.URL != "" && isTorrentType(item.Enclosure.MIMEType) {
		return item.Enclosure.URL, true
	}
	if item.Link != "" {
		return item.Link, true
	}
	return "", false
}

func isTorrentType(mime string) bool {
	mediaType, _, _ := strings.Cut(mime, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), TorrentMIMEType)
}
