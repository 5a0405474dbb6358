package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anacrolix/torrent/metainfo"

	"transmission_rss/internal/model"
	"transmission_rss/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.Open(context.Background(), ":memory:", discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fakeFeeds struct {
	items map[string][]model.FeedItem
	errs  map[string]error
}

func (f *fakeFeeds) Fetch(_ context.Context, url string) ([]model.FeedItem, error) {
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.items[url], nil
}

// torrentItem is a feed item whose enclosure the fakeResolver maps to fp.
func torrentItem(title, fp string) model.FeedItem {
	return model.FeedItem{
		Title:     title,
		Link:      "https://tracker.example.com/view/" + fp,
		Enclosure: &model.Enclosure{URL: "https://tracker.example.com/t/" + fp + ".torrent", MIMEType: "application/x-bittorrent"},
	}
}

// fakeResolver derives the fingerprint from the last path element of the
// link, so two links ending in the same name resolve to the same content.
type fakeResolver struct {
	fail  map[string]bool
	delay time.Duration

	mu       sync.Mutex
	links    []string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (r *fakeResolver) Resolve(_ context.Context, title, link string) (model.ResolvedItem, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.links = append(r.links, link)
	r.mu.Unlock()

	if r.fail[link] {
		return model.ResolvedItem{}, errors.New("malformed torrent")
	}
	fp := link[strings.LastIndex(link, "/")+1:]
	fp = strings.TrimSuffix(fp, ".torrent")
	return model.ResolvedItem{Title: title, Resource: "res-" + fp, Fingerprint: fp}, nil
}

// fakeBackend adds anything it has not seen. Resources are either "res-<fp>"
// or magnet URIs.
type fakeBackend struct {
	fail    map[string]bool
	list    []string
	listErr error

	mu        sync.Mutex
	present   map[string]bool
	submitted []string
	dirs      []string
	listCalls int
}

func newFakeBackend(existing ...string) *fakeBackend {
	b := &fakeBackend{present: map[string]bool{}}
	for _, h := range existing {
		b.present[h] = true
		b.list = append(b.list, h)
	}
	return b
}

func (b *fakeBackend) ListCurrent(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	if b.listErr != nil {
		return nil, b.listErr
	}
	return append([]string(nil), b.list...), nil
}

func (b *fakeBackend) Submit(_ context.Context, resource, downloadDir string) model.Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, resource)
	b.dirs = append(b.dirs, downloadDir)

	if b.fail[resource] {
		return model.Failed("rpc torrent-add: daemon unavailable")
	}

	fp := strings.TrimPrefix(resource, "res-")
	if m, err := metainfo.ParseMagnetUri(resource); err == nil {
		fp = m.InfoHash.HexString()
	}
	if b.present[fp] {
		return model.Duplicate(fp, fp)
	}
	b.present[fp] = true
	return model.Added(fp, fp)
}

func (b *fakeBackend) submissions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.submitted...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

// flakyStore wraps a SeenSet and fails Flush.
type flakyStore struct {
	storage.SeenSet
	flushErr error
}

func (s *flakyStore) Flush(context.Context) error { return s.flushErr }

type harness struct {
	feeds    *fakeFeeds
	resolver *fakeResolver
	backend  *fakeBackend
	store    storage.SeenSet
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		feeds:    &fakeFeeds{items: map[string][]model.FeedItem{}, errs: map[string]error{}},
		resolver: &fakeResolver{},
		backend:  newFakeBackend(),
		store:    newTestStore(t),
		notifier: &recordingNotifier{},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Feeds:    h.feeds,
		Resolver: h.resolver,
		Backend:  h.backend,
		Store:    h.store,
		Notifier: h.notifier,
	}
}

func (h *harness) contains(t *testing.T, fp string) bool {
	t.Helper()
	ok, err := h.store.Contains(context.Background(), fp)
	if err != nil {
		t.Fatalf("contains %s: %v", fp, err)
	}
	return ok
}
