package transmission

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"transmission_rss/internal/model"
	"transmission_rss/internal/retrier"
)

const testSessionID = "session-123"

// fakeDaemon mimics the parts of the Transmission RPC the client uses.
type fakeDaemon struct {
	mu       sync.Mutex
	torrents []Torrent
	// failStatus, when set, is returned for every authenticated request.
	failStatus int
	// rejectWith, when set, is returned as the RPC result.
	rejectWith string
	requests   int
	methods    []string
	dirs       []string
}

func (d *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "admin" || pass != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.Header.Get(sessionHeader) != testSessionID {
		w.Header().Set(sessionHeader, testSessionID)
		w.WriteHeader(http.StatusConflict)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests++

	if d.failStatus != 0 {
		w.WriteHeader(d.failStatus)
		return
	}

	var req struct {
		Method    string         `json:"method"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	d.methods = append(d.methods, req.Method)

	if d.rejectWith != "" {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": d.rejectWith})
		return
	}

	switch req.Method {
	case "torrent-get":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result":    "success",
			"arguments": map[string]any{"torrents": d.torrents},
		})
	case "torrent-add":
		filename, _ := req.Arguments["filename"].(string)
		dir, _ := req.Arguments["download-dir"].(string)
		d.dirs = append(d.dirs, dir)
		hash := strings.TrimPrefix(filename, "magnet:?xt=urn:btih:")
		for _, t := range d.torrents {
			if t.HashString == hash {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"result":    "success",
					"arguments": map[string]any{"torrent-duplicate": t},
				})
				return
			}
		}
		t := Torrent{ID: int64(len(d.torrents) + 1), Name: "torrent " + hash, HashString: hash}
		d.torrents = append(d.torrents, t)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result":    "success",
			"arguments": map[string]any{"torrent-added": t},
		})
	default:
		_ = json.NewEncoder(w).Encode(map[string]any{"result": "method name not recognized"})
	}
}

func (d *fakeDaemon) requestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests
}

func newTestServer(t *testing.T, d *fakeDaemon) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)
	return srv
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy() retrier.Policy {
	return retrier.Policy{Attempts: 3, Delay: time.Millisecond}
}

func TestClientAddAndDuplicate(t *testing.T) {
	d := &fakeDaemon{}
	srv := newTestServer(t, d)
	c := NewClient(srv.URL, "admin", "secret", srv.Client())
	ctx := context.Background()

	first, err := c.Add(ctx, "magnet:?xt=urn:btih:aaaa", "/downloads/show")
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	want := model.Added("aaaa", "torrent aaaa")
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("first outcome mismatch (-want +got):\n%s", diff)
	}

	second, err := c.Add(ctx, "magnet:?xt=urn:btih:aaaa", "/downloads/show")
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	want = model.Duplicate("aaaa", "torrent aaaa")
	if diff := cmp.Diff(want, second); diff != "" {
		t.Errorf("second outcome mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"/downloads/show", "/downloads/show"}, d.dirs); diff != "" {
		t.Errorf("download dirs mismatch (-want +got):\n%s", diff)
	}
}

func TestClientListCurrent(t *testing.T) {
	d := &fakeDaemon{torrents: []Torrent{
		{ID: 1, Name: "a", HashString: "AAAA"},
		{ID: 2, Name: "b", HashString: "bbbb"},
	}}
	srv := newTestServer(t, d)
	c := NewClient(srv.URL, "admin", "secret", srv.Client())

	got, err := c.ListCurrent(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []Torrent{
		{ID: 1, Name: "a", HashString: "aaaa"},
		{ID: 2, Name: "b", HashString: "bbbb"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListCurrent mismatch (-want +got):\n%s", diff)
	}
}

func TestClientErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		daemon   *fakeDaemon
		user     string
		wantKind ErrorKind
	}{
		{name: "bad credentials", daemon: &fakeDaemon{}, user: "intruder", wantKind: Rejected},
		{name: "rpc rejection", daemon: &fakeDaemon{rejectWith: "invalid or corrupt torrent file"}, user: "admin", wantKind: Rejected},
		{name: "server error", daemon: &fakeDaemon{failStatus: http.StatusBadGateway}, user: "admin", wantKind: Transport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.daemon)
			c := NewClient(srv.URL, tt.user, "secret", srv.Client())

			_, err := c.Add(context.Background(), "magnet:?xt=urn:btih:cccc", "")
			rpcErr, ok := err.(*RPCError)
			if !ok {
				t.Fatalf("expected *RPCError, got %T (%v)", err, err)
			}
			if diff := cmp.Diff(tt.wantKind, rpcErr.Kind); diff != "" {
				t.Errorf("kind mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClientNetworkErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "admin", "secret", http.DefaultClient)
	_, err := c.ListCurrent(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if IsRejected(err) {
		t.Errorf("network failure should be a transport error, got %v", err)
	}
}

func TestBackendSubmitRetriesTransportExactly(t *testing.T) {
	d := &fakeDaemon{failStatus: http.StatusServiceUnavailable}
	srv := newTestServer(t, d)
	b := NewBackend(NewClient(srv.URL, "admin", "secret", srv.Client()), testPolicy(), testLogger())

	got := b.Submit(context.Background(), "magnet:?xt=urn:btih:dddd", "/dl")

	if diff := cmp.Diff(model.OutcomeFailed, got.Kind); diff != "" {
		t.Errorf("outcome kind mismatch (-want +got):\n%s", diff)
	}
	if got.Reason == "" {
		t.Error("expected failure reason")
	}
	if diff := cmp.Diff(3, d.requestCount()); diff != "" {
		t.Errorf("attempt count mismatch (-want +got):\n%s", diff)
	}
}

func TestBackendSubmitDoesNotRetryRejection(t *testing.T) {
	d := &fakeDaemon{rejectWith: "invalid or corrupt torrent file"}
	srv := newTestServer(t, d)
	b := NewBackend(NewClient(srv.URL, "admin", "secret", srv.Client()), testPolicy(), testLogger())

	got := b.Submit(context.Background(), "not-a-torrent", "/dl")

	if diff := cmp.Diff(model.OutcomeFailed, got.Kind); diff != "" {
		t.Errorf("outcome kind mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(got.Reason, "invalid or corrupt torrent file") {
		t.Errorf("reason %q does not carry the rpc result", got.Reason)
	}
	if diff := cmp.Diff(1, d.requestCount()); diff != "" {
		t.Errorf("attempt count mismatch (-want +got):\n%s", diff)
	}
}

func TestBackendListCurrent(t *testing.T) {
	d := &fakeDaemon{torrents: []Torrent{
		{ID: 1, Name: "a", HashString: "aaaa"},
		{ID: 2, Name: "no hash"},
		{ID: 3, Name: "b", HashString: "bbbb"},
	}}
	srv := newTestServer(t, d)
	b := NewBackend(NewClient(srv.URL, "admin", "secret", srv.Client()), testPolicy(), testLogger())

	got, err := b.ListCurrent(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{"aaaa", "bbbb"}, got); diff != "" {
		t.Errorf("hashes mismatch (-want +got):\n%s", diff)
	}
}
