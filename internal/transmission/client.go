// Package transmission is a thin client for the Transmission RPC interface.
package transmission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"transmission_rss/internal/model"
)

const (
	sessionHeader   = "X-Transmission-Session-Id"
	maxResponseSize = 32 * 1024 * 1024
	resultSuccess   = "success"
)

// ErrorKind separates failures worth retrying from rejections.
type ErrorKind int

// Error kinds.
const (
	// Transport covers network failures, 5xx responses, and unreadable replies.
	Transport ErrorKind = iota
	// Rejected covers authentication failures and RPC results other than success.
	Rejected
)

func (k ErrorKind) String() string {
	if k == Rejected {
		return "rejected"
	}
	return "transport"
}

// RPCError is returned by every failed RPC call.
type RPCError struct {
	Method string
	Kind   ErrorKind
	Err    error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("transmission %s (%s): %v", e.Method, e.Kind, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// IsRejected reports whether err is an RPC rejection that retrying cannot fix.
func IsRejected(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Kind == Rejected
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Torrent is the subset of torrent fields the client reads.
type Torrent struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	HashString string `json:"hashString"`
}

// Client talks to one Transmission daemon. It is safe for concurrent use.
type Client struct {
	endpoint string
	username string
	password string
	http     HTTPClient

	mu        sync.Mutex
	sessionID string
}

// NewClient creates a Client for the RPC endpoint, for example
// http://localhost:9091/transmission/rpc.
func NewClient(endpoint, username, password string, httpClient HTTPClient) *Client {
	return &Client{
		endpoint: endpoint,
		username: username,
		password: password,
		http:     httpClient,
	}
}

type rpcRequest struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

// ListCurrent returns every torrent the daemon knows about.
func (c *Client) ListCurrent(ctx context.Context) ([]Torrent, error) {
	const method = "torrent-get"
	args := map[string]any{"fields": []string{"id", "name", "hashString"}}

	var out struct {
		Torrents []Torrent `json:"torrents"`
	}
	if err := c.call(ctx, method, args, &out); err != nil {
		return nil, err
	}
	for i := range out.Torrents {
		out.Torrents[i].HashString = strings.ToLower(out.Torrents[i].HashString)
	}
	return out.Torrents, nil
}

// Add submits resource (a magnet URI or torrent URL) into downloadDir.
// Transmission reports an already known torrent as a duplicate rather than
// an error, which maps to a Duplicate outcome.
func (c *Client) Add(ctx context.Context, resource, downloadDir string) (model.Outcome, error) {
	const method = "torrent-add"
	args := map[string]any{"filename": resource}
	if downloadDir != "" {
		args["download-dir"] = downloadDir
	}

	var out struct {
		Added     *Torrent `json:"torrent-added"`
		Duplicate *Torrent `json:"torrent-duplicate"`
	}
	if err := c.call(ctx, method, args, &out); err != nil {
		return model.Outcome{}, err
	}

	switch {
	case out.Added != nil:
		return model.Added(strings.ToLower(out.Added.HashString), out.Added.Name), nil
	case out.Duplicate != nil:
		return model.Duplicate(strings.ToLower(out.Duplicate.HashString), out.Duplicate.Name), nil
	}
	return model.Outcome{}, &RPCError{Method: method, Kind: Rejected, Err: errors.New("response carries neither torrent-added nor torrent-duplicate")}
}

func (c *Client) call(ctx context.Context, method string, args, out any) error {
	payload, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return &RPCError{Method: method, Kind: Rejected, Err: fmt.Errorf("encode request: %w", err)}
	}

	// The first request of a session is answered with 409 and a fresh id.
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := c.post(ctx, payload)
		if err != nil {
			return &RPCError{Method: method, Kind: Transport, Err: err}
		}

		if resp.StatusCode == http.StatusConflict {
			id := resp.Header.Get(sessionHeader)
			drain(resp)
			if id == "" {
				return &RPCError{Method: method, Kind: Transport, Err: errors.New("409 without session id")}
			}
			c.setSessionID(id)
			continue
		}

		return decodeResponse(method, resp, out)
	}
	return &RPCError{Method: method, Kind: Transport, Err: errors.New("session id handshake did not settle")}
}

func (c *Client) post(ctx context.Context, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	if id := c.getSessionID(); id != "" {
		req.Header.Set(sessionHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http post: %w", err)
	}
	return resp, nil
}

func decodeResponse(method string, resp *http.Response, out any) error {
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &RPCError{Method: method, Kind: Rejected, Err: fmt.Errorf("unauthorized: status %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return &RPCError{Method: method, Kind: Transport, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return &RPCError{Method: method, Kind: Rejected, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &RPCError{Method: method, Kind: Transport, Err: fmt.Errorf("read body: %w", err)}
	}

	var envelope rpcResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &RPCError{Method: method, Kind: Transport, Err: fmt.Errorf("decode response: %w", err)}
	}
	if envelope.Result != resultSuccess {
		return &RPCError{Method: method, Kind: Rejected, Err: errors.New(envelope.Result)}
	}
	if out == nil || len(envelope.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Arguments, out); err != nil {
		return &RPCError{Method: method, Kind: Transport, Err: fmt.Errorf("decode arguments: %w", err)}
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}

func (c *Client) getSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}
