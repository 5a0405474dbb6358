package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Feishu posts text messages to a Feishu (Lark) custom bot webhook.
type Feishu struct {
	webhook string
	client  HTTPClient
}

// NewFeishu creates a Feishu sink for webhook.
func NewFeishu(webhook string, client HTTPClient) *Feishu {
	return &Feishu{webhook: webhook, client: client}
}

type feishuMessage struct {
	MsgType string        `json:"msg_type"`
	Content feishuContent `json:"content"`
}

type feishuContent struct {
	Text string `json:"text"`
}

type feishuReply struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Name implements Sink.
func (f *Feishu) Name() string { return "feishu" }

// Send implements Sink.
func (f *Feishu) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(feishuMessage{MsgType: "text", Content: feishuContent{Text: text}})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhook, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var reply feishuReply
	if err := json.Unmarshal(body, &reply); err == nil && reply.Code != 0 {
		return fmt.Errorf("webhook rejected message: code %d: %s", reply.Code, reply.Msg)
	}
	return nil
}
