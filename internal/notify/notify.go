// Package notify delivers operator notifications to the configured channels.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Sink delivers a text message to one channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// Notifier fans a message out to every sink. Delivery is best-effort: a
// failing sink is logged and never reported to the caller.
type Notifier struct {
	sinks []Sink
	log   *slog.Logger
}

// New creates a Notifier. With no sinks, Notify only logs at debug level.
func New(log *slog.Logger, sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks, log: log}
}

// Sinks returns the names of the configured sinks.
func (n *Notifier) Sinks() []string {
	names := make([]string, 0, len(n.sinks))
	for _, s := range n.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Notify sends text to all sinks concurrently and waits for them.
func (n *Notifier) Notify(ctx context.Context, text string) {
	if len(n.sinks) == 0 {
		n.log.Debug("no notification sinks configured", "text", text)
		return
	}

	var wg sync.WaitGroup
	for _, s := range n.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.Send(ctx, text); err != nil {
				n.log.Warn("send notification", "sink", s.Name(), "error", err)
				return
			}
			n.log.Debug("notification sent", "sink", s.Name())
		}(s)
	}
	wg.Wait()
}
