// Package notify delivers operator alerts to Telegram and Discord, filtered
// by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Events the bot emits.
const (
	EventStartup       = "startup"
	EventTradeExecuted = "trade_executed"
	EventTradeFailed   = "trade_failed"
	EventCycleFailed   = "cycle_failed"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a notification out to every sender. Notify only forwards
// allowed events; an empty allow list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	tag     string
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. tag, when set, prefixes every title
// (e.g. "testnet").
func NewNotifier(senders []Sender, events []string, tag string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		tag:     tag,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify sends the message to every sender if event is allowed. A filtered
// event is dropped silently. Sender failures are logged and joined into the
// returned error.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failing sender does not stop the
// rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if n.tag != "" {
		title = fmt.Sprintf("[%s] %s", n.tag, title)
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
