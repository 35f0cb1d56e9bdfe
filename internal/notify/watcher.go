package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/updownlabs/updown/internal/domain"
)

// Watcher subscribes to the settlement event channel and turns events into
// operator notifications. It runs until the context is cancelled.
type Watcher struct {
	bus      domain.SignalBus
	channel  string
	notifier *Notifier
	logger   *slog.Logger
}

// NewWatcher creates a Watcher that reads events from the given Pub/Sub
// channel and forwards them through the notifier.
func NewWatcher(bus domain.SignalBus, channel string, notifier *Notifier, logger *slog.Logger) *Watcher {
	return &Watcher{
		bus:      bus,
		channel:  channel,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_watcher")),
	}
}

// Run consumes the event channel. Notification failures are logged, never
// fatal: alerting must not stall settlement.
func (w *Watcher) Run(ctx context.Context) error {
	msgCh, err := w.bus.Subscribe(ctx, w.channel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", w.channel, err)
	}

	w.logger.Info("watching settlement events", slog.String("channel", w.channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgCh:
			if !ok {
				return fmt.Errorf("notify: event channel %s closed", w.channel)
			}

			var ev domain.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				w.logger.Warn("dropping malformed event", slog.String("error", err.Error()))
				continue
			}

			title, message, ok := describe(ev)
			if !ok {
				continue
			}

			if err := w.notifier.Notify(ctx, string(ev.Type), title, message); err != nil {
				w.logger.Error("notification failed",
					slog.String("event", string(ev.Type)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// describe renders an event as a short notification. Events that operators
// have no use for return ok=false.
func describe(ev domain.Event) (title, message string, ok bool) {
	switch ev.Type {
	case domain.EventMarketCreated:
		var p domain.MarketCreated
		if json.Unmarshal(ev.Payload, &p) != nil {
			return "", "", false
		}
		return "Market created",
			fmt.Sprintf("market %d (%s): %s", p.MarketID, p.Asset, p.Question),
			true

	case domain.EventMarketResolved:
		var p domain.MarketResolved
		if json.Unmarshal(ev.Payload, &p) != nil {
			return "", "", false
		}
		return "Market resolved",
			fmt.Sprintf("market %d settled %s at final price %d", p.MarketID, p.Outcome, p.FinalPrice),
			true

	case domain.EventPayoutClaimed:
		var p domain.PayoutClaimed
		if json.Unmarshal(ev.Payload, &p) != nil {
			return "", "", false
		}
		return "Payout claimed",
			fmt.Sprintf("market %d: %s claimed %s", p.MarketID, p.Account.Hex(), p.Payout),
			true

	default:
		return "", "", false
	}
}
