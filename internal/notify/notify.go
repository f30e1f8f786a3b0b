// Package notify forwards selected desk events, and a scheduled digest, to
// chat webhooks. Delivery is best-effort: failures are logged, never
// returned to the desk.
package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/stats"
)

// Sink delivers a formatted event to one chat destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, evt FormattedEvent) error
}

// Snapshotter provides the stats used by the digest.
type Snapshotter interface {
	Snapshot() stats.Snapshot
}

// DefaultEvents are forwarded when the config does not list any.
var DefaultEvents = []string{events.TicketEnqueued, events.TicketFinalized}

// Notifier routes bus events to sinks.
type Notifier struct {
	sinks  []Sink
	filter map[string]bool
	digest string
	stats  Snapshotter
}

// New builds a Notifier with the given sinks. types selects the event types
// to forward; empty means DefaultEvents. digest is an optional cron spec.
func New(sinks []Sink, types []string, digest string, st Snapshotter) (*Notifier, error) {
	if len(types) == 0 {
		types = DefaultEvents
	}
	filter := make(map[string]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}
	if digest != "" {
		if st == nil {
			return nil, fmt.Errorf("notify: digest requires a stats source")
		}
		if _, err := stats.Parser.Parse(digest); err != nil {
			return nil, fmt.Errorf("notify: digest schedule %q: %w", digest, err)
		}
	}
	return &Notifier{sinks: sinks, filter: filter, digest: digest, stats: st}, nil
}

// FromConfig builds the sinks named in cfg. It returns nil when no sink is
// configured.
func FromConfig(cfg config.NotifyConfig, st Snapshotter) (*Notifier, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	var sinks []Sink
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, NewSlack(cfg.SlackWebhookURL))
	}
	if cfg.DiscordWebhook != "" {
		d, err := NewDiscord(cfg.DiscordWebhook)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, d)
	}
	return New(sinks, cfg.Events, cfg.DigestCron, st)
}

// Handle forwards ev to every sink if its type is selected.
func (n *Notifier) Handle(ctx context.Context, ev events.Event) {
	if !n.filter[ev.Type] {
		return
	}
	f, ok := Format(ev)
	if !ok {
		return
	}
	n.broadcast(ctx, f)
}

// SendDigest posts the current stats to every sink.
func (n *Notifier) SendDigest(ctx context.Context) {
	if n.stats == nil {
		return
	}
	n.broadcast(ctx, FormatDigest(n.stats.Snapshot()))
}

func (n *Notifier) broadcast(ctx context.Context, f FormattedEvent) {
	for _, s := range n.sinks {
		if err := s.Send(ctx, f); err != nil {
			log.Printf("notify: %s: send %q: %v", s.Name(), f.Title, err)
		}
	}
}

// Run forwards events from bus until ctx is canceled, and posts the digest
// on its schedule.
func (n *Notifier) Run(ctx context.Context, bus *events.Bus, buffer int) error {
	ch, cancel := bus.Subscribe(buffer)
	defer cancel()

	if n.digest != "" {
		c := cron.New(cron.WithParser(stats.Parser))
		if _, err := c.AddFunc(n.digest, func() { n.SendDigest(ctx) }); err != nil {
			return fmt.Errorf("notify: schedule digest: %w", err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
	}

	log.Printf("notify: forwarding to %d sink(s)", len(n.sinks))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			n.Handle(ctx, ev)
		}
	}
}
