// Package stats maintains the desk's operational summary: ticket counts by
// state, agent presence, and rolling mean wait, handling and rating.
//
// Reads are served from a cached Snapshot. Counts are refreshed on a cron
// schedule; the rolling windows are fed by desk events as they happen.
package stats

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/store"
)

// Parser accepts standard 5-field expressions and descriptors such as
// "@every 5s" or "@daily".
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// LiveCounter reports queued and active tickets from memory.
type LiveCounter interface {
	LiveCounts() (queued, active int)
}

// Presence reports agent counts.
type Presence interface {
	OnlineCount() int
	Count() int
}

// Snapshot is a point-in-time summary of the desk.
type Snapshot struct {
	Total              int       `json:"total"`
	Queued             int       `json:"queued"`
	Active             int       `json:"active"`
	Finished           int       `json:"finished"`
	AgentsOnline       int       `json:"agents_online"`
	AgentsTotal        int       `json:"agents_total"`
	AvgWaitSeconds     float64   `json:"avg_wait_seconds"`
	AvgHandlingSeconds float64   `json:"avg_handling_seconds"`
	AvgRating          float64   `json:"avg_rating"`
	WaitSamples        int       `json:"wait_samples"`
	HandlingSamples    int       `json:"handling_samples"`
	RatingSamples      int       `json:"rating_samples"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AgentStats summarizes one agent's finished work.
type AgentStats struct {
	AgentID            uint       `json:"agent_id"`
	Finished           int        `json:"finished"`
	AvgHandlingSeconds float64    `json:"avg_handling_seconds"`
	AvgRating          float64    `json:"avg_rating"`
	RatedTickets       int        `json:"rated_tickets"`
	LastFinishedAt     *time.Time `json:"last_finished_at,omitempty"`
}

// Opts configures an Aggregator.
type Opts struct {
	Store   store.Store
	Live    LiveCounter
	Agents  Presence
	Bus     *events.Bus
	Window  int           // samples per rolling mean
	MaxAge  time.Duration // samples older than this are ignored
	Refresh string        // cron spec for count refresh
}

// Aggregator owns the cached snapshot.
type Aggregator struct {
	store   store.Store
	live    LiveCounter
	agents  Presence
	bus     *events.Bus
	refresh string
	now     func() time.Time

	mu       sync.RWMutex
	counts   Snapshot
	wait     *window
	handling *window
	rating   *window
}

// New validates opts and returns an Aggregator with empty windows.
func New(opts Opts) (*Aggregator, error) {
	if opts.Store == nil || opts.Live == nil || opts.Agents == nil {
		return nil, fmt.Errorf("stats: store, live counter and presence are required")
	}
	if opts.Window < 1 {
		return nil, fmt.Errorf("stats: window must be at least 1")
	}
	if opts.MaxAge <= 0 {
		return nil, fmt.Errorf("stats: max age must be positive")
	}
	if opts.Refresh != "" {
		if _, err := Parser.Parse(opts.Refresh); err != nil {
			return nil, fmt.Errorf("stats: refresh schedule %q: %w", opts.Refresh, err)
		}
	}
	return &Aggregator{
		store:    opts.Store,
		live:     opts.Live,
		agents:   opts.Agents,
		bus:      opts.Bus,
		refresh:  opts.Refresh,
		now:      time.Now,
		wait:     newWindow(opts.Window, opts.MaxAge),
		handling: newWindow(opts.Window, opts.MaxAge),
		rating:   newWindow(opts.Window, opts.MaxAge),
	}, nil
}

// Seed fills the windows from tickets finished within the max age.
func (a *Aggregator) Seed(ctx context.Context) error {
	_, err := a.seed(ctx)
	return err
}

// seed is Seed returning the IDs of the tickets it recorded.
func (a *Aggregator) seed(ctx context.Context) (map[uint]bool, error) {
	since := a.now().Add(-a.wait.maxAge)
	recent, err := a.store.RecentFinished(ctx, since, a.wait.max)
	if err != nil {
		return nil, fmt.Errorf("stats: seed: %w", err)
	}
	// Oldest first so the windows keep the newest samples.
	sort.Slice(recent, func(i, j int) bool {
		fi, fj := recent[i].FinishedAt, recent[j].FinishedAt
		if fi == nil || fj == nil {
			return fj != nil
		}
		return fi.Before(*fj)
	})
	seeded := make(map[uint]bool, len(recent))
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range recent {
		a.recordClaim(t)
		a.recordFinish(t)
		seeded[t.ID] = true
	}
	return seeded, nil
}

// Refresh recomputes the counts from the store, the desk and the registry.
// The finished count comes from the store and may trail the desk by the
// write-behind delay.
func (a *Aggregator) Refresh(ctx context.Context) error {
	byState, err := a.store.CountTicketsByState(ctx)
	if err != nil {
		return fmt.Errorf("stats: refresh: %w", err)
	}
	queued, active := a.live.LiveCounts()
	finished := byState[models.StateFinished]

	a.mu.Lock()
	a.counts = Snapshot{
		Total:        queued + active + finished,
		Queued:       queued,
		Active:       active,
		Finished:     finished,
		AgentsOnline: a.agents.OnlineCount(),
		AgentsTotal:  a.agents.Count(),
		UpdatedAt:    a.now(),
	}
	a.mu.Unlock()
	return nil
}

// Observe folds a desk event into the rolling windows.
func (a *Aggregator) Observe(ev events.Event) {
	if ev.Ticket == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch ev.Type {
	case events.TicketClaimed:
		a.recordClaim(*ev.Ticket)
	case events.TicketFinalized:
		a.recordFinish(*ev.Ticket)
	}
}

func (a *Aggregator) recordClaim(t models.Ticket) {
	if d, ok := t.WaitTime(); ok {
		a.wait.add(*t.ClaimedAt, d.Seconds())
	}
}

func (a *Aggregator) recordFinish(t models.Ticket) {
	if d, ok := t.HandlingTime(); ok {
		a.handling.add(*t.FinishedAt, d.Seconds())
	}
	if t.Rating != nil && t.FinishedAt != nil {
		a.rating.add(*t.FinishedAt, float64(*t.Rating))
	}
}

// Snapshot returns the cached counts with the current rolling means.
func (a *Aggregator) Snapshot() Snapshot {
	now := a.now()
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.counts
	s.AvgWaitSeconds, s.WaitSamples = a.wait.mean(now)
	s.AvgHandlingSeconds, s.HandlingSamples = a.handling.mean(now)
	s.AvgRating, s.RatingSamples = a.rating.mean(now)
	return s
}

// AgentStats reads one agent's finished-ticket summary from the store.
func (a *Aggregator) AgentStats(ctx context.Context, agentID uint) (AgentStats, error) {
	sum, err := a.store.AgentSummary(ctx, agentID)
	if err != nil {
		return AgentStats{}, fmt.Errorf("stats: agent %d: %w", agentID, err)
	}
	return AgentStats{
		AgentID:            agentID,
		Finished:           sum.Finished,
		AvgHandlingSeconds: sum.AvgHandling.Seconds(),
		AvgRating:          sum.AvgRating,
		RatedTickets:       sum.RatedTickets,
		LastFinishedAt:     sum.LastFinishedAt,
	}, nil
}

// Run seeds the windows, takes a first count, then keeps the snapshot
// current until ctx is canceled: events feed the windows and the cron
// schedule refreshes the counts. The bus subscription is opened before
// seeding so no event falls between the two; events for seeded tickets
// are skipped.
func (a *Aggregator) Run(ctx context.Context, buffer int) error {
	var ch <-chan events.Event
	if a.bus != nil {
		sub, cancel := a.bus.Subscribe(buffer)
		defer cancel()
		ch = sub
	}

	seeded, err := a.seed(ctx)
	if err != nil {
		log.Printf("stats: %v", err)
	}
	if err := a.Refresh(ctx); err != nil {
		log.Printf("stats: %v", err)
	}

	if a.refresh != "" {
		c := cron.New(cron.WithParser(Parser))
		if _, err := c.AddFunc(a.refresh, func() {
			if err := a.Refresh(ctx); err != nil {
				log.Printf("stats: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("stats: schedule refresh: %w", err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Ticket != nil && seeded[ev.Ticket.ID] {
				continue
			}
			a.Observe(ev)
		}
	}
}
