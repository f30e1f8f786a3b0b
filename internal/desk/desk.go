// Package desk is the dispatch core: the queue engine that hands each
// waiting ticket to exactly one agent, and the session manager that enforces
// the ticket state machine (queued → active → finished).
//
// The in-memory ticket table is authoritative for every ticket this process
// has loaded or created. Mutations happen under locks on that table and are
// then persisted write-behind; a crash can lose the last few writes but never
// leaves a half-claimed ticket.
//
// Lock order: queue lock, then ticket lock, then the registry lock. The
// write-behind queue lock is a leaf.
package desk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/registry"
	"github.com/zulandar/switchboard/internal/store"
)

var (
	ErrEmptyQueue      = errors.New("desk: queue is empty")
	ErrTicketNotFound  = errors.New("desk: ticket not found")
	ErrTicketNotActive = errors.New("desk: ticket is not active")
	ErrEmptyBody       = errors.New("desk: message body is empty")
	ErrInvalidSender   = errors.New("desk: invalid sender kind")
	ErrNotAssignee     = errors.New("desk: agent is not assigned to this ticket")
	ErrInvalidTicket   = errors.New("desk: invalid ticket")
	ErrInvalidRating   = errors.New("desk: rating must be between 1 and 5")

	// Re-exported so callers can match every dispatch failure against desk.
	ErrCapacityExceeded = registry.ErrCapacityExceeded
	ErrAgentOffline     = registry.ErrAgentOffline
	ErrAgentNotFound    = registry.ErrAgentNotFound
	ErrStoreUnavailable = store.ErrStoreUnavailable
)

// Opts holds the collaborators of a Desk.
type Opts struct {
	Store  store.Store
	Writer *store.Writer
	Agents *registry.Registry
	Bus    *events.Bus
}

// entry is one ticket in the in-memory table. mu guards t and msgs; index
// is owned by the queue and guarded by the queue lock.
type entry struct {
	mu    sync.Mutex
	t     models.Ticket
	msgs  []models.Message
	index int
}

// Desk owns the queue and the live ticket table.
type Desk struct {
	store  store.Store
	writer *store.Writer
	agents *registry.Registry
	bus    *events.Bus
	now    func() time.Time

	qmu   sync.Mutex
	queue ticketQueue

	tmu     sync.RWMutex
	tickets map[uint]*entry

	msgSeq atomic.Uint64
}

// New creates an empty Desk. Call Hydrate before serving requests.
func New(opts Opts) (*Desk, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("desk: store is required")
	}
	if opts.Writer == nil {
		return nil, fmt.Errorf("desk: writer is required")
	}
	if opts.Agents == nil {
		return nil, fmt.Errorf("desk: agent registry is required")
	}
	return &Desk{
		store:   opts.Store,
		writer:  opts.Writer,
		agents:  opts.Agents,
		bus:     opts.Bus,
		now:     time.Now,
		tickets: make(map[uint]*entry),
	}, nil
}

// Hydrate loads agents and every queued or active ticket from the store and
// derives agent loads from the active ones.
func (d *Desk) Hydrate(ctx context.Context) error {
	if err := d.agents.Load(ctx); err != nil {
		return fmt.Errorf("desk: hydrate: %w", err)
	}
	live, err := d.store.ListTickets(ctx, store.TicketFilter{
		States: []string{models.StateQueued, models.StateActive},
	})
	if err != nil {
		return fmt.Errorf("desk: hydrate tickets: %w", err)
	}
	maxMsg, err := d.store.MaxMessageID(ctx)
	if err != nil {
		return fmt.Errorf("desk: hydrate: %w", err)
	}

	loads := make(map[uint]int)
	tickets := make(map[uint]*entry, len(live))
	var queue ticketQueue
	for _, t := range live {
		msgs, err := d.store.ListMessages(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("desk: hydrate messages for ticket %d: %w", t.ID, err)
		}
		e := &entry{t: t, msgs: msgs, index: -1}
		switch t.State {
		case models.StateQueued:
			queue = append(queue, e)
		case models.StateActive:
			if t.AgentID == nil {
				log.Printf("desk: hydrate: active ticket %d has no agent", t.ID)
			} else {
				loads[*t.AgentID]++
			}
		}
		tickets[t.ID] = e
	}
	queue.init()

	d.qmu.Lock()
	d.queue = queue
	d.qmu.Unlock()
	d.tmu.Lock()
	d.tickets = tickets
	d.tmu.Unlock()
	d.agents.Restore(loads)
	d.msgSeq.Store(uint64(maxMsg))

	log.Printf("desk: hydrated %d queued, %d active tickets", len(queue), len(live)-len(queue))
	return nil
}

func (d *Desk) lookup(id uint) *entry {
	d.tmu.RLock()
	defer d.tmu.RUnlock()
	return d.tickets[id]
}

// stored loads a ticket this process does not hold in memory. Such a ticket
// was finished by an earlier process.
func (d *Desk) stored(ctx context.Context, id uint) (*models.Ticket, error) {
	t, err := d.store.GetTicket(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrTicketNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// persistTicket queues a write of t. Callers hold the ticket lock so writes
// for one ticket reach the store in mutation order.
func (d *Desk) persistTicket(t models.Ticket) {
	d.writer.Submit(store.Op{
		Desc: fmt.Sprintf("ticket %d (%s)", t.ID, t.State),
		Apply: func(ctx context.Context, s store.Store) error {
			return s.UpdateTicket(ctx, t)
		},
	})
}

func (d *Desk) publish(typ string, t *models.Ticket, m *models.Message, agentID uint) {
	d.bus.Publish(events.Event{Type: typ, At: d.now(), Ticket: t, Message: m, AgentID: agentID})
}

// LiveCounts returns the number of queued and active tickets held in memory.
func (d *Desk) LiveCounts() (queued, active int) {
	d.qmu.Lock()
	queued = d.queue.Len()
	d.qmu.Unlock()

	d.tmu.RLock()
	entries := make([]*entry, 0, len(d.tickets))
	for _, e := range d.tickets {
		entries = append(entries, e)
	}
	d.tmu.RUnlock()
	for _, e := range entries {
		e.mu.Lock()
		if e.t.State == models.StateActive {
			active++
		}
		e.mu.Unlock()
	}
	return queued, active
}

func copyTicket(t models.Ticket) *models.Ticket {
	return &t
}
