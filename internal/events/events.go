// Package events is the in-process fan-out of desk events to observers
// (stats, notifications, metrics, SSE clients).
package events

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zulandar/switchboard/internal/models"
)

// Event types.
const (
	TicketEnqueued  = "ticket.enqueued"
	TicketClaimed   = "ticket.claimed"
	MessagePosted   = "message.posted"
	TicketFinalized = "ticket.finalized"
	AgentLoggedIn   = "agent.login"
	AgentLoggedOut  = "agent.logout"
)

// Event is a snapshot of a state change. Ticket and Message are copies; an
// observer never sees later mutations.
type Event struct {
	Type    string          `json:"type"`
	At      time.Time       `json:"at"`
	Ticket  *models.Ticket  `json:"ticket,omitempty"`
	Message *models.Message `json:"message,omitempty"`
	AgentID uint            `json:"agent_id,omitempty"`
}

// Bus delivers events to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	dropped atomic.Int64
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer. The returned
// cancel func unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish fans ev out to every subscriber.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.drop(ev)
		}
	}
}

func (b *Bus) drop(ev Event) {
	n := b.dropped.Add(1)
	if n == 1 || n%100 == 0 {
		log.Printf("events: subscriber buffer full, dropped %s (%d dropped total)", ev.Type, n)
	}
}

// Dropped returns the number of deliveries skipped because a subscriber
// was not keeping up.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
