package desk

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/models"
)

// ticketQueue is a heap of queued tickets: highest priority first, then
// earliest queue entry, then lowest ID.
type ticketQueue []*entry

func before(a, b *models.Ticket) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.EnteredQueueAt.Equal(b.EnteredQueueAt) {
		return a.EnteredQueueAt.Before(b.EnteredQueueAt)
	}
	return a.ID < b.ID
}

func (q ticketQueue) Len() int           { return len(q) }
func (q ticketQueue) Less(i, j int) bool { return before(&q[i].t, &q[j].t) }
func (q ticketQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *ticketQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *ticketQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

func (q *ticketQueue) init() {
	for i, e := range *q {
		e.index = i
	}
	heap.Init(q)
}

// NewTicket is the intake payload for a conversation entering the queue.
// Client details are opaque to the desk.
type NewTicket struct {
	ClientName  string
	ClientPhone string
	ClientEmail string
	Subject     string
	Department  string
	Priority    int
}

// Enqueue records a new ticket and places it in the queue. The row is
// written before the ticket becomes visible, so a store failure leaves the
// queue untouched.
func (d *Desk) Enqueue(ctx context.Context, nt NewTicket) (models.Ticket, error) {
	if nt.Priority < 0 {
		return models.Ticket{}, fmt.Errorf("%w: priority %d is negative", ErrInvalidTicket, nt.Priority)
	}
	t := models.Ticket{
		ClientName:     strings.TrimSpace(nt.ClientName),
		ClientPhone:    strings.TrimSpace(nt.ClientPhone),
		ClientEmail:    strings.TrimSpace(nt.ClientEmail),
		Subject:        strings.TrimSpace(nt.Subject),
		Department:     strings.TrimSpace(nt.Department),
		Priority:       nt.Priority,
		State:          models.StateQueued,
		EnteredQueueAt: d.now(),
	}
	if err := d.store.CreateTicket(ctx, &t); err != nil {
		return models.Ticket{}, fmt.Errorf("desk: enqueue: %w", err)
	}

	e := &entry{t: t, index: -1}
	d.tmu.Lock()
	d.tickets[t.ID] = e
	d.tmu.Unlock()

	d.qmu.Lock()
	heap.Push(&d.queue, e)
	d.qmu.Unlock()

	d.publish(events.TicketEnqueued, copyTicket(t), nil, 0)
	return t, nil
}

// ClaimNext assigns the next ticket in queue order to the agent. Admission
// (online, below capacity) is checked before emptiness, so an agent at
// capacity gets ErrCapacityExceeded whether or not tickets are waiting.
//
// The whole selection and assignment runs under the queue lock: two
// concurrent callers never receive the same ticket, and a failed claim
// mutates nothing. ctx is only consulted before the critical section.
func (d *Desk) ClaimNext(ctx context.Context, agentID uint) (models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticket{}, err
	}

	d.qmu.Lock()
	if err := d.agents.CanClaim(agentID); err != nil {
		d.qmu.Unlock()
		return models.Ticket{}, err
	}
	if d.queue.Len() == 0 {
		d.qmu.Unlock()
		return models.Ticket{}, ErrEmptyQueue
	}
	// Re-checked atomically with the increment: the agent may have logged
	// out since CanClaim.
	if err := d.agents.Reserve(agentID); err != nil {
		d.qmu.Unlock()
		return models.Ticket{}, err
	}
	e := heap.Pop(&d.queue).(*entry)

	e.mu.Lock()
	now := d.now()
	if now.Before(e.t.EnteredQueueAt) {
		now = e.t.EnteredQueueAt
	}
	id := agentID
	e.t.State = models.StateActive
	e.t.AgentID = &id
	e.t.ClaimedAt = &now
	claimed := e.t
	d.persistTicket(claimed)
	e.mu.Unlock()
	d.qmu.Unlock()

	d.publish(events.TicketClaimed, copyTicket(claimed), nil, agentID)
	return claimed, nil
}

// PeekQueue returns the queued tickets in claim order. The snapshot is
// advisory: any ticket in it may be claimed before the caller acts.
func (d *Desk) PeekQueue() []models.Ticket {
	d.qmu.Lock()
	out := make([]models.Ticket, len(d.queue))
	for i, e := range d.queue {
		out[i] = e.t
	}
	d.qmu.Unlock()

	sort.Slice(out, func(i, j int) bool { return before(&out[i], &out[j]) })
	return out
}

// QueueLen returns the number of queued tickets.
func (d *Desk) QueueLen() int {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	return d.queue.Len()
}
