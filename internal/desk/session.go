package desk

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/store"
)

// Outcome closes a session. Rating, when set, must be 1 to 5.
type Outcome struct {
	AgentID *uint // when set, must be the assignee
	Rating  *int
	Comment string
}

// inactive resolves a ticket that is not in the live table: either an
// earlier process finished it, or it never existed.
func (d *Desk) inactive(ctx context.Context, id uint) error {
	if _, err := d.stored(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: ticket %d is %s", ErrTicketNotActive, id, models.StateFinished)
}

// PostMessage appends a message to an active ticket. Agent messages must
// come from the assignee; agentID is ignored for client and bot senders.
// sent_at never goes backwards within a ticket.
func (d *Desk) PostMessage(ctx context.Context, ticketID uint, sender, body string, agentID *uint) (models.Message, error) {
	if !models.ValidSender(sender) {
		return models.Message{}, fmt.Errorf("%w: %q", ErrInvalidSender, sender)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return models.Message{}, ErrEmptyBody
	}

	e := d.lookup(ticketID)
	if e == nil {
		return models.Message{}, d.inactive(ctx, ticketID)
	}

	e.mu.Lock()
	if e.t.State != models.StateActive {
		state := e.t.State
		e.mu.Unlock()
		return models.Message{}, fmt.Errorf("%w: ticket %d is %s", ErrTicketNotActive, ticketID, state)
	}
	var author *uint
	if sender == models.SenderAgent {
		if agentID == nil || e.t.AgentID == nil || *agentID != *e.t.AgentID {
			e.mu.Unlock()
			return models.Message{}, fmt.Errorf("%w: ticket %d", ErrNotAssignee, ticketID)
		}
		id := *agentID
		author = &id
	}
	sentAt := d.now()
	if n := len(e.msgs); n > 0 && sentAt.Before(e.msgs[n-1].SentAt) {
		sentAt = e.msgs[n-1].SentAt
	}
	m := models.Message{
		ID:       uint(d.msgSeq.Add(1)),
		TicketID: ticketID,
		Sender:   sender,
		AgentID:  author,
		Body:     body,
		SentAt:   sentAt,
	}
	e.msgs = append(e.msgs, m)
	d.writer.Submit(store.Op{
		Desc: fmt.Sprintf("message %d on ticket %d", m.ID, ticketID),
		Apply: func(ctx context.Context, s store.Store) error {
			return s.AppendMessage(ctx, m)
		},
	})
	e.mu.Unlock()

	msg := m
	d.publish(events.MessagePosted, nil, &msg, 0)
	return m, nil
}

// Finalize closes an active ticket and frees one unit of the assignee's
// capacity. A second Finalize on the same ticket fails with
// ErrTicketNotActive and changes nothing.
func (d *Desk) Finalize(ctx context.Context, ticketID uint, out Outcome) (models.Ticket, error) {
	if out.Rating != nil && (*out.Rating < 1 || *out.Rating > 5) {
		return models.Ticket{}, fmt.Errorf("%w: got %d", ErrInvalidRating, *out.Rating)
	}

	e := d.lookup(ticketID)
	if e == nil {
		return models.Ticket{}, d.inactive(ctx, ticketID)
	}

	e.mu.Lock()
	if e.t.State != models.StateActive {
		state := e.t.State
		e.mu.Unlock()
		return models.Ticket{}, fmt.Errorf("%w: ticket %d is %s", ErrTicketNotActive, ticketID, state)
	}
	if out.AgentID != nil && (e.t.AgentID == nil || *out.AgentID != *e.t.AgentID) {
		e.mu.Unlock()
		return models.Ticket{}, fmt.Errorf("%w: ticket %d", ErrNotAssignee, ticketID)
	}
	now := d.now()
	if e.t.ClaimedAt != nil && now.Before(*e.t.ClaimedAt) {
		now = *e.t.ClaimedAt
	}
	e.t.State = models.StateFinished
	e.t.FinishedAt = &now
	if out.Rating != nil {
		r := *out.Rating
		e.t.Rating = &r
	}
	e.t.RatingComment = strings.TrimSpace(out.Comment)
	var agentID uint
	if e.t.AgentID != nil {
		agentID = *e.t.AgentID
		d.agents.Release(agentID)
	}
	finished := e.t
	d.persistTicket(finished)
	e.mu.Unlock()

	d.publish(events.TicketFinalized, copyTicket(finished), nil, agentID)
	return finished, nil
}

// ListMessages returns a ticket's full history in append order. History
// stays readable after the ticket is finished.
func (d *Desk) ListMessages(ctx context.Context, ticketID uint) ([]models.Message, error) {
	if e := d.lookup(ticketID); e != nil {
		e.mu.Lock()
		out := make([]models.Message, len(e.msgs))
		copy(out, e.msgs)
		e.mu.Unlock()
		return out, nil
	}
	if _, err := d.stored(ctx, ticketID); err != nil {
		return nil, err
	}
	return d.store.ListMessages(ctx, ticketID)
}

// Ticket returns the current state of a ticket.
func (d *Desk) Ticket(ctx context.Context, ticketID uint) (models.Ticket, error) {
	if e := d.lookup(ticketID); e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.t, nil
	}
	t, err := d.stored(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	return *t, nil
}

// AgentTickets lists the tickets assigned to an agent, optionally filtered
// by state, newest queue entry first. Tickets finished by an earlier process
// are read from the store.
func (d *Desk) AgentTickets(ctx context.Context, agentID uint, state string) ([]models.Ticket, error) {
	if state != "" && !models.ValidState(state) {
		return nil, fmt.Errorf("desk: unknown ticket state %q", state)
	}

	d.tmu.RLock()
	entries := make([]*entry, 0, len(d.tickets))
	for _, e := range d.tickets {
		entries = append(entries, e)
	}
	d.tmu.RUnlock()

	seen := make(map[uint]bool)
	var out []models.Ticket
	for _, e := range entries {
		e.mu.Lock()
		t := e.t
		e.mu.Unlock()
		if t.AgentID == nil || *t.AgentID != agentID {
			continue
		}
		seen[t.ID] = true
		if state == "" || t.State == state {
			out = append(out, t)
		}
	}

	if state == "" || state == models.StateFinished {
		id := agentID
		past, err := d.store.ListTickets(ctx, store.TicketFilter{
			States:  []string{models.StateFinished},
			AgentID: &id,
		})
		if err != nil {
			return nil, fmt.Errorf("desk: agent %d tickets: %w", agentID, err)
		}
		for _, t := range past {
			if !seen[t.ID] {
				out = append(out, t)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnteredQueueAt.Equal(out[j].EnteredQueueAt) {
			return out[i].EnteredQueueAt.After(out[j].EnteredQueueAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
