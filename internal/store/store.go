// Package store is the durable record of tickets, messages and agents.
// It is pure data access: state-machine and capacity policy live in desk
// and registry.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrStoreUnavailable wraps every other persistence failure.
	ErrStoreUnavailable = errors.New("store: unavailable")
)

// TicketFilter narrows ListTickets. Zero values match everything.
type TicketFilter struct {
	States  []string
	AgentID *uint
	Limit   int
}

// AgentSummary aggregates an agent's finished tickets.
type AgentSummary struct {
	Finished       int
	AvgHandling    time.Duration
	AvgRating      float64
	RatedTickets   int
	LastFinishedAt *time.Time
}

// Store is the persistence boundary used by the registry, desk and stats.
type Store interface {
	CreateTicket(ctx context.Context, t *models.Ticket) error
	UpdateTicket(ctx context.Context, t models.Ticket) error
	GetTicket(ctx context.Context, id uint) (*models.Ticket, error)
	ListTickets(ctx context.Context, f TicketFilter) ([]models.Ticket, error)
	CountTicketsByState(ctx context.Context) (map[string]int, error)
	RecentFinished(ctx context.Context, since time.Time, limit int) ([]models.Ticket, error)

	AppendMessage(ctx context.Context, m models.Message) error
	ListMessages(ctx context.Context, ticketID uint) ([]models.Message, error)
	MaxMessageID(ctx context.Context) (uint, error)

	CreateAgent(ctx context.Context, a *models.Agent) error
	UpdateAgent(ctx context.Context, a models.Agent) error
	ListAgents(ctx context.Context) ([]models.Agent, error)
	AgentSummary(ctx context.Context, agentID uint) (*AgentSummary, error)
}

// Gorm implements Store on a GORM connection.
type Gorm struct {
	db *gorm.DB
}

// New returns a Store backed by db.
func New(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// CreateTicket inserts t and fills in its database-assigned ID.
func (s *Gorm) CreateTicket(ctx context.Context, t *models.Ticket) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return unavailable("create ticket", err)
	}
	return nil
}

// UpdateTicket writes every column of t.
func (s *Gorm) UpdateTicket(ctx context.Context, t models.Ticket) error {
	if t.ID == 0 {
		return fmt.Errorf("store: update ticket: id is required")
	}
	if err := s.db.WithContext(ctx).Save(&t).Error; err != nil {
		return unavailable(fmt.Sprintf("update ticket %d", t.ID), err)
	}
	return nil
}

// GetTicket loads a single ticket.
func (s *Gorm) GetTicket(ctx context.Context, id uint) (*models.Ticket, error) {
	var t models.Ticket
	err := s.db.WithContext(ctx).First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: ticket %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable(fmt.Sprintf("get ticket %d", id), err)
	}
	return &t, nil
}

// ListTickets returns tickets matching f, newest queue entry first.
func (s *Gorm) ListTickets(ctx context.Context, f TicketFilter) ([]models.Ticket, error) {
	q := s.db.WithContext(ctx).Model(&models.Ticket{})
	if len(f.States) > 0 {
		q = q.Where("state IN ?", f.States)
	}
	if f.AgentID != nil {
		q = q.Where("agent_id = ?", *f.AgentID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var tickets []models.Ticket
	if err := q.Order("entered_queue_at DESC, id DESC").Find(&tickets).Error; err != nil {
		return nil, unavailable("list tickets", err)
	}
	return tickets, nil
}

// CountTicketsByState returns ticket counts keyed by state.
func (s *Gorm) CountTicketsByState(ctx context.Context) (map[string]int, error) {
	type row struct {
		State string
		Count int
	}
	var rows []row
	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Select("state, count(*) as count").
		Group("state").
		Find(&rows).Error; err != nil {
		return nil, unavailable("count tickets", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.State] = r.Count
	}
	return counts, nil
}

// RecentFinished returns up to limit tickets finished at or after since,
// most recent first.
func (s *Gorm) RecentFinished(ctx context.Context, since time.Time, limit int) ([]models.Ticket, error) {
	q := s.db.WithContext(ctx).
		Where("state = ? AND finished_at >= ?", models.StateFinished, since).
		Order("finished_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var tickets []models.Ticket
	if err := q.Find(&tickets).Error; err != nil {
		return nil, unavailable("recent finished", err)
	}
	return tickets, nil
}

// AppendMessage inserts m. Message IDs are assigned by the caller.
func (s *Gorm) AppendMessage(ctx context.Context, m models.Message) error {
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return unavailable(fmt.Sprintf("append message to ticket %d", m.TicketID), err)
	}
	return nil
}

// ListMessages returns a ticket's messages in append order.
func (s *Gorm) ListMessages(ctx context.Context, ticketID uint) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.db.WithContext(ctx).Where("ticket_id = ?", ticketID).
		Order("sent_at ASC, id ASC").Find(&msgs).Error; err != nil {
		return nil, unavailable(fmt.Sprintf("list messages for ticket %d", ticketID), err)
	}
	return msgs, nil
}

// MaxMessageID returns the highest stored message ID, or 0 when empty.
func (s *Gorm) MaxMessageID(ctx context.Context) (uint, error) {
	var max int64
	row := s.db.WithContext(ctx).Model(&models.Message{}).Select("COALESCE(MAX(id), 0)").Row()
	if err := row.Scan(&max); err != nil {
		return 0, unavailable("max message id", err)
	}
	return uint(max), nil
}

// CreateAgent inserts a and fills in its database-assigned ID.
func (s *Gorm) CreateAgent(ctx context.Context, a *models.Agent) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return unavailable(fmt.Sprintf("create agent %s", a.Email), err)
	}
	return nil
}

// UpdateAgent writes presence and counters for a. The password hash is
// never rewritten here.
func (s *Gorm) UpdateAgent(ctx context.Context, a models.Agent) error {
	result := s.db.WithContext(ctx).Model(&models.Agent{}).Where("id = ?", a.ID).
		Updates(map[string]interface{}{
			"name":          a.Name,
			"status":        a.Status,
			"capacity":      a.Capacity,
			"total_handled": a.TotalHandled,
			"last_seen_at":  a.LastSeenAt,
		})
	if result.Error != nil {
		return unavailable(fmt.Sprintf("update agent %d", a.ID), result.Error)
	}
	return nil
}

// ListAgents returns every agent ordered by ID.
func (s *Gorm) ListAgents(ctx context.Context) ([]models.Agent, error) {
	var agents []models.Agent
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&agents).Error; err != nil {
		return nil, unavailable("list agents", err)
	}
	return agents, nil
}

// AgentSummary aggregates the finished tickets of one agent.
func (s *Gorm) AgentSummary(ctx context.Context, agentID uint) (*AgentSummary, error) {
	var tickets []models.Ticket
	if err := s.db.WithContext(ctx).
		Where("agent_id = ? AND state = ?", agentID, models.StateFinished).
		Find(&tickets).Error; err != nil {
		return nil, unavailable(fmt.Sprintf("agent summary %d", agentID), err)
	}

	sum := &AgentSummary{Finished: len(tickets)}
	var handling time.Duration
	var handled, ratingTotal int
	for _, t := range tickets {
		if d, ok := t.HandlingTime(); ok {
			handling += d
			handled++
		}
		if t.Rating != nil {
			ratingTotal += *t.Rating
			sum.RatedTickets++
		}
		if t.FinishedAt != nil && (sum.LastFinishedAt == nil || t.FinishedAt.After(*sum.LastFinishedAt)) {
			sum.LastFinishedAt = t.FinishedAt
		}
	}
	if handled > 0 {
		sum.AvgHandling = handling / time.Duration(handled)
	}
	if sum.RatedTickets > 0 {
		sum.AvgRating = float64(ratingTotal) / float64(sum.RatedTickets)
	}
	return sum, nil
}
