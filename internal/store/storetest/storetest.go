// Package storetest provides SQLite-backed stores for tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB opens a migrated in-memory SQLite database. A single connection
// keeps every query on the same in-memory database.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("test db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gormDB
}

// Open returns a Store on a fresh in-memory database.
func Open(t *testing.T) *store.Gorm {
	t.Helper()
	return store.New(OpenDB(t))
}

// Flaky wraps a Store and fails every call while Down is set.
type Flaky struct {
	store.Store

	mu   sync.Mutex
	down bool
}

// NewFlaky wraps s.
func NewFlaky(s store.Store) *Flaky {
	return &Flaky{Store: s}
}

// SetDown toggles the simulated outage.
func (f *Flaky) SetDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *Flaky) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return store.ErrStoreUnavailable
	}
	return nil
}

func (f *Flaky) CreateTicket(ctx context.Context, t *models.Ticket) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.Store.CreateTicket(ctx, t)
}

func (f *Flaky) UpdateTicket(ctx context.Context, t models.Ticket) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.Store.UpdateTicket(ctx, t)
}

func (f *Flaky) GetTicket(ctx context.Context, id uint) (*models.Ticket, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Store.GetTicket(ctx, id)
}

func (f *Flaky) ListTickets(ctx context.Context, filter store.TicketFilter) ([]models.Ticket, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Store.ListTickets(ctx, filter)
}

func (f *Flaky) CountTicketsByState(ctx context.Context) (map[string]int, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Store.CountTicketsByState(ctx)
}

func (f *Flaky) RecentFinished(ctx context.Context, since time.Time, limit int) ([]models.Ticket, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Store.RecentFinished(ctx, since, limit)
}

func (f *Flaky) AppendMessage(ctx context.Context, m models.Message) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.Store.AppendMessage(ctx, m)
}

func (f *Flaky) ListMessages(ctx context.Context, ticketID uint) ([]models.Message, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Store.ListMessages(ctx, ticketID)
}

func (f *Flaky) CreateAgent(ctx context.Context, a *models.Agent) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.Store.CreateAgent(ctx, a)
}

func (f *Flaky) UpdateAgent(ctx context.Context, a models.Agent) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.Store.UpdateAgent(ctx, a)
}

func (f *Flaky) ListAgents(ctx context.Context) ([]models.Agent, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Store.ListAgents(ctx)
}

func (f *Flaky) MaxMessageID(ctx context.Context) (uint, error) {
	if err := f.err(); err != nil {
		return 0, err
	}
	return f.Store.MaxMessageID(ctx)
}

func (f *Flaky) AgentSummary(ctx context.Context, agentID uint) (*store.AgentSummary, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Store.AgentSummary(ctx, agentID)
}
