package desk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/registry"
	"github.com/zulandar/switchboard/internal/store"
	"github.com/zulandar/switchboard/internal/store/storetest"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	desk   *Desk
	agents *registry.Registry
	store  store.Store
	writer *store.Writer
	bus    *events.Bus
	clock  *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixtureOn(t *testing.T, s store.Store) *fixture {
	t.Helper()
	w := store.NewWriter(s)
	t.Cleanup(w.Close)
	bus := events.NewBus()
	reg, err := registry.New(registry.Opts{Store: s, Writer: w, Bus: bus, HashCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	d, err := New(Opts{Store: s, Writer: w, Agents: reg, Bus: bus})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	d.now = clock.Now
	return &fixture{desk: d, agents: reg, store: s, writer: w, bus: bus, clock: clock}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, storetest.Open(t))
}

// online adds an agent and logs them in.
func (f *fixture) online(t *testing.T, name string, capacity int) uint {
	t.Helper()
	ctx := context.Background()
	email := name + "@example.com"
	a, err := f.agents.Add(ctx, registry.NewAgent{Name: name, Email: email, Password: "pw", Capacity: capacity})
	if err != nil {
		t.Fatalf("Add(%s): %v", name, err)
	}
	if _, err := f.agents.Login(ctx, email, "pw"); err != nil {
		t.Fatalf("Login(%s): %v", name, err)
	}
	return a.ID
}

func (f *fixture) enqueue(t *testing.T, name string, priority int) models.Ticket {
	t.Helper()
	tk, err := f.desk.Enqueue(context.Background(), NewTicket{ClientName: name, Priority: priority})
	if err != nil {
		t.Fatalf("Enqueue(%s): %v", name, err)
	}
	f.clock.Advance(time.Second)
	return tk
}

func TestNew_RequiresCollaborators(t *testing.T) {
	s := storetest.Open(t)
	w := store.NewWriter(s)
	defer w.Close()
	if _, err := New(Opts{}); err == nil {
		t.Error("expected error without store")
	}
	if _, err := New(Opts{Store: s}); err == nil {
		t.Error("expected error without writer")
	}
	if _, err := New(Opts{Store: s, Writer: w}); err == nil {
		t.Error("expected error without registry")
	}
}

func TestEnqueue_AssignsIDAndQueues(t *testing.T) {
	f := newFixture(t)
	tk, err := f.desk.Enqueue(context.Background(), NewTicket{
		ClientName:  "  Carla ",
		ClientPhone: "+5511999990000",
		Subject:     "Billing",
		Priority:    1,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if tk.ID == 0 {
		t.Fatal("expected store-assigned ID")
	}
	if tk.State != models.StateQueued || tk.AgentID != nil || tk.ClaimedAt != nil {
		t.Errorf("ticket = %+v, want queued and unassigned", tk)
	}
	if tk.ClientName != "Carla" {
		t.Errorf("ClientName = %q, want trimmed", tk.ClientName)
	}
	if f.desk.QueueLen() != 1 {
		t.Errorf("QueueLen = %d, want 1", f.desk.QueueLen())
	}

	stored, err := f.store.GetTicket(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if stored.State != models.StateQueued {
		t.Errorf("stored state = %q", stored.State)
	}
}

func TestEnqueue_NegativePriority(t *testing.T) {
	f := newFixture(t)
	_, err := f.desk.Enqueue(context.Background(), NewTicket{Priority: -1})
	if !errors.Is(err, ErrInvalidTicket) {
		t.Fatalf("err = %v, want ErrInvalidTicket", err)
	}
	if f.desk.QueueLen() != 0 {
		t.Error("invalid ticket was queued")
	}
}

func TestEnqueue_StoreUnavailable(t *testing.T) {
	flaky := storetest.NewFlaky(storetest.Open(t))
	f := newFixtureOn(t, flaky)
	flaky.SetDown(true)

	_, err := f.desk.Enqueue(context.Background(), NewTicket{ClientName: "Carla"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if f.desk.QueueLen() != 0 {
		t.Error("queue changed after failed enqueue")
	}
	if len(f.desk.PeekQueue()) != 0 {
		t.Error("PeekQueue shows a ticket that was never stored")
	}
}

func TestEnqueue_PublishesEvent(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.bus.Subscribe(4)
	defer cancel()

	tk := f.enqueue(t, "A", 0)
	select {
	case ev := <-ch:
		if ev.Type != events.TicketEnqueued || ev.Ticket == nil || ev.Ticket.ID != tk.ID {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestClaimNext_PriorityThenArrival(t *testing.T) {
	f := newFixture(t)
	agent := f.online(t, "ana", 5)
	a := f.enqueue(t, "A", 0)
	b := f.enqueue(t, "B", 1)
	c := f.enqueue(t, "C", 0)

	var got []uint
	for i := 0; i < 3; i++ {
		tk, err := f.desk.ClaimNext(context.Background(), agent)
		if err != nil {
			t.Fatalf("ClaimNext #%d: %v", i+1, err)
		}
		got = append(got, tk.ID)
	}
	want := []uint{b.ID, a.ID, c.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("claim order = %v, want %v (B, A, C)", got, want)
		}
	}
}

func TestClaimNext_EqualTimestampsBreakOnID(t *testing.T) {
	f := newFixture(t)
	agent := f.online(t, "ana", 5)
	// Same clock reading for both tickets.
	first, _ := f.desk.Enqueue(context.Background(), NewTicket{ClientName: "first"})
	second, _ := f.desk.Enqueue(context.Background(), NewTicket{ClientName: "second"})

	tk, err := f.desk.ClaimNext(context.Background(), agent)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if tk.ID != first.ID {
		t.Errorf("claimed %d, want lower ID %d (second was %d)", tk.ID, first.ID, second.ID)
	}
}

func TestClaimNext_AssignsTicket(t *testing.T) {
	f := newFixture(t)
	agent := f.online(t, "ana", 2)
	queued := f.enqueue(t, "A", 0)
	f.clock.Advance(30 * time.Second)

	tk, err := f.desk.ClaimNext(context.Background(), agent)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if tk.State != models.StateActive {
		t.Errorf("State = %q, want active", tk.State)
	}
	if tk.AgentID == nil || *tk.AgentID != agent {
		t.Errorf("AgentID = %v, want %d", tk.AgentID, agent)
	}
	if tk.ClaimedAt == nil || tk.ClaimedAt.Before(queued.EnteredQueueAt) {
		t.Errorf("ClaimedAt = %v, want >= %v", tk.ClaimedAt, queued.EnteredQueueAt)
	}
	if wait, ok := tk.WaitTime(); !ok || wait != 31*time.Second {
		t.Errorf("WaitTime = %v, %v; want 31s", wait, ok)
	}
	if load, _ := f.agents.LoadOf(agent); load != 1 {
		t.Errorf("load = %d, want 1", load)
	}
	if f.desk.QueueLen() != 0 {
		t.Errorf("QueueLen = %d, want 0", f.desk.QueueLen())
	}

	f.writer.Flush()
	stored, err := f.store.GetTicket(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if stored.State != models.StateActive || stored.AgentID == nil || *stored.AgentID != agent {
		t.Errorf("stored = %+v, want active for agent %d", stored, agent)
	}
}

func TestClaimNext_EmptyQueue(t *testing.T) {
	f := newFixture(t)
	agent := f.online(t, "ana", 2)

	_, err := f.desk.ClaimNext(context.Background(), agent)
	if !errors.Is(err, ErrEmptyQueue) {
		t.Fatalf("err = %v, want ErrEmptyQueue", err)
	}
	if load, _ := f.agents.LoadOf(agent); load != 0 {
		t.Errorf("load = %d after empty claim, want 0", load)
	}
}

func TestClaimNext_OfflineAgent(t *testing.T) {
	f := newFixture(t)
	a, err := f.agents.Add(context.Background(), registry.NewAgent{Name: "off", Email: "off@example.com", Password: "pw", Capacity: 2})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	f.enqueue(t, "A", 0)

	_, err = f.desk.ClaimNext(context.Background(), a.ID)
	if !errors.Is(err, ErrAgentOffline) {
		t.Fatalf("err = %v, want ErrAgentOffline", err)
	}
	if f.desk.QueueLen() != 1 {
		t.Error("failed claim removed a ticket from the queue")
	}
}

func TestClaimNext_UnknownAgent(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "A", 0)
	if _, err := f.desk.ClaimNext(context.Background(), 999); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("err = %v, want ErrAgentNotFound", err)
	}
}

func TestClaimNext_CapacityCheckedBeforeEmptiness(t *testing.T) {
	f := newFixture(t)
	agent := f.online(t, "ana", 1)
	f.enqueue(t, "A", 0)
	if _, err := f.desk.ClaimNext(context.Background(), agent); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	// Queue is now empty, but the agent is full.
	_, err := f.desk.ClaimNext(context.Background(), agent)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
}

func TestClaimNext_CanceledContext(t *testing.T) {
	f := newFixture(t)
	agent := f.online(t, "ana", 1)
	f.enqueue(t, "A", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.desk.ClaimNext(ctx, agent); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if f.desk.QueueLen() != 1 {
		t.Error("canceled claim removed a ticket")
	}
}

// Ana has capacity 2. T1 (priority 0) then T2 (priority 1) arrive.
// She gets T2 then T1, and a third claim is refused.
func TestScenario_CapacityTwo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ana := f.online(t, "ana", 2)
	t1 := f.enqueue(t, "T1", 0)
	t2 := f.enqueue(t, "T2", 1)
	f.enqueue(t, "T3", 0)

	first, err := f.desk.ClaimNext(ctx, ana)
	if err != nil || first.ID != t2.ID {
		t.Fatalf("first claim = %d, %v; want T2 (%d)", first.ID, err, t2.ID)
	}
	second, err := f.desk.ClaimNext(ctx, ana)
	if err != nil || second.ID != t1.ID {
		t.Fatalf("second claim = %d, %v; want T1 (%d)", second.ID, err, t1.ID)
	}
	if _, err := f.desk.ClaimNext(ctx, ana); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("third claim err = %v, want ErrCapacityExceeded", err)
	}
	if load, _ := f.agents.LoadOf(ana); load != 2 {
		t.Errorf("load = %d, want 2", load)
	}
	if f.desk.QueueLen() != 1 {
		t.Errorf("QueueLen = %d, want 1", f.desk.QueueLen())
	}

	if _, err := f.desk.Finalize(ctx, t2.ID, Outcome{}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if load, _ := f.agents.LoadOf(ana); load != 1 {
		t.Errorf("load after finalize = %d, want 1", load)
	}
	if _, err := f.desk.ClaimNext(ctx, ana); err != nil {
		t.Fatalf("claim after finalize: %v", err)
	}
}

func TestClaimNext_ConcurrentAgentsNeverShareTickets(t *testing.T) {
	f := newFixture(t)
	const agents, perAgent, tickets = 8, 4, 40
	ids := make([]uint, agents)
	for i := range ids {
		ids[i] = f.online(t, string(rune('a'+i))+"gent", perAgent)
	}
	for i := 0; i < tickets; i++ {
		f.enqueue(t, "client", i%3)
	}

	var mu sync.Mutex
	claimed := make(map[uint]uint)
	perAgentCount := make(map[uint]int)
	var wg sync.WaitGroup
	for _, id := range ids {
		for j := 0; j < perAgent+2; j++ {
			wg.Add(1)
			go func(agent uint) {
				defer wg.Done()
				tk, err := f.desk.ClaimNext(context.Background(), agent)
				if err != nil {
					if !errors.Is(err, ErrCapacityExceeded) && !errors.Is(err, ErrEmptyQueue) {
						t.Errorf("ClaimNext: %v", err)
					}
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if prev, dup := claimed[tk.ID]; dup {
					t.Errorf("ticket %d claimed by %d and %d", tk.ID, prev, agent)
				}
				claimed[tk.ID] = agent
				perAgentCount[agent]++
			}(id)
		}
	}
	wg.Wait()

	if len(claimed) != agents*perAgent {
		t.Errorf("claimed %d tickets, want %d", len(claimed), agents*perAgent)
	}
	for agent, n := range perAgentCount {
		if n > perAgent {
			t.Errorf("agent %d holds %d, capacity %d", agent, n, perAgent)
		}
		if load, _ := f.agents.LoadOf(agent); load != n {
			t.Errorf("agent %d load = %d, claimed %d", agent, load, n)
		}
	}
	if got := f.desk.QueueLen(); got != tickets-agents*perAgent {
		t.Errorf("QueueLen = %d, want %d", got, tickets-agents*perAgent)
	}
}

func TestPeekQueue_OrderAndNoMutation(t *testing.T) {
	f := newFixture(t)
	a := f.enqueue(t, "A", 0)
	b := f.enqueue(t, "B", 2)
	c := f.enqueue(t, "C", 1)

	peek := f.desk.PeekQueue()
	if len(peek) != 3 {
		t.Fatalf("len = %d, want 3", len(peek))
	}
	want := []uint{b.ID, c.ID, a.ID}
	for i, tk := range peek {
		if tk.ID != want[i] {
			t.Errorf("peek[%d] = %d, want %d", i, tk.ID, want[i])
		}
	}
	if f.desk.QueueLen() != 3 {
		t.Error("PeekQueue changed the queue")
	}
}

func TestLiveCounts(t *testing.T) {
	f := newFixture(t)
	agent := f.online(t, "ana", 3)
	f.enqueue(t, "A", 0)
	f.enqueue(t, "B", 0)
	f.enqueue(t, "C", 0)
	tk, _ := f.desk.ClaimNext(context.Background(), agent)
	f.desk.ClaimNext(context.Background(), agent)
	f.desk.Finalize(context.Background(), tk.ID, Outcome{})

	queued, active := f.desk.LiveCounts()
	if queued != 1 || active != 1 {
		t.Errorf("LiveCounts = %d, %d; want 1, 1", queued, active)
	}
}

func TestHydrate_RestoresQueueAndLoads(t *testing.T) {
	s := storetest.Open(t)
	f := newFixtureOn(t, s)
	ctx := context.Background()
	agent := f.online(t, "ana", 3)
	low := f.enqueue(t, "low", 0)
	high := f.enqueue(t, "high", 2)
	f.enqueue(t, "mid", 1)
	claimed, err := f.desk.ClaimNext(ctx, agent)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if _, err := f.desk.PostMessage(ctx, claimed.ID, models.SenderClient, "hello", nil); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	f.writer.Flush()

	// A fresh process on the same database.
	g := newFixtureOn(t, s)
	if err := g.desk.Hydrate(ctx); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if claimed.ID != high.ID {
		t.Fatalf("claimed %d, want high-priority %d", claimed.ID, high.ID)
	}
	if g.desk.QueueLen() != 2 {
		t.Errorf("QueueLen = %d, want 2", g.desk.QueueLen())
	}
	if load, err := g.agents.LoadOf(agent); err != nil || load != 1 {
		t.Errorf("LoadOf = %d, %v; want 1", load, err)
	}
	peek := g.desk.PeekQueue()
	if peek[len(peek)-1].ID != low.ID {
		t.Errorf("last queued = %d, want %d", peek[len(peek)-1].ID, low.ID)
	}
	msgs, err := g.desk.ListMessages(ctx, claimed.ID)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("ListMessages = %v, %v; want 1 message", msgs, err)
	}

	// New message IDs continue after the stored ones. Agents come back
	// offline, so log in again before posting as the assignee.
	if _, err := g.agents.Login(ctx, "ana@example.com", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	m, err := g.desk.PostMessage(ctx, claimed.ID, models.SenderAgent, "hi", &agent)
	if err != nil {
		t.Fatalf("PostMessage after hydrate: %v", err)
	}
	if m.ID <= msgs[0].ID {
		t.Errorf("message ID %d not after %d", m.ID, msgs[0].ID)
	}
}

func TestHydrate_StoreUnavailable(t *testing.T) {
	flaky := storetest.NewFlaky(storetest.Open(t))
	f := newFixtureOn(t, flaky)
	flaky.SetDown(true)
	if err := f.desk.Hydrate(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}
