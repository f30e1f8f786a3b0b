// Package registry tracks agent presence, capacity and current load.
//
// Load is the number of active tickets assigned to an agent. It is kept in
// memory only and changes exclusively through Reserve and Release, which the
// desk calls inside the same critical section that moves a ticket into or out
// of the active state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("registry: invalid credentials")
	ErrAgentNotFound      = errors.New("registry: agent not found")
	ErrAgentOffline       = errors.New("registry: agent is offline")
	ErrCapacityExceeded   = errors.New("registry: agent at capacity")
	ErrEmailTaken         = errors.New("registry: email already registered")
)

// Agent is a point-in-time view of an agent.
type Agent struct {
	ID           uint       `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Status       string     `json:"status"`
	Capacity     int        `json:"capacity"`
	Load         int        `json:"current_load"`
	TotalHandled int        `json:"total_handled"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
}

// Available reports whether the agent could claim a ticket right now.
func (a Agent) Available() bool {
	return a.Status == models.AgentOnline && a.Load < a.Capacity
}

// NewAgent describes an agent account to create.
type NewAgent struct {
	Name     string
	Email    string
	Password string
	Capacity int
}

// Opts configures a Registry.
type Opts struct {
	Store    store.Store
	Writer   *store.Writer
	Bus      *events.Bus
	HashCost int // bcrypt cost; zero means bcrypt.DefaultCost
}

type agentState struct {
	rec  models.Agent
	load int
}

func (s *agentState) view() Agent {
	return Agent{
		ID:           s.rec.ID,
		Name:         s.rec.Name,
		Email:        s.rec.Email,
		Status:       s.rec.Status,
		Capacity:     s.rec.Capacity,
		Load:         s.load,
		TotalHandled: s.rec.TotalHandled,
		LastSeenAt:   s.rec.LastSeenAt,
	}
}

// Registry is the in-memory authority for agent presence and load.
type Registry struct {
	store    store.Store
	writer   *store.Writer
	bus      *events.Bus
	hashCost int
	now      func() time.Time

	mu      sync.Mutex
	agents  map[uint]*agentState
	byEmail map[string]uint
	adding  map[string]bool // emails with an Add in flight
}

// New creates an empty Registry. Call Load to hydrate it from the store.
func New(opts Opts) (*Registry, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("registry: store is required")
	}
	if opts.Writer == nil {
		return nil, fmt.Errorf("registry: writer is required")
	}
	cost := opts.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Registry{
		store:    opts.Store,
		writer:   opts.Writer,
		bus:      opts.Bus,
		hashCost: cost,
		now:      time.Now,
		agents:   make(map[uint]*agentState),
		byEmail:  make(map[string]uint),
		adding:   make(map[string]bool),
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Load replaces the registry contents with the agents in the store. Every
// agent starts offline with zero load; the desk restores loads from active
// tickets.
func (r *Registry) Load(ctx context.Context) error {
	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("registry: load agents: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[uint]*agentState, len(agents))
	r.byEmail = make(map[string]uint, len(agents))
	for _, a := range agents {
		st := &agentState{rec: a}
		if st.rec.Status != models.AgentOffline {
			st.rec.Status = models.AgentOffline
			r.persist(st.rec)
		}
		r.agents[a.ID] = st
		r.byEmail[normalizeEmail(a.Email)] = a.ID
	}
	return nil
}

// Restore sets each agent's load from a count of its active tickets.
func (r *Registry) Restore(loads map[uint]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.agents {
		st.load = 0
	}
	for id, n := range loads {
		st, ok := r.agents[id]
		if !ok {
			log.Printf("registry: restore: active tickets reference unknown agent %d", id)
			continue
		}
		st.load = n
		if n > st.rec.Capacity {
			log.Printf("registry: restore: agent %d holds %d active tickets over capacity %d", id, n, st.rec.Capacity)
		}
	}
}

// Add creates an agent account. The row is written synchronously so the
// store assigns the ID.
func (r *Registry) Add(ctx context.Context, na NewAgent) (Agent, error) {
	email := normalizeEmail(na.Email)
	if email == "" {
		return Agent{}, fmt.Errorf("registry: email is required")
	}
	if na.Password == "" {
		return Agent{}, fmt.Errorf("registry: password is required")
	}
	if na.Capacity < 1 {
		return Agent{}, fmt.Errorf("registry: capacity must be at least 1")
	}
	name := strings.TrimSpace(na.Name)
	if name == "" {
		name = email
	}

	r.mu.Lock()
	_, taken := r.byEmail[email]
	if taken || r.adding[email] {
		r.mu.Unlock()
		return Agent{}, fmt.Errorf("%w: %s", ErrEmailTaken, email)
	}
	r.adding[email] = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.adding, email)
		r.mu.Unlock()
	}()

	hash, err := bcrypt.GenerateFromPassword([]byte(na.Password), r.hashCost)
	if err != nil {
		return Agent{}, fmt.Errorf("registry: hash password: %w", err)
	}
	rec := models.Agent{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Status:       models.AgentOffline,
		Capacity:     na.Capacity,
		CreatedAt:    r.now(),
	}
	if err := r.store.CreateAgent(ctx, &rec); err != nil {
		return Agent{}, fmt.Errorf("registry: add %s: %w", email, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	st := &agentState{rec: rec}
	r.agents[rec.ID] = st
	r.byEmail[email] = rec.ID
	return st.view(), nil
}

// Seed adds every configured agent whose email is not registered yet and
// returns how many were created.
func (r *Registry) Seed(ctx context.Context, agents []config.AgentConfig) (int, error) {
	created := 0
	for _, ac := range agents {
		_, err := r.Add(ctx, NewAgent{Name: ac.Name, Email: ac.Email, Password: ac.Password, Capacity: ac.Capacity})
		if errors.Is(err, ErrEmailTaken) {
			continue
		}
		if err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// Login verifies credentials and marks the agent online. Logging in again
// while online is not an error and leaves the load untouched.
func (r *Registry) Login(ctx context.Context, email, password string) (Agent, error) {
	email = normalizeEmail(email)

	r.mu.Lock()
	id, ok := r.byEmail[email]
	var hash string
	if ok {
		hash = r.agents[id].rec.PasswordHash
	}
	r.mu.Unlock()
	if !ok {
		return Agent{}, ErrInvalidCredentials
	}

	// Keep the slow bcrypt comparison outside the lock.
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return Agent{}, ErrInvalidCredentials
	}

	r.mu.Lock()
	st, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return Agent{}, ErrInvalidCredentials
	}
	now := r.now()
	st.rec.Status = models.AgentOnline
	st.rec.LastSeenAt = &now
	r.persist(st.rec)
	view := st.view()
	r.mu.Unlock()

	r.bus.Publish(events.Event{Type: events.AgentLoggedIn, AgentID: id, At: now})
	return view, nil
}

// Logout marks the agent offline. Active tickets stay assigned.
func (r *Registry) Logout(ctx context.Context, agentID uint) error {
	r.mu.Lock()
	st, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrAgentNotFound, agentID)
	}
	if st.rec.Status == models.AgentOffline {
		r.mu.Unlock()
		return nil
	}
	now := r.now()
	st.rec.Status = models.AgentOffline
	st.rec.LastSeenAt = &now
	r.persist(st.rec)
	r.mu.Unlock()

	r.bus.Publish(events.Event{Type: events.AgentLoggedOut, AgentID: agentID, At: now})
	return nil
}

// persist queues a write of rec. Caller holds r.mu so writes for one agent
// reach the store in mutation order.
func (r *Registry) persist(rec models.Agent) {
	r.writer.Submit(store.Op{
		Desc: fmt.Sprintf("agent %d", rec.ID),
		Apply: func(ctx context.Context, s store.Store) error {
			return s.UpdateAgent(ctx, rec)
		},
	})
}

func (r *Registry) admit(agentID uint) (*agentState, error) {
	st, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAgentNotFound, agentID)
	}
	if st.rec.Status != models.AgentOnline {
		return nil, fmt.Errorf("%w: %d", ErrAgentOffline, agentID)
	}
	if st.load >= st.rec.Capacity {
		return nil, fmt.Errorf("%w: agent %d holds %d of %d", ErrCapacityExceeded, agentID, st.load, st.rec.Capacity)
	}
	return st, nil
}

// CanClaim reports, without mutating anything, whether the agent may take
// another ticket.
func (r *Registry) CanClaim(agentID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.admit(agentID)
	return err
}

// Reserve atomically re-checks admission and takes one unit of the agent's
// capacity.
func (r *Registry) Reserve(agentID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.admit(agentID)
	if err != nil {
		return err
	}
	st.load++
	st.rec.TotalHandled++
	r.persist(st.rec)
	return nil
}

// Release gives back one unit of the agent's capacity.
func (r *Registry) Release(agentID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.agents[agentID]
	if !ok {
		log.Printf("registry: release for unknown agent %d", agentID)
		return
	}
	if st.load == 0 {
		log.Printf("registry: release for agent %d with no load", agentID)
		return
	}
	st.load--
}

// CapacityOf returns the agent's configured capacity.
func (r *Registry) CapacityOf(agentID uint) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.agents[agentID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrAgentNotFound, agentID)
	}
	return st.rec.Capacity, nil
}

// LoadOf returns the agent's current number of active tickets.
func (r *Registry) LoadOf(agentID uint) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.agents[agentID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrAgentNotFound, agentID)
	}
	return st.load, nil
}

// Get returns one agent.
func (r *Registry) Get(agentID uint) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.agents[agentID]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %d", ErrAgentNotFound, agentID)
	}
	return st.view(), nil
}

// List returns every agent ordered by ID.
func (r *Registry) List() []Agent {
	r.mu.Lock()
	out := make([]Agent, 0, len(r.agents))
	for _, st := range r.agents {
		out = append(out, st.view())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Available returns online agents with spare capacity.
func (r *Registry) Available() []Agent {
	var out []Agent
	for _, a := range r.List() {
		if a.Available() {
			out = append(out, a)
		}
	}
	return out
}

// OnlineCount returns the number of online agents.
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.agents {
		if st.rec.Status == models.AgentOnline {
			n++
		}
	}
	return n
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}
