package models

import "time"

// Ticket states.
const (
	StateQueued   = "queued"
	StateActive   = "active"
	StateFinished = "finished"
)

// Ticket is one customer conversation, tracked from queue entry to finalization.
type Ticket struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	ClientName     string     `gorm:"size:100" json:"client_name"`
	ClientPhone    string     `gorm:"size:20;index" json:"client_phone"`
	ClientEmail    string     `gorm:"size:120" json:"client_email"`
	Subject        string     `gorm:"size:200" json:"subject"`
	Department     string     `gorm:"size:50" json:"department"`
	Priority       int        `gorm:"default:0;index" json:"priority"`
	State          string     `gorm:"size:16;default:queued;index" json:"state"`
	AgentID        *uint      `gorm:"index" json:"agent_id,omitempty"`
	EnteredQueueAt time.Time  `gorm:"index" json:"entered_queue_at"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Rating         *int       `json:"rating,omitempty"`
	RatingComment  string     `gorm:"type:text" json:"rating_comment,omitempty"`
	CreatedAt      time.Time  `json:"-"`
	UpdatedAt      time.Time  `json:"-"`
}

// WaitTime returns how long the ticket sat in the queue before it was claimed.
func (t Ticket) WaitTime() (time.Duration, bool) {
	if t.ClaimedAt == nil {
		return 0, false
	}
	return t.ClaimedAt.Sub(t.EnteredQueueAt), true
}

// HandlingTime returns the time between claim and finalize.
func (t Ticket) HandlingTime() (time.Duration, bool) {
	if t.ClaimedAt == nil || t.FinishedAt == nil {
		return 0, false
	}
	return t.FinishedAt.Sub(*t.ClaimedAt), true
}

// ValidState reports whether s names a ticket state.
func ValidState(s string) bool {
	switch s {
	case StateQueued, StateActive, StateFinished:
		return true
	}
	return false
}
