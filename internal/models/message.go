package models

import "time"

// Message sender kinds.
const (
	SenderClient = "client"
	SenderAgent  = "agent"
	SenderBot    = "bot"
)

// Message is one entry in a ticket's append-only conversation history.
// IDs are assigned by the desk, not the database, so they are known before
// the write-behind persister stores the row.
type Message struct {
	ID       uint      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TicketID uint      `gorm:"not null;index" json:"ticket_id"`
	Sender   string    `gorm:"size:8;not null" json:"sender"`
	AgentID  *uint     `json:"agent_id,omitempty"`
	Body     string    `gorm:"type:text;not null" json:"body"`
	SentAt   time.Time `gorm:"index" json:"sent_at"`
}

// ValidSender reports whether s names a message sender kind.
func ValidSender(s string) bool {
	switch s {
	case SenderClient, SenderAgent, SenderBot:
		return true
	}
	return false
}
