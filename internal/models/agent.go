package models

import "time"

// Agent presence states.
const (
	AgentOffline = "offline"
	AgentOnline  = "online"
)

// Agent is a human operator who claims tickets from the queue. Current load
// is not stored: it is derived from the active tickets assigned to the agent.
type Agent struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Name         string `gorm:"size:100;not null"`
	Email        string `gorm:"size:120;uniqueIndex;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	Status       string `gorm:"size:16;default:offline;index"`
	Capacity     int    `gorm:"default:3"`
	TotalHandled int    `gorm:"default:0"`
	CreatedAt    time.Time
	LastSeenAt   *time.Time
}
