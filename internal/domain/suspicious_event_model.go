package domain

import "time"

// SuspiciousEvent is an append-only audit record of an anomaly verdict.
type SuspiciousEvent struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Actor      string    `gorm:"size:128;not null;index" json:"actor"`
	ActionType string    `gorm:"size:64;not null" json:"action_type"`
	Reason     string    `gorm:"size:256;not null" json:"reason"`
	Metadata   Metadata  `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (SuspiciousEvent) TableName() string {
	return "suspicious_events"
}
