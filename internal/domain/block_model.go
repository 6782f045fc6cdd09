package domain

import "time"

// Block suspends an actor. A nil BlockedUntil means the block never expires.
type Block struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Actor        string     `gorm:"size:128;not null;index" json:"actor"`
	Reason       string     `gorm:"size:512;not null;default:''" json:"reason"`
	BlockedUntil *time.Time `gorm:"index" json:"blocked_until,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Block) TableName() string {
	return "blocks"
}

// Permanent reports whether the block has no expiry.
func (b Block) Permanent() bool {
	return b.BlockedUntil == nil
}

// ActiveAt reports whether the block is still in force at now.
func (b Block) ActiveAt(now time.Time) bool {
	return b.BlockedUntil == nil || b.BlockedUntil.After(now)
}

// MoreRestrictiveThan orders blocks: permanent first, then the later expiry.
func (b Block) MoreRestrictiveThan(other Block) bool {
	switch {
	case b.BlockedUntil == nil:
		return other.BlockedUntil != nil
	case other.BlockedUntil == nil:
		return false
	default:
		return b.BlockedUntil.After(*other.BlockedUntil)
	}
}
