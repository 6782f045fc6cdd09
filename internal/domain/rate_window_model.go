package domain

// RateWindow counts the actions of one actor for one action type inside a
// fixed, epoch-aligned window. Rows are only ever incremented.
type RateWindow struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Actor       string `gorm:"size:128;not null;uniqueIndex:idx_rate_window_key,priority:1"`
	ActionType  string `gorm:"size:64;not null;uniqueIndex:idx_rate_window_key,priority:2"`
	WindowStart int64  `gorm:"not null;uniqueIndex:idx_rate_window_key,priority:3"`
	WindowEnd   int64  `gorm:"not null;index"`
	Count       int    `gorm:"not null;default:0"`
}

func (RateWindow) TableName() string {
	return "rate_windows"
}
