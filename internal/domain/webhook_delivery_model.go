package domain

import "time"

// DeliveryAttempt records one outbound push, successful or not.
type DeliveryAttempt struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID  string    `gorm:"size:36;not null;index:idx_delivery_subscription,priority:1" json:"subscription_id"`
	DeliveryID      string    `gorm:"size:36;not null" json:"delivery_id"`
	Event           string    `gorm:"size:64;not null" json:"event"`
	PayloadExcerpt  string    `gorm:"type:text" json:"payload_excerpt"`
	StatusCode      *int      `json:"status_code,omitempty"`
	ResponseExcerpt string    `gorm:"type:text" json:"response_excerpt"`
	Success         bool      `gorm:"not null" json:"success"`
	DurationMs      int64     `gorm:"not null;default:0" json:"duration_ms"`
	CreatedAt       time.Time `gorm:"index:idx_delivery_subscription,priority:2" json:"created_at"`
}

func (DeliveryAttempt) TableName() string {
	return "webhook_deliveries"
}
