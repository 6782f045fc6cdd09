package domain

import (
	"time"

	"moltguard/internal/security"

	"gorm.io/gorm"
)

// WildcardEvent in an event filter matches every event name.
const WildcardEvent = "*"

// Subscription is an owner's outbound webhook endpoint.
type Subscription struct {
	ID                  string     `gorm:"primaryKey;size:36" json:"id"`
	OwnerActor          string     `gorm:"size:128;not null;index" json:"owner"`
	URL                 string     `gorm:"size:2048;not null" json:"url"`
	Secret              string     `gorm:"-" json:"-"`
	SecretEncrypted     string     `gorm:"column:secret;size:512;not null;default:''" json:"-"`
	EventFilter         StringList `gorm:"type:text;not null" json:"events"`
	Active              bool       `gorm:"not null;index" json:"active"`
	ConsecutiveFailures int        `gorm:"not null;default:0" json:"consecutive_failures"`
	LastTriggeredAt     *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Deliveries []DeliveryAttempt `gorm:"foreignKey:SubscriptionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}

func (Subscription) TableName() string {
	return "webhook_subscriptions"
}

func (s *Subscription) BeforeSave(_ *gorm.DB) error {
	if s.Secret == "" {
		s.SecretEncrypted = ""
		return nil
	}

	encrypted, err := security.SealWebhookSecret(s.ID, s.Secret)
	if err != nil {
		return err
	}
	s.SecretEncrypted = encrypted
	return nil
}

func (s *Subscription) AfterFind(_ *gorm.DB) error {
	plain, err := security.OpenWebhookSecret(s.ID, s.SecretEncrypted)
	if err != nil {
		return err
	}
	s.Secret = plain
	return nil
}

// HasSecret reports whether deliveries to this subscription are signed.
func (s Subscription) HasSecret() bool {
	return s.Secret != ""
}

// Matches reports whether the subscription wants the named event.
func (s Subscription) Matches(name EventName) bool {
	for _, filter := range s.EventFilter {
		if filter == WildcardEvent || filter == string(name) {
			return true
		}
	}
	return false
}
