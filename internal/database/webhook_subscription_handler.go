package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"moltguard/internal/domain"
	"moltguard/internal/security"

	"gorm.io/gorm"
)

// SubscriptionStore persists webhook subscriptions and their delivery log.
type SubscriptionStore struct {
	db *gorm.DB
}

func NewSubscriptionStore(db *gorm.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func (s *SubscriptionStore) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	return s.db.WithContext(ctx).Create(sub).Error
}

func (s *SubscriptionStore) GetSubscription(ctx context.Context, owner, id string) (domain.Subscription, error) {
	if s == nil || s.db == nil {
		return domain.Subscription{}, errNilDB
	}
	return findOwnedSubscription(s.db.WithContext(ctx), owner, id)
}

func (s *SubscriptionStore) ListSubscriptions(ctx context.Context, owner string) ([]domain.Subscription, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}

	var subs []domain.Subscription
	err := s.db.WithContext(ctx).
		Where("owner_actor = ?", owner).
		Order("created_at ASC, id ASC").
		Find(&subs).Error
	return subs, err
}

func (s *SubscriptionStore) ListActiveSubscriptions(ctx context.Context, owner string) ([]domain.Subscription, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}

	var subs []domain.Subscription
	err := s.db.WithContext(ctx).
		Where("owner_actor = ? AND active = ?", owner, true).
		Order("created_at ASC, id ASC").
		Find(&subs).Error
	return subs, err
}

// UpdateSubscription applies an owner patch. Turning an inactive
// subscription back on also clears its failure streak.
func (s *SubscriptionStore) UpdateSubscription(ctx context.Context, owner, id string, patch domain.SubscriptionPatch) (domain.Subscription, error) {
	if s == nil || s.db == nil {
		return domain.Subscription{}, errNilDB
	}

	var updated domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findOwnedSubscription(tx, owner, id); err != nil {
			return err
		}

		changes := map[string]any{}
		if patch.URL != nil {
			changes["url"] = *patch.URL
		}
		if patch.EventFilter != nil {
			changes["event_filter"] = patch.EventFilter
		}
		if patch.Secret != nil {
			encrypted, err := security.SealWebhookSecret(id, *patch.Secret)
			if err != nil {
				return fmt.Errorf("encrypt webhook secret: %w", err)
			}
			changes["secret"] = encrypted
		}
		if patch.Active != nil {
			changes["active"] = *patch.Active
			if *patch.Active {
				// Evaluated against the row being updated, so a deactivation
				// committed after the lookup above still gets its streak cleared.
				changes["consecutive_failures"] = gorm.Expr("CASE WHEN active = ? THEN 0 ELSE consecutive_failures END", false)
			}
		}

		if len(changes) > 0 {
			changes["updated_at"] = time.Now().UTC()
			if err := tx.Session(&gorm.Session{SkipHooks: true}).
				Model(&domain.Subscription{}).
				Where("id = ? AND owner_actor = ?", id, owner).
				Updates(changes).Error; err != nil {
				return err
			}
		}

		var err error
		updated, err = findOwnedSubscription(tx, owner, id)
		return err
	})
	return updated, err
}

// DeleteSubscription removes the subscription together with its delivery log.
func (s *SubscriptionStore) DeleteSubscription(ctx context.Context, owner, id string) error {
	if s == nil || s.db == nil {
		return errNilDB
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findOwnedSubscription(tx, owner, id); err != nil {
			return err
		}
		if err := tx.Where("subscription_id = ?", id).Delete(&domain.DeliveryAttempt{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ? AND owner_actor = ?", id, owner).Delete(&domain.Subscription{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// RecordDeliveryOutcome applies the health delta of one delivery. Success
// clears the failure streak; failure increments it and switches the
// subscription off once the streak reaches threshold. Both paths are single
// relative UPDATE statements so concurrent outcomes do not overwrite each other.
func (s *SubscriptionStore) RecordDeliveryOutcome(ctx context.Context, id string, success bool, at time.Time, threshold int) (domain.Subscription, error) {
	if s == nil || s.db == nil {
		return domain.Subscription{}, errNilDB
	}

	changes := map[string]any{
		"last_triggered_at": at.UTC(),
	}
	if success {
		changes["consecutive_failures"] = 0
	} else {
		changes["consecutive_failures"] = gorm.Expr("consecutive_failures + 1")
		if threshold > 0 {
			changes["active"] = gorm.Expr("CASE WHEN consecutive_failures + 1 >= ? THEN ? ELSE active END", threshold, false)
		}
	}

	var sub domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Session(&gorm.Session{SkipHooks: true}).
			Model(&domain.Subscription{}).
			Where("id = ?", id).
			Updates(changes)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return tx.Where("id = ?", id).Take(&sub).Error
	})
	return sub, err
}

func (s *SubscriptionStore) InsertDeliveryAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	return s.db.WithContext(ctx).Create(attempt).Error
}

func (s *SubscriptionStore) RecentDeliveryAttempts(ctx context.Context, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}

	var attempts []domain.DeliveryAttempt
	err := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}

func findOwnedSubscription(db *gorm.DB, owner, id string) (domain.Subscription, error) {
	var sub domain.Subscription
	err := db.Where("id = ? AND owner_actor = ?", id, owner).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Subscription{}, domain.ErrNotFound
	}
	return sub, err
}
