package database

import (
	"context"

	"moltguard/internal/domain"

	"gorm.io/gorm"
)

type SuspiciousEventStore struct {
	db *gorm.DB
}

func NewSuspiciousEventStore(db *gorm.DB) *SuspiciousEventStore {
	return &SuspiciousEventStore{db: db}
}

func (s *SuspiciousEventStore) AppendSuspiciousEvent(ctx context.Context, event *domain.SuspiciousEvent) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *SuspiciousEventStore) ListSuspiciousEvents(ctx context.Context, actor string, limit int) ([]domain.SuspiciousEvent, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}

	var events []domain.SuspiciousEvent
	err := s.db.WithContext(ctx).
		Where("actor = ?", actor).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
