package database

import (
	"context"
	"errors"
	"time"

	"moltguard/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RateWindowStore keeps fixed-window counters in the rate_windows table.
type RateWindowStore struct {
	db *gorm.DB
}

func NewRateWindowStore(db *gorm.DB) *RateWindowStore {
	return &RateWindowStore{db: db}
}

func (s *RateWindowStore) CountWindow(ctx context.Context, actor, actionType string, windowStart time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, errNilDB
	}

	var row domain.RateWindow
	err := s.db.WithContext(ctx).
		Select("count").
		Where("actor = ? AND action_type = ? AND window_start = ?", actor, actionType, windowStart.Unix()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Count, nil
}

// IncrementWindow inserts the window row with count 1 or bumps the existing
// one in a single statement, so concurrent callers never lose an update.
func (s *RateWindowStore) IncrementWindow(ctx context.Context, actor, actionType string, windowStart, windowEnd time.Time) error {
	if s == nil || s.db == nil {
		return errNilDB
	}

	row := domain.RateWindow{
		Actor:       actor,
		ActionType:  actionType,
		WindowStart: windowStart.Unix(),
		WindowEnd:   windowEnd.Unix(),
		Count:       1,
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "actor"}, {Name: "action_type"}, {Name: "window_start"}},
		DoUpdates: clause.Assignments(map[string]any{
			"count": gorm.Expr("rate_windows.count + 1"),
		}),
	}).Create(&row).Error
}

// DeleteWindowsEndedBefore removes windows that closed before cutoff. A
// window that is still open always has window_end in the future and is kept.
func (s *RateWindowStore) DeleteWindowsEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNilDB
	}

	res := s.db.WithContext(ctx).
		Where("window_end < ?", cutoff.Unix()).
		Delete(&domain.RateWindow{})
	return res.RowsAffected, res.Error
}
