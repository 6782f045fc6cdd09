package database

import (
	"context"
	"time"

	"moltguard/internal/domain"

	"gorm.io/gorm"
)

type BlockStore struct {
	db *gorm.DB
}

func NewBlockStore(db *gorm.DB) *BlockStore {
	return &BlockStore{db: db}
}

func (s *BlockStore) InsertBlock(ctx context.Context, block *domain.Block) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	return s.db.WithContext(ctx).Create(block).Error
}

// ActiveBlocks returns the blocks of actor that are permanent or expire after now.
func (s *BlockStore) ActiveBlocks(ctx context.Context, actor string, now time.Time) ([]domain.Block, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}

	var blocks []domain.Block
	err := s.db.WithContext(ctx).
		Where("actor = ? AND (blocked_until IS NULL OR blocked_until > ?)", actor, now).
		Order("id DESC").
		Find(&blocks).Error
	return blocks, err
}

func (s *BlockStore) ListBlocks(ctx context.Context, actor string, limit int) ([]domain.Block, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}

	var blocks []domain.Block
	err := s.db.WithContext(ctx).
		Where("actor = ?", actor).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&blocks).Error
	return blocks, err
}
