package accessguard

import (
	"context"
	"fmt"
	"time"

	"moltguard/internal/domain"

	"github.com/charmbracelet/log"
)

// BlockStore persists blocks. It is satisfied by *database.BlockStore.
type BlockStore interface {
	InsertBlock(ctx context.Context, block *domain.Block) error
	ActiveBlocks(ctx context.Context, actor string, now time.Time) ([]domain.Block, error)
}

type Status struct {
	Blocked      bool       `json:"blocked"`
	Reason       string     `json:"reason,omitempty"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

type Guard struct {
	store BlockStore
	now   func() time.Time
}

func New(store BlockStore, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{store: store, now: now}
}

// IsBlocked reports the most restrictive block still in force for actor.
func (g *Guard) IsBlocked(ctx context.Context, actor string) (Status, error) {
	now := g.now().UTC()
	blocks, err := g.store.ActiveBlocks(ctx, actor, now)
	if err != nil {
		return Status{}, fmt.Errorf("accessguard: load blocks for %s: %w", actor, err)
	}

	var (
		governing domain.Block
		found     bool
	)
	for _, block := range blocks {
		if !block.ActiveAt(now) {
			continue
		}
		if !found || block.MoreRestrictiveThan(governing) {
			governing = block
			found = true
		}
	}

	if !found {
		return Status{}, nil
	}
	return Status{Blocked: true, Reason: governing.Reason, BlockedUntil: governing.BlockedUntil}, nil
}

// Block suspends actor for duration. A non-positive duration blocks permanently.
func (g *Guard) Block(ctx context.Context, actor, reason string, duration time.Duration) (domain.Block, error) {
	block := domain.Block{
		Actor:     actor,
		Reason:    reason,
		CreatedAt: g.now().UTC(),
	}
	if duration > 0 {
		until := block.CreatedAt.Add(duration)
		block.BlockedUntil = &until
	}

	if err := g.store.InsertBlock(ctx, &block); err != nil {
		return domain.Block{}, fmt.Errorf("accessguard: block %s: %w", actor, err)
	}

	log.Info("Actor blocked", "actor", actor, "reason", reason, "until", block.BlockedUntil)
	return block, nil
}
