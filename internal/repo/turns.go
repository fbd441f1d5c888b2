package repo

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// CreateTurn inserts a conversation turn. Redelivered webhooks produce the
// same (sender, timestamp, kind) key; those duplicates are silently dropped
// so the handler stays idempotent. It reports whether a row was written.
func CreateTurn(ctx context.Context, db *gorm.DB, turn *domain.ConversationTurn) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(turn)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AttachDelta stores the model exchange produced while handling a turn.
func AttachDelta(ctx context.Context, db *gorm.DB, sender string, ts time.Time, kind domain.TurnKind, delta json.RawMessage) error {
	return db.WithContext(ctx).
		Model(&domain.ConversationTurn{}).
		Where("sender = ? AND timestamp = ? AND kind = ?", sender, ts, kind).
		Update("delta", delta).Error
}

// LatestTurns returns the newest turns for a sender, most recent first.
func LatestTurns(ctx context.Context, db *gorm.DB, sender string, limit int) ([]domain.ConversationTurn, error) {
	if limit <= 0 {
		limit = 10
	}
	var turns []domain.ConversationTurn
	err := db.WithContext(ctx).
		Where("sender = ?", sender).
		Order("timestamp DESC").
		Limit(limit).
		Find(&turns).Error
	if err != nil {
		return nil, err
	}
	return turns, nil
}

// CountTurns returns the number of stored turns for a sender.
func CountTurns(ctx context.Context, db *gorm.DB, sender string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ConversationTurn{}).
		Where("sender = ?", sender).
		Count(&n).Error
	return n, err
}

// ListTurnsPage returns one page of turns for a sender, newest first,
// together with the total row count for pagination headers.
func ListTurnsPage(ctx context.Context, db *gorm.DB, sender string, page, perPage int) ([]domain.ConversationTurn, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	total, err := CountTurns(ctx, db, sender)
	if err != nil {
		return nil, 0, err
	}
	var turns []domain.ConversationTurn
	err = db.WithContext(ctx).
		Where("sender = ?", sender).
		Order("timestamp DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&turns).Error
	if err != nil {
		return nil, 0, err
	}
	return turns, total, nil
}
