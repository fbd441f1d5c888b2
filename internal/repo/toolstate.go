package repo

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/tools"
)

// GetToolState reads one tool state row. A missing row is returned as
// (nil, nil) so callers can start from the zero value.
func GetToolState(ctx context.Context, db *gorm.DB, sender, kind string) (*domain.ToolState, error) {
	var st domain.ToolState
	err := db.WithContext(ctx).
		Where("sender = ? AND kind = ?", sender, kind).
		First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// PutToolState upserts one tool state row.
func PutToolState(ctx context.Context, db *gorm.DB, st *domain.ToolState) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sender"}, {Name: "kind"}},
			UpdateAll: true,
		}).
		Create(st).Error
}

// LoadToolState assembles the full per-sender tool state from its rows.
// Rows that are missing leave the corresponding section empty.
func LoadToolState(ctx context.Context, db *gorm.DB, sender string) (*tools.State, error) {
	state := &tools.State{Sender: sender}
	sections := []struct {
		kind string
		dst  any
	}{
		{tools.KindTodo, &state.Todo},
		{tools.KindLog, &state.Log},
		{tools.KindCron, &state.Cron},
	}
	for _, s := range sections {
		row, err := GetToolState(ctx, db, sender, s.kind)
		if err != nil {
			return nil, err
		}
		if row == nil || len(row.Data) == 0 {
			continue
		}
		if err := json.Unmarshal(row.Data, s.dst); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// SaveToolState splits the per-sender tool state back into its rows.
func SaveToolState(ctx context.Context, db *gorm.DB, state *tools.State) error {
	sections := []struct {
		kind string
		src  any
	}{
		{tools.KindTodo, state.Todo},
		{tools.KindLog, state.Log},
		{tools.KindCron, state.Cron},
	}
	for _, s := range sections {
		data, err := json.Marshal(s.src)
		if err != nil {
			return err
		}
		row := &domain.ToolState{Sender: state.Sender, Kind: s.kind, Data: data}
		if err := PutToolState(ctx, db, row); err != nil {
			return err
		}
	}
	return nil
}
