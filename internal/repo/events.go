package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// SaveEvent appends a raw webhook event to the audit store. The platform
// event ID is the natural key, so redeliveries are dropped rather than
// duplicated. Reports whether a row was written.
func SaveEvent(ctx context.Context, db *gorm.DB, ev *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountEvents returns the number of stored events of a given kind.
// An empty kind counts everything.
func CountEvents(ctx context.Context, db *gorm.DB, kind domain.EventKind) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.EventRecord{})
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}
