package repository

import (
	"context"

	intakedomain "github.com/rcarraroia/slim-quality-sub008/internal/intake/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() intakedomain.Repository {
	return &repo{}
}

func (r *repo) Record(ctx context.Context, db *gorm.DB, event *intakedomain.IntakeEvent) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(event).Error
}
