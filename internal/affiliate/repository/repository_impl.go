package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/domain"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// genealogyLockKey is the postgres advisory lock id guarding tree mutations.
const genealogyLockKey int64 = 0x61666667656e

var errGenealogyLockMissing = errors.New("genealogy lock row missing, run migrations")

type repo struct{}

func Provide() affiliatedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, affiliate *affiliatedomain.Affiliate) error {
	return conn.WithContext(ctx).Create(affiliate).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*affiliatedomain.Affiliate, error) {
	var affiliate affiliatedomain.Affiliate
	err := conn.WithContext(ctx).Where("id = ?", id).Take(&affiliate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

func (r *repo) FindByCode(ctx context.Context, conn *gorm.DB, code string) (*affiliatedomain.Affiliate, error) {
	var affiliate affiliatedomain.Affiliate
	err := conn.WithContext(ctx).Where("code = ?", code).Take(&affiliate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

func (r *repo) LockByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*affiliatedomain.Affiliate, error) {
	stmt := conn.WithContext(ctx)
	if db.SupportsRowLocks(conn) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var affiliate affiliatedomain.Affiliate
	err := stmt.Where("id = ?", id).Take(&affiliate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

func (r *repo) LockGenealogy(ctx context.Context, conn *gorm.DB) error {
	switch conn.Dialector.Name() {
	case "postgres":
		return conn.WithContext(ctx).Exec(`SELECT pg_advisory_xact_lock(?)`, genealogyLockKey).Error
	case "mysql":
		var lock affiliatedomain.GenealogyLock
		err := conn.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("name = ?", affiliatedomain.GenealogyLockName).
			Take(&lock).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errGenealogyLockMissing
		}
		return err
	default:
		return nil
	}
}

func (r *repo) ChildrenOf(ctx context.Context, conn *gorm.DB, parentIDs []snowflake.ID) ([]snowflake.ID, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var ids []snowflake.ID
	err := conn.WithContext(ctx).
		Model(&affiliatedomain.Affiliate{}).
		Where("parent_id IN ?", parentIDs).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) UpdateParent(ctx context.Context, conn *gorm.DB, id snowflake.ID, parentID snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).
		Model(&affiliatedomain.Affiliate{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"parent_id":  parentID,
			"updated_at": now,
		}).Error
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, status affiliatedomain.Status, now time.Time) error {
	return conn.WithContext(ctx).
		Model(&affiliatedomain.Affiliate{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": now,
		}).Error
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, req affiliatedomain.ListRequest, cursor *pagination.Cursor, limit int) ([]affiliatedomain.Affiliate, error) {
	stmt := conn.WithContext(ctx).Model(&affiliatedomain.Affiliate{})
	if req.Status != "" {
		stmt = stmt.Where("status = ?", req.Status)
	}
	if req.ParentID != nil {
		stmt = stmt.Where("parent_id = ?", *req.ParentID)
	}
	if cursor != nil {
		stmt = stmt.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var items []affiliatedomain.Affiliate
	err := stmt.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
