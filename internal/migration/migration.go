package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	affiliatedomain "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/domain"
	attributiondomain "github.com/rcarraroia/slim-quality-sub008/internal/attribution/domain"
	auditdomain "github.com/rcarraroia/slim-quality-sub008/internal/audit/domain"
	commissiondomain "github.com/rcarraroia/slim-quality-sub008/internal/commission/domain"
	ruledomain "github.com/rcarraroia/slim-quality-sub008/internal/commissionrule/domain"
	intakedomain "github.com/rcarraroia/slim-quality-sub008/internal/intake/domain"
	ledgerdomain "github.com/rcarraroia/slim-quality-sub008/internal/ledger/domain"
	withdrawaldomain "github.com/rcarraroia/slim-quality-sub008/internal/withdrawal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	migrationsDir = "migrations"

	openWithdrawalIndex    = "ux_withdrawal_requests_open"
	openWithdrawalIndexSQL = "CREATE UNIQUE INDEX " + openWithdrawalIndex + " ON withdrawal_requests(affiliate_id) WHERE status IN ('requested','approved')"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every table owned by the service.
func Models() []any {
	return []any{
		&affiliatedomain.Affiliate{},
		&affiliatedomain.GenealogyLock{},
		&attributiondomain.ReferralAttribution{},
		&attributiondomain.ReferralTouch{},
		&ruledomain.CommissionRule{},
		&commissiondomain.ProcessedOrder{},
		&ledgerdomain.Commission{},
		&ledgerdomain.Reservation{},
		&ledgerdomain.ReservationItem{},
		&withdrawaldomain.WithdrawalRequest{},
		&intakedomain.IntakeEvent{},
		&auditdomain.AuditLog{},
	}
}

// AutoMigrate builds the schema from the models for dialects without SQL
// migrations (sqlite, mysql).
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&affiliatedomain.GenealogyLock{Name: affiliatedomain.GenealogyLockName}).Error; err != nil {
		return fmt.Errorf("seed genealogy lock: %w", err)
	}
	// MySQL has no partial indexes; the in-transaction check covers it there.
	// The sqlite statement stays on one line so the driver can parse it back
	// on the next AutoMigrate.
	if db.Dialector.Name() == "sqlite" && !db.Migrator().HasIndex(&withdrawaldomain.WithdrawalRequest{}, openWithdrawalIndex) {
		if err := db.Exec(openWithdrawalIndexSQL).Error; err != nil {
			return fmt.Errorf("create open withdrawal index: %w", err)
		}
	}
	return nil
}
