package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	coupondomain "github.com/smallbiznis/loyalty/internal/coupon/domain"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	redemptiondomain "github.com/smallbiznis/loyalty/internal/redemption/domain"
	referraldomain "github.com/smallbiznis/loyalty/internal/referral/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded postgres schema.
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

// Models lists every table the service owns, in dependency order.
func Models() []any {
	return []any{
		&accountdomain.Account{},
		&ledgerdomain.Entry{},
		&coupondomain.Coupon{},
		&redemptiondomain.Redemption{},
		&referraldomain.Claim{},
		&auditdomain.AuditLog{},
	}
}

// AutoMigrate builds the schema from the gorm models for dialects the
// embedded SQL does not target.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
