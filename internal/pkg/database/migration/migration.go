package migration

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const pgDriverName = "postgres"

//go:embed sql/*.sql
var migrations embed.FS

// Migrate brings the schema at dsn up to the latest embedded version.
func Migrate(dsn string) error {
	db, err := sql.Open(pgDriverName, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}
	src, err := iofs.New(migrations, "sql")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, pgDriverName, driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	zap.L().Info("schema migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
