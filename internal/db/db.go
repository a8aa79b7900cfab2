// Package db owns the postgres connection and schema migrations for the
// incident archive.
package db

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect opens the archive database and verifies it is reachable.
func Connect(dsn string, log zerolog.Logger) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().Msg("connected to archive database")
	return gdb, nil
}

// Migrate applies the schema statements in order. Statements are idempotent,
// so rerunning on an up-to-date database is safe.
func Migrate(gdb *gorm.DB, log zerolog.Logger) error {
	if err := runMigrations(gdb); err != nil {
		return err
	}
	log.Info().Int("statements", len(migrationStatements)).Msg("database migrations applied")
	return nil
}
