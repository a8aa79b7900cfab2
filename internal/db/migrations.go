package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id              UUID PRIMARY KEY,
		video_name      TEXT NOT NULL,
		started_at      TIMESTAMPTZ NOT NULL,
		finished_at     TIMESTAMPTZ,
		outcome         TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_video_name ON sessions(video_name);`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id              BIGSERIAL PRIMARY KEY,
		session_id      UUID NOT NULL REFERENCES sessions(id),
		video_name      TEXT NOT NULL,
		frame_seq       BIGINT NOT NULL,
		offset_seconds  DOUBLE PRECISION NOT NULL,
		emergency_type  TEXT NOT NULL,
		confidence      DOUBLE PRECISION NOT NULL,
		reason          TEXT NOT NULL,
		location        TEXT,
		units           JSONB,
		detected_at     TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_session_id ON incidents(session_id);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_video_name ON incidents(video_name);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_emergency_type ON incidents(emergency_type);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_detected_at ON incidents(detected_at);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
