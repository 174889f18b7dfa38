package database

import (
	"context"
	"fmt"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                 UUID PRIMARY KEY,
	status             VARCHAR(20) NOT NULL,
	original_key       TEXT NOT NULL,
	processed_key      TEXT,
	original_name      TEXT NOT NULL,
	content_type       VARCHAR(100) NOT NULL,
	output_type        VARCHAR(100),
	file_size          BIGINT NOT NULL DEFAULT 0,
	operations         JSONB NOT NULL DEFAULT '[]',
	error              TEXT,
	progress           INTEGER NOT NULL DEFAULT 0,
	worker_id          VARCHAR(100),
	output_width       INTEGER,
	output_height      INTEGER,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at         TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ,
	processing_time_ms BIGINT,
	delete_at          TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_delete_at ON jobs (delete_at) WHERE delete_at IS NOT NULL;

CREATE OR REPLACE FUNCTION set_jobs_updated_at() RETURNS TRIGGER AS $$
BEGIN
	NEW.updated_at = NOW();
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS jobs_updated_at ON jobs;
CREATE TRIGGER jobs_updated_at BEFORE UPDATE ON jobs
	FOR EACH ROW EXECUTE FUNCTION set_jobs_updated_at();
`

// Migrate creates the jobs table and its indexes when they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	_, err := db.ExecContext(ctx, schema)
	db.observe("migrate", start, err)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
