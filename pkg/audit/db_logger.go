package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBLogger writes authorization decisions to postgres.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit sink and ensures the
// authz_events table exists.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure authz_events table: %w", err)
	}
	return logger, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS authz_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		actor_id VARCHAR(255),
		actor_role VARCHAR(20),
		resource_id VARCHAR(255),
		path TEXT NOT NULL,
		method VARCHAR(10) NOT NULL,
		decision VARCHAR(10) NOT NULL,
		check_name VARCHAR(50) NOT NULL,
		code VARCHAR(50),
		message TEXT,
		required_level INTEGER,
		effective_level INTEGER,
		ip_address VARCHAR(45),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_authz_events_timestamp ON authz_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_authz_events_actor_id ON authz_events(actor_id);
	CREATE INDEX IF NOT EXISTS idx_authz_events_resource ON authz_events(resource_id);
	CREATE INDEX IF NOT EXISTS idx_authz_events_decision ON authz_events(decision);
	`
	_, err := l.db.Exec(query)
	return err
}

// LogDecision inserts one decision row.
func (l *DBLogger) LogDecision(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	query := `
		INSERT INTO authz_events (
			timestamp, actor_id, actor_role, resource_id, path, method,
			decision, check_name, code, message, required_level, effective_level, ip_address
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := l.db.ExecContext(ctx, query,
		event.Timestamp,
		nullString(event.ActorID),
		nullString(event.ActorRole),
		nullString(event.ResourceID),
		event.Path,
		event.Method,
		event.Decision,
		event.Check,
		nullString(event.Code),
		nullString(event.Message),
		event.RequiredLevel,
		event.EffectiveLevel,
		nullString(event.IPAddress),
	)
	if err != nil {
		return fmt.Errorf("failed to insert authz event: %w", err)
	}
	return nil
}

// Close is a no-op: the shared pool is owned by the caller.
func (l *DBLogger) Close() error { return nil }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
