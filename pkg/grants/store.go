package grants

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/knowledgeops/stacks/pkg/perm"
)

// Store is the grant persistence contract consumed by the resolver and
// the admin handlers.
type Store interface {
	// FindForEntity looks up the grant level for one (entity,
	// resource) pair. Absence of a row is perm.None, not an error.
	FindForEntity(ctx context.Context, entityType EntityType, entityID, resourceID string) (perm.Level, error)

	// FindAllForResource enumerates every grant on a resource.
	FindAllForResource(ctx context.Context, resourceID string) ([]Grant, error)

	// Upsert creates or overwrites the grant for its unique key.
	Upsert(ctx context.Context, grant Grant) error

	// BulkUpsert applies several grants atomically, so a concurrent
	// resolver call never observes a partially applied batch.
	BulkUpsert(ctx context.Context, grants []Grant) error

	// Delete revokes a single grant.
	Delete(ctx context.Context, entityType EntityType, entityID, resourceID string) error

	// DeleteForResource removes every grant on a resource, used when
	// the resource itself is deleted.
	DeleteForResource(ctx context.Context, resourceID string) error
}

// PostgresStore implements Store over a shared *sql.DB pool.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a grant store on the given pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindForEntity returns the stored level, or perm.None when no row
// exists.
func (s *PostgresStore) FindForEntity(ctx context.Context, entityType EntityType, entityID, resourceID string) (perm.Level, error) {
	if !entityType.Valid() {
		return perm.None, fmt.Errorf("%w: unknown entity type %q", ErrValidation, entityType)
	}

	query := `
		SELECT permission_level FROM grants
		WHERE entity_type = $1 AND entity_id = $2 AND resource_id = $3
	`
	var raw int
	err := s.db.QueryRowContext(ctx, query, entityType, entityID, resourceID).Scan(&raw)
	if err == sql.ErrNoRows {
		return perm.None, nil
	}
	if err != nil {
		return perm.None, fmt.Errorf("failed to look up grant: %w", err)
	}
	return perm.ParseLevel(raw)
}

// FindAllForResource enumerates grants for the admin UI.
func (s *PostgresStore) FindAllForResource(ctx context.Context, resourceID string) ([]Grant, error) {
	query := `
		SELECT entity_type, entity_id, resource_id, permission_level, granted_by, granted_at, updated_at
		FROM grants
		WHERE resource_id = $1
		ORDER BY entity_type, entity_id
	`
	rows, err := s.db.QueryContext(ctx, query, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var g Grant
		var raw int
		var grantedBy sql.NullString
		if err := rows.Scan(&g.EntityType, &g.EntityID, &g.ResourceID, &raw, &grantedBy, &g.GrantedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		level, err := perm.ParseLevel(raw)
		if err != nil {
			return nil, err
		}
		g.Level = level
		if grantedBy.Valid {
			g.GrantedBy = grantedBy.String
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

const upsertQuery = `
	INSERT INTO grants (entity_type, entity_id, resource_id, permission_level, granted_by, granted_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $6)
	ON CONFLICT (entity_type, entity_id, resource_id)
	DO UPDATE SET permission_level = EXCLUDED.permission_level,
	              granted_by = EXCLUDED.granted_by,
	              updated_at = EXCLUDED.updated_at
`

// Upsert creates or overwrites a grant after validating it.
func (s *PostgresStore) Upsert(ctx context.Context, grant Grant) error {
	if err := grant.Validate(); err != nil {
		return err
	}

	now := time.Now()
	if _, err := s.db.ExecContext(ctx, upsertQuery,
		grant.EntityType, grant.EntityID, grant.ResourceID, int(grant.Level), nullable(grant.GrantedBy), now,
	); err != nil {
		return fmt.Errorf("failed to upsert grant: %w", err)
	}
	return nil
}

// BulkUpsert wraps multiple upserts in one transaction.
func (s *PostgresStore) BulkUpsert(ctx context.Context, grants []Grant) error {
	for _, g := range grants {
		if err := g.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	now := time.Now()
	for _, g := range grants {
		if _, err := tx.ExecContext(ctx, upsertQuery,
			g.EntityType, g.EntityID, g.ResourceID, int(g.Level), nullable(g.GrantedBy), now,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to upsert grant for %s %s: %w", g.EntityType, g.EntityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit grants: %w", err)
	}
	return nil
}

// Delete revokes a single grant. Revoking an absent grant is not an
// error.
func (s *PostgresStore) Delete(ctx context.Context, entityType EntityType, entityID, resourceID string) error {
	if !entityType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrValidation, entityType)
	}

	query := `DELETE FROM grants WHERE entity_type = $1 AND entity_id = $2 AND resource_id = $3`
	if _, err := s.db.ExecContext(ctx, query, entityType, entityID, resourceID); err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	return nil
}

// DeleteForResource cascades grant removal when a resource is deleted.
func (s *PostgresStore) DeleteForResource(ctx context.Context, resourceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM grants WHERE resource_id = $1`, resourceID); err != nil {
		return fmt.Errorf("failed to delete grants for resource: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
