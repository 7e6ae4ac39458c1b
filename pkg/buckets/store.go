// Package buckets persists document storage buckets, the primary
// resource that permission grants are scoped to.
package buckets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no bucket matches the lookup.
var ErrNotFound = errors.New("bucket not found")

// Bucket is a named document container owned by one user.
type Bucket struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the bucket persistence contract.
type Store interface {
	Create(ctx context.Context, bucket *Bucket) error
	Get(ctx context.Context, id string) (*Bucket, error)
	List(ctx context.Context) ([]Bucket, error)
	Delete(ctx context.Context, id string) error
}

// PostgresStore implements Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a bucket store on the given pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create persists a new bucket.
func (s *PostgresStore) Create(ctx context.Context, bucket *Bucket) error {
	if bucket.ID == "" {
		bucket.ID = uuid.NewString()
	}
	if bucket.Name == "" {
		return fmt.Errorf("bucket name is required")
	}

	query := `
		INSERT INTO buckets (id, name, description, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query, bucket.ID, bucket.Name, bucket.Description, bucket.OwnerID, now); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	bucket.CreatedAt = now
	return nil
}

// Get retrieves a bucket by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Bucket, error) {
	query := `SELECT id, name, description, owner_id, created_at FROM buckets WHERE id = $1`

	var bucket Bucket
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&bucket.ID, &bucket.Name, &description, &bucket.OwnerID, &bucket.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}
	if description.Valid {
		bucket.Description = description.String
	}
	return &bucket, nil
}

// List enumerates all buckets.
func (s *PostgresStore) List(ctx context.Context) ([]Bucket, error) {
	query := `SELECT id, name, description, owner_id, created_at FROM buckets ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		var bucket Bucket
		var description sql.NullString
		if err := rows.Scan(&bucket.ID, &bucket.Name, &description, &bucket.OwnerID, &bucket.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}
		if description.Valid {
			bucket.Description = description.String
		}
		buckets = append(buckets, bucket)
	}
	return buckets, rows.Err()
}

// Delete removes a bucket.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM buckets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete bucket: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
