// Package users persists the backing user records that authenticated
// sessions are refreshed from.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/knowledgeops/stacks/pkg/auth"
)

// ErrNotFound is returned when no user matches the lookup.
var ErrNotFound = errors.New("user not found")

// User is the persisted source of truth for an actor's role and
// capability overrides. Session copies are refreshed from this record
// on every authenticated request.
type User struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	DisplayName  string          `json:"display_name,omitempty"`
	Role         auth.GlobalRole `json:"role"`
	Capabilities []string        `json:"capabilities,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Store is the user persistence contract consumed by the guard and
// the login handlers.
type Store interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, user *User) error
	UpdateRole(ctx context.Context, id string, role auth.GlobalRole) error
	Delete(ctx context.Context, id string) error
	EmailExists(ctx context.Context, email string) (bool, error)
}

// PostgresStore implements Store over a shared *sql.DB pool.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a user store on the given pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, email, display_name, role, capabilities, created_at, updated_at`

// GetByID retrieves a user by id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves a user by email.
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, email))
}

// Create persists a new user. A missing id is generated.
func (s *PostgresStore) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if !user.Role.Valid() {
		return fmt.Errorf("invalid global role: %q", user.Role)
	}

	query := `
		INSERT INTO users (id, email, display_name, role, capabilities, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.DisplayName, user.Role, pq.Array(user.Capabilities), now,
	); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// UpdateRole changes a user's global role. The change takes effect on
// the user's next request because the guard refreshes from this table.
func (s *PostgresStore) UpdateRole(ctx context.Context, id string, role auth.GlobalRole) error {
	if !role.Valid() {
		return fmt.Errorf("invalid global role: %q", role)
	}

	query := `UPDATE users SET role = $1, updated_at = NOW() WHERE id = $2`
	result, err := s.db.ExecContext(ctx, query, role, id)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
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

// Delete removes a user. Sessions referencing the user are invalidated
// by the guard the next time they are presented.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
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

// EmailExists reports whether a user record exists for the email. This
// is the authoritative check behind the advisory validation cache.
func (s *PostgresStore) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) scanOne(row *sql.Row) (*User, error) {
	var user User
	var displayName sql.NullString
	err := row.Scan(
		&user.ID,
		&user.Email,
		&displayName,
		&user.Role,
		pq.Array(&user.Capabilities),
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if displayName.Valid {
		user.DisplayName = displayName.String
	}
	return &user, nil
}
