package teams

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/knowledgeops/stacks/pkg/auth"
	"github.com/knowledgeops/stacks/pkg/users"
)

// Store is the team and membership persistence contract.
type Store interface {
	CreateTeam(ctx context.Context, team *Team) error
	GetTeam(ctx context.Context, id string) (*Team, error)
	ListTeams(ctx context.Context) ([]Team, error)
	DeleteTeam(ctx context.Context, id string) error

	MembersOf(ctx context.Context, teamID string) ([]Membership, error)
	TeamsOf(ctx context.Context, userID string) ([]Membership, error)
	AddMember(ctx context.Context, teamID, userID string, role MembershipRole) error
	RemoveMember(ctx context.Context, teamID, userID string) error
	UpdateMemberRole(ctx context.Context, teamID, userID string, role MembershipRole) error
}

// PostgresStore implements Store. It consults the user store on
// AddMember to enforce the no-admin-membership rule at the store
// boundary rather than leaving it to individual handlers.
type PostgresStore struct {
	db    *sql.DB
	users users.Store
}

// NewPostgresStore creates a team store on the given pool.
func NewPostgresStore(db *sql.DB, userStore users.Store) *PostgresStore {
	return &PostgresStore{db: db, users: userStore}
}

// CreateTeam persists a new team. A missing id is generated.
func (s *PostgresStore) CreateTeam(ctx context.Context, team *Team) error {
	if team.ID == "" {
		team.ID = uuid.NewString()
	}
	if team.Name == "" {
		return fmt.Errorf("team name is required")
	}

	query := `
		INSERT INTO teams (id, name, project, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query, team.ID, team.Name, team.Project, team.Description, now); err != nil {
		return fmt.Errorf("failed to create team: %w", err)
	}
	team.CreatedAt = now
	team.UpdatedAt = now
	return nil
}

// GetTeam retrieves a team by id.
func (s *PostgresStore) GetTeam(ctx context.Context, id string) (*Team, error) {
	query := `SELECT id, name, project, description, created_at, updated_at FROM teams WHERE id = $1`

	var team Team
	var project, description sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&team.ID, &team.Name, &project, &description, &team.CreatedAt, &team.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	if project.Valid {
		team.Project = project.String
	}
	if description.Valid {
		team.Description = description.String
	}
	return &team, nil
}

// ListTeams enumerates all teams.
func (s *PostgresStore) ListTeams(ctx context.Context) ([]Team, error) {
	query := `SELECT id, name, project, description, created_at, updated_at FROM teams ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []Team
	for rows.Next() {
		var team Team
		var project, description sql.NullString
		if err := rows.Scan(&team.ID, &team.Name, &project, &description, &team.CreatedAt, &team.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		if project.Valid {
			team.Project = project.String
		}
		if description.Valid {
			team.Description = description.String
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

// DeleteTeam removes a team; memberships and team grants cascade.
func (s *PostgresStore) DeleteTeam(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete team: %w", err)
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

// MembersOf lists the memberships of a team.
func (s *PostgresStore) MembersOf(ctx context.Context, teamID string) ([]Membership, error) {
	query := `SELECT team_id, user_id, role, added_at FROM team_members WHERE team_id = $1 ORDER BY added_at`
	return s.queryMemberships(ctx, query, teamID)
}

// TeamsOf lists the memberships of a user across all teams.
func (s *PostgresStore) TeamsOf(ctx context.Context, userID string) ([]Membership, error) {
	query := `SELECT team_id, user_id, role, added_at FROM team_members WHERE user_id = $1 ORDER BY added_at`
	return s.queryMemberships(ctx, query, userID)
}

// AddMember adds a user to a team. Global admins are rejected with a
// descriptive error before any row is written.
func (s *PostgresStore) AddMember(ctx context.Context, teamID, userID string, role MembershipRole) error {
	if role == "" {
		role = RoleMember
	}
	if !role.Valid() {
		return fmt.Errorf("invalid membership role: %q", role)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return fmt.Errorf("cannot add member: %w", err)
		}
		return fmt.Errorf("failed to verify member: %w", err)
	}
	if user.Role == auth.RoleAdmin {
		return ErrAdminMembership
	}

	query := `
		INSERT INTO team_members (team_id, user_id, role, added_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (team_id, user_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, teamID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrDuplicateMembership
	}
	return nil
}

// RemoveMember removes a user from a team.
func (s *PostgresStore) RemoveMember(ctx context.Context, teamID, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
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

// UpdateMemberRole changes a membership role in place. Demoting a
// leader to member takes effect on the next resolution.
func (s *PostgresStore) UpdateMemberRole(ctx context.Context, teamID, userID string, role MembershipRole) error {
	if !role.Valid() {
		return fmt.Errorf("invalid membership role: %q", role)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE team_members SET role = $1 WHERE team_id = $2 AND user_id = $3`, role, teamID, userID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
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

func (s *PostgresStore) queryMemberships(ctx context.Context, query string, arg string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.Role, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}
