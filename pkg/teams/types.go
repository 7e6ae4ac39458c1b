// Package teams persists teams and team memberships. A membership
// carries its own role (member or leader) scoped to that one team,
// which is independent of the user's global role.
package teams

import (
	"errors"
	"time"
)

// MembershipRole is a user's standing within one team. Only leaders
// inherit the team's resource grants; plain members do not.
type MembershipRole string

const (
	RoleMember MembershipRole = "member"
	RoleLeader MembershipRole = "leader"
)

// Valid reports whether the membership role is known.
func (r MembershipRole) Valid() bool {
	return r == RoleMember || r == RoleLeader
}

// Team is a named grouping of users.
type Team struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Project     string    `json:"project,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership relates one user to one team. A user belongs to a team at
// most once.
type Membership struct {
	TeamID  string         `json:"team_id"`
	UserID  string         `json:"user_id"`
	Role    MembershipRole `json:"role"`
	AddedAt time.Time      `json:"added_at"`
}

var (
	// ErrNotFound is returned when a team or membership is absent.
	ErrNotFound = errors.New("team not found")

	// ErrAdminMembership rejects adding a global admin to a team.
	// Admins already bypass every grant lookup; letting them hold
	// memberships would create confusing overlapping authority.
	ErrAdminMembership = errors.New("administrators cannot be added to teams")

	// ErrDuplicateMembership rejects a second membership row for the
	// same user and team.
	ErrDuplicateMembership = errors.New("user is already a member of this team")
)
