// Package grants persists resource permission grants for users and
// teams and exposes the admin surface for managing them.
package grants

import (
	"errors"
	"fmt"
	"time"

	"github.com/knowledgeops/stacks/pkg/perm"
)

// EntityType identifies the subject of a grant.
type EntityType string

const (
	EntityUser EntityType = "user"
	EntityTeam EntityType = "team"
)

// Valid reports whether the entity type is one of the known values.
func (e EntityType) Valid() bool {
	return e == EntityUser || e == EntityTeam
}

// Grant is a stored permission level for an (entity, resource) pair.
// At most one row exists per (entity_type, entity_id, resource_id);
// the absence of a row means implicit perm.None.
type Grant struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	ResourceID string     `json:"resource_id"`
	Level      perm.Level `json:"level"`
	GrantedBy  string     `json:"granted_by,omitempty"`
	GrantedAt  time.Time  `json:"granted_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ErrValidation wraps grant constraint violations. Invalid entity
// types and out-of-range levels are rejected at the store boundary,
// never silently clamped.
var ErrValidation = errors.New("invalid grant")

// Validate checks the grant's constraints.
func (g Grant) Validate() error {
	if !g.EntityType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrValidation, g.EntityType)
	}
	if g.EntityID == "" {
		return fmt.Errorf("%w: entity id is required", ErrValidation)
	}
	if g.ResourceID == "" {
		return fmt.Errorf("%w: resource id is required", ErrValidation)
	}
	if !g.Level.Valid() {
		return fmt.Errorf("%w: permission level out of range: %d", ErrValidation, int(g.Level))
	}
	return nil
}
