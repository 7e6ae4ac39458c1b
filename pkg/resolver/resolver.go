// Package resolver computes the effective permission level for an
// (identity, resource) pair by combining direct user grants with team
// grants inherited through leader memberships.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/knowledgeops/stacks/pkg/auth"
	"github.com/knowledgeops/stacks/pkg/grants"
	"github.com/knowledgeops/stacks/pkg/observability"
	"github.com/knowledgeops/stacks/pkg/perm"
	"github.com/knowledgeops/stacks/pkg/teams"
)

// Resolver is the fine-grained, per-resource authorization axis. The
// coarse capability axis lives in the guard; the two are deliberately
// separate contracts so callers cannot use one where the other is
// required.
type Resolver interface {
	// Resolve computes the effective level. Results are recomputed
	// from the backing stores on every call and never cached: a stale
	// permission is a security risk, not a performance problem.
	Resolve(ctx context.Context, identity *auth.Identity, resourceID string) (perm.Level, error)
}

// GrantResolver implements Resolver over the grant and membership
// stores. Store failures propagate to the caller, which must treat
// them as a hard failure rather than defaulting to either grant or
// deny.
type GrantResolver struct {
	grants      grants.Store
	memberships teams.Store
}

// New creates a resolver with explicit store injection.
func New(grantStore grants.Store, membershipStore teams.Store) *GrantResolver {
	return &GrantResolver{
		grants:      grantStore,
		memberships: membershipStore,
	}
}

// Resolve combines all applicable grant paths with a maximum-wins
// rule:
//
//  1. a global admin gets Full without any lookup;
//  2. the direct user grant contributes its level (absence is None);
//  3. each team the user *leads* contributes that team's grant; plain
//     memberships contribute nothing.
//
// Team-level access is an inherited privilege reserved for team leads,
// not blanket-shared with all members.
func (r *GrantResolver) Resolve(ctx context.Context, identity *auth.Identity, resourceID string) (perm.Level, error) {
	start := time.Now()
	defer func() {
		observability.ResolveDuration.Observe(time.Since(start).Seconds())
	}()

	if identity == nil {
		return perm.None, fmt.Errorf("identity is required")
	}
	if identity.IsAdmin() {
		return perm.Full, nil
	}

	direct, err := r.grants.FindForEntity(ctx, grants.EntityUser, identity.ID, resourceID)
	if err != nil {
		return perm.None, fmt.Errorf("failed to resolve direct grant: %w", err)
	}

	memberships, err := r.memberships.TeamsOf(ctx, identity.ID)
	if err != nil {
		return perm.None, fmt.Errorf("failed to resolve team memberships: %w", err)
	}

	teamMax := perm.None
	for _, m := range memberships {
		if m.Role != teams.RoleLeader {
			continue
		}
		teamLevel, err := r.grants.FindForEntity(ctx, grants.EntityTeam, m.TeamID, resourceID)
		if err != nil {
			return perm.None, fmt.Errorf("failed to resolve team grant: %w", err)
		}
		teamMax = perm.Max(teamMax, teamLevel)
	}

	return perm.Max(direct, teamMax), nil
}
