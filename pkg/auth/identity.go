package auth

import "time"

// GlobalRole represents a user's system-wide role. It is distinct from
// a membership role inside a team: global roles drive default
// capability sets and the admin bypass, membership roles only affect
// whether a team's grants apply to the member.
type GlobalRole string

const (
	RoleAdmin  GlobalRole = "admin"  // full access to everything
	RoleLeader GlobalRole = "leader" // elevated defaults, no bypass
	RoleUser   GlobalRole = "user"   // baseline defaults
)

// Valid reports whether the role is one of the known global roles.
func (r GlobalRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleLeader, RoleUser:
		return true
	}
	return false
}

// Identity represents an authenticated actor for the duration of one
// request. It is populated at login and refreshed from the backing
// user record on every authenticated request, so the session copy of
// role and capabilities never outlives the persisted record.
type Identity struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name,omitempty"`
	Role        GlobalRole `json:"role"`

	// Capabilities holds per-user capability overrides granted in
	// addition to the role's default capability set.
	Capabilities []string `json:"capabilities,omitempty"`

	// LastAuthAt is set when the session is created at login.
	// LastReauthAt is set when the user re-enters credentials for a
	// sensitive operation.
	LastAuthAt   time.Time `json:"last_auth_at"`
	LastReauthAt time.Time `json:"last_reauth_at,omitempty"`
}

// IsAdmin reports whether the identity carries the global admin role.
func (i *Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// HasExplicitCapability reports whether the capability appears in the
// identity's per-user override list. Role defaults are checked
// separately against the capability table.
func (i *Identity) HasExplicitCapability(capability string) bool {
	for _, c := range i.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// LastCredentialCheck returns the most recent of the login and
// re-authentication timestamps. A zero value means credentials were
// never presented on this session.
func (i *Identity) LastCredentialCheck() time.Time {
	if i.LastReauthAt.After(i.LastAuthAt) {
		return i.LastReauthAt
	}
	return i.LastAuthAt
}
