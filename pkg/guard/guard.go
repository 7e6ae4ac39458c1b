// Package guard enforces authentication and authorization at the HTTP
// boundary. Each factory returns a composable middleware stage that
// produces exactly one terminal status among pass-through, 400, 401,
// 403, or 500.
//
// The guard owns the coarse capability axis (role defaults plus
// explicit per-user capabilities); fine-grained per-resource levels
// are delegated to the resolver. 401 is reserved strictly for "no
// valid identity", 403 for "valid identity, insufficient rights".
package guard

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/knowledgeops/stacks/pkg/audit"
	"github.com/knowledgeops/stacks/pkg/auth"
	"github.com/knowledgeops/stacks/pkg/contextkeys"
	"github.com/knowledgeops/stacks/pkg/httputil"
	"github.com/knowledgeops/stacks/pkg/observability"
	"github.com/knowledgeops/stacks/pkg/perm"
	"github.com/knowledgeops/stacks/pkg/resolver"
	"github.com/knowledgeops/stacks/pkg/users"
)

// DefaultReauthWindow bounds how old a credential check may be for
// sensitive operations.
const DefaultReauthWindow = 15 * time.Minute

// Guard holds the collaborators shared by all middleware stages. All
// dependencies are injected; there is no global state.
type Guard struct {
	sessions     *auth.SessionStore
	users        users.Store
	capabilities *auth.CapabilityTable
	resolver     resolver.Resolver
	audit        audit.Logger
	log          *observability.Logger
}

// New creates a guard. A nil audit logger falls back to the no-op
// sink.
func New(
	sessions *auth.SessionStore,
	userStore users.Store,
	capabilities *auth.CapabilityTable,
	permResolver resolver.Resolver,
	auditLog audit.Logger,
	log *observability.Logger,
) *Guard {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Guard{
		sessions:     sessions,
		users:        userStore,
		capabilities: capabilities,
		resolver:     permResolver,
		audit:        auditLog,
		log:          log,
	}
}

// RequireAuthenticated validates the session cookie and refreshes the
// identity from the backing user record on every request. The session
// copy of role and capabilities is never trusted: a demoted or deleted
// user loses access on their very next request. When the backing
// record is gone the session is destroyed server-side before the 401.
func (g *Guard) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(auth.CookieName)
		if err != nil || cookie.Value == "" {
			g.deny(w, r, nil, denial{status: http.StatusUnauthorized, check: "authenticated", reason: "no session cookie"})
			return
		}

		session, err := g.sessions.Get(r.Context(), cookie.Value)
		if err != nil {
			g.log.WithError(err).Error("session lookup failed")
			httputil.WriteInternalError(w)
			return
		}
		if session == nil {
			g.deny(w, r, nil, denial{status: http.StatusUnauthorized, check: "authenticated", reason: "unknown or expired session"})
			return
		}

		user, err := g.users.GetByID(r.Context(), session.Identity.ID)
		if errors.Is(err, users.ErrNotFound) {
			observability.SessionRefreshFailures.Inc()
			if derr := g.sessions.Destroy(r.Context(), session.ID); derr != nil {
				g.log.WithError(derr).Warn("failed to destroy orphaned session")
			}
			g.deny(w, r, &session.Identity, denial{status: http.StatusUnauthorized, check: "authenticated", reason: "backing user record gone"})
			return
		}
		if err != nil {
			// Store failure is a hard failure: never downgrade to a
			// grant or a deny decision.
			g.log.WithError(err).Error("user refresh failed")
			httputil.WriteInternalError(w)
			return
		}

		identity := session.Identity
		identity.Email = user.Email
		identity.DisplayName = user.DisplayName
		identity.Role = user.Role
		identity.Capabilities = user.Capabilities

		if identity.Role != session.Identity.Role || len(identity.Capabilities) != len(session.Identity.Capabilities) {
			session.Identity = identity
			if err := g.sessions.Save(r.Context(), session); err != nil {
				g.log.WithError(err).Warn("failed to persist refreshed session")
			}
		} else if err := g.sessions.Touch(r.Context(), session.ID); err != nil {
			g.log.WithError(err).Warn("failed to extend session")
		}

		ctx := contextkeys.WithIdentity(r.Context(), &identity)
		ctx = contextkeys.WithSessionID(ctx, session.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireCapability checks the coarse capability axis: the role's
// default capability set or an explicit per-user override. It assumes
// RequireAuthenticated already ran; a missing identity here is a
// pipeline ordering bug and still denies with 401.
func (g *Guard) RequireCapability(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := contextkeys.IdentityFrom(r.Context())
			if identity == nil {
				g.deny(w, r, nil, denial{status: http.StatusUnauthorized, check: "capability", reason: "no identity in context"})
				return
			}

			if !g.capabilities.Allows(identity.Role, capability) && !identity.HasExplicitCapability(capability) {
				g.deny(w, r, identity, denial{status: http.StatusForbidden, check: "capability", reason: "missing capability " + capability})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireGlobalRole passes only identities whose global role is in the
// allowed set.
func (g *Guard) RequireGlobalRole(roles ...auth.GlobalRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := contextkeys.IdentityFrom(r.Context())
			if identity == nil {
				g.deny(w, r, nil, denial{status: http.StatusUnauthorized, check: "role", reason: "no identity in context"})
				return
			}

			for _, role := range roles {
				if identity.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			g.deny(w, r, identity, denial{status: http.StatusForbidden, check: "role", reason: "global role not permitted"})
		})
	}
}

// OwnershipOptions tunes the IDOR ownership check. The zero value is
// the default behavior, so partially filled options keep the admin
// bypass enabled.
type OwnershipOptions struct {
	// DisableAdminBypass stops global admins from acting on resources
	// they do not own. Bypass is enabled by default.
	DisableAdminBypass bool

	// Extract overrides owner-id extraction. When nil, the owner id
	// is taken from the named mux path variable.
	Extract func(r *http.Request) string
}

// RequireOwnership compares the identity against an owner id named by
// the request. This is the generic IDOR guard: it works for any
// resource whose owner can be named, and returns 400 when the owner id
// cannot be extracted at all.
func (g *Guard) RequireOwnership(ownerVar string, opts *OwnershipOptions) func(http.Handler) http.Handler {
	if opts == nil {
		opts = &OwnershipOptions{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := contextkeys.IdentityFrom(r.Context())
			if identity == nil {
				g.deny(w, r, nil, denial{status: http.StatusUnauthorized, check: "ownership", reason: "no identity in context"})
				return
			}

			ownerID := ""
			if opts.Extract != nil {
				ownerID = opts.Extract(r)
			} else {
				ownerID = mux.Vars(r)[ownerVar]
			}
			if ownerID == "" {
				g.deny(w, r, identity, denial{status: http.StatusBadRequest, check: "ownership", reason: "owner id missing from request"})
				return
			}

			if identity.ID == ownerID || (!opts.DisableAdminBypass && identity.IsAdmin()) {
				next.ServeHTTP(w, r)
				return
			}

			g.deny(w, r, identity, denial{
				status:   http.StatusForbidden,
				check:    "ownership",
				reason:   "identity does not own resource",
				resource: ownerID,
			})
		})
	}
}

// RequireRecentAuthentication gates sensitive mutations behind a fresh
// credential check. An identity that never presented credentials fails
// closed, not open. The 401 carries the REAUTH_REQUIRED code so
// clients prompt for re-entry instead of logging out.
func (g *Guard) RequireRecentAuthentication(maxAge time.Duration) func(http.Handler) http.Handler {
	if maxAge <= 0 {
		maxAge = DefaultReauthWindow
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := contextkeys.IdentityFrom(r.Context())
			if identity == nil {
				g.deny(w, r, nil, denial{status: http.StatusUnauthorized, check: "reauth", reason: "no identity in context"})
				return
			}

			last := identity.LastCredentialCheck()
			if last.IsZero() || time.Since(last) > maxAge {
				g.deny(w, r, identity, denial{
					status: http.StatusUnauthorized,
					check:  "reauth",
					reason: "credential check too old",
					code:   auth.CodeReauthRequired,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission resolves the identity's effective level on the
// resource named by the mux path variable and requires it to satisfy
// the given level. Permission is resolved before any existence check:
// a resource the caller cannot see yields 403 uniformly, so denials do
// not leak which resource ids exist.
func (g *Guard) RequirePermission(required perm.Level, resourceVar string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := contextkeys.IdentityFrom(r.Context())
			if identity == nil {
				g.deny(w, r, nil, denial{status: http.StatusUnauthorized, check: "permission", reason: "no identity in context"})
				return
			}

			resourceID := mux.Vars(r)[resourceVar]
			if resourceID == "" {
				g.deny(w, r, identity, denial{status: http.StatusBadRequest, check: "permission", reason: "resource id missing from request"})
				return
			}

			effective, err := g.resolver.Resolve(r.Context(), identity, resourceID)
			if err != nil {
				// Fail closed on store failure.
				g.log.WithError(err).WithField("resource", resourceID).Error("permission resolution failed")
				httputil.WriteInternalError(w)
				return
			}

			requiredInt, effectiveInt := int(required), int(effective)
			if !perm.Satisfies(effective, required) {
				g.deny(w, r, identity, denial{
					status:    http.StatusForbidden,
					check:     "permission",
					reason:    "insufficient permission level",
					resource:  resourceID,
					required:  &requiredInt,
					effective: &effectiveInt,
				})
				return
			}

			if isMutating(r.Method) {
				g.record(r, identity, &audit.Event{
					Decision:       audit.DecisionAllow,
					Check:          "permission",
					ResourceID:     resourceID,
					RequiredLevel:  &requiredInt,
					EffectiveLevel: &effectiveInt,
				})
				observability.AuthzDecisions.WithLabelValues(string(audit.DecisionAllow), "permission").Inc()
			}

			next.ServeHTTP(w, r)
		})
	}
}

type denial struct {
	status    int
	check     string
	reason    string
	code      string
	resource  string
	required  *int
	effective *int
}

// deny logs the full denial context server-side, emits the audit
// event, and returns only a generic message to the client.
func (g *Guard) deny(w http.ResponseWriter, r *http.Request, identity *auth.Identity, d denial) {
	fields := map[string]interface{}{
		"check":  d.check,
		"reason": d.reason,
		"status": d.status,
		"path":   r.URL.Path,
		"method": r.Method,
	}
	if identity != nil {
		fields["actor_id"] = identity.ID
		fields["actor_role"] = string(identity.Role)
	}
	if d.resource != "" {
		fields["resource"] = d.resource
	}
	g.log.WithFields(fields).Warn("authorization denied")

	event := &audit.Event{
		Decision:       audit.DecisionDeny,
		Check:          d.check,
		Code:           d.code,
		Message:        d.reason,
		ResourceID:     d.resource,
		RequiredLevel:  d.required,
		EffectiveLevel: d.effective,
	}
	g.record(r, identity, event)
	observability.AuthzDecisions.WithLabelValues(string(audit.DecisionDeny), d.check).Inc()

	message := genericMessage(d.status, d.code)
	if d.code != "" {
		httputil.WriteErrorCode(w, d.status, d.code, message)
		return
	}
	httputil.WriteError(w, d.status, message)
}

func (g *Guard) record(r *http.Request, identity *auth.Identity, event *audit.Event) {
	event.Timestamp = time.Now()
	event.Path = r.URL.Path
	event.Method = r.Method
	event.IPAddress = clientIP(r)
	if identity != nil {
		event.ActorID = identity.ID
		event.ActorRole = string(identity.Role)
	}
	if err := g.audit.LogDecision(r.Context(), event); err != nil {
		g.log.WithError(err).Warn("failed to record audit event")
	}
}

// genericMessage maps a denial status to the client-facing message from
// the typed error contract. The detailed reason stays server-side.
func genericMessage(status int, code string) string {
	if code == auth.CodeReauthRequired {
		return auth.ErrReauthRequired.Error()
	}
	switch status {
	case http.StatusUnauthorized:
		return auth.ErrUnauthenticated.Error()
	case http.StatusForbidden:
		return auth.ErrForbidden.Error()
	case http.StatusBadRequest:
		return auth.ErrBadRequest.Error()
	default:
		return http.StatusText(status)
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
