// Package login implements the session lifecycle endpoints: OIDC
// login, local root login, re-authentication for sensitive operations,
// and logout.
package login

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/knowledgeops/stacks/pkg/auth"
	"github.com/knowledgeops/stacks/pkg/httputil"
	"github.com/knowledgeops/stacks/pkg/observability"
	"github.com/knowledgeops/stacks/pkg/users"
	"github.com/knowledgeops/stacks/pkg/validation"
)

// RootEmail is the email of the bootstrap admin account used by the
// local root login.
const RootEmail = "root@localhost"

const stateCookie = "stacks_oauth_state"

// Handlers serves the login endpoints.
type Handlers struct {
	users        users.Store
	sessions     *auth.SessionStore
	oidc         *auth.OIDCAuthenticator // nil when OIDC is not configured
	validator    *validation.EmailValidator
	rootPassword string
	log          *observability.Logger
}

// NewHandlers creates the login handlers.
func NewHandlers(
	userStore users.Store,
	sessions *auth.SessionStore,
	oidc *auth.OIDCAuthenticator,
	validator *validation.EmailValidator,
	rootPassword string,
	log *observability.Logger,
) *Handlers {
	return &Handlers{
		users:        userStore,
		sessions:     sessions,
		oidc:         oidc,
		validator:    validator,
		rootPassword: rootPassword,
		log:          log,
	}
}

// Register mounts the login routes.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/auth/login", h.BeginOIDC).Methods(http.MethodGet)
	r.HandleFunc("/auth/callback", h.OIDCCallback).Methods(http.MethodGet)
	r.HandleFunc("/auth/root", h.RootLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/reauth", h.Reauth).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", h.Logout).Methods(http.MethodPost)
}

// BeginOIDC redirects the browser to the OIDC provider.
func (h *Handlers) BeginOIDC(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		httputil.WriteNotFound(w, "OIDC login is not configured")
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	http.Redirect(w, r, h.oidc.AuthCodeURL(state), http.StatusFound)
}

// OIDCCallback completes the authorization-code flow and creates a
// session for an existing user. Unknown emails are denied: accounts
// are provisioned by an admin, not at login.
func (h *Handlers) OIDCCallback(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		httputil.WriteNotFound(w, "OIDC login is not configured")
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		h.log.Warn("OIDC callback with missing or mismatched state")
		httputil.WriteValidationError(w, "invalid login state")
		return
	}

	claims, err := h.oidc.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.log.WithError(err).Warn("OIDC code exchange failed")
		httputil.WriteError(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	// Advisory pre-check through the cache; the authoritative lookup
	// below still decides.
	if valid, err := h.validator.Validate(r.Context(), claims.Email); err == nil && !valid {
		h.log.WithField("email", claims.Email).Warn("login attempt for unknown email")
		httputil.WriteError(w, http.StatusForbidden, "access denied")
		return
	}

	user, err := h.users.GetByEmail(r.Context(), claims.Email)
	if errors.Is(err, users.ErrNotFound) {
		h.log.WithField("email", claims.Email).Warn("login attempt for unprovisioned user")
		httputil.WriteError(w, http.StatusForbidden, "access denied")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("user lookup failed during login")
		httputil.WriteInternalError(w)
		return
	}

	h.createSession(w, r, user)
}

type rootLoginRequest struct {
	Password string `json:"password"`
}

// RootLogin authenticates the bootstrap admin with the configured
// root password.
func (h *Handlers) RootLogin(w http.ResponseWriter, r *http.Request) {
	if h.rootPassword == "" {
		httputil.WriteNotFound(w, "root login is not configured")
		return
	}

	var req rootLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.rootPassword)) != 1 {
		h.log.WithField("ip", r.RemoteAddr).Warn("root login with wrong password")
		httputil.WriteError(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	user, err := h.users.GetByEmail(r.Context(), RootEmail)
	if err != nil {
		h.log.WithError(err).Error("root account lookup failed")
		httputil.WriteInternalError(w)
		return
	}

	h.createSession(w, r, user)
}

// Reauth re-verifies the root password on an existing session and
// records a fresh lastReauthAt, re-opening the sensitive-operation
// window without a new login.
func (h *Handlers) Reauth(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(auth.CookieName)
	if err != nil || cookie.Value == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	session, err := h.sessions.Get(r.Context(), cookie.Value)
	if err != nil {
		h.log.WithError(err).Error("session lookup failed")
		httputil.WriteInternalError(w)
		return
	}
	if session == nil {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req rootLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}
	if h.rootPassword == "" || subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.rootPassword)) != 1 {
		h.log.WithFields(map[string]interface{}{
			"actor_id": session.Identity.ID,
			"ip":       r.RemoteAddr,
		}).Warn("re-authentication with wrong credentials")
		httputil.WriteError(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	session.Identity.LastReauthAt = time.Now()
	if err := h.sessions.Save(r.Context(), session); err != nil {
		h.log.WithError(err).Error("failed to persist re-authentication")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]string{"status": "reauthenticated"})
}

// Logout destroys the session server-side and clears the cookie.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.CookieName); err == nil && cookie.Value != "" {
		if err := h.sessions.Destroy(r.Context(), cookie.Value); err != nil {
			h.log.WithError(err).Warn("failed to destroy session on logout")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	httputil.WriteNoContent(w)
}

func (h *Handlers) createSession(w http.ResponseWriter, r *http.Request, user *users.User) {
	identity := auth.Identity{
		ID:           user.ID,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		Role:         user.Role,
		Capabilities: user.Capabilities,
		LastAuthAt:   time.Now(),
	}

	session, err := h.sessions.Create(r.Context(), identity)
	if err != nil {
		h.log.WithError(err).Error("failed to create session")
		httputil.WriteInternalError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})

	h.log.WithFields(map[string]interface{}{
		"actor_id": identity.ID,
		"role":     string(identity.Role),
	}).Info("session created")
	httputil.WriteSuccess(w, identity)
}
