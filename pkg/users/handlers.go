package users

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/knowledgeops/stacks/pkg/auth"
	"github.com/knowledgeops/stacks/pkg/httputil"
	"github.com/knowledgeops/stacks/pkg/observability"
)

// Handlers serves the user admin API. Profile reads are guarded by
// ownership; role changes and deletions additionally sit behind a
// recent-authentication check.
type Handlers struct {
	store Store
	log   *observability.Logger
}

// NewHandlers creates the user handlers.
func NewHandlers(store Store, log *observability.Logger) *Handlers {
	return &Handlers{store: store, log: log}
}

// Get retrieves one user. Mounted behind RequireOwnership("userID"),
// so non-admins only ever see their own record.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetByID(r.Context(), mux.Vars(r)["userID"])
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "user not found")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("failed to get user")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, user)
}

type updateRoleRequest struct {
	Role auth.GlobalRole `json:"role"`
}

// UpdateRole changes a user's global role. The demotion or promotion
// is effective on the target's next request because the guard
// refreshes every identity from this table.
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}
	if !req.Role.Valid() {
		httputil.WriteValidationError(w, "role must be admin, leader, or user")
		return
	}

	err := h.store.UpdateRole(r.Context(), mux.Vars(r)["userID"], req.Role)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "user not found")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("failed to update user role")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}

// Delete removes a user. Their sessions die on next presentation and
// their memberships and buckets cascade in the database.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.store.Delete(r.Context(), mux.Vars(r)["userID"])
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "user not found")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("failed to delete user")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}
