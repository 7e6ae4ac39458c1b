package teams

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/knowledgeops/stacks/pkg/httputil"
	"github.com/knowledgeops/stacks/pkg/observability"
)

// Handlers serves the team admin API, mounted behind the guard's
// manage_teams capability check.
type Handlers struct {
	store Store
	log   *observability.Logger
}

// NewHandlers creates the team handlers.
func NewHandlers(store Store, log *observability.Logger) *Handlers {
	return &Handlers{store: store, log: log}
}

// Register mounts the team routes.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/teams", h.List).Methods(http.MethodGet)
	r.HandleFunc("/teams", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/teams/{teamID}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/teams/{teamID}", h.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/teams/{teamID}/members", h.Members).Methods(http.MethodGet)
	r.HandleFunc("/teams/{teamID}/members", h.AddMember).Methods(http.MethodPost)
	r.HandleFunc("/teams/{teamID}/members/{userID}", h.RemoveMember).Methods(http.MethodDelete)
	r.HandleFunc("/teams/{teamID}/members/{userID}", h.UpdateMemberRole).Methods(http.MethodPatch)
}

// List enumerates all teams.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	teams, err := h.store.ListTeams(r.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to list teams")
		httputil.WriteInternalError(w)
		return
	}
	if teams == nil {
		teams = []Team{}
	}
	httputil.WriteSuccess(w, teams)
}

// Create makes a new team.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var team Team
	if err := json.NewDecoder(r.Body).Decode(&team); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}
	if team.Name == "" {
		httputil.WriteValidationError(w, "team name is required")
		return
	}

	if err := h.store.CreateTeam(r.Context(), &team); err != nil {
		h.log.WithError(err).Error("failed to create team")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteCreated(w, team)
}

// Get retrieves one team.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	team, err := h.store.GetTeam(r.Context(), mux.Vars(r)["teamID"])
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "team not found")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("failed to get team")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, team)
}

// Delete removes a team; memberships and grants cascade.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteTeam(r.Context(), mux.Vars(r)["teamID"])
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "team not found")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("failed to delete team")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}

// Members lists the memberships of a team.
func (h *Handlers) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.store.MembersOf(r.Context(), mux.Vars(r)["teamID"])
	if err != nil {
		h.log.WithError(err).Error("failed to list members")
		httputil.WriteInternalError(w)
		return
	}
	if members == nil {
		members = []Membership{}
	}
	httputil.WriteSuccess(w, members)
}

type addMemberRequest struct {
	UserID string         `json:"user_id"`
	Role   MembershipRole `json:"role"`
}

// AddMember adds a user to the team. Adding a global admin is rejected
// with a descriptive 400.
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}
	if req.UserID == "" {
		httputil.WriteValidationError(w, "user_id is required")
		return
	}

	err := h.store.AddMember(r.Context(), mux.Vars(r)["teamID"], req.UserID, req.Role)
	switch {
	case errors.Is(err, ErrAdminMembership), errors.Is(err, ErrDuplicateMembership):
		httputil.WriteValidationError(w, err.Error())
		return
	case err != nil:
		h.log.WithError(err).Error("failed to add member")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteCreated(w, Membership{
		TeamID: mux.Vars(r)["teamID"],
		UserID: req.UserID,
		Role:   req.Role,
	})
}

// RemoveMember removes a user from the team.
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	err := h.store.RemoveMember(r.Context(), vars["teamID"], vars["userID"])
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "membership not found")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("failed to remove member")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}

type updateRoleRequest struct {
	Role MembershipRole `json:"role"`
}

// UpdateMemberRole promotes or demotes a membership. A demotion from
// leader takes effect on the member's next permission resolution.
func (h *Handlers) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}
	if !req.Role.Valid() {
		httputil.WriteValidationError(w, "role must be member or leader")
		return
	}

	vars := mux.Vars(r)
	err := h.store.UpdateMemberRole(r.Context(), vars["teamID"], vars["userID"], req.Role)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "membership not found")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("failed to update member role")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}
