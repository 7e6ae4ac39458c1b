package grants

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/knowledgeops/stacks/pkg/contextkeys"
	"github.com/knowledgeops/stacks/pkg/httputil"
	"github.com/knowledgeops/stacks/pkg/observability"
	"github.com/knowledgeops/stacks/pkg/perm"
)

// Handlers serves the grant admin API. Routes are mounted behind the
// guard's authentication and manage_grants capability checks.
type Handlers struct {
	store Store
	log   *observability.Logger
}

// NewHandlers creates the grant handlers.
func NewHandlers(store Store, log *observability.Logger) *Handlers {
	return &Handlers{store: store, log: log}
}

// Register mounts the grant routes on a router that already carries
// the guard middleware.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/resources/{resourceID}/grants", h.List).Methods(http.MethodGet)
	r.HandleFunc("/resources/{resourceID}/grants", h.Put).Methods(http.MethodPut)
	r.HandleFunc("/resources/{resourceID}/grants/bulk", h.PutBulk).Methods(http.MethodPut)
	r.HandleFunc("/resources/{resourceID}/grants/{entityType}/{entityID}", h.Revoke).Methods(http.MethodDelete)
}

// List enumerates every grant on a resource.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	resourceID := mux.Vars(r)["resourceID"]

	grants, err := h.store.FindAllForResource(r.Context(), resourceID)
	if err != nil {
		h.log.WithError(err).Error("failed to list grants")
		httputil.WriteInternalError(w)
		return
	}
	if grants == nil {
		grants = []Grant{}
	}
	httputil.WriteSuccess(w, grants)
}

type putGrantRequest struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Level      int        `json:"level"`
}

// Put creates or overwrites one grant on the resource.
func (h *Handlers) Put(w http.ResponseWriter, r *http.Request) {
	resourceID := mux.Vars(r)["resourceID"]

	var req putGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	grant, ok := h.buildGrant(w, r, resourceID, req)
	if !ok {
		return
	}

	if err := h.store.Upsert(r.Context(), grant); err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, grant)
}

// PutBulk applies several grants atomically, such as seeding a new
// team member's permissions.
func (h *Handlers) PutBulk(w http.ResponseWriter, r *http.Request) {
	resourceID := mux.Vars(r)["resourceID"]

	var reqs []putGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}
	if len(reqs) == 0 {
		httputil.WriteValidationError(w, "at least one grant is required")
		return
	}

	batch := make([]Grant, 0, len(reqs))
	for _, req := range reqs {
		grant, ok := h.buildGrant(w, r, resourceID, req)
		if !ok {
			return
		}
		batch = append(batch, grant)
	}

	if err := h.store.BulkUpsert(r.Context(), batch); err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, batch)
}

// Revoke removes one grant.
func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	entityType := EntityType(vars["entityType"])
	if err := h.store.Delete(r.Context(), entityType, vars["entityID"], vars["resourceID"]); err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) buildGrant(w http.ResponseWriter, r *http.Request, resourceID string, req putGrantRequest) (Grant, bool) {
	level, err := perm.ParseLevel(req.Level)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return Grant{}, false
	}

	grant := Grant{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		ResourceID: resourceID,
		Level:      level,
	}
	if identity := contextkeys.IdentityFrom(r.Context()); identity != nil {
		grant.GrantedBy = identity.ID
	}

	if err := grant.Validate(); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return Grant{}, false
	}
	return grant, true
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrValidation) {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	h.log.WithError(err).Error("grant store operation failed")
	httputil.WriteInternalError(w)
}
