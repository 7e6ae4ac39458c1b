package buckets

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/knowledgeops/stacks/pkg/contextkeys"
	"github.com/knowledgeops/stacks/pkg/grants"
	"github.com/knowledgeops/stacks/pkg/httputil"
	"github.com/knowledgeops/stacks/pkg/observability"
)

// Handlers serves the bucket API. Per-resource routes sit behind the
// guard's RequirePermission middleware, which resolves access before
// any existence check: a bucket the caller cannot see produces 403,
// and 404 is only reachable for callers holding a grant on the id.
type Handlers struct {
	store  Store
	grants grants.Store
	log    *observability.Logger
}

// NewHandlers creates the bucket handlers.
func NewHandlers(store Store, grantStore grants.Store, log *observability.Logger) *Handlers {
	return &Handlers{store: store, grants: grantStore, log: log}
}

type createBucketRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Create makes a new bucket owned by the caller.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createBucketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}
	if req.Name == "" {
		httputil.WriteValidationError(w, "bucket name is required")
		return
	}

	bucket := &Bucket{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     identity.ID,
	}
	if err := h.store.Create(r.Context(), bucket); err != nil {
		h.log.WithError(err).Error("failed to create bucket")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteCreated(w, bucket)
}

// List enumerates every bucket. The route is restricted to the admin
// role: a cross-tenant listing would leak bucket names to callers
// without grants on them.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.List(r.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to list buckets")
		httputil.WriteInternalError(w)
		return
	}
	if all == nil {
		all = []Bucket{}
	}
	httputil.WriteSuccess(w, all)
}

// Get retrieves one bucket. Reached only after RequirePermission(View)
// passed.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	bucket, err := h.store.Get(r.Context(), mux.Vars(r)["bucketID"])
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "bucket not found")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("failed to get bucket")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, bucket)
}

// Delete removes a bucket and cascades its grants. Reached only after
// RequirePermission(Full) and a recent-authentication check passed.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	bucketID := mux.Vars(r)["bucketID"]

	err := h.store.Delete(r.Context(), bucketID)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "bucket not found")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("failed to delete bucket")
		httputil.WriteInternalError(w)
		return
	}

	if err := h.grants.DeleteForResource(r.Context(), bucketID); err != nil {
		h.log.WithError(err).WithField("bucket", bucketID).Error("failed to cascade grant deletion")
	}
	httputil.WriteNoContent(w)
}
