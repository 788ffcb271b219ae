package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/assistext/assistext/internal/phone"
	"github.com/assistext/assistext/internal/tenancy"
	"github.com/assistext/assistext/pkg/logging"
)

type tenantStore interface {
	Get(ctx context.Context, id uuid.UUID) (*tenancy.Tenant, error)
	AttachNumber(ctx context.Context, tenantID uuid.UUID, number string) error
}

type numberCache interface {
	Invalidate(ctx context.Context, number string) error
}

// AdminTenantsHandler serves the tenant administration endpoints. Routes
// expect the tenant id in context (see tenancy.WithTenantID).
type AdminTenantsHandler struct {
	store  tenantStore
	cache  numberCache
	logger *logging.Logger
}

func NewAdminTenantsHandler(store tenantStore, cache numberCache, logger *logging.Logger) *AdminTenantsHandler {
	if store == nil {
		panic("handlers: tenant store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminTenantsHandler{store: store, cache: cache, logger: logger}
}

type attachNumberRequest struct {
	Number string `json:"number"`
}

type attachNumberResponse struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Number   string    `json:"number"`
}

// GetTenant handles GET /admin/tenants/{tenantID}.
func (h *AdminTenantsHandler) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "missing tenant id")
		return
	}
	tenant, err := h.store.Get(r.Context(), tenantID)
	if errors.Is(err, tenancy.ErrTenantNotFound) {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	if err != nil {
		h.logger.Error("admin: load tenant failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load tenant")
		return
	}
	writeJSON(w, http.StatusOK, tenant.WithDefaults())
}

// AttachNumber handles POST /admin/tenants/{tenantID}/numbers. The number's
// resolver cache entry is dropped so the next webhook sees the new owner.
func (h *AdminTenantsHandler) AttachNumber(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "missing tenant id")
		return
	}
	var req attachNumberRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	number := phone.NormalizeE164(strings.TrimSpace(req.Number))
	if !phone.Valid(number) {
		writeError(w, http.StatusBadRequest, "number must be E.164")
		return
	}

	ctx := r.Context()
	if _, err := h.store.Get(ctx, tenantID); err != nil {
		if errors.Is(err, tenancy.ErrTenantNotFound) {
			writeError(w, http.StatusNotFound, "tenant not found")
			return
		}
		h.logger.Error("admin: load tenant failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load tenant")
		return
	}

	if err := h.store.AttachNumber(ctx, tenantID, number); err != nil {
		if errors.Is(err, tenancy.ErrNumberTaken) {
			writeError(w, http.StatusConflict, "number already assigned to another tenant")
			return
		}
		h.logger.Error("admin: attach number failed", "tenant_id", tenantID, "number", phone.Mask(number), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to attach number")
		return
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(ctx, number); err != nil {
			h.logger.Warn("admin: resolver cache invalidation failed", "number", phone.Mask(number), "error", err)
		}
	}
	h.logger.Info("number attached to tenant", "tenant_id", tenantID, "number", phone.Mask(number))
	writeJSON(w, http.StatusCreated, attachNumberResponse{TenantID: tenantID, Number: number})
}
