package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/assistext/assistext/internal/tenancy"
)

const tenantParam = "tenantID"

// requireTenantID moves the {tenantID} path parameter into the request context.
func requireTenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(chi.URLParam(r, tenantParam))
		tenantID, err := uuid.Parse(raw)
		if err != nil || tenantID == uuid.Nil {
			http.Error(w, "tenantID must be a UUID", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(tenancy.WithTenantID(r.Context(), tenantID)))
	})
}
