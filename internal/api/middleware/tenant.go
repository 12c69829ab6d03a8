package middleware

import (
	"context"
	"net/http"
	"strings"

	pkgmw "github.com/salonflow/controlplane/pkg/middleware"
)

// TenantExtractor extracts the tenant id from the request and stores it in
// the request context. It checks the X-Tenant-Id header, then the tenant_id
// query parameter, and falls back to "default".
func TenantExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := ""

		if h := r.Header.Get("X-Tenant-Id"); h != "" {
			tenantID = strings.TrimSpace(h)
		}
		if tenantID == "" {
			if q := r.URL.Query().Get("tenant_id"); q != "" {
				tenantID = strings.TrimSpace(q)
			}
		}
		if tenantID == "" {
			tenantID = "default"
		}

		ctx := pkgmw.SetTenantID(r.Context(), tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenantID retrieves the tenant ID from the request context.
func GetTenantID(ctx context.Context) string {
	return pkgmw.GetTenantID(ctx)
}
