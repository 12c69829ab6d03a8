// Package middleware provides shared context helpers used by both the
// HTTP middleware chain and handlers.
package middleware

import "context"

type contextKey string

const tenantKey contextKey = "tenant_id"

// GetTenantID extracts the tenant id from the context. Returns "default" if
// none is set.
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey).(string); ok && v != "" {
		return v
	}
	return "default"
}

// SetTenantID stores the tenant id in the context.
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}
