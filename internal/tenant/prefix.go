package tenant

import "net/http"

// PrefixKey namespaces a cache or lock key per tenant.
func PrefixKey(tenantID, key string) string {
	if tenantID == "" {
		return key
	}
	return tenantID + ":" + key
}

// Require rejects requests whose tenant could not be resolved.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"TENANT_REQUIRED","message":"tenant is required"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
