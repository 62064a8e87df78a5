// Package tenant resolves which restaurant a request belongs to. Every order, counter, profile
// and cache key is scoped by the resolved id.
package tenant

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey struct{}

// DefaultHeader carries the tenant id when no other header is configured.
const DefaultHeader = "X-Tenant-ID"

// MaxIDLength bounds tenant ids; they prefix redis keys and Postgres rows.
const MaxIDLength = 64

// reservedSubdomains never name a tenant.
var reservedSubdomains = map[string]bool{"www": true, "api": true}

// Resolver picks the tenant from, in order, the tenant header, the subdomain under RootDomain
// and DefaultTenant. A header that is present but malformed leaves the request without a
// tenant instead of falling through, so a typo never lands on the default tenant's data.
type Resolver struct {
	HeaderName    string
	RootDomain    string
	DefaultTenant string
}

// NewResolver normalises the configuration. An empty headerName means DefaultHeader.
func NewResolver(headerName, rootDomain, defaultTenant string) *Resolver {
	if strings.TrimSpace(headerName) == "" {
		headerName = DefaultHeader
	}
	return &Resolver{
		HeaderName:    strings.TrimSpace(headerName),
		RootDomain:    strings.Trim(strings.ToLower(strings.TrimSpace(rootDomain)), "."),
		DefaultTenant: strings.TrimSpace(defaultTenant),
	}
}

// Middleware stores the resolved tenant on the request context. Requests without a tenant
// pass through untouched; Require rejects them where a tenant is mandatory.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if tenantID, ok := r.Resolve(req); ok {
			req = req.WithContext(WithTenant(req.Context(), tenantID))
		}
		next.ServeHTTP(w, req)
	})
}

// Resolve returns the tenant for req and whether one was found.
func (r *Resolver) Resolve(req *http.Request) (string, bool) {
	if r == nil || req == nil {
		return "", false
	}
	if raw, present := req.Header[http.CanonicalHeaderKey(r.HeaderName)]; present && len(raw) > 0 {
		id := strings.TrimSpace(raw[0])
		return id, ValidID(id)
	}
	if id := r.subdomain(req.Host); ValidID(id) {
		return id, true
	}
	if ValidID(r.DefaultTenant) {
		return r.DefaultTenant, true
	}
	return "", false
}

// subdomain returns the left-most label of host below RootDomain. Without a RootDomain any
// multi-label host yields its first label.
func (r *Resolver) subdomain(hostport string) string {
	host := strings.ToLower(strings.TrimSpace(hostport))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "" || net.ParseIP(host) != nil {
		return ""
	}
	if r.RootDomain != "" {
		rest, ok := strings.CutSuffix(host, "."+r.RootDomain)
		if !ok {
			return ""
		}
		host = rest
	} else if !strings.Contains(host, ".") {
		return ""
	}
	label, _, _ := strings.Cut(host, ".")
	if reservedSubdomains[label] {
		return ""
	}
	return label
}

// ValidID reports whether id is 1 to MaxIDLength letters, digits, '-' or '_'.
func ValidID(id string) bool {
	if id == "" || len(id) > MaxIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// WithTenant stores the tenant id on ctx.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, tenantID)
}

// FromContext returns the tenant id stored by WithTenant.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	tenantID, _ := ctx.Value(contextKey{}).(string)
	tenantID = strings.TrimSpace(tenantID)
	return tenantID, tenantID != ""
}
