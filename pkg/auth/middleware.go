package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rhuss/starbox/pkg/audit"
	"github.com/rhuss/starbox/pkg/debug"
	"github.com/rhuss/starbox/pkg/observability"
)

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// MiddlewareOptions configures Middleware.
type MiddlewareOptions struct {
	// Limiter enforces per-tier request rates. Nil disables limiting.
	Limiter RateLimiter

	// RequiredScope, when set, must be granted to every caller.
	RequiredScope string

	// Bypass lists paths served without authentication.
	Bypass []string
}

// Middleware authenticates requests with chain. On success the identity and
// its tenant are stored in the request context.
func Middleware(chain *Chain, opts MiddlewareOptions) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(opts.Bypass))
	for _, ep := range opts.Bypass {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			result := chain.Authenticate(r.Context(), r)
			if result.Decision != Yes || result.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"decision", result.Decision,
					"error", result.Err,
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="starbox"`)
				writeError(w, http.StatusUnauthorized, "unauthenticated", ErrUnauthenticated.Error())
				return
			}

			id := result.Identity
			if id.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				writeError(w, http.StatusInternalServerError, "server_error", "internal authentication error")
				return
			}

			if opts.RequiredScope != "" && !id.HasScope(opts.RequiredScope) {
				slog.Warn("missing required scope",
					"subject", id.Subject,
					"scope", opts.RequiredScope,
				)
				writeError(w, http.StatusForbidden, "forbidden", ErrForbidden.Error())
				return
			}

			if opts.Limiter != nil {
				if err := opts.Limiter.Allow(r.Context(), id); err != nil {
					slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", id.Tier())
					observability.RateLimitRejectedTotal.WithLabelValues(id.Tier()).Inc()
					writeError(w, http.StatusTooManyRequests, "too_many_requests", err.Error())
					return
				}
			}

			debug.Log(debug.Auth, "authenticated", "subject", id.Subject, "tenant", id.Tenant, "path", r.URL.Path)

			ctx := SetIdentity(r.Context(), id)
			if tenant := id.TenantID(); tenant != "" {
				ctx = audit.SetTenant(ctx, tenant)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	var body errorBody
	body.Error.Type = typ
	body.Error.Message = msg
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
