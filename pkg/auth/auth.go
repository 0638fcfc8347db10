package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
)

// Decision is the vote an Authenticator casts for a request.
type Decision int

const (
	// Yes means credentials are valid. The chain stops and the identity is used.
	Yes Decision = iota

	// No means credentials are present but invalid. The chain stops and the
	// request is rejected.
	No

	// Abstain means the authenticator does not recognise the credentials.
	// The chain continues with the next authenticator.
	Abstain
)

func (d Decision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Abstain:
		return "abstain"
	}
	return "unknown"
}

// AnonymousSubject is the subject of callers admitted by a chain whose
// authenticators all abstained.
const AnonymousSubject = "anonymous"

// DefaultTier is the rate limit tier of identities without one.
const DefaultTier = "default"

// Result carries the outcome of an authentication attempt.
type Result struct {
	Decision Decision
	Identity *Identity // set only when Decision == Yes
	Err      error     // set only when Decision == No
}

// Identity is an authenticated caller of the execute tool.
type Identity struct {
	// Subject uniquely identifies the caller (required).
	Subject string

	// Tenant scopes the caller's audit records. Empty means single-tenant.
	Tenant string

	// ServiceTier selects the rate limit.
	ServiceTier string

	// Scopes lists the granted authorization scopes.
	Scopes []string
}

// TenantID returns the tenant, or "" for a nil identity.
func (id *Identity) TenantID() string {
	if id == nil {
		return ""
	}
	return id.Tenant
}

// Tier returns the service tier, falling back to DefaultTier.
func (id *Identity) Tier() string {
	if id == nil || id.ServiceTier == "" {
		return DefaultTier
	}
	return id.ServiceTier
}

// HasScope reports whether the identity was granted scope.
func (id *Identity) HasScope(scope string) bool {
	return id != nil && slices.Contains(id.Scopes, scope)
}

// Authenticator examines request credentials and votes.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Chain evaluates authenticators in order using three-outcome voting.
type Chain struct {
	// Authenticators are evaluated left to right.
	Authenticators []Authenticator

	// Default is used when all authenticators abstain. Yes admits the
	// caller as AnonymousSubject; anything else rejects.
	Default Decision
}

// Authenticate runs the chain and stops on the first Yes or No.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, authn := range c.Authenticators {
		if res := authn.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}

	if c.Default == Yes {
		return Result{
			Decision: Yes,
			Identity: &Identity{Subject: AnonymousSubject, ServiceTier: DefaultTier},
		}
	}
	return Result{Decision: No, Err: ErrUnauthenticated}
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
// ok is false when the header is absent or uses another scheme.
func BearerToken(r *http.Request) (token string, ok bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
