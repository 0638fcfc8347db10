// Package jwt authenticates callers with JWT bearer tokens verified against
// the signing keys published at a JWKS endpoint. RSA and ECDSA keys are
// supported.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/starbox/pkg/auth"
	"github.com/rhuss/starbox/pkg/debug"
)

// signingMethods are the accepted "alg" header values.
var signingMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// Config holds the JWT authenticator configuration.
type Config struct {
	// Issuer is the expected "iss" claim. Empty skips the check.
	Issuer string

	// Audience is the expected "aud" claim. Empty skips the check.
	Audience string

	// JWKSURL serves the key set used to verify signatures.
	JWKSURL string

	// SubjectClaim names the identity subject claim. Default: "sub".
	SubjectClaim string

	// TenantClaim names the tenant claim. Default: "tenant_id".
	TenantClaim string

	// ScopesClaim names the scopes claim, a space-separated string or an
	// array. Default: "scope".
	ScopesClaim string

	// TierClaim names the service tier claim. Default: "tier".
	TierClaim string

	// CacheTTL is how long a fetched key set is trusted. Default: 1 hour.
	CacheTTL time.Duration

	// HTTPClient fetches the key set. Default: a client with a 10s timeout.
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.SubjectClaim == "" {
		c.SubjectClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
}

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	config Config
	keys   *keySet
	parser *jwtlib.Parser
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New creates a JWT authenticator.
func New(cfg Config) *Authenticator {
	cfg.applyDefaults()

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods(signingMethods),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}

	return &Authenticator{
		config: cfg,
		keys:   newKeySet(cfg.JWKSURL, cfg.CacheTTL, cfg.HTTPClient),
		parser: jwtlib.NewParser(opts...),
	}
}

// Authenticate abstains without a bearer token, votes No for any token that
// fails verification and Yes with the identity built from its claims.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Result {
	raw, ok := auth.BearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if raw == "" {
		return reject(errors.New("empty bearer token"))
	}

	claims := jwtlib.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(token *jwtlib.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return a.keys.get(ctx, kid)
	})
	if err != nil {
		debug.Log(debug.Auth, "JWT rejected", "error", err)
		return reject(fmt.Errorf("invalid JWT: %w", err))
	}

	subject := claimString(claims, a.config.SubjectClaim)
	if subject == "" {
		return reject(fmt.Errorf("JWT has no %q claim", a.config.SubjectClaim))
	}

	return auth.Result{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject:     subject,
			Tenant:      claimString(claims, a.config.TenantClaim),
			ServiceTier: claimString(claims, a.config.TierClaim),
			Scopes:      claimScopes(claims, a.config.ScopesClaim),
		},
	}
}

func reject(err error) auth.Result {
	slog.Debug("JWT authentication failed", "error", err)
	return auth.Result{Decision: auth.No, Err: err}
}

func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// claimScopes accepts "read execute" as well as ["read", "execute"].
func claimScopes(claims jwtlib.MapClaims, key string) []string {
	var scopes []string
	switch v := claims[key].(type) {
	case string:
		scopes = strings.Fields(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				scopes = append(scopes, s)
			}
		}
	}
	if len(scopes) == 0 {
		return nil
	}
	return slices.Compact(scopes)
}
