package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/starbox/pkg/auth"
)

var (
	rsaKey *rsa.PrivateKey
	ecKey  *ecdsa.PrivateKey
)

func init() {
	var err error
	if rsaKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
		panic(fmt.Sprintf("generating RSA key: %v", err))
	}
	if ecKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
		panic(fmt.Sprintf("generating EC key: %v", err))
	}
}

const (
	rsaKID = "rsa-1"
	ecKID  = "ec-1"
	issuer = "https://auth.example.com"
	aud    = "starbox"
)

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

// jwksServer publishes both test keys and counts fetches.
func jwksServer(t *testing.T, fetches *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{
				{
					"kty": "RSA", "kid": rsaKID, "use": "sig",
					"n": b64(rsaKey.N.Bytes()),
					"e": b64(big.NewInt(int64(rsaKey.E)).Bytes()),
				},
				{
					"kty": "EC", "kid": ecKID, "crv": "P-256",
					"x": b64(ecKey.X.FillBytes(make([]byte, 32))),
					"y": b64(ecKey.Y.FillBytes(make([]byte, 32))),
				},
				{"kty": "RSA", "kid": "enc-1", "use": "enc", "n": "AQAB", "e": "AQAB"},
				{"kty": "oct", "kid": "hmac-1"},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newAuthenticator(t *testing.T) (*Authenticator, *atomic.Int32) {
	t.Helper()
	var fetches atomic.Int32
	srv := jwksServer(t, &fetches)
	return New(Config{Issuer: issuer, Audience: aud, JWKSURL: srv.URL}), &fetches
}

func baseClaims() jwtlib.MapClaims {
	return jwtlib.MapClaims{
		"sub": "user-123",
		"iss": issuer,
		"aud": aud,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
}

func sign(t *testing.T, method jwtlib.SigningMethod, kid string, key any, claims jwtlib.MapClaims) string {
	t.Helper()
	token := jwtlib.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func authenticate(a *Authenticator, header string) auth.Result {
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	if header != "" {
		r.Header.Set("Authorization", header)
	}
	return a.Authenticate(context.Background(), r)
}

func TestValidTokens(t *testing.T) {
	a, _ := newAuthenticator(t)

	claims := baseClaims()
	claims["tenant_id"] = "org-1"
	claims["tier"] = "premium"
	claims["scope"] = "read execute"

	tests := []struct {
		name  string
		token string
	}{
		{"RS256", sign(t, jwtlib.SigningMethodRS256, rsaKID, rsaKey, claims)},
		{"ES256", sign(t, jwtlib.SigningMethodES256, ecKID, ecKey, claims)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := authenticate(a, "Bearer "+tt.token)
			if res.Decision != auth.Yes {
				t.Fatalf("Decision = %s, err = %v", res.Decision, res.Err)
			}
			id := res.Identity
			if id.Subject != "user-123" || id.Tenant != "org-1" || id.ServiceTier != "premium" {
				t.Errorf("Identity = %+v", id)
			}
			if !id.HasScope("execute") || len(id.Scopes) != 2 {
				t.Errorf("Scopes = %v", id.Scopes)
			}
		})
	}
}

func TestRejectedTokens(t *testing.T) {
	a, _ := newAuthenticator(t)

	mutate := func(f func(jwtlib.MapClaims)) jwtlib.MapClaims {
		c := baseClaims()
		f(c)
		return c
	}
	otherKey, _ := rsa.GenerateKey(rand.Reader, 2048)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", sign(t, jwtlib.SigningMethodRS256, rsaKID, rsaKey, mutate(func(c jwtlib.MapClaims) {
			c["exp"] = time.Now().Add(-time.Hour).Unix()
		}))},
		{"no expiry", sign(t, jwtlib.SigningMethodRS256, rsaKID, rsaKey, mutate(func(c jwtlib.MapClaims) {
			delete(c, "exp")
		}))},
		{"wrong issuer", sign(t, jwtlib.SigningMethodRS256, rsaKID, rsaKey, mutate(func(c jwtlib.MapClaims) {
			c["iss"] = "https://evil.example.com"
		}))},
		{"wrong audience", sign(t, jwtlib.SigningMethodRS256, rsaKID, rsaKey, mutate(func(c jwtlib.MapClaims) {
			c["aud"] = "other"
		}))},
		{"no subject", sign(t, jwtlib.SigningMethodRS256, rsaKID, rsaKey, mutate(func(c jwtlib.MapClaims) {
			delete(c, "sub")
		}))},
		{"no kid", sign(t, jwtlib.SigningMethodRS256, "", rsaKey, baseClaims())},
		{"unknown kid", sign(t, jwtlib.SigningMethodRS256, "rsa-9", rsaKey, baseClaims())},
		{"bad signature", sign(t, jwtlib.SigningMethodRS256, rsaKID, otherKey, baseClaims())},
		{"hmac", sign(t, jwtlib.SigningMethodHS256, rsaKID, []byte("secret"), baseClaims())},
		{"garbage", "not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := authenticate(a, "Bearer "+tt.token)
			if res.Decision != auth.No {
				t.Errorf("Decision = %s, want no", res.Decision)
			}
			if res.Err == nil {
				t.Error("rejection must carry an error")
			}
		})
	}
}

func TestAbstain(t *testing.T) {
	a, fetches := newAuthenticator(t)
	for _, header := range []string{"", "Basic dXNlcjpwYXNz"} {
		if res := authenticate(a, header); res.Decision != auth.Abstain {
			t.Errorf("header %q: Decision = %s, want abstain", header, res.Decision)
		}
	}
	if fetches.Load() != 0 {
		t.Error("abstaining must not fetch the key set")
	}
}

func TestKeySetIsCached(t *testing.T) {
	a, fetches := newAuthenticator(t)
	token := sign(t, jwtlib.SigningMethodRS256, rsaKID, rsaKey, baseClaims())

	for i := 0; i < 5; i++ {
		if res := authenticate(a, "Bearer "+token); res.Decision != auth.Yes {
			t.Fatalf("request %d: %v", i, res.Err)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
}

func TestConcurrentMissesShareFetch(t *testing.T) {
	a, fetches := newAuthenticator(t)
	token := sign(t, jwtlib.SigningMethodES256, ecKID, ecKey, baseClaims())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := authenticate(a, "Bearer "+token); res.Decision != auth.Yes {
				t.Errorf("Decision = %s: %v", res.Decision, res.Err)
			}
		}()
	}
	wg.Wait()

	// Misses racing the first fetch join it; late arrivals hit the cache.
	if n := fetches.Load(); n < 1 || n > 20 {
		t.Errorf("fetches = %d", n)
	}
}

func TestUnknownKeyError(t *testing.T) {
	a, _ := newAuthenticator(t)
	_, err := a.keys.get(context.Background(), "missing")
	if !errors.Is(err, ErrUnknownKey) {
		t.Errorf("err = %v, want ErrUnknownKey", err)
	}
}

func TestJWKSUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := New(Config{JWKSURL: srv.URL})
	token := sign(t, jwtlib.SigningMethodRS256, rsaKID, rsaKey, baseClaims())
	if res := authenticate(a, "Bearer "+token); res.Decision != auth.No {
		t.Errorf("Decision = %s, want no", res.Decision)
	}
}

func TestClaimScopes(t *testing.T) {
	tests := []struct {
		value any
		want  int
	}{
		{"read execute", 2},
		{[]any{"read", "execute", 7}, 2},
		{"", 0},
		{42, 0},
	}
	for _, tt := range tests {
		got := claimScopes(jwtlib.MapClaims{"scope": tt.value}, "scope")
		if len(got) != tt.want {
			t.Errorf("claimScopes(%v) = %v, want %d scopes", tt.value, got, tt.want)
		}
	}
}
