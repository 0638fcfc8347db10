package apikey

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/starbox/pkg/auth"
)

func newTestAuth() *Authenticator {
	return New([]Key{
		{
			Key: "sk-test-key-1",
			Identity: auth.Identity{
				Subject:     "alice",
				Tenant:      "org-1",
				ServiceTier: "standard",
				Scopes:      []string{"execute"},
			},
		},
		{
			Key:      "sk-test-key-2",
			Identity: auth.Identity{Subject: "bob", ServiceTier: "premium"},
		},
		{Key: "", Identity: auth.Identity{Subject: "ignored"}},
	})
}

func TestAuthenticate(t *testing.T) {
	a := newTestAuth()

	tests := []struct {
		name        string
		header      string
		value       string
		want        auth.Decision
		wantSubject string
	}{
		{"bearer key", "Authorization", "Bearer sk-test-key-1", auth.Yes, "alice"},
		{"second key", "Authorization", "Bearer sk-test-key-2", auth.Yes, "bob"},
		{"api key header", HeaderName, "sk-test-key-2", auth.Yes, "bob"},
		{"unknown key", "Authorization", "Bearer sk-nope", auth.No, ""},
		{"unknown api key header", HeaderName, "sk-nope", auth.No, ""},
		{"empty bearer", "Authorization", "Bearer ", auth.No, ""},
		{"basic auth", "Authorization", "Basic dXNlcjpwYXNz", auth.Abstain, ""},
		{"no credentials", "", "", auth.Abstain, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			res := a.Authenticate(context.Background(), r)
			if res.Decision != tt.want {
				t.Fatalf("Decision = %s, want %s", res.Decision, tt.want)
			}
			if tt.wantSubject != "" && res.Identity.Subject != tt.wantSubject {
				t.Errorf("Subject = %q, want %q", res.Identity.Subject, tt.wantSubject)
			}
		})
	}
}

func TestIdentityIsCopied(t *testing.T) {
	a := newTestAuth()
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("Authorization", "Bearer sk-test-key-1")

	first := a.Authenticate(context.Background(), r)
	first.Identity.Subject = "mallory"
	first.Identity.Scopes[0] = "admin"

	second := a.Authenticate(context.Background(), r)
	if second.Identity.Subject != "alice" || second.Identity.Scopes[0] != "execute" {
		t.Errorf("stored identity was mutated: %+v", second.Identity)
	}
	if second.Identity.TenantID() != "org-1" {
		t.Errorf("Tenant = %q, want org-1", second.Identity.TenantID())
	}
}

func TestEmptyKeysIgnored(t *testing.T) {
	if n := newTestAuth().Len(); n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
}
