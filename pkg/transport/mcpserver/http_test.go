package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/starbox/pkg/audit"
	"github.com/rhuss/starbox/pkg/audit/memory"
	"github.com/rhuss/starbox/pkg/auth"
	"github.com/rhuss/starbox/pkg/auth/apikey"
	"github.com/rhuss/starbox/pkg/sandbox"
)

const testKey = "sk-test"

func guarded() func(http.Handler) http.Handler {
	chain := &auth.Chain{
		Authenticators: []auth.Authenticator{apikey.New([]apikey.Key{{
			Key:      testKey,
			Identity: auth.Identity{Subject: "alice", Tenant: "org-1"},
		}})},
		Default: auth.No,
	}
	return auth.Middleware(chain, auth.MiddlewareOptions{Bypass: auth.DefaultBypassEndpoints})
}

func newHTTPServer(t *testing.T, exec Executor) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(Handler(exec, HTTPOptions{
		MetricsPath: "/metrics",
		Auth:        guarded(),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url, key string) (*http.Response, string) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

// keyTransport authenticates every request with testKey.
type keyTransport struct{}

func (keyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+testKey)
	return http.DefaultTransport.RoundTrip(r)
}

func httpSession(t *testing.T, url string, rt http.RoundTripper) (*mcp.ClientSession, error) {
	t.Helper()
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{
		Endpoint:   url + "/mcp",
		HTTPClient: &http.Client{Transport: rt},
	}, nil)
	if err == nil {
		t.Cleanup(func() { _ = session.Close() })
	}
	return session, err
}

func TestProbes(t *testing.T) {
	srv := newHTTPServer(t, newService(t, memory.New(0)))

	if resp, body := get(t, srv.URL+"/healthz", ""); resp.StatusCode != http.StatusOK || body != "ok\n" {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}
	if resp, _ := get(t, srv.URL+"/readyz", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("readyz = %d", resp.StatusCode)
	}
	if resp, body := get(t, srv.URL+"/metrics", ""); resp.StatusCode != http.StatusOK || !strings.Contains(body, "starbox_requests_total") {
		t.Errorf("metrics = %d, missing starbox_requests_total", resp.StatusCode)
	}
}

// unready fails readiness and has no audit store.
type unready struct{ Executor }

func (unready) Ready(context.Context) error { return errors.New("database down") }
func (unready) Store() audit.Store          { return nil }

func TestReadinessFailure(t *testing.T) {
	srv := newHTTPServer(t, unready{})
	if resp, _ := get(t, srv.URL+"/readyz", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", resp.StatusCode)
	}
	if resp, _ := get(t, srv.URL+"/executions", testKey); resp.StatusCode != http.StatusNotFound {
		t.Errorf("executions without a store = %d, want 404", resp.StatusCode)
	}
}

func TestMCPRequiresAuth(t *testing.T) {
	srv := newHTTPServer(t, newService(t, nil))
	if _, err := httpSession(t, srv.URL, http.DefaultTransport); err == nil {
		t.Error("unauthenticated MCP session was accepted")
	}
	if resp, _ := get(t, srv.URL+"/mcp", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("GET /mcp without a key = %d, want 401", resp.StatusCode)
	}
}

func TestExecuteOverHTTPIsAudited(t *testing.T) {
	store := memory.New(0)
	srv := newHTTPServer(t, newService(t, store))

	session, err := httpSession(t, srv.URL, keyTransport{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolName,
		Arguments: map[string]any{"code": "print('hi')"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if got := resultText(t, res); got != "output:\nhi" {
		t.Errorf("text = %q", got)
	}

	// The record is attributed to the authenticated caller.
	records, err := store.List(context.Background(), audit.ListOptions{})
	if err != nil || len(records) != 1 {
		t.Fatalf("List = %v, %v", records, err)
	}
	rec := records[0]
	if rec.Subject != "alice" || rec.Tenant != "org-1" || rec.Status != "success" {
		t.Errorf("record = %+v", rec)
	}

	resp, body := get(t, srv.URL+"/executions", testKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /executions = %d: %s", resp.StatusCode, body)
	}
	var list listResponse
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 1 || list.Data[0].ID != rec.ID {
		t.Errorf("list = %+v", list)
	}

	resp, body = get(t, srv.URL+"/executions/"+rec.ID, testKey)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, rec.CodeSHA256) {
		t.Errorf("GET /executions/{id} = %d: %s", resp.StatusCode, body)
	}
	if strings.Contains(body, "print('hi')") {
		t.Error("execution record exposes the code")
	}
}

func TestExecutionsEndpoints(t *testing.T) {
	store := memory.New(0)
	srv := newHTTPServer(t, newService(t, store))

	ctx := audit.SetTenant(context.Background(), "org-2")
	other := &audit.Record{ID: audit.NewID(), Status: "success", CodeSHA256: audit.Digest("x")}
	if err := store.Save(ctx, other); err != nil {
		t.Fatalf("Save: %v", err)
	}

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{"no key", "/executions", "", http.StatusUnauthorized},
		{"bad limit", "/executions?limit=-1", testKey, http.StatusBadRequest},
		{"non-numeric limit", "/executions?limit=ten", testKey, http.StatusBadRequest},
		{"malformed id", "/executions/nope", testKey, http.StatusBadRequest},
		{"unknown id", "/executions/" + audit.NewID(), testKey, http.StatusNotFound},
		{"other tenant", "/executions/" + other.ID, testKey, http.StatusNotFound},
		{"filtered list", "/executions?status=success&limit=5", testKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp, body := get(t, srv.URL+tt.path, tt.key); resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tt.want, body)
			}
		})
	}
}

var _ Executor = (*sandbox.Service)(nil)
