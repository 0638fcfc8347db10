package postgres

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rhuss/starbox/pkg/audit"
)

func init() {
	// Configure testcontainers to use podman when it is the local runtime.
	// Detect the podman socket from `podman machine inspect`.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			sock := strings.TrimSpace(string(out))
			if sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	// Ryuk needs privileged mode with podman.
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// setupTestDB starts a PostgreSQL container and returns a connected Store.
// Tests are skipped if no container runtime is available.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}

	_, podmanErr := exec.LookPath("podman")
	_, dockerErr := exec.LookPath("docker")
	if podmanErr != nil && dockerErr != nil {
		t.Skip("no container runtime found, skipping integration tests")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("starbox_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}

	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	store, err := New(ctx, Config{
		DSN:            connStr,
		MaxConns:       5,
		MinConns:       1,
		MigrateOnStart: true,
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func makeTestRecord(status string, created time.Time) *audit.Record {
	return &audit.Record{
		ID:         audit.NewID(),
		Subject:    "alice",
		Status:     status,
		Kind:       "ZeroDivisionError",
		CodeLength: 5,
		CodeSHA256: audit.Digest("1 / 0"),
		Duration:   1500 * time.Microsecond,
		CreatedAt:  created.UTC().Truncate(time.Microsecond),
	}
}

func TestPostgres_SaveAndGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	rec := makeTestRecord("runtime_failure", time.Now())
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != rec.Status || got.Kind != rec.Kind || got.Subject != rec.Subject {
		t.Errorf("Get = %+v, want %+v", got, rec)
	}
	if got.Duration != rec.Duration {
		t.Errorf("Duration = %v, want %v", got.Duration, rec.Duration)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
}

func TestPostgres_GetNotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.Get(context.Background(), audit.NewID())
	if !errors.Is(err, audit.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_DuplicateSave(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	rec := makeTestRecord("success", time.Now())
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	if err := store.Save(ctx, rec); !errors.Is(err, audit.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestPostgres_HealthCheck(t *testing.T) {
	store := setupTestDB(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestPostgres_List(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, status := range []string{"success", "syntax_failure", "success"} {
		if err := store.Save(ctx, makeTestRecord(status, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	all, err := store.List(ctx, audit.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if !all[0].CreatedAt.After(all[2].CreatedAt) {
		t.Error("List must return newest first")
	}

	ok, err := store.List(ctx, audit.ListOptions{Status: "success", Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ok) != 1 || ok[0].Status != "success" {
		t.Errorf("filtered List = %+v", ok)
	}
}

func TestPostgres_TenantIsolation(t *testing.T) {
	store := setupTestDB(t)
	ctxA := audit.SetTenant(context.Background(), "tenant-a")
	ctxB := audit.SetTenant(context.Background(), "tenant-b")

	rec := makeTestRecord("success", time.Now())
	if err := store.Save(ctxA, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Get(ctxA, rec.ID); err != nil {
		t.Errorf("tenant-a Get failed: %v", err)
	}
	if _, err := store.Get(ctxB, rec.ID); !errors.Is(err, audit.ErrNotFound) {
		t.Errorf("tenant-b should not see tenant-a's record, got %v", err)
	}

	list, err := store.List(ctxB, audit.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("tenant-b List returned %d records", len(list))
	}
}

func TestPostgres_MigrationsAreIdempotent(t *testing.T) {
	store := setupTestDB(t)
	if err := store.migrate(context.Background()); err != nil {
		t.Errorf("second migrate failed: %v", err)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migrations, err := embeddedMigrations()
	if err != nil {
		t.Fatalf("embeddedMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no migrations embedded")
	}
	for i, m := range migrations {
		if m.version != i+1 {
			t.Errorf("migration %d has version %d, want %d", i, m.version, i+1)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.defaults()
	if cfg.MaxConns != 10 || cfg.MinConns != 1 || cfg.MaxConnLifetime != 30*time.Minute || cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("defaults = %+v", cfg)
	}
}
