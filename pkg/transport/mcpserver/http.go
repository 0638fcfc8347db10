package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/starbox/pkg/audit"
	"github.com/rhuss/starbox/pkg/observability"
)

// readyTimeout bounds a readiness probe.
const readyTimeout = 2 * time.Second

// HTTPOptions configures Handler.
type HTTPOptions struct {
	Options

	// Path serves the MCP endpoint. Default: "/mcp".
	Path string

	// MetricsPath serves Prometheus metrics. Empty disables the endpoint.
	MetricsPath string

	// Auth guards the MCP and audit endpoints. Nil leaves them open.
	Auth func(http.Handler) http.Handler
}

// Handler returns the HTTP surface: the streamable MCP endpoint, health and
// readiness probes, metrics and, when exec has an audit store, the
// read-only execution history.
func Handler(exec Executor, opts HTTPOptions) http.Handler {
	if opts.Path == "" {
		opts.Path = "/mcp"
	}
	guard := opts.Auth
	if guard == nil {
		guard = func(h http.Handler) http.Handler { return h }
	}

	// Stateless sessions give every request its own server bound to the
	// authenticated caller of that request.
	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return newServer(exec, opts.Options, callerFrom(r.Context()))
	}, &mcp.StreamableHTTPOptions{Stateless: true})

	mux := http.NewServeMux()
	mux.Handle(opts.Path, guard(mcpHandler))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := exec.Ready(ctx); err != nil {
			slog.Warn("readiness check failed", "error", err)
			http.Error(w, "not ready\n", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok\n"))
	})
	if opts.MetricsPath != "" {
		mux.Handle("GET "+opts.MetricsPath, promhttp.Handler())
	}
	if store := exec.Store(); store != nil {
		h := &executions{store: store}
		mux.Handle("GET /executions", guard(http.HandlerFunc(h.list)))
		mux.Handle("GET /executions/{id}", guard(http.HandlerFunc(h.get)))
	}

	return observability.MetricsMiddleware(mux)
}

// executions serves the audit trail of the caller's tenant.
type executions struct {
	store audit.Store
}

type listResponse struct {
	Object string          `json:"object"`
	Data   []*audit.Record `json:"data"`
}

func (h *executions) list(w http.ResponseWriter, r *http.Request) {
	opts := audit.ListOptions{Status: r.URL.Query().Get("status")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		opts.Limit = n
	}

	records, err := h.store.List(r.Context(), opts)
	if err != nil {
		observability.AuditErrorsTotal.WithLabelValues("list").Inc()
		slog.Error("listing executions", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "server_error", "could not list executions")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Object: "list", Data: records})
}

func (h *executions) get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !audit.ValidateID(id) {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "malformed execution id")
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, audit.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "execution not found")
		return
	}
	if err != nil {
		observability.AuditErrorsTotal.WithLabelValues("get").Inc()
		slog.Error("getting execution", "id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "server_error", "could not load execution")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"type": typ, "message": msg},
	})
}
