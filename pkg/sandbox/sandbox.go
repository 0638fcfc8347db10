// Package sandbox is the external contract of starbox: hand it code, get
// back one report string. It bounds concurrency with execution slots and
// records metrics, structured logs and an audit trail around each run.
// Nothing it records is ever fed back into a later run.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rhuss/starbox/pkg/audit"
	"github.com/rhuss/starbox/pkg/auth"
	"github.com/rhuss/starbox/pkg/debug"
	"github.com/rhuss/starbox/pkg/format"
	"github.com/rhuss/starbox/pkg/harness"
	"github.com/rhuss/starbox/pkg/observability"
	"github.com/rhuss/starbox/pkg/outcome"
)

// DefaultMaxConcurrent is the number of execution slots when none is set.
const DefaultMaxConcurrent = 8

// previewLen is how much of the code is logged per execution.
const previewLen = 120

// ErrNoRunner is returned by New without a runner.
var ErrNoRunner = errors.New("sandbox: a runner is required")

// Runner executes one snippet. *harness.Harness is the production runner.
type Runner interface {
	Run(ctx context.Context, snippet string) (outcome.Outcome, error)
	Config() harness.Config
}

// Options configures a Service.
type Options struct {
	// Runner executes snippets (required).
	Runner Runner

	// MaxConcurrent bounds simultaneous executions (default 8).
	MaxConcurrent int64

	// Store receives one record per execution. Nil disables auditing.
	Store audit.Store

	// OnFatal is called once when a run leaves the process unable to
	// guarantee capture isolation. The server cancels its root context.
	OnFatal func(error)
}

// Result is the outcome of one Run.
type Result struct {
	ID       string
	Text     string
	Status   outcome.Status
	Kind     string
	Started  time.Time
	Duration time.Duration
}

// Failed reports whether the execution did not succeed.
func (r Result) Failed() bool {
	return r.Status.Failed()
}

// Service runs snippets for callers. It is safe for concurrent use.
type Service struct {
	runner    Runner
	slots     *semaphore.Weighted
	store     audit.Store
	onFatal   func(error)
	fatalOnce sync.Once
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Runner == nil {
		return nil, ErrNoRunner
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Service{
		runner:  opts.Runner,
		slots:   semaphore.NewWeighted(opts.MaxConcurrent),
		store:   opts.Store,
		onFatal: opts.OnFatal,
	}, nil
}

// Execute runs code and returns the report. It never panics and never
// returns an empty string. code is normally a string; any other value is an
// input error.
func (s *Service) Execute(ctx context.Context, code any) string {
	return s.Run(ctx, code).Text
}

// Run executes code and returns the report with its metadata.
func (s *Service) Run(ctx context.Context, code any) (res Result) {
	res.ID = audit.NewID()
	res.Started = time.Now()
	src, _ := code.(string)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in sandbox service", "id", res.ID, "panic", r)
			res.Status = outcome.RuntimeFailure
			res.Kind = outcome.KindInternalError
			res.Text = format.Failure(outcome.Outcome{
				Status:  outcome.RuntimeFailure,
				Runtime: &outcome.RuntimeError{Kind: outcome.KindInternalError},
			})
		}
		res.Duration = time.Since(res.Started)
		s.finish(ctx, res, src)
	}()

	out := s.execute(ctx, code)
	res.Status = out.Status
	res.Kind = out.Kind()
	res.Text = format.Format(out)
	return res
}

func (s *Service) execute(ctx context.Context, code any) outcome.Outcome {
	src, ok := code.(string)
	if !ok || strings.TrimSpace(src) == "" {
		return outcome.Outcome{Status: outcome.InputError}
	}

	timeout := s.runner.Config().Timeout
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	err := s.slots.Acquire(waitCtx, 1)
	cancel()
	if err != nil {
		return outcome.Outcome{
			Status: outcome.ResourceExceeded,
			Runtime: &outcome.RuntimeError{
				Kind:    outcome.KindResourceExceeded,
				Message: fmt.Sprintf("no execution slot available within %s", timeout),
			},
		}
	}
	defer s.slots.Release(1)

	observability.ExecutionsInflight.Inc()
	defer observability.ExecutionsInflight.Dec()

	out, err := s.runner.Run(ctx, src)
	if err != nil {
		s.fatal(err)
	}
	return out
}

// fatal reports a condition that leaves capture isolation in doubt.
func (s *Service) fatal(err error) {
	slog.Error("execution harness failure", "error", err)
	if errors.Is(err, harness.ErrCaptureTeardown) {
		observability.CaptureTeardownFailuresTotal.Inc()
	}
	if s.onFatal != nil {
		s.fatalOnce.Do(func() { s.onFatal(err) })
	}
}

// finish records metrics, the execution log line and the audit record.
func (s *Service) finish(ctx context.Context, res Result, src string) {
	status := res.Status.String()
	observability.ExecutionsTotal.WithLabelValues(status, res.Kind).Inc()
	observability.ExecutionDuration.WithLabelValues(status).Observe(res.Duration.Seconds())

	slog.Info("execution",
		"id", res.ID,
		"status", status,
		"kind", res.Kind,
		"duration", res.Duration,
		"code_length", len(src),
		"code", debug.Truncate(src, previewLen),
	)
	debug.Trace(debug.Sandbox, "report", "id", res.ID, "text", res.Text)

	if s.store == nil {
		return
	}
	rec := &audit.Record{
		ID:         res.ID,
		Tenant:     audit.GetTenant(ctx),
		Status:     status,
		Kind:       res.Kind,
		CodeLength: len(src),
		CodeSHA256: audit.Digest(src),
		Duration:   res.Duration,
		CreatedAt:  res.Started.UTC(),
	}
	if id := auth.IdentityFromContext(ctx); id != nil {
		rec.Subject = id.Subject
	}
	if err := s.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		observability.AuditErrorsTotal.WithLabelValues("save").Inc()
		slog.Warn("failed to record execution", "id", res.ID, "error", err)
		return
	}
	debug.Log(debug.Audit, "execution recorded", "id", res.ID, "tenant", rec.Tenant)
}

// Store returns the audit store, or nil when auditing is disabled.
func (s *Service) Store() audit.Store {
	return s.store
}

// Ready reports whether the service can accept work.
func (s *Service) Ready(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.HealthCheck(ctx); err != nil {
		observability.AuditErrorsTotal.WithLabelValues("health").Inc()
		return fmt.Errorf("audit store: %w", err)
	}
	return nil
}
