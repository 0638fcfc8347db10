// Package harness runs one guest snippet in a fresh environment built from the
// capability set, under an output capture scope and resource guards, and
// reports what happened as an outcome.Outcome.
//
// A Harness holds no per-run state and is safe for concurrent use.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/rhuss/starbox/pkg/capability"
	"github.com/rhuss/starbox/pkg/capture"
	"github.com/rhuss/starbox/pkg/classify"
	"github.com/rhuss/starbox/pkg/debug"
	"github.com/rhuss/starbox/pkg/modules"
	"github.com/rhuss/starbox/pkg/outcome"
)

// ErrCaptureTeardown is returned when the output capture scope of a run could
// not be detached. The process can no longer vouch for capture isolation.
var ErrCaptureTeardown = errors.New("output capture teardown failed")

// Defaults applied by New to zero Config fields.
const (
	DefaultFilename       = "<snippet>"
	DefaultTimeout        = 10 * time.Second
	DefaultMaxSteps       = 100_000_000
	DefaultMaxCallDepth   = 1000
	DefaultMaxOutputBytes = 1 << 20
)

// stepInterval is how many interpreter steps pass between guard checks.
const stepInterval = 32

// internalMessage is the only detail reported for a fault inside the harness.
const internalMessage = "internal error while running snippet"

// Config holds the per-run limits.
type Config struct {
	// Filename names the snippet in positions and traces.
	Filename string

	// Timeout is the wall-clock deadline of one run.
	Timeout time.Duration

	// MaxSteps is the interpreter step budget of one run.
	MaxSteps uint64

	// MaxCallDepth is the deepest call stack a run may build.
	MaxCallDepth int

	// MaxOutputBytes bounds each of the two output sinks.
	MaxOutputBytes int
}

// Harness executes snippets against a capability set.
type Harness struct {
	set  *capability.Set
	cfg  Config
	opts *syntax.FileOptions
}

// New returns a harness for set. Zero Config fields take their defaults.
func New(set *capability.Set, cfg Config) *Harness {
	if cfg.Filename == "" {
		cfg.Filename = DefaultFilename
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = DefaultMaxCallDepth
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Harness{
		set: set,
		cfg: cfg,
		opts: &syntax.FileOptions{
			Set:             true,
			While:           true,
			TopLevelControl: true,
			GlobalReassign:  true,
			Recursion:       true,
		},
	}
}

// Config returns the effective limits.
func (h *Harness) Config() Config {
	return h.cfg
}

// Run executes snippet once. Every guest-induced condition is reported in the
// returned outcome; the error is non-nil only for ErrCaptureTeardown.
func (h *Harness) Run(ctx context.Context, snippet string) (outcome.Outcome, error) {
	if strings.TrimSpace(snippet) == "" {
		return outcome.Outcome{Status: outcome.InputError}, nil
	}

	var out outcome.Outcome
	prog, globals, failure := h.compile(snippet)
	if failure != nil {
		out.Apply(*failure)
		return out, nil
	}

	ctx, cancel := context.WithTimeoutCause(ctx, h.cfg.Timeout,
		fmt.Errorf("time limit of %s exceeded", h.cfg.Timeout))
	defer cancel()

	thread := &starlark.Thread{
		Name: "snippet",
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, modules.ImportError("No module named '%s'", module)
		},
	}
	modules.SeedThread(thread)
	h.guard(thread)
	capture.Attach(thread, capture.NewScope(h.cfg.MaxOutputBytes))

	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(cancelReason(ctx))
	})
	env, evalErr := h.eval(thread, prog)
	stop()

	stdout, stderr, detachErr := capture.Detach(thread)
	if detachErr != nil {
		out.Apply(outcome.Failure{
			Status: outcome.RuntimeFailure,
			Runtime: &outcome.RuntimeError{
				Kind:    outcome.KindCaptureTeardown,
				Message: "output capture could not be detached",
			},
		})
		return out, fmt.Errorf("%w: %w", ErrCaptureTeardown, detachErr)
	}
	out.Stdout, out.Stderr = stdout, stderr

	var panicErr *panicError
	switch {
	case errors.As(evalErr, &panicErr):
		slog.Error("panic while running snippet", "panic", panicErr.value, "steps", thread.Steps)
		out.Apply(outcome.Failure{
			Status: outcome.RuntimeFailure,
			Runtime: &outcome.RuntimeError{
				Kind:    outcome.KindInternalError,
				Message: internalMessage,
			},
		})
	case evalErr != nil:
		out.Apply(classify.Classify(evalErr, h.cfg.Filename))
	default:
		out.Status = outcome.Success
		out.Bindings = h.bindings(globals, env)
	}

	debug.Log(debug.Harness, "run finished",
		"status", out.Status.String(),
		"steps", thread.Steps,
		"bindings", len(out.Bindings),
	)
	return out, nil
}

// compile checks the snippet and returns a program plus the names of its
// globals in definition order.
//
// The first pass resolves against the capability set alone, with no
// universal names, so that nothing outside the set can ever be reached. The
// resolver annotates the tree it checks, so the program is built from a
// second parse.
func (h *Harness) compile(snippet string) (*starlark.Program, []string, *outcome.Failure) {
	fail := func(err error) (*starlark.Program, []string, *outcome.Failure) {
		f := classify.Classify(err, h.cfg.Filename)
		return nil, nil, &f
	}

	checked, err := h.opts.Parse(h.cfg.Filename, snippet, 0)
	if err != nil {
		return fail(err)
	}
	if err := resolve.File(checked, h.set.Has, func(string) bool { return false }); err != nil {
		return fail(err)
	}

	f, err := h.opts.Parse(h.cfg.Filename, snippet, 0)
	if err != nil {
		return fail(err)
	}
	prog, err := starlark.FileProgram(f, h.set.Has)
	if err != nil {
		return fail(err)
	}

	var globals []string
	if m, ok := f.Module.(*resolve.Module); ok {
		globals = make([]string, 0, len(m.Globals))
		for _, b := range m.Globals {
			globals = append(globals, b.First.Name)
		}
	}
	debug.Log(debug.Harness, "compiled", "globals", len(globals))
	return prog, globals, nil
}

// panicError carries a recovered panic out of evaluation.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// eval runs the program in a fresh environment seeded from the capability
// set. The environment is the predeclared scope of the program and the
// program's globals are visible to every function it defines.
func (h *Harness) eval(thread *starlark.Thread, prog *starlark.Program) (env starlark.StringDict, err error) {
	defer func() {
		if r := recover(); r != nil {
			env, err = nil, &panicError{value: r}
		}
	}()
	return prog.Init(thread, h.set.Seed())
}

// guard installs the step budget and the call depth ceiling. The interpreter
// calls OnMaxSteps on every step once the current limit is reached, so the
// limit is raised in small increments to get a periodic check.
func (h *Harness) guard(thread *starlark.Thread) {
	budget := h.cfg.MaxSteps
	depth := h.cfg.MaxCallDepth
	thread.SetMaxExecutionSteps(min(uint64(stepInterval), budget))
	thread.OnMaxSteps = func(th *starlark.Thread) {
		if th.CallStackDepth() > depth {
			th.Cancel(fmt.Sprintf("maximum call depth of %d exceeded", depth))
			return
		}
		if th.Steps >= budget {
			th.Cancel(fmt.Sprintf("step budget of %d exceeded", budget))
			return
		}
		th.SetMaxExecutionSteps(min(th.Steps+stepInterval, budget))
	}
}

func cancelReason(ctx context.Context) string {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		return "deadline exceeded"
	case errors.Is(cause, context.Canceled):
		return "execution cancelled"
	default:
		return cause.Error()
	}
}
