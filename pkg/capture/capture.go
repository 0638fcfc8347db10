// Package capture redirects everything a snippet writes into per-run
// buffers. The redirection is scoped to one interpreter thread, so concurrent
// runs each see only their own output and nothing reaches the host process's
// standard streams.
package capture

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"go.starlark.net/starlark"
)

// scopeKey is the thread-local key holding the active Scope.
const scopeKey = "starbox.capture"

var (
	// ErrOutputLimit is returned when a sink would grow past its byte limit.
	ErrOutputLimit = errors.New("output limit exceeded")

	// ErrNotAttached is returned by Detach when the thread has no scope.
	ErrNotAttached = errors.New("capture scope is not attached")

	// ErrForeignScope is returned by Detach when the thread carries a scope
	// that was not installed by this package.
	ErrForeignScope = errors.New("thread carries a foreign capture scope")

	// ErrAlreadyDetached is returned by Detach on a second call.
	ErrAlreadyDetached = errors.New("capture scope already detached")
)

// Sink is an append-only text buffer with an optional byte ceiling.
type Sink struct {
	name  string
	limit int

	mu       sync.Mutex
	buf      strings.Builder
	overflow bool
}

// NewSink creates a sink. A limit of zero or less means unbounded.
func NewSink(name string, limit int) *Sink {
	return &Sink{name: name, limit: limit}
}

// Name returns the stream name ("stdout" or "stderr").
func (s *Sink) Name() string { return s.name }

// WriteString appends text. If the write would exceed the limit, the part
// that fits is kept and ErrOutputLimit is returned.
func (s *Sink) WriteString(text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limit > 0 && s.buf.Len()+len(text) > s.limit {
		room := s.limit - s.buf.Len()
		// Keep whole runes only.
		for room > 0 && !utf8.RuneStart(text[room]) {
			room--
		}
		if room > 0 {
			s.buf.WriteString(text[:room])
		}
		s.overflow = true
		return max(room, 0), fmt.Errorf("%s: %w (%d bytes)", s.name, ErrOutputLimit, s.limit)
	}
	return s.buf.WriteString(text)
}

// Write implements io.Writer.
func (s *Sink) Write(p []byte) (int, error) {
	return s.WriteString(string(p))
}

// String returns everything written so far.
func (s *Sink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Overflowed reports whether a write was ever rejected by the limit.
func (s *Sink) Overflowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflow
}

// Scope is the pair of sinks for one run.
type Scope struct {
	Stdout *Sink
	Stderr *Sink

	mu       sync.Mutex
	detached bool
}

// NewScope creates a scope whose sinks each hold at most limit bytes.
func NewScope(limit int) *Scope {
	return &Scope{
		Stdout: NewSink("stdout", limit),
		Stderr: NewSink("stderr", limit),
	}
}

// sink returns the sink for a stream name.
func (sc *Scope) sink(stream string) *Sink {
	if stream == "stderr" {
		return sc.Stderr
	}
	return sc.Stdout
}

// Attach installs sc on thread. It must be called before execution begins.
// The thread's Print hook is pointed at the scope's stdout as well, so any
// path into the interpreter's own print also lands in the capture.
func Attach(thread *starlark.Thread, sc *Scope) {
	thread.SetLocal(scopeKey, sc)
	thread.Print = func(_ *starlark.Thread, msg string) {
		_, _ = sc.Stdout.WriteString(msg + "\n")
	}
}

// FromThread returns the scope attached to thread, or nil.
func FromThread(thread *starlark.Thread) *Scope {
	sc, _ := thread.Local(scopeKey).(*Scope)
	return sc
}

// Detach ends the capture on thread and returns the captured text. Detaching
// twice, or detaching a thread that was never attached, is an error: the
// caller cannot trust that output went where it expected.
func Detach(thread *starlark.Thread) (stdout, stderr string, err error) {
	v := thread.Local(scopeKey)
	if v == nil {
		return "", "", ErrNotAttached
	}
	sc, ok := v.(*Scope)
	if !ok {
		return "", "", fmt.Errorf("%w: %T", ErrForeignScope, v)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.detached {
		return "", "", ErrAlreadyDetached
	}
	sc.detached = true
	thread.Print = func(*starlark.Thread, string) {}
	return sc.Stdout.String(), sc.Stderr.String(), nil
}
