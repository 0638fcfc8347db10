// Package outcome defines the closed result contract of a single snippet
// execution. Every way a run can end maps to exactly one Status, and the
// failure details that go with it, so nothing from guest evaluation crosses
// the harness boundary as an arbitrary error.
package outcome

// Status is the terminal state of one execution.
type Status int

const (
	// Success means evaluation completed without raising.
	Success Status = iota

	// InputError means the snippet was rejected before execution
	// (not a string, or empty after trimming whitespace).
	InputError

	// SyntaxFailure means the snippet could not be parsed. No code ran.
	SyntaxFailure

	// RuntimeFailure means an error was raised during evaluation, or a name
	// could not be resolved against the capability set.
	RuntimeFailure

	// ResourceExceeded means the run was aborted by a deadline, step budget,
	// call depth ceiling, output ceiling, or because no execution slot
	// became available in time.
	ResourceExceeded
)

// String returns the lowercase label used in logs and metrics.
func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case InputError:
		return "input_error"
	case SyntaxFailure:
		return "syntax_failure"
	case RuntimeFailure:
		return "runtime_failure"
	case ResourceExceeded:
		return "resource_exceeded"
	default:
		return "unknown"
	}
}

// Failed reports whether the status is anything other than Success.
func (s Status) Failed() bool {
	return s != Success
}

// Kind names used for runtime failures that do not come from a guest error
// category.
const (
	KindNameError        = "NameError"
	KindImportError      = "ImportError"
	KindResourceExceeded = "ResourceExceeded"
	KindInternalError    = "InternalError"
	KindCaptureTeardown  = "CaptureTeardownFailure"
)

// SyntaxError describes a parse failure. Line and Message are taken verbatim
// from the parser diagnostic.
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

// RuntimeError describes a failure raised during evaluation.
type RuntimeError struct {
	// Kind is the category name of the raised condition (e.g. "ZeroDivisionError").
	Kind string

	// Message is the description of the condition.
	Message string

	// Trace holds at most the last two lines that reference the snippet's own
	// frames. Frames internal to the harness are never included.
	Trace []string
}

// Failure is the classified form of an execution error.
// Exactly one of Syntax or Runtime is set.
type Failure struct {
	Status  Status
	Syntax  *SyntaxError
	Runtime *RuntimeError
}

// Binding is one name newly introduced by a snippet, already rendered.
type Binding struct {
	Name  string
	Value string
}

// Outcome is everything one run produced.
type Outcome struct {
	Status Status

	// Stdout and Stderr are the captured text of the two output sinks.
	Stdout string
	Stderr string

	// Bindings lists the names introduced by the snippet in definition order.
	// Only populated on Success.
	Bindings []Binding

	// Syntax is set when Status is SyntaxFailure.
	Syntax *SyntaxError

	// Runtime is set when Status is RuntimeFailure or ResourceExceeded.
	Runtime *RuntimeError
}

// Apply copies a classified failure into the outcome.
func (o *Outcome) Apply(f Failure) {
	o.Status = f.Status
	o.Syntax = f.Syntax
	o.Runtime = f.Runtime
	o.Bindings = nil
}

// Kind returns the failure kind for metrics and audit records: the runtime
// kind, "SyntaxError" for parse failures, or an empty string on success.
func (o Outcome) Kind() string {
	switch {
	case o.Runtime != nil:
		return o.Runtime.Kind
	case o.Syntax != nil:
		return "SyntaxError"
	case o.Status == InputError:
		return "InputError"
	default:
		return ""
	}
}
