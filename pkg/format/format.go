// Package format renders an execution outcome as the single text report
// returned to callers. The report is never empty.
package format

import (
	"fmt"
	"strings"

	"github.com/rhuss/starbox/pkg/outcome"
)

// Canonical strings of the report.
const (
	NoOutput        = "executed successfully, no output"
	InputError      = "code must be a non-empty string"
	InternalMessage = "internal error while running snippet"
)

// Section headings.
const (
	outputHeading  = "output:"
	stderrHeading  = "error output:"
	definedHeading = "defined:"
)

// Format builds the report for o. Sections appear in a fixed order (output,
// error output, defined, failure) and are separated by a blank line.
func Format(o outcome.Outcome) string {
	if o.Status == outcome.InputError {
		return InputError
	}

	var sections []string
	// Any captured text opens its section, even whitespace; only the body
	// is trimmed.
	if o.Stdout != "" {
		sections = append(sections, outputHeading+"\n"+strings.TrimRight(o.Stdout, " \t\r\n"))
	}
	if o.Stderr != "" {
		sections = append(sections, stderrHeading+"\n"+strings.TrimRight(o.Stderr, " \t\r\n"))
	}
	if o.Status == outcome.Success && len(o.Bindings) > 0 {
		lines := make([]string, 0, len(o.Bindings))
		for _, b := range o.Bindings {
			lines = append(lines, b.Name+" = "+b.Value)
		}
		sections = append(sections, definedHeading+"\n"+strings.Join(lines, "\n"))
	}
	if o.Status.Failed() {
		sections = append(sections, Failure(o))
	}

	if len(sections) == 0 {
		return NoOutput
	}
	return strings.Join(sections, "\n\n")
}

// Failure renders only the failure section of o.
func Failure(o outcome.Outcome) string {
	switch {
	case o.Status == outcome.InputError:
		return InputError
	case o.Syntax != nil:
		return fmt.Sprintf("syntax error: line %d: %s", o.Syntax.Line, o.Syntax.Message)
	case o.Runtime != nil:
		rt := o.Runtime
		msg := rt.Message
		if rt.Kind == outcome.KindInternalError {
			msg = InternalMessage
		}
		s := fmt.Sprintf("execution error: %s: %s", rt.Kind, msg)
		if len(rt.Trace) > 0 && o.Status == outcome.RuntimeFailure {
			s += "\ndetails: " + strings.Join(rt.Trace, " ")
		}
		return s
	default:
		return fmt.Sprintf("execution error: %s: %s", outcome.KindInternalError, InternalMessage)
	}
}
