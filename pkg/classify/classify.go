// Package classify maps the error from one execution attempt onto the closed
// set of failure outcomes. It is the only place that inspects interpreter
// errors; everything downstream works with outcome.Failure.
package classify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/rhuss/starbox/pkg/capture"
	"github.com/rhuss/starbox/pkg/modules"
	"github.com/rhuss/starbox/pkg/outcome"
)

// MaxTrace is the number of guest frame lines kept in a runtime failure.
const MaxTrace = 2

// cancelPrefix is how the interpreter reports a cancelled thread.
const cancelPrefix = "Starlark computation cancelled: "

// KindGeneric is used when no category can be derived from the error.
const KindGeneric = "Error"

// rule maps an interpreter message to a category. When msg is set it
// rewrites the reported message.
type rule struct {
	re   *regexp.Regexp
	kind string
	msg  string
}

// rules are tried in order; the first match wins.
var rules = []rule{
	{re: regexp.MustCompile(`division by zero$`), kind: "ZeroDivisionError", msg: "division by zero"},
	{re: regexp.MustCompile(`modulo by zero$`), kind: "ZeroDivisionError"},
	{re: regexp.MustCompile(`^key .* not in |^key not found`), kind: "KeyError"},
	{re: regexp.MustCompile(`Unicode code point .* out of range`), kind: "ValueError"},
	{re: regexp.MustCompile(`out of range \(want value in (un)?signed`), kind: "OverflowError"},
	{re: regexp.MustCompile(`out of range`), kind: "IndexError"},
	{re: regexp.MustCompile(`has no \.\w+ field or method|can't assign to \.\w+ field`), kind: "AttributeError"},
	{re: regexp.MustCompile(`^local variable \w+ referenced before assignment`), kind: "UnboundLocalError"},
	{re: regexp.MustCompile(`^global variable \w+ referenced before assignment`), kind: outcome.KindNameError},
	{re: regexp.MustCompile(`int too large to convert to float|floating-point number too large`), kind: "OverflowError"},
	{re: regexp.MustCompile(`invalid literal|invalid float literal|float: empty string|empty separator|element not found|too (many|few) values to unpack`), kind: "ValueError"},
	{re: regexp.MustCompile(`comparison exceeded maximum recursion depth`), kind: "RecursionError"},
	{re: regexp.MustCompile(`^load not implemented|^cannot load |^load: `), kind: outcome.KindImportError},
	{re: regexp.MustCompile(`unknown (binary|unary) op|not implemented$|not iterable|invalid call of non-function|unhashable|got \w+, want |missing argument|unexpected keyword|unexpected (positional )?arguments|accepts no arguments|accepts \w* ?\d+ positional argument|missing \d+ argument|got multiple values|frozen|does not support item assignment|has no len|as left operand|does not accept keyword arguments|format requires|got \d+ arguments`), kind: "TypeError"},
}

// Classify maps err to a failure. filename identifies the snippet's own
// frames; frames from any other file are never reported. A nil error yields
// a Success failure value with no details.
func Classify(err error, filename string) outcome.Failure {
	if err == nil {
		return outcome.Failure{Status: outcome.Success}
	}

	var synErr syntax.Error
	if errors.As(err, &synErr) {
		return syntaxFailure(synErr.Pos, synErr.Msg)
	}

	var resErrs resolve.ErrorList
	if errors.As(err, &resErrs) && len(resErrs) > 0 {
		return resolveFailure(resErrs[0], filename)
	}
	var resErr resolve.Error
	if errors.As(err, &resErr) {
		return resolveFailure(resErr, filename)
	}

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalFailure(err, evalErr, filename)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return resourceFailure(err.Error())
	}
	return runtimeFailure(KindGeneric, err.Error(), nil)
}

func syntaxFailure(pos syntax.Position, msg string) outcome.Failure {
	return outcome.Failure{
		Status: outcome.SyntaxFailure,
		Syntax: &outcome.SyntaxError{
			Line:    int(pos.Line),
			Column:  int(pos.Col),
			Message: msg,
		},
	}
}

// resolveFailure reports unresolvable names as NameError and every other
// static check as a syntax failure, since no code has run yet.
func resolveFailure(e resolve.Error, filename string) outcome.Failure {
	if name, ok := strings.CutPrefix(e.Msg, "undefined: "); ok {
		if i := strings.IndexByte(name, ' '); i >= 0 {
			name = name[:i]
		}
		var trace []string
		if e.Pos.Filename() == filename {
			trace = []string{frameLine(filename, int(e.Pos.Line), "<module>")}
		}
		return runtimeFailure(outcome.KindNameError, fmt.Sprintf("name '%s' is not defined", name), trace)
	}
	return syntaxFailure(e.Pos, e.Msg)
}

func evalFailure(err error, evalErr *starlark.EvalError, filename string) outcome.Failure {
	if reason, ok := strings.CutPrefix(evalErr.Msg, cancelPrefix); ok {
		return resourceFailure(reason)
	}
	if errors.Is(err, capture.ErrOutputLimit) {
		return resourceFailure(evalErr.Msg)
	}

	trace := Trace(evalErr.CallStack, filename)

	var modErr *modules.Error
	if errors.As(err, &modErr) {
		return runtimeFailure(modErr.Kind, modErr.Msg, trace)
	}

	kind, msg := Kind(evalErr.Msg)
	return runtimeFailure(kind, msg, trace)
}

// Kind derives a category name and message from an interpreter error
// message.
func Kind(msg string) (kind, message string) {
	if rest, ok := strings.CutPrefix(msg, "fail: "); ok {
		return "Exception", rest
	}
	for _, r := range rules {
		if r.re.MatchString(msg) {
			if r.msg != "" {
				return r.kind, r.msg
			}
			return r.kind, msg
		}
	}
	return KindGeneric, msg
}

// Trace returns at most MaxTrace lines describing the innermost frames that
// belong to filename, outermost first.
func Trace(stack starlark.CallStack, filename string) []string {
	var lines []string
	for _, fr := range stack {
		if fr.Pos.Filename() != filename {
			continue
		}
		name := fr.Name
		if name == "<toplevel>" {
			name = "<module>"
		}
		lines = append(lines, frameLine(filename, int(fr.Pos.Line), name))
	}
	if len(lines) > MaxTrace {
		lines = lines[len(lines)-MaxTrace:]
	}
	return lines
}

func frameLine(filename string, line int, fn string) string {
	return fmt.Sprintf("File %q, line %d, in %s", filename, line, fn)
}

func runtimeFailure(kind, msg string, trace []string) outcome.Failure {
	return outcome.Failure{
		Status: outcome.RuntimeFailure,
		Runtime: &outcome.RuntimeError{
			Kind:    kind,
			Message: msg,
			Trace:   trace,
		},
	}
}

func resourceFailure(reason string) outcome.Failure {
	return outcome.Failure{
		Status: outcome.ResourceExceeded,
		Runtime: &outcome.RuntimeError{
			Kind:    outcome.KindResourceExceeded,
			Message: reason,
		},
	}
}
