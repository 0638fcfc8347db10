package modules

import "fmt"

// Error is a guest-visible error raised by an auxiliary module. Kind carries
// the Python-style category name so the classifier can report it verbatim.
type Error struct {
	Kind string
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func newError(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// ValueError reports an argument with the right type but an invalid value.
func ValueError(format string, args ...any) error {
	return newError("ValueError", format, args...)
}

// AttributeError reports a missing attribute.
func AttributeError(format string, args ...any) error {
	return newError("AttributeError", format, args...)
}

// TypeError reports an argument of the wrong type.
func TypeError(format string, args ...any) error {
	return newError("TypeError", format, args...)
}

// IndexError reports an out of range index or an empty sequence.
func IndexError(format string, args ...any) error {
	return newError("IndexError", format, args...)
}

// ZeroDivisionError reports a division or modulo by zero.
func ZeroDivisionError(format string, args ...any) error {
	return newError("ZeroDivisionError", format, args...)
}

// StatisticsError reports invalid input to the statistics module.
func StatisticsError(format string, args ...any) error {
	return newError("StatisticsError", format, args...)
}

// PatternError reports an invalid regular expression.
func PatternError(format string, args ...any) error {
	return newError("PatternError", format, args...)
}

// ImportError reports a load of a module that is not available.
func ImportError(format string, args ...any) error {
	return newError("ImportError", format, args...)
}
