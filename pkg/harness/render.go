package harness

import (
	"strings"
	"unicode/utf8"

	"go.starlark.net/starlark"

	"github.com/rhuss/starbox/pkg/outcome"
)

// Rendering markers for the binding report.
const (
	FunctionMarker     = "<function>"
	UnrenderableMarker = "<unrenderable>"
	Ellipsis           = "..."
)

// MaxValueLen is the longest rendered value, in characters, before
// truncation.
const MaxValueLen = 200

// bindings returns the names the snippet introduced, in definition order.
// Names that start with an underscore or that rebind a capability are left
// out, as are globals that were never assigned.
func (h *Harness) bindings(order []string, env starlark.StringDict) []outcome.Binding {
	var out []outcome.Binding
	for _, name := range order {
		if strings.HasPrefix(name, "_") || h.set.Has(name) {
			continue
		}
		v, ok := env[name]
		if !ok {
			continue
		}
		out = append(out, outcome.Binding{Name: name, Value: Render(v)})
	}
	return out
}

// Render returns the report form of a value. Callables are opaque and are
// never inspected.
func Render(v starlark.Value) (s string) {
	if _, ok := v.(starlark.Callable); ok {
		return FunctionMarker
	}
	defer func() {
		if recover() != nil {
			s = UnrenderableMarker
		}
	}()
	return Truncate(v.String())
}

// Truncate shortens s to MaxValueLen characters followed by Ellipsis.
func Truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxValueLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxValueLen]) + Ellipsis
}
