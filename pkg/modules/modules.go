// Package modules provides the fixed set of auxiliary library handles a guest
// snippet may reference by name: arithmetic, statistics, exact decimal and
// rational numbers, random and string utilities, time and date utilities,
// structured data and pattern matching, and function composition helpers.
//
// Modules are plain frozen values. Anything that needs per-run state (the
// random generator) keeps that state in thread-local storage, never in the
// module itself, so one module value can be shared by concurrent runs.
package modules

import (
	"fmt"
	"sort"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// constructor builds one module.
type constructor func() (*starlarkstruct.Module, error)

// registry lists every auxiliary module by the name it is bound under.
var registry = map[string]constructor{
	"math":       func() (*starlarkstruct.Module, error) { return starlarkmath.Module, nil },
	"time":       func() (*starlarkstruct.Module, error) { return starlarktime.Module, nil },
	"json":       newJSON,
	"statistics": newStatistics,
	"decimal":    newDecimal,
	"fractions":  newFractions,
	"random":     newRandom,
	"string":     newString,
	"datetime":   newDatetime,
	"re":         newRe,
	"functools":  newFunctools,
}

// Names returns the sorted names of all auxiliary modules.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All constructs every auxiliary module, freezes it, and returns the
// bindings keyed by module name.
func All() (starlark.StringDict, error) {
	out := make(starlark.StringDict, len(registry))
	for _, name := range Names() {
		m, err := registry[name]()
		if err != nil {
			return nil, fmt.Errorf("building module %q: %w", name, err)
		}
		if m == nil {
			return nil, fmt.Errorf("building module %q: nil module", name)
		}
		m.Freeze()
		out[name] = m
	}
	return out, nil
}

func module(name string, members starlark.StringDict) *starlarkstruct.Module {
	return &starlarkstruct.Module{Name: name, Members: members}
}

// builtin binds a Go function under "<module>.<name>" so error messages from
// UnpackArgs carry the qualified name.
func builtin(modname, name string, fn func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)) *starlark.Builtin {
	return starlark.NewBuiltin(modname+"."+name, fn)
}

func newJSON() (*starlarkstruct.Module, error) {
	base := starlarkjson.Module
	members := make(starlark.StringDict, len(base.Members)+2)
	for k, v := range base.Members {
		members[k] = v
	}

	encode, _ := base.Members["encode"].(starlark.Callable)
	indent, _ := base.Members["indent"].(starlark.Callable)
	decode, _ := base.Members["decode"].(starlark.Callable)
	if encode == nil || indent == nil || decode == nil {
		return nil, fmt.Errorf("json library is missing encode, indent or decode")
	}

	members["dumps"] = builtin("json", "dumps", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Value
		var width starlark.Value = starlark.None
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "obj", &x, "indent?", &width); err != nil {
			return nil, err
		}
		out, err := starlark.Call(thread, encode, starlark.Tuple{x}, nil)
		if err != nil || width == starlark.None {
			return out, err
		}
		n, err := starlark.AsInt32(width)
		if err != nil {
			return nil, TypeError("%s: indent must be an int", b.Name())
		}
		pad := starlark.String(fmt.Sprintf("%*s", n, ""))
		return starlark.Call(thread, indent, starlark.Tuple{out}, []starlark.Tuple{{starlark.String("indent"), pad}})
	})
	members["loads"] = builtin("json", "loads", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var s starlark.String
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
			return nil, err
		}
		return starlark.Call(thread, decode, starlark.Tuple{s}, nil)
	})

	return module("json", members), nil
}

// class is a callable constructor that also carries class-level functions,
// such as datetime.datetime.now.
type class struct {
	*starlark.Builtin
	attrs starlark.StringDict
}

var (
	_ starlark.Callable = (*class)(nil)
	_ starlark.HasAttrs = (*class)(nil)
)

func newClass(ctor *starlark.Builtin, attrs starlark.StringDict) *class {
	return &class{Builtin: ctor, attrs: attrs}
}

func (c *class) Type() string   { return "type" }
func (c *class) String() string { return "<class '" + c.Name() + "'>" }

func (c *class) Freeze() {
	c.Builtin.Freeze()
	c.attrs.Freeze()
}

func (c *class) Attr(name string) (starlark.Value, error) {
	if v, ok := c.attrs[name]; ok {
		return v, nil
	}
	return nil, AttributeError("type object '%s' has no attribute '%s'", c.Name(), name)
}

func (c *class) AttrNames() []string {
	return c.attrs.Keys()
}
