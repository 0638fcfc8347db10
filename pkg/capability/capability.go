// Package capability builds the fixed set of names a snippet may reference.
//
// The set is the interpreter's universe minus a deny-list of dangerous
// operations, plus the harness's own print and sys bindings, plus the
// auxiliary modules. It is built once at process start, is immutable, and is
// the only state shared between concurrent executions.
package capability

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"go.starlark.net/starlark"

	"github.com/rhuss/starbox/pkg/capture"
	"github.com/rhuss/starbox/pkg/modules"
)

// DenyList names operations that are never resolvable by a snippet: dynamic
// evaluation and compilation, file and stream access, interactive input,
// namespace introspection, attribute access by name, debugger entry, process
// exit, raw memory views, help and directory listing. Names the interpreter
// does not define are listed too, so an interpreter upgrade cannot expose them.
var DenyList = []string{
	"__import__",
	"breakpoint",
	"compile",
	"delattr",
	"dir",
	"eval",
	"exec",
	"exit",
	"getattr",
	"globals",
	"hasattr",
	"help",
	"input",
	"locals",
	"memoryview",
	"open",
	"quit",
	"setattr",
	"vars",
}

var (
	// ErrEmptyUniverse is returned when the interpreter exposes no builtins.
	ErrEmptyUniverse = errors.New("interpreter universe is empty")

	// ErrCollision is returned when two bindings claim the same name.
	ErrCollision = errors.New("capability name collision")
)

// Options controls what Build starts from. Zero values select the
// interpreter universe and the standard auxiliary modules.
type Options struct {
	Universe starlark.StringDict
	Modules  starlark.StringDict
}

// Set is an immutable capability set.
type Set struct {
	bindings starlark.StringDict
	names    []string
}

// Build assembles the capability set. A failure here is a startup error.
func Build(opts Options) (*Set, error) {
	universe := opts.Universe
	if universe == nil {
		universe = starlark.Universe
	}
	if len(universe) == 0 {
		return nil, ErrEmptyUniverse
	}

	mods := opts.Modules
	if mods == nil {
		var err error
		mods, err = modules.All()
		if err != nil {
			return nil, fmt.Errorf("building auxiliary modules: %w", err)
		}
	}

	bindings := make(starlark.StringDict, len(universe)+len(mods)+1)
	for name, v := range universe {
		if Denied(name) {
			continue
		}
		bindings[name] = v
	}

	// Harness bindings replace the interpreter's print and add sys.
	bindings["print"] = capture.Print
	if _, ok := bindings["sys"]; ok {
		return nil, fmt.Errorf("%w: %q is already bound by the interpreter", ErrCollision, "sys")
	}
	bindings["sys"] = capture.Sys

	for name, m := range mods {
		if Denied(name) {
			return nil, fmt.Errorf("%w: module %q is on the deny-list", ErrCollision, name)
		}
		if _, ok := bindings[name]; ok {
			return nil, fmt.Errorf("%w: module %q shadows an existing binding", ErrCollision, name)
		}
		if m == nil {
			return nil, fmt.Errorf("module %q is nil", name)
		}
		bindings[name] = m
	}

	for _, v := range bindings {
		v.Freeze()
	}

	return &Set{bindings: bindings, names: bindings.Keys()}, nil
}

// Denied reports whether name is on the deny-list.
func Denied(name string) bool {
	i := sort.SearchStrings(DenyList, name)
	return i < len(DenyList) && DenyList[i] == name
}

// Has reports whether name is bound in the set.
func (s *Set) Has(name string) bool {
	_, ok := s.bindings[name]
	return ok
}

// Names returns the bound names in sorted order.
func (s *Set) Names() []string {
	return slices.Clone(s.names)
}

// Len returns the number of bound names.
func (s *Set) Len() int {
	return len(s.bindings)
}

// Seed returns a fresh copy of the bindings for one execution. The values
// themselves are frozen and shared; the map is not.
func (s *Set) Seed() starlark.StringDict {
	seed := make(starlark.StringDict, len(s.bindings))
	for k, v := range s.bindings {
		seed[k] = v
	}
	return seed
}
