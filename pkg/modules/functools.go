package modules

import (
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

func newFunctools() (*starlarkstruct.Module, error) {
	return module("functools", starlark.StringDict{
		"reduce":  builtin("functools", "reduce", reduce),
		"partial": builtin("functools", "partial", partial),
	}), nil
}

func reduce(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	var iterable starlark.Iterable
	var initial starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &iterable, &initial); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()
	acc := initial
	if acc == nil {
		if !iter.Next(&acc) {
			return nil, TypeError("reduce() of empty iterable with no initial value")
		}
	}
	var x starlark.Value
	for iter.Next(&x) {
		v, err := starlark.Call(thread, fn, starlark.Tuple{acc, x}, nil)
		if err != nil {
			return nil, err
		}
		acc = v
	}
	return acc, nil
}

func partial(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) < 1 {
		return nil, TypeError("partial() missing required argument 'func'")
	}
	fn, ok := args[0].(starlark.Callable)
	if !ok {
		return nil, TypeError("the first argument must be callable, not %s", args[0].Type())
	}
	return &Partial{
		fn:     fn,
		args:   append(starlark.Tuple(nil), args[1:]...),
		kwargs: append([]starlark.Tuple(nil), kwargs...),
	}, nil
}

// Partial is a callable with some arguments fixed in advance. Call-time
// keyword arguments override the fixed ones.
type Partial struct {
	fn     starlark.Callable
	args   starlark.Tuple
	kwargs []starlark.Tuple
	frozen bool
}

var _ starlark.Callable = (*Partial)(nil)

func (p *Partial) Name() string { return "partial" }
func (p *Partial) Type() string { return "partial" }

func (p *Partial) String() string {
	var sb strings.Builder
	sb.WriteString("functools.partial(")
	sb.WriteString(p.fn.String())
	for _, a := range p.args {
		sb.WriteString(", ")
		sb.WriteString(a.String())
	}
	for _, kv := range p.kwargs {
		k, _ := starlark.AsString(kv[0])
		sb.WriteString(", ")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(kv[1].String())
	}
	sb.WriteString(")")
	return sb.String()
}

func (p *Partial) Freeze() {
	if p.frozen {
		return
	}
	p.frozen = true
	p.fn.Freeze()
	p.args.Freeze()
	for _, kv := range p.kwargs {
		kv.Freeze()
	}
}

func (p *Partial) Truth() starlark.Bool { return true }

func (p *Partial) Hash() (uint32, error) {
	return starlark.String(p.String()).Hash()
}

func (p *Partial) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	all := make(starlark.Tuple, 0, len(p.args)+len(args))
	all = append(all, p.args...)
	all = append(all, args...)

	merged := make([]starlark.Tuple, 0, len(p.kwargs)+len(kwargs))
	override := make(map[string]bool, len(kwargs))
	for _, kv := range kwargs {
		k, _ := starlark.AsString(kv[0])
		override[k] = true
	}
	for _, kv := range p.kwargs {
		if k, _ := starlark.AsString(kv[0]); !override[k] {
			merged = append(merged, kv)
		}
	}
	merged = append(merged, kwargs...)
	return starlark.Call(thread, p.fn, all, merged)
}
