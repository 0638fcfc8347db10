package capture

import (
	"errors"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// errInactive is returned when a builtin runs on a thread with no scope.
var errInactive = errors.New("output capture is not active")

// Print is the guest print function:
//
//	print(*args, sep=" ", end="\n", file=sys.stdout)
//
// Strings are written as-is, every other value in its str() form.
var Print = starlark.NewBuiltin("print", printBuiltin)

func printBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var sep, end starlark.Value = starlark.String(" "), starlark.String("\n")
	var file starlark.Value = starlark.None
	var flush bool
	if err := starlark.UnpackArgs(b.Name(), nil, kwargs, "sep?", &sep, "end?", &end, "file?", &file, "flush?", &flush); err != nil {
		return nil, err
	}
	sepStr, err := optString(b, "sep", sep, " ")
	if err != nil {
		return nil, err
	}
	endStr, err := optString(b, "end", end, "\n")
	if err != nil {
		return nil, err
	}

	stream := "stdout"
	switch f := file.(type) {
	case starlark.NoneType:
	case *Stream:
		stream = f.name
	default:
		return nil, errors.New("print: file must be sys.stdout or sys.stderr, got " + file.Type())
	}

	var sb strings.Builder
	for i, v := range args {
		if i > 0 {
			sb.WriteString(sepStr)
		}
		sb.WriteString(str(v))
	}
	sb.WriteString(endStr)

	if err := write(thread, stream, sb.String()); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func optString(b *starlark.Builtin, name string, v starlark.Value, def string) (string, error) {
	if v == starlark.None {
		return def, nil
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", errors.New(b.Name() + ": " + name + " must be None or a string, not " + v.Type())
	}
	return s, nil
}

func str(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

func write(thread *starlark.Thread, stream, text string) error {
	sc := FromThread(thread)
	if sc == nil {
		return errInactive
	}
	_, err := sc.sink(stream).WriteString(text)
	return err
}

// Stream is one of the two guest-visible output streams.
type Stream struct {
	name string
}

var _ starlark.HasAttrs = (*Stream)(nil)

var (
	stdout = &Stream{name: "stdout"}
	stderr = &Stream{name: "stderr"}
)

func (s *Stream) String() string        { return "<sys." + s.name + ">" }
func (s *Stream) Type() string          { return "stream" }
func (s *Stream) Freeze()               {}
func (s *Stream) Truth() starlark.Bool  { return true }
func (s *Stream) Hash() (uint32, error) { return starlark.String(s.name).Hash() }

func (s *Stream) AttrNames() []string { return []string{"flush", "write"} }

func (s *Stream) Attr(name string) (starlark.Value, error) {
	switch name {
	case "write":
		return starlark.NewBuiltin(s.name+".write", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var text string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &text); err != nil {
				return nil, err
			}
			if err := write(thread, s.name, text); err != nil {
				return nil, err
			}
			return starlark.MakeInt(len(text)), nil
		}), nil
	case "flush":
		return starlark.NewBuiltin(s.name+".flush", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			return starlark.None, nil
		}), nil
	}
	return nil, nil
}

// Sys is the guest "sys" module. It exposes only the two output streams.
var Sys = &starlarkstruct.Module{
	Name: "sys",
	Members: starlark.StringDict{
		"stdout": stdout,
		"stderr": stderr,
	},
}
