package classify

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/rhuss/starbox/pkg/capture"
	"github.com/rhuss/starbox/pkg/modules"
	"github.com/rhuss/starbox/pkg/outcome"
)

const filename = "<snippet>"

var fileOpts = &syntax.FileOptions{Set: true, While: true, TopLevelControl: true, GlobalReassign: true, Recursion: true}

func exec(t *testing.T, src string, predeclared starlark.StringDict) error {
	t.Helper()
	thread := &starlark.Thread{Name: "classify"}
	_, err := starlark.ExecFileOptions(fileOpts, thread, filename, src, predeclared)
	if err == nil {
		t.Fatalf("expected %q to fail", src)
	}
	return err
}

func TestClassifyRuntime(t *testing.T) {
	tests := []struct {
		src      string
		wantKind string
		wantMsg  string
	}{
		{"1/0", "ZeroDivisionError", "division by zero"},
		{"1.0 // 0", "ZeroDivisionError", "division by zero"},
		{"1 % 0", "ZeroDivisionError", "integer modulo by zero"},
		{`{"a": 1}["b"]`, "KeyError", `key "b" not in dict`},
		{"[][1]", "IndexError", "index 1 out of range: empty list"},
		{"[1, 2][5]", "IndexError", "list index 5 out of range [-2:1]"},
		{`"a" + 1`, "TypeError", "unknown binary op: string + int"},
		{"len(1)", "TypeError", "len: value of type int has no len"},
		{"None.foo", "AttributeError", "NoneType has no .foo field or method"},
		{`int("x")`, "ValueError", `int: invalid literal with base 10: x`},
		{`fail("boom")`, "Exception", "boom"},
		{"def f():\n    x += 1\n    x = 0\nf()", "UnboundLocalError", "local variable x referenced before assignment"},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			f := Classify(exec(t, tt.src, nil), filename)
			if f.Status != outcome.RuntimeFailure {
				t.Fatalf("Status = %v, want runtime_failure", f.Status)
			}
			if f.Runtime.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", f.Runtime.Kind, tt.wantKind)
			}
			if !strings.Contains(f.Runtime.Message, tt.wantMsg) {
				t.Errorf("Message = %q, want it to contain %q", f.Runtime.Message, tt.wantMsg)
			}
		})
	}
}

func TestClassifySyntax(t *testing.T) {
	_, err := syntax.Parse(filename, "def f(", 0)
	if err == nil {
		t.Fatal("expected a parse error")
	}
	f := Classify(err, filename)
	if f.Status != outcome.SyntaxFailure {
		t.Fatalf("Status = %v, want syntax_failure", f.Status)
	}
	if f.Syntax.Line != 1 {
		t.Errorf("Line = %d, want 1", f.Syntax.Line)
	}
	if f.Syntax.Message == "" {
		t.Error("Message is empty")
	}
	if f.Runtime != nil {
		t.Error("Runtime must be nil for a syntax failure")
	}
}

func TestClassifyResolve(t *testing.T) {
	resolveErr := func(src string) error {
		t.Helper()
		file, err := fileOpts.Parse(filename, src, 0)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		isPredeclared := func(name string) bool { return name == "len" }
		if err := resolve.File(file, isPredeclared, func(string) bool { return false }); err != nil {
			return err
		}
		t.Fatalf("expected %q to fail resolution", src)
		return nil
	}

	t.Run("undefined name", func(t *testing.T) {
		f := Classify(resolveErr("x = 1\neval('1')"), filename)
		if f.Status != outcome.RuntimeFailure {
			t.Fatalf("Status = %v, want runtime_failure", f.Status)
		}
		if f.Runtime.Kind != outcome.KindNameError {
			t.Errorf("Kind = %q, want NameError", f.Runtime.Kind)
		}
		if f.Runtime.Message != "name 'eval' is not defined" {
			t.Errorf("Message = %q", f.Runtime.Message)
		}
		want := []string{`File "<snippet>", line 2, in <module>`}
		if fmt.Sprint(f.Runtime.Trace) != fmt.Sprint(want) {
			t.Errorf("Trace = %q, want %q", f.Runtime.Trace, want)
		}
	})

	t.Run("suggestion is dropped", func(t *testing.T) {
		f := Classify(resolveErr("lenn([])"), filename)
		if f.Runtime.Message != "name 'lenn' is not defined" {
			t.Errorf("Message = %q", f.Runtime.Message)
		}
	})

	t.Run("static misuse is a syntax failure", func(t *testing.T) {
		f := Classify(resolveErr("break"), filename)
		if f.Status != outcome.SyntaxFailure {
			t.Fatalf("Status = %v, want syntax_failure", f.Status)
		}
		if f.Syntax.Line != 1 {
			t.Errorf("Line = %d, want 1", f.Syntax.Line)
		}
	})
}

func TestClassifyModuleError(t *testing.T) {
	boom := starlark.NewBuiltin("boom", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return nil, modules.StatisticsError("mean requires at least one data point")
	})
	f := Classify(exec(t, "boom()", starlark.StringDict{"boom": boom}), filename)
	if f.Runtime == nil || f.Runtime.Kind != "StatisticsError" {
		t.Fatalf("Runtime = %+v, want StatisticsError", f.Runtime)
	}
	if f.Runtime.Message != "mean requires at least one data point" {
		t.Errorf("Message = %q", f.Runtime.Message)
	}
}

func TestClassifyResources(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		thread := &starlark.Thread{}
		thread.Cancel("time limit of 10ms exceeded")
		_, err := starlark.ExecFileOptions(fileOpts, thread, filename, "while True:\n    pass", nil)
		f := Classify(err, filename)
		if f.Status != outcome.ResourceExceeded {
			t.Fatalf("Status = %v, want resource_exceeded", f.Status)
		}
		if f.Runtime.Kind != outcome.KindResourceExceeded || f.Runtime.Message != "time limit of 10ms exceeded" {
			t.Errorf("Runtime = %+v", f.Runtime)
		}
	})

	t.Run("output limit", func(t *testing.T) {
		thread := &starlark.Thread{}
		capture.Attach(thread, capture.NewScope(4))
		_, err := starlark.ExecFileOptions(fileOpts, thread, filename, `print("too long")`, starlark.StringDict{"print": capture.Print})
		f := Classify(err, filename)
		if f.Status != outcome.ResourceExceeded {
			t.Fatalf("Status = %v, want resource_exceeded", f.Status)
		}
		if !strings.Contains(f.Runtime.Message, "output limit") {
			t.Errorf("Message = %q", f.Runtime.Message)
		}
	})
}

func TestClassifyOther(t *testing.T) {
	if f := Classify(nil, filename); f.Status != outcome.Success || f.Runtime != nil || f.Syntax != nil {
		t.Errorf("Classify(nil) = %+v, want bare success", f)
	}
	f := Classify(errors.New("something odd"), filename)
	if f.Status != outcome.RuntimeFailure || f.Runtime.Kind != KindGeneric {
		t.Errorf("Classify(plain) = %+v", f)
	}
}

func TestTrace(t *testing.T) {
	src := `
def a():
    return 1 / 0

def b():
    return a()

def c():
    return b()

c()
`
	f := Classify(exec(t, src, nil), filename)
	want := []string{
		`File "<snippet>", line 6, in b`,
		`File "<snippet>", line 3, in a`,
	}
	if fmt.Sprint(f.Runtime.Trace) != fmt.Sprint(want) {
		t.Errorf("Trace = %q, want %q", f.Runtime.Trace, want)
	}
}

func TestTraceSkipsForeignFrames(t *testing.T) {
	stack := starlark.CallStack{
		{Name: "<toplevel>", Pos: syntax.MakePosition(strPtr(filename), 1, 1)},
		{Name: "len", Pos: syntax.MakePosition(strPtr("<builtin>"), 0, 0)},
	}
	got := Trace(stack, filename)
	want := []string{`File "<snippet>", line 1, in <module>`}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Trace = %q, want %q", got, want)
	}
}

func TestKind(t *testing.T) {
	tests := map[string]string{
		"floating-point division by zero":       "ZeroDivisionError",
		"global variable x referenced before assignment": outcome.KindNameError,
		"int too large to convert to float":     "OverflowError",
		"load not implemented by this application": outcome.KindImportError,
		"cannot insert into frozen list":        "TypeError",
		"something entirely new":                KindGeneric,
	}
	for msg, want := range tests {
		if got, _ := Kind(msg); got != want {
			t.Errorf("Kind(%q) = %q, want %q", msg, got, want)
		}
	}
}

func strPtr(s string) *string { return &s }
