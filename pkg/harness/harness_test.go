package harness

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/rhuss/starbox/pkg/capability"
	"github.com/rhuss/starbox/pkg/outcome"
)

func newHarness(t *testing.T, cfg Config) *Harness {
	t.Helper()
	set, err := capability.Build(capability.Options{})
	if err != nil {
		t.Fatalf("capability.Build: %v", err)
	}
	return New(set, cfg)
}

func run(t *testing.T, h *Harness, src string) outcome.Outcome {
	t.Helper()
	out, err := h.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run(%q) error: %v", src, err)
	}
	return out
}

func wantRuntime(t *testing.T, out outcome.Outcome, status outcome.Status, kind, msg string) {
	t.Helper()
	if out.Status != status {
		t.Fatalf("Status = %v, want %v (runtime %+v, syntax %+v)", out.Status, status, out.Runtime, out.Syntax)
	}
	if out.Runtime == nil {
		t.Fatal("Runtime is nil")
	}
	if out.Runtime.Kind != kind {
		t.Errorf("Kind = %q, want %q", out.Runtime.Kind, kind)
	}
	if !strings.Contains(out.Runtime.Message, msg) {
		t.Errorf("Message = %q, want it to contain %q", out.Runtime.Message, msg)
	}
	if out.Bindings != nil {
		t.Errorf("Bindings = %v, want none on failure", out.Bindings)
	}
}

func TestDeniedNamesDoNotResolve(t *testing.T) {
	h := newHarness(t, Config{})
	for _, name := range capability.DenyList {
		t.Run(name, func(t *testing.T) {
			out := run(t, h, fmt.Sprintf("x = %s\nprint(x)", name))
			wantRuntime(t, out, outcome.RuntimeFailure, outcome.KindNameError,
				fmt.Sprintf("name '%s' is not defined", name))
			if out.Stdout != "" {
				t.Errorf("Stdout = %q, want nothing to run", out.Stdout)
			}
		})
	}
}

func TestRun(t *testing.T) {
	h := newHarness(t, Config{})

	tests := []struct {
		name         string
		src          string
		wantStdout   string
		wantStderr   string
		wantBindings []outcome.Binding
	}{
		{
			name:       "print",
			src:        "print(1+1)",
			wantStdout: "2\n",
		},
		{
			name:       "recursion",
			src:        "def fact(n):\n    return 1 if n <= 1 else n * fact(n - 1)\nprint(fact(5))",
			wantStdout: "120\n",
			wantBindings: []outcome.Binding{
				{Name: "fact", Value: FunctionMarker},
			},
		},
		{
			name: "definition order",
			src:  "b = 2\na = [1, 'x']\n_hidden = 3\nf = lambda: 1",
			wantBindings: []outcome.Binding{
				{Name: "b", Value: "2"},
				{Name: "a", Value: `[1, "x"]`},
				{Name: "f", Value: FunctionMarker},
			},
		},
		{
			name: "rebinding a builtin is not reported",
			src:  "len = 3\ny = len",
			wantBindings: []outcome.Binding{
				{Name: "y", Value: "3"},
			},
		},
		{
			name:       "stderr",
			src:        `print("warn", file=sys.stderr)`,
			wantStderr: "warn\n",
		},
		{
			name:       "top level control flow",
			src:        "n = 0\nwhile n < 3:\n    n += 1\nif n == 3:\n    print('done')",
			wantStdout: "done\n",
			wantBindings: []outcome.Binding{
				{Name: "n", Value: "3"},
			},
		},
		{
			name:       "modules",
			src:        "print(statistics.mean([1, 2, 3]), math.floor(2.5), json.dumps({'a': 1}))",
			wantStdout: "2 2 {\"a\":1}\n",
		},
		{
			name: "no output",
			src:  "pass",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, h, tt.src)
			if out.Status != outcome.Success {
				t.Fatalf("Status = %v, want success (runtime %+v, syntax %+v)", out.Status, out.Runtime, out.Syntax)
			}
			if out.Stdout != tt.wantStdout {
				t.Errorf("Stdout = %q, want %q", out.Stdout, tt.wantStdout)
			}
			if out.Stderr != tt.wantStderr {
				t.Errorf("Stderr = %q, want %q", out.Stderr, tt.wantStderr)
			}
			if fmt.Sprint(out.Bindings) != fmt.Sprint(tt.wantBindings) {
				t.Errorf("Bindings = %v, want %v", out.Bindings, tt.wantBindings)
			}
		})
	}
}

func TestRunFailures(t *testing.T) {
	h := newHarness(t, Config{})

	t.Run("division", func(t *testing.T) {
		out := run(t, h, "x = 1/0")
		wantRuntime(t, out, outcome.RuntimeFailure, "ZeroDivisionError", "division by zero")
		if out.Stdout != "" {
			t.Errorf("Stdout = %q, want empty", out.Stdout)
		}
	})

	t.Run("output before failure is kept", func(t *testing.T) {
		out := run(t, h, "print('before')\n1/0")
		wantRuntime(t, out, outcome.RuntimeFailure, "ZeroDivisionError", "division by zero")
		if out.Stdout != "before\n" {
			t.Errorf("Stdout = %q, want %q", out.Stdout, "before\n")
		}
	})

	t.Run("syntax", func(t *testing.T) {
		out := run(t, h, "def f(")
		if out.Status != outcome.SyntaxFailure {
			t.Fatalf("Status = %v, want syntax_failure", out.Status)
		}
		if out.Syntax.Line != 1 {
			t.Errorf("Line = %d, want 1", out.Syntax.Line)
		}
	})

	t.Run("syntax on a later line", func(t *testing.T) {
		out := run(t, h, "x = 1\ny = (2 +\n")
		if out.Status != outcome.SyntaxFailure {
			t.Fatalf("Status = %v, want syntax_failure", out.Status)
		}
		if out.Syntax.Line < 2 {
			t.Errorf("Line = %d, want 2 or later", out.Syntax.Line)
		}
	})

	t.Run("trace", func(t *testing.T) {
		out := run(t, h, "def f():\n    return {}['k']\nf()")
		wantRuntime(t, out, outcome.RuntimeFailure, "KeyError", `"k"`)
		want := []string{
			`File "<snippet>", line 3, in <module>`,
			`File "<snippet>", line 2, in f`,
		}
		if fmt.Sprint(out.Runtime.Trace) != fmt.Sprint(want) {
			t.Errorf("Trace = %q, want %q", out.Runtime.Trace, want)
		}
	})

	t.Run("load", func(t *testing.T) {
		out := run(t, h, `load("os", "path")`)
		wantRuntime(t, out, outcome.RuntimeFailure, outcome.KindImportError, "No module named 'os'")
	})

	t.Run("module error", func(t *testing.T) {
		out := run(t, h, "statistics.mean([])")
		wantRuntime(t, out, outcome.RuntimeFailure, "StatisticsError", "at least one data point")
	})

	t.Run("unknown name", func(t *testing.T) {
		out := run(t, h, "print(undefined_thing)")
		wantRuntime(t, out, outcome.RuntimeFailure, outcome.KindNameError, "name 'undefined_thing' is not defined")
	})
}

func TestInputError(t *testing.T) {
	h := newHarness(t, Config{})
	for _, src := range []string{"", "   ", "\n\t\n"} {
		out := run(t, h, src)
		if out.Status != outcome.InputError {
			t.Errorf("Run(%q) Status = %v, want input_error", src, out.Status)
		}
		if out.Stdout != "" || out.Bindings != nil {
			t.Errorf("Run(%q) produced output or bindings", src)
		}
	}
}

func TestFreshEnvironmentPerRun(t *testing.T) {
	h := newHarness(t, Config{})

	first := run(t, h, "secret = 42")
	if len(first.Bindings) != 1 || first.Bindings[0].Name != "secret" {
		t.Fatalf("first Bindings = %v", first.Bindings)
	}

	second := run(t, h, "y = 1")
	for _, b := range second.Bindings {
		if b.Name == "secret" {
			t.Error("a binding from the first run leaked into the second")
		}
	}

	third := run(t, h, "print(secret)")
	wantRuntime(t, third, outcome.RuntimeFailure, outcome.KindNameError, "name 'secret' is not defined")
}

func TestRandomSeedIsPerRun(t *testing.T) {
	h := newHarness(t, Config{})
	seeded := run(t, h, "random.seed(7)\nprint(random.randint(1, 1000000))")
	again := run(t, h, "random.seed(7)\nprint(random.randint(1, 1000000))")
	if seeded.Stdout != again.Stdout {
		t.Errorf("same seed gave %q and %q", seeded.Stdout, again.Stdout)
	}
	if seeded.Status != outcome.Success {
		t.Fatalf("Status = %v", seeded.Status)
	}
}

func TestTruncation(t *testing.T) {
	h := newHarness(t, Config{})
	out := run(t, h, `s = "a" * 300`)
	if len(out.Bindings) != 1 {
		t.Fatalf("Bindings = %v", out.Bindings)
	}
	v := out.Bindings[0].Value
	if !strings.HasSuffix(v, Ellipsis) {
		t.Fatalf("value %q does not end with %q", v, Ellipsis)
	}
	if n := utf8.RuneCountInString(strings.TrimSuffix(v, Ellipsis)); n != MaxValueLen {
		t.Errorf("visible characters = %d, want %d", n, MaxValueLen)
	}

	short := run(t, h, `s = "a" * 10`)
	if short.Bindings[0].Value != `"aaaaaaaaaa"` {
		t.Errorf("short value = %q", short.Bindings[0].Value)
	}
}

func TestTruncateCountsCharacters(t *testing.T) {
	s := strings.Repeat("é", MaxValueLen+5)
	got := Truncate(s)
	if got != strings.Repeat("é", MaxValueLen)+Ellipsis {
		t.Errorf("Truncate kept %d characters", utf8.RuneCountInString(got))
	}
	if Truncate("abc") != "abc" {
		t.Error("short strings must be unchanged")
	}
}

func TestConcurrentRunsDoNotShareOutput(t *testing.T) {
	h := newHarness(t, Config{})
	const n = 16

	var wg sync.WaitGroup
	outs := make([]outcome.Outcome, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := fmt.Sprintf("for _ in range(100):\n    print('run-%d')\nmine = %d", i, i)
			outs[i], errs[i] = h.Run(context.Background(), src)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("run %d: %v", i, errs[i])
		}
		want := strings.Repeat(fmt.Sprintf("run-%d\n", i), 100)
		if outs[i].Stdout != want {
			t.Errorf("run %d observed foreign output", i)
		}
		if len(outs[i].Bindings) != 1 || outs[i].Bindings[0].Value != fmt.Sprint(i) {
			t.Errorf("run %d Bindings = %v", i, outs[i].Bindings)
		}
	}
}

func TestResourceGuards(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		src     string
		wantMsg string
	}{
		{
			name:    "timeout",
			cfg:     Config{Timeout: 50 * time.Millisecond},
			src:     "while True:\n    pass",
			wantMsg: "time limit of 50ms exceeded",
		},
		{
			name:    "step budget",
			cfg:     Config{MaxSteps: 1000},
			src:     "for i in range(100000):\n    pass",
			wantMsg: "step budget of 1000 exceeded",
		},
		{
			name:    "call depth",
			cfg:     Config{MaxCallDepth: 50},
			src:     "def f(n):\n    return f(n + 1)\nf(0)",
			wantMsg: "maximum call depth of 50 exceeded",
		},
		{
			name:    "output",
			cfg:     Config{MaxOutputBytes: 10},
			src:     `print("x" * 100)`,
			wantMsg: "output limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, newHarness(t, tt.cfg), tt.src)
			wantRuntime(t, out, outcome.ResourceExceeded, outcome.KindResourceExceeded, tt.wantMsg)
		})
	}
}

func TestOutputLimitKeepsPrefix(t *testing.T) {
	out := run(t, newHarness(t, Config{MaxOutputBytes: 10}), `print("x" * 100)`)
	if out.Stdout != strings.Repeat("x", 10) {
		t.Errorf("Stdout = %q, want the first 10 bytes", out.Stdout)
	}
}

func TestCallerCancellation(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := h.Run(ctx, "while True:\n    pass")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	wantRuntime(t, out, outcome.ResourceExceeded, outcome.KindResourceExceeded, "execution cancelled")
}

func TestPanicIsContained(t *testing.T) {
	boom := &starlarkstruct.Module{
		Name: "boom",
		Members: starlark.StringDict{
			"now": starlark.NewBuiltin("boom.now", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
				panic("secret internal detail")
			}),
		},
	}
	set, err := capability.Build(capability.Options{Modules: starlark.StringDict{"boom": boom}})
	if err != nil {
		t.Fatalf("capability.Build: %v", err)
	}
	h := New(set, Config{})

	out := run(t, h, "print('partial')\nboom.now()")
	wantRuntime(t, out, outcome.RuntimeFailure, outcome.KindInternalError, internalMessage)
	if strings.Contains(out.Runtime.Message, "secret") {
		t.Error("panic value leaked into the outcome")
	}
	if out.Stdout != "partial\n" {
		t.Errorf("Stdout = %q", out.Stdout)
	}

	// The harness stays usable after a contained panic.
	if next := run(t, h, "print(1)"); next.Stdout != "1\n" {
		t.Errorf("next run Stdout = %q", next.Stdout)
	}
}

func TestNewDefaults(t *testing.T) {
	h := newHarness(t, Config{})
	cfg := h.Config()
	if cfg.Filename != DefaultFilename || cfg.Timeout != DefaultTimeout || cfg.MaxSteps != DefaultMaxSteps ||
		cfg.MaxCallDepth != DefaultMaxCallDepth || cfg.MaxOutputBytes != DefaultMaxOutputBytes {
		t.Errorf("Config() = %+v, want defaults", cfg)
	}
}
