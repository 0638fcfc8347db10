package debug

import (
	"bytes"
	"log/slog"
	"slices"
	"strings"
	"testing"
)

// restore puts back the category set and default logger after a test.
func restore(t *testing.T) {
	t.Helper()
	cats := enabled.Load()
	logger := slog.Default()
	t.Cleanup(func() {
		enabled.Store(cats)
		slog.SetDefault(logger)
	})
}

func TestParseCategories(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"harness", []string{"harness"}},
		{" Harness , MCP ,, ", []string{"harness", "mcp"}},
	}
	for _, tt := range tests {
		m := parseCategories(tt.input)
		var got []string
		for c := range m {
			got = append(got, c)
		}
		slices.Sort(got)
		if !slices.Equal(got, tt.want) {
			t.Errorf("parseCategories(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInit(t *testing.T) {
	restore(t)
	t.Setenv("STARBOX_DEBUG", "")
	t.Setenv("STARBOX_LOG_LEVEL", "")

	var buf bytes.Buffer
	unknown := initTo(&buf, "harness,sandbox,engine,provider", "debug")
	if !slices.Equal(unknown, []string{"engine", "provider"}) {
		t.Errorf("unknown = %v", unknown)
	}
	if !Enabled(Harness) || !Enabled(Sandbox) || Enabled(Audit) || Enabled("engine") {
		t.Errorf("enabled = %v", *enabled.Load())
	}

	Log(Harness, "compiled", "globals", 3)
	Log(Audit, "hidden")
	out := buf.String()
	if !strings.Contains(out, "msg=compiled") || !strings.Contains(out, "debug=harness") {
		t.Errorf("missing harness record: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("disabled category was logged: %q", out)
	}
}

func TestInitEnvironmentWins(t *testing.T) {
	restore(t)
	t.Setenv("STARBOX_DEBUG", "audit")
	t.Setenv("STARBOX_LOG_LEVEL", "trace")

	var buf bytes.Buffer
	initTo(&buf, "harness", "error")
	if Enabled(Harness) || !Enabled(Audit) {
		t.Errorf("enabled = %v, want only audit", *enabled.Load())
	}

	Trace(Audit, "record")
	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("trace record = %q, want level=TRACE", buf.String())
	}
}

func TestAllEnablesEverything(t *testing.T) {
	restore(t)
	set(parseCategories("all"))
	for _, c := range Known {
		if !Enabled(c) {
			t.Errorf("Enabled(%q) = false with all", c)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"Warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"print(1)", 20, "print(1)"},
		{"for i in range(10): print(i)", 8, "for i in..."},
		{"x = 'héllo'", 7, "x = 'hé..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
