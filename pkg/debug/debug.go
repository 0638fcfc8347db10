// Package debug gates verbose diagnostics of the sandbox by category and
// installs the process logger.
//
// Categories select which component is verbose (STARBOX_DEBUG or the
// logging.debug setting, comma separated, "all" for every component). The
// level selects how much is written (STARBOX_LOG_LEVEL or logging.level).
// At TRACE the sandbox also logs every rendered report.
//
//	debug.Log(debug.Harness, "compiled", "globals", n)
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

// Components that emit debug output.
const (
	Harness = "harness"
	Capture = "capture"
	Sandbox = "sandbox"
	MCP     = "mcp"
	Audit   = "audit"
	Auth    = "auth"
	Config  = "config"

	// All enables every component.
	All = "all"
)

// Known lists every category Init accepts.
var Known = []string{Harness, Capture, Sandbox, MCP, Audit, Auth, Config, All}

// LevelTrace sits below slog.LevelDebug.
const LevelTrace = slog.LevelDebug - 4

// enabled is swapped as a whole so Log never observes a partial update.
var enabled atomic.Pointer[map[string]bool]

func init() {
	set(parseCategories(os.Getenv("STARBOX_DEBUG")))
}

func set(m map[string]bool) {
	enabled.Store(&m)
}

// Init installs a text logger on stderr and enables categories. The
// environment wins over the arguments, which come from the config file.
// It returns the category names that are not in Known; they are ignored.
func Init(categories, level string) []string {
	return initTo(os.Stderr, categories, level)
}

func initTo(w io.Writer, categories, level string) []string {
	if env := os.Getenv("STARBOX_DEBUG"); env != "" {
		categories = env
	}
	if env := os.Getenv("STARBOX_LOG_LEVEL"); env != "" {
		level = env
	}

	m := parseCategories(categories)
	var unknown []string
	for c := range m {
		if !slices.Contains(Known, c) {
			unknown = append(unknown, c)
			delete(m, c)
		}
	}
	slices.Sort(unknown)
	set(m)

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: traceLabel,
	})))
	return unknown
}

// traceLabel prints LevelTrace as "TRACE" instead of "DEBUG-4".
func traceLabel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// Enabled reports whether category is switched on.
func Enabled(category string) bool {
	m := *enabled.Load()
	return m[All] || m[category]
}

// Log writes a DEBUG record tagged with category when it is enabled.
func Log(category, msg string, args ...any) {
	if Enabled(category) {
		slog.Debug(msg, append([]any{"debug", category}, args...)...)
	}
}

// Trace writes a TRACE record tagged with category when it is enabled.
func Trace(category, msg string, args ...any) {
	if Enabled(category) {
		slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
	}
}

// ParseLevel maps a level name to a slog level. Unknown names mean INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Truncate shortens s to maxLen runes followed by "...".
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, c := range strings.Split(s, ",") {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			m[c] = true
		}
	}
	return m
}
