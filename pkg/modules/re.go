package modules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Flag values accepted by re functions.
const (
	flagIgnoreCase = 2
	flagMultiline  = 8
	flagDotAll     = 16
)

func newRe() (*starlarkstruct.Module, error) {
	members := starlark.StringDict{
		"compile":    builtin("re", "compile", reCompile),
		"escape":     builtin("re", "escape", reEscape),
		"IGNORECASE": starlark.MakeInt(flagIgnoreCase),
		"I":          starlark.MakeInt(flagIgnoreCase),
		"MULTILINE":  starlark.MakeInt(flagMultiline),
		"M":          starlark.MakeInt(flagMultiline),
		"DOTALL":     starlark.MakeInt(flagDotAll),
		"S":          starlark.MakeInt(flagDotAll),
	}
	// Module-level helpers take the pattern as their first argument and
	// forward the rest to the Pattern method of the same name.
	for _, name := range []string{"match", "search", "fullmatch", "findall", "sub", "split"} {
		method := name
		members[method] = builtin("re", method, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(args) < 1 {
				return nil, TypeError("%s: missing required argument 'pattern'", b.Name())
			}
			flags := 0
			rest := kwargs[:0:0]
			for _, kv := range kwargs {
				if k, _ := starlark.AsString(kv[0]); k == "flags" {
					n, err := starlark.AsInt32(kv[1])
					if err != nil {
						return nil, TypeError("%s: flags: %v", b.Name(), err)
					}
					flags = n
					continue
				}
				rest = append(rest, kv)
			}
			p, err := patternOf(args[0], flags)
			if err != nil {
				return nil, err
			}
			fn, _ := p.Attr(method)
			return starlark.Call(thread, fn, args[1:], rest)
		})
	}
	return module("re", members), nil
}

func patternOf(v starlark.Value, flags int) (*Pattern, error) {
	switch v := v.(type) {
	case *Pattern:
		return v, nil
	case starlark.String:
		return compilePattern(string(v), flags)
	}
	return nil, TypeError("first argument must be string or compiled pattern, not %s", v.Type())
}

func reCompile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern string
	flags := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "flags?", &flags); err != nil {
		return nil, err
	}
	return compilePattern(pattern, flags)
}

func reEscape(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	return starlark.String(regexp.QuoteMeta(s)), nil
}

// Pattern is a compiled regular expression.
type Pattern struct {
	source string
	flags  int
	re     *regexp.Regexp
	full   *regexp.Regexp
}

var _ starlark.HasAttrs = (*Pattern)(nil)

func compilePattern(source string, flags int) (*Pattern, error) {
	prefix := ""
	if flags&flagIgnoreCase != 0 {
		prefix += "i"
	}
	if flags&flagMultiline != 0 {
		prefix += "m"
	}
	if flags&flagDotAll != 0 {
		prefix += "s"
	}
	if prefix != "" {
		prefix = "(?" + prefix + ")"
	}
	re, err := regexp.Compile(prefix + source)
	if err != nil {
		return nil, PatternError("%s", strings.TrimPrefix(err.Error(), "error parsing regexp: "))
	}
	full, err := regexp.Compile(prefix + `\A(?:` + source + `)\z`)
	if err != nil {
		return nil, PatternError("%s", strings.TrimPrefix(err.Error(), "error parsing regexp: "))
	}
	return &Pattern{source: source, flags: flags, re: re, full: full}, nil
}

func (p *Pattern) String() string        { return fmt.Sprintf("re.compile(%s)", strconv.Quote(p.source)) }
func (p *Pattern) Type() string          { return "Pattern" }
func (p *Pattern) Freeze()               {}
func (p *Pattern) Truth() starlark.Bool  { return true }
func (p *Pattern) Hash() (uint32, error) { return starlark.String(p.source).Hash() }

func (p *Pattern) AttrNames() []string {
	return []string{"findall", "flags", "fullmatch", "groups", "match", "pattern", "search", "split", "sub"}
}

func (p *Pattern) Attr(name string) (starlark.Value, error) {
	method := func(fn func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)) starlark.Value {
		return starlark.NewBuiltin("Pattern."+name, fn)
	}
	switch name {
	case "pattern":
		return starlark.String(p.source), nil
	case "flags":
		return starlark.MakeInt(p.flags), nil
	case "groups":
		return starlark.MakeInt(p.re.NumSubexp()), nil
	case "match":
		return method(p.match), nil
	case "search":
		return method(p.search), nil
	case "fullmatch":
		return method(p.fullmatch), nil
	case "findall":
		return method(p.findall), nil
	case "sub":
		return method(p.sub), nil
	case "split":
		return method(p.split), nil
	}
	return nil, nil
}

func (p *Pattern) match(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	loc := p.re.FindStringSubmatchIndex(s)
	if loc == nil || loc[0] != 0 {
		return starlark.None, nil
	}
	return newMatch(p, s, loc), nil
}

func (p *Pattern) search(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	loc := p.re.FindStringSubmatchIndex(s)
	if loc == nil {
		return starlark.None, nil
	}
	return newMatch(p, s, loc), nil
}

func (p *Pattern) fullmatch(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	loc := p.full.FindStringSubmatchIndex(s)
	if loc == nil {
		return starlark.None, nil
	}
	return newMatch(p, s, loc), nil
}

// findall returns whole matches when the pattern has no groups, the single
// group's text when it has one, and tuples of group texts otherwise.
func (p *Pattern) findall(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	ngroups := p.re.NumSubexp()
	var out []starlark.Value
	for _, loc := range p.re.FindAllStringSubmatchIndex(s, -1) {
		switch ngroups {
		case 0:
			out = append(out, starlark.String(s[loc[0]:loc[1]]))
		case 1:
			out = append(out, groupText(s, loc, 1, starlark.String("")))
		default:
			groups := make(starlark.Tuple, ngroups)
			for g := 1; g <= ngroups; g++ {
				groups[g-1] = groupText(s, loc, g, starlark.String(""))
			}
			out = append(out, groups)
		}
	}
	return starlark.NewList(out), nil
}

// sub replaces up to count matches (all when count is 0). repl is either a
// template using \1 or \g<name> references, or a callable taking a Match.
func (p *Pattern) sub(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var repl starlark.Value
	var s string
	count := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "repl", &repl, "string", &s, "count?", &count); err != nil {
		return nil, err
	}

	var template string
	fn, isFunc := repl.(starlark.Callable)
	if !isFunc {
		str, ok := starlark.AsString(repl)
		if !ok {
			return nil, TypeError("%s: repl must be a string or callable, not %s", b.Name(), repl.Type())
		}
		template = translateTemplate(str)
	}

	n := -1
	if count > 0 {
		n = count
	}
	var sb strings.Builder
	last := 0
	for _, loc := range p.re.FindAllStringSubmatchIndex(s, n) {
		sb.WriteString(s[last:loc[0]])
		if isFunc {
			v, err := starlark.Call(thread, fn, starlark.Tuple{newMatch(p, s, loc)}, nil)
			if err != nil {
				return nil, err
			}
			str, ok := starlark.AsString(v)
			if !ok {
				return nil, TypeError("%s: repl function must return a string, not %s", b.Name(), v.Type())
			}
			sb.WriteString(str)
		} else {
			sb.Write(p.re.ExpandString(nil, template, s, loc))
		}
		last = loc[1]
	}
	sb.WriteString(s[last:])
	return starlark.String(sb.String()), nil
}

// translateTemplate rewrites backslash group references into the ${n}
// form understood by regexp.Expand and escapes literal dollars.
func translateTemplate(repl string) string {
	var sb strings.Builder
	for i := 0; i < len(repl); i++ {
		c := repl[i]
		switch {
		case c == '$':
			sb.WriteString("$$")
		case c == '\\' && i+1 < len(repl):
			next := repl[i+1]
			switch {
			case next >= '0' && next <= '9':
				j := i + 1
				for j < len(repl) && j < i+3 && repl[j] >= '0' && repl[j] <= '9' {
					j++
				}
				sb.WriteString("${" + repl[i+1:j] + "}")
				i = j - 1
			case next == 'g' && i+2 < len(repl) && repl[i+2] == '<':
				if end := strings.IndexByte(repl[i+3:], '>'); end >= 0 {
					sb.WriteString("${" + repl[i+3:i+3+end] + "}")
					i += 3 + end
				} else {
					sb.WriteString(`\g`)
					i++
				}
			case next == 'n':
				sb.WriteByte('\n')
				i++
			case next == 't':
				sb.WriteByte('\t')
				i++
			case next == '\\':
				sb.WriteByte('\\')
				i++
			default:
				sb.WriteByte(c)
			}
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// split splits s around matches. Captured groups are included in the result
// between the pieces, with None for groups that did not participate.
func (p *Pattern) split(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	maxsplit := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "string", &s, "maxsplit?", &maxsplit); err != nil {
		return nil, err
	}
	n := -1
	if maxsplit > 0 {
		n = maxsplit
	}
	var out []starlark.Value
	last := 0
	for _, loc := range p.re.FindAllStringSubmatchIndex(s, n) {
		if loc[0] == loc[1] && (loc[0] == 0 || loc[0] == len(s)) {
			continue
		}
		out = append(out, starlark.String(s[last:loc[0]]))
		for g := 1; g <= p.re.NumSubexp(); g++ {
			out = append(out, groupText(s, loc, g, starlark.None))
		}
		last = loc[1]
	}
	out = append(out, starlark.String(s[last:]))
	return starlark.NewList(out), nil
}

func groupText(s string, loc []int, g int, missing starlark.Value) starlark.Value {
	if loc[2*g] < 0 {
		return missing
	}
	return starlark.String(s[loc[2*g]:loc[2*g+1]])
}

// Match is the result of a successful match.
type Match struct {
	pattern *Pattern
	s       string
	loc     []int
}

var _ starlark.HasAttrs = (*Match)(nil)

func newMatch(p *Pattern, s string, loc []int) *Match {
	return &Match{pattern: p, s: s, loc: loc}
}

func (m *Match) String() string {
	return fmt.Sprintf("<re.Match object; span=(%d, %d), match=%s>", m.loc[0], m.loc[1], strconv.Quote(m.s[m.loc[0]:m.loc[1]]))
}

func (m *Match) Type() string          { return "Match" }
func (m *Match) Freeze()               {}
func (m *Match) Truth() starlark.Bool  { return true }
func (m *Match) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: Match") }

func (m *Match) AttrNames() []string {
	return []string{"end", "group", "groupdict", "groups", "re", "span", "start", "string"}
}

func (m *Match) Attr(name string) (starlark.Value, error) {
	method := func(fn func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)) starlark.Value {
		return starlark.NewBuiltin("Match."+name, fn)
	}
	switch name {
	case "string":
		return starlark.String(m.s), nil
	case "re":
		return m.pattern, nil
	case "group":
		return method(m.group), nil
	case "groups":
		return method(m.groups), nil
	case "groupdict":
		return method(m.groupdict), nil
	case "start":
		return method(m.bound(0)), nil
	case "end":
		return method(m.bound(1)), nil
	case "span":
		return method(m.span), nil
	}
	return nil, nil
}

// index resolves a group reference given as a number or a name.
func (m *Match) index(v starlark.Value) (int, error) {
	if name, ok := starlark.AsString(v); ok {
		g := m.pattern.re.SubexpIndex(name)
		if g < 0 {
			return 0, IndexError("no such group")
		}
		return g, nil
	}
	g, err := starlark.AsInt32(v)
	if err != nil {
		return 0, TypeError("group index must be an int or a name, not %s", v.Type())
	}
	if g < 0 || g > m.pattern.re.NumSubexp() {
		return 0, IndexError("no such group")
	}
	return g, nil
}

func (m *Match) group(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, TypeError("%s: unexpected keyword arguments", b.Name())
	}
	if len(args) == 0 {
		args = starlark.Tuple{starlark.MakeInt(0)}
	}
	out := make(starlark.Tuple, len(args))
	for i, a := range args {
		g, err := m.index(a)
		if err != nil {
			return nil, err
		}
		out[i] = groupText(m.s, m.loc, g, starlark.None)
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

func (m *Match) groups(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "default?", &def); err != nil {
		return nil, err
	}
	n := m.pattern.re.NumSubexp()
	out := make(starlark.Tuple, n)
	for g := 1; g <= n; g++ {
		out[g-1] = groupText(m.s, m.loc, g, def)
	}
	return out, nil
}

func (m *Match) groupdict(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "default?", &def); err != nil {
		return nil, err
	}
	d := starlark.NewDict(m.pattern.re.NumSubexp())
	for g, name := range m.pattern.re.SubexpNames() {
		if g == 0 || name == "" {
			continue
		}
		if err := d.SetKey(starlark.String(name), groupText(m.s, m.loc, g, def)); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// bound returns the start (which=0) or end (which=1) method.
func (m *Match) bound(which int) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var gv starlark.Value = starlark.MakeInt(0)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &gv); err != nil {
			return nil, err
		}
		g, err := m.index(gv)
		if err != nil {
			return nil, err
		}
		return starlark.MakeInt(m.loc[2*g+which]), nil
	}
}

func (m *Match) span(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var gv starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &gv); err != nil {
		return nil, err
	}
	g, err := m.index(gv)
	if err != nil {
		return nil, err
	}
	return starlark.Tuple{starlark.MakeInt(m.loc[2*g]), starlark.MakeInt(m.loc[2*g+1])}, nil
}
