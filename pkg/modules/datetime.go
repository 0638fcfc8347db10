package modules

import (
	"fmt"
	"strings"
	"time"

	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// isoLayouts are tried in order by fromisoformat.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func newDatetime() (*starlarkstruct.Module, error) {
	now := builtin("datetime", "now", dtNow)
	utcnow := builtin("datetime", "utcnow", dtUTCNow)
	fromISO := builtin("datetime", "fromisoformat", dtFromISOFormat)

	return module("datetime", starlark.StringDict{
		"now":    now,
		"utcnow": utcnow,
		"date": newClass(builtin("datetime", "date", dtDate), starlark.StringDict{
			"today":         builtin("datetime.date", "today", dtToday),
			"fromisoformat": fromISO,
		}),
		"datetime": newClass(builtin("datetime", "datetime", dtDatetime), starlark.StringDict{
			"now":           now,
			"utcnow":        utcnow,
			"fromisoformat": fromISO,
		}),
		"fromisoformat": fromISO,
		"timedelta":     builtin("datetime", "timedelta", dtTimedelta),
		"strftime":      builtin("datetime", "strftime", dtStrftime),
	}), nil
}

func dtNow(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlarktime.Time(time.Now()), nil
}

func dtUTCNow(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlarktime.Time(time.Now().UTC()), nil
}

// dtToday returns the current local date at midnight.
func dtToday(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	y, m, d := time.Now().Date()
	return makeTime(y, int(m), d, 0, 0, 0, 0)
}

func dtDate(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var year, month, day int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "year", &year, "month", &month, "day", &day); err != nil {
		return nil, err
	}
	return makeTime(year, month, day, 0, 0, 0, 0)
}

func dtDatetime(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var year, month, day, hour, minute, second, microsecond int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"year", &year,
		"month", &month,
		"day", &day,
		"hour?", &hour,
		"minute?", &minute,
		"second?", &second,
		"microsecond?", &microsecond,
	); err != nil {
		return nil, err
	}
	return makeTime(year, month, day, hour, minute, second, microsecond)
}

// makeTime validates each field instead of letting time.Date normalize
// out-of-range values.
func makeTime(year, month, day, hour, minute, second, microsecond int) (starlark.Value, error) {
	switch {
	case year < 1 || year > 9999:
		return nil, ValueError("year %d is out of range", year)
	case month < 1 || month > 12:
		return nil, ValueError("month must be in 1..12")
	case hour < 0 || hour > 23:
		return nil, ValueError("hour must be in 0..23")
	case minute < 0 || minute > 59:
		return nil, ValueError("minute must be in 0..59")
	case second < 0 || second > 59:
		return nil, ValueError("second must be in 0..59")
	case microsecond < 0 || microsecond > 999999:
		return nil, ValueError("microsecond must be in 0..999999")
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, microsecond*1000, time.UTC)
	if t.Day() != day {
		return nil, ValueError("day is out of range for month")
	}
	return starlarktime.Time(t), nil
}

func dtFromISOFormat(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return starlarktime.Time(t), nil
		}
	}
	return nil, ValueError("Invalid isoformat string: %q", s)
}

func dtTimedelta(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var days, seconds, microseconds, milliseconds, minutes, hours, weeks starlark.Value = zero, zero, zero, zero, zero, zero, zero
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"days?", &days,
		"seconds?", &seconds,
		"microseconds?", &microseconds,
		"milliseconds?", &milliseconds,
		"minutes?", &minutes,
		"hours?", &hours,
		"weeks?", &weeks,
	); err != nil {
		return nil, err
	}

	parts := []struct {
		v    starlark.Value
		unit time.Duration
	}{
		{weeks, 7 * 24 * time.Hour},
		{days, 24 * time.Hour},
		{hours, time.Hour},
		{minutes, time.Minute},
		{seconds, time.Second},
		{milliseconds, time.Millisecond},
		{microseconds, time.Microsecond},
	}
	var total float64
	for _, p := range parts {
		f, ok := starlark.AsFloat(p.v)
		if !ok {
			return nil, TypeError("%s: got %s, want int or float", b.Name(), p.v.Type())
		}
		total += f * float64(p.unit)
	}
	const maxDuration = float64(1<<63 - 1)
	if total > maxDuration || total < -maxDuration {
		return nil, newError("OverflowError", "timedelta is out of range")
	}
	return starlarktime.Duration(time.Duration(total)), nil
}

var zero starlark.Value = starlark.MakeInt(0)

func dtStrftime(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var t starlarktime.Time
	var format string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "t", &t, "format", &format); err != nil {
		return nil, err
	}
	s, err := strftime(time.Time(t), format)
	if err != nil {
		return nil, err
	}
	return starlark.String(s), nil
}

// strftime renders t using C-style % directives.
func strftime(t time.Time, format string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			return "", ValueError("stray %% in format %q", format)
		}
		switch format[i] {
		case 'Y':
			fmt.Fprintf(&sb, "%04d", t.Year())
		case 'y':
			fmt.Fprintf(&sb, "%02d", t.Year()%100)
		case 'm':
			fmt.Fprintf(&sb, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&sb, "%02d", t.Day())
		case 'H':
			fmt.Fprintf(&sb, "%02d", t.Hour())
		case 'I':
			h := t.Hour() % 12
			if h == 0 {
				h = 12
			}
			fmt.Fprintf(&sb, "%02d", h)
		case 'M':
			fmt.Fprintf(&sb, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&sb, "%02d", t.Second())
		case 'f':
			fmt.Fprintf(&sb, "%06d", t.Nanosecond()/1000)
		case 'p':
			sb.WriteString(t.Format("PM"))
		case 'b':
			sb.WriteString(t.Format("Jan"))
		case 'B':
			sb.WriteString(t.Format("January"))
		case 'a':
			sb.WriteString(t.Format("Mon"))
		case 'A':
			sb.WriteString(t.Format("Monday"))
		case 'j':
			fmt.Fprintf(&sb, "%03d", t.YearDay())
		case 'w':
			fmt.Fprintf(&sb, "%d", int(t.Weekday()))
		case 'Z':
			sb.WriteString(t.Format("MST"))
		case 'z':
			sb.WriteString(t.Format("-0700"))
		case '%':
			sb.WriteByte('%')
		default:
			return "", ValueError("unsupported format directive %%%c", format[i])
		}
	}
	return sb.String(), nil
}
