package modules

import (
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	asciiLowercase = "abcdefghijklmnopqrstuvwxyz"
	asciiUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits         = "0123456789"
	punctuation    = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
	whitespace     = " \t\n\r\x0b\x0c"
)

func newString() (*starlarkstruct.Module, error) {
	return module("string", starlark.StringDict{
		"ascii_letters":   starlark.String(asciiLowercase + asciiUppercase),
		"ascii_lowercase": starlark.String(asciiLowercase),
		"ascii_uppercase": starlark.String(asciiUppercase),
		"digits":          starlark.String(digits),
		"hexdigits":       starlark.String(digits + "abcdefABCDEF"),
		"octdigits":       starlark.String("01234567"),
		"punctuation":     starlark.String(punctuation),
		"whitespace":      starlark.String(whitespace),
		"printable":       starlark.String(digits + asciiLowercase + asciiUppercase + punctuation + whitespace),
		"capwords":        builtin("string", "capwords", capwords),
	}), nil
}

// capwords splits s on sep (runs of whitespace when sep is None), title-cases
// each word, and joins the words back with sep or a single space.
func capwords(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	var sep starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "s", &s, "sep?", &sep); err != nil {
		return nil, err
	}

	var words []string
	joiner := " "
	switch sep := sep.(type) {
	case starlark.NoneType:
		words = strings.Fields(s)
	case starlark.String:
		joiner = string(sep)
		if joiner == "" {
			return nil, ValueError("empty separator")
		}
		words = strings.Split(s, joiner)
	default:
		return nil, TypeError("%s: sep must be a string or None, got %s", b.Name(), sep.Type())
	}

	caser := cases.Title(language.Und)
	for i, w := range words {
		words[i] = caser.String(w)
	}
	return starlark.String(strings.Join(words, joiner)), nil
}
