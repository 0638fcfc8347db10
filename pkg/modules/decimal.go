package modules

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// DivisionPrecision is the number of significant digits kept by Decimal
// division.
const DivisionPrecision = 28

// Decimal is an exact decimal number. Places records the number of fractional
// digits to display, or -1 to display the shortest exact form.
type Decimal struct {
	d      decimal.Decimal
	places int32
}

var (
	_ starlark.HasBinary  = Decimal{}
	_ starlark.HasUnary   = Decimal{}
	_ starlark.Comparable = Decimal{}
	_ starlark.HasAttrs   = Decimal{}
)

// NewDecimal wraps d for guest use.
func NewDecimal(d decimal.Decimal) Decimal {
	return Decimal{d: d, places: -1}
}

func newDecimal() (*starlarkstruct.Module, error) {
	return module("decimal", starlark.StringDict{
		"Decimal": builtin("decimal", "Decimal", decimalCtor),
	}), nil
}

func decimalCtor(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &v); err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case Decimal:
		return v, nil
	case starlark.String:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return nil, ValueError("invalid literal for Decimal: %s", v.String())
		}
		places := int32(0)
		if d.Exponent() < 0 {
			places = -d.Exponent()
		}
		return Decimal{d: d, places: places}, nil
	case starlark.Int:
		return NewDecimal(decimal.NewFromBigInt(v.BigInt(), 0)), nil
	case starlark.Float:
		return NewDecimal(decimal.NewFromFloat(float64(v))), nil
	default:
		return nil, TypeError("conversion from %s to Decimal is not supported", v.Type())
	}
}

func (x Decimal) String() string {
	if x.places >= 0 {
		return x.d.StringFixed(x.places)
	}
	return x.d.String()
}

func (x Decimal) Type() string         { return "Decimal" }
func (x Decimal) Freeze()              {}
func (x Decimal) Truth() starlark.Bool { return starlark.Bool(!x.d.IsZero()) }

func (x Decimal) Hash() (uint32, error) {
	return starlark.String(x.d.String()).Hash()
}

func (x Decimal) CompareSameType(op syntax.Token, y starlark.Value, _ int) (bool, error) {
	return threeway(op, x.d.Cmp(y.(Decimal).d)), nil
}

func (x Decimal) Unary(op syntax.Token) (starlark.Value, error) {
	switch op {
	case syntax.MINUS:
		return Decimal{d: x.d.Neg(), places: x.places}, nil
	case syntax.PLUS:
		return x, nil
	}
	return nil, nil
}

func (x Decimal) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	var other Decimal
	switch y := y.(type) {
	case Decimal:
		other = y
	case starlark.Int:
		other = Decimal{d: decimal.NewFromBigInt(y.BigInt(), 0), places: 0}
	default:
		return nil, nil
	}
	l, r := x, other
	if side == starlark.Right {
		l, r = other, x
	}

	switch op {
	case syntax.PLUS:
		return Decimal{d: l.d.Add(r.d), places: maxPlaces(l, r)}, nil
	case syntax.MINUS:
		return Decimal{d: l.d.Sub(r.d), places: maxPlaces(l, r)}, nil
	case syntax.STAR:
		places := int32(-1)
		if l.places >= 0 && r.places >= 0 {
			places = min(l.places+r.places, DivisionPrecision)
		}
		return Decimal{d: l.d.Mul(r.d), places: places}, nil
	case syntax.SLASH:
		if r.d.IsZero() {
			return nil, ZeroDivisionError("decimal division by zero")
		}
		return NewDecimal(divide(l.d, r.d)), nil
	case syntax.SLASHSLASH:
		if r.d.IsZero() {
			return nil, ZeroDivisionError("decimal division by zero")
		}
		q, _ := l.d.QuoRem(r.d, 0)
		return Decimal{d: q, places: 0}, nil
	case syntax.PERCENT:
		if r.d.IsZero() {
			return nil, ZeroDivisionError("decimal modulo by zero")
		}
		return Decimal{d: l.d.Mod(r.d), places: maxPlaces(l, r)}, nil
	}
	return nil, nil
}

// divide returns l/r rounded to DivisionPrecision significant digits.
func divide(l, r decimal.Decimal) decimal.Decimal {
	q := l.DivRound(r, DivisionPrecision)
	if excess := q.NumDigits() - DivisionPrecision; excess > 0 {
		q = q.Round(-q.Exponent() - int32(excess))
	}
	return q
}

func maxPlaces(l, r Decimal) int32 {
	if l.places < 0 || r.places < 0 {
		return -1
	}
	return max(l.places, r.places)
}

func (x Decimal) Attr(name string) (starlark.Value, error) {
	switch name {
	case "quantize":
		return starlark.NewBuiltin("Decimal.quantize", x.quantize), nil
	case "to_float":
		return starlark.NewBuiltin("Decimal.to_float", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			f, _ := x.d.Float64()
			return starlark.Float(f), nil
		}), nil
	}
	return nil, nil
}

func (x Decimal) AttrNames() []string {
	return []string{"quantize", "to_float"}
}

// quantize rounds half-even to a number of places given either as an int or
// as an exemplar Decimal such as Decimal("0.01").
func (x Decimal) quantize(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var exp starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &exp); err != nil {
		return nil, err
	}
	var places int32
	switch exp := exp.(type) {
	case Decimal:
		if e := exp.d.Exponent(); e < 0 {
			places = -e
		}
	case starlark.Int:
		n, err := starlark.AsInt32(exp)
		if err != nil || n < 0 {
			return nil, ValueError("%s: places must be a non-negative int", b.Name())
		}
		places = int32(n)
	default:
		return nil, TypeError("%s: got %s, want Decimal or int", b.Name(), exp.Type())
	}
	return Decimal{d: x.d.RoundBank(places), places: places}, nil
}

func threeway(op syntax.Token, cmp int) bool {
	switch op {
	case syntax.EQL:
		return cmp == 0
	case syntax.NEQ:
		return cmp != 0
	case syntax.LE:
		return cmp <= 0
	case syntax.LT:
		return cmp < 0
	case syntax.GE:
		return cmp >= 0
	case syntax.GT:
		return cmp > 0
	}
	panic(fmt.Sprintf("unexpected comparison %s", op))
}
