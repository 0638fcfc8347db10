package modules

import (
	"math/big"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// Fraction is an exact rational number, always kept in lowest terms with a
// positive denominator.
type Fraction struct {
	r *big.Rat
}

var (
	_ starlark.HasBinary  = Fraction{}
	_ starlark.HasUnary   = Fraction{}
	_ starlark.Comparable = Fraction{}
	_ starlark.HasAttrs   = Fraction{}
)

func newFractions() (*starlarkstruct.Module, error) {
	return module("fractions", starlark.StringDict{
		"Fraction": builtin("fractions", "Fraction", fractionCtor),
	}), nil
}

func fractionCtor(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var num starlark.Value = starlark.MakeInt(0)
	var den starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "numerator?", &num, "denominator?", &den); err != nil {
		return nil, err
	}

	n, err := toRat(num)
	if err != nil {
		return nil, err
	}
	if den == starlark.None {
		return Fraction{r: n}, nil
	}
	if _, ok := num.(starlark.String); ok {
		return nil, TypeError("Fraction: both arguments should be int or Fraction when a denominator is given")
	}
	d, err := toRat(den)
	if err != nil {
		return nil, err
	}
	if d.Sign() == 0 {
		return nil, ZeroDivisionError("Fraction(%s, 0)", n.RatString())
	}
	return Fraction{r: new(big.Rat).Quo(n, d)}, nil
}

func toRat(v starlark.Value) (*big.Rat, error) {
	switch v := v.(type) {
	case Fraction:
		return new(big.Rat).Set(v.r), nil
	case starlark.Int:
		return new(big.Rat).SetInt(v.BigInt()), nil
	case starlark.Float:
		r, ok := new(big.Rat).SetString(v.String())
		if !ok {
			return nil, ValueError("cannot convert %s to Fraction", v.String())
		}
		return r, nil
	case starlark.String:
		s := strings.TrimSpace(string(v))
		if strings.Contains(s, "/") {
			parts := strings.SplitN(s, "/", 2)
			if d, ok := new(big.Int).SetString(strings.TrimSpace(parts[1]), 10); ok && d.Sign() == 0 {
				return nil, ZeroDivisionError("Fraction(%s, 0)", strings.TrimSpace(parts[0]))
			}
		}
		r, ok := new(big.Rat).SetString(s)
		if !ok {
			return nil, ValueError("invalid literal for Fraction: %s", v.String())
		}
		return r, nil
	}
	return nil, TypeError("argument should be a string or a number, not %s", v.Type())
}

func (x Fraction) String() string {
	return x.r.RatString()
}

func (x Fraction) Type() string         { return "Fraction" }
func (x Fraction) Freeze()              {}
func (x Fraction) Truth() starlark.Bool { return x.r.Sign() != 0 }

func (x Fraction) Hash() (uint32, error) {
	return starlark.String(x.r.RatString()).Hash()
}

func (x Fraction) CompareSameType(op syntax.Token, y starlark.Value, _ int) (bool, error) {
	return threeway(op, x.r.Cmp(y.(Fraction).r)), nil
}

func (x Fraction) Unary(op syntax.Token) (starlark.Value, error) {
	switch op {
	case syntax.MINUS:
		return Fraction{r: new(big.Rat).Neg(x.r)}, nil
	case syntax.PLUS:
		return x, nil
	}
	return nil, nil
}

func (x Fraction) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	var other *big.Rat
	switch y := y.(type) {
	case Fraction:
		other = y.r
	case starlark.Int:
		other = new(big.Rat).SetInt(y.BigInt())
	case starlark.Float:
		// Mixing with a float yields a float.
		f, _ := x.r.Float64()
		l, r := sideValue(starlark.Float(f), y, side)
		return starlark.Binary(op, l, r)
	default:
		return nil, nil
	}
	l, r := x.r, other
	if side == starlark.Right {
		l, r = other, x.r
	}

	switch op {
	case syntax.PLUS:
		return Fraction{r: new(big.Rat).Add(l, r)}, nil
	case syntax.MINUS:
		return Fraction{r: new(big.Rat).Sub(l, r)}, nil
	case syntax.STAR:
		return Fraction{r: new(big.Rat).Mul(l, r)}, nil
	case syntax.SLASH:
		if r.Sign() == 0 {
			return nil, ZeroDivisionError("Fraction(%s, 0)", l.RatString())
		}
		return Fraction{r: new(big.Rat).Quo(l, r)}, nil
	case syntax.SLASHSLASH:
		if r.Sign() == 0 {
			return nil, ZeroDivisionError("Fraction(%s, 0)", l.RatString())
		}
		q := new(big.Rat).Quo(l, r)
		floor := new(big.Int).Div(q.Num(), q.Denom())
		return starlark.MakeBigInt(floor), nil
	}
	return nil, nil
}

// sideValue reorders the float operand pair so that the receiver keeps its
// original side of the operator.
func sideValue(self, other starlark.Value, side starlark.Side) (starlark.Value, starlark.Value) {
	if side == starlark.Left {
		return self, other
	}
	return other, self
}

func (x Fraction) Attr(name string) (starlark.Value, error) {
	switch name {
	case "numerator":
		return starlark.MakeBigInt(new(big.Int).Set(x.r.Num())), nil
	case "denominator":
		return starlark.MakeBigInt(new(big.Int).Set(x.r.Denom())), nil
	case "to_float":
		return starlark.NewBuiltin("Fraction.to_float", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			f, _ := x.r.Float64()
			return starlark.Float(f), nil
		}), nil
	}
	return nil, nil
}

func (x Fraction) AttrNames() []string {
	return []string{"denominator", "numerator", "to_float"}
}
