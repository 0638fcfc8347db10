package modules

import (
	"math"
	"math/big"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"gonum.org/v1/gonum/stat"
)

// sample is numeric input decoded from a guest iterable.
type sample struct {
	values []starlark.Value
	floats []float64
	ints   bool
}

func newStatistics() (*starlarkstruct.Module, error) {
	fn := func(name string, impl func(*starlark.Builtin, sample, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)) *starlark.Builtin {
		return builtin("statistics", name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(args) < 1 {
				return nil, TypeError("%s: missing required argument 'data'", b.Name())
			}
			s, err := decodeSample(b.Name(), args[0])
			if err != nil {
				return nil, err
			}
			return impl(b, s, args[1:], kwargs)
		})
	}

	return module("statistics", starlark.StringDict{
		"mean":           fn("mean", statMean),
		"fmean":          fn("fmean", statFmean),
		"median":         fn("median", statMedian),
		"median_low":     fn("median_low", statMedianLow),
		"median_high":    fn("median_high", statMedianHigh),
		"mode":           fn("mode", statMode),
		"variance":       fn("variance", statVariance),
		"pvariance":      fn("pvariance", statPvariance),
		"stdev":          fn("stdev", statStdev),
		"pstdev":         fn("pstdev", statPstdev),
		"geometric_mean": fn("geometric_mean", statGeometricMean),
		"harmonic_mean":  fn("harmonic_mean", statHarmonicMean),
		"quantiles":      fn("quantiles", statQuantiles),
	}), nil
}

func decodeSample(fname string, v starlark.Value) (sample, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return sample{}, TypeError("%s: data must be iterable, got %s", fname, v.Type())
	}
	s := sample{ints: true}
	iter := iterable.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		s.values = append(s.values, x)
		switch x := x.(type) {
		case starlark.Int:
			f, _ := starlark.AsFloat(x)
			s.floats = append(s.floats, f)
		case starlark.Float:
			s.floats = append(s.floats, float64(x))
			s.ints = false
		default:
			// Non-numeric values are allowed only for mode.
			s.floats = nil
			s.ints = false
			for iter.Next(&x) {
				s.values = append(s.values, x)
			}
			return s, nil
		}
	}
	return s, nil
}

func (s sample) numeric(fname string, min int) error {
	if s.floats == nil && len(s.values) > 0 {
		return TypeError("%s: data must contain only int or float values", fname)
	}
	if len(s.values) < min {
		if min <= 1 {
			return StatisticsError("%s requires at least one data point", fname)
		}
		return StatisticsError("%s requires at least two data points", fname)
	}
	return nil
}

// number returns an Int when the inputs were all ints and the result is
// integral, otherwise a Float.
func (s sample) number(f float64) starlark.Value {
	if s.ints && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return starlark.MakeInt64(int64(f))
	}
	return starlark.Float(f)
}

func (s sample) sorted() []float64 {
	out := append([]float64(nil), s.floats...)
	sort.Float64s(out)
	return out
}

func noArgs(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) error {
	if len(args) > 0 || len(kwargs) > 0 {
		return TypeError("%s: got unexpected arguments", b.Name())
	}
	return nil
}

func statMean(b *starlark.Builtin, s sample, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := noArgs(b, args, kwargs); err != nil {
		return nil, err
	}
	if err := s.numeric("mean", 1); err != nil {
		return nil, err
	}
	return s.number(stat.Mean(s.floats, nil)), nil
}

func statFmean(b *starlark.Builtin, s sample, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := noArgs(b, args, kwargs); err != nil {
		return nil, err
	}
	if err := s.numeric("fmean", 1); err != nil {
		return nil, err
	}
	return starlark.Float(stat.Mean(s.floats, nil)), nil
}

func statMedian(b *starlark.Builtin, s sample, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := noArgs(b, args, kwargs); err != nil {
		return nil, err
	}
	if err := s.numeric("median", 1); err != nil {
		return nil, err
	}
	xs := s.sorted()
	n := len(xs)
	if n%2 == 1 {
		return s.number(xs[n/2]), nil
	}
	return starlark.Float((xs[n/2-1] + xs[n/2]) / 2), nil
}

func statMedianLow(b *starlark.Builtin, s sample, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := noArgs(b, args, kwargs); err != nil {
		return nil, err
	}
	if err := s.numeric("median_low", 1); err != nil {
		return nil, err
	}
	xs := s.sorted()
	n := len(xs)
	if n%2 == 1 {
		return s.number(xs[n/2]), nil
	}
	return s.number(xs[n/2-1]), nil
}

func statMedianHigh(b *starlark.Builtin, s sample, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := noArgs(b, args, kwargs); err != nil {
		return nil, err
	}
	if err := s.numeric("median_high", 1); err != nil {
		return nil, err
	}
	xs := s.sorted()
	return s.number(xs[len(xs)/2]), nil
}

// statMode returns the most common value, preferring the first one seen on a
// tie. Values need only be hashable.
func statMode(b *starlark.Builtin, s sample, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := noArgs(b, args, kwargs); err != nil {
		return nil, err
	}
	if len(s.values) == 0 {
		return nil, StatisticsError("no mode for empty data")
	}
	counts := starlark.NewDict(len(s.values))
	top := 0
	for _, v := range s.values {
		prev, found, err := counts.Get(v)
		if err != nil {
			return nil, TypeError("mode: %v", err)
		}
		n := 1
		if found {
			c, _ := starlark.AsInt32(prev)
			n = c + 1
		}
		if err := counts.SetKey(v, starlark.MakeInt(n)); err != nil {
			return nil, TypeError("mode: %v", err)
		}
		top = max(top, n)
	}
	for _, v := range s.values {
		c, _, _ := counts.Get(v)
		if n, _ := starlark.AsInt32(c); n == top {
			return v, nil
		}
	}
	return s.values[0], nil
}

func statVariance(b *starlark.Builtin, s sample, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := noArgs(b, args, kwargs); err != nil {
		return nil, err
	}
	if err := s.numeric("variance", 2); err != nil {
		return nil, err
	}
	return s.number(stat.Variance(s.floats, nil)), nil
}

func statPvariance(b *starlark.Builtin, s sample, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := noArgs(b, args, kwargs); err != nil {
		return nil, err
	}
	if err := s.numeric("pvariance", 1); err != nil {
		return nil, err
	}
	return s.number(stat.PopVariance(s.floats, nil)), nil
}

func statStdev(b *starlark.Builtin, s sample, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := noArgs(b, args, kwargs); err != nil {
		return nil, err
	}
	if err := s.numeric("stdev", 2); err != nil {
		return nil, err
	}
	return starlark.Float(stat.StdDev(s.floats, nil)), nil
}

func statPstdev(b *starlark.Builtin, s sample, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := noArgs(b, args, kwargs); err != nil {
		return nil, err
	}
	if err := s.numeric("pstdev", 1); err != nil {
		return nil, err
	}
	_, std := stat.PopMeanStdDev(s.floats, nil)
	return starlark.Float(std), nil
}

func statGeometricMean(b *starlark.Builtin, s sample, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := noArgs(b, args, kwargs); err != nil {
		return nil, err
	}
	if err := s.numeric("geometric_mean", 1); err != nil {
		return nil, err
	}
	for _, f := range s.floats {
		if f <= 0 {
			return nil, StatisticsError("geometric mean requires a non-empty dataset containing positive numbers")
		}
	}
	return starlark.Float(stat.GeometricMean(s.floats, nil)), nil
}

func statHarmonicMean(b *starlark.Builtin, s sample, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := noArgs(b, args, kwargs); err != nil {
		return nil, err
	}
	if err := s.numeric("harmonic_mean", 1); err != nil {
		return nil, err
	}
	for _, f := range s.floats {
		if f < 0 {
			return nil, StatisticsError("harmonic mean does not support negative values")
		}
		if f == 0 {
			return s.number(0), nil
		}
	}
	// n / sum(1/x) is taken exactly so that integral results stay integral.
	sum := new(big.Rat)
	for _, f := range s.floats {
		r := new(big.Rat).SetFloat64(f)
		if r == nil {
			return starlark.Float(stat.HarmonicMean(s.floats, nil)), nil
		}
		sum.Add(sum, r.Inv(r))
	}
	hm, _ := new(big.Rat).Quo(big.NewRat(int64(len(s.floats)), 1), sum).Float64()
	return s.number(hm), nil
}

// statQuantiles divides the data into n intervals of equal probability using
// the exclusive method and returns the n-1 cut points.
func statQuantiles(b *starlark.Builtin, s sample, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 4
	if err := starlark.UnpackArgs(b.Name(), append(starlark.Tuple{starlark.None}, args...), kwargs, "data", new(starlark.Value), "n?", &n); err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, StatisticsError("n must be at least 1")
	}
	if err := s.numeric("quantiles", 2); err != nil {
		return nil, err
	}
	xs := s.sorted()
	ld := len(xs)
	m := ld + 1
	out := make([]starlark.Value, 0, n-1)
	for i := 1; i < n; i++ {
		j := i * m / n
		switch {
		case j < 1:
			j = 1
		case j > ld-1:
			j = ld - 1
		}
		delta := i*m - j*n
		v := (xs[j-1]*float64(n-delta) + xs[j]*float64(delta)) / float64(n)
		out = append(out, starlark.Float(v))
	}
	return starlark.NewList(out), nil
}
