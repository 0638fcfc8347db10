package modules

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// randKey is the thread-local key holding the per-run generator.
const randKey = "starbox.random"

// source holds the generator so random.seed can replace it without
// touching thread locals once execution has started.
type source struct {
	r *rand.Rand
}

// SeedThread installs a fresh generator on thread. A run calls this once
// before evaluation so that seeding inside one snippet never affects another.
func SeedThread(thread *starlark.Thread) {
	thread.SetLocal(randKey, &source{r: newRand(cryptoSeed(), cryptoSeed())})
}

func newRand(s1, s2 uint64) *rand.Rand {
	return rand.New(rand.NewPCG(s1, s2))
}

// state returns the thread's generator holder, creating one if the caller
// never seeded the thread.
func state(thread *starlark.Thread) *source {
	if s, ok := thread.Local(randKey).(*source); ok {
		return s
	}
	SeedThread(thread)
	return thread.Local(randKey).(*source)
}

func rng(thread *starlark.Thread) *rand.Rand {
	return state(thread).r
}

func cryptoSeed() uint64 {
	var b [8]byte
	_, _ = crand.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

func newRandom() (*starlarkstruct.Module, error) {
	return module("random", starlark.StringDict{
		"random":    builtin("random", "random", randRandom),
		"uniform":   builtin("random", "uniform", randUniform),
		"randint":   builtin("random", "randint", randRandint),
		"randrange": builtin("random", "randrange", randRandrange),
		"choice":    builtin("random", "choice", randChoice),
		"choices":   builtin("random", "choices", randChoices),
		"shuffle":   builtin("random", "shuffle", randShuffle),
		"sample":    builtin("random", "sample", randSample),
		"seed":      builtin("random", "seed", randSeed),
	}), nil
}

func randRandom(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.Float(rng(thread).Float64()), nil
}

func randUniform(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var lo, hi starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &lo, "b", &hi); err != nil {
		return nil, err
	}
	a, ok := starlark.AsFloat(lo)
	if !ok {
		return nil, TypeError("%s: got %s, want float", b.Name(), lo.Type())
	}
	c, ok := starlark.AsFloat(hi)
	if !ok {
		return nil, TypeError("%s: got %s, want float", b.Name(), hi.Type())
	}
	return starlark.Float(a + (c-a)*rng(thread).Float64()), nil
}

func randInt(r *rand.Rand, start, stop, step int64) (starlark.Value, error) {
	if step == 0 {
		return nil, ValueError("zero step for randrange()")
	}
	var n int64
	if step > 0 {
		n = (stop - start + step - 1) / step
	} else {
		n = (stop - start + step + 1) / step
	}
	if n <= 0 {
		return nil, ValueError("empty range for randrange() (%d, %d, %d)", start, stop, step)
	}
	return starlark.MakeInt64(start + step*r.Int64N(n)), nil
}

func randRandint(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var lo, hi int64
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &lo, "b", &hi); err != nil {
		return nil, err
	}
	return randInt(rng(thread), lo, hi+1, 1)
}

func randRandrange(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start int64
	var stop starlark.Value = starlark.None
	var step int64 = 1
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop?", &stop, "step?", &step); err != nil {
		return nil, err
	}
	if stop == starlark.None {
		return randInt(rng(thread), 0, start, 1)
	}
	end, err := starlark.AsInt32(stop)
	if err != nil {
		return nil, TypeError("%s: stop: %v", b.Name(), err)
	}
	return randInt(rng(thread), start, int64(end), step)
}

func randChoice(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var seq starlark.Indexable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &seq); err != nil {
		return nil, err
	}
	if seq.Len() == 0 {
		return nil, IndexError("cannot choose from an empty sequence")
	}
	return seq.Index(rng(thread).IntN(seq.Len())), nil
}

// randChoices draws k elements with replacement, optionally weighted.
func randChoices(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var population starlark.Indexable
	var weights starlark.Value = starlark.None
	k := 1
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "population", &population, "weights?", &weights, "k?", &k); err != nil {
		return nil, err
	}
	n := population.Len()
	if n == 0 {
		return nil, IndexError("cannot choose from an empty population")
	}
	if k < 0 {
		return nil, ValueError("k must be non-negative")
	}

	var cum []float64
	if weights != starlark.None {
		ws, ok := weights.(starlark.Indexable)
		if !ok {
			return nil, TypeError("%s: weights must be a sequence", b.Name())
		}
		if ws.Len() != n {
			return nil, ValueError("the number of weights does not match the population")
		}
		total := 0.0
		for i := 0; i < n; i++ {
			w, ok := starlark.AsFloat(ws.Index(i))
			if !ok {
				return nil, TypeError("%s: got %s, want float weight", b.Name(), ws.Index(i).Type())
			}
			total += w
			cum = append(cum, total)
		}
		if total <= 0 {
			return nil, ValueError("total of weights must be greater than zero")
		}
	}

	r := rng(thread)
	out := make([]starlark.Value, k)
	for i := range out {
		if cum == nil {
			out[i] = population.Index(r.IntN(n))
			continue
		}
		x := r.Float64() * cum[n-1]
		j := 0
		for j < n-1 && cum[j] <= x {
			j++
		}
		out[i] = population.Index(j)
	}
	return starlark.NewList(out), nil
}

func randShuffle(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var list *starlark.List
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &list); err != nil {
		return nil, err
	}
	n := list.Len()
	vals := make([]starlark.Value, n)
	for i := range vals {
		vals[i] = list.Index(i)
	}
	rng(thread).Shuffle(n, func(i, j int) { vals[i], vals[j] = vals[j], vals[i] })
	for i, v := range vals {
		if err := list.SetIndex(i, v); err != nil {
			return nil, err
		}
	}
	return starlark.None, nil
}

func randSample(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var population starlark.Indexable
	var k int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "population", &population, "k", &k); err != nil {
		return nil, err
	}
	n := population.Len()
	if k < 0 || k > n {
		return nil, ValueError("sample larger than population or is negative")
	}
	perm := rng(thread).Perm(n)
	out := make([]starlark.Value, k)
	for i := range out {
		out[i] = population.Index(perm[i])
	}
	return starlark.NewList(out), nil
}

// randSeed reseeds the run's generator. None draws a fresh random seed.
func randSeed(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var a starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &a); err != nil {
		return nil, err
	}
	var seed uint64
	switch a := a.(type) {
	case starlark.NoneType:
		seed = cryptoSeed()
	case starlark.Int:
		if v, ok := a.Uint64(); ok {
			seed = v
		} else if v, ok := a.Int64(); ok {
			seed = uint64(v)
		} else {
			h, _ := a.Hash()
			seed = uint64(h)
		}
	default:
		h, err := a.Hash()
		if err != nil {
			return nil, TypeError("%s: %v", b.Name(), err)
		}
		seed = uint64(h)
	}
	state(thread).r = newRand(seed, seed^0x9e3779b97f4a7c15)
	return starlark.None, nil
}
