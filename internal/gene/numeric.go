package gene

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"

	"golang.org/x/exp/constraints"

	"mioforge/internal/tree"
)

// maxIntegerStep caps the random-walk step of integer mutation. The effective
// cap shrinks linearly with search progress down to 1.
const maxIntegerStep = 1000

// Integer is a whole number inside inclusive bounds.
type Integer struct {
	base
	min   int64
	max   int64
	value int64
}

func NewInteger(name string, min, max int64) *Integer {
	return &Integer{base: base{name: name}, min: min, max: max, value: min}
}

func (g *Integer) Kind() Kind               { return KindInteger }
func (g *Integer) Children() []tree.Node    { return nil }
func (g *Integer) Mutable() bool            { return !g.frozen }
func (g *Integer) Bounds() (min, max int64) { return g.min, g.max }
func (g *Integer) Value() int64             { return g.value }
func (g *Integer) RawString() string        { return strconv.FormatInt(g.value, 10) }
func (g *Integer) Size() int                { return 1 }

// SetValue assigns v if it lies inside the bounds.
func (g *Integer) SetValue(v int64) bool {
	if v < g.min || v > g.max {
		return false
	}
	g.value = v
	g.initialized = true
	return true
}

func (g *Integer) Randomize(rng *rand.Rand, forceNew bool) {
	if g.frozen {
		return
	}
	old := g.value
	wasSet := g.initialized
	g.initialized = true
	if g.min == g.max {
		g.value = g.min
		return
	}
	for attempt := 0; attempt < forceNewAttempts; attempt++ {
		g.value = uniformInt64(rng, g.min, g.max)
		if !forceNew || !wasSet || g.value != old {
			return
		}
	}
	if old < g.max {
		g.value = old + 1
	} else {
		g.value = old - 1
	}
}

// Mutate applies a bounded random walk. The maximum step shrinks as the
// search budget is consumed so late mutations are local.
func (g *Integer) Mutate(rng *rand.Rand, ctl Control) error {
	if err := g.checkMutate(); err != nil {
		return err
	}
	if g.min == g.max {
		return nil
	}
	span := float64(g.max) - float64(g.min)
	limit := math.Min(span, maxIntegerStep) * (1 - progressOf(ctl))
	if limit < 1 {
		limit = 1
	}
	delta := 1 + rng.Int63n(int64(limit))
	if rng.Intn(2) == 0 {
		delta = -delta
	}
	if (delta > 0 && g.value == g.max) || (delta < 0 && g.value == g.min) {
		delta = -delta
	}
	g.value = addClamped(g.value, delta, g.min, g.max)
	return nil
}

func (g *Integer) Copy() Gene {
	return &Integer{base: g.clone(), min: g.min, max: g.max, value: g.value}
}

func (g *Integer) SetFromString(s string) bool {
	if g.frozen {
		return s == g.RawString()
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != math.Trunc(f) || f < math.MinInt64 || f > math.MaxInt64 {
			return false
		}
		v = int64(f)
	}
	return g.SetValue(v)
}

func (g *Integer) Validate() error {
	if g.min > g.max {
		return fmt.Errorf("%w: %s bounds [%d,%d]", ErrInvalidDomain, g.name, g.min, g.max)
	}
	if g.value < g.min || g.value > g.max {
		return fmt.Errorf("%w: %s=%d not in [%d,%d]", ErrOutOfDomain, g.name, g.value, g.min, g.max)
	}
	return nil
}

// Float is a real number inside inclusive finite bounds.
type Float struct {
	base
	min   float64
	max   float64
	value float64
}

func NewFloat(name string, min, max float64) *Float {
	return &Float{base: base{name: name}, min: min, max: max, value: min}
}

func (g *Float) Kind() Kind                 { return KindFloat }
func (g *Float) Children() []tree.Node      { return nil }
func (g *Float) Mutable() bool              { return !g.frozen }
func (g *Float) Bounds() (min, max float64) { return g.min, g.max }
func (g *Float) Value() float64             { return g.value }
func (g *Float) Size() int                  { return 1 }

func (g *Float) RawString() string {
	return strconv.FormatFloat(g.value, 'g', -1, 64)
}

func (g *Float) SetValue(v float64) bool {
	if math.IsNaN(v) || v < g.min || v > g.max {
		return false
	}
	g.value = v
	g.initialized = true
	return true
}

func (g *Float) Randomize(rng *rand.Rand, forceNew bool) {
	if g.frozen {
		return
	}
	old := g.value
	wasSet := g.initialized
	g.initialized = true
	if g.min == g.max {
		g.value = g.min
		return
	}
	for attempt := 0; attempt < forceNewAttempts; attempt++ {
		g.value = g.min + rng.Float64()*(g.max-g.min)
		if g.value > g.max {
			g.value = g.max
		}
		if !forceNew || !wasSet || g.value != old {
			return
		}
	}
	if old < g.max {
		g.value = g.max
	} else {
		g.value = g.min
	}
}

// Mutate applies a Gaussian step whose deviation shrinks with progress.
func (g *Float) Mutate(rng *rand.Rand, ctl Control) error {
	if err := g.checkMutate(); err != nil {
		return err
	}
	if g.min == g.max {
		return nil
	}
	span := g.max - g.min
	sigma := span * 0.1 * (1 - 0.9*progressOf(ctl))
	next := clampFloat(g.value+rng.NormFloat64()*sigma, g.min, g.max)
	if next == g.value {
		if g.value < g.max {
			next = math.Nextafter(g.value, g.max)
		} else {
			next = math.Nextafter(g.value, g.min)
		}
	}
	g.value = next
	return nil
}

func (g *Float) Copy() Gene {
	return &Float{base: g.clone(), min: g.min, max: g.max, value: g.value}
}

func (g *Float) SetFromString(s string) bool {
	if g.frozen {
		return s == g.RawString()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}
	return g.SetValue(v)
}

func (g *Float) Validate() error {
	if math.IsInf(g.min, 0) || math.IsInf(g.max, 0) || math.IsNaN(g.min) || math.IsNaN(g.max) || g.min > g.max {
		return fmt.Errorf("%w: %s bounds [%g,%g]", ErrInvalidDomain, g.name, g.min, g.max)
	}
	if math.IsNaN(g.value) || g.value < g.min || g.value > g.max {
		return fmt.Errorf("%w: %s=%g not in [%g,%g]", ErrOutOfDomain, g.name, g.value, g.min, g.max)
	}
	return nil
}

func progressOf(ctl Control) float64 {
	if ctl == nil {
		return 0
	}
	return StaticControl(ctl.Progress()).Progress()
}

// uniformInt64 draws from [lo, hi] without overflowing on the full int64 range.
func uniformInt64(rng *rand.Rand, lo, hi int64) int64 {
	span := uint64(hi) - uint64(lo)
	if span == math.MaxUint64 {
		return int64(rng.Uint64())
	}
	return int64(uint64(lo) + rng.Uint64()%(span+1))
}

// addClamped adds delta to value and saturates at the bounds, detecting
// wrap-around on overflow.
func addClamped[T constraints.Signed](value, delta, lo, hi T) T {
	sum := value + delta
	if delta > 0 && (sum < value || sum > hi) {
		return hi
	}
	if delta < 0 && (sum > value || sum < lo) {
		return lo
	}
	return sum
}

func clampFloat[T constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
