package galactic

import "math/bits"

// signed Q32.32 fixed point. products and quotients run through a
// 128-bit intermediate so the full 64-bit range survives.
type Fix_t int64

const FSHIFT = 32
const FONE Fix_t = 1 << FSHIFT

func Fix(n int64) Fix_t {
	return Fix_t(n << FSHIFT)
}

// Fixfrac returns num/den as a fixed-point value.
func Fixfrac(num, den int64) Fix_t {
	if den == 0 {
		panic("zero denominator")
	}
	return Fix(num).Div(Fix(den))
}

func (a Fix_t) Int() int64 {
	return int64(a) >> FSHIFT
}

// Float is for diagnostics only; the kernel paths stay in fixed point.
func (a Fix_t) Float() float64 {
	return float64(a) / float64(FONE)
}

func (a Fix_t) Abs() Fix_t {
	if a < 0 {
		return -a
	}
	return a
}

func (a Fix_t) Mul(b Fix_t) Fix_t {
	neg := false
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		neg = !neg
		ua = uint64(-a)
	}
	if b < 0 {
		neg = !neg
		ub = uint64(-b)
	}
	hi, lo := bits.Mul64(ua, ub)
	if hi>>FSHIFT != 0 {
		panic("fixed point overflow")
	}
	r := hi<<FSHIFT | lo>>FSHIFT
	if neg {
		return -Fix_t(r)
	}
	return Fix_t(r)
}

func (a Fix_t) Div(b Fix_t) Fix_t {
	if b == 0 {
		panic("fixed point divide by zero")
	}
	neg := false
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		neg = !neg
		ua = uint64(-a)
	}
	if b < 0 {
		neg = !neg
		ub = uint64(-b)
	}
	// (a << 32) / b
	hi := ua >> (64 - FSHIFT)
	lo := ua << FSHIFT
	if hi >= ub {
		panic("fixed point overflow")
	}
	q, _ := bits.Div64(hi, lo, ub)
	if neg {
		return -Fix_t(q)
	}
	return Fix_t(q)
}

// a hyper-dual number: primal value, first derivative, second
// derivative. carrying the derivatives through the moving average gives
// the predictor a trend and a curvature for free.
type Dual_t struct {
	Re Fix_t
	E1 Fix_t
	E2 Fix_t
}

func (a Dual_t) Add(b Dual_t) Dual_t {
	return Dual_t{a.Re + b.Re, a.E1 + b.E1, a.E2 + b.E2}
}

func (a Dual_t) Sub(b Dual_t) Dual_t {
	return Dual_t{a.Re - b.Re, a.E1 - b.E1, a.E2 - b.E2}
}

func (a Dual_t) Scale(k Fix_t) Dual_t {
	return Dual_t{a.Re.Mul(k), a.E1.Mul(k), a.E2.Mul(k)}
}

// Observe folds a sample into the moving average with weight w. the
// primal tracks the sample, the tangent tracks the per-sample delta,
// the second order tracks the tangent's own drift. a stationary input
// drives both derivatives to zero.
func (a *Dual_t) Observe(s, w Fix_t) {
	diff := s - a.Re
	olde1 := a.E1
	a.Re += w.Mul(diff)
	a.E1 += w.Mul(diff - a.E1)
	a.E2 += w.Mul((a.E1 - olde1) - a.E2)
}

// Predict extrapolates over horizon h: re + e1*h + e2*h*h/2.
func (a Dual_t) Predict(h Fix_t) Fix_t {
	hh := h.Mul(h)
	return a.Re + a.E1.Mul(h) + a.E2.Mul(hh)/2
}
