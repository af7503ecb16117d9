package galactic

import "fmt"

import "seraph/defs"
import "seraph/stats"

const galactic_debug bool = false

func dbg(f string, args ...interface{}) {
	if galactic_debug {
		fmt.Printf(f, args...)
	}
}

// per-strand execution statistics. protected by the owning cpu's
// scheduler lock.
type Gstats_t struct {
	Exec Dual_t
	Resp Dual_t
	Wait Dual_t
	// learning rate doubles as the moving-average weight
	Rate      Fix_t
	Converged bool
	Nadjust   stats.Counter_t
	Nup       stats.Counter_t
	Ndown     stats.Counter_t
	acc       Fix_t
	lastpred  Fix_t
	havepred  bool
	lastsign  int
	lastadj   uint64
	haveadj   bool
	noops     int
}

type Config_t struct {
	// prediction horizon, in quanta
	Horizon Fix_t
	// target execution-time fraction of the quantum
	Target Fix_t
	// learning rate bounds and multiplicative step
	Ratemin  Fix_t
	Ratemax  Fix_t
	Rategrow Fix_t
	// tangent threshold and accuracy floor for convergence
	Epsilon Fix_t
	Accmin  Fix_t
	// consecutive no-op adjustments before a strand is converged
	Nnoop int
	// minimum ticks between priority changes
	Minticks uint64
}

func Defaults() Config_t {
	return Config_t{
		Horizon:  Fix(2),
		Target:   Fixfrac(3, 4),
		Ratemin:  Fixfrac(1, 64),
		Ratemax:  Fixfrac(1, 2),
		Rategrow: Fixfrac(3, 2),
		Epsilon:  Fixfrac(1, 100),
		Accmin:   Fixfrac(9, 10),
		Nnoop:    8,
		Minticks: 32,
	}
}

type Galactic_t struct {
	cfg Config_t
}

func MkGalactic(cfg Config_t) *Galactic_t {
	if cfg.Ratemin <= 0 || cfg.Ratemax < cfg.Ratemin {
		panic("bad rate bounds")
	}
	return &Galactic_t{cfg: cfg}
}

func (g *Galactic_t) Mkstats() *Gstats_t {
	return &Gstats_t{Rate: g.cfg.Ratemin.Mul(Fix(4)).clamp(g.cfg.Ratemin,
		g.cfg.Ratemax)}
}

func (a Fix_t) clamp(lo, hi Fix_t) Fix_t {
	if a < lo {
		return lo
	}
	if a > hi {
		return hi
	}
	return a
}

// Observe folds one quantum's measured execution fraction into the
// strand's statistics and scores the previous prediction.
func (g *Galactic_t) Observe(gs *Gstats_t, exec Fix_t) {
	if gs.havepred {
		// accuracy sample is 1 - relative error, floored at zero
		err := (gs.lastpred - exec).Abs()
		base := exec.Abs()
		if base < FONE {
			base = FONE
		}
		rel := err.Div(base)
		sample := FONE - rel
		if sample < 0 {
			sample = 0
		}
		gs.acc += gs.Rate.Mul(sample - gs.acc)
	}
	gs.Exec.Observe(exec, gs.Rate)
	gs.lastpred = gs.Exec.Predict(g.cfg.Horizon)
	gs.havepred = true
}

// Credit_wait folds time spent blocked, in quantum units.
func (g *Galactic_t) Credit_wait(gs *Gstats_t, w Fix_t) {
	gs.Wait.Observe(w, gs.Rate)
}

func (g *Galactic_t) Credit_resp(gs *Gstats_t, r Fix_t) {
	gs.Resp.Observe(r, gs.Rate)
}

// Adjust applies the control rule and returns the new priority, at most
// one level away from prio and never outside [background, realtime].
func (g *Galactic_t) Adjust(gs *Gstats_t, prio defs.Prio_t, tick uint64) defs.Prio_t {
	pred := gs.Exec.Predict(g.cfg.Horizon)
	resid := (pred - g.cfg.Target).Abs()
	if gs.Converged {
		if resid <= g.cfg.Epsilon {
			return prio
		}
		// a significant residual reappeared
		gs.Converged = false
		gs.noops = 0
	}
	if gs.haveadj && tick-gs.lastadj < g.cfg.Minticks {
		return prio
	}

	// inside the deadband the controller holds still; without this a
	// settled strand dithering a hair past target corrects forever and
	// noops never accumulate
	d := 0
	if resid >= g.cfg.Epsilon {
		if pred > g.cfg.Target && gs.Exec.E1 > 0 {
			d = 1
		} else if pred < g.cfg.Target && gs.Exec.E1 < 0 {
			d = -1
		}
	}
	if d == 0 {
		gs.noops++
		if gs.Exec.E1.Abs() < g.cfg.Epsilon && gs.acc > g.cfg.Accmin &&
			gs.noops >= g.cfg.Nnoop {
			gs.Converged = true
			dbg("galactic: converged (acc %v)\n", gs.acc.Float())
		}
		return prio
	}
	gs.noops = 0

	// oscillation shrinks the rate, a monotone run grows it
	if gs.lastsign != 0 {
		if d == gs.lastsign {
			gs.Rate = gs.Rate.Mul(g.cfg.Rategrow)
		} else {
			gs.Rate = gs.Rate.Div(g.cfg.Rategrow)
		}
		gs.Rate = gs.Rate.clamp(g.cfg.Ratemin, g.cfg.Ratemax)
	}
	gs.lastsign = d
	gs.lastadj = tick
	gs.haveadj = true
	gs.Nadjust.Inc()

	np := prio + defs.Prio_t(d)
	if np < defs.PRIO_BACKGROUND {
		np = defs.PRIO_BACKGROUND
	}
	if np > defs.PRIO_REALTIME {
		np = defs.PRIO_REALTIME
	}
	if np > prio {
		gs.Nup.Inc()
	} else if np < prio {
		gs.Ndown.Inc()
	}
	return np
}

// Force_boost raises priority by urgency levels at once, ignoring the
// rate limit. urgency must be 1, 2 or 3.
func (g *Galactic_t) Force_boost(gs *Gstats_t, prio defs.Prio_t, urgency int) defs.Prio_t {
	if urgency < 1 || urgency > 3 {
		panic("bad urgency")
	}
	np := prio + defs.Prio_t(urgency)
	if np > defs.PRIO_REALTIME {
		np = defs.PRIO_REALTIME
	}
	if np != prio {
		gs.Nadjust.Inc()
		gs.Nup.Inc()
	}
	gs.lastadj = 0
	gs.haveadj = false
	gs.Converged = false
	return np
}
