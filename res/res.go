package res

import "sync"

import "seraph/defs"
import "seraph/limits"

// a loaded binary's resource demands, taken from its manifest. chronon
// is carried for accounting but never enforced.
type Res_t struct {
	Strands uint
	Stack   uint64
	Heap    uint64
	Chronon uint64
}

// an admitted reservation. Release returns everything to the pools.
type Grant_t struct {
	res  Res_t
	lim  *limits.Syslimit_t
	once sync.Once
}

// Admit checks the demands against the system limits and reserves the
// strand count. per-sovereign byte ceilings are pure checks; only
// strands draw from a shared pool.
func Admit(r Res_t) (*Grant_t, defs.Err_t) {
	return admit(r, limits.Syslimit)
}

func admit(r Res_t, lim *limits.Syslimit_t) (*Grant_t, defs.Err_t) {
	if r.Strands == 0 {
		return nil, -defs.EINVAL
	}
	if r.Stack > lim.Stackmax || r.Heap > lim.Heapmax {
		return nil, -defs.ENOMEM
	}
	if !lim.Resstrands.Taken(r.Strands) {
		return nil, -defs.ENOMEM
	}
	return &Grant_t{res: r, lim: lim}, 0
}

func (g *Grant_t) Res() Res_t {
	return g.res
}

func (g *Grant_t) Release() {
	g.once.Do(func() {
		g.lim.Resstrands.Given(g.res.Strands)
	})
}
