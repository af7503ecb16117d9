package limits

import "sync/atomic"
import "unsafe"

type Sysatomic_t int64

// substrate-wide limits. a loaded binary's manifest demands are admitted
// against these before its first strand is queued.
type Syslimit_t struct {
	// total strands across all sovereigns
	Strands int
	// arenas that may exist at once
	Arenas int
	// largest acceptable SBF image
	Binsize uint64
	// per-sovereign stack and heap byte ceilings
	Stackmax uint64
	Heapmax  uint64
	// outstanding strand reservations
	Resstrands Sysatomic_t
}

var Syslimit *Syslimit_t = MkSysLimit()

func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Strands:  1 << 14,
		Arenas:   1 << 10,
		Binsize:  1 << 30,
		Stackmax: 1 << 24,
		Heapmax:  1 << 32,
		// the reservation pool starts full
		Resstrands: 1 << 14,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	atomic.AddInt64(s._aptr(), n)
}

func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

// returns false if the limit has been reached.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

func (s *Sysatomic_t) Give() {
	s.Given(1)
}
