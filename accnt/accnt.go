package accnt

import "sync"
import "sync/atomic"
import "time"

// per-strand time accounting in nanoseconds. Runns accumulates on-CPU time,
// Waitns accumulates blocked time; the scheduler credits both and the
// galactic predictor samples them.
type Accnt_t struct {
	Runns  int64
	Waitns int64
	// for a consistent snapshot of both; not always needed
	sync.Mutex
}

func (a *Accnt_t) Runadd(delta int64) {
	atomic.AddInt64(&a.Runns, delta)
}

func (a *Accnt_t) Waitadd(delta int64) {
	atomic.AddInt64(&a.Waitns, delta)
}

func Now() int64 {
	return time.Now().UnixNano()
}

// credit blocked time since the block timestamp
func (a *Accnt_t) Wait_time(since int64) {
	a.Waitadd(Now() - since)
}

func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Runns += atomic.LoadInt64(&n.Runns)
	a.Waitns += atomic.LoadInt64(&n.Waitns)
	a.Unlock()
}

func (a *Accnt_t) Snapshot() (int64, int64) {
	a.Lock()
	r, w := a.Runns, a.Waitns
	a.Unlock()
	return r, w
}
