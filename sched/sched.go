package sched

import "fmt"
import "sync"
import "sync/atomic"

import "seraph/accnt"
import "seraph/cpu"
import "seraph/defs"
import "seraph/galactic"
import "seraph/hashtable"
import "seraph/limits"
import "seraph/stats"

const sched_debug bool = false

func dbg(f string, args ...interface{}) {
	if sched_debug {
		fmt.Printf(f, args...)
	}
}

// strands are addressed by slot index, never by pointer, so queue links
// survive vector growth and a freed slot is trivially detectable.
type idx_t int32

const nil_idx idx_t = -1

type State_t int

const (
	ST_READY State_t = iota
	ST_RUNNING
	ST_BLOCKED
	ST_TERMINATED
)

func (s State_t) String() string {
	switch s {
	case ST_READY:
		return "ready"
	case ST_RUNNING:
		return "running"
	case ST_BLOCKED:
		return "blocked"
	case ST_TERMINATED:
		return "terminated"
	}
	return "?"
}

type Strand_t struct {
	Tid      defs.Tid_t
	Name     string
	State    State_t
	Baseprio defs.Prio_t
	// non-zero while priority is inherited or explicitly boosted
	inherit  defs.Prio_t
	Affinity uint64
	Ctx      cpu.Context_t
	Ctxvalid bool
	Gst      *galactic.Gstats_t
	Acc      accnt.Accnt_t
	idx      idx_t
	cpun     int
	qnext    idx_t
	idle     bool
	qused    uint64
	qrem     uint64
	blockts  int64
	blocktk  uint64
	readytk  uint64
	runts    int64
}

// Effprio is the scheduling priority: the base, raised by any active
// inheritance.
func (s *Strand_t) Effprio() defs.Prio_t {
	if s.inherit > s.Baseprio {
		return s.inherit
	}
	return s.Baseprio
}

func (s *Strand_t) Idx() int {
	return int(s.idx)
}

// fifo of strand indices threaded through qnext
type queue_t struct {
	head idx_t
	tail idx_t
}

type Sstats_t struct {
	Nticks   stats.Counter_t
	Nswitch  stats.Counter_t
	Nyield   stats.Counter_t
	Nblock   stats.Counter_t
	Nwake    stats.Counter_t
	Ntickdrp stats.Counter_t
}

// per-cpu scheduler state. the mutex stands in for the interrupts-off
// spinlock: every queue mutation and every galactic stats access for
// this cpu's strands happens under it.
type Cpu_t struct {
	sync.Mutex
	num     int
	m       *Machine_t
	queues  [defs.NPRIO]queue_t
	blocked idx_t
	cur     idx_t
	idle    idx_t
	insched int32
	Sstats  Sstats_t
}

type Machine_t struct {
	sync.Mutex
	gal      *galactic.Galactic_t
	limit    *limits.Syslimit_t
	Registry *hashtable.Hashtable_t
	strands  []*Strand_t
	freelist []idx_t
	cpus     []*Cpu_t
	nexttid  int64
	gtick    uint64
}

// the idle loop and its per-cpu stacks live in the kernel image; these
// are their fixed addresses.
const idle_rip uint64 = 0xffff_8000_0000_0100
const idle_stacks uint64 = 0xffff_a000_0000_0000
const idle_stacksz uint64 = 1 << 12

func MkMachine(ncpu int, gal *galactic.Galactic_t) *Machine_t {
	if ncpu <= 0 {
		panic("no cpus")
	}
	m := &Machine_t{
		gal:      gal,
		limit:    limits.Syslimit,
		Registry: hashtable.MkHash(limits.Syslimit.Strands),
	}
	for i := 0; i < ncpu; i++ {
		c := &Cpu_t{num: i, m: m, blocked: nil_idx, cur: nil_idx,
			idle: nil_idx}
		for p := range c.queues {
			c.queues[p].head = nil_idx
			c.queues[p].tail = nil_idx
		}
		m.cpus = append(m.cpus, c)
		c.mkidle()
	}
	return m
}

func (m *Machine_t) Cpu(n int) *Cpu_t {
	return m.cpus[n]
}

func (m *Machine_t) Ncpu() int {
	return len(m.cpus)
}

func (m *Machine_t) Tick() uint64 {
	return atomic.LoadUint64(&m.gtick)
}

func (m *Machine_t) tickadd() uint64 {
	return atomic.AddUint64(&m.gtick, 1)
}

func (m *Machine_t) strand(i idx_t) *Strand_t {
	if i == nil_idx {
		panic("nil strand index")
	}
	m.Lock()
	s := m.strands[i]
	m.Unlock()
	if s == nil {
		panic("freed strand index")
	}
	return s
}

func (m *Machine_t) slot_new(s *Strand_t) idx_t {
	m.Lock()
	var i idx_t
	if n := len(m.freelist); n > 0 {
		i = m.freelist[n-1]
		m.freelist = m.freelist[:n-1]
		m.strands[i] = s
	} else {
		i = idx_t(len(m.strands))
		m.strands = append(m.strands, s)
	}
	m.nexttid++
	s.Tid = defs.Tid_t(m.nexttid)
	m.Unlock()
	return i
}

func (m *Machine_t) slot_free(i idx_t) {
	m.Lock()
	m.strands[i] = nil
	m.freelist = append(m.freelist, i)
	m.Unlock()
}

// Mkstrand creates a ready strand pinned to cpun. fails when the strand
// reservation pool is exhausted.
func (m *Machine_t) Mkstrand(name string, entry, stacktop uint64,
	prio defs.Prio_t, cpun int) (*Strand_t, defs.Err_t) {
	if prio < defs.PRIO_IDLE || prio > defs.PRIO_CRITICAL {
		panic("bad priority")
	}
	if cpun < 0 || cpun >= len(m.cpus) {
		panic("bad cpu")
	}
	if !m.limit.Resstrands.Take() {
		return nil, -defs.ENOMEM
	}
	s := &Strand_t{
		Name:     name,
		State:    ST_READY,
		Baseprio: prio,
		Affinity: 1 << uint(cpun),
		cpun:     cpun,
		qnext:    nil_idx,
	}
	s.Ctx.Init_kernel(entry, stacktop, 0, 0)
	s.Ctxvalid = true
	if m.gal != nil {
		s.Gst = m.gal.Mkstats()
	}
	s.idx = m.slot_new(s)
	m.Registry.Set(s.Tid, s)

	c := m.cpus[cpun]
	c.Lock()
	s.readytk = m.Tick()
	c.push(s)
	c.Unlock()
	return s, 0
}

func (c *Cpu_t) mkidle() {
	s := &Strand_t{
		Name:     fmt.Sprintf("idle%d", c.num),
		State:    ST_READY,
		Baseprio: defs.PRIO_IDLE,
		Affinity: 1 << uint(c.num),
		cpun:     c.num,
		qnext:    nil_idx,
		idle:     true,
	}
	stacktop := idle_stacks + uint64(c.num+1)*idle_stacksz
	s.Ctx.Init_kernel(idle_rip, stacktop, 0, 0)
	s.Ctxvalid = true
	s.idx = c.m.slot_new(s)
	c.m.Registry.Set(s.Tid, s)
	c.idle = s.idx
	// the idle strand starts as the running strand; the first real
	// strand preempts it on the next tick
	s.State = ST_RUNNING
	s.qrem = defs.Prioquantum[defs.PRIO_IDLE]
	c.cur = s.idx
}

// queue ops; caller holds the cpu lock

func (c *Cpu_t) push(s *Strand_t) {
	if s.State != ST_READY || s.idle {
		panic("pushing non-ready strand")
	}
	q := &c.queues[s.Effprio()]
	s.qnext = nil_idx
	if q.tail == nil_idx {
		q.head = s.idx
	} else {
		c.m.strand(q.tail).qnext = s.idx
	}
	q.tail = s.idx
}

func (c *Cpu_t) pop(prio defs.Prio_t) *Strand_t {
	q := &c.queues[prio]
	if q.head == nil_idx {
		return nil
	}
	s := c.m.strand(q.head)
	q.head = s.qnext
	if q.head == nil_idx {
		q.tail = nil_idx
	}
	s.qnext = nil_idx
	return s
}

// unlink s from its priority queue; panics if absent
func (c *Cpu_t) qremove(s *Strand_t) {
	q := &c.queues[s.Effprio()]
	var prev idx_t = nil_idx
	for i := q.head; i != nil_idx; i = c.m.strand(i).qnext {
		if i != s.idx {
			prev = i
			continue
		}
		if prev == nil_idx {
			q.head = s.qnext
		} else {
			c.m.strand(prev).qnext = s.qnext
		}
		if q.tail == s.idx {
			q.tail = prev
		}
		s.qnext = nil_idx
		return
	}
	panic("strand not queued")
}

// highest non-empty queue, else the idle strand
func (c *Cpu_t) select_() *Strand_t {
	for p := defs.PRIO_CRITICAL; p > defs.PRIO_IDLE; p-- {
		if s := c.pop(p); s != nil {
			return s
		}
	}
	if s := c.pop(defs.PRIO_IDLE); s != nil {
		return s
	}
	return c.m.strand(c.idle)
}

func (s *Strand_t) quantum() uint64 {
	return defs.Prioquantum[s.Effprio()]
}

// enter/leave bracket every scheduling operation. Tick backs off when
// the flag is already held; everything else would be a reentrant call
// from inside the scheduler, which is a bug.
func (c *Cpu_t) enter() bool {
	return atomic.CompareAndSwapInt32(&c.insched, 0, 1)
}

func (c *Cpu_t) leave() {
	atomic.StoreInt32(&c.insched, 0)
}

func (c *Cpu_t) enter_must() {
	if !c.enter() {
		panic("scheduler reentered")
	}
}

// Tick is called by the timer interrupt handler with the interrupted
// frame. it returns without rescheduling if the scheduler was already
// entered on this cpu.
func (c *Cpu_t) Tick(tf *defs.Tf_t) {
	if !c.enter() {
		c.Sstats.Ntickdrp.Inc()
		return
	}
	defer c.leave()
	c.Lock()
	defer c.Unlock()

	c.Sstats.Nticks.Inc()
	tick := c.m.tickadd()
	s := c.m.strand(c.cur)
	s.qused++
	if s.qrem > 0 {
		s.qrem--
	}
	if s.qrem > 0 {
		return
	}

	// quantum expired
	if !s.idle && s.Gst != nil && c.m.gal != nil {
		frac := galactic.Fixfrac(int64(s.qused), int64(s.quantum()))
		c.m.gal.Observe(s.Gst, frac)
		np := c.m.gal.Adjust(s.Gst, s.Baseprio, tick)
		if np != s.Baseprio {
			dbg("galactic: %v %v -> %v\n", s.Name, s.Baseprio, np)
			s.Baseprio = np
		}
	}
	s.qused = 0
	if !s.idle && s.State == ST_RUNNING {
		s.State = ST_READY
		s.readytk = tick
		c.push(s)
	}
	c.reschedule(tf)
}

// caller holds the cpu lock and the insched flag
func (c *Cpu_t) reschedule(tf *defs.Tf_t) {
	next := c.select_()
	next.State = ST_RUNNING
	next.qrem = next.quantum()
	next.qused = 0
	if next.idx == c.cur {
		return
	}
	old := c.m.strand(c.cur)
	cpu.Switch(&old.Ctx, &next.Ctx, tf)
	old.Ctxvalid = true
	now := accnt.Now()
	if old.runts != 0 {
		old.Acc.Runadd(now - old.runts)
		old.runts = 0
	}
	next.runts = now
	c.cur = next.idx
	c.Sstats.Nswitch.Inc()
}

// Yield requeues the current strand behind its priority peers and
// reschedules.
func (c *Cpu_t) Yield(tf *defs.Tf_t) {
	c.enter_must()
	defer c.leave()
	c.Lock()
	defer c.Unlock()

	c.Sstats.Nyield.Inc()
	s := c.m.strand(c.cur)
	s.qused = 0
	if !s.idle {
		s.State = ST_READY
		s.readytk = c.m.Tick()
		c.push(s)
	}
	c.reschedule(tf)
}

// Block parks the current strand on the blocked list and reschedules.
// someone else must Wake it.
func (c *Cpu_t) Block(tf *defs.Tf_t) {
	c.enter_must()
	defer c.leave()
	c.Lock()
	defer c.Unlock()

	s := c.m.strand(c.cur)
	if s.idle {
		panic("idle strand cannot block")
	}
	c.Sstats.Nblock.Inc()
	s.State = ST_BLOCKED
	s.blockts = accnt.Now()
	s.blocktk = c.m.Tick()
	s.qnext = c.blocked
	c.blocked = s.idx
	c.reschedule(tf)
}

// Wake moves s from its cpu's blocked list back to the ready queue and
// credits the time it spent waiting.
func (m *Machine_t) Wake(s *Strand_t) {
	c := m.cpus[s.cpun]
	c.Lock()
	defer c.Unlock()

	if s.State != ST_BLOCKED {
		panic("waking unblocked strand")
	}
	// unlink from the blocked list
	if c.blocked == s.idx {
		c.blocked = s.qnext
	} else {
		i := c.blocked
		for ; i != nil_idx && m.strand(i).qnext != s.idx; i = m.strand(i).qnext {
		}
		if i == nil_idx {
			panic("strand not on blocked list")
		}
		m.strand(i).qnext = s.qnext
	}
	s.qnext = nil_idx

	c.Sstats.Nwake.Inc()
	s.Acc.Wait_time(s.blockts)
	if s.Gst != nil && m.gal != nil {
		waited := m.Tick() - s.blocktk
		m.gal.Credit_wait(s.Gst, galactic.Fix(int64(waited)))
	}
	s.State = ST_READY
	s.readytk = m.Tick()
	c.push(s)
}

// Exit terminates the current strand and reschedules. its slot,
// registry entry and strand reservation are all released.
func (c *Cpu_t) Exit(tf *defs.Tf_t) {
	c.enter_must()
	defer c.leave()
	c.Lock()
	defer c.Unlock()

	s := c.m.strand(c.cur)
	if s.idle {
		panic("idle strand cannot exit")
	}
	s.State = ST_TERMINATED
	s.Ctxvalid = false
	c.m.Registry.Del(s.Tid)
	c.m.limit.Resstrands.Give()
	idx := s.idx
	c.reschedule(tf)
	c.m.slot_free(idx)
}

// On_ipc_lend raises the receiver to at least the lender's effective
// priority for the duration of the call.
func (m *Machine_t) On_ipc_lend(l, r *Strand_t) {
	m.Priority_boost(r, l.Effprio())
}

// On_ipc_return undoes the lend; the receiver drops back to base.
func (m *Machine_t) On_ipc_return(l, r *Strand_t) {
	m.Priority_restore(r)
}

func (m *Machine_t) Priority_boost(s *Strand_t, p defs.Prio_t) {
	if p > defs.PRIO_CRITICAL {
		panic("bad priority")
	}
	c := m.cpus[s.cpun]
	c.Lock()
	defer c.Unlock()
	if p <= s.Effprio() {
		return
	}
	if s.State == ST_READY && !s.idle {
		c.qremove(s)
		s.inherit = p
		c.push(s)
	} else {
		s.inherit = p
	}
}

func (m *Machine_t) Priority_restore(s *Strand_t) {
	c := m.cpus[s.cpun]
	c.Lock()
	defer c.Unlock()
	if s.inherit == 0 {
		return
	}
	if s.State == ST_READY && !s.idle {
		c.qremove(s)
		s.inherit = 0
		c.push(s)
	} else {
		s.inherit = 0
	}
}

// Setaffinity re-pins a ready or blocked strand to another cpu.
func (m *Machine_t) Setaffinity(s *Strand_t, cpun int) {
	if cpun < 0 || cpun >= len(m.cpus) {
		panic("bad cpu")
	}
	if s.cpun == cpun {
		return
	}
	oc, nc := m.cpus[s.cpun], m.cpus[cpun]
	// lock in cpu order
	a, b := oc, nc
	if b.num < a.num {
		a, b = b, a
	}
	a.Lock()
	defer a.Unlock()
	b.Lock()
	defer b.Unlock()

	switch s.State {
	case ST_READY:
		oc.qremove(s)
		s.cpun = cpun
		s.Affinity = 1 << uint(cpun)
		nc.push(s)
	case ST_BLOCKED:
		// unlink from the old blocked list, relink on the new
		if oc.blocked == s.idx {
			oc.blocked = s.qnext
		} else {
			i := oc.blocked
			for ; i != nil_idx && m.strand(i).qnext != s.idx; i = m.strand(i).qnext {
			}
			if i == nil_idx {
				panic("strand not on blocked list")
			}
			m.strand(i).qnext = s.qnext
		}
		s.cpun = cpun
		s.Affinity = 1 << uint(cpun)
		s.qnext = nc.blocked
		nc.blocked = s.idx
	default:
		panic("cannot migrate a running strand")
	}
}

// Force_boost bypasses the galactic rate limit for an urgent strand.
func (m *Machine_t) Force_boost(s *Strand_t, urgency int) {
	if m.gal == nil || s.Gst == nil {
		return
	}
	c := m.cpus[s.cpun]
	c.Lock()
	defer c.Unlock()
	np := m.gal.Force_boost(s.Gst, s.Baseprio, urgency)
	if np == s.Baseprio {
		return
	}
	if s.State == ST_READY && !s.idle {
		c.qremove(s)
		s.Baseprio = np
		c.push(s)
	} else {
		s.Baseprio = np
	}
}

func (c *Cpu_t) Current() *Strand_t {
	c.Lock()
	defer c.Unlock()
	return c.m.strand(c.cur)
}

func (c *Cpu_t) Qlen(p defs.Prio_t) int {
	c.Lock()
	defer c.Unlock()
	n := 0
	for i := c.queues[p].head; i != nil_idx; i = c.m.strand(i).qnext {
		n++
	}
	return n
}

func (m *Machine_t) String() string {
	s := fmt.Sprintf("machine: %v cpus, tick %v\n", len(m.cpus), m.Tick())
	m.Registry.Iter(func(tid defs.Tid_t, v interface{}) bool {
		st := v.(*Strand_t)
		s += fmt.Sprintf("\t%v %v %v prio %v/%v cpu %v\n", tid,
			st.Name, st.State, st.Baseprio, st.Effprio(), st.cpun)
		return false
	})
	return s
}
