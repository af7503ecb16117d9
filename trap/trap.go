package trap

import "fmt"

import "seraph/defs"
import "seraph/stats"

const trap_debug bool = false

func dbg(f string, args ...interface{}) {
	if trap_debug {
		fmt.Printf(f, args...)
	}
}

// exception classes. every vector below defs.NEXCEPTIONS belongs to
// exactly one.
type Class_t int

const (
	CL_BENIGN Class_t = iota
	CL_RECOVERABLE
	CL_ROUTABLE
	CL_FATAL
	CL_IGNORED
)

func (c Class_t) String() string {
	switch c {
	case CL_BENIGN:
		return "benign"
	case CL_RECOVERABLE:
		return "recoverable"
	case CL_ROUTABLE:
		return "routable"
	case CL_FATAL:
		return "fatal"
	case CL_IGNORED:
		return "ignored"
	}
	return "?"
}

var classes = func() [defs.NEXCEPTIONS]Class_t {
	var c [defs.NEXCEPTIONS]Class_t
	// reserved vectors default to ignored
	for i := range c {
		c[i] = CL_IGNORED
	}
	c[defs.V_DB] = CL_BENIGN
	c[defs.V_BP] = CL_BENIGN
	c[defs.V_NM] = CL_BENIGN
	c[defs.V_DE] = CL_RECOVERABLE
	c[defs.V_OF] = CL_RECOVERABLE
	c[defs.V_BR] = CL_RECOVERABLE
	c[defs.V_MF] = CL_RECOVERABLE
	c[defs.V_XM] = CL_RECOVERABLE
	c[defs.V_PF] = CL_ROUTABLE
	c[defs.V_VE] = CL_ROUTABLE
	c[defs.V_VC] = CL_ROUTABLE
	c[defs.V_HV] = CL_ROUTABLE
	c[defs.V_NMI] = CL_FATAL
	c[defs.V_UD] = CL_FATAL
	c[defs.V_DF] = CL_FATAL
	c[defs.V_TS] = CL_FATAL
	c[defs.V_NP] = CL_FATAL
	c[defs.V_SS] = CL_FATAL
	c[defs.V_GP] = CL_FATAL
	c[defs.V_AC] = CL_FATAL
	c[defs.V_MC] = CL_FATAL
	c[defs.V_CP] = CL_FATAL
	c[defs.V_SX] = CL_FATAL
	return c
}()

func Classify(vector int) Class_t {
	if vector < 0 || vector >= defs.NEXCEPTIONS {
		panic("not an exception vector")
	}
	return classes[vector]
}

// a vector handler edits the frame in place. returning VBIT_TRUE means
// the trap is handled and the strand resumes; anything else falls
// through to the class default.
type Handler_t func(tf *defs.Tf_t) defs.Vbit_t

// the single page-fault slot registered by the vmm
type Pfhand_t func(addr, ecode uint64, tf *defs.Tf_t) defs.Vbit_t

type Tstats_t struct {
	Nvoidinj stats.Counter_t
	Nbenign  stats.Counter_t
	Nrouted  stats.Counter_t
	Nfatal   stats.Counter_t
	Nignored stats.Counter_t
}

type Dispatch_t struct {
	handlers [defs.NVECTORS]Handler_t
	pfhand   Pfhand_t
	// Fetch reads up to max instruction bytes at rip. nil means the
	// divide decoder cannot run and the fallback length is used.
	Fetch func(rip uint64, max int) []uint8
	// Cr2 supplies the faulting address for page faults
	Cr2      func() uint64
	Fpuclear func()
	// Terminate kills the current sovereign on a fatal vector. left
	// nil, a fatal vector panics instead.
	Terminate func(vector uint64, tf *defs.Tf_t)
	Tick      func() uint64
	Log       Clog_t
	Tstats    Tstats_t
}

func MkDispatch() *Dispatch_t {
	d := &Dispatch_t{}
	d.Log.cl_init(clog_len)
	return d
}

func (d *Dispatch_t) Install(vector int, h Handler_t) {
	if vector < 0 || vector >= defs.NVECTORS {
		panic("bad vector")
	}
	d.handlers[vector] = h
}

func (d *Dispatch_t) Uninstall(vector int) {
	d.handlers[vector] = nil
}

func (d *Dispatch_t) Install_pfhandler(h Pfhand_t) {
	d.pfhand = h
}

func (d *Dispatch_t) tick() uint64 {
	if d.Tick != nil {
		return d.Tick()
	}
	return 0
}

// Trap is the common dispatcher behind every stub. the frame is shared
// with the return path, so register edits here are live.
func (d *Dispatch_t) Trap(tf *defs.Tf_t) {
	trapno := tf[defs.TF_TRAP]
	if trapno >= defs.NVECTORS {
		panic("impossible trap number")
	}
	stats.Irqs++
	stats.Nirqs[trapno]++

	if h := d.handlers[trapno]; h != nil {
		if h(tf) == defs.VBIT_TRUE {
			return
		}
	}
	if trapno >= defs.IRQ_BASE {
		// no registered handler for this irq
		dbg("dropped irq %v\n", trapno)
		d.Tstats.Nignored.Inc()
		return
	}

	switch Classify(int(trapno)) {
	case CL_BENIGN:
		d.Tstats.Nbenign.Inc()
	case CL_RECOVERABLE:
		d.recover_(trapno, tf)
	case CL_ROUTABLE:
		d.route(trapno, tf)
	case CL_FATAL:
		d.fatal(trapno, tf)
	case CL_IGNORED:
		dbg("reserved vector %v\n", trapno)
		d.Tstats.Nignored.Inc()
	}
}

// the divide decoder may fail on garbage bytes; skip the opcode and
// modrm and hope for the best.
const de_fallback_len = 2

// BOUND is opcode + modrm. it cannot take a register operand, so a
// memory form with sib or displacement is decoded short here. INTO and
// BOUND do not exist in 64-bit mode anyway; this path serves
// compatibility segments.
const br_len = 2

func (d *Dispatch_t) recover_(trapno uint64, tf *defs.Tf_t) {
	var skip uint64
	val := uint64(defs.VOID_U64)
	switch trapno {
	case defs.V_DE:
		skip = de_fallback_len
		if d.Fetch != nil {
			insn := d.Fetch(tf[defs.TF_RIP], 15)
			if n, ok := Divlen(insn); ok {
				skip = n
			}
		}
		tf[defs.TF_RAX] = defs.VOID_U64
		tf[defs.TF_RDX] = defs.VOID_U64
	case defs.V_OF:
		// INTO is a single byte
		skip = 1
	case defs.V_BR:
		skip = br_len
	case defs.V_MF, defs.V_XM:
		// clear the sticky fp exception state and retry the same
		// instruction
		if d.Fpuclear != nil {
			d.Fpuclear()
		}
		val = 0
	default:
		panic("not recoverable")
	}
	tf[defs.TF_RIP] += skip
	d.Tstats.Nvoidinj.Inc()
	d.Log.Append(Cent_t{
		Vector: trapno,
		Rip:    tf[defs.TF_RIP] - skip,
		Value:  val,
		Tick:   d.tick(),
	})
}

func (d *Dispatch_t) route(trapno uint64, tf *defs.Tf_t) {
	if trapno == defs.V_PF && d.pfhand != nil {
		var addr uint64
		if d.Cr2 != nil {
			addr = d.Cr2()
		}
		if d.pfhand(addr, tf[defs.TF_ERROR], tf) == defs.VBIT_TRUE {
			d.Tstats.Nrouted.Inc()
			return
		}
	}
	// no handler, or the handler could not resolve it
	d.fatal(trapno, tf)
}

func (d *Dispatch_t) fatal(trapno uint64, tf *defs.Tf_t) {
	d.Tstats.Nfatal.Inc()
	d.Log.Append(Cent_t{
		Vector: trapno,
		Rip:    tf[defs.TF_RIP],
		Value:  tf[defs.TF_ERROR],
		Tick:   d.tick(),
	})
	if d.Terminate == nil {
		panic(fmt.Sprintf("fatal trap %v at %#x (err %#x)", trapno,
			tf[defs.TF_RIP], tf[defs.TF_ERROR]))
	}
	d.Terminate(trapno, tf)
}
