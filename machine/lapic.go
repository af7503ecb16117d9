package machine

// emulated local APIC register page. the timer counts against a fixed
// emulated bus clock so calibration against the PIT recovers LAPIC_BUS_HZ.
const (
	LAPIC_DEFAULT_BASE uint64 = 0xfee00000
	LAPIC_BUS_HZ              = 100000000

	LAPIC_ID          = 0x20
	LAPIC_VERSION     = 0x30
	LAPIC_TPR         = 0x80
	LAPIC_EOI         = 0xb0
	LAPIC_SPURIOUS    = 0xf0
	LAPIC_ESR         = 0x280
	LAPIC_ICR_LO      = 0x300
	LAPIC_ICR_HI      = 0x310
	LAPIC_LVT_TIMER   = 0x320
	LAPIC_LVT_THERMAL = 0x330
	LAPIC_LVT_PERF    = 0x340
	LAPIC_LVT_LINT0   = 0x350
	LAPIC_LVT_LINT1   = 0x360
	LAPIC_LVT_ERROR   = 0x370
	LAPIC_TIMER_INIT  = 0x380
	LAPIC_TIMER_CUR   = 0x390
	LAPIC_TIMER_DIV   = 0x3e0

	LVT_MASKED       = 1 << 16
	LVT_PERIODIC     = 1 << 17
	ICR_DELIV_STATUS = 1 << 12
)

// one delivered inter-processor interrupt
type Ipi_t struct {
	Dest   uint8
	Vector uint8
	Low    uint32
}

type Lapicpage_t struct {
	regs [1024]uint32
	pit  *Pit_t

	// timer countdown fractional remainder
	fracns int64

	// observable side effects for tests and the kernel monitor
	Ipis       []Ipi_t
	Eois       int64
	Timerfired int64
}

func MkLapicpage(pit *Pit_t) *Lapicpage_t {
	lp := &Lapicpage_t{pit: pit}
	lp.regs[LAPIC_VERSION/4] = 0x14
	// all LVTs reset masked
	for _, r := range []int{LAPIC_LVT_TIMER, LAPIC_LVT_THERMAL,
		LAPIC_LVT_PERF, LAPIC_LVT_LINT0, LAPIC_LVT_LINT1, LAPIC_LVT_ERROR} {
		lp.regs[r/4] = LVT_MASKED
	}
	return lp
}

func (lp *Lapicpage_t) owns(addr uint64) bool {
	return addr >= LAPIC_DEFAULT_BASE && addr < LAPIC_DEFAULT_BASE+4096
}

func (lp *Lapicpage_t) load32(addr uint64) uint32 {
	off := addr - LAPIC_DEFAULT_BASE
	if off&3 != 0 {
		panic("unaligned lapic access")
	}
	return lp.regs[off/4]
}

func (lp *Lapicpage_t) store32(addr uint64, v uint32) {
	off := addr - LAPIC_DEFAULT_BASE
	if off&3 != 0 {
		panic("unaligned lapic access")
	}
	switch off {
	case LAPIC_EOI:
		lp.Eois++
		return
	case LAPIC_ESR:
		// writing ESR latches then clears it
		lp.regs[LAPIC_ESR/4] = 0
		return
	case LAPIC_ICR_LO:
		hi := lp.regs[LAPIC_ICR_HI/4]
		lp.Ipis = append(lp.Ipis, Ipi_t{
			Dest:   uint8(hi >> 24),
			Vector: uint8(v),
			Low:    v,
		})
		// delivery completes immediately in the model
		lp.regs[LAPIC_ICR_LO/4] = v &^ ICR_DELIV_STATUS
		return
	case LAPIC_TIMER_INIT:
		lp.regs[LAPIC_TIMER_INIT/4] = v
		lp.regs[LAPIC_TIMER_CUR/4] = v
		lp.fracns = 0
		return
	case LAPIC_TIMER_CUR:
		// read only
		return
	}
	lp.regs[off/4] = v
}

func (lp *Lapicpage_t) divide() int64 {
	enc := lp.regs[LAPIC_TIMER_DIV/4] & 0xb
	// bits 0,1,3 select the divisor
	switch enc {
	case 0x0:
		return 2
	case 0x1:
		return 4
	case 0x2:
		return 8
	case 0x3:
		return 16
	case 0x8:
		return 32
	case 0x9:
		return 64
	case 0xa:
		return 128
	case 0xb:
		return 1
	}
	panic("bad divide encoding")
}

func (lp *Lapicpage_t) advance(ns int64) {
	cur := int64(lp.regs[LAPIC_TIMER_CUR/4])
	if cur == 0 {
		return
	}
	hz := LAPIC_BUS_HZ / lp.divide()
	lp.fracns += ns
	ticks := lp.fracns * hz / 1e9
	lp.fracns -= ticks * 1e9 / hz
	cur -= ticks
	for cur <= 0 {
		lvt := lp.regs[LAPIC_LVT_TIMER/4]
		if lvt&LVT_MASKED == 0 {
			lp.Timerfired++
		}
		if lvt&LVT_PERIODIC == 0 {
			cur = 0
			break
		}
		reload := int64(lp.regs[LAPIC_TIMER_INIT/4])
		if reload == 0 {
			cur = 0
			break
		}
		// every elapsed period fires, however large the step
		cur += reload
	}
	lp.regs[LAPIC_TIMER_CUR/4] = uint32(cur)
}
