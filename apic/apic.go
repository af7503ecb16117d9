// Package apic drives the per-CPU local APIC: software enable, timer
// calibration against the PIT, periodic/one-shot timer modes, IPIs and EOI.
package apic

import "fmt"

import "seraph/machine"

const apic_debug bool = false

func dbg(f string, args ...interface{}) {
	if apic_debug {
		fmt.Printf(f, args...)
	}
}

// documented fallback when PIT calibration fails and the caller tolerates
// an estimate: assume a 1 GHz timer clock.
const FALLBACK_HZ uint64 = 1_000_000_000

// spurious interrupts land on the highest vector
const SPURIOUS_VECTOR = 0xff

type Destmode_t int

const (
	DEST_SINGLE Destmode_t = iota
	DEST_SELF
	DEST_ALL
	DEST_ALL_BUT_SELF
)

type Apic_t struct {
	io   machine.Portio_i
	mmio machine.Mmio_i
	msr  machine.Msr_i
	base uint64
	// calibrated timer ticks per second before division; zero means
	// calibration failed
	Freq uint64
}

func MkApic(io machine.Portio_i, mmio machine.Mmio_i, msr machine.Msr_i) *Apic_t {
	return &Apic_t{io: io, mmio: mmio, msr: msr}
}

// Available checks CPUID.1 EDX bit 9.
func Available(cpuid func(uint32, uint32) (uint32, uint32, uint32, uint32)) bool {
	_, _, _, dx := cpuid(1, 0)
	return dx&(1<<9) != 0
}

func (ap *Apic_t) reg_read(off uint64) uint32 {
	if off&3 != 0 {
		panic("bad apic reg")
	}
	return ap.mmio.Load32(ap.base + off)
}

func (ap *Apic_t) reg_write(off uint64, v uint32) {
	if off&3 != 0 {
		panic("bad apic reg")
	}
	ap.mmio.Store32(ap.base+off, v)
}

func (ap *Apic_t) Id() uint32 {
	return ap.reg_read(machine.LAPIC_ID) >> 24
}

// Init enables the APIC and leaves it quiet: spurious vector programmed,
// TPR zero, every LVT masked, ESR clear, timer calibrated. must run before
// any timer or IPI use.
func (ap *Apic_t) Init() {
	msrv := ap.msr.Rdmsr(machine.IA32_APIC_BASE)
	ap.base = msrv &^ 0xfff
	// global enable
	ap.msr.Wrmsr(machine.IA32_APIC_BASE, msrv|1<<11)

	// software enable + spurious vector
	ap.reg_write(machine.LAPIC_SPURIOUS, 1<<8|SPURIOUS_VECTOR)
	// accept everything
	ap.reg_write(machine.LAPIC_TPR, 0)
	// mask all LVT entries until a driver asks for one
	for _, r := range []uint64{machine.LAPIC_LVT_TIMER,
		machine.LAPIC_LVT_THERMAL, machine.LAPIC_LVT_PERF,
		machine.LAPIC_LVT_LINT0, machine.LAPIC_LVT_LINT1,
		machine.LAPIC_LVT_ERROR} {
		ap.reg_write(r, machine.LVT_MASKED)
	}
	// ESR: write twice to latch then clear
	ap.reg_write(machine.LAPIC_ESR, 0)
	ap.reg_write(machine.LAPIC_ESR, 0)

	ap.Freq = ap.Calibrate()
	dbg("lapic id %v timer freq %v\n", ap.Id(), ap.Freq)
}

// pit ticks for the ~10ms calibration window
const calib_pit_ticks uint16 = 11932

// Calibrate measures the timer clock against PIT channel 0: run the APIC
// timer from 0xffffffff with divide-by-16 for one PIT one-shot of 11932
// ticks (~10ms at 1.193182 MHz), then scale the consumed ticks back to a
// frequency. returns 0 when the PIT never fires.
func (ap *Apic_t) Calibrate() uint64 {
	io := ap.io

	// PIT channel 0, lobyte/hibyte, mode 0 one-shot
	io.Outb(machine.PORT_PIT_CMD, 0x30)
	io.Outb(machine.PORT_PIT_CH0, uint8(calib_pit_ticks&0xff))
	io.Outb(machine.PORT_PIT_CH0, uint8(calib_pit_ticks>>8))

	// free-running APIC timer, masked, divide by 16
	ap.reg_write(machine.LAPIC_TIMER_DIV, 0x3)
	ap.reg_write(machine.LAPIC_LVT_TIMER, machine.LVT_MASKED)
	ap.reg_write(machine.LAPIC_TIMER_INIT, 0xffffffff)

	// poll until the PIT output goes high
	fired := false
	for i := 0; i < 1000000; i++ {
		// read-back command latches channel 0 status
		io.Outb(machine.PORT_PIT_CMD, 0xe2)
		st := io.Inb(machine.PORT_PIT_CH0)
		if st&(1<<7) != 0 {
			fired = true
			break
		}
	}

	cur := ap.reg_read(machine.LAPIC_TIMER_CUR)
	// stop the timer
	ap.reg_write(machine.LAPIC_TIMER_INIT, 0)
	if !fired {
		return 0
	}

	elapsed := uint64(0xffffffff - cur)
	return elapsed * machine.PIT_HZ * 16 / uint64(calib_pit_ticks)
}

// Timer_start programs a periodic timer at rate interrupts per second on
// the given vector. panics if calibration failed; callers that can proceed
// degraded should substitute FALLBACK_HZ themselves beforehand.
func (ap *Apic_t) Timer_start(vector uint8, rate uint64) {
	if ap.Freq == 0 {
		panic("apic timer not calibrated")
	}
	if rate == 0 {
		panic("bad rate")
	}
	count := ap.Freq / (rate * 16)
	if count == 0 {
		count = 1
	}
	ap.reg_write(machine.LAPIC_TIMER_DIV, 0x3)
	ap.reg_write(machine.LAPIC_LVT_TIMER,
		machine.LVT_PERIODIC|uint32(vector))
	ap.reg_write(machine.LAPIC_TIMER_INIT, uint32(count))
}

// Timer_oneshot arms a single expiry after ticks timer ticks.
func (ap *Apic_t) Timer_oneshot(vector uint8, ticks uint32) {
	ap.reg_write(machine.LAPIC_TIMER_DIV, 0x3)
	ap.reg_write(machine.LAPIC_LVT_TIMER, uint32(vector))
	ap.reg_write(machine.LAPIC_TIMER_INIT, ticks)
}

func (ap *Apic_t) Timer_stop() {
	ap.reg_write(machine.LAPIC_LVT_TIMER, machine.LVT_MASKED)
	ap.reg_write(machine.LAPIC_TIMER_INIT, 0)
}

// Send_ipi writes ICR high (destination) before ICR low; the write to the
// low half triggers delivery.
func (ap *Apic_t) Send_ipi(dest uint32, vector uint8, mode Destmode_t) {
	var shorthand uint32
	switch mode {
	case DEST_SINGLE:
		shorthand = 0
	case DEST_SELF:
		shorthand = 1
	case DEST_ALL:
		shorthand = 2
	case DEST_ALL_BUT_SELF:
		shorthand = 3
	default:
		panic("bad dest mode")
	}
	ap.reg_write(machine.LAPIC_ICR_HI, dest<<24)
	low := shorthand<<18 | 1<<14 | uint32(vector)
	ap.reg_write(machine.LAPIC_ICR_LO, low)
}

// Ipi_wait polls the delivery status bit.
func (ap *Apic_t) Ipi_wait() {
	for ap.reg_read(machine.LAPIC_ICR_LO)&machine.ICR_DELIV_STATUS != 0 {
	}
}

func (ap *Apic_t) Eoi() {
	ap.reg_write(machine.LAPIC_EOI, 0)
}
