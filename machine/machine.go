// Package machine is the substrate's view of the hardware. drivers are
// written against these interfaces the way the rest of the tree would talk
// to a raw bus; the default implementation is an emulated board so the
// substrate runs and tests hosted.
package machine

// byte-wide port i/o
type Portio_i interface {
	Inb(port uint16) uint8
	Outb(port uint16, v uint8)
}

// 32-bit aligned MMIO
type Mmio_i interface {
	Load32(addr uint64) uint32
	Store32(addr uint64, v uint32)
}

type Msr_i interface {
	Rdmsr(r uint32) uint64
	Wrmsr(r uint32, v uint64)
}

// model specific registers
const (
	IA32_APIC_BASE = 0x1b
)

// well-known port numbers
const (
	PORT_PIC1_CMD  = 0x20
	PORT_PIC1_DATA = 0x21
	PORT_PIC2_CMD  = 0xa0
	PORT_PIC2_DATA = 0xa1
	PORT_PIT_CH0   = 0x40
	PORT_PIT_CMD   = 0x43
	PORT_POST      = 0x80
)

// Board_t wires the emulated devices onto one bus.
type Board_t struct {
	Pic1  *Pic8259_t
	Pic2  *Pic8259_t
	Pit   *Pit_t
	Lapic *Lapicpage_t

	msrs map[uint32]uint64
}

func MkBoard() *Board_t {
	b := &Board_t{
		Pic1: MkPic8259(true),
		Pic2: MkPic8259(false),
		Pit:  MkPit(),
		msrs: make(map[uint32]uint64),
	}
	b.Lapic = MkLapicpage(b.Pit)
	// APIC globally enabled at the default base, as firmware leaves it
	b.msrs[IA32_APIC_BASE] = LAPIC_DEFAULT_BASE | 1<<11 | 1<<8
	return b
}

func (b *Board_t) Inb(port uint16) uint8 {
	switch port {
	case PORT_PIC1_CMD, PORT_PIC1_DATA:
		return b.Pic1.inb(port - PORT_PIC1_CMD)
	case PORT_PIC2_CMD, PORT_PIC2_DATA:
		return b.Pic2.inb(port - PORT_PIC2_CMD)
	case PORT_PIT_CH0, PORT_PIT_CMD:
		// polling the PIT is what passes emulated time
		b.advance(pollns)
		return b.Pit.inb(port)
	case PORT_POST:
		return 0
	}
	return 0xff
}

func (b *Board_t) Outb(port uint16, v uint8) {
	switch port {
	case PORT_PIC1_CMD, PORT_PIC1_DATA:
		b.Pic1.outb(port-PORT_PIC1_CMD, v)
	case PORT_PIC2_CMD, PORT_PIC2_DATA:
		b.Pic2.outb(port-PORT_PIC2_CMD, v)
	case PORT_PIT_CH0, PORT_PIT_CMD:
		b.Pit.outb(port, v)
	case PORT_POST:
		// write-only delay port
	}
}

func (b *Board_t) Load32(addr uint64) uint32 {
	if b.Lapic.owns(addr) {
		return b.Lapic.load32(addr)
	}
	return 0xffffffff
}

func (b *Board_t) Store32(addr uint64, v uint32) {
	if b.Lapic.owns(addr) {
		b.Lapic.store32(addr, v)
	}
}

func (b *Board_t) Rdmsr(r uint32) uint64 {
	return b.msrs[r]
}

func (b *Board_t) Wrmsr(r uint32, v uint64) {
	b.msrs[r] = v
}

// CPUID.1 EDX bit 9: on-chip APIC
func (b *Board_t) Cpuid(ax, cx uint32) (uint32, uint32, uint32, uint32) {
	switch ax {
	case 0:
		return 0x16, 0, 0, 0
	case 1:
		return 0x000306a9, 0, 0, 1 << 9
	}
	return 0, 0, 0, 0
}

// virtual nanoseconds advanced per PIT status poll
const pollns = 1000

func (b *Board_t) advance(ns int64) {
	b.Pit.advance(ns)
	b.Lapic.advance(ns)
}
