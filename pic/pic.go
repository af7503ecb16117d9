// Package pic drives the legacy 8259 pair. after remap the master's IRQs
// land at vectors 32..39 and the slave's at 40..47; everything except the
// cascade line starts masked because the APIC timer is the only interrupt
// source the substrate relies on.
package pic

import "fmt"

import "seraph/defs"
import "seraph/machine"

const pic_debug bool = false

func dbg(f string, args ...interface{}) {
	if pic_debug {
		fmt.Printf(f, args...)
	}
}

const (
	icw1_init_icw4 = 0x11
	icw3_master    = 1 << defs.IRQ_CASCADE
	icw3_slave     = 2
	icw4_8086      = 0x01

	cmd_eoi      = 0x20
	cmd_read_irr = 0x0a
	cmd_read_isr = 0x0b
)

type Pic_t struct {
	io machine.Portio_i
	// counts swallowed spurious IRQ 7/15
	Spurious int64
}

func MkPic(io machine.Portio_i) *Pic_t {
	return &Pic_t{io: io}
}

// io_wait gives the 8259 time to settle between ICWs on old hardware.
func (p *Pic_t) io_wait() {
	p.io.Outb(machine.PORT_POST, 0)
}

// Remap runs the full initialization sequence and leaves every line except
// the cascade masked.
func (p *Pic_t) Remap() {
	io := p.io

	// ICW1: begin init, cascade mode, expect ICW4
	io.Outb(machine.PORT_PIC1_CMD, icw1_init_icw4)
	p.io_wait()
	io.Outb(machine.PORT_PIC2_CMD, icw1_init_icw4)
	p.io_wait()
	// ICW2: vector offsets
	io.Outb(machine.PORT_PIC1_DATA, defs.IRQ_BASE)
	p.io_wait()
	io.Outb(machine.PORT_PIC2_DATA, defs.IRQ_BASE+8)
	p.io_wait()
	// ICW3: master has the slave on IRQ2; slave identity is 2
	io.Outb(machine.PORT_PIC1_DATA, icw3_master)
	p.io_wait()
	io.Outb(machine.PORT_PIC2_DATA, icw3_slave)
	p.io_wait()
	// ICW4: 8086 mode
	io.Outb(machine.PORT_PIC1_DATA, icw4_8086)
	p.io_wait()
	io.Outb(machine.PORT_PIC2_DATA, icw4_8086)
	p.io_wait()

	// mask everything but the cascade
	io.Outb(machine.PORT_PIC1_DATA, 0xff&^uint8(1<<defs.IRQ_CASCADE))
	io.Outb(machine.PORT_PIC2_DATA, 0xff)
	dbg("pic remapped to %v..%v\n", defs.IRQ_BASE, defs.IRQ_BASE+15)
}

func (p *Pic_t) Mask(irq int) {
	port, line := p.route(irq)
	v := p.io.Inb(port)
	p.io.Outb(port, v|1<<line)
}

func (p *Pic_t) Unmask(irq int) {
	port, line := p.route(irq)
	v := p.io.Inb(port)
	p.io.Outb(port, v&^(1<<line))
	if irq >= 8 {
		// the cascade must be open for slave lines
		v := p.io.Inb(machine.PORT_PIC1_DATA)
		p.io.Outb(machine.PORT_PIC1_DATA, v&^uint8(1<<defs.IRQ_CASCADE))
	}
}

func (p *Pic_t) route(irq int) (uint16, uint) {
	if irq < 0 || irq > defs.IRQ_LAST {
		panic("bad irq")
	}
	if irq < 8 {
		return machine.PORT_PIC1_DATA, uint(irq)
	}
	return machine.PORT_PIC2_DATA, uint(irq - 8)
}

// Eoi acknowledges irq: slave first for lines 8..15, always the master.
func (p *Pic_t) Eoi(irq int) {
	if irq < 0 || irq > defs.IRQ_LAST {
		panic("bad irq")
	}
	if irq >= 8 {
		p.io.Outb(machine.PORT_PIC2_CMD, cmd_eoi)
	}
	p.io.Outb(machine.PORT_PIC1_CMD, cmd_eoi)
}

func (p *Pic_t) isr(slave bool) uint8 {
	port := uint16(machine.PORT_PIC1_CMD)
	if slave {
		port = machine.PORT_PIC2_CMD
	}
	p.io.Outb(port, cmd_read_isr)
	return p.io.Inb(port)
}

// Is_spurious detects the 8259's phantom IRQ 7/15: the line fired but the
// in-service bit never set. spurious interrupts are swallowed without EOI,
// except a spurious slave IRQ still needs the master EOI for the cascade.
func (p *Pic_t) Is_spurious(irq int) bool {
	switch irq {
	case defs.IRQ_SPUR_MASTER:
		if p.isr(false)&(1<<7) == 0 {
			p.Spurious++
			return true
		}
	case defs.IRQ_SPUR_SLAVE:
		if p.isr(true)&(1<<7) == 0 {
			p.Spurious++
			p.io.Outb(machine.PORT_PIC1_CMD, cmd_eoi)
			return true
		}
	}
	return false
}
