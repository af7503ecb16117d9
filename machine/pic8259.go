package machine

// emulated 8259A. enough of the device to satisfy the driver: the four ICW
// initialization words, IMR reads/writes, the EOI command, and OCW3 reads of
// IRR/ISR for spurious detection.
type Pic8259_t struct {
	master bool
	// init sequence progress. 0 = not initializing, 1..3 = expecting
	// ICW2..ICW4 on the data port.
	icwstate int
	icw4     bool
	Offset   uint8
	Imr      uint8
	Irr      uint8
	Isr      uint8
	// which register the next command-port read returns
	readisr bool
}

func MkPic8259(master bool) *Pic8259_t {
	return &Pic8259_t{master: master, Imr: 0xff}
}

func (p *Pic8259_t) outb(reg uint16, v uint8) {
	if reg == 0 {
		// command port
		if v&0x10 != 0 {
			// ICW1
			p.icwstate = 1
			p.icw4 = v&0x01 != 0
			p.Imr = 0
			p.Irr = 0
			p.Isr = 0
			return
		}
		switch v {
		case 0x20:
			// non-specific EOI: clear highest in-service bit
			for i := 0; i < 8; i++ {
				if p.Isr&(1<<i) != 0 {
					p.Isr &^= 1 << i
					break
				}
			}
		case 0x0a:
			p.readisr = false
		case 0x0b:
			p.readisr = true
		}
		return
	}
	// data port
	switch p.icwstate {
	case 1:
		p.Offset = v
		p.icwstate = 2
	case 2:
		// ICW3: cascade topology; the model keeps only the wiring fact
		p.icwstate = 3
		if !p.icw4 {
			p.icwstate = 0
		}
	case 3:
		// ICW4: 8086 mode
		p.icwstate = 0
	default:
		p.Imr = v
	}
}

func (p *Pic8259_t) inb(reg uint16) uint8 {
	if reg == 1 {
		return p.Imr
	}
	if p.readisr {
		return p.Isr
	}
	return p.Irr
}

// Raise asserts an interrupt line on this chip (line 0..7).
func (p *Pic8259_t) Raise(line int) {
	p.Irr |= 1 << line
}

// Ack simulates the CPU's interrupt acknowledge cycle for a line.
func (p *Pic8259_t) Ack(line int) {
	p.Irr &^= 1 << line
	p.Isr |= 1 << line
}
