package machine

// emulated 8254 channel 0, mode 0 (interrupt on terminal count). the APIC
// driver uses it only as a one-shot reference for timer calibration.
const PIT_HZ = 1193182

type Pit_t struct {
	// countdown in PIT ticks; output goes high when it reaches zero
	count   int64
	running bool
	out     bool
	// lobyte/hibyte load state
	loaded  uint16
	explohi int
	// whether the next ch0 read returns the latched status byte
	statuslatch bool
	// fractional tick remainder in nanoseconds
	fracns int64
}

func MkPit() *Pit_t {
	return &Pit_t{}
}

func (pt *Pit_t) outb(port uint16, v uint8) {
	if port == PORT_PIT_CMD {
		if v&0xc0 == 0xc0 {
			// read-back command; latch status for channel 0
			if v&0x02 != 0 {
				pt.statuslatch = true
			}
			return
		}
		if v>>6 == 0 {
			// channel 0 control word: lobyte/hibyte, mode in bits 1-3
			pt.explohi = 0
			pt.running = false
			pt.out = false
		}
		return
	}
	// channel 0 data port: reload value, low byte then high byte
	if pt.explohi == 0 {
		pt.loaded = uint16(v)
		pt.explohi = 1
	} else {
		pt.loaded |= uint16(v) << 8
		pt.explohi = 0
		pt.count = int64(pt.loaded)
		pt.running = true
		pt.out = false
		pt.fracns = 0
	}
}

func (pt *Pit_t) inb(port uint16) uint8 {
	if port != PORT_PIT_CH0 {
		return 0
	}
	if pt.statuslatch {
		pt.statuslatch = false
		var st uint8
		if pt.out {
			st |= 1 << 7
		}
		return st
	}
	return uint8(pt.count)
}

func (pt *Pit_t) advance(ns int64) {
	if !pt.running {
		return
	}
	pt.fracns += ns
	ticks := pt.fracns * PIT_HZ / 1e9
	pt.fracns -= ticks * 1e9 / PIT_HZ
	pt.count -= ticks
	if pt.count <= 0 {
		pt.count = 0
		pt.out = true
		pt.running = false
	}
}
