package apic

import "testing"

import "seraph/machine"

func mkapic() (*Apic_t, *machine.Board_t) {
	b := machine.MkBoard()
	ap := MkApic(b, b, b)
	ap.Init()
	return ap, b
}

func TestAvailable(t *testing.T) {
	b := machine.MkBoard()
	if !Available(b.Cpuid) {
		t.Fatalf("apic not available")
	}
}

func TestCalibration(t *testing.T) {
	ap, _ := mkapic()
	if ap.Freq == 0 {
		t.Fatalf("calibration failed")
	}
	// the emulated bus clock is exactly 100 MHz; calibration against the
	// PIT should land within 1%
	lo := uint64(machine.LAPIC_BUS_HZ) * 99 / 100
	hi := uint64(machine.LAPIC_BUS_HZ) * 101 / 100
	if ap.Freq < lo || ap.Freq > hi {
		t.Fatalf("freq %v", ap.Freq)
	}
}

func TestPeriodicTimer(t *testing.T) {
	ap, b := mkapic()
	ap.Timer_start(32, 1000)

	fired0 := b.Lapic.Timerfired
	// ~5ms of emulated time via PIT status polls
	for i := 0; i < 5000; i++ {
		b.Outb(machine.PORT_PIT_CMD, 0xe2)
		b.Inb(machine.PORT_PIT_CH0)
	}
	fired := b.Lapic.Timerfired - fired0
	if fired < 3 || fired > 7 {
		t.Fatalf("1000Hz for 5ms fired %v", fired)
	}

	ap.Timer_stop()
	stopped := b.Lapic.Timerfired
	for i := 0; i < 5000; i++ {
		b.Inb(machine.PORT_PIT_CH0)
	}
	if b.Lapic.Timerfired != stopped {
		t.Fatalf("timer still firing after stop")
	}
}

func TestOneshot(t *testing.T) {
	ap, b := mkapic()
	// 6250 ticks at 100MHz/16 is 1ms
	ap.Timer_oneshot(48, 6250)
	for i := 0; i < 3000; i++ {
		b.Inb(machine.PORT_PIT_CH0)
	}
	if b.Lapic.Timerfired != 1 {
		t.Fatalf("oneshot fired %v times", b.Lapic.Timerfired)
	}
}

func TestIpi(t *testing.T) {
	ap, b := mkapic()
	ap.Send_ipi(3, 0xf0, DEST_SINGLE)
	ap.Ipi_wait()
	if len(b.Lapic.Ipis) != 1 {
		t.Fatalf("ipis %v", len(b.Lapic.Ipis))
	}
	ipi := b.Lapic.Ipis[0]
	if ipi.Dest != 3 || ipi.Vector != 0xf0 {
		t.Fatalf("ipi %+v", ipi)
	}

	ap.Send_ipi(0, 0xf1, DEST_ALL_BUT_SELF)
	if got := b.Lapic.Ipis[1].Low >> 18 & 3; got != 3 {
		t.Fatalf("shorthand %v", got)
	}
}

func TestEoi(t *testing.T) {
	ap, b := mkapic()
	n := b.Lapic.Eois
	ap.Eoi()
	if b.Lapic.Eois != n+1 {
		t.Fatalf("eoi not delivered")
	}
}
