// Package idt builds the 256-entry long mode interrupt descriptor table.
package idt

import "seraph/defs"

// 16-byte long mode gate
type Gate_t struct {
	Off_low  uint16
	Selector uint16
	Ist      uint8
	Typeattr uint8
	Off_mid  uint16
	Off_high uint32
	Reserved uint32
}

type Idtr_t struct {
	Limit uint16
	Base  uint64
}

const (
	// typeattr = present | dpl | gate type
	gate_intr uint8 = 0x8e // IF cleared on entry
	gate_trap uint8 = 0x8f
	dpl3      uint8 = 0x60

	// the double fault handler runs on its own known-good stack
	IST_DF = 1
)

type Idt_t struct {
	gates [defs.NVECTORS]Gate_t
}

func mkgate(stub uint64, typeattr uint8, ist uint8) Gate_t {
	return Gate_t{
		Off_low:  uint16(stub),
		Off_mid:  uint16(stub >> 16),
		Off_high: uint32(stub >> 32),
		Selector: defs.SEG_KCODE,
		Ist:      ist & 0x7,
		Typeattr: typeattr,
	}
}

// Build fills the table. stub maps a vector to its entry stub's address.
// exception vectors are trap gates; hardware IRQ vectors are interrupt
// gates so IF is cleared on entry; everything else lands on a generic stub.
func Build(stub func(vector int) uint64) *Idt_t {
	it := &Idt_t{}
	for v := 0; v < defs.NVECTORS; v++ {
		s := stub(v)
		switch {
		case v < defs.NEXCEPTIONS:
			ta := gate_trap
			ist := uint8(0)
			if v == defs.V_DF {
				ist = IST_DF
			}
			if v == defs.V_BP || v == defs.V_OF {
				// user callable
				ta |= dpl3
			}
			it.gates[v] = mkgate(s, ta, ist)
		case v >= defs.IRQ_BASE && v <= defs.IRQ_BASE+defs.IRQ_LAST:
			it.gates[v] = mkgate(s, gate_intr, 0)
		default:
			it.gates[v] = mkgate(s, gate_intr, 0)
		}
	}
	return it
}

func (it *Idt_t) Gate(vector int) Gate_t {
	if vector < 0 || vector >= defs.NVECTORS {
		panic("bad vector")
	}
	return it.gates[vector]
}

// Idtr describes the table for lidt. base is where the table would sit.
func (it *Idt_t) Idtr(base uint64) Idtr_t {
	return Idtr_t{
		Limit: uint16(defs.NVECTORS*16 - 1),
		Base:  base,
	}
}

// Offset reassembles the stub address from a gate's three offset pieces.
func (g Gate_t) Offset() uint64 {
	return uint64(g.Off_low) | uint64(g.Off_mid)<<16 | uint64(g.Off_high)<<32
}

func (g Gate_t) Dpl() uint8 {
	return (g.Typeattr >> 5) & 3
}

func (g Gate_t) Is_trap_gate() bool {
	return g.Typeattr&0xf == 0xf
}
