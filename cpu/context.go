// Package cpu holds the per-strand register state and the save/restore/
// switch primitives the scheduler builds on. on bare metal these are
// assembly; hosted they move state between contexts and interrupt frames,
// which is the whole contract the scheduler relies on.
package cpu

import "seraph/defs"

const FPUSAVE = 512

// packed, 16-byte-aligned register record. Context_gen counts reuses of the
// record and exists for catching stale handles while debugging; the
// scheduler does not rely on it.
type Context_t struct {
	Regs                     [15]uint64 // defs.TF_R15 .. defs.TF_RAX order
	Rip, Cs, Rflags, Rsp, Ss uint64
	Cr3                      uint64
	Fpu                      [FPUSAVE]uint8
	Fpu_valid                bool
	Context_gen              uint32
}

// Init builds a context that begins executing entry(arg) on the given stack
// with interrupts enabled, using the user selectors.
func (c *Context_t) Init(entry uint64, stacktop uint64, arg uint64, cr3 uint64) {
	c.init(entry, stacktop, arg, cr3, defs.SEG_UCODE, defs.SEG_UDATA)
}

// Init_kernel is Init with the kernel selectors.
func (c *Context_t) Init_kernel(entry uint64, stacktop uint64, arg uint64, cr3 uint64) {
	c.init(entry, stacktop, arg, cr3, defs.SEG_KCODE, defs.SEG_KDATA)
}

func (c *Context_t) init(entry, stacktop, arg, cr3 uint64, cs, ss uint64) {
	gen := c.Context_gen
	*c = Context_t{}
	c.Context_gen = gen + 1
	c.Rip = entry
	// stacks are 16-byte aligned at entry
	c.Rsp = stacktop &^ 0xf
	c.Regs[defs.TF_RDI] = arg
	c.Cr3 = cr3
	c.Cs = cs
	c.Ss = ss
	c.Rflags = defs.FL_IF | defs.FL_RESERVED1
	c.Fpu_valid = false
}

// Clone copies src and rewrites the stack pointer to the new stack.
func (c *Context_t) Clone(src *Context_t, newstacktop uint64) {
	gen := c.Context_gen
	*c = *src
	c.Context_gen = gen + 1
	c.Rsp = newstacktop &^ 0xf
}

// Save captures the interrupted register state from a frame.
func (c *Context_t) Save(tf *defs.Tf_t) {
	for i := 0; i < 15; i++ {
		c.Regs[i] = tf[i]
	}
	c.Rip = tf[defs.TF_RIP]
	c.Cs = tf[defs.TF_CS]
	c.Rflags = tf[defs.TF_RFLAGS]
	c.Rsp = tf[defs.TF_RSP]
	c.Ss = tf[defs.TF_SS]
}

// Restore installs this context into a frame; returning from the interrupt
// resumes the strand.
func (c *Context_t) Restore(tf *defs.Tf_t) {
	for i := 0; i < 15; i++ {
		tf[i] = c.Regs[i]
	}
	tf[defs.TF_RIP] = c.Rip
	tf[defs.TF_CS] = c.Cs
	tf[defs.TF_RFLAGS] = c.Rflags
	tf[defs.TF_RSP] = c.Rsp
	tf[defs.TF_SS] = c.Ss
}

// Switch saves the outgoing strand's state and restores the incoming one in
// a single step. this is the only suspension mechanism in the substrate.
func Switch(old *Context_t, next *Context_t, tf *defs.Tf_t) {
	if old != nil {
		old.Save(tf)
	}
	next.Restore(tf)
}

// Save_fpu captures the 512-byte FPU save area.
func (c *Context_t) Save_fpu(area *[FPUSAVE]uint8) {
	c.Fpu = *area
	c.Fpu_valid = true
}

// Restore_fpu writes the save area back; returns false when the context
// never saved FPU state.
func (c *Context_t) Restore_fpu(area *[FPUSAVE]uint8) bool {
	if !c.Fpu_valid {
		return false
	}
	*area = c.Fpu
	return true
}
