package main

import "fmt"
import "os"

import "seraph/apic"
import "seraph/arena"
import "seraph/caps"
import "seraph/defs"
import "seraph/galactic"
import "seraph/idt"
import "seraph/machine"
import "seraph/pic"
import "seraph/res"
import "seraph/sbf"
import "seraph/sched"
import "seraph/stats"
import "seraph/trap"
import "seraph/util"

const kern_version = 1

const timer_hz = 1000

// a loaded binary together with everything pinned on its behalf
type sovereign_t struct {
	loader *sbf.Loader_t
	grant  *res.Grant_t
	mem    *arena.Arena_t
	caps   []caps.Cap_t
	strand *sched.Strand_t
}

type kernel_t struct {
	board *machine.Board_t
	idt   *idt.Idt_t
	pic   *pic.Pic_t
	apic  *apic.Apic_t
	disp  *trap.Dispatch_t
	mach  *sched.Machine_t
	sovs  []*sovereign_t
}

// interrupt stub addresses in the kernel image; 16 bytes per vector
func stubaddr(vector int) uint64 {
	return 0xffff_8000_0000_2000 + uint64(vector)*16
}

// sovereign stacks are 16-byte aligned per the abi
const stack_align uint64 = 16

// boot order: firmware model, idt, pic, apic, scheduler, timer.
func mkkernel() *kernel_t {
	k := &kernel_t{}
	k.board = machine.MkBoard()
	k.idt = idt.Build(stubaddr)
	k.pic = pic.MkPic(k.board)
	k.pic.Remap()
	if !apic.Available(k.board.Cpuid) {
		panic("no local apic")
	}
	k.apic = apic.MkApic(k.board, k.board, k.board)
	k.apic.Init()

	k.mach = sched.MkMachine(1, galactic.MkGalactic(galactic.Defaults()))
	k.disp = trap.MkDispatch()
	k.disp.Tick = k.mach.Tick
	k.disp.Terminate = func(vector uint64, tf *defs.Tf_t) {
		cur := k.mach.Cpu(0).Current()
		fmt.Printf("seraph: strand %v (%v) killed by vector %v at %#x\n",
			cur.Tid, cur.Name, vector, tf[defs.TF_RIP])
		k.mach.Cpu(0).Exit(tf)
	}
	k.disp.Install(defs.INT_TIMER, func(tf *defs.Tf_t) defs.Vbit_t {
		k.mach.Cpu(0).Tick(tf)
		k.apic.Eoi()
		return defs.VBIT_TRUE
	})

	k.apic.Timer_start(uint8(defs.INT_TIMER), timer_hz)
	return k
}

// load admits a binary and queues its first strand.
func (k *kernel_t) load(img []uint8) (*sovereign_t, defs.Err_t) {
	l, err := sbf.Load_buffer(img, sbf.Opts_t{
		Copy:                 true,
		Reject_failed_proofs: true,
		Kmin:                 kern_version,
		Kmax:                 kern_version,
	})
	if err != 0 {
		return nil, err
	}
	if err := l.Validate(); err != 0 {
		return nil, err
	}
	grant, err := res.Admit(l.Res())
	if err != 0 {
		return nil, err
	}

	// the sovereign's dynamic state lives in its own arena: stack,
	// heap, and one region per manifest capability template
	stacksz := l.Required_stack()
	heapsz := l.Manifest.Heapsize
	need := stacksz + heapsz
	for i := range l.Caps {
		need += util.Roundup(l.Caps[i].Len, stack_align)
	}
	mem, aerr := arena.Create(util.Roundup(need, sbf.PGSIZE), stack_align,
		arena.F_ZERO)
	if aerr != 0 {
		grant.Release()
		return nil, aerr
	}
	abort := func(e defs.Err_t) (*sovereign_t, defs.Err_t) {
		mem.Destroy()
		grant.Release()
		return nil, e
	}
	stk := mem.Alloc(stacksz, stack_align)
	if stk.Isvoid() {
		return abort(-defs.ENOMEM)
	}
	if heapsz > 0 && mem.Alloc(heapsz, stack_align).Isvoid() {
		return abort(-defs.ENOMEM)
	}
	// templates become live capabilities issued by this arena
	sovcaps := make([]caps.Cap_t, 0, len(l.Caps))
	for i := range l.Caps {
		tm := &l.Caps[i]
		p := mem.Alloc(tm.Len, stack_align)
		c := mem.Get_capability(p, tm.Len, caps.Perm_t(tm.Perms))
		if c.Isvoid() {
			return abort(-defs.EBADCAP)
		}
		sovcaps = append(sovcaps, c)
	}

	prio := defs.Prio_t(l.Manifest.Priority)
	if prio < defs.PRIO_BACKGROUND || prio > defs.PRIO_REALTIME {
		prio = defs.PRIO_NORMAL
	}
	stacktop := uint64(stk) + stacksz
	name := fmt.Sprintf("sov%d", len(k.sovs))
	s, serr := k.mach.Mkstrand(name, l.Entry(), stacktop, prio, 0)
	if serr != 0 {
		return abort(serr)
	}
	sov := &sovereign_t{loader: l, grant: grant, mem: mem, caps: sovcaps,
		strand: s}
	k.sovs = append(k.sovs, sov)
	return sov, 0
}

// run delivers n timer interrupts. time advances through the pit
// status polls of the hosted board.
func (k *kernel_t) run(n int) {
	tf := &defs.Tf_t{}
	fired := int64(0)
	for fired < int64(n) {
		prev := k.board.Lapic.Timerfired
		k.board.Outb(machine.PORT_PIT_CMD, 0xe2)
		k.board.Inb(machine.PORT_PIT_CH0)
		if k.board.Lapic.Timerfired == prev {
			continue
		}
		fired++
		tf[defs.TF_TRAP] = uint64(defs.INT_TIMER)
		k.disp.Trap(tf)
	}
}

func demo_image() []uint8 {
	w := sbf.MkWriter()
	code := make([]uint8, 128)
	for i := range code {
		code[i] = 0x90
	}
	w.Add_code(code)
	w.Set_entry(0x1000)
	w.Manifest.Kmin = kern_version
	w.Manifest.Kmax = kern_version
	w.Manifest.Strands = 1
	w.Manifest.Stacksize = 0x10000
	w.Manifest.Heapsize = 0x100000
	w.Manifest.Priority = uint32(defs.PRIO_NORMAL)
	w.Add_proof(sbf.Proof_t{Kind: sbf.PK_MEMSAFE, Status: sbf.PROOF_PROVEN,
		Name: "memsafe.core"})
	w.Add_cap(sbf.Captmpl_t{Base: 0x1000, Len: 0x1000,
		Perms: uint32(caps.PERM_RW), Name: "scratch"})
	img, err := w.Finalise()
	if err != 0 {
		panic("demo image build failed")
	}
	return img
}

func main() {
	k := mkkernel()
	fmt.Printf("seraph: apic timer at %v hz, %v cpus\n", k.apic.Freq,
		k.mach.Ncpu())

	sov, err := k.load(demo_image())
	if err != 0 {
		fmt.Printf("seraph: load failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seraph: loaded %v, entry %#x, %v proofs, %v caps, %v arena bytes\n",
		sov.strand.Name, sov.loader.Entry(), len(sov.loader.Proofs),
		len(sov.caps), sov.mem.Used())

	k.run(256)

	fmt.Printf("seraph: %v ticks, %v timer irqs\n", k.mach.Tick(),
		stats.Nirqs[defs.INT_TIMER])
	fmt.Printf("%v", k.mach.String())
}
