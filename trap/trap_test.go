package trap

import "testing"

import "seraph/defs"

func mktf(vector uint64) *defs.Tf_t {
	tf := &defs.Tf_t{}
	tf[defs.TF_TRAP] = vector
	tf[defs.TF_RIP] = 0x1000
	return tf
}

func TestClassifyClosure(t *testing.T) {
	counts := map[Class_t]int{}
	for v := 0; v < defs.NEXCEPTIONS; v++ {
		counts[Classify(v)]++
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total != defs.NEXCEPTIONS {
		t.Fatalf("%v vectors classified", total)
	}
	checks := map[int]Class_t{
		defs.V_DE: CL_RECOVERABLE,
		defs.V_DB: CL_BENIGN,
		defs.V_PF: CL_ROUTABLE,
		defs.V_GP: CL_FATAL,
		9:         CL_IGNORED,
	}
	for v, want := range checks {
		if got := Classify(v); got != want {
			t.Fatalf("vector %v: %v, want %v", v, got, want)
		}
	}
}

func TestDivideVoid(t *testing.T) {
	d := MkDispatch()
	// div rcx
	d.Fetch = func(rip uint64, max int) []uint8 {
		if rip != 0x1000 {
			t.Fatalf("fetch at %#x", rip)
		}
		return []uint8{0x48, 0xf7, 0xf1}
	}
	tf := mktf(defs.V_DE)
	tf[defs.TF_RAX] = 10
	tf[defs.TF_RDX] = 0

	d.Trap(tf)

	if tf[defs.TF_RAX] != defs.VOID_U64 || tf[defs.TF_RDX] != defs.VOID_U64 {
		t.Fatalf("rax %#x rdx %#x", tf[defs.TF_RAX], tf[defs.TF_RDX])
	}
	if tf[defs.TF_RIP] != 0x1003 {
		t.Fatalf("rip %#x", tf[defs.TF_RIP])
	}
	if d.Tstats.Nvoidinj.Read() != 1 {
		t.Fatalf("injections %v", d.Tstats.Nvoidinj.Read())
	}
	ents := d.Log.Snapshot()
	if len(ents) != 1 {
		t.Fatalf("log %v", len(ents))
	}
	e := ents[0]
	if e.Vector != defs.V_DE || e.Rip != 0x1000 || e.Value != defs.VOID_U64 {
		t.Fatalf("entry %+v", e)
	}
}

func TestDivlen(t *testing.T) {
	cases := []struct {
		insn []uint8
		n    uint64
		ok   bool
	}{
		// div ecx
		{[]uint8{0xf7, 0xf1}, 2, true},
		// div rcx
		{[]uint8{0x48, 0xf7, 0xf1}, 3, true},
		// idiv r10
		{[]uint8{0x49, 0xf7, 0xfa}, 3, true},
		// div byte [rbx]
		{[]uint8{0xf6, 0x33}, 2, true},
		// div dword [rbx+8]
		{[]uint8{0xf7, 0x73, 0x08}, 3, true},
		// div dword [rbx+0x100]
		{[]uint8{0xf7, 0xb3, 0, 1, 0, 0}, 6, true},
		// div dword [rip+disp32]
		{[]uint8{0xf7, 0x35, 0, 0, 0, 0}, 6, true},
		// div dword [disp32] via sib, no base
		{[]uint8{0xf7, 0x34, 0x25, 0, 0, 0, 0}, 7, true},
		// div dword [rax+rcx*2]
		{[]uint8{0xf7, 0x34, 0x48}, 3, true},
		// test eax, imm is f7 /0
		{[]uint8{0xf7, 0xc0}, 0, false},
		// not a div at all
		{[]uint8{0x90}, 0, false},
		// truncated
		{[]uint8{0xf7}, 0, false},
		{nil, 0, false},
	}
	for i, c := range cases {
		n, ok := Divlen(c.insn)
		if n != c.n || ok != c.ok {
			t.Fatalf("case %v: got (%v, %v) want (%v, %v)", i, n,
				ok, c.n, c.ok)
		}
	}
}

func TestOverflowAndBound(t *testing.T) {
	d := MkDispatch()
	tf := mktf(defs.V_OF)
	d.Trap(tf)
	if tf[defs.TF_RIP] != 0x1001 {
		t.Fatalf("into rip %#x", tf[defs.TF_RIP])
	}
	tf = mktf(defs.V_BR)
	d.Trap(tf)
	if tf[defs.TF_RIP] != 0x1002 {
		t.Fatalf("bound rip %#x", tf[defs.TF_RIP])
	}
	if d.Tstats.Nvoidinj.Read() != 2 {
		t.Fatalf("injections %v", d.Tstats.Nvoidinj.Read())
	}
}

func TestFpuClear(t *testing.T) {
	d := MkDispatch()
	cleared := 0
	d.Fpuclear = func() {
		cleared++
	}
	tf := mktf(defs.V_MF)
	d.Trap(tf)
	if cleared != 1 {
		t.Fatalf("cleared %v", cleared)
	}
	// the same instruction is retried
	if tf[defs.TF_RIP] != 0x1000 {
		t.Fatalf("rip %#x", tf[defs.TF_RIP])
	}
	tf = mktf(defs.V_XM)
	d.Trap(tf)
	if cleared != 2 || d.Tstats.Nvoidinj.Read() != 2 {
		t.Fatalf("cleared %v inj %v", cleared, d.Tstats.Nvoidinj.Read())
	}
}

func TestPagefaultRoute(t *testing.T) {
	d := MkDispatch()
	d.Cr2 = func() uint64 {
		return 0xdeadb000
	}
	var gotaddr, gotcode uint64
	d.Install_pfhandler(func(addr, ecode uint64, tf *defs.Tf_t) defs.Vbit_t {
		gotaddr, gotcode = addr, ecode
		return defs.VBIT_TRUE
	})
	tf := mktf(defs.V_PF)
	tf[defs.TF_ERROR] = defs.PF_WRITE | defs.PF_USER
	d.Trap(tf)
	if gotaddr != 0xdeadb000 || gotcode != defs.PF_WRITE|defs.PF_USER {
		t.Fatalf("addr %#x code %#x", gotaddr, gotcode)
	}
	if d.Tstats.Nrouted.Read() != 1 || d.Tstats.Nfatal.Read() != 0 {
		t.Fatalf("routed %v fatal %v", d.Tstats.Nrouted.Read(),
			d.Tstats.Nfatal.Read())
	}

	// a handler that cannot resolve the fault is fatal
	var killed uint64
	d.Terminate = func(vector uint64, tf *defs.Tf_t) {
		killed = vector
	}
	d.Install_pfhandler(func(addr, ecode uint64, tf *defs.Tf_t) defs.Vbit_t {
		return defs.VBIT_FALSE
	})
	d.Trap(mktf(defs.V_PF))
	if killed != defs.V_PF || d.Tstats.Nfatal.Read() != 1 {
		t.Fatalf("killed %v fatal %v", killed, d.Tstats.Nfatal.Read())
	}
}

func TestFatal(t *testing.T) {
	d := MkDispatch()
	var killed uint64
	d.Terminate = func(vector uint64, tf *defs.Tf_t) {
		killed = vector
	}
	tf := mktf(defs.V_GP)
	tf[defs.TF_ERROR] = 0x10
	d.Trap(tf)
	if killed != defs.V_GP {
		t.Fatalf("killed %v", killed)
	}
	ents := d.Log.Snapshot()
	if len(ents) != 1 || ents[0].Value != 0x10 {
		t.Fatalf("log %+v", ents)
	}
}

func TestFatalPanicsWithoutTerminate(t *testing.T) {
	d := MkDispatch()
	defer func() {
		if recover() == nil {
			t.Fatalf("no panic")
		}
	}()
	d.Trap(mktf(defs.V_DF))
}

func TestHandlerOverride(t *testing.T) {
	d := MkDispatch()
	d.Install(defs.V_DE, func(tf *defs.Tf_t) defs.Vbit_t {
		return defs.VBIT_TRUE
	})
	tf := mktf(defs.V_DE)
	tf[defs.TF_RAX] = 10
	d.Trap(tf)
	if tf[defs.TF_RAX] != 10 || d.Tstats.Nvoidinj.Read() != 0 {
		t.Fatalf("default ran despite handler")
	}

	// a handler that declines falls through to the default
	d.Install(defs.V_DE, func(tf *defs.Tf_t) defs.Vbit_t {
		return defs.VBIT_FALSE
	})
	d.Trap(tf)
	if tf[defs.TF_RAX] != defs.VOID_U64 {
		t.Fatalf("default did not run")
	}
}

func TestIgnoredAndIrq(t *testing.T) {
	d := MkDispatch()
	d.Trap(mktf(9))
	d.Trap(mktf(defs.INT_TIMER))
	if d.Tstats.Nignored.Read() != 2 {
		t.Fatalf("ignored %v", d.Tstats.Nignored.Read())
	}

	fired := 0
	d.Install(defs.INT_TIMER, func(tf *defs.Tf_t) defs.Vbit_t {
		fired++
		return defs.VBIT_TRUE
	})
	d.Trap(mktf(defs.INT_TIMER))
	if fired != 1 || d.Tstats.Nignored.Read() != 2 {
		t.Fatalf("fired %v ignored %v", fired, d.Tstats.Nignored.Read())
	}
}

func TestClogWrap(t *testing.T) {
	var cl Clog_t
	cl.cl_init(4)
	for i := 0; i < 10; i++ {
		cl.Append(Cent_t{Tick: uint64(i)})
	}
	if !cl.Full() || cl.Used() != 4 {
		t.Fatalf("used %v", cl.Used())
	}
	ents := cl.Snapshot()
	if len(ents) != 4 {
		t.Fatalf("snapshot %v", len(ents))
	}
	for i, e := range ents {
		if e.Tick != uint64(6+i) {
			t.Fatalf("entry %v tick %v", i, e.Tick)
		}
	}
}
