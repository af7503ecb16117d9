package res

import "testing"

import "seraph/defs"
import "seraph/limits"

func TestAdmitRelease(t *testing.T) {
	lim := limits.MkSysLimit()
	g, err := admit(Res_t{Strands: 4, Stack: 1 << 16, Heap: 1 << 20}, lim)
	if err != 0 {
		t.Fatalf("admit: %v", err)
	}
	if g.Res().Strands != 4 {
		t.Fatalf("res %+v", g.Res())
	}
	g.Release()
	// double release must not double-credit
	g.Release()
	if !lim.Resstrands.Taken(uint(lim.Strands)) {
		t.Fatalf("pool not restored")
	}
}

func TestAdmitRejects(t *testing.T) {
	lim := limits.MkSysLimit()
	if _, err := admit(Res_t{Strands: 0}, lim); err != -defs.EINVAL {
		t.Fatalf("zero strands: %v", err)
	}
	if _, err := admit(Res_t{Strands: 1, Stack: lim.Stackmax + 1}, lim); err != -defs.ENOMEM {
		t.Fatalf("oversized stack: %v", err)
	}
	if _, err := admit(Res_t{Strands: 1, Heap: lim.Heapmax + 1}, lim); err != -defs.ENOMEM {
		t.Fatalf("oversized heap: %v", err)
	}
	// drain the strand pool
	if !lim.Resstrands.Taken(uint(lim.Strands)) {
		t.Fatalf("drain failed")
	}
	if _, err := admit(Res_t{Strands: 1}, lim); err != -defs.ENOMEM {
		t.Fatalf("exhausted pool admitted: %v", err)
	}
}
