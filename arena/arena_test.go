package arena

import "encoding/binary"
import "math"
import "os"
import "path/filepath"
import "testing"

import "seraph/caps"
import "seraph/defs"

func mkarena(t *testing.T, cap uint64, align uint64, flags Flag_t) *Arena_t {
	a, err := Create(cap, align, flags)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
	return a
}

func TestBumpScenario(t *testing.T) {
	a := mkarena(t, 4096, 64, 0)

	p0 := a.Alloc(64, 1)
	p1 := a.Alloc(128, 1)
	p2 := a.Alloc(256, 1)
	if p0.Isvoid() || p1.Isvoid() || p2.Isvoid() {
		t.Fatalf("void alloc")
	}
	if p1 < p0+64 {
		t.Fatalf("p1 %v overlaps p0 %v", p1, p0)
	}
	if p2 < p1+128 {
		t.Fatalf("p2 %v overlaps p1 %v", p2, p1)
	}
	if a.Alloc_count != 3 {
		t.Fatalf("alloc count %v", a.Alloc_count)
	}

	c := a.Get_capability(p0, 64, caps.PERM_RW)
	if !a.Check_capability(c, caps.PERM_RW).Istrue() {
		t.Fatalf("fresh cap fails")
	}

	oldgen := a.Generation()
	a.Reset()
	if a.Used() != 0 {
		t.Fatalf("used %v", a.Used())
	}
	if a.Generation() != oldgen+1 {
		t.Fatalf("gen %v", a.Generation())
	}
	if v := a.Check_capability(c, caps.PERM_RW); v != defs.VBIT_FALSE {
		t.Fatalf("stale cap: %v", v)
	}
}

func TestMonotonicDisjoint(t *testing.T) {
	a := mkarena(t, 1<<16, 8, 0)
	type span struct{ p, sz uint64 }
	var spans []span
	last := uint64(0)
	for i := 0; i < 100; i++ {
		sz := uint64(i%17 + 1)
		p := a.Alloc(sz, 8)
		if p.Isvoid() {
			t.Fatalf("alloc %v void", i)
		}
		if a.Used() < last {
			t.Fatalf("used shrank")
		}
		last = a.Used()
		for _, s := range spans {
			if uint64(p) < s.p+s.sz && s.p < uint64(p)+sz {
				t.Fatalf("overlap %v [%v %v)", i, p, sz)
			}
		}
		spans = append(spans, span{uint64(p), sz})
	}
}

func TestAlignment(t *testing.T) {
	a := mkarena(t, 1<<16, 16, 0)
	for _, align := range []uint64{1, 2, 8, 32, 128} {
		p := a.Alloc(24, align)
		if p.Isvoid() {
			t.Fatalf("void")
		}
		want := align
		if want < 16 {
			want = 16
		}
		if uint64(p)%want != 0 {
			t.Fatalf("ptr %v align %v", p, want)
		}
	}
}

func TestOverflowIsVoid(t *testing.T) {
	a := mkarena(t, 256, 8, 0)
	if p := a.Alloc(128, 8); p.Isvoid() {
		t.Fatalf("void")
	}
	used := a.Used()
	if p := a.Alloc(a.Remaining()+1, 8); !p.Isvoid() {
		t.Fatalf("overflow not void: %v", p)
	}
	if a.Used() != used {
		t.Fatalf("used changed on failed alloc")
	}
	// bad arguments
	if p := a.Alloc(0, 8); !p.Isvoid() {
		t.Fatalf("zero size")
	}
	if p := a.Alloc(8, 3); !p.Isvoid() {
		t.Fatalf("non-pow2 align")
	}
	var nila *Arena_t
	if p := nila.Alloc(8, 8); !p.Isvoid() {
		t.Fatalf("nil arena")
	}
}

func TestGenerationInvalidation(t *testing.T) {
	a := mkarena(t, 4096, 8, 0)
	p := a.Alloc(32, 8)
	c := a.Get_capability(p, 32, caps.PERM_R)
	for k := 1; k <= 5; k++ {
		a.Reset()
		if v := a.Check_capability(c, caps.PERM_R); v != defs.VBIT_FALSE {
			t.Fatalf("after %v resets: %v", k, v)
		}
	}
}

func TestDerive(t *testing.T) {
	a := mkarena(t, 4096, 8, 0)
	p := a.Alloc(256, 8)
	parent := a.Get_capability(p, 256, caps.PERM_RW|caps.PERM_DERIVE)

	d := caps.Derive(parent, parent.Base+16, 64, caps.PERM_R)
	if d.Isvoid() {
		t.Fatalf("derive failed")
	}
	if !a.Check_capability(d, caps.PERM_R).Istrue() {
		t.Fatalf("derived cap fails check")
	}
	// outside parent bounds
	if d := caps.Derive(parent, parent.Base+200, 100, caps.PERM_R); !d.Isvoid() {
		t.Fatalf("oob derive")
	}
	// permission escalation
	if d := caps.Derive(parent, parent.Base, 16, caps.PERM_X); !d.Isvoid() {
		t.Fatalf("escalated derive")
	}
	// parent without DERIVE
	noderive := a.Get_capability(p, 256, caps.PERM_RW)
	if d := caps.Derive(noderive, noderive.Base, 16, caps.PERM_R); !d.Isvoid() {
		t.Fatalf("derive without DERIVE")
	}
}

func TestSealUnseal(t *testing.T) {
	a := mkarena(t, 4096, 8, 0)
	p := a.Alloc(64, 8)
	c := a.Get_capability(p, 64, caps.PERM_R|caps.PERM_SEAL|caps.PERM_UNSEAL)
	s := caps.Seal(c)
	if s.Isvoid() {
		t.Fatalf("seal")
	}
	if v := a.Check_capability(s, caps.PERM_R); v != defs.VBIT_FALSE {
		t.Fatalf("sealed cap usable: %v", v)
	}
	u := caps.Unseal(s)
	if !a.Check_capability(u, caps.PERM_R).Istrue() {
		t.Fatalf("unsealed cap unusable")
	}
}

func xyzschema() *Schema_t {
	return Mkschema(12,
		Field_t{Name: "x", Off: 0, Size: 4, Align: 4},
		Field_t{Name: "y", Off: 4, Size: 4, Align: 4},
		Field_t{Name: "z", Off: 8, Size: 4, Align: 4})
}

func TestSoaSum(t *testing.T) {
	const n = 10000
	a := mkarena(t, 1<<20, 64, 0)
	s, err := Soa_create(a, xyzschema(), n)
	if err != 0 {
		t.Fatalf("soa: %v", err)
	}
	elem := make([]uint8, 12)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(elem[0:], math.Float32bits(float32(i)))
		binary.LittleEndian.PutUint32(elem[4:], math.Float32bits(float32(2*i)))
		binary.LittleEndian.PutUint32(elem[8:], math.Float32bits(float32(3*i)))
		if !s.Push(elem).Istrue() {
			t.Fatalf("push %v", i)
		}
	}
	x := s.Prism(0, caps.PERM_R)
	if x.Stride != 4 {
		t.Fatalf("stride %v", x.Stride)
	}
	sum := 0.0
	for i := uint64(0); i < x.Count; i++ {
		b := x.At(i)
		if b == nil {
			t.Fatalf("at %v", i)
		}
		sum += float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	want := 0.5 * 9999 * 10000
	if math.Abs(sum-want)/want > 0.001 {
		t.Fatalf("sum %v want %v", sum, want)
	}

	// round trip one element
	out := make([]uint8, 12)
	if !s.Get(7, out).Istrue() {
		t.Fatalf("get")
	}
	if math.Float32frombits(binary.LittleEndian.Uint32(out[4:])) != 14 {
		t.Fatalf("gather y")
	}
}

func TestPrismStride(t *testing.T) {
	a := mkarena(t, 1<<16, 8, 0)
	sch := Mkschema(16,
		Field_t{Name: "a", Off: 0, Size: 8, Align: 8},
		Field_t{Name: "b", Off: 8, Size: 2, Align: 2},
		Field_t{Name: "c", Off: 10, Size: 4, Align: 4})
	s, err := Soa_create(a, sch, 32)
	if err != 0 {
		t.Fatalf("soa: %v", err)
	}
	elem := make([]uint8, 16)
	for i := 0; i < 32; i++ {
		if !s.Push(elem).Istrue() {
			t.Fatalf("push")
		}
	}
	for fi, f := range sch.Fields {
		pr := s.Prism(fi, caps.PERM_R)
		if pr.Stride != f.Size {
			t.Fatalf("field %v stride %v want %v", fi, pr.Stride, f.Size)
		}
	}
}

func TestPrismStaleAndFill(t *testing.T) {
	a := mkarena(t, 1<<16, 8, 0)
	sch := Mkschema(4, Field_t{Name: "v", Off: 0, Size: 4, Align: 4})
	s, _ := Soa_create(a, sch, 8)
	elem := []uint8{1, 2, 3, 4}
	for i := 0; i < 8; i++ {
		s.Push(elem)
	}
	pr := s.Prism(0, caps.PERM_RW)
	if !pr.Fill([]uint8{9, 9, 9, 9}).Istrue() {
		t.Fatalf("fill")
	}
	if b := pr.At(5); b[0] != 9 {
		t.Fatalf("fill did not stick")
	}
	a.Reset()
	if v := pr.Fill([]uint8{1, 1, 1, 1}); v != defs.VBIT_FALSE {
		t.Fatalf("stale fill: %v", v)
	}
	if b := pr.At(0); b != nil {
		t.Fatalf("stale at")
	}
	if v := s.Push(elem); v != defs.VBIT_FALSE {
		t.Fatalf("stale push: %v", v)
	}
}

func TestPersistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spectral.dat")
	a, err := Create_persistent(path, 1<<16, 64, F_SHARED)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
	p := a.Alloc(128, 64)
	copy(a.Slice(p, 128), "seraph persists")
	if err := a.Sync(); err != 0 {
		t.Fatalf("sync: %v", err)
	}
	off := uint64(p)
	a.Destroy()

	got, rerr := os.ReadFile(path)
	if rerr != nil {
		t.Fatalf("readback: %v", rerr)
	}
	if string(got[off:off+15]) != "seraph persists" {
		t.Fatalf("payload lost")
	}
}
