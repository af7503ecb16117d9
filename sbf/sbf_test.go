package sbf

import "bytes"
import "testing"

import "seraph/caps"
import "seraph/defs"
import "seraph/merkle"

func mkimage(t *testing.T, sign []uint8, failproof bool) []uint8 {
	w := MkWriter()
	code := bytes.Repeat([]uint8{0x90}, 128)
	if err := w.Add_code(code); err != 0 {
		t.Fatalf("code: %v", err)
	}
	if err := w.Add_rodata([]uint8("seraph\x00")); err != 0 {
		t.Fatalf("rodata: %v", err)
	}
	w.Set_entry(0x1000)
	w.Manifest.Kmin = 1
	w.Manifest.Kmax = 5
	w.Manifest.Strands = 1
	w.Manifest.Strandmax = 4
	w.Manifest.Stacksize = 0x10000
	w.Manifest.Heapsize = 0x100000

	st := PROOF_PROVEN
	if failproof {
		st = PROOF_FAILED
	}
	err := w.Add_proof(Proof_t{Kind: PK_MEMSAFE, Status: PROOF_PROVEN,
		Name: "memsafe.core", Subject: 0x1000,
		Hash: merkle.Sum([]uint8("obligation-1"))})
	if err != 0 {
		t.Fatalf("proof: %v", err)
	}
	err = w.Add_proof(Proof_t{Kind: PK_BOUNDS, Status: st,
		Name: "bounds.loop", Subject: 0x1040,
		Hash: merkle.Sum([]uint8("obligation-2"))})
	if err != 0 {
		t.Fatalf("proof: %v", err)
	}

	err = w.Add_cap(Captmpl_t{Base: 0x4000, Len: 0x1000,
		Perms: uint32(caps.PERM_RW), Name: "heap"})
	if err != 0 {
		t.Fatalf("cap: %v", err)
	}
	err = w.Add_effect(Effect_t{Kind: EK_TIMER, Target: "timer.periodic",
		Param: 1000})
	if err != 0 {
		t.Fatalf("effect: %v", err)
	}

	if sign != nil {
		w.Set_key(sign)
	}
	img, ferr := w.Finalise()
	if ferr != 0 {
		t.Fatalf("finalise: %v", ferr)
	}
	return img
}

func mkopts() Opts_t {
	return Opts_t{Copy: true, Kmin: 1, Kmax: 10}
}

func TestRoundTrip(t *testing.T) {
	img := mkimage(t, nil, false)
	l, err := Load_buffer(img, mkopts())
	if err != 0 {
		t.Fatalf("load: %v", err)
	}
	if err := l.Validate(); err != 0 {
		t.Fatalf("validate: %v", err)
	}
	if !bytes.Equal(l.Code(), bytes.Repeat([]uint8{0x90}, 128)) {
		t.Fatalf("code mangled")
	}
	if len(l.Proofs) != 2 {
		t.Fatalf("proofs %v", len(l.Proofs))
	}
	if l.Required_stack() != 0x10000 {
		t.Fatalf("stack %#x", l.Required_stack())
	}
	if l.Entry() != 0x1000 {
		t.Fatalf("entry %#x", l.Entry())
	}
	if l.Proofs[0].Name != "memsafe.core" || l.Proofs[1].Name != "bounds.loop" {
		t.Fatalf("names %q %q", l.Proofs[0].Name, l.Proofs[1].Name)
	}
	if len(l.Caps) != 1 || l.Caps[0].Name != "heap" {
		t.Fatalf("caps %+v", l.Caps)
	}
	if len(l.Effects) != 1 || l.Effects[0].Target != "timer.periodic" {
		t.Fatalf("effects %+v", l.Effects)
	}
	r := l.Res()
	if r.Strands != 4 || r.Stack != 0x10000 || r.Heap != 0x100000 {
		t.Fatalf("res %+v", r)
	}
}

func TestAlignment(t *testing.T) {
	img := mkimage(t, nil, false)
	l, err := Load_buffer(img, mkopts())
	if err != 0 {
		t.Fatalf("load: %v", err)
	}
	if l.Hdr.Manifest.Off != HDRSZ {
		t.Fatalf("manifest at %#x", l.Hdr.Manifest.Off)
	}
	if l.Hdr.Code.Off%PGSIZE != 0 || l.Hdr.Rodata.Off%PGSIZE != 0 {
		t.Fatalf("sections unaligned: %#x %#x", l.Hdr.Code.Off,
			l.Hdr.Rodata.Off)
	}
	for _, e := range []Extent_t{l.Hdr.Proofs, l.Hdr.Caps, l.Hdr.Effects,
		l.Hdr.Strings} {
		if e.Off%8 != 0 {
			t.Fatalf("table unaligned: %#x", e.Off)
		}
	}
	if l.Hdr.Totalsize != uint64(len(img)) {
		t.Fatalf("total %v len %v", l.Hdr.Totalsize, len(img))
	}
}

func TestContentTamper(t *testing.T) {
	img := mkimage(t, nil, false)
	l, err := Load_buffer(img, mkopts())
	if err != 0 {
		t.Fatalf("load: %v", err)
	}
	// flip one bit in the code section
	l.img[l.Hdr.Code.Off] ^= 1
	if err := l.Validate(); err != -defs.EHASHMISMATCH {
		t.Fatalf("tamper: %v", err)
	}
}

func TestProofRootTamper(t *testing.T) {
	img := mkimage(t, nil, false)
	// the header is outside the content hash, so a corrupted root is
	// caught by the merkle check alone
	img[h_proofroot] ^= 1
	l, err := Load_buffer(img, mkopts())
	if err != 0 {
		t.Fatalf("load: %v", err)
	}
	if err := l.Validate(); err != -defs.EPROOFROOT {
		t.Fatalf("root tamper: %v", err)
	}
}

func TestFailedProofGate(t *testing.T) {
	img := mkimage(t, nil, true)
	opts := mkopts()
	opts.Reject_failed_proofs = true
	l, err := Load_buffer(img, opts)
	if err != 0 {
		t.Fatalf("load: %v", err)
	}
	if err := l.Validate(); err != -defs.EPROOFFAILED {
		t.Fatalf("gate: %v", err)
	}

	opts.Reject_failed_proofs = false
	l, err = Load_buffer(img, opts)
	if err != 0 {
		t.Fatalf("load: %v", err)
	}
	if err := l.Validate(); err != 0 {
		t.Fatalf("tolerant: %v", err)
	}
}

func TestSigning(t *testing.T) {
	key := []uint8("a perfectly adequate signing key")
	img := mkimage(t, key, false)

	opts := mkopts()
	opts.Require_signed = true
	opts.Key = key
	l, err := Load_buffer(img, opts)
	if err != 0 {
		t.Fatalf("load: %v", err)
	}
	if err := l.Validate(); err != 0 {
		t.Fatalf("signed validate: %v", err)
	}
	if l.Hdr.Flags&FLAG_SIGNED == 0 {
		t.Fatalf("flag not set")
	}

	opts.Key = []uint8("the wrong key entirely, oh dear!")
	l, err = Load_buffer(img, opts)
	if err != 0 {
		t.Fatalf("load: %v", err)
	}
	if err := l.Validate(); err != -defs.ESIGNFAIL {
		t.Fatalf("wrong key: %v", err)
	}

	// an unsigned binary is rejected outright
	unsigned := mkimage(t, nil, false)
	opts.Key = nil
	l, err = Load_buffer(unsigned, opts)
	if err != 0 {
		t.Fatalf("load: %v", err)
	}
	if err := l.Validate(); err != -defs.EUNSIGNED {
		t.Fatalf("unsigned: %v", err)
	}
}

func TestVersionGate(t *testing.T) {
	img := mkimage(t, nil, false)
	opts := mkopts()
	opts.Kmin, opts.Kmax = 6, 9
	if _, err := Load_buffer(img, opts); err != -defs.EKERNVER {
		t.Fatalf("disjoint range: %v", err)
	}
	opts.Kmin, opts.Kmax = 5, 9
	if _, err := Load_buffer(img, opts); err != 0 {
		t.Fatalf("touching range: %v", err)
	}
}

func TestLoaderRejects(t *testing.T) {
	img := mkimage(t, nil, false)

	if _, err := Load_buffer(img[:100], mkopts()); err != -defs.EBADBOUNDS {
		t.Fatalf("short: %v", err)
	}

	bad := append([]uint8{}, img...)
	bad[0] ^= 0xff
	if _, err := Load_buffer(bad, mkopts()); err != -defs.EBADMAGIC {
		t.Fatalf("magic: %v", err)
	}

	bad = append([]uint8{}, img...)
	bad[h_version] = 99
	if _, err := Load_buffer(bad, mkopts()); err != -defs.EBADVERSION {
		t.Fatalf("version: %v", err)
	}

	// code extent runs past the image
	bad = append([]uint8{}, img...)
	var hdr Header_t
	hdr.decode(bad[:HDRSZ])
	hdr.Code.Size = hdr.Totalsize
	hdr.encode(bad[:HDRSZ])
	if _, err := Load_buffer(bad, mkopts()); err != -defs.EBADBOUNDS {
		t.Fatalf("bounds: %v", err)
	}
}

func TestWriterStateMachine(t *testing.T) {
	w := MkWriter()
	if _, err := w.Finalise(); err != -defs.ENOCODE {
		t.Fatalf("no code: %v", err)
	}
	if _, err := w.Image(); err != -defs.ENOTFINAL {
		t.Fatalf("image early: %v", err)
	}
	w.Add_code([]uint8{0x90})
	if _, err := w.Finalise(); err != 0 {
		t.Fatalf("finalise: %v", err)
	}
	if err := w.Add_code([]uint8{0x90}); err != -defs.EFINAL {
		t.Fatalf("add after final: %v", err)
	}
	if err := w.Add_proof(Proof_t{}); err != -defs.EFINAL {
		t.Fatalf("proof after final: %v", err)
	}
	if _, err := w.Finalise(); err != -defs.EFINAL {
		t.Fatalf("double finalise: %v", err)
	}
	if _, err := w.Image(); err != 0 {
		t.Fatalf("image: %v", err)
	}
}

func TestWriterRejects(t *testing.T) {
	w := MkWriter()
	if err := w.Add_proof(Proof_t{Status: 99}); err != -defs.EBADPROOF {
		t.Fatalf("proof status: %v", err)
	}
	if err := w.Add_cap(Captmpl_t{Len: 0}); err != -defs.EBADCAP {
		t.Fatalf("zero cap: %v", err)
	}
	if err := w.Add_cap(Captmpl_t{Base: defs.VOID_U64, Len: 1}); err != -defs.EBADCAP {
		t.Fatalf("void cap: %v", err)
	}
	if err := w.Add_effect(Effect_t{Kind: 99}); err != -defs.EBADEFFECT {
		t.Fatalf("effect kind: %v", err)
	}
}

func TestStringDedup(t *testing.T) {
	w := MkWriter()
	w.Add_code([]uint8{0x90})
	for i := 0; i < 3; i++ {
		err := w.Add_proof(Proof_t{Status: PROOF_PROVEN, Name: "shared",
			Hash: merkle.Sum([]uint8{uint8(i)})})
		if err != 0 {
			t.Fatalf("proof: %v", err)
		}
	}
	img, err := w.Finalise()
	if err != 0 {
		t.Fatalf("finalise: %v", err)
	}
	l, lerr := Load_buffer(img, Opts_t{})
	if lerr != 0 {
		t.Fatalf("load: %v", lerr)
	}
	for i := range l.Proofs {
		if l.Proofs[i].Name != "shared" {
			t.Fatalf("name %v: %q", i, l.Proofs[i].Name)
		}
	}
	// one zero prefix, one copy of the string
	want := 1 + len("shared") + 1
	if int(l.Hdr.Strings.Size) != strhdr_sz+want {
		t.Fatalf("string table %v bytes", l.Hdr.Strings.Size)
	}
}

func TestNoCopyBorrows(t *testing.T) {
	img := mkimage(t, nil, false)
	opts := mkopts()
	opts.Copy = false
	l, err := Load_buffer(img, opts)
	if err != 0 {
		t.Fatalf("load: %v", err)
	}
	// a borrowed loader aliases the caller's buffer
	img[l.Hdr.Code.Off] = 0xcc
	if l.Code()[0] != 0xcc {
		t.Fatalf("borrowed loader missed the write")
	}

	opts.Copy = true
	img2 := mkimage(t, nil, false)
	l2, err := Load_buffer(img2, opts)
	if err != 0 {
		t.Fatalf("load: %v", err)
	}
	img2[l2.Hdr.Code.Off] = 0xcc
	if l2.Code()[0] != 0x90 {
		t.Fatalf("copying loader aliased the buffer")
	}
}
