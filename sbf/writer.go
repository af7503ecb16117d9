package sbf

import "fmt"

import "seraph/defs"
import "seraph/limits"
import "seraph/merkle"
import "seraph/util"

const sbf_debug bool = false

func dbg(f string, args ...interface{}) {
	if sbf_debug {
		fmt.Printf(f, args...)
	}
}

// string table offsets are u32 in every record
const strmax = 1 << 20

type Writer_t struct {
	Manifest Manifest_t
	entry    uint64
	code     []uint8
	rodata   []uint8
	data     []uint8
	bsssize  uint64
	proofs   []Proof_t
	captmpls []Captmpl_t
	effects  []Effect_t
	strtab   []uint8
	strmap   map[string]uint32
	key      []uint8
	final    bool
	image    []uint8
}

func MkWriter() *Writer_t {
	w := &Writer_t{
		// offset 0 is the empty string
		strtab: []uint8{0},
		strmap: map[string]uint32{"": 0},
	}
	return w
}

func (w *Writer_t) grown(n int) bool {
	sz := uint64(len(w.code)+len(w.rodata)+len(w.data)+n) + w.bsssize
	return sz > limits.Syslimit.Binsize
}

func (w *Writer_t) Add_code(b []uint8) defs.Err_t {
	if w.final {
		return -defs.EFINAL
	}
	if w.grown(len(b)) {
		return -defs.ETOOLARGE
	}
	w.code = append(w.code, b...)
	return 0
}

func (w *Writer_t) Add_rodata(b []uint8) defs.Err_t {
	if w.final {
		return -defs.EFINAL
	}
	if w.grown(len(b)) {
		return -defs.ETOOLARGE
	}
	w.rodata = append(w.rodata, b...)
	return 0
}

func (w *Writer_t) Add_data(b []uint8) defs.Err_t {
	if w.final {
		return -defs.EFINAL
	}
	if w.grown(len(b)) {
		return -defs.ETOOLARGE
	}
	w.data = append(w.data, b...)
	return 0
}

func (w *Writer_t) Set_bss(sz uint64) defs.Err_t {
	if w.final {
		return -defs.EFINAL
	}
	if sz > limits.Syslimit.Binsize {
		return -defs.ETOOLARGE
	}
	w.bsssize = sz
	return 0
}

func (w *Writer_t) Set_entry(e uint64) defs.Err_t {
	if w.final {
		return -defs.EFINAL
	}
	w.entry = e
	return 0
}

// Set_key arms HMAC signing; the signature is produced at finalisation.
func (w *Writer_t) Set_key(key []uint8) defs.Err_t {
	if w.final {
		return -defs.EFINAL
	}
	w.key = key
	return 0
}

func (w *Writer_t) intern(s string) (uint32, defs.Err_t) {
	if off, ok := w.strmap[s]; ok {
		return off, 0
	}
	if len(w.strtab)+len(s)+1 > strmax {
		return 0, -defs.ESTRFULL
	}
	off := uint32(len(w.strtab))
	w.strtab = append(w.strtab, s...)
	w.strtab = append(w.strtab, 0)
	w.strmap[s] = off
	return off, 0
}

func (w *Writer_t) Add_proof(p Proof_t) defs.Err_t {
	if w.final {
		return -defs.EFINAL
	}
	if p.Status > PROOF_FAILED || p.Kind > PK_CUSTOM {
		return -defs.EBADPROOF
	}
	if _, err := w.intern(p.Name); err != 0 {
		return err
	}
	p.Id = uint32(len(w.proofs))
	w.proofs = append(w.proofs, p)
	return 0
}

func (w *Writer_t) Add_cap(c Captmpl_t) defs.Err_t {
	if w.final {
		return -defs.EFINAL
	}
	if c.Len == 0 || defs.Is_void_u64(c.Base) {
		return -defs.EBADCAP
	}
	if _, err := w.intern(c.Name); err != 0 {
		return err
	}
	w.captmpls = append(w.captmpls, c)
	return 0
}

func (w *Writer_t) Add_effect(e Effect_t) defs.Err_t {
	if w.final {
		return -defs.EFINAL
	}
	if e.Kind > EK_CUSTOM {
		return -defs.EBADEFFECT
	}
	if _, err := w.intern(e.Target); err != 0 {
		return err
	}
	e.Id = uint32(len(w.effects))
	w.effects = append(w.effects, e)
	return 0
}

// Finalise lays out the image, seals it with the proof root, an
// optional signature and the content hash, and returns the bytes. the
// writer rejects all further mutation.
func (w *Writer_t) Finalise() ([]uint8, defs.Err_t) {
	if w.final {
		return nil, -defs.EFINAL
	}
	if len(w.code) == 0 {
		return nil, -defs.ENOCODE
	}

	var hdr Header_t
	hdr.Version = SBF_VERSION
	hdr.Entry = w.entry
	hdr.Bsssize = w.bsssize
	hdr.Arch = ARCH_X86_64
	hdr.Manifest = Extent_t{HDRSZ, MANSZ}

	off := uint64(HDRSZ + MANSZ)
	place := func(sz uint64, align uint64) Extent_t {
		off = util.Alignup(off, align)
		e := Extent_t{off, sz}
		off += sz
		return e
	}
	hdr.Code = place(uint64(len(w.code)), PGSIZE)
	if len(w.rodata) > 0 {
		hdr.Rodata = place(uint64(len(w.rodata)), PGSIZE)
	}
	if len(w.data) > 0 {
		hdr.Data = place(uint64(len(w.data)), PGSIZE)
	}
	hdr.Proofs = place(uint64(proofhdr_sz+len(w.proofs)*proofent_sz), 8)
	hdr.Caps = place(uint64(caphdr_sz+len(w.captmpls)*capent_sz), 8)
	hdr.Effects = place(uint64(effecthdr_sz+len(w.effects)*effectent_sz), 8)
	hdr.Strings = place(uint64(strhdr_sz+len(w.strtab)), 8)
	hdr.Totalsize = off

	if hdr.Totalsize > limits.Syslimit.Binsize {
		return nil, -defs.ETOOLARGE
	}
	exts := []Extent_t{hdr.Manifest, hdr.Code, hdr.Rodata, hdr.Data,
		hdr.Proofs, hdr.Caps, hdr.Effects, hdr.Strings}
	for i := range exts {
		for j := i + 1; j < len(exts); j++ {
			if exts[i].overlaps(exts[j]) {
				return nil, -defs.EOVERLAP
			}
		}
	}

	img := make([]uint8, hdr.Totalsize)
	copy(img[hdr.Code.Off:], w.code)
	copy(img[hdr.Rodata.Off:], w.rodata)
	copy(img[hdr.Data.Off:], w.data)

	// proof table; leaves are the digests of the encoded records
	pt := img[hdr.Proofs.Off:hdr.Proofs.end()]
	tablehdr(pt, PROOF_MAGIC, len(w.proofs), proofent_sz)
	leaves := make([]merkle.Hash_t, len(w.proofs))
	for i := range w.proofs {
		p := &w.proofs[i]
		nameoff := w.strmap[p.Name]
		rec := pt[proofhdr_sz+i*proofent_sz:][:proofent_sz]
		p.encode(rec, nameoff)
		leaves[i] = merkle.Sum(rec)
	}
	hdr.Proofroot = merkle.Root(leaves)

	ct := img[hdr.Caps.Off:hdr.Caps.end()]
	tablehdr(ct, CAP_MAGIC, len(w.captmpls), capent_sz)
	for i := range w.captmpls {
		c := &w.captmpls[i]
		c.encode(ct[caphdr_sz+i*capent_sz:][:capent_sz], w.strmap[c.Name])
	}

	et := img[hdr.Effects.Off:hdr.Effects.end()]
	tablehdr(et, EFFECT_MAGIC, len(w.effects), effectent_sz)
	for i := range w.effects {
		e := &w.effects[i]
		e.encode(et[effecthdr_sz+i*effectent_sz:][:effectent_sz],
			w.strmap[e.Target])
	}

	st := img[hdr.Strings.Off:hdr.Strings.end()]
	util.Writen(st, 4, 0, uint64(STRING_MAGIC))
	util.Writen(st, 4, 4, uint64(len(w.strtab)))
	copy(st[strhdr_sz:], w.strtab)

	// sign, then hash: the signature lives in the manifest, which the
	// content hash covers
	man := img[hdr.Manifest.Off:hdr.Manifest.end()]
	w.Manifest.Sig = [m_siglen]uint8{}
	w.Manifest.encode(man)
	if w.key != nil {
		tag := merkle.Sign(w.key, man[:m_signedlen])
		copy(w.Manifest.Sig[:], tag[:])
		copy(man[m_sig:], w.Manifest.Sig[:])
		hdr.Flags |= FLAG_SIGNED
	}

	hdr.encode(img[:HDRSZ])
	hdr.Conthash = merkle.Sum(img[HDRSZ:])
	hdr.encode(img[:HDRSZ])

	w.final = true
	w.image = img
	dbg("sbf: finalised %v bytes, %v proofs\n", len(img), len(w.proofs))
	return img, 0
}

// Image returns the finalised bytes.
func (w *Writer_t) Image() ([]uint8, defs.Err_t) {
	if !w.final {
		return nil, -defs.ENOTFINAL
	}
	return w.image, 0
}
