package sbf

import "seraph/defs"
import "seraph/merkle"
import "seraph/res"
import "seraph/util"

type Opts_t struct {
	// duplicate the buffer instead of borrowing it
	Copy bool
	// refuse binaries carrying a proof with status failed
	Reject_failed_proofs bool
	// refuse binaries without FLAG_SIGNED; with a key, also verify
	Require_signed bool
	// hmac key for signature verification, nil to skip
	Key []uint8
	// the kernel versions this loader can host
	Kmin uint32
	Kmax uint32
}

type Loader_t struct {
	opts     Opts_t
	img      []uint8
	Hdr      Header_t
	Manifest Manifest_t
	Proofs   []Proof_t
	Caps     []Captmpl_t
	Effects  []Effect_t
	strtab   []uint8
	code     []uint8
	rodata   []uint8
	data     []uint8
}

// Load_buffer parses and bounds-checks an SBF image. with opts.Copy
// false the buffer is borrowed and must outlive the loader; every
// returned section aliases it.
func Load_buffer(data []uint8, opts Opts_t) (*Loader_t, defs.Err_t) {
	if len(data) < HDRSZ+MANSZ {
		return nil, -defs.EBADBOUNDS
	}
	l := &Loader_t{opts: opts}
	if !l.Hdr.decode(data[:HDRSZ]) {
		return nil, -defs.EBADMAGIC
	}
	if l.Hdr.Version != SBF_VERSION {
		return nil, -defs.EBADVERSION
	}
	total := l.Hdr.Totalsize
	if total < HDRSZ+MANSZ || total > uint64(len(data)) {
		return nil, -defs.EBADBOUNDS
	}
	if opts.Copy {
		l.img = make([]uint8, total)
		copy(l.img, data[:total])
	} else {
		l.img = data[:total]
	}
	if err := l.parse_sections(); err != 0 {
		return nil, err
	}
	// kernel version gate: the manifest range must intersect ours
	lo, hi := l.Manifest.Kmin, l.Manifest.Kmax
	if opts.Kmin > lo {
		lo = opts.Kmin
	}
	if opts.Kmax < hi {
		hi = opts.Kmax
	}
	if lo > hi {
		return nil, -defs.EKERNVER
	}
	return l, 0
}

func (l *Loader_t) section(e Extent_t) ([]uint8, defs.Err_t) {
	if e.Size == 0 {
		return nil, 0
	}
	if e.Off > l.Hdr.Totalsize || e.end() > l.Hdr.Totalsize ||
		e.end() < e.Off {
		return nil, -defs.EBADBOUNDS
	}
	return l.img[e.Off:e.end()], 0
}

func (l *Loader_t) parse_sections() defs.Err_t {
	man, err := l.section(l.Hdr.Manifest)
	if err != 0 {
		return err
	}
	if len(man) != MANSZ || !l.Manifest.decode(man) {
		return -defs.EBADMAGIC
	}

	if l.code, err = l.section(l.Hdr.Code); err != 0 {
		return err
	}
	if len(l.code) == 0 {
		return -defs.ENOCODE
	}
	if l.rodata, err = l.section(l.Hdr.Rodata); err != 0 {
		return err
	}
	if l.data, err = l.section(l.Hdr.Data); err != 0 {
		return err
	}
	if err := l.parse_proofs(); err != 0 {
		return err
	}
	if err := l.parse_caps(); err != 0 {
		return err
	}
	if err := l.parse_effects(); err != 0 {
		return err
	}
	return l.parse_strings()
}

// table header sanity: magic, declared entry size, and that count
// entries actually fit
func tablecheck(b []uint8, hdrsz int, magic uint32, entsz int,
	bad defs.Err_t) (int, defs.Err_t) {
	if len(b) < hdrsz {
		return 0, -defs.EBADBOUNDS
	}
	if uint32(util.Readn(b, 4, 0)) != magic {
		return 0, bad
	}
	count := int(util.Readn(b, 4, 8))
	if int(util.Readn(b, 4, 12)) != entsz {
		return 0, bad
	}
	if count < 0 || hdrsz+count*entsz > len(b) {
		return 0, -defs.EBADBOUNDS
	}
	return count, 0
}

func (l *Loader_t) parse_proofs() defs.Err_t {
	b, err := l.section(l.Hdr.Proofs)
	if err != 0 {
		return err
	}
	if b == nil {
		return 0
	}
	count, err := tablecheck(b, proofhdr_sz, PROOF_MAGIC, proofent_sz,
		-defs.EBADPROOF)
	if err != 0 {
		return err
	}
	l.Proofs = make([]Proof_t, count)
	for i := 0; i < count; i++ {
		rec := b[proofhdr_sz+i*proofent_sz:][:proofent_sz]
		p := &l.Proofs[i]
		p.Id = uint32(util.Readn(rec, 4, 0x00))
		p.Kind = uint32(util.Readn(rec, 4, 0x04))
		p.Status = uint32(util.Readn(rec, 4, 0x08))
		p.Name = "" // resolved after the string table is parsed
		p.Subject = util.Readn(rec, 8, 0x10)
		copy(p.Hash[:], rec[0x18:])
		if p.Status > PROOF_FAILED {
			return -defs.EBADPROOF
		}
	}
	return 0
}

func (l *Loader_t) parse_caps() defs.Err_t {
	b, err := l.section(l.Hdr.Caps)
	if err != 0 {
		return err
	}
	if b == nil {
		return 0
	}
	count, err := tablecheck(b, caphdr_sz, CAP_MAGIC, capent_sz,
		-defs.EBADCAP)
	if err != 0 {
		return err
	}
	l.Caps = make([]Captmpl_t, count)
	for i := 0; i < count; i++ {
		rec := b[caphdr_sz+i*capent_sz:][:capent_sz]
		c := &l.Caps[i]
		c.Base = util.Readn(rec, 8, 0x00)
		c.Len = util.Readn(rec, 8, 0x08)
		c.Perms = uint32(util.Readn(rec, 4, 0x10))
		c.Flags = uint32(util.Readn(rec, 4, 0x14))
		if c.Len == 0 {
			return -defs.EBADCAP
		}
	}
	return 0
}

func (l *Loader_t) parse_effects() defs.Err_t {
	b, err := l.section(l.Hdr.Effects)
	if err != 0 {
		return err
	}
	if b == nil {
		return 0
	}
	count, err := tablecheck(b, effecthdr_sz, EFFECT_MAGIC, effectent_sz,
		-defs.EBADEFFECT)
	if err != 0 {
		return err
	}
	l.Effects = make([]Effect_t, count)
	for i := 0; i < count; i++ {
		rec := b[effecthdr_sz+i*effectent_sz:][:effectent_sz]
		e := &l.Effects[i]
		e.Id = uint32(util.Readn(rec, 4, 0x00))
		e.Kind = uint32(util.Readn(rec, 4, 0x04))
		e.Flags = uint32(util.Readn(rec, 4, 0x0c))
		e.Param = util.Readn(rec, 8, 0x10)
		if e.Kind > EK_CUSTOM {
			return -defs.EBADEFFECT
		}
	}
	return 0
}

func (l *Loader_t) parse_strings() defs.Err_t {
	b, err := l.section(l.Hdr.Strings)
	if err != 0 {
		return err
	}
	if b == nil {
		return 0
	}
	if len(b) < strhdr_sz {
		return -defs.EBADBOUNDS
	}
	if uint32(util.Readn(b, 4, 0)) != STRING_MAGIC {
		return -defs.EBADMAGIC
	}
	sz := int(util.Readn(b, 4, 4))
	if strhdr_sz+sz > len(b) {
		return -defs.EBADBOUNDS
	}
	l.strtab = b[strhdr_sz : strhdr_sz+sz]
	if sz > 0 && l.strtab[0] != 0 {
		return -defs.EBADBOUNDS
	}
	// resolve interned names now that the table is known
	rb, _ := l.section(l.Hdr.Proofs)
	for i := range l.Proofs {
		rec := rb[proofhdr_sz+i*proofent_sz:]
		l.Proofs[i].Name = l.Str(uint32(util.Readn(rec, 4, 0x0c)))
	}
	cb, _ := l.section(l.Hdr.Caps)
	for i := range l.Caps {
		rec := cb[caphdr_sz+i*capent_sz:]
		l.Caps[i].Name = l.Str(uint32(util.Readn(rec, 4, 0x18)))
	}
	eb, _ := l.section(l.Hdr.Effects)
	for i := range l.Effects {
		rec := eb[effecthdr_sz+i*effectent_sz:]
		l.Effects[i].Target = l.Str(uint32(util.Readn(rec, 4, 0x08)))
	}
	return 0
}

// Str resolves a string-table offset; anything out of range is the
// empty string.
func (l *Loader_t) Str(off uint32) string {
	if int(off) >= len(l.strtab) {
		return ""
	}
	b := l.strtab[off:]
	for i := range b {
		if b[i] == 0 {
			return string(b[:i])
		}
	}
	return ""
}

// Validate seals the deal: content hash, proof root, proof status and
// signing policy.
func (l *Loader_t) Validate() defs.Err_t {
	got := merkle.Sum(l.img[HDRSZ:])
	if got != l.Hdr.Conthash {
		return -defs.EHASHMISMATCH
	}

	b, _ := l.section(l.Hdr.Proofs)
	leaves := make([]merkle.Hash_t, len(l.Proofs))
	for i := range l.Proofs {
		rec := b[proofhdr_sz+i*proofent_sz:][:proofent_sz]
		leaves[i] = merkle.Sum(rec)
	}
	if merkle.Root(leaves) != l.Hdr.Proofroot {
		return -defs.EPROOFROOT
	}

	if l.opts.Reject_failed_proofs {
		for i := range l.Proofs {
			if l.Proofs[i].Status == PROOF_FAILED {
				return -defs.EPROOFFAILED
			}
		}
	}

	if l.opts.Require_signed {
		if l.Hdr.Flags&FLAG_SIGNED == 0 {
			return -defs.EUNSIGNED
		}
		if l.opts.Key != nil {
			man, _ := l.section(l.Hdr.Manifest)
			var tag merkle.Hash_t
			copy(tag[:], l.Manifest.Sig[:merkle.HASHLEN])
			if !merkle.Verify(l.opts.Key, man[:m_signedlen], tag) {
				return -defs.ESIGNFAIL
			}
		}
	}
	return 0
}

func (l *Loader_t) Code() []uint8 {
	return l.code
}

func (l *Loader_t) Rodata() []uint8 {
	return l.rodata
}

func (l *Loader_t) Data() []uint8 {
	return l.data
}

func (l *Loader_t) Entry() uint64 {
	return l.Hdr.Entry
}

func (l *Loader_t) Required_stack() uint64 {
	return l.Manifest.Stacksize
}

// Res packages the manifest demands for admission.
func (l *Loader_t) Res() res.Res_t {
	n := l.Manifest.Strandmax
	if n == 0 {
		n = l.Manifest.Strands
	}
	return res.Res_t{
		Strands: uint(n),
		Stack:   l.Manifest.Stacksize,
		Heap:    l.Manifest.Heapsize,
		Chronon: l.Manifest.Chronon,
	}
}
