package sbf

import "seraph/merkle"
import "seraph/util"

// the on-disk format. all integers little endian. the header and
// manifest are fixed 256-byte blocks; data sections are page aligned
// and metadata tables 8-byte aligned.

const (
	// "SBF\0"
	SBF_MAGIC uint32 = 0x00464253
	// "SMFN"
	MANIFEST_MAGIC uint32 = 0x4e464d53
	// "SPRF"
	PROOF_MAGIC uint32 = 0x46525053
	// "SCAP"
	CAP_MAGIC uint32 = 0x50414353
	// "SEFF"
	EFFECT_MAGIC uint32 = 0x46464553
	// "SSTR"
	STRING_MAGIC uint32 = 0x52545353
)

const SBF_VERSION = 1

const HDRSZ = 256
const MANSZ = 256
const PGSIZE = 4096

// header flags
const (
	FLAG_SIGNED uint32 = 1 << 0
)

const ARCH_X86_64 uint32 = 62

// header field offsets
const (
	h_magic     = 0x00
	h_version   = 0x04
	h_flags     = 0x08
	h_hdrsize   = 0x0c
	h_totalsize = 0x10
	h_entry     = 0x18
	h_proofroot = 0x20
	h_conthash  = 0x40
	// eight (offset u64, size u64) pairs
	h_manifest = 0x60
	h_code     = 0x70
	h_rodata   = 0x80
	h_data     = 0x90
	h_proofs   = 0xa0
	h_caps     = 0xb0
	h_effects  = 0xc0
	h_strings  = 0xd0
	h_bsssize  = 0xe0
	h_arch     = 0xe8
	h_archfl   = 0xec
)

// manifest field offsets. everything before m_sig is covered by the
// signature.
const (
	m_magic    = 0x00
	m_version  = 0x04
	m_kmin     = 0x08
	m_kmax     = 0x0c
	m_sovflags = 0x10
	m_strands  = 0x18
	m_strandmx = 0x1c
	m_stack    = 0x20
	m_heap     = 0x28
	m_memlimit = 0x30
	m_chronon  = 0x38
	m_chrlimit = 0x40
	m_chrslice = 0x48
	m_atlas    = 0x50
	m_aether   = 0x58
	m_capslots = 0x60
	m_priority = 0x64
	m_effmask  = 0x68
	m_binid    = 0x70
	m_authkey  = 0x90
	m_sig      = 0xc0
	m_siglen   = 64
	// bytes of the manifest under the signature
	m_signedlen = m_sig
)

// table header sizes and entry sizes
const (
	proofhdr_sz  = 48
	proofent_sz  = 56
	caphdr_sz    = 24
	capent_sz    = 32
	effecthdr_sz = 16
	effectent_sz = 24
	strhdr_sz    = 8
)

// proof status
const (
	PROOF_PENDING uint32 = iota
	PROOF_PROVEN
	PROOF_FAILED
)

// proof kinds
const (
	PK_MEMSAFE uint32 = iota
	PK_TERMINATION
	PK_BOUNDS
	PK_EFFECT
	PK_CUSTOM
)

// effect kinds
const (
	EK_ARENA uint32 = iota
	EK_IPC
	EK_TIMER
	EK_PERSIST
	EK_CUSTOM
)

type Header_t struct {
	Version   uint32
	Flags     uint32
	Totalsize uint64
	Entry     uint64
	Proofroot merkle.Hash_t
	Conthash  merkle.Hash_t
	Manifest  Extent_t
	Code      Extent_t
	Rodata    Extent_t
	Data      Extent_t
	Proofs    Extent_t
	Caps      Extent_t
	Effects   Extent_t
	Strings   Extent_t
	Bsssize   uint64
	Arch      uint32
	Archflags uint32
}

type Extent_t struct {
	Off  uint64
	Size uint64
}

func (e Extent_t) end() uint64 {
	return e.Off + e.Size
}

func (e Extent_t) overlaps(o Extent_t) bool {
	if e.Size == 0 || o.Size == 0 {
		return false
	}
	return e.Off < o.end() && o.Off < e.end()
}

type Manifest_t struct {
	Kmin      uint32
	Kmax      uint32
	Sovflags  uint64
	Strands   uint32
	Strandmax uint32
	Stacksize uint64
	Heapsize  uint64
	Memlimit  uint64
	Chronon   uint64
	Chrlimit  uint64
	Chrslice  uint64
	Atlas     uint64
	Aether    uint64
	Capslots  uint32
	Priority  uint32
	Effmask   uint64
	Binid     [32]uint8
	Authkey   [32]uint8
	Sig       [m_siglen]uint8
}

type Proof_t struct {
	Id      uint32
	Kind    uint32
	Status  uint32
	Name    string
	Subject uint64
	Hash    merkle.Hash_t
}

type Captmpl_t struct {
	Base  uint64
	Len   uint64
	Perms uint32
	Flags uint32
	Name  string
}

type Effect_t struct {
	Id     uint32
	Kind   uint32
	Target string
	Flags  uint32
	Param  uint64
}

func (h *Header_t) encode(b []uint8) {
	util.Writen(b, 4, h_magic, uint64(SBF_MAGIC))
	util.Writen(b, 4, h_version, uint64(h.Version))
	util.Writen(b, 4, h_flags, uint64(h.Flags))
	util.Writen(b, 4, h_hdrsize, HDRSZ)
	util.Writen(b, 8, h_totalsize, h.Totalsize)
	util.Writen(b, 8, h_entry, h.Entry)
	copy(b[h_proofroot:], h.Proofroot[:])
	copy(b[h_conthash:], h.Conthash[:])
	exts := []struct {
		off int
		e   Extent_t
	}{
		{h_manifest, h.Manifest}, {h_code, h.Code}, {h_rodata, h.Rodata},
		{h_data, h.Data}, {h_proofs, h.Proofs}, {h_caps, h.Caps},
		{h_effects, h.Effects}, {h_strings, h.Strings},
	}
	for _, x := range exts {
		util.Writen(b, 8, x.off, x.e.Off)
		util.Writen(b, 8, x.off+8, x.e.Size)
	}
	util.Writen(b, 8, h_bsssize, h.Bsssize)
	util.Writen(b, 4, h_arch, uint64(h.Arch))
	util.Writen(b, 4, h_archfl, uint64(h.Archflags))
}

func (h *Header_t) decode(b []uint8) bool {
	if uint32(util.Readn(b, 4, h_magic)) != SBF_MAGIC {
		return false
	}
	h.Version = uint32(util.Readn(b, 4, h_version))
	h.Flags = uint32(util.Readn(b, 4, h_flags))
	h.Totalsize = util.Readn(b, 8, h_totalsize)
	h.Entry = util.Readn(b, 8, h_entry)
	copy(h.Proofroot[:], b[h_proofroot:])
	copy(h.Conthash[:], b[h_conthash:])
	dst := []*Extent_t{
		&h.Manifest, &h.Code, &h.Rodata, &h.Data, &h.Proofs, &h.Caps,
		&h.Effects, &h.Strings,
	}
	for i, e := range dst {
		off := h_manifest + 16*i
		e.Off = util.Readn(b, 8, off)
		e.Size = util.Readn(b, 8, off+8)
	}
	h.Bsssize = util.Readn(b, 8, h_bsssize)
	h.Arch = uint32(util.Readn(b, 4, h_arch))
	h.Archflags = uint32(util.Readn(b, 4, h_archfl))
	return true
}

func (m *Manifest_t) encode(b []uint8) {
	util.Writen(b, 4, m_magic, uint64(MANIFEST_MAGIC))
	util.Writen(b, 4, m_version, SBF_VERSION)
	util.Writen(b, 4, m_kmin, uint64(m.Kmin))
	util.Writen(b, 4, m_kmax, uint64(m.Kmax))
	util.Writen(b, 8, m_sovflags, m.Sovflags)
	util.Writen(b, 4, m_strands, uint64(m.Strands))
	util.Writen(b, 4, m_strandmx, uint64(m.Strandmax))
	util.Writen(b, 8, m_stack, m.Stacksize)
	util.Writen(b, 8, m_heap, m.Heapsize)
	util.Writen(b, 8, m_memlimit, m.Memlimit)
	util.Writen(b, 8, m_chronon, m.Chronon)
	util.Writen(b, 8, m_chrlimit, m.Chrlimit)
	util.Writen(b, 8, m_chrslice, m.Chrslice)
	util.Writen(b, 8, m_atlas, m.Atlas)
	util.Writen(b, 8, m_aether, m.Aether)
	util.Writen(b, 4, m_capslots, uint64(m.Capslots))
	util.Writen(b, 4, m_priority, uint64(m.Priority))
	util.Writen(b, 8, m_effmask, m.Effmask)
	copy(b[m_binid:], m.Binid[:])
	copy(b[m_authkey:], m.Authkey[:])
	copy(b[m_sig:], m.Sig[:])
}

func (m *Manifest_t) decode(b []uint8) bool {
	if uint32(util.Readn(b, 4, m_magic)) != MANIFEST_MAGIC {
		return false
	}
	m.Kmin = uint32(util.Readn(b, 4, m_kmin))
	m.Kmax = uint32(util.Readn(b, 4, m_kmax))
	m.Sovflags = util.Readn(b, 8, m_sovflags)
	m.Strands = uint32(util.Readn(b, 4, m_strands))
	m.Strandmax = uint32(util.Readn(b, 4, m_strandmx))
	m.Stacksize = util.Readn(b, 8, m_stack)
	m.Heapsize = util.Readn(b, 8, m_heap)
	m.Memlimit = util.Readn(b, 8, m_memlimit)
	m.Chronon = util.Readn(b, 8, m_chronon)
	m.Chrlimit = util.Readn(b, 8, m_chrlimit)
	m.Chrslice = util.Readn(b, 8, m_chrslice)
	m.Atlas = util.Readn(b, 8, m_atlas)
	m.Aether = util.Readn(b, 8, m_aether)
	m.Capslots = uint32(util.Readn(b, 4, m_capslots))
	m.Priority = uint32(util.Readn(b, 4, m_priority))
	m.Effmask = util.Readn(b, 8, m_effmask)
	copy(m.Binid[:], b[m_binid:m_binid+32])
	copy(m.Authkey[:], b[m_authkey:m_authkey+32])
	copy(m.Sig[:], b[m_sig:m_sig+m_siglen])
	return true
}

// proof records are encoded with the interned name offset; the leaf
// hash for the merkle root is the digest of these 56 bytes.
func (p *Proof_t) encode(b []uint8, nameoff uint32) {
	util.Writen(b, 4, 0x00, uint64(p.Id))
	util.Writen(b, 4, 0x04, uint64(p.Kind))
	util.Writen(b, 4, 0x08, uint64(p.Status))
	util.Writen(b, 4, 0x0c, uint64(nameoff))
	util.Writen(b, 8, 0x10, p.Subject)
	copy(b[0x18:], p.Hash[:])
}

func (c *Captmpl_t) encode(b []uint8, nameoff uint32) {
	util.Writen(b, 8, 0x00, c.Base)
	util.Writen(b, 8, 0x08, c.Len)
	util.Writen(b, 4, 0x10, uint64(c.Perms))
	util.Writen(b, 4, 0x14, uint64(c.Flags))
	util.Writen(b, 4, 0x18, uint64(nameoff))
}

func (e *Effect_t) encode(b []uint8, targetoff uint32) {
	util.Writen(b, 4, 0x00, uint64(e.Id))
	util.Writen(b, 4, 0x04, uint64(e.Kind))
	util.Writen(b, 4, 0x08, uint64(targetoff))
	util.Writen(b, 4, 0x0c, uint64(e.Flags))
	util.Writen(b, 8, 0x10, e.Param)
}

func tablehdr(b []uint8, magic uint32, count, entsz int) {
	util.Writen(b, 4, 0, uint64(magic))
	util.Writen(b, 4, 4, SBF_VERSION)
	util.Writen(b, 4, 8, uint64(count))
	util.Writen(b, 4, 12, uint64(entsz))
}
