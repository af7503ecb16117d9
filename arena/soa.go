package arena

import "seraph/caps"
import "seraph/defs"

// a schema describes the packed (AoS) element layout that an SoA array
// scatters: one (offset, size, align) triple per field.
type Field_t struct {
	Name  string
	Off   uint64
	Size  uint64
	Align uint64
}

type Schema_t struct {
	Fields   []Field_t
	Elemsize uint64
}

func Mkschema(elemsize uint64, fields ...Field_t) *Schema_t {
	for _, f := range fields {
		if f.Size == 0 || f.Off+f.Size > elemsize {
			panic("bad schema field")
		}
	}
	return &Schema_t{Fields: fields, Elemsize: elemsize}
}

// an SoA array: one contiguous per-field sub-array inside the arena. live
// iff its generation matches the arena's.
type Soa_t struct {
	arena    *Arena_t
	schema   *Schema_t
	capacity uint64
	count    uint64
	gen      uint32
	fbase    []Ptr_t
}

func Soa_create(a *Arena_t, schema *Schema_t, capacity uint64) (*Soa_t, defs.Err_t) {
	if a == nil || schema == nil || capacity == 0 {
		return nil, -defs.EALLOC
	}
	s := &Soa_t{
		arena:    a,
		schema:   schema,
		capacity: capacity,
		gen:      a.Generation(),
		fbase:    make([]Ptr_t, len(schema.Fields)),
	}
	if defs.Is_void_u32(s.gen) {
		return nil, -defs.EALLOC
	}
	for i, f := range schema.Fields {
		p := a.Alloc_array(f.Size, capacity, f.Align)
		if p.Isvoid() {
			return nil, -defs.EALLOC
		}
		s.fbase[i] = p
	}
	return s, 0
}

func (s *Soa_t) live() bool {
	return s.gen == s.arena.Generation()
}

func (s *Soa_t) Count() uint64 {
	return s.count
}

func (s *Soa_t) Capacity() uint64 {
	return s.capacity
}

// Push scatters one packed element field-by-field. a stale array is a
// definite false.
func (s *Soa_t) Push(elem []uint8) defs.Vbit_t {
	if elem == nil {
		return defs.VBIT_VOID
	}
	if !s.live() || uint64(len(elem)) < s.schema.Elemsize ||
		s.count == s.capacity {
		return defs.VBIT_FALSE
	}
	for i, f := range s.schema.Fields {
		dst := s.arena.Slice(s.fbase[i]+Ptr_t(s.count*f.Size), f.Size)
		copy(dst, elem[f.Off:f.Off+f.Size])
	}
	s.count++
	return defs.VBIT_TRUE
}

// Get gathers element index into out (packed layout).
func (s *Soa_t) Get(index uint64, out []uint8) defs.Vbit_t {
	if out == nil {
		return defs.VBIT_VOID
	}
	if !s.live() || index >= s.count ||
		uint64(len(out)) < s.schema.Elemsize {
		return defs.VBIT_FALSE
	}
	for i, f := range s.schema.Fields {
		src := s.arena.Slice(s.fbase[i]+Ptr_t(index*f.Size), f.Size)
		copy(out[f.Off:f.Off+f.Size], src)
	}
	return defs.VBIT_TRUE
}

// a prism: the field-slice view across an SoA array. adjacent elements are
// exactly the field size apart.
type Prism_t struct {
	arena  *Arena_t
	Base   Ptr_t
	Stride uint64
	Count  uint64
	Gen    uint32
	Perms  caps.Perm_t
}

func (s *Soa_t) Prism(field int, perms caps.Perm_t) Prism_t {
	if !s.live() || field < 0 || field >= len(s.schema.Fields) {
		return Prism_t{Base: Voidptr, Gen: defs.VOID_U32}
	}
	f := s.schema.Fields[field]
	return Prism_t{
		arena:  s.arena,
		Base:   s.fbase[field],
		Stride: f.Size,
		Count:  s.count,
		Gen:    s.gen,
		Perms:  perms,
	}
}

func (p *Prism_t) live() bool {
	return !p.Base.Isvoid() && p.Gen == p.arena.Generation()
}

// At returns the bytes of element i, or nil when the prism is stale or i is
// out of bounds.
func (p *Prism_t) At(i uint64) []uint8 {
	if !p.live() || i >= p.Count {
		return nil
	}
	return p.arena.Slice(p.Base+Ptr_t(i*p.Stride), p.Stride)
}

// Fill writes val into every element. it never crosses the field boundary.
func (p *Prism_t) Fill(val []uint8) defs.Vbit_t {
	if val == nil {
		return defs.VBIT_VOID
	}
	if !p.live() || uint64(len(val)) != p.Stride || p.Perms&caps.PERM_W == 0 {
		return defs.VBIT_FALSE
	}
	whole := p.arena.Slice(p.Base, p.Count*p.Stride)
	for i := uint64(0); i < p.Count; i++ {
		copy(whole[i*p.Stride:(i+1)*p.Stride], val)
	}
	return defs.VBIT_TRUE
}

// Copy copies src's elements into dst. both prisms must be live, writable/
// readable, and have identical stride and count.
func Prism_copy(dst *Prism_t, src *Prism_t) defs.Vbit_t {
	if dst == nil || src == nil {
		return defs.VBIT_VOID
	}
	if !dst.live() || !src.live() {
		return defs.VBIT_FALSE
	}
	if dst.Stride != src.Stride || dst.Count != src.Count {
		return defs.VBIT_FALSE
	}
	if dst.Perms&caps.PERM_W == 0 || src.Perms&caps.PERM_R == 0 {
		return defs.VBIT_FALSE
	}
	d := dst.arena.Slice(dst.Base, dst.Count*dst.Stride)
	s := src.arena.Slice(src.Base, src.Count*src.Stride)
	copy(d, s)
	return defs.VBIT_TRUE
}
