// Package arena is the spectral arena: a bump allocator whose reset
// invalidates every capability it ever issued by bumping a generation
// counter. all dynamic substrate state lives in arenas; there is no
// per-object free.
package arena

import "os"
import "sync/atomic"
import "syscall"
import "unsafe"

import "seraph/caps"
import "seraph/defs"
import "seraph/limits"
import "seraph/util"

type Flag_t uint32

const (
	// zero memory handed out by Alloc
	F_ZERO Flag_t = 1 << iota
	// zero the whole pool on Reset
	F_ZERO_ON_RESET
	// file backed
	F_PERSISTENT
	// mapping shared between processes; caller serializes access
	F_SHARED
)

// offsets into an arena stand in for pointers; the all-ones offset is the
// VOID pointer.
type Ptr_t uint64

const Voidptr Ptr_t = Ptr_t(defs.VOID_PTR)

func (p Ptr_t) Isvoid() bool {
	return uint64(p) == defs.VOID_PTR
}

type Arena_t struct {
	mem         []uint8
	used        uint64
	generation  uint32
	alignment   uint64
	flags       Flag_t
	Alloc_count uint64
	// generation would have collided with VOID; arena is unusable forever
	dead bool
	file *os.File
}

var narenas int64

// Create makes an anonymous arena. alignment must be a power of two;
// allocations are aligned to at least it.
func Create(capacity uint64, alignment uint64, flags Flag_t) (*Arena_t, defs.Err_t) {
	if capacity == 0 || !util.Ispow2(alignment) {
		return nil, -defs.EALIGN
	}
	if int(atomic.AddInt64(&narenas, 1)) > limits.Syslimit.Arenas {
		atomic.AddInt64(&narenas, -1)
		return nil, -defs.EALLOC
	}
	a := &Arena_t{
		mem:        make([]uint8, capacity),
		alignment:  alignment,
		flags:      flags,
		generation: 1,
	}
	return a, 0
}

// Create_persistent opens or creates path, truncates it to capacity and maps
// it read/write. F_SHARED makes the mapping visible to other processes; the
// callers must serialize access themselves.
func Create_persistent(path string, capacity uint64, alignment uint64,
	flags Flag_t) (*Arena_t, defs.Err_t) {
	if capacity == 0 || !util.Ispow2(alignment) {
		return nil, -defs.EALIGN
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, -defs.EIO
	}
	if err := f.Truncate(int64(capacity)); err != nil {
		f.Close()
		return nil, -defs.EIO
	}
	mem, err := syscall.Mmap(int(f.Fd()), 0, int(capacity),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, -defs.EIO
	}
	if int(atomic.AddInt64(&narenas, 1)) > limits.Syslimit.Arenas {
		atomic.AddInt64(&narenas, -1)
		syscall.Munmap(mem)
		f.Close()
		return nil, -defs.EALLOC
	}
	a := &Arena_t{
		mem:        mem,
		alignment:  alignment,
		flags:      flags | F_PERSISTENT,
		generation: 1,
		file:       f,
	}
	return a, 0
}

func (a *Arena_t) Capacity() uint64 {
	return uint64(len(a.mem))
}

func (a *Arena_t) Used() uint64 {
	return a.used
}

func (a *Arena_t) Generation() uint32 {
	if a == nil || a.dead {
		return defs.VOID_U32
	}
	return a.generation
}

func (a *Arena_t) Remaining() uint64 {
	return uint64(len(a.mem)) - a.used
}

// Alloc bumps. zero size, a bad alignment, or overflow yield the VOID
// pointer and leave used unchanged. O(1).
func (a *Arena_t) Alloc(size uint64, align uint64) Ptr_t {
	if a == nil || a.dead || size == 0 || !util.Ispow2(align) {
		return Voidptr
	}
	if align < a.alignment {
		align = a.alignment
	}
	aligned := util.Alignup(a.used, align)
	if aligned+size < aligned || aligned+size > uint64(len(a.mem)) {
		return Voidptr
	}
	a.used = aligned + size
	a.Alloc_count++
	if a.flags&F_ZERO != 0 {
		s := a.mem[aligned : aligned+size]
		for i := range s {
			s[i] = 0
		}
	}
	return Ptr_t(aligned)
}

func (a *Arena_t) Alloc_array(elemsize uint64, count uint64, align uint64) Ptr_t {
	if elemsize == 0 || count == 0 {
		return Voidptr
	}
	total := elemsize * count
	if total/count != elemsize {
		return Voidptr
	}
	return a.Alloc(total, align)
}

// Calloc is Alloc with unconditional zeroing.
func (a *Arena_t) Calloc(size uint64, align uint64) Ptr_t {
	p := a.Alloc(size, align)
	if p.Isvoid() {
		return p
	}
	s := a.mem[p : uint64(p)+size]
	for i := range s {
		s[i] = 0
	}
	return p
}

// Reset bumps the generation, conceptually revoking every capability issued
// so far, and rewinds the bump pointer. the generation is monotone and never
// becomes the u32 VOID sentinel: if the next value would collide the arena
// is dead and every later operation returns VOID.
func (a *Arena_t) Reset() {
	if a == nil || a.dead {
		return
	}
	if a.generation+1 == defs.VOID_U32 {
		a.dead = true
		return
	}
	a.generation++
	a.used = 0
	a.Alloc_count = 0
	if a.flags&F_ZERO_ON_RESET != 0 {
		for i := range a.mem {
			a.mem[i] = 0
		}
	}
}

// Slice exposes an allocation for access. the caller must hold a checked
// capability or have just allocated; a VOID or out-of-bounds pointer panics
// since reaching memory through it is a program defect, not a value failure.
func (a *Arena_t) Slice(p Ptr_t, size uint64) []uint8 {
	if p.Isvoid() || uint64(p)+size > a.used {
		panic("slice outside arena")
	}
	return a.mem[p : uint64(p)+size : uint64(p)+size]
}

// Get_capability issues a capability against current-generation memory.
func (a *Arena_t) Get_capability(p Ptr_t, size uint64, perms caps.Perm_t) caps.Cap_t {
	if a == nil || a.dead || p.Isvoid() || size == 0 {
		return caps.Mkvoid()
	}
	if uint64(p)+size > a.used {
		return caps.Mkvoid()
	}
	return caps.Cap_t{
		Base:  uint64(p),
		Len:   size,
		Gen:   a.generation,
		Perms: perms,
	}
}

// Check_capability answers with the arena as issuer. stale generations are
// a definite false.
func (a *Arena_t) Check_capability(c caps.Cap_t, required caps.Perm_t) defs.Vbit_t {
	return caps.Check(c, a.Generation(), required)
}

// Sync flushes a persistent arena's dirty pages.
func (a *Arena_t) Sync() defs.Err_t {
	if a == nil || a.dead {
		return -defs.EIO
	}
	if a.flags&F_PERSISTENT == 0 {
		return 0
	}
	if len(a.mem) == 0 {
		return 0
	}
	// syscall.Msync only exists on the bsds; raw msync(2) instead
	_, _, errno := syscall.Syscall(syscall.SYS_MSYNC,
		uintptr(unsafe.Pointer(&a.mem[0])), uintptr(len(a.mem)),
		uintptr(syscall.MS_SYNC))
	if errno != 0 {
		return -defs.EIO
	}
	return 0
}

// Destroy unmaps and releases the backing file if any. the arena must not
// be used afterwards.
func (a *Arena_t) Destroy() {
	if a == nil {
		return
	}
	if a.flags&F_PERSISTENT != 0 {
		syscall.Munmap(a.mem)
		a.file.Close()
	}
	a.mem = nil
	a.dead = true
	atomic.AddInt64(&narenas, -1)
}
