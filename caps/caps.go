// Package caps is the capability model: a (base, length, generation,
// permissions) handle that replaces raw pointers at the substrate interface.
// a capability is live iff its generation equals the issuing arena's current
// generation; arena reset revokes every outstanding capability in O(1).
package caps

import "seraph/defs"

type Perm_t uint8

const (
	PERM_R Perm_t = 1 << iota
	PERM_W
	PERM_X
	PERM_DERIVE
	PERM_SEAL
	PERM_UNSEAL
	PERM_GLOBAL
	PERM_LOCAL

	PERM_RW  = PERM_R | PERM_W
	PERM_RWX = PERM_R | PERM_W | PERM_X
)

type Capflag_t uint8

const (
	CAP_SEALED Capflag_t = 1 << iota
)

type Cap_t struct {
	Base  uint64
	Len   uint64
	Gen   uint32
	Perms Perm_t
	Flags Capflag_t
}

// Mkvoid is the capability analogue of the VOID pointer.
func Mkvoid() Cap_t {
	return Cap_t{
		Base:  defs.VOID_PTR,
		Len:   0,
		Gen:   defs.VOID_U32,
		Perms: 0,
	}
}

func (c *Cap_t) Isvoid() bool {
	return c.Base == defs.VOID_PTR || c.Gen == defs.VOID_U32
}

// Derive narrows a capability: the child must lie inside the parent, may
// request only permissions the parent holds, and inherits the parent's
// generation. anything else is VOID.
func Derive(parent Cap_t, base uint64, length uint64, perms Perm_t) Cap_t {
	if parent.Isvoid() {
		return Mkvoid()
	}
	if parent.Perms&PERM_DERIVE == 0 {
		return Mkvoid()
	}
	if length == 0 {
		return Mkvoid()
	}
	if base < parent.Base || base+length < base {
		return Mkvoid()
	}
	if base+length > parent.Base+parent.Len {
		return Mkvoid()
	}
	if perms&^parent.Perms != 0 {
		return Mkvoid()
	}
	return Cap_t{Base: base, Len: length, Gen: parent.Gen, Perms: perms}
}

// Check answers whether c grants required against an issuer whose current
// generation is curgen. a stale or underprivileged capability is a definite
// VBIT_FALSE; only VOID inputs produce VBIT_VOID.
func Check(c Cap_t, curgen uint32, required Perm_t) defs.Vbit_t {
	if c.Isvoid() || defs.Is_void_u32(curgen) {
		return defs.VBIT_VOID
	}
	if c.Gen != curgen {
		return defs.VBIT_FALSE
	}
	if c.Len == 0 {
		return defs.VBIT_FALSE
	}
	if c.Flags&CAP_SEALED != 0 {
		return defs.VBIT_FALSE
	}
	if c.Perms&required != required {
		return defs.VBIT_FALSE
	}
	return defs.VBIT_TRUE
}

// Seal marks a capability so it cannot be used for access until unsealed.
func Seal(c Cap_t) Cap_t {
	if c.Isvoid() || c.Perms&PERM_SEAL == 0 {
		return Mkvoid()
	}
	c.Flags |= CAP_SEALED
	return c
}

func Unseal(c Cap_t) Cap_t {
	if c.Isvoid() || c.Perms&PERM_UNSEAL == 0 || c.Flags&CAP_SEALED == 0 {
		return Mkvoid()
	}
	c.Flags &^= CAP_SEALED
	return c
}
