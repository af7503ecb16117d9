package defs

// VOID is the all-ones bit pattern at every width. a failed computation
// becomes VOID and propagates; nothing in the substrate converts VOID back
// into a defined value implicitly.
const (
	VOID_U8  uint8  = 0xff
	VOID_U16 uint16 = 0xffff
	VOID_U32 uint32 = 0xffffffff
	VOID_U64 uint64 = 0xffffffffffffffff

	// sentinel pointer; distinct from the null address
	VOID_PTR uint64 = 0xffffffffffffffff
)

func Is_void_u32(v uint32) bool {
	return v == VOID_U32
}

func Is_void_u64(v uint64) bool {
	return v == VOID_U64
}

// Vbit_t is three-valued logic. VBIT_VOID dominates: any operation with a
// VOID operand is VOID, including ones a Kleene logic would decide.
type Vbit_t uint8

const (
	VBIT_FALSE Vbit_t = 0
	VBIT_TRUE  Vbit_t = 1
	VBIT_VOID  Vbit_t = 0xff
)

func Mk_vbit(b bool) Vbit_t {
	if b {
		return VBIT_TRUE
	}
	return VBIT_FALSE
}

func (v Vbit_t) Isvoid() bool {
	return v != VBIT_FALSE && v != VBIT_TRUE
}

// Istrue is the assertion form: VOID is not true.
func (v Vbit_t) Istrue() bool {
	return v == VBIT_TRUE
}

func (v Vbit_t) And(o Vbit_t) Vbit_t {
	if v.Isvoid() || o.Isvoid() {
		return VBIT_VOID
	}
	if v == VBIT_TRUE && o == VBIT_TRUE {
		return VBIT_TRUE
	}
	return VBIT_FALSE
}

func (v Vbit_t) Or(o Vbit_t) Vbit_t {
	if v.Isvoid() || o.Isvoid() {
		return VBIT_VOID
	}
	if v == VBIT_TRUE || o == VBIT_TRUE {
		return VBIT_TRUE
	}
	return VBIT_FALSE
}

func (v Vbit_t) Not() Vbit_t {
	switch v {
	case VBIT_TRUE:
		return VBIT_FALSE
	case VBIT_FALSE:
		return VBIT_TRUE
	}
	return VBIT_VOID
}

func (v Vbit_t) String() string {
	switch v {
	case VBIT_TRUE:
		return "true"
	case VBIT_FALSE:
		return "false"
	}
	return "void"
}
