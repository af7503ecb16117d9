package defs

// strand identifier. 0 is never a valid strand.
type Tid_t int64

// scheduling priorities. the galactic predictor may move a strand within
// [PRIO_BACKGROUND, PRIO_REALTIME]; PRIO_IDLE and PRIO_CRITICAL are only ever
// assigned explicitly.
type Prio_t int

const (
	PRIO_IDLE Prio_t = iota
	PRIO_BACKGROUND
	PRIO_LOW
	PRIO_NORMAL
	PRIO_HIGH
	PRIO_REALTIME
	PRIO_CRITICAL

	NPRIO = int(PRIO_CRITICAL) + 1
)

func (p Prio_t) String() string {
	names := [...]string{"idle", "background", "low", "normal", "high",
		"realtime", "critical"}
	if p < 0 || int(p) >= len(names) {
		return "bad-prio"
	}
	return names[p]
}

// quantum, in timer ticks, per priority level
var Prioquantum = [NPRIO]uint64{1, 2, 4, 8, 16, 32, 64}

// exception vectors
const (
	V_DE  = 0  // divide error
	V_DB  = 1  // debug
	V_NMI = 2
	V_BP  = 3  // breakpoint
	V_OF  = 4  // overflow (INTO)
	V_BR  = 5  // bound range
	V_UD  = 6  // invalid opcode
	V_NM  = 7  // device not available
	V_DF  = 8  // double fault
	V_TS  = 10 // invalid TSS
	V_NP  = 11 // segment not present
	V_SS  = 12 // stack fault
	V_GP  = 13 // general protection
	V_PF  = 14 // page fault
	V_MF  = 16 // x87 FP error
	V_AC  = 17 // alignment check
	V_MC  = 18 // machine check
	V_XM  = 19 // SIMD FP error
	V_VE  = 20 // virtualization exception
	V_CP  = 21 // control protection
	V_HV  = 28 // hypervisor injection
	V_VC  = 29 // VMM communication
	V_SX  = 30 // security exception

	NEXCEPTIONS = 32

	IRQ_BASE        = 32
	IRQ_TIMER       = 0
	IRQ_CASCADE     = 2
	IRQ_SPUR_MASTER = 7
	IRQ_SPUR_SLAVE  = 15
	INT_TIMER       = IRQ_BASE + IRQ_TIMER
	IRQ_LAST        = 15

	NVECTORS = 256
)

// page fault error code bits
const (
	PF_PRESENT = 1 << 0
	PF_WRITE   = 1 << 1
	PF_USER    = 1 << 2
	PF_RSVD    = 1 << 3
	PF_FETCH   = 1 << 4
	PF_PROTKEY = 1 << 5
	PF_SHSTK   = 1 << 6
	PF_SGX     = 1 << 15
)

// segment selectors and rflags bits used when building contexts
const (
	SEG_KCODE = 1 << 3
	SEG_KDATA = 2 << 3
	SEG_UCODE = 3<<3 | 3
	SEG_UDATA = 4<<3 | 3

	FL_IF        = 1 << 9
	FL_RESERVED1 = 1 << 1
)
