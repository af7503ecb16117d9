package defs

// interrupt frame layout: 22 64-bit words (176 bytes). the stubs push the
// general registers then vector and error code (0 when the CPU pushes none);
// the CPU pushed rip/cs/rflags/rsp/ss underneath. the dispatcher receives
// the frame by pointer so register edits are visible on return.
const (
	TF_R15 = iota
	TF_R14
	TF_R13
	TF_R12
	TF_R11
	TF_R10
	TF_R9
	TF_R8
	TF_RBP
	TF_RDI
	TF_RSI
	TF_RDX
	TF_RCX
	TF_RBX
	TF_RAX
	TF_TRAP
	TF_ERROR
	TF_RIP
	TF_CS
	TF_RFLAGS
	TF_RSP
	TF_SS

	TFSIZE  = 22
	TFBYTES = TFSIZE * 8
)

type Tf_t [TFSIZE]uint64
