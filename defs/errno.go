package defs

// typed errors for structural operations (SBF writer/loader, arenas). by
// convention fallible calls return -E* on failure and 0 on success.
type Err_t int

const (
	EALLOC Err_t = iota + 1
	ENOCODE
	ETOOLARGE
	EHASHFAIL
	EIO
	EALIGN
	EOVERLAP
	EBADPROOF
	EBADCAP
	EBADEFFECT
	ESTRFULL
	ENOTFINAL
	EFINAL
	ESIGNFAIL
	EBADMAGIC
	EBADVERSION
	EBADBOUNDS
	EHASHMISMATCH
	EPROOFROOT
	EPROOFFAILED
	EUNSIGNED
	EKERNVER
	ENOMEM
	EEXIST
	EINVAL
)

var errstr = map[Err_t]string{
	EALLOC:        "allocation failed",
	ENOCODE:       "no code section",
	ETOOLARGE:     "too large",
	EHASHFAIL:     "hash computation failed",
	EIO:           "i/o error",
	EALIGN:        "bad alignment",
	EOVERLAP:      "sections overlap",
	EBADPROOF:     "invalid proof entry",
	EBADCAP:       "invalid capability template",
	EBADEFFECT:    "invalid effect entry",
	ESTRFULL:      "string table full",
	ENOTFINAL:     "not finalized",
	EFINAL:        "already finalized",
	ESIGNFAIL:     "signing failed",
	EBADMAGIC:     "bad magic",
	EBADVERSION:   "bad version",
	EBADBOUNDS:    "section out of bounds",
	EHASHMISMATCH: "content hash mismatch",
	EPROOFROOT:    "proof merkle root mismatch",
	EPROOFFAILED:  "failed proof present",
	EUNSIGNED:     "binary not signed",
	EKERNVER:      "kernel version range empty",
	ENOMEM:        "out of memory",
	EEXIST:        "already exists",
	EINVAL:        "invalid argument",
}

func (e Err_t) String() string {
	n := e
	if n < 0 {
		n = -n
	}
	if s, ok := errstr[n]; ok {
		return s
	}
	return "unknown error"
}
