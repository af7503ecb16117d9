package trap

// the causality log keeps the most recent injection and termination
// records. one writer (the dispatcher), occasional readers (tests, the
// kernel monitor). not thread-safe; the dispatcher runs with
// interrupts off.

const clog_len = 256

type Cent_t struct {
	Vector uint64
	Rip    uint64
	Value  uint64
	Tick   uint64
}

type Clog_t struct {
	ents []Cent_t
	head int
	tail int
}

func (cl *Clog_t) cl_init(sz int) {
	if sz <= 0 {
		panic("bad clog size")
	}
	cl.ents = make([]Cent_t, sz)
	cl.head, cl.tail = 0, 0
}

func (cl *Clog_t) Full() bool {
	return cl.head-cl.tail == len(cl.ents)
}

func (cl *Clog_t) Empty() bool {
	return cl.head == cl.tail
}

func (cl *Clog_t) Used() int {
	return cl.head - cl.tail
}

// Append records an entry, dropping the oldest when full.
func (cl *Clog_t) Append(e Cent_t) {
	if cl.Full() {
		cl.tail++
	}
	cl.ents[cl.head%len(cl.ents)] = e
	cl.head++
}

// Snapshot copies out the live entries, oldest first.
func (cl *Clog_t) Snapshot() []Cent_t {
	r := make([]Cent_t, 0, cl.Used())
	for i := cl.tail; i < cl.head; i++ {
		r = append(r, cl.ents[i%len(cl.ents)])
	}
	return r
}
