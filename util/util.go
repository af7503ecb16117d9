package util

import "encoding/binary"

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func Rounddown(v uint64, b uint64) uint64 {
	return v - (v % b)
}

func Roundup(v uint64, b uint64) uint64 {
	return Rounddown(v+b-1, b)
}

func Ispow2(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// round v up to a power-of-two alignment
func Alignup(v uint64, align uint64) uint64 {
	if !Ispow2(align) {
		panic("bad alignment")
	}
	return (v + align - 1) &^ (align - 1)
}

func Readn(a []uint8, n int, off int) uint64 {
	s := a[off:]
	switch n {
	case 8:
		return binary.LittleEndian.Uint64(s)
	case 4:
		return uint64(binary.LittleEndian.Uint32(s))
	case 2:
		return uint64(binary.LittleEndian.Uint16(s))
	case 1:
		return uint64(s[0])
	default:
		panic("no")
	}
}

func Writen(a []uint8, sz int, off int, val uint64) {
	s := a[off:]
	switch sz {
	case 8:
		binary.LittleEndian.PutUint64(s, val)
	case 4:
		binary.LittleEndian.PutUint32(s, uint32(val))
	case 2:
		binary.LittleEndian.PutUint16(s, uint16(val))
	case 1:
		s[0] = uint8(val)
	default:
		panic("no")
	}
}
