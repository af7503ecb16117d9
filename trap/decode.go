package trap

// Divlen decodes a DIV or IDIV at the start of insn and returns the
// instruction length. the accepted shape is an optional REX prefix,
// opcode 0xf6/0xf7, a modrm byte with reg /6 or /7, then an optional
// sib byte and displacement. anything else returns false.
func Divlen(insn []uint8) (uint64, bool) {
	i := 0
	if i < len(insn) && insn[i]&0xf0 == 0x40 {
		// REX
		i++
	}
	if i >= len(insn) {
		return 0, false
	}
	op := insn[i]
	if op != 0xf6 && op != 0xf7 {
		return 0, false
	}
	i++
	if i >= len(insn) {
		return 0, false
	}
	modrm := insn[i]
	i++
	reg := modrm >> 3 & 7
	if reg != 6 && reg != 7 {
		return 0, false
	}
	mod := modrm >> 6
	rm := modrm & 7
	if mod == 3 {
		// register operand
		return uint64(i), true
	}
	if rm == 4 {
		if i >= len(insn) {
			return 0, false
		}
		sib := insn[i]
		i++
		if mod == 0 && sib&7 == 5 {
			// no base, disp32
			i += 4
		}
	} else if mod == 0 && rm == 5 {
		// rip-relative
		i += 4
	}
	switch mod {
	case 1:
		i += 1
	case 2:
		i += 4
	}
	return uint64(i), true
}
