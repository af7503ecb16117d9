package merkle

import "crypto/hmac"
import "crypto/sha256"

const HASHLEN = sha256.Size

type Hash_t [HASHLEN]uint8

func Sum(data []uint8) Hash_t {
	return sha256.Sum256(data)
}

// Root computes the merkle root of the leaf hashes. levels with an odd
// count duplicate their last node. a single leaf is its own root; zero
// leaves hash to the empty-input digest.
func Root(leaves []Hash_t) Hash_t {
	if len(leaves) == 0 {
		return Sum(nil)
	}
	level := make([]Hash_t, len(leaves))
	copy(level, leaves)
	var buf [2 * HASHLEN]uint8
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := level[:len(level)/2]
		for i := 0; i < len(level); i += 2 {
			copy(buf[:HASHLEN], level[i][:])
			copy(buf[HASHLEN:], level[i+1][:])
			next[i/2] = Sum(buf[:])
		}
		level = next
	}
	return level[0]
}

// Sign produces an HMAC-SHA256 tag over msg. tags are 32 bytes; SBF
// signature fields are 64, zero padded by the writer.
func Sign(key []uint8, msg []uint8) Hash_t {
	m := hmac.New(sha256.New, key)
	m.Write(msg)
	var ret Hash_t
	copy(ret[:], m.Sum(nil))
	return ret
}

func Verify(key []uint8, msg []uint8, tag Hash_t) bool {
	want := Sign(key, msg)
	return hmac.Equal(want[:], tag[:])
}
