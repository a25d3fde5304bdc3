package estuary

import "encoding/binary"

// hash is a SpookyHash-style 256-bit-state permutation hash. It is not
// cryptographic; it exists to spread keys across the probe table and to
// produce the tag cached in each entry word. The mixing permutation below
// must stay bit-exact: stored table positions and tags are computed from
// its output, so changing it breaks compatibility with existing files.
func hash(seed uint64, key []byte) uint64 {
	const magic uint64 = 0xdeadbeefdeadbeef
	s := hashState{seed, seed, magic, magic}
	length := uint64(len(key))

	for len(key) >= 32 {
		s.c += binary.LittleEndian.Uint64(key)
		s.d += binary.LittleEndian.Uint64(key[8:])
		s.mix()
		s.a += binary.LittleEndian.Uint64(key[16:])
		s.b += binary.LittleEndian.Uint64(key[24:])
		key = key[32:]
	}
	if len(key) >= 16 {
		s.c += binary.LittleEndian.Uint64(key)
		s.d += binary.LittleEndian.Uint64(key[8:])
		s.mix()
		key = key[16:]
	}

	s.d += length << 56
	switch len(key) {
	case 15:
		s.d += (uint64(key[14]) << 48) |
			(uint64(binary.LittleEndian.Uint16(key[12:])) << 32) |
			uint64(binary.LittleEndian.Uint32(key[8:]))
		s.c += binary.LittleEndian.Uint64(key)
	case 14:
		s.d += (uint64(binary.LittleEndian.Uint16(key[12:])) << 32) |
			uint64(binary.LittleEndian.Uint32(key[8:]))
		s.c += binary.LittleEndian.Uint64(key)
	case 13:
		s.d += (uint64(key[12]) << 32) | uint64(binary.LittleEndian.Uint32(key[8:]))
		s.c += binary.LittleEndian.Uint64(key)
	case 12:
		s.d += uint64(binary.LittleEndian.Uint32(key[8:]))
		s.c += binary.LittleEndian.Uint64(key)
	case 11:
		s.d += (uint64(key[10]) << 16) | uint64(binary.LittleEndian.Uint16(key[8:]))
		s.c += binary.LittleEndian.Uint64(key)
	case 10:
		s.d += uint64(binary.LittleEndian.Uint16(key[8:]))
		s.c += binary.LittleEndian.Uint64(key)
	case 9:
		s.d += uint64(key[8])
		s.c += binary.LittleEndian.Uint64(key)
	case 8:
		s.c += binary.LittleEndian.Uint64(key)
	case 7:
		s.c += (uint64(key[6]) << 48) |
			(uint64(binary.LittleEndian.Uint16(key[4:])) << 32) |
			uint64(binary.LittleEndian.Uint32(key))
	case 6:
		s.c += (uint64(binary.LittleEndian.Uint16(key[4:])) << 32) |
			uint64(binary.LittleEndian.Uint32(key))
	case 5:
		s.c += (uint64(key[4]) << 32) | uint64(binary.LittleEndian.Uint32(key))
	case 4:
		s.c += uint64(binary.LittleEndian.Uint32(key))
	case 3:
		s.c += (uint64(key[2]) << 16) | uint64(binary.LittleEndian.Uint16(key))
	case 2:
		s.c += uint64(binary.LittleEndian.Uint16(key))
	case 1:
		s.c += uint64(key[0])
	case 0:
		s.c += magic
		s.d += magic
	}
	s.end()
	return s.a
}

type hashState struct {
	a, b, c, d uint64
}

func rotl(x uint64, k uint) uint64 {
	return (x << k) | (x >> (64 - k))
}

func (s *hashState) mix() {
	s.c = rotl(s.c, 50)
	s.c += s.d
	s.a ^= s.c
	s.d = rotl(s.d, 52)
	s.d += s.a
	s.b ^= s.d
	s.a = rotl(s.a, 30)
	s.a += s.b
	s.c ^= s.a
	s.b = rotl(s.b, 41)
	s.b += s.c
	s.d ^= s.b
	s.c = rotl(s.c, 54)
	s.c += s.d
	s.a ^= s.c
	s.d = rotl(s.d, 48)
	s.d += s.a
	s.b ^= s.d
	s.a = rotl(s.a, 38)
	s.a += s.b
	s.c ^= s.a
	s.b = rotl(s.b, 37)
	s.b += s.c
	s.d ^= s.b
	s.c = rotl(s.c, 62)
	s.c += s.d
	s.a ^= s.c
	s.d = rotl(s.d, 34)
	s.d += s.a
	s.b ^= s.d
	s.a = rotl(s.a, 5)
	s.a += s.b
	s.c ^= s.a
	s.b = rotl(s.b, 36)
	s.b += s.c
	s.d ^= s.b
}

func (s *hashState) end() {
	s.d ^= s.c
	s.c = rotl(s.c, 15)
	s.d += s.c
	s.a ^= s.d
	s.d = rotl(s.d, 52)
	s.a += s.d
	s.b ^= s.a
	s.a = rotl(s.a, 26)
	s.b += s.a
	s.c ^= s.b
	s.b = rotl(s.b, 51)
	s.c += s.b
	s.d ^= s.c
	s.c = rotl(s.c, 28)
	s.d += s.c
	s.a ^= s.d
	s.d = rotl(s.d, 9)
	s.a += s.d
	s.b ^= s.a
	s.a = rotl(s.a, 47)
	s.b += s.a
	s.c ^= s.b
	s.b = rotl(s.b, 54)
	s.c += s.b
	s.d ^= s.c
	s.c = rotl(s.c, 32)
	s.d += s.c
	s.a ^= s.d
	s.d = rotl(s.d, 25)
	s.a += s.d
	s.b ^= s.a
	s.a = rotl(s.a, 63)
	s.b += s.a
}

// tag returns the top 8 bits of a hash code, cached in every entry word as
// a cheap pre-filter before a reader touches the data slab.
func tag(code uint64) uint64 {
	return code >> 56
}

// tipHash derives the 12-bit ABA-avoidance counter stored in an entry word
// from a freshly written record's mark and payload. Unlike the table's
// probing hash, this value is not part of the on-disk format's addressing
// contract (it only has to disambiguate a handful of concurrently-observed
// entries), so it is computed with xxhash rather than a second pass of the
// permutation hash above.
func tipHash(mark uint32, body []byte) uint64 {
	var seed [4]byte
	binary.LittleEndian.PutUint32(seed[:], mark)
	h := xxhashSum(seed[:], body)
	return h & 0xfff
}
