package estuary

import "github.com/cespare/xxhash/v2"

// xxhashSum feeds the mark-word seed bytes followed by the record body
// through xxhash and returns the 64-bit digest. It backs tipHash.
func xxhashSum(seed, body []byte) uint64 {
	d := xxhash.New()
	d.Write(seed)
	d.Write(body)
	return d.Sum64()
}
