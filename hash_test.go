package estuary

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	seed := uint64(12345)
	key := []byte("the quick brown fox")
	require.Equal(t, hash(seed, key), hash(seed, key))
}

func TestHashSeedSensitive(t *testing.T) {
	key := []byte("jumps over the lazy dog")
	require.NotEqual(t, hash(1, key), hash(2, key))
}

func TestHashLengthBoundaries(t *testing.T) {
	seed := uint64(7)
	for n := 0; n <= 40; n++ {
		key := make([]byte, n)
		for i := range key {
			key[i] = byte(i)
		}
		// must not panic across every tail-length branch
		_ = hash(seed, key)
	}
}

func TestTagIsTopByte(t *testing.T) {
	code := uint64(0xAB<<56 | 0x1234)
	require.Equal(t, uint64(0xAB), tag(code))
}

func TestTipHashInRange(t *testing.T) {
	mark := markForRecord(3, 5)
	body := []byte("abcdefgh")
	tip := tipHash(mark, body)
	require.LessOrEqual(t, tip, uint64(0xfff))
}
