package estuary

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDivisorMatchesHardwareDivide(t *testing.T) {
	cases := []uint64{1, 2, 3, 7, 255, 256, 1000, 1 << 20, (1 << 34) - 1}
	for _, n := range cases {
		d := newDivisor(n)
		for _, m := range []uint64{0, 1, n - 1, n, n + 1, n * 3, ^uint64(0), ^uint64(0) - n} {
			require.Equal(t, m/n, d.div(m), "div(%d,%d)", m, n)
			require.Equal(t, m%n, d.mod(m), "mod(%d,%d)", m, n)
		}
	}
}

func TestDivisorRandomSample(t *testing.T) {
	n := uint64(1_000_003)
	d := newDivisor(n)
	var m uint64 = 1
	for i := 0; i < 10000; i++ {
		m = m*2862933555777941757 + 3037000493
		require.Equal(t, m%n, d.mod(m))
	}
}
