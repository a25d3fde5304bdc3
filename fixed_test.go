package estuary

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func smallLuckyConfig() LuckyConfig {
	return LuckyConfig{
		ItemLimit: minLuckyCapacity,
		KeyLen:    8,
		ValLen:    8,
	}
}

func fixedKey(i int) []byte { return []byte(fmt.Sprintf("key%05d", i)) }
func fixedVal(i int) []byte { return []byte(fmt.Sprintf("val%05d", i)) }

func seedFixedSource(n int) *SliceSource {
	src := &SliceSource{}
	for i := 0; i < n; i++ {
		src.Keys = append(src.Keys, fixedKey(i))
		src.Vals = append(src.Vals, fixedVal(i))
	}
	return src
}

func TestLuckyCreateLoadFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lucky.est")
	require.NoError(t, CreateLucky(path, smallLuckyConfig(), seedFixedSource(100)))

	lk, err := LoadLucky(path, Monopoly)
	require.NoError(t, err)
	defer lk.Close()

	require.Equal(t, uint64(100), lk.Item())
	for i := 0; i < 100; i++ {
		got, ok := lk.Fetch(fixedKey(i))
		require.True(t, ok)
		require.Equal(t, fixedVal(i), got)
	}
	_, ok := lk.Fetch([]byte("missing0"))
	require.False(t, ok)
}

func TestLuckyUpdateAndErase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lucky.est")
	require.NoError(t, CreateLucky(path, smallLuckyConfig(), nil))

	lk, err := LoadLucky(path, Monopoly)
	require.NoError(t, err)
	defer lk.Close()

	require.True(t, lk.Update(fixedKey(1), fixedVal(1)))
	got, ok := lk.Fetch(fixedKey(1))
	require.True(t, ok)
	require.Equal(t, fixedVal(1), got)

	require.True(t, lk.Update(fixedKey(1), fixedVal(2)))
	got, ok = lk.Fetch(fixedKey(1))
	require.True(t, ok)
	require.Equal(t, fixedVal(2), got)

	require.True(t, lk.Erase(fixedKey(1)))
	_, ok = lk.Fetch(fixedKey(1))
	require.False(t, ok)
	require.False(t, lk.Erase(fixedKey(1)))
}

func TestLuckyBatchFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lucky.est")
	require.NoError(t, CreateLucky(path, smallLuckyConfig(), seedFixedSource(40)))

	lk, err := LoadLucky(path, Monopoly)
	require.NoError(t, err)
	defer lk.Close()

	keys := make([][]byte, 0, 45)
	for i := 0; i < 40; i++ {
		keys = append(keys, fixedKey(i))
	}
	for i := 40; i < 45; i++ {
		keys = append(keys, fixedKey(i)) // absent
	}

	vals, found := lk.BatchFetch(keys)
	require.Len(t, vals, 45)
	require.Len(t, found, 45)
	for i := 0; i < 40; i++ {
		require.True(t, found[i])
		require.Equal(t, fixedVal(i), vals[i])
	}
	for i := 40; i < 45; i++ {
		require.False(t, found[i])
	}
}

func TestLuckyRecycleRingGracePeriod(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lucky.est")
	require.NoError(t, CreateLucky(path, smallLuckyConfig(), seedFixedSource(10)))

	lk, err := LoadLucky(path, Monopoly)
	require.NoError(t, err)
	defer lk.Close()

	require.True(t, lk.Erase(fixedKey(0)))

	require.True(t, lk.Update(fixedKey(100), fixedVal(100)))
	got, ok := lk.Fetch(fixedKey(100))
	require.True(t, ok)
	require.Equal(t, fixedVal(100), got)

	time.Sleep(reclaimGrace + 5*time.Millisecond)
	require.True(t, lk.Update(fixedKey(101), fixedVal(101)))
	got, ok = lk.Fetch(fixedKey(101))
	require.True(t, ok)
	require.Equal(t, fixedVal(101), got)
}

// TestLuckyRecycleRingWrapsWithoutLeak drives enough erase/update churn to
// force the recycle ring past a full lap, so the oldest bin must be flushed
// onto the free list mid-test rather than merely aging out at the end.
func TestLuckyRecycleRingWrapsWithoutLeak(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lucky.est")
	const live = 1000
	require.NoError(t, CreateLucky(path, smallLuckyConfig(), seedFixedSource(live)))

	lk, err := LoadLucky(path, Monopoly)
	require.NoError(t, err)
	defer lk.Close()

	const churn = ringSize + ringBinSize*4
	for round := 0; round < churn; round++ {
		i := round % live
		require.True(t, lk.Erase(fixedKey(i)))
		require.True(t, lk.Update(fixedKey(i), fixedVal(round)))
	}

	require.Equal(t, uint64(live), lk.Item())
	for i := 0; i < live; i++ {
		_, ok := lk.Fetch(fixedKey(i))
		require.True(t, ok, "key %d should survive the churn without being leaked", i)
	}

	// The free list must still have room for the table's headroom: a
	// fresh insert past `live` keys should still succeed.
	require.True(t, lk.Update(fixedKey(live), fixedVal(live)))
}

func TestLuckyBatchUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lucky.est")
	require.NoError(t, CreateLucky(path, smallLuckyConfig(), nil))

	lk, err := LoadLucky(path, Monopoly)
	require.NoError(t, err)
	defer lk.Close()

	n, err := lk.BatchUpdate(seedFixedSource(20))
	require.NoError(t, err)
	require.Equal(t, 20, n)
	require.Equal(t, uint64(20), lk.Item())
	for i := 0; i < 20; i++ {
		got, ok := lk.Fetch(fixedKey(i))
		require.True(t, ok)
		require.Equal(t, fixedVal(i), got)
	}
}
