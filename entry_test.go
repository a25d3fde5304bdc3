package estuary

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntryRoundTrip(t *testing.T) {
	e := newEntry(1234, 0xabc, 0xef, 5)
	require.Equal(t, uint64(1234), entryBlk(e))
	require.Equal(t, uint64(0xabc), entryTip(e))
	require.Equal(t, uint64(0xef), entryTag(e))
	require.Equal(t, uint64(5), entryOff(e))
	require.False(t, entryFit(e))

	e = entrySetFit(e)
	require.True(t, entryFit(e))
	e = entryClearFit(e)
	require.False(t, entryFit(e))

	e = entrySetBlk(e, 999)
	require.Equal(t, uint64(999), entryBlk(e))
}

func TestEntryOffSaturates(t *testing.T) {
	e := newEntry(0, 0, 0, 999)
	require.Equal(t, maxOff, entryOff(e))
}

func TestEmptyAndClean(t *testing.T) {
	require.True(t, isEmpty(cleanEntry))
	require.True(t, isClean(cleanEntry))
	require.True(t, isEmpty(deletedEntry))
	require.False(t, isClean(deletedEntry))

	occupied := newEntry(42, 0, 0, 0)
	require.False(t, isEmpty(occupied))
	require.False(t, isClean(occupied))
}

func TestMarkForRecord(t *testing.T) {
	mark := markForRecord(17, 300)
	require.Equal(t, uint32(17), markKeyLen(mark))
	require.Equal(t, uint32(300), markValLen(mark))
}

func TestFreeRunMark(t *testing.T) {
	mark := markForFreeRun(123)
	require.True(t, isFreeRun(mark))
	require.Equal(t, uint64(123), freeRunBlocks(mark))
}

func TestBlocksForSize(t *testing.T) {
	require.Equal(t, uint64(1), blocksForSize(1, 1)) // 4+1+1=6 -> 1 block
	require.Equal(t, uint64(2), blocksForSize(4, 4))  // 4+4+4=12 -> 2 blocks
}

func TestCalcEntryRoundTrip(t *testing.T) {
	itemLimit := uint64(1000)
	totalEntry := calcTotalEntry(itemLimit)
	require.GreaterOrEqual(t, calcItemLimit(totalEntry), itemLimit-1)
}
