package estuary

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func smallConfig() Config {
	return Config{
		ItemLimit:   300,
		MaxKeyLen:   32,
		MaxValLen:   64,
		AvgItemSize: 24,
	}
}

func seedSource(n int) *SliceSource {
	src := &SliceSource{}
	for i := 0; i < n; i++ {
		src.Keys = append(src.Keys, []byte(fmt.Sprintf("key-%04d", i)))
		src.Vals = append(src.Vals, []byte(fmt.Sprintf("value-for-key-%04d", i)))
	}
	return src
}

func TestCreateLoadFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.est")
	src := seedSource(100)
	require.NoError(t, Create(path, smallConfig(), src))

	es, err := Load(path, Monopoly)
	require.NoError(t, err)
	defer es.Close()

	require.Equal(t, uint64(100), es.Item())
	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		want := []byte(fmt.Sprintf("value-for-key-%04d", i))
		got, ok := es.Fetch(key)
		require.True(t, ok)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("fetch %s: mismatch (-want +got):\n%s", key, diff)
		}
	}

	_, ok := es.Fetch([]byte("does-not-exist"))
	require.False(t, ok)
}

func TestUpdateInsertOverwriteAndMixedReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.est")
	require.NoError(t, Create(path, smallConfig(), nil))

	es, err := Load(path, Monopoly)
	require.NoError(t, err)
	defer es.Close()

	require.True(t, es.Update([]byte("alpha"), []byte("one")))
	require.True(t, es.Update([]byte("beta"), []byte("two")))

	got, ok := es.Fetch([]byte("alpha"))
	require.True(t, ok)
	require.Equal(t, []byte("one"), got)

	require.True(t, es.Update([]byte("alpha"), []byte("uno")))
	got, ok = es.Fetch([]byte("alpha"))
	require.True(t, ok)
	require.Equal(t, []byte("uno"), got)

	require.True(t, es.Update([]byte("alpha"), []byte("uno")))
	got, ok = es.Fetch([]byte("alpha"))
	require.True(t, ok)
	require.Equal(t, []byte("uno"), got)

	require.Equal(t, uint64(2), es.Item())
}

func TestEraseReclaimsAndReuse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.est")
	require.NoError(t, Create(path, smallConfig(), seedSource(50)))

	es, err := Load(path, Monopoly)
	require.NoError(t, err)
	defer es.Close()

	freeBefore := es.DataFree()
	for i := 0; i < 25; i++ {
		require.True(t, es.Erase([]byte(fmt.Sprintf("key-%04d", i))))
	}
	require.Equal(t, uint64(25), es.Item())
	require.Greater(t, es.DataFree(), freeBefore)

	for i := 0; i < 25; i++ {
		key := []byte(fmt.Sprintf("new-%04d", i))
		require.True(t, es.Update(key, []byte("reused-block")))
	}
	require.Equal(t, uint64(50), es.Item())

	for i := 25; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		_, ok := es.Fetch(key)
		require.True(t, ok, "surviving original key %s should still be present", key)
	}
	for i := 0; i < 25; i++ {
		_, ok := es.Fetch([]byte(fmt.Sprintf("key-%04d", i)))
		require.False(t, ok, "erased key should be gone")
	}
}

func TestExtendIncreasesCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.est")
	require.NoError(t, Create(path, smallConfig(), nil))

	cfg, err := Extend(path, 100)
	require.NoError(t, err)
	require.Equal(t, smallConfig().MaxKeyLen, cfg.MaxKeyLen)
	require.Equal(t, smallConfig().MaxValLen, cfg.MaxValLen)

	es, err := Load(path, Monopoly)
	require.NoError(t, err)
	defer es.Close()

	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("post-extend-%04d", i))
		require.True(t, es.Update(key, []byte("v")))
	}
}

func TestConcurrentReadersUnderWriterChurn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.est")
	require.NoError(t, Create(path, smallConfig(), seedSource(100)))

	es, err := Load(path, Monopoly)
	require.NoError(t, err)
	defer es.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for i := 50; i < 100; i++ {
					es.Fetch([]byte(fmt.Sprintf("key-%04d", i)))
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("churn-%04d", i))
		es.Update(key, []byte("x"))
		es.Erase(key)
	}

	close(stop)
	wg.Wait()

	for i := 50; i < 100; i++ {
		_, ok := es.Fetch([]byte(fmt.Sprintf("key-%04d", i)))
		require.True(t, ok)
	}
}

func TestTouchMatchesFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.est")
	require.NoError(t, Create(path, smallConfig(), seedSource(10)))

	es, err := Load(path, Monopoly)
	require.NoError(t, err)
	defer es.Close()

	key := []byte("key-0003")
	code := es.Touch(key)
	got, ok := es.FetchWithCode(code, key)
	require.True(t, ok)
	require.Equal(t, []byte("value-for-key-0003"), got)
}

func TestNoOpOverwriteDoesNotConsumeBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.est")
	require.NoError(t, Create(path, smallConfig(), nil))

	es, err := Load(path, Monopoly)
	require.NoError(t, err)
	defer es.Close()

	require.True(t, es.Update([]byte("alpha"), []byte("one")))
	free := es.DataFree()
	require.True(t, es.Update([]byte("alpha"), []byte("one")))
	require.Equal(t, free, es.DataFree())
}

// TestPropertyUpdateEraseFetch runs testing/quick over random update/erase
// sequences against a small, fixed keyspace, checking the round-trip and
// erase-idempotent-on-absent-keys properties against an in-memory model
// after every operation.
func TestPropertyUpdateEraseFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.est")
	require.NoError(t, Create(path, smallConfig(), nil))

	es, err := Load(path, Monopoly)
	require.NoError(t, err)
	defer es.Close()

	model := make(map[uint8][]byte)
	const keyspace = 48

	f := func(ops []uint8) bool {
		for _, raw := range ops {
			k := raw % keyspace
			key := []byte(fmt.Sprintf("prop-%04d", k))
			if raw&1 == 0 {
				val := []byte(fmt.Sprintf("val-%d-%d", raw, k))
				if !es.Update(key, val) {
					return false
				}
				model[k] = val
			} else {
				want, present := model[k]
				if es.Erase(key) != present {
					return false
				}
				delete(model, k)
				_ = want
			}
			got, found := es.Fetch(key)
			want, present := model[k]
			if found != present {
				return false
			}
			if present && !bytes.Equal(got, want) {
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 200}); err != nil {
		t.Fatal(err)
	}
}

// TestSweepWrapAroundMultipleRelocations drives a tiny slab through many
// block-cursor wraps, each of which must relocate more than one live
// record to make room (exercising wrapCursor's loop across several
// moveRecord calls in a single wrap event, including probe runs that
// straddle the table-end wrap), and checks the final state against an
// in-memory model rather than just "no crash".
func TestSweepWrapAroundMultipleRelocations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.est")
	cfg := Config{
		ItemLimit:   64,
		MaxKeyLen:   16,
		MaxValLen:   16,
		AvgItemSize: 12,
	}
	require.NoError(t, Create(path, cfg, nil))

	es, err := Load(path, Monopoly)
	require.NoError(t, err)
	defer es.Close()

	const keys = 40
	model := make(map[int][]byte)
	for round := 0; round < 4000; round++ {
		k := round % keys
		key := []byte(fmt.Sprintf("wrap-key-%03d", k))
		if round%7 == 0 {
			_, present := model[k]
			require.Equal(t, present, es.Erase(key))
			delete(model, k)
			continue
		}
		val := []byte(fmt.Sprintf("val-%04d-%02d", round, k))
		require.True(t, es.Update(key, val))
		model[k] = val
	}

	for k, want := range model {
		key := []byte(fmt.Sprintf("wrap-key-%03d", k))
		got, ok := es.Fetch(key)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	for k := 0; k < keys; k++ {
		if _, present := model[k]; !present {
			_, ok := es.Fetch([]byte(fmt.Sprintf("wrap-key-%03d", k)))
			require.False(t, ok)
		}
	}
}
