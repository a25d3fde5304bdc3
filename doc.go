/*
Package estuary provides an embedded, file-backed, in-memory key-value
dictionary optimized for read-mostly workloads.

The dictionary stores byte-string keys and values in a single contiguous
memory region that doubles as the on-disk format: a memory-mapped file.
Many goroutines (or processes, in shared-mapping mode) may read concurrently
without taking any lock; exactly one writer may mutate the dictionary at a
time, serialized by a writer lock (an flock on the backing file in
shared-mapping mode, a heap mutex otherwise).

Two engines share this design:

  - Estuary: variable-length keys and values, backed by an open-addressed
    probe table over a slab allocator that compacts in place.
  - Lucky: fixed-length keys and values, backed by chained buckets with a
    delayed-reclamation free list, suited to very high throughput lookups.

Basic usage:

	cfg := estuary.Config{ItemLimit: 1_000_000, MaxKeyLen: 32, MaxValLen: 256, AvgItemSize: 64}
	if err := estuary.Create("data.es", cfg, nil); err != nil {
		log.Fatal(err)
	}
	es, err := estuary.Load("data.es", estuary.Monopoly)
	if err != nil {
		log.Fatal(err)
	}
	defer es.Close()

	es.Update([]byte("hello"), []byte("world"))
	val, ok := es.Fetch([]byte("hello"))

Implementation details:

  - The entry table packs block index, probe offset, an ABA-avoidance
    counter, and a hash tag into one 64-bit word (39:1:4:12:8) so a lookup
    can filter most mismatches without touching the data slab.
  - Records are addressed in 8-byte blocks; every block region (record or
    free run) begins with an 8-byte mark word that publishes its size
    atomically.
  - Periodic sweeps recompact probe runs toward their home slot, reclaiming
    tombstones left by erases; the allocator defragments the slab in place
    when the block cursor runs into a live record.

This package pins a specific on-disk bit layout (see the entry and mark
word helpers in entry.go) and a specific 256-bit-state hash permutation
(hash.go) so that files are interoperable with other implementations of the
same format. It is not a general-purpose database: there is no durability
guarantee beyond msync semantics, no multi-writer concurrency, no
transactions across keys, and no ordered iteration.
*/
package estuary
