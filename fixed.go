package estuary

import (
	"bytes"
	"log"
	"sync/atomic"
	"time"
	"unsafe"
)

const magicLucky uint64 = 0xE888

const (
	nilNode = uint32(0)

	ringSize    = 1 << 16
	ringBins    = 256
	ringBinSize = ringSize / ringBins

	reclaimGrace = 50 * time.Millisecond
)

// luckyHeader is the fixed header of a Lucky (fixed-length) engine file.
// Every field is a uint64 for the same alignment reason as varHeader.
type luckyHeader struct {
	magic      uint64
	seed       uint64
	keyLen     uint64
	valLen     uint64
	item       uint64
	capacity   uint64
	totalEntry uint64
	nodeLimit  uint64
	freeHead   uint64
	freeTail   uint64
	ringR      uint64
	ringW      uint64
	refCount   uint64
	writing    uint64
}

var luckyHeaderSize = uint64(unsafe.Sizeof(luckyHeader{}))

func nodeStrideFor(keyLen, valLen uint64) uint64 {
	return (4 + keyLen + valLen + 3) &^ 3
}

func calcLuckySize(totalEntry, nodeLimit, nodeStride uint64) uint64 {
	return luckyHeaderSize +
		totalEntry*4 +
		ringSize*4 +
		ringBins*8 +
		nodeLimit*nodeStride
}

func mapLuckySegments(base []byte, totalEntry, nodeLimit, nodeStride uint64) (buckets, ringNodes []uint32, ringStamp []int64, nodes []byte) {
	off := luckyHeaderSize
	buckets = unsafe.Slice((*uint32)(unsafe.Pointer(&base[off])), totalEntry)
	off += totalEntry * 4
	ringNodes = unsafe.Slice((*uint32)(unsafe.Pointer(&base[off])), ringSize)
	off += ringSize * 4
	ringStamp = unsafe.Slice((*int64)(unsafe.Pointer(&base[off])), ringBins)
	off += ringBins * 8
	nodes = unsafe.Slice((*byte)(unsafe.Pointer(&base[off])), nodeLimit*nodeStride)
	return
}

// Lucky is a handle to an open fixed-length dictionary: fixed-size keys and
// values stored as chained hash buckets over a slab of fixed-stride nodes,
// with freed nodes recycled through a ring buffer rather than reused
// immediately, so a reader that is mid-traversal of a now-unlinked chain
// segment cannot land on memory already reinitialized for a different key.
type Lucky struct {
	mp         *mapping
	hdr        *luckyHeader
	buckets    []uint32
	ringNodes  []uint32
	ringStamp  []int64
	nodes      []byte
	keyLen     uint64
	valLen     uint64
	nodeStride uint64
	capacity   uint64
	seed       uint64
	bucketDiv  divisor
	lock       writerLock
	logger     *log.Logger
}

// CreateLucky builds a fresh fixed-length dictionary file at path.
func CreateLucky(path string, cfg LuckyConfig, src Source) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	keyLen, valLen := uint64(cfg.KeyLen), uint64(cfg.ValLen)
	totalEntry := uint64(cfg.ItemLimit) * 2
	nodeLimit := uint64(cfg.ItemLimit) + ringSize
	nodeStride := nodeStrideFor(keyLen, valLen)

	size := calcLuckySize(totalEntry, nodeLimit, nodeStride)
	m, err := createMapping(path, int(size))
	if err != nil {
		return err
	}
	defer m.close()

	hdr := (*luckyHeader)(unsafe.Pointer(&m.data[0]))
	*hdr = luckyHeader{
		magic:      magicLucky,
		seed:       newSeed(),
		keyLen:     keyLen,
		valLen:     valLen,
		capacity:   uint64(cfg.ItemLimit),
		totalEntry: totalEntry,
		nodeLimit:  nodeLimit,
	}
	buckets, _, _, nodes := mapLuckySegments(m.data, totalEntry, nodeLimit, nodeStride)
	for i := range buckets {
		buckets[i] = nilNode
	}

	bucketDiv := newDivisor(totalEntry)
	total := 0
	if src != nil {
		total = src.Total()
		if total < 0 || uint64(total) > uint64(cfg.ItemLimit) {
			return ErrBadArgument
		}
	}
	cursor := uint64(1)
	for i := 0; i < total; i++ {
		key, val := src.Get()
		if uint64(len(key)) != keyLen || uint64(len(val)) != valLen {
			return ErrBadArgument
		}
		code := hash(hdr.seed, key)
		bucket := bucketDiv.mod(code)
		id := cursor
		if id > hdr.nodeLimit {
			return ErrOutOfCapacity
		}
		cursor++
		off := (id - 1) * nodeStride
		*(*uint32)(unsafe.Pointer(&nodes[off])) = buckets[bucket]
		copy(nodes[off+4:off+4+keyLen], key)
		copy(nodes[off+4+keyLen:off+4+keyLen+valLen], val)
		buckets[bucket] = uint32(id)
		hdr.item++
	}

	// Every node not claimed by the bulk load is threaded onto the free
	// list up front, so allocate always has somewhere to pop from instead
	// of bump-allocating past it.
	if cursor <= hdr.nodeLimit {
		hdr.freeHead = cursor
		hdr.freeTail = hdr.nodeLimit
		for id := cursor; id < hdr.nodeLimit; id++ {
			off := (id - 1) * nodeStride
			*(*uint32)(unsafe.Pointer(&nodes[off])) = uint32(id + 1)
		}
		*(*uint32)(unsafe.Pointer(&nodes[(hdr.nodeLimit-1)*nodeStride])) = nilNode
	}
	return nil
}

// LoadLucky memory-maps an existing fixed-length dictionary file.
func LoadLucky(path string, policy LoadPolicy) (*Lucky, error) {
	m, err := openMapping(path, policy)
	if err != nil {
		return nil, err
	}
	if len(m.data) < int(luckyHeaderSize) {
		m.close()
		return nil, ErrBrokenFile
	}
	hdr := (*luckyHeader)(unsafe.Pointer(&m.data[0]))
	if hdr.magic != magicLucky ||
		hdr.capacity < uint64(minLuckyCapacity) || hdr.capacity > maxLuckyCapacity ||
		hdr.keyLen == 0 || hdr.keyLen >= 256 || hdr.valLen > uint64(maxLuckyValLen) {
		m.close()
		return nil, ErrBrokenFile
	}
	nodeStride := nodeStrideFor(hdr.keyLen, hdr.valLen)
	if uint64(len(m.data)) < calcLuckySize(hdr.totalEntry, hdr.nodeLimit, nodeStride) {
		m.close()
		return nil, ErrBrokenFile
	}
	if policy != Monopoly && policy != CopyData && hdr.writing != 0 {
		m.close()
		return nil, ErrNotSaved
	}

	buckets, ringNodes, ringStamp, nodes := mapLuckySegments(m.data, hdr.totalEntry, hdr.nodeLimit, nodeStride)
	lk := &Lucky{
		mp:         m,
		hdr:        hdr,
		buckets:    buckets,
		ringNodes:  ringNodes,
		ringStamp:  ringStamp,
		nodes:      nodes,
		keyLen:     hdr.keyLen,
		valLen:     hdr.valLen,
		nodeStride: nodeStride,
		capacity:   hdr.capacity,
		seed:       hdr.seed,
		bucketDiv:  newDivisor(hdr.totalEntry),
	}
	switch policy {
	case Shared:
		lk.lock = newFlockMutex(int(m.file.Fd()))
		if !acquireRef(&hdr.refCount) {
			m.close()
			return nil, ErrTooManyRefs
		}
	default:
		lk.lock = &heapMutex{}
	}
	return lk, nil
}

// Close unmaps the dictionary, releasing the open reference it holds under
// the shared policy.
func (lk *Lucky) Close() error {
	if lk.mp.policy == Shared {
		releaseRef(&lk.hdr.refCount)
	}
	return lk.mp.close()
}

// Dump writes the dictionary's current bytes to a fresh file at path.
func (lk *Lucky) Dump(path string) error {
	lk.lock.Lock()
	defer lk.lock.Unlock()
	return lk.mp.dump(path)
}

// SetLogger stores a logger on the handle. Nil (the default) means none; no
// code path in this package writes to it.
func (lk *Lucky) SetLogger(l *log.Logger) { lk.logger = l }

func (lk *Lucky) KeyLen() uint32 { return uint32(lk.keyLen) }
func (lk *Lucky) ValLen() uint32 { return uint32(lk.valLen) }
func (lk *Lucky) Item() uint64   { return atomic.LoadUint64(&lk.hdr.item) }
func (lk *Lucky) ItemLimit() uint64 { return lk.capacity }

func (lk *Lucky) nodeOffset(id uint32) uint64 { return uint64(id-1) * lk.nodeStride }

func (lk *Lucky) nodeNext(id uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&lk.nodes[lk.nodeOffset(id)]))
}

func (lk *Lucky) nodeKey(id uint32) []byte {
	off := lk.nodeOffset(id) + 4
	return lk.nodes[off : off+lk.keyLen]
}

func (lk *Lucky) nodeVal(id uint32) []byte {
	off := lk.nodeOffset(id) + 4 + lk.keyLen
	return lk.nodes[off : off+lk.valLen]
}

// Touch precomputes key's hash code for reuse across pipelined calls.
func (lk *Lucky) Touch(key []byte) uint64 { return hash(lk.seed, key) }

// Fetch looks up key and returns a copy of its value.
func (lk *Lucky) Fetch(key []byte) ([]byte, bool) {
	if uint64(len(key)) != lk.keyLen {
		return nil, false
	}
	return lk.FetchWithCode(lk.Touch(key), key)
}

// FetchWithCode is Fetch for a caller that already computed key's hash
// code via Touch.
func (lk *Lucky) FetchWithCode(code uint64, key []byte) ([]byte, bool) {
	bucket := lk.bucketDiv.mod(code)
	id := atomic.LoadUint32(&lk.buckets[bucket])
	for id != nilNode {
		if bytes.Equal(key, lk.nodeKey(id)) {
			val := make([]byte, lk.valLen)
			copy(val, lk.nodeVal(id))
			return val, true
		}
		id = atomic.LoadUint32(lk.nodeNext(id))
	}
	return nil, false
}

// batchWidth is how many independent chain walks BatchFetch advances in
// lockstep, interleaving their pointer-chasing the way the original's
// pipelined batch-fetch API hides chain-walk latency across lookups that
// don't depend on each other.
const batchWidth = 16

// BatchFetch looks up many keys at once, walking their bucket chains
// interleaved instead of one at a time.
func (lk *Lucky) BatchFetch(keys [][]byte) ([][]byte, []bool) {
	results := make([][]byte, len(keys))
	found := make([]bool, len(keys))

	type cursor struct {
		node uint32
		key  []byte
		idx  int
	}

	for base := 0; base < len(keys); base += batchWidth {
		end := base + batchWidth
		if end > len(keys) {
			end = len(keys)
		}
		width := end - base
		cursors := make([]cursor, width)
		active := 0
		for i := 0; i < width; i++ {
			key := keys[base+i]
			if uint64(len(key)) != lk.keyLen {
				cursors[i] = cursor{node: nilNode, key: key, idx: base + i}
				continue
			}
			code := lk.Touch(key)
			bucket := lk.bucketDiv.mod(code)
			cursors[i] = cursor{node: atomic.LoadUint32(&lk.buckets[bucket]), key: key, idx: base + i}
			if cursors[i].node != nilNode {
				active++
			}
		}
		for active > 0 {
			for i := 0; i < width; i++ {
				c := &cursors[i]
				if c.node == nilNode {
					continue
				}
				if bytes.Equal(lk.nodeKey(c.node), c.key) {
					val := make([]byte, lk.valLen)
					copy(val, lk.nodeVal(c.node))
					results[c.idx] = val
					found[c.idx] = true
					c.node = nilNode
					active--
					continue
				}
				c.node = atomic.LoadUint32(lk.nodeNext(c.node))
				if c.node == nilNode {
					active--
				}
			}
		}
	}
	return results, found
}

// Update inserts key/val, or overwrites key's existing value.
func (lk *Lucky) Update(key, val []byte) bool {
	if uint64(len(key)) != lk.keyLen || uint64(len(val)) != lk.valLen {
		return false
	}
	return lk.UpdateWithCode(lk.Touch(key), key, val)
}

// UpdateWithCode is Update for a caller that already computed key's hash
// code via Touch.
func (lk *Lucky) UpdateWithCode(code uint64, key, val []byte) bool {
	lk.lock.Lock()
	defer lk.lock.Unlock()
	return lk.update(code, key, val)
}

func (lk *Lucky) update(code uint64, key, val []byte) bool {
	bucket := lk.bucketDiv.mod(code)
	id := lk.buckets[bucket]
	for id != nilNode {
		if bytes.Equal(key, lk.nodeKey(id)) {
			copy(lk.nodeVal(id), val)
			return true
		}
		id = *lk.nodeNext(id)
	}
	if lk.hdr.item >= lk.capacity {
		return false
	}
	newID := lk.allocate()
	if newID == nilNode {
		return false
	}
	copy(lk.nodeKey(newID), key)
	copy(lk.nodeVal(newID), val)
	*lk.nodeNext(newID) = lk.buckets[bucket]
	atomic.StoreUint32(&lk.buckets[bucket], newID)
	lk.hdr.item++
	return true
}

// Erase removes key if present.
func (lk *Lucky) Erase(key []byte) bool {
	if uint64(len(key)) != lk.keyLen {
		return false
	}
	return lk.EraseWithCode(lk.Touch(key), key)
}

// EraseWithCode is Erase for a caller that already computed key's hash
// code via Touch.
func (lk *Lucky) EraseWithCode(code uint64, key []byte) bool {
	lk.lock.Lock()
	defer lk.lock.Unlock()
	bucket := lk.bucketDiv.mod(code)
	prev := &lk.buckets[bucket]
	id := atomic.LoadUint32(prev)
	for id != nilNode {
		if bytes.Equal(key, lk.nodeKey(id)) {
			atomic.StoreUint32(prev, *lk.nodeNext(id))
			lk.free(id)
			lk.hdr.item--
			return true
		}
		prev = lk.nodeNext(id)
		id = atomic.LoadUint32(prev)
	}
	return false
}

// BatchUpdate bulk-inserts every pair src supplies, under a single hold of
// the writer lock, and reports how many pairs were loaded before an error,
// if any, stopped it.
func (lk *Lucky) BatchUpdate(src Source) (n int, err error) {
	lk.lock.Lock()
	defer lk.lock.Unlock()
	total := src.Total()
	for i := 0; i < total; i++ {
		key, val := src.Get()
		if uint64(len(key)) != lk.keyLen || uint64(len(val)) != lk.valLen {
			return n, ErrBadArgument
		}
		if !lk.update(hash(lk.seed, key), key, val) {
			return n, ErrOutOfCapacity
		}
		n++
	}
	return n, nil
}

// allocate pops a node id off the free list, which at any moment holds
// every node not currently live in a chain or sitting in the recycle ring's
// grace period. The list is never empty of headroom: CreateLucky threads
// every node beyond the bulk load onto it, and free replenishes it by
// flushing ring bins as they age out.
func (lk *Lucky) allocate() uint32 {
	id := uint32(lk.hdr.freeHead)
	if id == nilNode {
		return nilNode
	}
	next := *lk.nodeNext(id)
	lk.hdr.freeHead = uint64(next)
	if next == nilNode {
		lk.hdr.freeTail = 0
	}
	return id
}

// free retires id into the recycle ring rather than the free list directly,
// so a reader still mid-traversal of the chain it was just unlinked from
// cannot observe it reinitialized for a different key until the grace
// period has passed. When the ring is about to wrap, free blocks until the
// oldest bin has aged past the grace period and flushes that whole bin
// onto the free list first, so the ring can never silently overrun a node
// still inside its grace window.
func (lk *Lucky) free(id uint32) {
	if (lk.hdr.ringW+1)%ringSize == lk.hdr.ringR {
		lk.reclaimOldestBin()
	}
	w := lk.hdr.ringW
	bin := w / ringBinSize
	lk.ringNodes[w] = id
	lk.hdr.ringW = (w + 1) % ringSize
	if lk.hdr.ringW%ringBinSize == 0 {
		lk.ringStamp[bin] = time.Now().UnixNano()
	}
}

// reclaimOldestBin waits out whatever remains of the oldest bin's grace
// period, then threads every node in it onto the tail of the free list.
func (lk *Lucky) reclaimOldestBin() {
	bin := lk.hdr.ringR / ringBinSize
	if wait := reclaimGrace - time.Since(time.Unix(0, lk.ringStamp[bin])); wait > 0 {
		time.Sleep(wait)
	}
	begin := lk.hdr.ringR
	end := begin + ringBinSize
	lk.hdr.ringR = end % ringSize

	var head, tail uint32
	for i := begin; i < end; i++ {
		id := lk.ringNodes[i]
		*lk.nodeNext(id) = nilNode
		if head == nilNode {
			head = id
		} else {
			*lk.nodeNext(tail) = id
		}
		tail = id
		lk.ringNodes[i] = nilNode
	}
	if lk.hdr.freeTail == 0 {
		lk.hdr.freeHead = uint64(head)
	} else {
		*lk.nodeNext(uint32(lk.hdr.freeTail)) = head
	}
	lk.hdr.freeTail = uint64(tail)
}
