package estuary

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"log"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

const magicVariable uint64 = 0xE998

// varHeader is the fixed header at the start of a variable-engine mapping.
// Every field is a uint64 so the struct needs no explicit padding to stay
// 8-byte aligned, matching the "8-byte aligned" requirement on the whole
// region.
type varHeader struct {
	magic       uint64
	seed        uint64
	maxKeyLen   uint64
	maxValLen   uint64
	item        uint64
	totalEntry  uint64
	cleanEntry  uint64
	totalBlock  uint64
	freeBlock   uint64
	blockCursor uint64
	refCount    uint64
	writing     uint64
}

var varHeaderSize = uint64(unsafe.Sizeof(varHeader{}))

func calcVarSize(totalEntry, totalBlock uint64) uint64 {
	return varHeaderSize + totalEntry*8 + totalBlock*blockSize
}

func mapVarSegments(base []byte, totalEntry, totalBlock uint64) (table []uint64, data []byte) {
	tableOff := varHeaderSize
	dataOff := tableOff + totalEntry*8
	tablePtr := unsafe.Pointer(&base[tableOff])
	table = unsafe.Slice((*uint64)(tablePtr), totalEntry)
	dataPtr := unsafe.Pointer(&base[dataOff])
	data = unsafe.Slice((*byte)(dataPtr), totalBlock*blockSize)
	return table, data
}

// Estuary is a handle to an open variable engine dictionary: variable-length
// keys and values stored in an open-addressed probe table over a
// compacting slab allocator.
type Estuary struct {
	mp            *mapping
	hdr           *varHeader
	table         []uint64
	data          []byte
	maxKeyLen     uint32
	maxValLen     uint32
	seed          uint64
	totalBlock    uint64
	reservedBlock uint64
	spareBlock    uint64
	entryDiv      divisor
	sweeping      atomic.Int32
	lock          writerLock
	strict        bool
	logger        *log.Logger
}

// Create builds a fresh dictionary file at path. If src is non-nil its
// items are bulk-loaded while the file is built; if the planned data slab
// fills before src is exhausted, Create retries once with a larger slab
// sized from the observed average padding, the same capacity-miss recovery
// as the original implementation.
func Create(path string, cfg Config, src Source) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	avgItemSize := uint64(cfg.AvgItemSize) + 4
	totalBlock := (avgItemSize + blockSize/2) * (cfg.ItemLimit + 1) / blockSize
	padding, err := createVariable(path, cfg, totalBlock, src)
	if err == ErrOutOfCapacity && padding > blockSize/2 {
		totalBlock = (avgItemSize + padding) * (cfg.ItemLimit + 1) / blockSize
		_, err = createVariable(path, cfg, totalBlock, src)
	}
	return err
}

func createVariable(path string, cfg Config, totalBlock uint64, src Source) (uint64, error) {
	totalEntry := calcTotalEntry(cfg.ItemLimit)
	reservedBlock := blocksForSize(cfg.MaxKeyLen, cfg.MaxValLen) * 2
	totalBlock += totalBlock/(maxReservedFactor-1) + 1
	totalBlock += reservedBlock
	if totalBlock > reservedAddr {
		return 0, ErrTooBig
	}

	size := calcVarSize(totalEntry, totalBlock)
	m, err := createMapping(path, int(size))
	if err != nil {
		return 0, err
	}
	defer m.close()

	hdr := (*varHeader)(unsafe.Pointer(&m.data[0]))
	*hdr = varHeader{
		magic:      magicVariable,
		seed:       newSeed(),
		maxKeyLen:  uint64(cfg.MaxKeyLen),
		maxValLen:  uint64(cfg.MaxValLen),
		totalEntry: totalEntry,
		cleanEntry: totalEntry,
		totalBlock: totalBlock,
		freeBlock:  totalBlock,
	}
	table, data := mapVarSegments(m.data, totalEntry, totalBlock)
	for i := range table {
		table[i] = cleanEntry
	}

	total := 0
	if src != nil {
		total = src.Total()
		if total < 0 || uint64(total) > cfg.ItemLimit {
			return 0, ErrBadArgument
		}
	}

	entryDiv := newDivisor(totalEntry)
	paddingSum := uint64(0)
	limit := totalBlock - reservedBlock
	for i := 0; i < total; i++ {
		key, val := src.Get()
		if len(key) == 0 || uint64(len(key)) > uint64(cfg.MaxKeyLen) || uint64(len(val)) > uint64(cfg.MaxValLen) {
			return 0, ErrBadArgument
		}
		code := hash(hdr.seed, key)
		tg := tag(code)
		pos := entryDiv.mod(code)
		placed := false
		for j := 0; j < len(table); j++ {
			e := table[pos]
			if isEmpty(e) {
				hdr.item++
				hdr.cleanEntry--
				placed = true
			} else if entryTag(e) == tg {
				off := entryBlk(e) * blockSize
				mark := *(*uint32)(unsafe.Pointer(&data[off]))
				rKey, _ := extractRecord(mark, data[off:])
				if bytes.Equal(key, rKey) {
					bcnt := blocksForMark(mark)
					*(*uint64)(unsafe.Pointer(&data[off])) = markForFreeRun(bcnt)
					hdr.freeBlock += bcnt
					placed = true
				}
			}
			if placed {
				bcnt := blocksForSize(uint32(len(key)), uint32(len(val)))
				paddingSum += paddingForSize(len(key), len(val))
				off := hdr.blockCursor * blockSize
				neo := hdr.blockCursor
				hdr.blockCursor += bcnt
				if hdr.blockCursor > limit {
					return paddingSum/uint64(i+1) + 1, ErrOutOfCapacity
				}
				hdr.freeBlock -= bcnt
				tip := fillRecord(key, val, data[off:])
				table[pos] = newEntry(neo, tip, tg, uint64(j))
				break
			}
			pos++
			if pos >= uint64(len(table)) {
				pos = 0
			}
		}
	}

	off := hdr.blockCursor * blockSize
	*(*uint64)(unsafe.Pointer(&data[off])) = markForFreeRun(hdr.totalBlock - hdr.blockCursor)
	return 0, nil
}

// Load memory-maps an existing dictionary file according to policy.
func Load(path string, policy LoadPolicy) (*Estuary, error) {
	m, err := openMapping(path, policy)
	if err != nil {
		return nil, err
	}
	if len(m.data) < int(varHeaderSize) {
		m.close()
		return nil, ErrBrokenFile
	}
	hdr := (*varHeader)(unsafe.Pointer(&m.data[0]))
	if hdr.magic != magicVariable ||
		hdr.totalEntry < minEntry || hdr.totalEntry > maxEntry {
		m.close()
		return nil, ErrBrokenFile
	}
	reservedBlock := blocksForSize(uint32(hdr.maxKeyLen), uint32(hdr.maxValLen)) * 2
	if hdr.totalBlock <= reservedBlock || hdr.totalBlock > reservedAddr ||
		uint64(len(m.data)) < calcVarSize(hdr.totalEntry, hdr.totalBlock) {
		m.close()
		return nil, ErrBrokenFile
	}
	if policy != Monopoly && policy != CopyData && hdr.writing != 0 {
		m.close()
		return nil, ErrNotSaved
	}

	table, data := mapVarSegments(m.data, hdr.totalEntry, hdr.totalBlock)

	es := &Estuary{
		mp:            m,
		hdr:           hdr,
		table:         table,
		data:          data,
		maxKeyLen:     uint32(hdr.maxKeyLen),
		maxValLen:     uint32(hdr.maxValLen),
		seed:          hdr.seed,
		totalBlock:    hdr.totalBlock,
		reservedBlock: reservedBlock,
		spareBlock:    reservedBlock + (hdr.totalBlock-reservedBlock)/maxReservedFactor,
		entryDiv:      newDivisor(hdr.totalEntry),
	}
	switch policy {
	case Shared:
		es.lock = newFlockMutex(int(m.file.Fd()))
		if !acquireRef(&hdr.refCount) {
			m.close()
			return nil, ErrTooManyRefs
		}
	default:
		es.lock = &heapMutex{}
	}
	return es, nil
}

// Extend grows the data slab of the dictionary file at path by percent
// (1-1000), in place. Only the slab grows; the entry table, and therefore
// the item limit, is unchanged.
func Extend(path string, percent int) (Config, error) {
	if percent <= 0 || percent > 1000 {
		return Config{}, ErrBadArgument
	}
	m, err := openMapping(path, Monopoly)
	if err != nil {
		return Config{}, err
	}
	defer m.close()

	if len(m.data) < int(varHeaderSize) {
		return Config{}, ErrBrokenFile
	}
	hdr := (*varHeader)(unsafe.Pointer(&m.data[0]))
	reservedBlock := blocksForSize(uint32(hdr.maxKeyLen), uint32(hdr.maxValLen)) * 2
	bcnt := hdr.totalBlock - reservedBlock
	extBcnt := (bcnt*uint64(percent) + 99) / 100

	if hdr.magic != magicVariable ||
		hdr.totalEntry < minEntry || hdr.totalEntry > maxEntry ||
		hdr.totalBlock <= reservedBlock || hdr.totalBlock+extBcnt > reservedAddr ||
		uint64(len(m.data)) < calcVarSize(hdr.totalEntry, hdr.totalBlock) {
		return Config{}, ErrBrokenFile
	}

	oldSize := len(m.data)
	newSize := oldSize + int(extBcnt*blockSize)
	if err := extendMapping(m, newSize); err != nil {
		return Config{}, err
	}
	hdr = (*varHeader)(unsafe.Pointer(&m.data[0]))
	*(*uint64)(unsafe.Pointer(&m.data[oldSize])) = markForFreeRun(extBcnt)
	hdr.totalBlock += extBcnt
	hdr.freeBlock += extBcnt

	bcnt += extBcnt
	bcnt -= bcnt / maxReservedFactor
	itemLimit := calcItemLimit(hdr.totalEntry)
	avgItemSize := uint32((bcnt*blockSize-itemLimit*(blockSize/2))/itemLimit) - 4
	return Config{
		ItemLimit:   itemLimit,
		MaxKeyLen:   uint32(hdr.maxKeyLen),
		MaxValLen:   uint32(hdr.maxValLen),
		AvgItemSize: avgItemSize,
	}, nil
}

// Close unmaps the dictionary, releasing the open reference it holds under
// the shared policy. It does not flush to disk; Shared and Monopoly
// mappings are already backed by the file (subject to the OS's own
// writeback and msync semantics), and CopyData mappings are anonymous and
// were never meant to be durable.
func (es *Estuary) Close() error {
	if es.mp.policy == Shared {
		releaseRef(&es.hdr.refCount)
	}
	return es.mp.close()
}

// Dump writes the dictionary's current bytes to a fresh file at path.
func (es *Estuary) Dump(path string) error {
	es.lock.Lock()
	defer es.lock.Unlock()
	return es.mp.dump(path)
}

// SetStrict turns on the optional consistency assertion on writer paths:
// Update and Erase panic with a *CorruptError if the header's writing flag
// is already set when they start, instead of silently proceeding. Off by default, matching the reference implementation where
// this is a debug aid rather than a cost every write pays.
func (es *Estuary) SetStrict(strict bool) { es.strict = strict }

// SetLogger stores a logger on the handle. Nil (the default) means none; no
// code path in this package writes to it.
func (es *Estuary) SetLogger(l *log.Logger) { es.logger = l }

func (es *Estuary) MaxKeyLen() uint32 { return es.maxKeyLen }
func (es *Estuary) MaxValLen() uint32 { return es.maxValLen }

func (es *Estuary) Item() uint64 { return atomic.LoadUint64(&es.hdr.item) }

func (es *Estuary) ItemLimit() uint64 { return calcItemLimit(uint64(len(es.table))) }

func (es *Estuary) DataFree() uint64 {
	return (atomic.LoadUint64(&es.hdr.freeBlock) - es.spareBlock) * blockSize
}

func newSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		return binary.LittleEndian.Uint64(b[:])
	}
	return uint64(time.Now().UnixNano())
}

func extractRecord(mark uint32, data []byte) (key, val []byte) {
	klen, vlen := markKeyLen(mark), markValLen(mark)
	return data[4 : 4+klen], data[4+klen : 4+klen+vlen]
}

func fillRecord(key, val, dest []byte) uint64 {
	mark := markForRecord(len(key), len(val))
	*(*uint32)(unsafe.Pointer(&dest[0])) = mark
	ext := 4 + len(key)
	end := ext + len(val)
	copy(dest[4:ext], key)
	copy(dest[ext:end], val)
	return tipHash(mark, dest[4:end])
}

func (es *Estuary) rMark32(off uint64) *uint32 {
	return (*uint32)(unsafe.Pointer(&es.data[off]))
}

func (es *Estuary) rMark64(off uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&es.data[off]))
}

// Touch precomputes a key's hash code, letting a caller reuse it across a
// batch of pipelined operations on the same key (FetchWithCode,
// UpdateWithCode, EraseWithCode) instead of hashing once per call.
func (es *Estuary) Touch(key []byte) uint64 {
	return hash(es.seed, key)
}

// Fetch looks up key and returns a copy of its value.
func (es *Estuary) Fetch(key []byte) ([]byte, bool) {
	if len(key) == 0 || uint64(len(key)) > uint64(es.maxKeyLen) {
		return nil, false
	}
	return es.FetchWithCode(es.Touch(key), key)
}

// FetchWithCode is Fetch for a caller that already computed key's hash
// code via Touch.
func (es *Estuary) FetchWithCode(code uint64, key []byte) ([]byte, bool) {
	val, ok := es.fetch(code, key)
	if !ok && es.sweeping.Load() != 0 {
		for i := 0; i < sweepRetries && !ok; i++ {
			val, ok = es.fetch(code, key)
		}
	}
	return val, ok
}

func (es *Estuary) fetch(code uint64, key []byte) ([]byte, bool) {
	n := uint64(len(es.table))
	pos := es.entryDiv.mod(code)
	tg := tag(code)
	for i := uint64(0); i < n; i++ {
		e := atomic.LoadUint64(&es.table[pos])
	retry:
		if isEmpty(e) {
			if isClean(e) {
				return nil, false
			}
		} else if entryTag(e) == tg {
			off := entryBlk(e) * blockSize
			mark := atomic.LoadUint32(es.rMark32(off))
			t := atomic.LoadUint64(&es.table[pos])
			if e != t {
				e = t
				goto retry
			}
			rKey, rVal := extractRecord(mark, es.data[off:])
			if bytes.Equal(key, rKey) {
				val := make([]byte, len(rVal))
				copy(val, rVal)
				t = atomic.LoadUint64(&es.table[pos])
				if e != t {
					e = t
					goto retry
				}
				return val, true
			}
		}
		pos++
		if pos >= n {
			pos = 0
		}
	}
	return nil, false
}

// Erase removes key if present.
func (es *Estuary) Erase(key []byte) bool {
	if len(key) == 0 || uint64(len(key)) > uint64(es.maxKeyLen) {
		return false
	}
	return es.EraseWithCode(es.Touch(key), key)
}

// EraseWithCode is Erase for a caller that already computed key's hash
// code via Touch.
func (es *Estuary) EraseWithCode(code uint64, key []byte) bool {
	es.lock.Lock()
	defer es.lock.Unlock()
	if es.strict && atomic.LoadUint64(&es.hdr.writing) != 0 {
		panic(&CorruptError{Invariant: "writing flag already set on entry to Erase"})
	}
	atomic.StoreUint64(&es.hdr.writing, 1)
	defer atomic.StoreUint64(&es.hdr.writing, 0)
	return es.erase(code, key)
}

func (es *Estuary) erase(code uint64, key []byte) bool {
	n := uint64(len(es.table))
	pos := es.entryDiv.mod(code)
	tg := tag(code)
	for i := uint64(0); i < n; i++ {
		e := es.table[pos]
		if isEmpty(e) {
			if isClean(e) {
				return false
			}
		} else if entryTag(e) == tg {
			off := entryBlk(e) * blockSize
			mark := *es.rMark32(off)
			rKey, _ := extractRecord(mark, es.data[off:])
			if bytes.Equal(key, rKey) {
				atomic.StoreUint64(&es.table[pos], deletedEntry)
				es.hdr.item--
				bcnt := blocksForMark(mark)
				*es.rMark64(off) = markForFreeRun(bcnt)
				es.hdr.freeBlock += bcnt
				return true
			}
		}
		pos++
		if pos >= n {
			pos = 0
		}
	}
	return false
}

// Update inserts key/val, or overwrites key's existing value. It returns
// false if the input is invalid or the table/slab has no room.
func (es *Estuary) Update(key, val []byte) bool {
	if len(key) == 0 || uint64(len(key)) > uint64(es.maxKeyLen) || uint64(len(val)) > uint64(es.maxValLen) {
		return false
	}
	return es.UpdateWithCode(es.Touch(key), key, val)
}

// UpdateWithCode is Update for a caller that already computed key's hash
// code via Touch.
func (es *Estuary) UpdateWithCode(code uint64, key, val []byte) bool {
	es.lock.Lock()
	defer es.lock.Unlock()
	if es.strict && atomic.LoadUint64(&es.hdr.writing) != 0 {
		panic(&CorruptError{Invariant: "writing flag already set on entry to Update"})
	}
	atomic.StoreUint64(&es.hdr.writing, 1)
	defer atomic.StoreUint64(&es.hdr.writing, 0)
	return es.update(code, key, val)
}

func (es *Estuary) update(code uint64, key, val []byte) bool {
	newBcnt := blocksForSize(uint32(len(key)), uint32(len(val)))
	if es.hdr.freeBlock < newBcnt+es.spareBlock ||
		calcTotalEntry(es.hdr.item) > uint64(len(es.table)) {
		return false
	}

	if es.hdr.cleanEntry <= uint64(len(es.table))/entryReserveDiv {
		es.runSweep()
	}

	origin := cleanEntry
	hasOrigin := false

	for {
		cur := es.hdr.blockCursor * blockSize
		bcnt := freeRunBlocks(*es.rMark64(cur))
		if bcnt >= newBcnt+es.reservedBlock {
			break
		}
		next := es.hdr.blockCursor + bcnt
		if next == es.totalBlock {
			es.wrapCursor(code, key, newBcnt, &origin, &hasOrigin)
			continue
		}
		off := next * blockSize
		if isFreeRun(*es.rMark64(off)) {
			bcnt = freeRunBlocks(*es.rMark64(off))
		} else {
			bcnt = blocksForMark(*es.rMark32(off))
			if o, ok := es.moveRecord(code, key, next); ok {
				origin, hasOrigin = o, true
			}
			cur = es.hdr.blockCursor * blockSize
		}
		bcnt += freeRunBlocks(*es.rMark64(cur))
		*es.rMark64(cur) = markForFreeRun(bcnt)
	}

	es.hdr.freeBlock -= newBcnt
	off := es.hdr.blockCursor * blockSize
	neo := es.hdr.blockCursor
	es.hdr.blockCursor += newBcnt
	cur := es.hdr.blockCursor * blockSize
	*es.rMark64(cur) = markForFreeRun(freeRunBlocks(*es.rMark64(off)) - newBcnt)
	tip := fillRecord(key, val, es.data[off:])

	n := uint64(len(es.table))
	pos := es.entryDiv.mod(code)
	tg := tag(code)

	var bookmarkIdx uint64
	var bookmarkVal uint64
	haveBookmark := false

	for i := uint64(0); i < n; i++ {
		e := es.table[pos]
		if isEmpty(e) {
			if !haveBookmark {
				bookmarkIdx = pos
				bookmarkVal = newEntry(neo, tip, tg, i)
				haveBookmark = true
			}
			if isClean(e) {
				break
			}
		} else if entryTag(e) == tg {
			xff := entryBlk(e) * blockSize
			mark := *es.rMark32(xff)
			rKey, rVal := extractRecord(mark, es.data[xff:])
			if bytes.Equal(key, rKey) {
				bcnt := blocksForMark(mark)
				if bytes.Equal(val, rVal) {
					// no-op overwrite: roll back the allocation entirely.
					es.hdr.blockCursor = neo
					*es.rMark64(off) = markForFreeRun(freeRunBlocks(*es.rMark64(cur)) + bcnt)
				} else {
					et := newEntry(neo, tip, tg, i)
					if hasOrigin && et == origin {
						et = entrySetTip(et, entryTip(et)^1)
					}
					atomic.StoreUint64(&es.table[pos], et)
					*es.rMark64(xff) = markForFreeRun(bcnt)
				}
				es.hdr.freeBlock += bcnt
				return true
			}
		}
		pos++
		if pos >= n {
			pos = 0
		}
	}
	if haveBookmark {
		if isClean(es.table[bookmarkIdx]) {
			es.hdr.cleanEntry--
		}
		atomic.StoreUint64(&es.table[bookmarkIdx], bookmarkVal)
		es.hdr.item++
		return true
	}
	return false
}

// wrapCursor implements the block-cursor's single allowed wrap per write:
// it walks forward from block 0, relocating any record that lies within
// the newly-needed span and stopping at the first record it cannot fit,
// then rewrites block 0 as one free run covering everything it crossed.
func (es *Estuary) wrapCursor(code uint64, key []byte, newBcnt uint64, origin *uint64, hasOrigin *bool) {
	need := newBcnt + es.reservedBlock
	vic := uint64(0)
	for vic < es.hdr.blockCursor {
		off := vic * blockSize
		if isFreeRun(*es.rMark64(off)) {
			vic += freeRunBlocks(*es.rMark64(off))
			continue
		}
		if vic >= need {
			break
		}
		bcnt := blocksForMark(*es.rMark32(off))
		// blockCursor moves on every successful moveRecord, so the free
		// run it points at must be re-read each iteration rather than
		// cached once before the loop.
		cur := es.hdr.blockCursor * blockSize
		if freeRunBlocks(*es.rMark64(cur)) < bcnt {
			break
		}
		if o, ok := es.moveRecord(code, key, vic); ok {
			*origin, *hasOrigin = o, true
		}
		vic += bcnt
		if es.hdr.blockCursor == es.totalBlock {
			break
		}
	}
	*es.rMark64(0) = markForFreeRun(vic)
	es.hdr.blockCursor = 0
}

// moveRecord relocates the record at block vic to the current block
// cursor, updating the table entry that refers to it atomically so a
// reader holding a snapshot of the old entry can still reach the record
// at vic until this store is visible (spec: ABA during defragment).
func (es *Estuary) moveRecord(code uint64, key []byte, vic uint64) (origin uint64, ok bool) {
	off := vic * blockSize
	mark := *es.rMark32(off)
	bcnt := blocksForMark(mark)
	cur := es.hdr.blockCursor * blockSize
	size := bcnt * blockSize
	copy(es.data[cur+8:cur+size], es.data[off+8:off+size])

	rKey, _ := extractRecord(mark, es.data[off:])
	rCode := hash(es.seed, rKey)
	trackOrigin := rCode == code && bytes.Equal(key, rKey)

	n := uint64(len(es.table))
	pos := es.entryDiv.mod(rCode)
	for i := uint64(0); i < n; i++ {
		e := es.table[pos]
		if isEmpty(e) {
			if isClean(e) {
				break
			}
		} else if entryBlk(e) == vic {
			next := es.hdr.blockCursor + bcnt
			if next != es.totalBlock {
				*es.rMark64(next * blockSize) = markForFreeRun(freeRunBlocks(*es.rMark64(cur)) - bcnt)
			}
			*es.rMark64(cur) = *es.rMark64(off)
			newE := entrySetBlk(e, es.hdr.blockCursor)
			atomic.StoreUint64(&es.table[pos], newE)
			*es.rMark64(off) = markForFreeRun(bcnt)
			es.hdr.blockCursor = next
			if trackOrigin {
				return e, true
			}
			return 0, false
		}
		pos++
		if pos >= n {
			pos = 0
		}
	}
	// No entry referenced vic: possible only under corruption. Just free it.
	*es.rMark64(off) = markForFreeRun(bcnt)
	es.hdr.freeBlock += bcnt
	return 0, false
}

// runSweep performs the two-pass probe compaction of §4.7: the first pass
// moves every occupied entry as close to its home as the current layout
// allows; the second pass (only if the first moved anything) repeats the
// pass once more so entries shifted during pass one get a chance to settle
// again, and marks its own tombstones fit so they are not reconsidered.
func (es *Estuary) runSweep() {
	es.sweeping.Store(-1)
	if es.sweepPass(false) {
		es.sweepPass(true)
	}

	var item, dirty uint64
	for i := range es.table {
		if isEmpty(es.table[i]) {
			if entryFit(es.table[i]) {
				dirty++
				es.table[i] = entryClearFit(es.table[i])
			} else {
				es.table[i] = cleanEntry
			}
		} else {
			item++
			es.table[i] = entryClearFit(es.table[i])
		}
	}
	// Give readers a window to observe sweeping still set before it
	// clears; atomic.Store already carries the release fence.
	runtime.Gosched()
	es.sweeping.Store(0)
	es.hdr.cleanEntry = uint64(len(es.table)) - item - dirty
}

func (es *Estuary) sweepPass(final bool) bool {
	moved := false
	n := uint64(len(es.table))
	for i := uint64(0); i < n; i++ {
		if isEmpty(es.table[i]) || entryFit(es.table[i]) {
			continue
		}
		var pos uint64
		if off := entryOff(es.table[i]); off < maxOff {
			if i < off {
				pos = n + i - off
			} else {
				pos = i - off
			}
		} else {
			rOff := entryBlk(es.table[i]) * blockSize
			mark := *es.rMark32(rOff)
			rKey, _ := extractRecord(mark, es.data[rOff:])
			pos = es.entryDiv.mod(hash(es.seed, rKey))
		}
		fit := true
		for j := uint64(0); j < n; j++ {
			if isEmpty(es.table[pos]) {
				moved = true
				sft := j
				if sft > maxOff {
					sft = maxOff
				}
				newE := entrySetOff(es.table[i], sft)
				if fit {
					newE = entrySetFit(newE)
				}
				es.table[pos] = newE
				tomb := deletedEntry
				if final {
					tomb = entrySetFit(tomb)
				}
				atomic.StoreUint64(&es.table[i], tomb)
				break
			} else if !entryFit(es.table[pos]) {
				if i == pos {
					if fit {
						es.table[i] = entrySetFit(es.table[i])
					}
					break
				}
				fit = false
			}
			pos++
			if pos >= n {
				pos = 0
			}
		}
	}
	return moved
}
