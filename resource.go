package estuary

import (
	"bytes"
	"os"
	"sync/atomic"

	natomic "github.com/natefinch/atomic"
	"golang.org/x/sys/unix"
)

// LoadPolicy selects how Load maps an existing file.
type LoadPolicy int

const (
	// Shared maps the file MAP_SHARED; writes are visible to every opener
	// of the same path, and the writer mutex is the file's flock-based
	// advisory lock (see flockMutex).
	Shared LoadPolicy = iota
	// Monopoly maps the file MAP_SHARED but assumes this process is the
	// only opener; the writer mutex is a plain heap-allocated sync.Mutex.
	Monopoly
	// CopyData maps an anonymous private region (huge-page preferred,
	// falling back to a regular anonymous mapping) and copies the file's
	// contents into it. Writes never reach the backing file.
	CopyData
)

// mapping is the raw resource behind an open dictionary: a byte slice
// backed either by a shared/private file mapping or by anonymous memory,
// plus whatever handles are needed to unmap and close it.
type mapping struct {
	data   []byte
	file   *os.File
	anon   bool
	policy LoadPolicy
}

func roundUpHuge(n int) int {
	const hugePage = 1 << 21 // 2MiB, matches MAP_HUGETLB's default page size on x86-64/arm64
	return (n + hugePage - 1) &^ (hugePage - 1)
}

// createMapping creates a new file of the given size and maps it MAP_SHARED
// for read-write access, ready for a fresh header to be written into it.
func createMapping(path string, size int) (*mapping, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, err
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &mapping{data: data, file: f, policy: Shared}, nil
}

// openMapping opens an existing file according to policy.
func openMapping(path string, policy LoadPolicy) (*mapping, error) {
	switch policy {
	case Shared, Monopoly:
		f, err := os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			return nil, err
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		size := int(st.Size())
		data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &mapping{data: data, file: f, policy: policy}, nil

	case CopyData:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			return nil, err
		}
		size := int(st.Size())
		data, err := unix.Mmap(-1, 0, roundUpHuge(size), unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB)
		if err != nil {
			data, err = unix.Mmap(-1, 0, roundUpHuge(size), unix.PROT_READ|unix.PROT_WRITE,
				unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
			if err != nil {
				return nil, err
			}
		}
		for n := 0; n < size; {
			m, err := f.Read(data[n:size])
			if err != nil {
				unix.Munmap(data)
				return nil, err
			}
			n += m
		}
		return &mapping{data: data[:size], file: nil, anon: true, policy: CopyData}, nil
	}
	return nil, ErrBadArgument
}

// extendMapping grows the backing file to newSize and remaps it, preserving
// the existing bytes. Only meaningful for Shared/Monopoly mappings of a
// real file.
func extendMapping(m *mapping, newSize int) error {
	if m.file == nil {
		return ErrBadArgument
	}
	if err := unix.Munmap(m.data); err != nil {
		return err
	}
	if err := m.file.Truncate(int64(newSize)); err != nil {
		return err
	}
	data, err := unix.Mmap(int(m.file.Fd()), 0, newSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	m.data = data
	return nil
}

func (m *mapping) close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	if m.file != nil {
		if cerr := m.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// maxSharedRefs bounds the number of processes that may hold a Shared
// mapping of the same file open at once. The header's refCount field is
// 64 bits wide only for alignment uniformity with the rest of the header;
// this bound keeps it from being mistaken for a capacity the format
// actually offers that much headroom for.
const maxSharedRefs = uint64(1)<<16 - 1

// acquireRef bumps a header's shared open-reference count, refusing once it
// would cross maxSharedRefs. Concurrent openers may race this under Shared
// policy, so it retries via compare-and-swap rather than a plain add.
func acquireRef(ref *uint64) bool {
	for {
		cur := atomic.LoadUint64(ref)
		if cur >= maxSharedRefs {
			return false
		}
		if atomic.CompareAndSwapUint64(ref, cur, cur+1) {
			return true
		}
	}
}

// releaseRef undoes a prior acquireRef.
func releaseRef(ref *uint64) {
	atomic.AddUint64(ref, ^uint64(0))
}

// dump writes the mapping's current bytes to a fresh file at path without
// disturbing whatever currently lives at path until the write is complete:
// it stages the bytes into a temp file alongside path and renames over the
// destination, so a reader opening path never observes a partial write.
func (m *mapping) dump(path string) error {
	return natomic.WriteFile(path, bytes.NewReader(m.data))
}
