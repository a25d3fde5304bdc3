package estuary

import (
	"sync"

	"golang.org/x/sys/unix"
)

// writerLock is the single-writer exclusion mechanism described in the
// concurrency model: an flock(2)-based lock on the backing file when a
// dictionary is opened in Shared mode, or a plain heap mutex when it is
// Monopoly or CopyData. Readers never take it.
type writerLock interface {
	Lock()
	Unlock()
}

// flockMutex serializes writers across processes with flock(2) on the
// backing file descriptor, the same mechanism as
// calvinalkan-agent-task/internal/fs's Locker: advisory, applies to the
// open file description, and requires every cooperating writer to go
// through this same path. Because flock does not exclude holders of the
// same open file description, mu serializes goroutines sharing this handle.
type flockMutex struct {
	mu sync.Mutex
	fd int
}

func newFlockMutex(fd int) *flockMutex {
	return &flockMutex{fd: fd}
}

func (l *flockMutex) Lock() {
	l.mu.Lock()
	if err := unix.Flock(l.fd, unix.LOCK_EX); err != nil {
		l.mu.Unlock()
		panic(err)
	}
}

func (l *flockMutex) Unlock() {
	err := unix.Flock(l.fd, unix.LOCK_UN)
	l.mu.Unlock()
	if err != nil {
		panic(err)
	}
}

// heapMutex adapts sync.Mutex to writerLock for the Monopoly/CopyData
// policies, where no other process can contend for the file.
type heapMutex struct {
	mu sync.Mutex
}

func (l *heapMutex) Lock()   { l.mu.Lock() }
func (l *heapMutex) Unlock() { l.mu.Unlock() }
