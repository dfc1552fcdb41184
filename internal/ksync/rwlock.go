package ksync

import "oskern/internal/defs"

/// RwLock allows multiple concurrent readers or a single writer.
/// Writers are protected from starvation by a writers_queued counter that
/// blocks new readers once positive, the classic
/// rwlock_acquire_read/rwlock_acquire_write pairing.
type RwLock struct {
	mu            *Mutex
	cvReaders     *Cv
	cvWriters     *Cv
	readers       int
	readMode      bool
	hasWriter     bool
	writersQueued int
}

/// NewRwLock returns an unlocked reader-writer lock.
func NewRwLock() *RwLock {
	return &RwLock{
		mu:        NewMutex(),
		cvReaders: NewCv(),
		cvWriters: NewCv(),
		readMode:  true,
	}
}

/// AcquireRead blocks while a writer holds the lock or one is queued.
func (l *RwLock) AcquireRead(tid defs.Tid_t) {
	l.mu.Acquire(tid)
	for l.hasWriter || l.writersQueued > 0 || !l.readMode {
		l.cvReaders.Wait(tid, l.mu)
	}
	l.readers++
	l.mu.Release(tid)
}

/// ReleaseRead releases one reader's hold, handing off to a queued
/// writer once the last reader leaves.
func (l *RwLock) ReleaseRead(tid defs.Tid_t) {
	l.mu.Acquire(tid)
	if l.readers == 0 {
		l.mu.Release(tid)
		panic("ksync: release read lock not held")
	}
	l.readers--
	l.cvReaders.Broadcast(l.mu)
	if l.writersQueued > 0 {
		l.readMode = false
		l.cvWriters.Signal(l.mu)
	}
	l.mu.Release(tid)
}

/// AcquireWrite blocks until there are no readers and no other writer.
func (l *RwLock) AcquireWrite(tid defs.Tid_t) {
	l.mu.Acquire(tid)
	l.writersQueued++
	for l.hasWriter || l.readers > 0 {
		l.cvWriters.Wait(tid, l.mu)
	}
	l.hasWriter = true
	l.writersQueued--
	l.mu.Release(tid)
}

/// ReleaseWrite releases the write lock, favoring readers again unless
/// another writer is queued.
func (l *RwLock) ReleaseWrite(tid defs.Tid_t) {
	l.mu.Acquire(tid)
	if !l.hasWriter {
		l.mu.Release(tid)
		panic("ksync: release write lock not held")
	}
	l.hasWriter = false
	l.readMode = true
	l.cvReaders.Broadcast(l.mu)
	l.cvWriters.Signal(l.mu)
	l.mu.Release(tid)
}

/// Destroy asserts the lock is idle: no readers, no writer, nothing queued.
func (l *RwLock) Destroy() {
	l.mu.Acquire(-1)
	idle := l.readers == 0 && !l.hasWriter && l.writersQueued == 0
	l.mu.Release(-1)
	if !idle {
		panic("ksync: destroying rwlock with holders or waiters")
	}
	l.mu.Destroy()
	l.cvReaders.Destroy()
	l.cvWriters.Destroy()
}
