package ksync

import "sync"

import "oskern/internal/defs"

/// Mutex is owned by at most one thread at a time. Acquire blocks until
/// uncontended; Release asserts that the releasing thread is the owner.
/// Mirrors the classic lock_acquire/lock_release/lock_do_i_hold triad.
type Mutex struct {
	mu     sync.Mutex
	cond   *sync.Cond
	held   bool
	owner  defs.Tid_t
	waiters int
}

/// NewMutex returns an unheld mutex.
func NewMutex() *Mutex {
	m := &Mutex{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

/// Acquire blocks until the mutex is free, then records tid as owner.
/// Must not be called by a thread that already holds the mutex.
func (m *Mutex) Acquire(tid defs.Tid_t) {
	m.mu.Lock()
	if m.held && m.owner == tid {
		m.mu.Unlock()
		panic("ksync: recursive mutex acquisition")
	}
	m.waiters++
	for m.held {
		m.cond.Wait()
	}
	m.waiters--
	m.held = true
	m.owner = tid
	m.mu.Unlock()
}

/// Release unlocks the mutex and wakes one waiter. It is a kernel bug for
/// any thread other than the owner to call Release.
func (m *Mutex) Release(tid defs.Tid_t) {
	m.mu.Lock()
	if !m.held || m.owner != tid {
		m.mu.Unlock()
		panic("ksync: mutex released by non-owner")
	}
	m.held = false
	m.owner = 0
	m.cond.Signal()
	m.mu.Unlock()
}

/// HeldByMe reports whether tid currently owns the mutex.
func (m *Mutex) HeldByMe(tid defs.Tid_t) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held && m.owner == tid
}

/// Destroy asserts the mutex is unheld and has no waiters.
func (m *Mutex) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held || m.waiters != 0 {
		panic("ksync: destroying mutex with a holder or waiter")
	}
}
