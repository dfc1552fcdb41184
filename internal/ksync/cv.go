package ksync

import "sync"

import "oskern/internal/defs"

/// Cv is a condition variable that must always be invoked while the
/// caller holds a paired Mutex. Wait atomically releases the mutex,
/// blocks, and re-acquires the mutex before returning, in the classic
/// cv_wait/cv_signal/cv_broadcast style.
type Cv struct {
	mu      sync.Mutex
	cond    *sync.Cond
	waiters int
}

/// NewCv returns an empty condition variable.
func NewCv() *Cv {
	c := &Cv{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

/// Wait releases m, blocks until signaled, then re-acquires m before
/// returning. The caller must hold m; this is not checked directly here
/// but by m.Release/m.Acquire's own owner assertions.
func (c *Cv) Wait(tid defs.Tid_t, m *Mutex) {
	c.mu.Lock()
	c.waiters++
	m.Release(tid)
	c.cond.Wait()
	c.waiters--
	c.mu.Unlock()
	m.Acquire(tid)
}

/// Signal wakes one waiter, if any. The caller must hold m.
func (c *Cv) Signal(m *Mutex) {
	c.mu.Lock()
	c.cond.Signal()
	c.mu.Unlock()
}

/// Broadcast wakes all waiters. The caller must hold m.
func (c *Cv) Broadcast(m *Mutex) {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

/// Destroy asserts that no thread is waiting on the condition variable.
func (c *Cv) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiters != 0 {
		panic("ksync: destroying cv with waiters")
	}
}
