// Package ksync provides the blocking synchronization primitives the rest
// of the kernel is built on: a counting semaphore, a mutex, a condition
// variable bound to a held mutex, and a reader-writer lock, adapted to
// run as goroutines instead of kernel threads atop a spinlock-protected
// wait channel — each goroutine's identity is passed explicitly as a
// Tid_t since Go intentionally has no public goroutine-id API to read an
// "owner" from.
package ksync

import "sync"

/// Sem is a counting semaphore. P blocks while the count is zero; V
/// increments the count and wakes one waiter. FIFO ordering between
/// waiters is not guaranteed, in the classic sem_create/P/V style.
type Sem struct {
	mu      sync.Mutex
	cond    *sync.Cond
	count   int
	waiters int
}

/// NewSem creates a semaphore with the given initial count.
func NewSem(initial int) *Sem {
	s := &Sem{count: initial}
	s.cond = sync.NewCond(&s.mu)
	return s
}

/// P decrements the semaphore, blocking while the count is zero.
func (s *Sem) P() {
	s.mu.Lock()
	s.waiters++
	for s.count == 0 {
		s.cond.Wait()
	}
	s.waiters--
	s.count--
	s.mu.Unlock()
}

/// V increments the semaphore and wakes one waiter.
func (s *Sem) V() {
	s.mu.Lock()
	s.count++
	s.cond.Signal()
	s.mu.Unlock()
}

/// Count returns a snapshot of the current count.
func (s *Sem) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

/// Destroy asserts that no thread is blocked on the semaphore. Destroying
/// a primitive with a waiter is a kernel bug: it panics rather than
/// silently leaking the waiter.
func (s *Sem) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiters != 0 {
		panic("ksync: destroying semaphore with waiters")
	}
}
