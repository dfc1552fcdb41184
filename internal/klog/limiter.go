package klog

import (
	"runtime"
	"sync"
)

/// Limiter suppresses repeated log lines from the same call chain: the
/// frame allocator and swap manager use one to avoid flooding the log
/// with "out of frames" warnings from a hot fault-handling loop, logging
/// each distinct caller stack only once.
type Limiter struct {
	mu      sync.Mutex
	Enabled bool
	seen    map[uintptr]bool
}

/// pchash folds a call stack's return addresses into one key, a
/// poor-man's hash good enough for call-site deduplication.
func pchash(pcs []uintptr) uintptr {
	var h uintptr
	for _, pc := range pcs {
		pc = pc*1103515245 + 12345
		h ^= pc
	}
	return h
}

/// Allow reports whether the caller's stack (as of 3 frames up, skipping
/// Allow and its immediate caller's wrapper) has not been logged before.
/// Disabled limiters always allow.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.Enabled {
		return true
	}
	if l.seen == nil {
		l.seen = make(map[uintptr]bool)
	}

	var pcs []uintptr
	for sz, got := 30, 30; got >= sz; sz *= 2 {
		pcs = make([]uintptr, sz)
		got = runtime.Callers(3, pcs)
		if got == 0 {
			return true
		}
		pcs = pcs[:got]
	}
	h := pchash(pcs)
	if l.seen[h] {
		return false
	}
	l.seen[h] = true
	return true
}

/// Len returns the number of distinct call chains recorded so far.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
