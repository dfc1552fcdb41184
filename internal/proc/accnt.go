// Package proc implements the process table and the process syscalls:
// fork, execv, waitpid, exit, sbrk, getpid. It wires together vm.System
// (address spaces), fs.FileTable/Cwd (the per-process file table), and
// ksync primitives (the exit_lock/exit_cv pairing) into a process
// lifecycle.
package proc

import (
	"sync/atomic"
	"time"

	"oskern/internal/util"
)

/// Accnt accumulates per-process CPU accounting: nanosecond counters
/// updated atomically. Now uses time.Now directly since this kernel runs
/// atop the host clock rather than a simulated one.
type Accnt struct {
	Userns int64
	Sysns  int64
}

/// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

/// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

/// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt) Now() int64 {
	return time.Now().UnixNano()
}

/// IOTime removes time spent waiting for I/O from system time.
func (a *Accnt) IOTime(since int64) {
	a.Systadd(since - a.Now())
}

/// SleepTime removes time spent sleeping from system time.
func (a *Accnt) SleepTime(since int64) {
	a.Systadd(since - a.Now())
}

/// Finish folds the time elapsed since inttime into system time, the way
/// a syscall return path closes out the accounting interval it opened on
/// entry.
func (a *Accnt) Finish(inttime int64) {
	a.Systadd(a.Now() - inttime)
}

// rusage layout: ru_utime (timeval: sec int64, usec int64), ru_stime
// (timeval: sec int64, usec int64) — 32 bytes, matching getrusage's wire
// shape closely enough for a caller that only wants the two time fields.
const rusageLen = 32

/// Rusage encodes the accumulated user/system time as a getrusage-shaped
/// byte buffer: two timeval pairs, seconds then microseconds, each 8
/// bytes little-endian.
func (a *Accnt) Rusage() []byte {
	buf := make([]byte, rusageLen)
	putTimeval(buf, 0, atomic.LoadInt64(&a.Userns))
	putTimeval(buf, 16, atomic.LoadInt64(&a.Sysns))
	return buf
}

func putTimeval(buf []byte, off int, ns int64) {
	sec := ns / int64(time.Second)
	usec := (ns % int64(time.Second)) / int64(time.Microsecond)
	util.Writen(buf, 8, off, int(sec))
	util.Writen(buf, 8, off+8, int(usec))
}
