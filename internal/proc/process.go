package proc

import (
	"sync"
	"sync/atomic"

	"oskern/internal/defs"
	"oskern/internal/fs"
	"oskern/internal/ksync"
	"oskern/internal/stats"
	"oskern/internal/vm"
)

/// Process is one entry of the process table: an address space, a file
/// table and cwd, and the exit/reap synchronization state.
type Process struct {
	Pid       defs.Pid_t
	ParentPid defs.Pid_t

	AS    *vm.AddressSpace
	Files *fs.FileTable
	Cwd   *fs.Cwd

	NumThreads int32

	ExitLock *ksync.Mutex
	ExitCv   *ksync.Cv
	CanExit  bool
	ExitCode int

	SbrkLock  *ksync.Mutex
	HeapBreak uintptr

	Accnt          Accnt
	lastSyscallEnd int64
}

/// BeginSyscall records the start of a syscall and folds the gap since the
/// previous syscall ended into user time: with no real user-mode trap to
/// measure directly, time between syscalls is this simulator's stand-in
/// for time spent running user code. Returns the start time to hand back
/// to EndSyscall.
func (p *Process) BeginSyscall() int64 {
	now := p.Accnt.Now()
	prev := atomic.SwapInt64(&p.lastSyscallEnd, 0)
	if prev != 0 {
		p.Accnt.Utadd(now - prev)
	}
	return now
}

/// EndSyscall folds the elapsed time since begin into system time and
/// records the end time for the next BeginSyscall's user-time gap.
func (p *Process) EndSyscall(begin int64) {
	p.Accnt.Finish(begin)
	atomic.StoreInt64(&p.lastSyscallEnd, p.Accnt.Now())
}

/// newProcess builds a zeroed process for pid with its own exit
/// synchronization primitives and a heap break at USERHEAPSTART, matching
/// as_create(with_heap=true).
func newProcess(pid, parentPid defs.Pid_t) *Process {
	return &Process{
		Pid:       pid,
		ParentPid: parentPid,
		ExitLock:  ksync.NewMutex(),
		ExitCv:    ksync.NewCv(),
		SbrkLock:  ksync.NewMutex(),
		HeapBreak: uintptr(defs.USERHEAPSTART),
	}
}

/// encodeExit packs an exit code the way the syscall layer hands back to
/// waitpid: a fatal (signal-style) exit sets marker bit 0x10000, above
/// every normal-exit value, and keeps the code in the low byte; a normal
/// exit shifts the code into the second byte. The two cases stay
/// distinguishable on the wait side without needing a separate flag.
func encodeExit(code int, fatal bool) int {
	if fatal {
		return 0x10000 | (code & 0xff)
	}
	return (code & 0xff) << 8
}

/// Table is the process table procs[0..MAX_PROCS), guarding pid
/// allocation and lookup with a single mutex.
type Table struct {
	mu      sync.Mutex
	procs   [defs.MAX_PROCS]*Process
	nextPid defs.Pid_t

	Stats *stats.KernelStats
}

/// NewTable returns an empty process table. Pid 0 is never handed out so
/// that a zero Pid_t can mean "no process".
func NewTable() *Table {
	return &Table{nextPid: 1}
}

/// Get returns the process at pid, or nil if the slot is empty.
func (t *Table) Get(pid defs.Pid_t) *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pid <= 0 || int(pid) >= len(t.procs) {
		return nil
	}
	return t.procs[pid]
}

/// alloc finds a free slot, installs a new process there, and returns it.
/// Allocation wraps around MAX_PROCS; returns nil if the table is full.
func (t *Table) alloc(parentPid defs.Pid_t) *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	start := t.nextPid
	for {
		pid := t.nextPid
		t.nextPid++
		if int(t.nextPid) >= len(t.procs) {
			t.nextPid = 1
		}
		if t.procs[pid] == nil {
			p := newProcess(pid, parentPid)
			t.procs[pid] = p
			if t.Stats != nil {
				t.Stats.ProcsActive.Inc()
			}
			return p
		}
		if t.nextPid == start {
			return nil
		}
	}
}

/// free removes pid from the table, making its slot available again.
func (t *Table) free(pid defs.Pid_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs[pid] = nil
	if t.Stats != nil {
		t.Stats.ProcsActive.Add(-1)
	}
}

/// CreateInit allocates the first process in tbl, with no parent, a
/// fresh address space (with heap), and fds 0/1/2 wired to the console,
/// the way an init_std bootstraps the first process.
func CreateInit(tbl *Table, sys *vm.System, vfs fs.VFS, consoleCapacity int) *Process {
	p := tbl.alloc(0)
	p.AS = sys.AsCreate(true)
	p.Files = fs.NewFileTable()
	p.Cwd = fs.NewCwd(vfs)
	stdin, stdout := fs.NewConsole(consoleCapacity)
	p.Files.SetStdFd(0, stdin, fs.O_RDONLY)
	p.Files.SetStdFd(1, stdout, fs.O_WRONLY)
	p.Files.SetStdFd(2, stdout, fs.O_WRONLY)
	return p
}

/// GetPid returns the calling process's pid.
func GetPid(p *Process) defs.Pid_t {
	return p.Pid
}
