package proc

import (
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"oskern/internal/defs"
	"oskern/internal/fs"
	"oskern/internal/klog"
	"oskern/internal/swap"
	"oskern/internal/vm"
)

var exitLog = klog.New("proc")

/// Fork allocates a child process, deep-copies the parent's address space
/// via vm.System.AsCopy, shares the cwd reference, and forks a fd table
/// over the parent's open files. The caller supplies (via start) the
/// trap-frame-style continuation that would resume the child in user mode; a real trap
/// frame is out of scope here, so start is given the child process
/// itself and is free to spawn whatever kernel-thread stand-in the
/// caller wants run for it.
func Fork(sys *vm.System, tbl *Table, parent *Process, start func(child *Process)) (defs.Pid_t, defs.Err_t) {
	childAS, err := sys.AsCopy(parent.AS)
	if err != 0 {
		return 0, err
	}

	child := tbl.alloc(parent.Pid)
	if child == nil {
		sys.AsDestroy(childAS)
		return 0, defs.ENOMEM
	}
	child.AS = childAS
	child.Cwd = parent.Cwd
	child.Files = parent.Files.ForkCopy()
	child.HeapBreak = parent.HeapBreak

	atomic.AddInt32(&parent.NumThreads, 1)

	if start != nil {
		go start(child)
	}
	return child.Pid, 0
}

/// Waitpid looks up childPid, verifies it is actually parent's child, and
/// either returns immediately (WNOHANG and the child hasn't exited) or
/// blocks on the child's exit_cv until it has. On success it reaps the
/// child: captures its accumulated CPU accounting as a rusage buffer,
/// tears down its address space, and frees its table slot.
func Waitpid(sys *vm.System, tbl *Table, tid defs.Tid_t, parent *Process, childPid defs.Pid_t, nohang bool) (defs.Pid_t, int, []byte, defs.Err_t) {
	child := tbl.Get(childPid)
	if child == nil || child.ParentPid != parent.Pid {
		return 0, 0, nil, defs.ECHILD
	}

	child.ExitLock.Acquire(tid)
	if nohang && !child.CanExit {
		child.ExitLock.Release(tid)
		return 0, 0, nil, 0
	}
	for !child.CanExit {
		child.ExitCv.Wait(tid, child.ExitLock)
	}
	status := child.ExitCode
	child.ExitLock.Release(tid)

	rusage := child.Accnt.Rusage()
	sys.AsDestroy(child.AS)
	tbl.free(childPid)
	return childPid, status, rusage, 0
}

/// Exit marks p as exited, records its encoded exit code, and wakes any
/// waiter. If the parent has already exited (reaped, or itself a zombie
/// waiting to be reaped), nobody will ever call Waitpid on p, so Exit
/// fully tears p down itself instead of leaving a zombie no one reaps.
func Exit(sys *vm.System, tbl *Table, tid defs.Tid_t, p *Process, code int, fatal bool) {
	p.ExitLock.Acquire(tid)
	p.ExitCode = encodeExit(code, fatal)
	p.CanExit = true
	parent := tbl.Get(p.ParentPid)
	parentGone := parent == nil || parent.CanExit
	p.ExitCv.Broadcast(p.ExitLock)
	p.ExitLock.Release(tid)

	if parentGone {
		var closeErrs *multierror.Error
		for fd := 0; fd < defs.OPEN_MAX; fd++ {
			if !p.Files.IsOpen(fd) {
				continue
			}
			if cerr := p.Files.Close(fd); cerr != 0 {
				closeErrs = multierror.Append(closeErrs, cerr)
			}
		}
		if closeErrs.ErrorOrNil() != nil {
			exitLog.Info("errors closing fds on teardown", "pid", p.Pid, "err", closeErrs.Error())
		}
		sys.AsDestroy(p.AS)
		tbl.free(p.Pid)
	}
}

/// Sbrk grows or shrinks the heap segment by amount bytes, which must be
/// a multiple of PGSIZE, and returns the break's value before the change.
/// Shrinking frees every PTE at or past the new break (releasing its
/// frame or swap slot) and invalidates the whole TLB, since this kernel
/// has no way to target just the freed pages' cached translations.
func Sbrk(sys *vm.System, p *Process, tid defs.Tid_t, amount int, tlb vm.TLBInvalidator) (uintptr, defs.Err_t) {
	if amount%defs.PGSIZE != 0 {
		return 0, defs.EINVAL
	}

	p.SbrkLock.Acquire(tid)
	defer p.SbrkLock.Release(tid)

	oldBreak := p.HeapBreak
	newBreak := uintptr(int(oldBreak) + amount)
	if int(newBreak) < defs.USERHEAPSTART {
		return 0, defs.EINVAL
	}
	if int(newBreak) >= defs.KERNMIN {
		return 0, defs.ENOMEM
	}

	seg := sys.FindHeapSegment(p.AS)
	if seg == nil {
		return 0, defs.EINVAL
	}

	if amount < 0 {
		for _, pe := range append([]*vm.PTE(nil), seg.Pages()...) {
			if pe.VPN < newBreak {
				continue
			}
			if pe.SwapState() == swap.OnDisk {
				sys.Swap.ReleaseSlot(pe.DiskSlot())
			} else {
				sys.Coremap.FreeFrame(pe.PPN())
			}
			seg.RemovePage(pe)
		}
		tlb.InvalidateAll()
	}

	if err := seg.GrowHeap(amount); err != 0 {
		return 0, err
	}
	p.HeapBreak = newBreak
	return oldBreak, 0
}

/// Loader performs the ELF-loading step execv hands off once the target
/// vnode is open and a fresh address space exists: the loader itself is
/// out of scope here, and this interface is the seam a real
/// implementation plugs into.
type Loader interface {
	Load(vn fs.Vnode, as *vm.AddressSpace, sys *vm.System) (entry uintptr, err defs.Err_t)
}

/// Execv validates argv against ARG_MAX/NAME_MAX, opens path read-only,
/// replaces the caller's address space with a fresh one, hands it to
/// loader to populate, and defines the stack. Loading the program image
/// itself is delegated to loader rather than implemented here.
func Execv(sys *vm.System, vfs fs.VFS, p *Process, tlb vm.TLBInvalidator, path string, argv []string, loader Loader) defs.Err_t {
	total := 0
	for _, a := range argv {
		if len(a) > defs.NAME_MAX {
			return defs.E2BIG
		}
		total += len(a) + 1
	}
	if total > defs.ARG_MAX {
		return defs.E2BIG
	}

	vn, err := vfs.Lookup(path, fs.O_RDONLY)
	if err != 0 {
		return err
	}

	oldAS := p.AS
	newAS := sys.AsCreate(true)
	p.AS = newAS
	sys.Activate(tlb)

	if _, lerr := loader.Load(vn, newAS, sys); lerr != 0 {
		sys.AsDestroy(newAS)
		p.AS = oldAS
		vn.Close()
		return lerr
	}
	sys.AsDefineStack(newAS)
	vn.Close()
	sys.AsDestroy(oldAS)
	return 0
}
