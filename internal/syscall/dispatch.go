package syscall

import (
	"oskern/internal/defs"
	"oskern/internal/fault"
	"oskern/internal/fs"
	"oskern/internal/proc"
	"oskern/internal/vm"
)

/// Num identifies a syscall the way v0 would hold a syscall number on
/// entry to a MIPS-style trap frame.
type Num int

const (
	SYS_FORK Num = iota
	SYS_EXECV
	SYS_WAITPID
	SYS_EXIT
	SYS_SBRK
	SYS_GETPID
	SYS_OPEN
	SYS_CLOSE
	SYS_READ
	SYS_WRITE
	SYS_LSEEK
	SYS_DUP2
	SYS_CHDIR
	SYS_GETCWD
)

/// TrapFrame stands in for the MIPS-style trap frame fork duplicates
/// onto the heap for its child; boot and trap dispatch are out of scope,
/// so this only carries what the syscall layer itself needs: six scalar
/// argument registers, and the saved program counter fork's child copy
/// advances past the syscall instruction.
type TrapFrame struct {
	Args [6]uintptr
	Epc  uintptr
}

/// Dispatcher wires one syscall number + argument tuple to the
/// corresponding proc/fs operation, owning no state of its own beyond
/// the shared kernel subsystems every handler needs.
type Dispatcher struct {
	Sys    *vm.System
	Fault  *fault.Handler
	TLB    vm.TLBInvalidator
	Procs  *proc.Table
	VFS    fs.VFS
	Loader proc.Loader
}

/// Dispatch runs the syscall num for process p on thread tid, returning
/// the value that belongs in v0 and the errno that belongs in a3 (zero
/// when v0 carries a valid result). start is only consulted for
/// SYS_FORK; see proc.Fork.
func (d *Dispatcher) Dispatch(p *proc.Process, tid defs.Tid_t, num Num, tf *TrapFrame, start func(child *proc.Process, tf *TrapFrame)) (int64, defs.Err_t) {
	begin := p.BeginSyscall()
	defer p.EndSyscall(begin)

	switch num {
	case SYS_FORK:
		return d.fork(p, tf, start)
	case SYS_EXECV:
		return d.execv(p, tf)
	case SYS_WAITPID:
		return d.waitpid(p, tid, tf)
	case SYS_EXIT:
		return d.exit(p, tid, tf)
	case SYS_SBRK:
		return d.sbrk(p, tid, tf)
	case SYS_GETPID:
		return int64(proc.GetPid(p)), 0
	case SYS_OPEN:
		return d.open(p, tf)
	case SYS_CLOSE:
		return d.close(p, tf)
	case SYS_READ:
		return d.read(p, tf)
	case SYS_WRITE:
		return d.write(p, tf)
	case SYS_LSEEK:
		return d.lseek(p, tf)
	case SYS_DUP2:
		return d.dup2(p, tf)
	case SYS_CHDIR:
		return d.chdir(p, tf)
	case SYS_GETCWD:
		return d.getcwd(p, tf)
	default:
		return -1, defs.EINVAL
	}
}

func (d *Dispatcher) fork(p *proc.Process, tf *TrapFrame, start func(child *proc.Process, tf *TrapFrame)) (int64, defs.Err_t) {
	tfCopy := *tf
	tfCopy.Epc += 4
	childPid, err := proc.Fork(d.Sys, d.Procs, p, func(child *proc.Process) {
		if start != nil {
			start(child, &tfCopy)
		}
	})
	if err != 0 {
		return -1, err
	}
	return int64(childPid), 0
}

func (d *Dispatcher) execv(p *proc.Process, tf *TrapFrame) (int64, defs.Err_t) {
	path, err := Copyinstr(d.Sys, d.Fault, p.AS, tf.Args[0], defs.PATH_MAX)
	if err != 0 {
		return -1, err
	}
	argc := int(tf.Args[2])
	argvUva := tf.Args[1]
	argv := make([]string, argc)
	for i := 0; i < argc; i++ {
		ptrBuf := make([]byte, 8)
		if cerr := Copyin(d.Sys, d.Fault, p.AS, argvUva+uintptr(i*8), ptrBuf); cerr != 0 {
			return -1, cerr
		}
		elemUva := bytesToUintptr(ptrBuf)
		s, serr := Copyinstr(d.Sys, d.Fault, p.AS, elemUva, defs.NAME_MAX)
		if serr != 0 {
			return -1, serr
		}
		argv[i] = s
	}
	if err := proc.Execv(d.Sys, d.VFS, p, d.TLB, path, argv, d.Loader); err != 0 {
		return -1, err
	}
	return 0, 0
}

func (d *Dispatcher) waitpid(p *proc.Process, tid defs.Tid_t, tf *TrapFrame) (int64, defs.Err_t) {
	childPid := defs.Pid_t(tf.Args[0])
	nohang := tf.Args[2]&1 != 0
	pid, status, rusage, err := proc.Waitpid(d.Sys, d.Procs, tid, p, childPid, nohang)
	if err != 0 {
		return -1, err
	}
	if pid != 0 {
		var buf [8]byte
		putUintptr(buf[:], uintptr(status))
		if serr := Copyout(d.Sys, d.Fault, p.AS, tf.Args[1], buf[:]); serr != 0 {
			return -1, serr
		}
		// Args[3] is a wait4-style optional rusage destination; zero
		// means the caller didn't ask for one.
		if tf.Args[3] != 0 {
			if serr := Copyout(d.Sys, d.Fault, p.AS, tf.Args[3], rusage); serr != 0 {
				return -1, serr
			}
		}
	}
	return int64(pid), 0
}

func (d *Dispatcher) exit(p *proc.Process, tid defs.Tid_t, tf *TrapFrame) (int64, defs.Err_t) {
	code := int(tf.Args[0])
	fatal := tf.Args[1] != 0
	proc.Exit(d.Sys, d.Procs, tid, p, code, fatal)
	return 0, 0
}

func (d *Dispatcher) sbrk(p *proc.Process, tid defs.Tid_t, tf *TrapFrame) (int64, defs.Err_t) {
	amount := int(int64(tf.Args[0]))
	oldBreak, err := proc.Sbrk(d.Sys, p, tid, amount, d.TLB)
	if err != 0 {
		return -1, err
	}
	return int64(oldBreak), 0
}

func (d *Dispatcher) open(p *proc.Process, tf *TrapFrame) (int64, defs.Err_t) {
	path, err := Copyinstr(d.Sys, d.Fault, p.AS, tf.Args[0], defs.PATH_MAX)
	if err != 0 {
		return -1, err
	}
	fd, oerr := p.Files.Open(d.VFS, path, int(tf.Args[1]), int(tf.Args[2]))
	if oerr != 0 {
		return -1, oerr
	}
	return int64(fd), 0
}

func (d *Dispatcher) close(p *proc.Process, tf *TrapFrame) (int64, defs.Err_t) {
	if err := p.Files.Close(int(tf.Args[0])); err != 0 {
		return -1, err
	}
	return 0, 0
}

func (d *Dispatcher) read(p *proc.Process, tf *TrapFrame) (int64, defs.Err_t) {
	fd := int(tf.Args[0])
	uva := tf.Args[1]
	n := int(tf.Args[2])
	buf := make([]byte, n)
	cnt, err := p.Files.Read(fd, buf)
	if err != 0 {
		return -1, err
	}
	if cnt > 0 {
		if cerr := Copyout(d.Sys, d.Fault, p.AS, uva, buf[:cnt]); cerr != 0 {
			return -1, cerr
		}
	}
	return int64(cnt), 0
}

func (d *Dispatcher) write(p *proc.Process, tf *TrapFrame) (int64, defs.Err_t) {
	fd := int(tf.Args[0])
	uva := tf.Args[1]
	n := int(tf.Args[2])
	buf := make([]byte, n)
	if cerr := Copyin(d.Sys, d.Fault, p.AS, uva, buf); cerr != 0 {
		return -1, cerr
	}
	cnt, err := p.Files.Write(fd, buf)
	if err != 0 {
		return -1, err
	}
	return int64(cnt), 0
}

func (d *Dispatcher) lseek(p *proc.Process, tf *TrapFrame) (int64, defs.Err_t) {
	fd := int(tf.Args[0])
	pos := int64(tf.Args[1])
	whence := int(tf.Args[2])
	off, err := p.Files.Lseek(fd, pos, whence)
	if err != 0 {
		return -1, err
	}
	return off, 0
}

func (d *Dispatcher) dup2(p *proc.Process, tf *TrapFrame) (int64, defs.Err_t) {
	if err := p.Files.Dup2(int(tf.Args[0]), int(tf.Args[1])); err != 0 {
		return -1, err
	}
	return 0, 0
}

func (d *Dispatcher) chdir(p *proc.Process, tf *TrapFrame) (int64, defs.Err_t) {
	path, err := Copyinstr(d.Sys, d.Fault, p.AS, tf.Args[0], defs.PATH_MAX)
	if err != 0 {
		return -1, err
	}
	if cerr := p.Cwd.Chdir(path); cerr != 0 {
		return -1, cerr
	}
	return 0, 0
}

func (d *Dispatcher) getcwd(p *proc.Process, tf *TrapFrame) (int64, defs.Err_t) {
	uva := tf.Args[0]
	max := int(tf.Args[1])
	buf := make([]byte, max)
	n, err := p.Cwd.Getcwd(buf)
	if err != 0 {
		return -1, err
	}
	if n > 0 {
		if cerr := Copyout(d.Sys, d.Fault, p.AS, uva, buf[:n]); cerr != 0 {
			return -1, cerr
		}
	}
	return int64(n), 0
}

func bytesToUintptr(b []byte) uintptr {
	var v uintptr
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uintptr(b[i])
	}
	return v
}

func putUintptr(b []byte, v uintptr) {
	for i := range b {
		b[i] = byte(v)
		v >>= 8
	}
}
