// Package syscall implements the syscall dispatcher: it maps a numeric
// syscall identifier and a small trap-frame-like value to the handlers
// in proc and fs, marshalling user-space pointers through an explicit
// copyin/copyinstr/copyout/copyoutstr boundary. The boundary walks user
// memory not by walking real hardware page tables but by faulting pages
// in through this kernel's own fault.Handler and reading/writing the
// resulting frame through vm.System.FrameBuf.
package syscall

import (
	"oskern/internal/defs"
	"oskern/internal/fault"
	"oskern/internal/vm"
)

/// Userbuf assists reading and writing a range of a process's user
/// memory. Every access faults its page in on demand, so pages that have
/// never been touched (or that were swapped out) are brought in
/// transparently, the way Userbuf_t's _tx drives Userdmap8_inner.
type Userbuf struct {
	sys   *vm.System
	fault *fault.Handler
	as    *vm.AddressSpace
	uva   uintptr
	len   int
	off   int
}

/// NewUserbuf initializes a buffer over [uva, uva+length) in as.
func NewUserbuf(sys *vm.System, h *fault.Handler, as *vm.AddressSpace, uva uintptr, length int) *Userbuf {
	return &Userbuf{sys: sys, fault: h, as: as, uva: uva, len: length}
}

/// Remain returns the number of unread bytes left in the buffer.
func (u *Userbuf) Remain() int { return u.len - u.off }

/// Totalsz reports the total size of the buffer in bytes.
func (u *Userbuf) Totalsz() int { return u.len }

/// Uioread copies data from user memory into dst and returns the number
/// of bytes read along with an error code.
func (u *Userbuf) Uioread(dst []byte) (int, defs.Err_t) {
	return u.tx(dst, false)
}

/// Uiowrite copies data from src into user memory and returns the number
/// of bytes written along with an error code.
func (u *Userbuf) Uiowrite(src []byte) (int, defs.Err_t) {
	return u.tx(src, true)
}

/// tx copies min(len(buf), remaining) bytes, one faulted-in page at a
/// time, in the direction write indicates. A pointer outside any
/// resident user segment fails the whole transfer with EFAULT.
func (u *Userbuf) tx(buf []byte, write bool) (int, defs.Err_t) {
	ret := 0
	for len(buf) != 0 && u.off != u.len {
		va := u.uva + uintptr(u.off)
		kind := fault.Read
		if write {
			kind = fault.Write
		}
		if res := u.fault.Fault(u.as, kind, va); res != fault.OK {
			return ret, defs.EFAULT
		}
		aligned := va & ^uintptr(defs.PGOFFSET)
		seg := u.sys.FindSegment(u.as, va)
		if seg == nil {
			return ret, defs.EFAULT
		}
		pe := u.sys.FindPageInSegment(seg, aligned)
		if pe == nil {
			return ret, defs.EFAULT
		}
		frame := u.sys.FrameBuf(pe.PPN())
		pageOff := int(va - aligned)
		n := defs.PGSIZE - pageOff
		if n > len(buf) {
			n = len(buf)
		}
		if remain := u.len - u.off; n > remain {
			n = remain
		}
		if write {
			copy(frame[pageOff:pageOff+n], buf[:n])
		} else {
			copy(buf[:n], frame[pageOff:pageOff+n])
		}
		buf = buf[n:]
		u.off += n
		ret += n
	}
	return ret, 0
}

/// Copyin reads exactly len(dst) bytes from uva in as into dst.
func Copyin(sys *vm.System, h *fault.Handler, as *vm.AddressSpace, uva uintptr, dst []byte) defs.Err_t {
	ub := NewUserbuf(sys, h, as, uva, len(dst))
	n, err := ub.Uioread(dst)
	if err != 0 {
		return err
	}
	if n != len(dst) {
		return defs.EFAULT
	}
	return 0
}

/// Copyout writes src to uva in as.
func Copyout(sys *vm.System, h *fault.Handler, as *vm.AddressSpace, uva uintptr, src []byte) defs.Err_t {
	ub := NewUserbuf(sys, h, as, uva, len(src))
	n, err := ub.Uiowrite(src)
	if err != 0 {
		return err
	}
	if n != len(src) {
		return defs.EFAULT
	}
	return 0
}

/// Copyinstr reads a NUL-terminated string from uva, byte by byte, up to
/// max bytes, the NUL included, as Copyoutstr counts it. Returns E2BIG if
/// no NUL is found within the bound, matching the ARG_MAX/NAME_MAX/PATH_MAX bounds execv
/// and open/chdir impose on copied-in paths and args.
func Copyinstr(sys *vm.System, h *fault.Handler, as *vm.AddressSpace, uva uintptr, max int) (string, defs.Err_t) {
	out := make([]byte, 0, 64)
	one := make([]byte, 1)
	for len(out) < max {
		ub := NewUserbuf(sys, h, as, uva+uintptr(len(out)), 1)
		n, err := ub.Uioread(one)
		if err != 0 || n != 1 {
			return "", defs.EFAULT
		}
		if one[0] == 0 {
			return string(out), 0
		}
		out = append(out, one[0])
	}
	return "", defs.E2BIG
}

/// Copyoutstr writes s and a trailing NUL to uva, failing with E2BIG if
/// it (plus the NUL) would not fit in max bytes.
func Copyoutstr(sys *vm.System, h *fault.Handler, as *vm.AddressSpace, uva uintptr, s string, max int) defs.Err_t {
	if len(s)+1 > max {
		return defs.E2BIG
	}
	return Copyout(sys, h, as, uva, append([]byte(s), 0))
}
