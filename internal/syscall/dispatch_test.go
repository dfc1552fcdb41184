package syscall

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"oskern/internal/defs"
	"oskern/internal/fault"
	"oskern/internal/fs"
	"oskern/internal/mem"
	"oskern/internal/proc"
	"oskern/internal/swap"
	"oskern/internal/vm"
)

type memFile struct {
	mu   sync.Mutex
	data []byte
}

func (f *memFile) Read(buf []byte, off int64) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off >= int64(len(f.data)) {
		return 0, 0
	}
	return copy(buf, f.data[off:]), 0
}
func (f *memFile) Write(buf []byte, off int64) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := off + int64(len(buf))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:end], buf)
	return len(buf), 0
}
func (f *memFile) Stat() (fs.Stat, defs.Err_t) { return fs.Stat{Size: int64(len(f.data)), Seekable: true}, 0 }
func (f *memFile) Close() defs.Err_t           { return 0 }

type memVFS struct {
	mu    sync.Mutex
	files map[string]*memFile
	cwd   string
}

func newMemVFS() *memVFS { return &memVFS{files: make(map[string]*memFile), cwd: "/"} }

func (v *memVFS) Lookup(path string, flags int) (fs.Vnode, defs.Err_t) {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.files[path]
	if !ok {
		f = &memFile{}
		v.files[path] = f
	}
	return f, 0
}
func (v *memVFS) Chdir(path string) defs.Err_t {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cwd = path
	return 0
}
func (v *memVFS) Getcwd() (string, defs.Err_t) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cwd, 0
}

type stubLoader struct{}

func (stubLoader) Load(vn fs.Vnode, as *vm.AddressSpace, sys *vm.System) (uintptr, defs.Err_t) {
	return 0x400000, 0
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *proc.Process, *proc.Table) {
	c := mem.NewCoremap(0x100000, uintptr(256*defs.PGSIZE+1))
	ph := mem.NewPhysMem(0x100000, 256*defs.PGSIZE)
	sm := swap.New(c, nil, 0, 1)
	sys := &vm.System{Coremap: c, Phys: ph, Swap: sm}
	h := fault.NewHandler(sys, 1)

	vfs := newMemVFS()
	tbl := proc.NewTable()
	p := proc.CreateInit(tbl, sys, vfs, 64)
	require.Zero(t, sys.AsDefineRegion(p.AS, 0x2000, 0x4000, true, true, false))

	d := &Dispatcher{Sys: sys, Fault: h, TLB: h.TLB, Procs: tbl, VFS: vfs, Loader: stubLoader{}}
	return d, p, tbl
}

func TestDispatchGetpid(t *testing.T) {
	d, p, _ := newTestDispatcher(t)
	v0, err := d.Dispatch(p, 1, SYS_GETPID, &TrapFrame{}, nil)
	require.Zero(t, err)
	require.Equal(t, int64(p.Pid), v0)
}

func TestDispatchOpenWriteLseekRead(t *testing.T) {
	d, p, _ := newTestDispatcher(t)

	require.Zero(t, Copyoutstr(d.Sys, d.Fault, p.AS, 0x2000, "/a", 64))
	tf := &TrapFrame{Args: [6]uintptr{0x2000, uintptr(fs.O_RDWR), 0, 0, 0, 0}}
	v0, err := d.Dispatch(p, 1, SYS_OPEN, tf, nil)
	require.Zero(t, err)
	fd := int(v0)
	require.Equal(t, 3, fd)

	require.Zero(t, Copyout(d.Sys, d.Fault, p.AS, 0x2100, []byte("hello")))
	tf = &TrapFrame{Args: [6]uintptr{uintptr(fd), 0x2100, 5, 0, 0, 0}}
	v0, err = d.Dispatch(p, 1, SYS_WRITE, tf, nil)
	require.Zero(t, err)
	require.Equal(t, int64(5), v0)

	tf = &TrapFrame{Args: [6]uintptr{uintptr(fd), 0, 0, 0, 0, 0}}
	_, err = d.Dispatch(p, 1, SYS_LSEEK, tf, nil)
	require.Zero(t, err)

	tf = &TrapFrame{Args: [6]uintptr{uintptr(fd), 0x2200, 5, 0, 0, 0}}
	v0, err = d.Dispatch(p, 1, SYS_READ, tf, nil)
	require.Zero(t, err)
	require.Equal(t, int64(5), v0)

	got := make([]byte, 5)
	require.Zero(t, Copyin(d.Sys, d.Fault, p.AS, 0x2200, got))
	require.Equal(t, "hello", string(got))
}

func TestDispatchChdirGetcwd(t *testing.T) {
	d, p, _ := newTestDispatcher(t)
	require.Zero(t, Copyoutstr(d.Sys, d.Fault, p.AS, 0x2000, "/usr/bin", 64))
	tf := &TrapFrame{Args: [6]uintptr{0x2000, 0, 0, 0, 0, 0}}
	_, err := d.Dispatch(p, 1, SYS_CHDIR, tf, nil)
	require.Zero(t, err)

	tf = &TrapFrame{Args: [6]uintptr{0x2100, 64, 0, 0, 0, 0}}
	v0, err := d.Dispatch(p, 1, SYS_GETCWD, tf, nil)
	require.Zero(t, err)
	require.Equal(t, int64(8), v0)

	got := make([]byte, 8)
	require.Zero(t, Copyin(d.Sys, d.Fault, p.AS, 0x2100, got))
	require.Equal(t, "/usr/bin", string(got))
}

func TestDispatchSbrk(t *testing.T) {
	d, p, _ := newTestDispatcher(t)
	tf := &TrapFrame{Args: [6]uintptr{uintptr(4 * defs.PGSIZE), 0, 0, 0, 0, 0}}
	v0, err := d.Dispatch(p, 1, SYS_SBRK, tf, nil)
	require.Zero(t, err)
	require.Equal(t, int64(defs.USERHEAPSTART), v0)
}

func TestDispatchForkWaitpidExit(t *testing.T) {
	d, p, tbl := newTestDispatcher(t)
	done := make(chan *proc.Process, 1)

	v0, err := d.Dispatch(p, 1, SYS_FORK, &TrapFrame{}, func(child *proc.Process, tf *TrapFrame) {
		done <- child
	})
	require.Zero(t, err)
	childPid := defs.Pid_t(v0)
	require.NotZero(t, childPid)
	child := <-done
	require.Same(t, child, tbl.Get(childPid))

	exitTf := &TrapFrame{Args: [6]uintptr{7, 0, 0, 0, 0, 0}}
	_, err = d.Dispatch(child, 2, SYS_EXIT, exitTf, nil)
	require.Zero(t, err)

	require.Zero(t, Copyoutstr(d.Sys, d.Fault, p.AS, 0x2000, "", 8))
	waitTf := &TrapFrame{Args: [6]uintptr{uintptr(childPid), 0x2000, 0, 0, 0, 0}}
	v0, err = d.Dispatch(p, 1, SYS_WAITPID, waitTf, nil)
	require.Zero(t, err)
	require.Equal(t, int64(childPid), v0)
	require.Nil(t, tbl.Get(childPid))
}

func TestDispatchWaitpidCopiesOutRusageWhenRequested(t *testing.T) {
	d, p, tbl := newTestDispatcher(t)
	done := make(chan *proc.Process, 1)

	v0, err := d.Dispatch(p, 1, SYS_FORK, &TrapFrame{}, func(child *proc.Process, tf *TrapFrame) {
		done <- child
	})
	require.Zero(t, err)
	childPid := defs.Pid_t(v0)
	child := <-done

	exitTf := &TrapFrame{Args: [6]uintptr{3, 0, 0, 0, 0, 0}}
	_, err = d.Dispatch(child, 2, SYS_EXIT, exitTf, nil)
	require.Zero(t, err)

	require.Zero(t, Copyoutstr(d.Sys, d.Fault, p.AS, 0x2000, "", 8))
	fill := make([]byte, 32)
	for i := range fill {
		fill[i] = 0xff
	}
	require.Zero(t, Copyout(d.Sys, d.Fault, p.AS, 0x3000, fill))
	waitTf := &TrapFrame{Args: [6]uintptr{uintptr(childPid), 0x2000, 0, 0x3000, 0, 0}}
	_, err = d.Dispatch(p, 1, SYS_WAITPID, waitTf, nil)
	require.Zero(t, err)
	require.Nil(t, tbl.Get(childPid))

	rusage := make([]byte, 32)
	require.Zero(t, Copyin(d.Sys, d.Fault, p.AS, 0x3000, rusage))
	require.Len(t, rusage, 32)
	// The child never ran in user mode, so its ru_utime overwrote the fill
	// with zeroes.
	require.Equal(t, make([]byte, 16), rusage[:16])
}

func TestDispatchUnknownSyscallIsEinval(t *testing.T) {
	d, p, _ := newTestDispatcher(t)
	_, err := d.Dispatch(p, 1, Num(999), &TrapFrame{}, nil)
	require.Equal(t, defs.EINVAL, err)
}
