package proc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"oskern/internal/defs"
	"oskern/internal/fs"
	"oskern/internal/mem"
	"oskern/internal/swap"
	"oskern/internal/vm"
)

type fakeTLB struct {
	mu          sync.Mutex
	invalidated int
}

func (t *fakeTLB) InvalidateAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invalidated++
}

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
func (f *memFile) Stat() (fs.Stat, defs.Err_t) { return fs.Stat{Seekable: true}, 0 }
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

type stubLoader struct{ fail defs.Err_t }

func (l *stubLoader) Load(vn fs.Vnode, as *vm.AddressSpace, sys *vm.System) (uintptr, defs.Err_t) {
	if l.fail != 0 {
		return 0, l.fail
	}
	return 0x400000, 0
}

func newTestSystem(npages int) *vm.System {
	c := mem.NewCoremap(0x100000, uintptr(npages*defs.PGSIZE+1))
	p := mem.NewPhysMem(0x100000, npages*defs.PGSIZE)
	sm := swap.New(c, nil, 0, 1)
	return &vm.System{Coremap: c, Phys: p, Swap: sm}
}

func newTestProcess(t *testing.T, tbl *Table, sys *vm.System, vfs fs.VFS, parent defs.Pid_t) *Process {
	p := tbl.alloc(parent)
	require.NotNil(t, p)
	p.AS = sys.AsCreate(true)
	p.Files = fs.NewFileTable()
	p.Cwd = fs.NewCwd(vfs)
	return p
}

func TestGetPid(t *testing.T) {
	tbl := NewTable()
	sys := newTestSystem(64)
	vfs := newMemVFS()
	p := newTestProcess(t, tbl, sys, vfs, 0)
	require.Equal(t, p.Pid, GetPid(p))
}

func TestForkDuplicatesAddressSpaceAndFiles(t *testing.T) {
	tbl := NewTable()
	sys := newTestSystem(64)
	vfs := newMemVFS()
	parent := newTestProcess(t, tbl, sys, vfs, 0)
	fd, err := parent.Files.Open(vfs, "/a", fs.O_RDWR, 0)
	require.Zero(t, err)
	parent.Files.Write(fd, []byte("hi"))

	done := make(chan *Process, 1)
	childPid, ferr := Fork(sys, tbl, parent, func(child *Process) { done <- child })
	require.Zero(t, ferr)
	require.NotZero(t, childPid)
	require.Equal(t, int32(1), parent.NumThreads)

	child := <-done
	require.Equal(t, parent.Pid, child.ParentPid)
	require.NotSame(t, parent.AS, child.AS)

	child.Files.Lseek(fd, 0, fs.SEEK_SET)
	buf := make([]byte, 2)
	n, rerr := child.Files.Read(fd, buf)
	require.Zero(t, rerr)
	require.Equal(t, 2, n)
	require.Equal(t, "hi", string(buf))
}

func TestExitThenWaitpidReturnsStatus(t *testing.T) {
	tbl := NewTable()
	sys := newTestSystem(64)
	vfs := newMemVFS()
	parent := newTestProcess(t, tbl, sys, vfs, 0)
	childPid, _ := Fork(sys, tbl, parent, nil)
	child := tbl.Get(childPid)
	require.NotNil(t, child)

	Exit(sys, tbl, 2, child, 7, false)

	pid, status, rusage, err := Waitpid(sys, tbl, 1, parent, childPid, false)
	require.Zero(t, err)
	require.Equal(t, childPid, pid)
	require.Equal(t, encodeExit(7, false), status)
	require.Len(t, rusage, 32)
	require.Nil(t, tbl.Get(childPid))
}

func TestWaitpidNoHangReturnsImmediatelyWhenChildAlive(t *testing.T) {
	tbl := NewTable()
	sys := newTestSystem(64)
	vfs := newMemVFS()
	parent := newTestProcess(t, tbl, sys, vfs, 0)
	childPid, _ := Fork(sys, tbl, parent, nil)

	pid, status, rusage, err := Waitpid(sys, tbl, 1, parent, childPid, true)
	require.Zero(t, err)
	require.Zero(t, pid)
	require.Zero(t, status)
	require.Nil(t, rusage)
	require.NotNil(t, tbl.Get(childPid))
}

func TestWaitpidRejectsNonChild(t *testing.T) {
	tbl := NewTable()
	sys := newTestSystem(64)
	vfs := newMemVFS()
	parentA := newTestProcess(t, tbl, sys, vfs, 0)
	parentB := newTestProcess(t, tbl, sys, vfs, 0)
	childPid, _ := Fork(sys, tbl, parentA, nil)

	_, _, _, err := Waitpid(sys, tbl, 1, parentB, childPid, false)
	require.Equal(t, defs.ECHILD, err)
}

func TestExitWithGoneParentTearsDownImmediately(t *testing.T) {
	tbl := NewTable()
	sys := newTestSystem(64)
	vfs := newMemVFS()
	parent := newTestProcess(t, tbl, sys, vfs, 0)
	childPid, _ := Fork(sys, tbl, parent, nil)
	child := tbl.Get(childPid)

	tbl.free(parent.Pid)
	Exit(sys, tbl, 3, child, 0, false)

	require.Nil(t, tbl.Get(childPid))
}

func TestSbrkGrowsAndShrinksHeap(t *testing.T) {
	tbl := NewTable()
	sys := newTestSystem(64)
	vfs := newMemVFS()
	p := newTestProcess(t, tbl, sys, vfs, 0)
	tlb := &fakeTLB{}

	oldBreak, err := Sbrk(sys, p, 1, 4*defs.PGSIZE, tlb)
	require.Zero(t, err)
	require.Equal(t, uintptr(defs.USERHEAPSTART), oldBreak)
	require.Equal(t, uintptr(defs.USERHEAPSTART+4*defs.PGSIZE), p.HeapBreak)

	oldBreak, err = Sbrk(sys, p, 1, -2*defs.PGSIZE, tlb)
	require.Zero(t, err)
	require.Equal(t, uintptr(defs.USERHEAPSTART+4*defs.PGSIZE), oldBreak)
	require.Equal(t, uintptr(defs.USERHEAPSTART+2*defs.PGSIZE), p.HeapBreak)
	require.Equal(t, 1, tlb.invalidated)
}

func TestSbrkRejectsUnalignedAmount(t *testing.T) {
	tbl := NewTable()
	sys := newTestSystem(64)
	vfs := newMemVFS()
	p := newTestProcess(t, tbl, sys, vfs, 0)
	_, err := Sbrk(sys, p, 1, 3, &fakeTLB{})
	require.Equal(t, defs.EINVAL, err)
}

func TestSbrkRejectsShrinkBelowHeapStart(t *testing.T) {
	tbl := NewTable()
	sys := newTestSystem(64)
	vfs := newMemVFS()
	p := newTestProcess(t, tbl, sys, vfs, 0)
	_, err := Sbrk(sys, p, 1, -defs.PGSIZE, &fakeTLB{})
	require.Equal(t, defs.EINVAL, err)
}

func TestExecvReplacesAddressSpace(t *testing.T) {
	tbl := NewTable()
	sys := newTestSystem(64)
	vfs := newMemVFS()
	p := newTestProcess(t, tbl, sys, vfs, 0)
	oldAS := p.AS
	tlb := &fakeTLB{}

	err := Execv(sys, vfs, p, tlb, "/bin/hello", []string{"hello", "world"}, &stubLoader{})
	require.Zero(t, err)
	require.NotSame(t, oldAS, p.AS)
	require.Equal(t, 1, tlb.invalidated)
}

func TestExecvRejectsOversizedArgv(t *testing.T) {
	tbl := NewTable()
	sys := newTestSystem(64)
	vfs := newMemVFS()
	p := newTestProcess(t, tbl, sys, vfs, 0)

	big := make([]byte, defs.NAME_MAX+1)
	err := Execv(sys, vfs, p, &fakeTLB{}, "/bin/hello", []string{string(big)}, &stubLoader{})
	require.Equal(t, defs.E2BIG, err)
}

func TestExecvPropagatesLoaderFailure(t *testing.T) {
	tbl := NewTable()
	sys := newTestSystem(64)
	vfs := newMemVFS()
	p := newTestProcess(t, tbl, sys, vfs, 0)
	oldAS := p.AS

	err := Execv(sys, vfs, p, &fakeTLB{}, "/bin/hello", nil, &stubLoader{fail: defs.EFAULT})
	require.Equal(t, defs.EFAULT, err)
	require.Same(t, oldAS, p.AS)
}

func TestCreateInitWiresConsoleFds(t *testing.T) {
	tbl := NewTable()
	sys := newTestSystem(64)
	vfs := newMemVFS()
	p := CreateInit(tbl, sys, vfs, 256)
	require.Equal(t, defs.Pid_t(1), p.Pid)
	require.Same(t, p, tbl.Get(p.Pid))
	n, err := p.Files.Write(1, []byte("hi"))
	require.Zero(t, err)
	require.Equal(t, 2, n)
}
