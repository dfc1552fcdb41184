package fs

import (
	"sync"

	"oskern/internal/defs"
)

// memFile backs a single path's contents for the test VFS.
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
	n := copy(buf, f.data[off:])
	return n, 0
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

func (f *memFile) Stat() (Stat, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stat{Size: int64(len(f.data)), Seekable: true}, 0
}

func (f *memFile) Close() defs.Err_t { return 0 }

// memVnode is the per-open handle a memVFS hands back; several opens of
// the same path share the same memFile.
type memVnode struct {
	*memFile
}

// memVFS is an in-memory VFS used only by this package's tests, standing
// in for the real (out-of-scope) filesystem implementation.
type memVFS struct {
	mu    sync.Mutex
	files map[string]*memFile
	cwd   string
}

func newMemVFS() *memVFS {
	return &memVFS{files: make(map[string]*memFile), cwd: "/"}
}

func (v *memVFS) Lookup(path string, flags int) (Vnode, defs.Err_t) {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.files[path]
	if !ok {
		f = &memFile{}
		v.files[path] = f
	}
	return &memVnode{f}, 0
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
