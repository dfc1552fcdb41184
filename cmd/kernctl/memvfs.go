package main

import (
	"sync"

	"oskern/internal/defs"
	"oskern/internal/fs"
	"oskern/internal/vm"
)

// memFile and memVFS stand in for the VFS this kernel treats as an
// interface-only boundary rather than a real filesystem implementation.
// They let kernctl's demo subcommand exercise every
// open/read/write/lseek/dup2/chdir/getcwd syscall against something,
// without pretending to be a production filesystem.
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

func (f *memFile) Stat() (fs.Stat, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fs.Stat{Size: int64(len(f.data)), Seekable: true}, 0
}

func (f *memFile) Close() defs.Err_t { return 0 }

type memVFS struct {
	mu    sync.Mutex
	files map[string]*memFile
	cwd   string
}

func newMemVFS() *memVFS {
	return &memVFS{files: make(map[string]*memFile), cwd: "/"}
}

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

// noopLoader satisfies proc.Loader without an ELF implementation, which
// is out of scope here; it loads nothing and returns a fixed placeholder
// entry point.
type noopLoader struct{}

func (noopLoader) Load(vn fs.Vnode, as *vm.AddressSpace, sys *vm.System) (uintptr, defs.Err_t) {
	return 0x400000, 0
}
