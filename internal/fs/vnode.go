// Package fs implements the file-descriptor layer: a per-process file
// table of reference-counted handles over a narrow Vnode interface. The
// full virtual filesystem (name resolution, on-disk layout, the log) is
// explicitly out of scope — Vnode is the boundary a real VFS would sit
// behind, wrapped rather than a concrete file type.
package fs

import "oskern/internal/defs"

/// Stat describes the subset of vnode metadata the file-descriptor layer
/// needs: size (for lseek's SEEK_END) and whether the vnode supports
/// seeking at all.
type Stat struct {
	Size     int64
	Seekable bool
}

/// Vnode is the VFS boundary. A real filesystem, a pipe, or a device each
/// implements it; this package does not care which.
type Vnode interface {
	Read(buf []byte, off int64) (int, defs.Err_t)
	Write(buf []byte, off int64) (int, defs.Err_t)
	Stat() (Stat, defs.Err_t)
	Close() defs.Err_t
}

/// VFS is the narrow name-resolution boundary open/chdir/getcwd delegate
/// to. A production VFS resolves paths against an on-disk directory
/// structure; this package only needs the three operations below.
type VFS interface {
	Lookup(path string, flags int) (Vnode, defs.Err_t)
	Chdir(path string) defs.Err_t
	Getcwd() (string, defs.Err_t)
}
