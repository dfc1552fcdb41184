package fs

import (
	"sync"

	"oskern/internal/defs"
)

/// Permission bits for an open file handle.
const (
	FD_READ  = 0x1
	FD_WRITE = 0x2
)

const (
	O_RDONLY = 0
	O_WRONLY = 1
	O_RDWR   = 2
)

const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

/// Handle is a shared, reference-counted open file. Its own mutex
/// serializes reads/writes issued against the same fd.
type Handle struct {
	mu       sync.Mutex
	Vnode    Vnode
	Perms    int
	Position int64
	RefCount int
}

func permsFor(flags int) int {
	switch flags {
	case O_RDONLY:
		return FD_READ
	case O_WRONLY:
		return FD_WRITE
	default:
		return FD_READ | FD_WRITE
	}
}

/// FileTable is a process's array of open file descriptors. Slots 0, 1,
/// 2 are reserved for the console; Open always searches from index 3
/// upward.
type FileTable struct {
	mu  sync.Mutex
	fds []*Handle
}

/// NewFileTable returns an empty table sized to OPEN_MAX.
func NewFileTable() *FileTable {
	return &FileTable{fds: make([]*Handle, defs.OPEN_MAX)}
}

/// SetStdFd installs a pre-opened handle at a fixed fd (0, 1, or 2),
/// bypassing the index-3-upward search — used by init_std.
func (ft *FileTable) SetStdFd(fd int, vn Vnode, flags int) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.fds[fd] = &Handle{Vnode: vn, Perms: permsFor(flags), RefCount: 1}
}

/// Open copies path resolution through vfs, allocates a handle with
/// ref_count 1 at the smallest free fd >= 3, and returns it. On any
/// failure after the vnode is opened, the vnode is closed and no fd is
/// consumed.
func (ft *FileTable) Open(vfs VFS, path string, flags, mode int) (int, defs.Err_t) {
	vn, err := vfs.Lookup(path, flags)
	if err != 0 {
		return -1, err
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	for fd := 3; fd < len(ft.fds); fd++ {
		if ft.fds[fd] == nil {
			ft.fds[fd] = &Handle{Vnode: vn, Perms: permsFor(flags), RefCount: 1}
			return fd, 0
		}
	}
	vn.Close()
	return -1, defs.EMFILE
}

/// IsOpen reports whether fd currently names an open handle, letting
/// callers (e.g. exit's fd-closing loop) skip already-empty slots instead
/// of treating EBADF as a real teardown error.
func (ft *FileTable) IsOpen(fd int) bool {
	if fd < 0 || fd >= len(ft.fds) {
		return false
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.fds[fd] != nil
}

func (ft *FileTable) lookup(fd int) (*Handle, defs.Err_t) {
	if fd < 0 || fd >= len(ft.fds) {
		return nil, defs.EBADF
	}
	ft.mu.Lock()
	h := ft.fds[fd]
	ft.mu.Unlock()
	if h == nil {
		return nil, defs.EBADF
	}
	return h, 0
}

/// Close validates fd, drops the handle's ref_count under its own lock,
/// and when it reaches zero closes the vnode and destroys the handle.
/// file_table[fd] is cleared regardless.
func (ft *FileTable) Close(fd int) defs.Err_t {
	h, err := ft.lookup(fd)
	if err != 0 {
		return err
	}
	h.mu.Lock()
	h.RefCount--
	last := h.RefCount == 0
	h.mu.Unlock()

	ft.mu.Lock()
	ft.fds[fd] = nil
	ft.mu.Unlock()

	if last {
		return h.Vnode.Close()
	}
	return 0
}

/// Read validates fd and access mode, reads under the handle's lock at
/// its current position, advances the position by the bytes actually
/// transferred, and returns the count. A zero-length buffer is rejected
/// with EFAULT rather than treated as a successful no-op read.
func (ft *FileTable) Read(fd int, buf []byte) (int, defs.Err_t) {
	if len(buf) == 0 {
		return -1, defs.EFAULT
	}
	h, err := ft.lookup(fd)
	if err != 0 {
		return -1, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Perms&FD_READ == 0 {
		return -1, defs.EBADF
	}
	n, rerr := h.Vnode.Read(buf, h.Position)
	if rerr != 0 {
		return -1, rerr
	}
	h.Position += int64(n)
	return n, 0
}

/// Write mirrors Read for the write path; write requires at least
/// FD_WRITE permission.
func (ft *FileTable) Write(fd int, buf []byte) (int, defs.Err_t) {
	if len(buf) == 0 {
		return -1, defs.EFAULT
	}
	h, err := ft.lookup(fd)
	if err != 0 {
		return -1, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Perms&FD_WRITE == 0 {
		return -1, defs.EBADF
	}
	n, werr := h.Vnode.Write(buf, h.Position)
	if werr != 0 {
		return -1, werr
	}
	h.Position += int64(n)
	return n, 0
}

/// Lseek rejects non-seekable vnodes with ESPIPE, computes the new
/// offset from whence and (for SEEK_END) the vnode's size via Stat,
/// rejects a negative result with EINVAL, and writes the handle's
/// position under its lock.
func (ft *FileTable) Lseek(fd int, pos int64, whence int) (int64, defs.Err_t) {
	h, err := ft.lookup(fd)
	if err != 0 {
		return -1, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	st, serr := h.Vnode.Stat()
	if serr != 0 {
		return -1, serr
	}
	if !st.Seekable {
		return -1, defs.ESPIPE
	}

	var newOff int64
	switch whence {
	case SEEK_SET:
		newOff = pos
	case SEEK_CUR:
		newOff = h.Position + pos
	case SEEK_END:
		newOff = st.Size + pos
	default:
		return -1, defs.EINVAL
	}
	if newOff < 0 {
		return -1, defs.EINVAL
	}
	h.Position = newOff
	return newOff, 0
}

/// ForkCopy returns a new table sharing every open handle with ft, each
/// handle's ref_count bumped by one under its own lock — the fd-table
/// half of fork's "child inherits the parent's open files" contract.
func (ft *FileTable) ForkCopy() *FileTable {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	child := &FileTable{fds: make([]*Handle, len(ft.fds))}
	for fd, h := range ft.fds {
		if h == nil {
			continue
		}
		h.mu.Lock()
		h.RefCount++
		h.mu.Unlock()
		child.fds[fd] = h
	}
	return child
}

/// Dup2 makes newfd refer to oldfd's handle. old == new is a no-op.
/// Otherwise any handle currently at newfd is closed first, then newfd
/// points at oldfd's handle with its ref_count incremented under the
/// handle's own lock.
func (ft *FileTable) Dup2(oldfd, newfd int) defs.Err_t {
	if oldfd == newfd {
		if _, err := ft.lookup(oldfd); err != 0 {
			return err
		}
		return 0
	}
	h, err := ft.lookup(oldfd)
	if err != 0 {
		return err
	}

	if _, cerr := ft.lookup(newfd); cerr == 0 {
		if err := ft.Close(newfd); err != 0 {
			return err
		}
	}

	h.mu.Lock()
	h.RefCount++
	h.mu.Unlock()

	ft.mu.Lock()
	ft.fds[newfd] = h
	ft.mu.Unlock()
	return 0
}
