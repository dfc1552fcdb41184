package fs

import (
	"sync"

	"oskern/internal/defs"
)

/// Cwd tracks a process's current working directory; its own mutex
/// serializes concurrent chdirs.
type Cwd struct {
	mu  sync.Mutex
	vfs VFS
}

/// NewCwd binds a Cwd to the VFS it delegates chdir/getcwd to.
func NewCwd(vfs VFS) *Cwd {
	return &Cwd{vfs: vfs}
}

/// Chdir copies path into the kernel (already done by the syscall
/// boundary by the time this is called) and delegates resolution to the
/// VFS, serialized against concurrent chdirs on the same process.
func (c *Cwd) Chdir(path string) defs.Err_t {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vfs.Chdir(path)
}

/// Getcwd copies the VFS's canonical working-directory path into buf,
/// returning the number of bytes written or EINVAL if it does not fit.
func (c *Cwd) Getcwd(buf []byte) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.vfs.Getcwd()
	if err != 0 {
		return -1, err
	}
	if len(p) > len(buf) {
		return -1, defs.EINVAL
	}
	n := copy(buf, p)
	return n, 0
}
