package swap

import (
	"os"

	"golang.org/x/sys/unix"

	"oskern/internal/defs"
)

/// FileDevice is a Device backed by a regular file or block special file,
/// addressed by pread/pwrite at slot*PAGE_SIZE.
type FileDevice struct {
	f *os.File
}

/// OpenFileDevice opens path read/write for use as swap storage. A
/// Manager built over a device that failed to open here should be
/// treated as swap-disabled rather than retried.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &FileDevice{f: f}, nil
}

/// NumSlots reports how many PAGE_SIZE slots fit in the device, for sizing
/// the swap manager's bitmap.
func (d *FileDevice) NumSlots() (int, error) {
	info, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	return int(info.Size()) / defs.PGSIZE, nil
}

func (d *FileDevice) ReadSlot(slot int, buf []byte) error {
	off := int64(slot) * int64(defs.PGSIZE)
	n, err := unix.Pread(int(d.f.Fd()), buf, off)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return defs.EIO
	}
	return nil
}

func (d *FileDevice) WriteSlot(slot int, buf []byte) error {
	off := int64(slot) * int64(defs.PGSIZE)
	n, err := unix.Pwrite(int(d.f.Fd()), buf, off)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return defs.EIO
	}
	return unix.Fsync(int(d.f.Fd()))
}

/// Close closes the underlying file. WriteSlot already fsyncs after every
/// write, so Close does no sync of its own.
func (d *FileDevice) Close() error {
	return d.f.Close()
}
