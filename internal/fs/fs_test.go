package fs

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"oskern/internal/defs"
)

func TestOpenAssignsSmallestFdFromThree(t *testing.T) {
	vfs := newMemVFS()
	ft := NewFileTable()
	fd, err := ft.Open(vfs, "/a", O_RDWR, 0)
	require.Zero(t, err)
	require.Equal(t, 3, fd)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	vfs := newMemVFS()
	ftA := NewFileTable()
	fdA, err := ftA.Open(vfs, "/a", O_RDWR, 0)
	require.Zero(t, err)
	n, werr := ftA.Write(fdA, []byte("hello"))
	require.Zero(t, werr)
	require.Equal(t, 5, n)
	require.Zero(t, ftA.Close(fdA))

	ftB := NewFileTable()
	fdB, err := ftB.Open(vfs, "/a", O_RDONLY, 0)
	require.Zero(t, err)
	buf := make([]byte, 5)
	n, rerr := ftB.Read(fdB, buf)
	require.Zero(t, rerr)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

func TestReadZeroLengthIsEFAULT(t *testing.T) {
	vfs := newMemVFS()
	ft := NewFileTable()
	fd, _ := ft.Open(vfs, "/a", O_RDWR, 0)
	n, err := ft.Read(fd, nil)
	require.Equal(t, defs.EFAULT, err)
	require.Equal(t, -1, n)
}

func TestReadRequiresReadPermission(t *testing.T) {
	vfs := newMemVFS()
	ft := NewFileTable()
	fd, _ := ft.Open(vfs, "/a", O_WRONLY, 0)
	_, err := ft.Read(fd, make([]byte, 1))
	require.Equal(t, defs.EBADF, err)
}

func TestCloseLeavesNoHandleReachable(t *testing.T) {
	vfs := newMemVFS()
	ft := NewFileTable()
	fd, _ := ft.Open(vfs, "/a", O_RDWR, 0)
	require.Zero(t, ft.Close(fd))
	_, err := ft.Read(fd, make([]byte, 1))
	require.Equal(t, defs.EBADF, err)
}

func TestDup2NoOpWhenSameFd(t *testing.T) {
	vfs := newMemVFS()
	ft := NewFileTable()
	fd, _ := ft.Open(vfs, "/a", O_RDWR, 0)
	require.Zero(t, ft.Dup2(fd, fd))
}

func TestDup2SharesHandleRefcount(t *testing.T) {
	vfs := newMemVFS()
	ft := NewFileTable()
	fd, _ := ft.Open(vfs, "/a", O_RDWR, 0)
	require.Zero(t, ft.Dup2(fd, 10))
	ft.Write(fd, []byte("hi"))
	ft.Lseek(10, 0, SEEK_SET)
	buf := make([]byte, 2)
	n, err := ft.Read(10, buf)
	require.Zero(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "hi", string(buf))
}

func TestLseekOnConsoleReturnsESPIPE(t *testing.T) {
	ft := NewFileTable()
	stdin, _ := NewConsole(256)
	ft.SetStdFd(0, stdin, O_RDONLY)
	_, err := ft.Lseek(0, 0, SEEK_SET)
	require.Equal(t, defs.ESPIPE, err)
}

func TestLseekSeekEndUsesStat(t *testing.T) {
	vfs := newMemVFS()
	ft := NewFileTable()
	fd, _ := ft.Open(vfs, "/a", O_RDWR, 0)
	ft.Write(fd, []byte("hello world"))
	off, err := ft.Lseek(fd, -5, SEEK_END)
	require.Zero(t, err)
	require.Equal(t, int64(6), off)
}

func TestLseekNegativeResultRejected(t *testing.T) {
	vfs := newMemVFS()
	ft := NewFileTable()
	fd, _ := ft.Open(vfs, "/a", O_RDWR, 0)
	_, err := ft.Lseek(fd, -1, SEEK_SET)
	require.Equal(t, defs.EINVAL, err)
}

func TestChdirAndGetcwd(t *testing.T) {
	vfs := newMemVFS()
	cwd := NewCwd(vfs)
	require.Zero(t, cwd.Chdir("/usr/bin"))
	buf := make([]byte, 64)
	n, err := cwd.Getcwd(buf)
	require.Zero(t, err)
	require.Equal(t, "/usr/bin", string(buf[:n]))
}

// TestConcurrentWritesToSharedFdDoNotInterleave forks two goroutines that
// share one fd (the way two threads of the same process sharing a
// FileTable entry would) and write disjoint repeating patterns to it
// concurrently. The handle's own lock must serialize each Write call
// whole, so every chunk landed by the vnode is either entirely "A..." or
// entirely "B...", never a mix of the two.
func TestConcurrentWritesToSharedFdDoNotInterleave(t *testing.T) {
	const chunkSize = 64
	const writesPerWriter = 200

	vfs := newMemVFS()
	ft := NewFileTable()
	fd, err := ft.Open(vfs, "/shared", O_RDWR, 0)
	require.Zero(t, err)

	writer := func(b byte) func() error {
		chunk := make([]byte, chunkSize)
		for i := range chunk {
			chunk[i] = b
		}
		return func() error {
			for i := 0; i < writesPerWriter; i++ {
				if _, werr := ft.Write(fd, chunk); werr != 0 {
					return werr
				}
			}
			return nil
		}
	}

	var wg errgroup.Group
	wg.Go(writer('A'))
	wg.Go(writer('B'))
	require.NoError(t, wg.Wait())

	_, serr := ft.Lseek(fd, 0, SEEK_SET)
	require.Zero(t, serr)
	buf := make([]byte, chunkSize*writesPerWriter*2)
	n, rerr := ft.Read(fd, buf)
	require.Zero(t, rerr)
	require.Zero(t, ft.Close(fd))

	require.Equal(t, chunkSize*writesPerWriter*2, n)
	var countA, countB int
	for off := 0; off < n; off += chunkSize {
		chunk := buf[off : off+chunkSize]
		switch chunk[0] {
		case 'A':
			countA++
		case 'B':
			countB++
		default:
			t.Fatalf("chunk at offset %d starts with unexpected byte %q", off, chunk[0])
		}
		for _, b := range chunk {
			require.Equal(t, chunk[0], b, "chunk at offset %d is torn", off)
		}
	}
	require.Equal(t, writesPerWriter, countA)
	require.Equal(t, writesPerWriter, countB)
}

func TestConsoleWriteAndEmptyRead(t *testing.T) {
	stdin, stdout := NewConsole(16)
	n, err := stdout.Write([]byte("hi"), 0)
	require.Zero(t, err)
	require.Equal(t, 2, n)

	st, serr := stdin.Stat()
	require.Zero(t, serr)
	require.False(t, st.Seekable)

	// Nothing has been queued on the input side, so a read drains
	// nothing rather than blocking.
	buf := make([]byte, 2)
	n, err = stdin.Read(buf, 0)
	require.Zero(t, err)
	require.Equal(t, 0, n)
}
