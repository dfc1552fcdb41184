package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"oskern/internal/defs"
	"oskern/internal/fs"
	"oskern/internal/kernel"
	"oskern/internal/proc"
	ksys "oskern/internal/syscall"
)

// demoCmd drives every syscall kernctl's in-memory VFS and no-op loader
// can exercise through the real dispatcher: sbrk to grow a scratch heap
// to stage user-memory arguments in, open/write/lseek/read/close on a
// file, dup2, chdir/getcwd, and a fork/waitpid/exit round trip. Nothing
// here reaches into proc or fs directly past the dispatcher — every step
// goes through the same Dispatch call a trap handler would make.
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Boot a kernel and walk through the process/file syscalls once",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := kernel.Boot(boot.toKernelConfig(), newMemVFS(), noopLoader{})
		if err != nil {
			return err
		}
		defer k.Shutdown()

		const tid = defs.Tid_t(1)
		p := k.Init

		heapBase, serr := sbrk(k, p, tid, defs.PGSIZE)
		if serr != 0 {
			return fmt.Errorf("sbrk: %w", serr)
		}
		pathUva := heapBase
		dataUva := heapBase + 256
		readUva := heapBase + 512
		cwdUva := heapBase + 768

		if cerr := ksys.Copyoutstr(k.Sys, k.Fault, p.AS, pathUva, "/greeting", defs.NAME_MAX); cerr != 0 {
			return fmt.Errorf("staging path: %w", cerr)
		}

		fd, serr := dispatch3(k, p, tid, ksys.SYS_OPEN, pathUva, uintptr(fs.O_RDWR), 0)
		if serr != 0 {
			return fmt.Errorf("open: %w", serr)
		}
		fmt.Printf("opened /greeting as fd %d\n", fd)

		msg := "hello from kernctl\n"
		if cerr := ksys.Copyout(k.Sys, k.Fault, p.AS, dataUva, []byte(msg)); cerr != 0 {
			return fmt.Errorf("staging write buffer: %w", cerr)
		}
		n, serr := dispatch3(k, p, tid, ksys.SYS_WRITE, uintptr(fd), dataUva, uintptr(len(msg)))
		if serr != 0 {
			return fmt.Errorf("write: %w", serr)
		}
		fmt.Printf("wrote %d bytes\n", n)

		if _, serr := dispatch3(k, p, tid, ksys.SYS_LSEEK, uintptr(fd), 0, fs.SEEK_SET); serr != 0 {
			return fmt.Errorf("lseek: %w", serr)
		}

		n, serr = dispatch3(k, p, tid, ksys.SYS_READ, uintptr(fd), readUva, uintptr(len(msg)))
		if serr != 0 {
			return fmt.Errorf("read: %w", serr)
		}
		readBack := make([]byte, n)
		if cerr := ksys.Copyin(k.Sys, k.Fault, p.AS, readUva, readBack); cerr != 0 {
			return fmt.Errorf("fetching read buffer: %w", cerr)
		}
		fmt.Printf("read back: %q\n", string(readBack))

		const dupFd = 9
		if _, serr := dispatch3(k, p, tid, ksys.SYS_DUP2, uintptr(fd), dupFd, 0); serr != 0 {
			return fmt.Errorf("dup2: %w", serr)
		}
		fmt.Printf("dup2 -> fd %d\n", dupFd)

		dispatch3(k, p, tid, ksys.SYS_CLOSE, 9, 0, 0)
		dispatch3(k, p, tid, ksys.SYS_CLOSE, uintptr(fd), 0, 0)

		if cerr := ksys.Copyoutstr(k.Sys, k.Fault, p.AS, pathUva, "/sub/dir", defs.NAME_MAX); cerr != 0 {
			return fmt.Errorf("staging chdir path: %w", cerr)
		}
		if _, serr := dispatch3(k, p, tid, ksys.SYS_CHDIR, pathUva, 0, 0); serr != 0 {
			return fmt.Errorf("chdir: %w", serr)
		}
		cwdLen, serr := dispatch3(k, p, tid, ksys.SYS_GETCWD, cwdUva, 256, 0)
		if serr != 0 {
			return fmt.Errorf("getcwd: %w", serr)
		}
		cwdBuf := make([]byte, cwdLen)
		ksys.Copyin(k.Sys, k.Fault, p.AS, cwdUva, cwdBuf)
		fmt.Printf("cwd is now %q\n", string(cwdBuf))

		childPid, serr := forkAndExit(k, p, tid, 7)
		if serr != 0 {
			return fmt.Errorf("fork: %w", serr)
		}
		status, werr := waitFor(k, p, tid, childPid, heapBase)
		if werr != 0 {
			return fmt.Errorf("waitpid: %w", werr)
		}
		fmt.Printf("child %d exited with encoded status %d\n", childPid, status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func sbrk(k *kernel.Kernel, p *proc.Process, tid defs.Tid_t, amount int) (uintptr, defs.Err_t) {
	v, err := k.Disp.Dispatch(p, tid, ksys.SYS_SBRK, &ksys.TrapFrame{Args: [6]uintptr{uintptr(amount)}}, nil)
	return uintptr(v), err
}

func dispatch3(k *kernel.Kernel, p *proc.Process, tid defs.Tid_t, num ksys.Num, a0, a1, a2 uintptr) (int, defs.Err_t) {
	v, err := k.Disp.Dispatch(p, tid, num, &ksys.TrapFrame{Args: [6]uintptr{a0, a1, a2}}, nil)
	return int(v), err
}

func forkAndExit(k *kernel.Kernel, p *proc.Process, tid defs.Tid_t, exitCode int) (defs.Pid_t, defs.Err_t) {
	start := func(child *proc.Process, tf *ksys.TrapFrame) {
		k.Disp.Dispatch(child, tid, ksys.SYS_EXIT, &ksys.TrapFrame{Args: [6]uintptr{uintptr(exitCode)}}, nil)
	}
	v, err := k.Disp.Dispatch(p, tid, ksys.SYS_FORK, &ksys.TrapFrame{}, start)
	return defs.Pid_t(v), err
}

func waitFor(k *kernel.Kernel, p *proc.Process, tid defs.Tid_t, childPid defs.Pid_t, statusUva uintptr) (int, defs.Err_t) {
	_, err := k.Disp.Dispatch(p, tid, ksys.SYS_WAITPID, &ksys.TrapFrame{Args: [6]uintptr{uintptr(childPid), statusUva, 0}}, nil)
	if err != 0 {
		return 0, err
	}
	buf := make([]byte, 8)
	if cerr := ksys.Copyin(k.Sys, k.Fault, p.AS, statusUva, buf); cerr != 0 {
		return 0, cerr
	}
	status := 0
	for i := len(buf) - 1; i >= 0; i-- {
		status = status<<8 | int(buf[i])
	}
	return status, 0
}
