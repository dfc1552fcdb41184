// Package kernel wires every subsystem package into a single Kernel
// value constructed at boot: physmem, coremap, and the swapper are
// threaded through one bootstrap path starting at Boot rather than
// reached for as ambient globals. Everything a handler needs arrives
// through Kernel or the System/Dispatcher values it owns.
package kernel

import (
	"fmt"

	"oskern/internal/defs"
	"oskern/internal/fault"
	"oskern/internal/fs"
	"oskern/internal/klog"
	"oskern/internal/mem"
	"oskern/internal/proc"
	"oskern/internal/stats"
	"oskern/internal/swap"
	"oskern/internal/syscall"
	"oskern/internal/vm"
)

/// Config bundles the boot-time sizing parameters a real kernel would
/// read from its command line / boot arguments: how much physical memory
/// to simulate, where the swap backing file lives, and the PRNG seed the
/// fault handler and swap manager use for their random eviction/TLB
/// replacement fallback.
type Config struct {
	NumFrames      int
	SwapDevicePath string
	SwapSlots      int
	Seed           int64
	ConsoleBuffer  int
}

/// Kernel is every subsystem a booted instance needs, built once by Boot
/// and passed by pointer to whatever drives the syscall loop (cmd/kernctl,
/// or a test harness).
type Kernel struct {
	Sys    *vm.System
	Fault  *fault.Handler
	Procs  *proc.Table
	Disp   *syscall.Dispatcher
	Init   *proc.Process
	Stats  stats.KernelStats
	device *swap.FileDevice
}

const physBase uintptr = 0x1000_0000

/// Boot constructs a Kernel: the coremap and direct-mapped physical
/// memory, the swap manager (disabled if SwapDevicePath is empty — swap
/// only becomes enabled once a working device exists), the fault handler
/// and its TLB, the process table with its init process, and the
/// syscall dispatcher over vfs/loader. init_std's console fds are wired
/// by proc.CreateInit.
func Boot(cfg Config, vfs fs.VFS, loader proc.Loader) (*Kernel, error) {
	k := &Kernel{}

	totalBytes := cfg.NumFrames * defs.PGSIZE
	coremap := mem.NewCoremap(physBase, uintptr(totalBytes)+1)
	coremap.SetStats(&k.Stats)
	phys := mem.NewPhysMem(physBase, totalBytes)

	var dev *swap.FileDevice
	var swapDevice swap.Device
	numSlots := cfg.SwapSlots
	if cfg.SwapDevicePath != "" {
		d, err := swap.OpenFileDevice(cfg.SwapDevicePath)
		if err != nil {
			return nil, fmt.Errorf("kernel: opening swap device: %w", err)
		}
		dev = d
		swapDevice = d
		if n, serr := d.NumSlots(); serr == nil && (numSlots == 0 || n < numSlots) {
			numSlots = n
		}
	}
	sm := swap.New(coremap, swapDevice, numSlots, cfg.Seed)
	sm.SetStats(&k.Stats)
	coremap.Boot()

	sys := &vm.System{Coremap: coremap, Phys: phys, Swap: sm}
	sys.SetLogger(klog.New("vm"))
	h := fault.NewHandler(sys, cfg.Seed)
	h.Stats = &k.Stats
	sm.SetTLB(h.TLB)

	tbl := proc.NewTable()
	tbl.Stats = &k.Stats
	consoleBuf := cfg.ConsoleBuffer
	if consoleBuf == 0 {
		consoleBuf = 4096
	}
	initProc := proc.CreateInit(tbl, sys, vfs, consoleBuf)

	disp := &syscall.Dispatcher{
		Sys:    sys,
		Fault:  h,
		TLB:    h.TLB,
		Procs:  tbl,
		VFS:    vfs,
		Loader: loader,
	}

	k.Sys, k.Fault, k.Procs, k.Disp, k.Init, k.device = sys, h, tbl, disp, initProc, dev
	k.Stats.FramesFree.Add(int64(coremap.NumFrames()))
	return k, nil
}

/// Shutdown releases resources Boot acquired that outlive the process
/// only because a test or CLI invocation chose to close them explicitly
/// (the swap backing file descriptor).
func (k *Kernel) Shutdown() error {
	if k.device == nil {
		return nil
	}
	return k.device.Close()
}
