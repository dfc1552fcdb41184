// Package mem implements the physical frame allocator: a coremap tracking
// the state of every physical page frame in the system, kept as a flat
// array of per-frame metadata guarded by a single lock, allocated by
// linear first-fit rather than a refcounted free list.
package mem

import (
	"sync"

	"github.com/go-logr/logr"

	"oskern/internal/defs"
	"oskern/internal/klog"
	"oskern/internal/stats"
)

/// State is the occupancy of a single coremap entry.
type State int

const (
	Free State = iota
	Kernel
	User
)

/// Owner lets a coremap entry notify whoever holds the page table entry
/// backing a User frame when that frame is evicted to swap. vm.PTE
/// implements this so the coremap never needs to import the vm package.
type Owner interface {
	OnEvict(slot int)
}

/// Frame is one coremap entry: the state of a single PGSIZE physical page.
type Frame struct {
	State     State
	BlockSize int
	Owner     Owner
}

/// Coremap manages every physical frame past the kernel's own image, the
/// way coremap_bootstrap lays pages out after the coremap array itself.
type Coremap struct {
	mu     sync.Mutex
	frames []Frame
	base   uintptr
	booted bool

	log         logr.Logger
	outOfFrames klog.Limiter
	stat        *stats.KernelStats
}

/// CalculateRange computes the total address range consumed by a coremap
/// of the given page count plus the pages themselves, padded so the page
/// array starts frame-aligned.
func CalculateRange(pages int) uintptr {
	const frameStructSize = 32 // Frame{State,BlockSize,Owner} rounded up
	coremapSize := uintptr(pages) * frameStructSize
	padding := uintptr(defs.PGSIZE) - (coremapSize % uintptr(defs.PGSIZE))
	if padding == uintptr(defs.PGSIZE) {
		padding = 0
	}
	return coremapSize + padding + uintptr(pages*defs.PGSIZE)
}

/// NewCoremap sizes a coremap to cover [base, base+rangeLen) by growing
/// the page count until CalculateRange no longer fits in the range.
func NewCoremap(base uintptr, rangeLen uintptr) *Coremap {
	pages := 1
	for CalculateRange(pages+1) <= rangeLen {
		pages++
	}
	c := &Coremap{
		frames: make([]Frame, pages),
		base:   base,
		log:    klog.New("mem"),
	}
	c.outOfFrames.Enabled = true
	return c
}

/// SetLogger overrides the coremap's logger, letting a booted kernel
/// route allocator diagnostics through its own configured sink instead
/// of the package default.
func (c *Coremap) SetLogger(l logr.Logger) {
	c.log = l
}

/// SetStats installs the counters GetFrames/FreeFrame report occupancy
/// through.
func (c *Coremap) SetStats(s *stats.KernelStats) {
	c.stat = s
}

/// Boot marks the coremap as past the boot phase: mutations after this
/// point take the coremap lock instead of running unsynchronized.
func (c *Coremap) Boot() {
	c.mu.Lock()
	c.booted = true
	c.mu.Unlock()
}

func (c *Coremap) lock() {
	if c.booted {
		c.mu.Lock()
	}
}

func (c *Coremap) unlock() {
	if c.booted {
		c.mu.Unlock()
	}
}

func (c *Coremap) paddr(idx int) uintptr {
	return c.base + uintptr(idx*defs.PGSIZE)
}

func (c *Coremap) index(paddr uintptr) (int, bool) {
	if paddr < c.base {
		return 0, false
	}
	off := paddr - c.base
	if off%uintptr(defs.PGSIZE) != 0 {
		return 0, false
	}
	idx := int(off / uintptr(defs.PGSIZE))
	if idx >= len(c.frames) {
		return 0, false
	}
	return idx, true
}

/// NumFrames returns the total number of frames the coremap manages.
func (c *Coremap) NumFrames() int {
	return len(c.frames)
}

/// getFramesLocked runs the first-fit scan with the coremap lock held. The
/// coremap only tracks metadata and a back-pointer to the owning page
/// table entry and never touches frame contents, so zero-fill is the
/// caller's responsibility once it maps the returned physical address.
func (c *Coremap) getFramesLocked(n int, kind State) (uintptr, bool) {
	run := 0
	for i := 0; i < len(c.frames); i++ {
		if c.frames[i].State == Free {
			run++
		} else {
			run = 0
		}
		if run == n {
			start := i - (n - 1)
			for j := start; j < start+n; j++ {
				c.frames[j].State = kind
				c.frames[j].BlockSize = 0
			}
			c.frames[start].BlockSize = n
			return c.paddr(start), true
		}
	}
	return 0, false
}

/// EvictFunc is supplied by the swap manager: given a callback it picks a
/// User frame to evict, writes it to swap, and frees it, returning the now
/// free physical address or false if nothing could be evicted.
type EvictFunc func(c *Coremap) (uintptr, bool)

/// GetFrames finds n contiguous Free frames via linear first-fit and marks
/// them kind. On success, every selected frame is state==kind, and only
/// the first frame carries BlockSize==n. If n==1, kind==User, and evict is
/// non-nil (swapping enabled), a failed scan triggers one eviction attempt
/// before giving up. Multi-frame requests never trigger eviction; they
/// simply fail. Returns 0 on failure.
func (c *Coremap) GetFrames(n int, kind State, evict EvictFunc) uintptr {
	c.lock()
	paddr, ok := c.getFramesLocked(n, kind)
	c.unlock()
	if ok {
		c.countAlloc(n)
		return paddr
	}
	if n != 1 || kind != User || evict == nil {
		return 0
	}
	if _, freed := evict(c); !freed {
		c.warnOutOfFrames(n)
		return 0
	}
	c.lock()
	paddr, ok = c.getFramesLocked(1, kind)
	c.unlock()
	if !ok {
		c.warnOutOfFrames(n)
		return 0
	}
	c.countAlloc(1)
	return paddr
}

func (c *Coremap) countAlloc(n int) {
	if c.stat == nil {
		return
	}
	c.stat.FramesUsed.Add(int64(n))
	c.stat.FramesFree.Add(int64(-n))
}

/// warnOutOfFrames logs an allocation failure once per distinct call
/// chain, via the Limiter's call-site dedup, so a hot fault-handling loop
/// that keeps failing doesn't flood the log.
func (c *Coremap) warnOutOfFrames(n int) {
	if c.log.GetSink() == nil || !c.outOfFrames.Allow() {
		return
	}
	c.log.Info("out of frames", "requested", n, "total", len(c.frames))
}

/// FreeFrame releases the frame at paddr and, if it is the first frame of
/// a multi-frame Kernel block, every frame in that block. Freeing a frame
/// that is not allocated, or the interior of a block, is a kernel bug.
func (c *Coremap) FreeFrame(paddr uintptr) defs.Err_t {
	c.lock()
	defer c.unlock()
	idx, ok := c.index(paddr)
	if !ok {
		return defs.EINVAL
	}
	f := &c.frames[idx]
	if f.State == Free {
		panic("mem: freeing an already-free frame")
	}
	n := f.BlockSize
	if n == 0 {
		panic("mem: freeing interior frame of a multi-frame block")
	}
	for j := idx; j < idx+n; j++ {
		c.frames[j].State = Free
		c.frames[j].BlockSize = 0
		c.frames[j].Owner = nil
	}
	if c.stat != nil {
		c.stat.FramesUsed.Add(int64(-n))
		c.stat.FramesFree.Add(int64(n))
	}
	return 0
}

/// SetOwner back-links the User frame at paddr to owner, making it
/// evictable. Calling this on a non-User frame is a kernel bug.
func (c *Coremap) SetOwner(paddr uintptr, owner Owner) {
	c.lock()
	defer c.unlock()
	idx, ok := c.index(paddr)
	if !ok {
		panic("mem: SetOwner on out-of-range paddr")
	}
	if c.frames[idx].State != User {
		panic("mem: SetOwner on a non-User frame")
	}
	c.frames[idx].Owner = owner
}

/// FrameAt returns a copy of the frame metadata at paddr, for callers
/// (the eviction policy, diagnostics) that need to inspect state/owner.
func (c *Coremap) FrameAt(paddr uintptr) (Frame, bool) {
	c.lock()
	defer c.unlock()
	idx, ok := c.index(paddr)
	if !ok {
		return Frame{}, false
	}
	return c.frames[idx], true
}

/// ForEachUser calls fn(paddr, frame) for every frame currently in User
/// state, letting an eviction policy scan candidates without reaching into
/// the coremap's internals.
func (c *Coremap) ForEachUser(fn func(paddr uintptr, f Frame) bool) {
	c.lock()
	defer c.unlock()
	for i := range c.frames {
		if c.frames[i].State != User {
			continue
		}
		if !fn(c.paddr(i), c.frames[i]) {
			return
		}
	}
}

/// UsedBytes sums PGSIZE over every non-Free frame. This is a snapshot —
/// it is not serialized against concurrent allocation/free calls.
func (c *Coremap) UsedBytes() int {
	n := 0
	for i := range c.frames {
		if c.frames[i].State != Free {
			n++
		}
	}
	return n * defs.PGSIZE
}
