// Package swap implements the swap manager: a bitmap-tracked byte-stream
// swap device that backs evicted user pages. The device abstraction is a
// narrow interface the manager drives, with the real I/O left to an
// implementation — page-sized slots read and written with
// golang.org/x/sys/unix's pread/pwrite, since a swap slot has no cache to
// coalesce into.
package swap

import (
	"math/rand"
	"sync"

	"github.com/go-logr/logr"

	"oskern/internal/defs"
	"oskern/internal/klog"
	"oskern/internal/mem"
	"oskern/internal/stats"
)

/// SwapState records whether a page entry's data currently lives in a
/// physical frame or on the swap device.
type SwapState int

const (
	InMemory SwapState = iota
	OnDisk
)

/// Evictable is implemented by a page table entry. It lets the swap
/// manager drive the swap_in/swap_out transition and the eviction policy
/// without importing the vm package; mem.Owner (OnEvict) is its narrower
/// supertype that the coremap itself uses.
type Evictable interface {
	mem.Owner
	PPN() uintptr
	SetPPN(uintptr)
	SwapState() SwapState
	SetSwapState(SwapState)
	DiskSlot() int
	SetDiskSlot(int)
	LRUUsed() bool
	ClearLRUUsed()
	// Faulting reports whether this entry is the one currently being
	// serviced by vm_fault, which must never be chosen as a victim.
	Faulting() bool
}

/// Device is the narrow interface to swap storage: read and write one
/// PAGE_SIZE slot at a time. FileDevice is the production implementation;
/// tests can substitute an in-memory Device.
type Device interface {
	ReadSlot(slot int, buf []byte) error
	WriteSlot(slot int, buf []byte) error
}

/// TLB lets SwapOut invalidate an evicted frame's cached translation
/// immediately after writing it to disk, so no stale entry can be used to
/// read or write a frame that has since been freed for reuse. fault.TLB
/// implements this; the swap package stays free of any dependency on the
/// fault package by only naming the one method it needs.
type TLB interface {
	InvalidateFrame(ppn uintptr)
}

/// Manager is the swap manager: a slot bitmap guarded by bitmap_lock, a
/// swap device, and the coremap it evicts from.
type Manager struct {
	bitmapLock sync.Mutex
	slotFree   []bool
	device     Device
	enabled    bool
	coremap    *mem.Coremap
	tlb        TLB
	stat       *stats.KernelStats

	rngLock sync.Mutex
	rng     *rand.Rand

	log         logr.Logger
	noCandidate klog.Limiter
}

/// New constructs a Manager over numSlots page-sized slots. The manager is
/// enabled only when device is non-nil and numSlots is positive; while
/// disabled, EvictForFault evicts nothing, so allocation pressure fails
/// the allocation instead of swapping.
func New(coremap *mem.Coremap, device Device, numSlots int, seed int64) *Manager {
	free := make([]bool, numSlots)
	for i := range free {
		free[i] = true
	}
	m := &Manager{
		slotFree: free,
		device:   device,
		coremap:  coremap,
		enabled:  device != nil && numSlots > 0,
		rng:      rand.New(rand.NewSource(seed)),
		log:      klog.New("swap"),
	}
	m.noCandidate.Enabled = true
	return m
}

/// SetLogger overrides the manager's logger.
func (m *Manager) SetLogger(l logr.Logger) {
	m.log = l
}

/// SetTLB installs the cache SwapOut invalidates an evicted frame's entry
/// in. A nil TLB (the zero-value default) makes SwapOut skip invalidation,
/// which is correct for tests that never install any translation.
func (m *Manager) SetTLB(t TLB) {
	m.tlb = t
}

/// SetStats installs the counters SwapIn/SwapOut report traffic through.
func (m *Manager) SetStats(s *stats.KernelStats) {
	m.stat = s
}

/// Enabled reports whether swapping is available.
func (m *Manager) Enabled() bool {
	return m.enabled
}

func (m *Manager) allocSlot() (int, bool) {
	m.bitmapLock.Lock()
	defer m.bitmapLock.Unlock()
	for i, free := range m.slotFree {
		if free {
			m.slotFree[i] = false
			return i, true
		}
	}
	return 0, false
}

func (m *Manager) freeSlot(slot int) {
	m.bitmapLock.Lock()
	m.slotFree[slot] = true
	m.bitmapLock.Unlock()
}

/// ReleaseSlot frees slot without any associated I/O, for callers (such as
/// as_destroy) that discard a page entry's on-disk contents outright
/// instead of swapping it back in first.
func (m *Manager) ReleaseSlot(slot int) {
	m.freeSlot(slot)
}

/// SwapOut writes pe's backing frame to a newly allocated swap slot, zeros
/// the frame, and invalidates the evicted ppn's TLB entry (if a TLB is
/// installed). Precondition: pe.SwapState() == InMemory. Follows a
/// transition ordering where a concurrent lookup observing pe mid-transition
/// sees OnDisk/disk_slot together before the I/O that makes the slot's
/// contents valid completes underneath it — callers must hold the owning
/// PTE's swap_lock (or segment page-table lock) across this call. The
/// coremap frame at ppn is freed by the caller once this returns.
func (m *Manager) SwapOut(pe Evictable, frameBuf []byte) defs.Err_t {
	if pe.SwapState() != InMemory {
		panic("swap: SwapOut on a page entry that is not InMemory")
	}
	slot, ok := m.allocSlot()
	if !ok {
		return defs.ENOSPC
	}
	ppn := pe.PPN()
	pe.OnEvict(slot)

	if err := m.device.WriteSlot(slot, frameBuf); err != nil {
		pe.SetSwapState(InMemory)
		pe.SetDiskSlot(0)
		m.freeSlot(slot)
		return defs.EIO
	}
	for i := range frameBuf {
		frameBuf[i] = 0
	}
	if m.tlb != nil {
		m.tlb.InvalidateFrame(ppn)
	}
	if m.stat != nil {
		m.stat.SwapOuts.Inc()
	}
	return 0
}

/// Evict runs the eviction policy once and returns a freed User frame,
/// without reading anything into it. Used by callers that need a raw
/// frame under memory pressure outside of a swap_in (e.g. as_copy
/// allocating space for a duplicated page).
func (m *Manager) Evict(frameBufOf func(uintptr) []byte) (uintptr, bool) {
	return m.evictOne(m.coremap, frameBufOf)
}

/// SwapIn selects a victim frame via the eviction policy (evicting it
/// first if it is a live User frame owned by some other Evictable), reads
/// pe's slot into the freed frame, clears the bitmap bit, and updates pe
/// to InMemory with the new PPN. Precondition: pe.SwapState() == OnDisk.
/// The caller is responsible for marking pe non-evictable (Faulting) for
/// the duration of this call if pe is also the page currently faulted on.
func (m *Manager) SwapIn(pe Evictable, frameBufOf func(uintptr) []byte) defs.Err_t {
	if pe.SwapState() != OnDisk {
		panic("swap: SwapIn on a page entry that is not OnDisk")
	}
	victim := m.coremap.GetFrames(1, mem.User, func(c *mem.Coremap) (uintptr, bool) {
		return m.evictOne(c, frameBufOf)
	})
	if victim == 0 {
		return defs.ENOMEM
	}

	slot := pe.DiskSlot()
	buf := frameBufOf(victim)
	if err := m.device.ReadSlot(slot, buf); err != nil {
		m.coremap.FreeFrame(victim)
		return defs.EIO
	}
	m.freeSlot(slot)
	pe.SetPPN(victim)
	pe.SetSwapState(InMemory)
	pe.SetDiskSlot(0)
	m.coremap.SetOwner(victim, pe)
	if m.stat != nil {
		m.stat.SwapIns.Inc()
	}
	return 0
}

/// evictOne implements the eviction policy: a clock sweep over
/// User frames using each PTE's lru_used bit, clearing bits as it goes and
/// falling back to uniform-random choice once it has swept every
/// candidate without finding one already clear. Kernel frames and the
/// frame currently being faulted on are never chosen.
func (m *Manager) evictOne(c *mem.Coremap, frameBufOf func(uintptr) []byte) (uintptr, bool) {
	type candidate struct {
		paddr uintptr
		pe    Evictable
	}
	var candidates []candidate
	var firstClear *candidate

	c.ForEachUser(func(paddr uintptr, f mem.Frame) bool {
		pe, ok := f.Owner.(Evictable)
		if !ok || pe.Faulting() {
			return true
		}
		if firstClear == nil && !pe.LRUUsed() {
			cc := candidate{paddr, pe}
			firstClear = &cc
		}
		pe.ClearLRUUsed()
		candidates = append(candidates, candidate{paddr, pe})
		return true
	})

	var victim *candidate
	if firstClear != nil {
		victim = firstClear
	} else if len(candidates) > 0 {
		m.rngLock.Lock()
		idx := m.rng.Intn(len(candidates))
		m.rngLock.Unlock()
		victim = &candidates[idx]
	}
	if victim == nil {
		if m.log.GetSink() != nil && m.noCandidate.Allow() {
			m.log.Info("no eviction candidate", "userFrames", len(candidates))
		}
		return 0, false
	}

	if victim.pe.SwapState() == InMemory {
		if err := m.SwapOut(victim.pe, frameBufOf(victim.paddr)); err != 0 {
			return 0, false
		}
	}
	if err := c.FreeFrame(victim.paddr); err != 0 {
		return 0, false
	}
	return victim.paddr, true
}
