// Package vm implements the per-process address space: an ordered list of
// segments, each with its own page table, tracking a process's mappings
// as a flat segment list with eager-copy fork semantics (no file-backed
// mmap, no copy-on-write).
package vm

import (
	"sync"

	"oskern/internal/swap"
)

/// Dirty records whether a page's frame has been written to since it was
/// last made resident, paired with the PTE's swap.SwapState: a freshly
/// faulted-in PTE is {vpn, ppn, Clean, InMemory}.
type Dirty int

const (
	Clean Dirty = iota
	Modified
)

/// PTE is one page table entry. It implements swap.Evictable (and, through
/// it, mem.Owner) so the coremap and swap manager can evict it without
/// either package knowing about vm.AddressSpace.
type PTE struct {
	mu sync.Mutex // the per-PTE swap_lock serializing concurrent faults

	VPN      uintptr
	ppn      uintptr
	dirty    Dirty
	state    swap.SwapState
	diskSlot int
	lruUsed  bool
	faulting bool
}

/// Lock/Unlock expose the PTE's swap_lock so the fault handler can
/// serialize a swap_in/swap_out transition against a concurrent fault on
/// the same page.
func (p *PTE) Lock()   { p.mu.Lock() }
func (p *PTE) Unlock() { p.mu.Unlock() }

func (p *PTE) OnEvict(slot int) {
	p.state = swap.OnDisk
	p.diskSlot = slot
}
func (p *PTE) PPN() uintptr             { return p.ppn }
func (p *PTE) SetPPN(pp uintptr)        { p.ppn = pp }
func (p *PTE) SwapState() swap.SwapState { return p.state }
func (p *PTE) SetSwapState(s swap.SwapState) { p.state = s }
func (p *PTE) DiskSlot() int            { return p.diskSlot }
func (p *PTE) SetDiskSlot(s int)        { p.diskSlot = s }
func (p *PTE) LRUUsed() bool            { return p.lruUsed }
func (p *PTE) ClearLRUUsed()            { p.lruUsed = false }
func (p *PTE) SetLRUUsed()              { p.lruUsed = true }
func (p *PTE) Faulting() bool           { return p.faulting }
func (p *PTE) SetFaulting(v bool)       { p.faulting = v }
func (p *PTE) Dirty() Dirty             { return p.dirty }
func (p *PTE) SetDirty(d Dirty)         { p.dirty = d }

var _ swap.Evictable = (*PTE)(nil)
