// Package fault implements the MMU fault handler and its software-managed
// translation lookaside buffer. There is no real MMU to trap into here,
// so the hardware/software boundary vm_fault/vm_tlbshootdown normally
// straddles is simulated entirely in Go, over the segment+page-table
// design of internal/vm.
package fault

import (
	"math/rand"
	"sync"

	"oskern/internal/defs"
)

/// tlbEntry is one cached virtual-to-physical translation.
type tlbEntry struct {
	valid bool
	vaddr uintptr
	ppn   uintptr
	dirty bool
}

/// TLB is a fixed-size software-managed translation cache: NUM_TLB slots,
/// first-invalid-slot insertion falling back to random eviction, and a
/// full-flush on address-space activation.
type TLB struct {
	mu    sync.Mutex
	slots [defs.NUM_TLB]tlbEntry
	rng   *rand.Rand
}

/// NewTLB returns an empty TLB. seed controls the random eviction policy's
/// determinism, which matters for tests.
func NewTLB(seed int64) *TLB {
	return &TLB{rng: rand.New(rand.NewSource(seed))}
}

/// InvalidateAll clears every slot, satisfying vm.TLBInvalidator for
/// as_activate and sbrk's shrink path. swap_out uses InvalidateFrame.
func (t *TLB) InvalidateAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		t.slots[i] = tlbEntry{}
	}
}

/// InvalidateFrame clears any cached entry that maps to ppn — swap_out
/// calls this after writing a frame to disk so that a stale TLB entry
/// cannot be used to read or write the frame before it is reused.
func (t *TLB) InvalidateFrame(ppn uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].valid && t.slots[i].ppn == ppn {
			t.slots[i] = tlbEntry{}
		}
	}
}

/// Lookup returns the cached ppn for vaddr's page, if any.
func (t *TLB) Lookup(vaddr uintptr) (uintptr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].valid && t.slots[i].vaddr == vaddr {
			return t.slots[i].ppn, true
		}
	}
	return 0, false
}

/// Install writes (vaddr, ppn) into the first invalid slot it finds, or
/// evicts a uniformly random slot if the TLB is full. The interrupts a
/// real implementation would disable locally for the duration of the
/// write are represented here simply by holding the TLB's own lock.
func (t *TLB) Install(vaddr, ppn uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if !t.slots[i].valid {
			t.slots[i] = tlbEntry{valid: true, vaddr: vaddr, ppn: ppn, dirty: true}
			return
		}
	}
	victim := t.rng.Intn(defs.NUM_TLB)
	t.slots[victim] = tlbEntry{valid: true, vaddr: vaddr, ppn: ppn, dirty: true}
}
