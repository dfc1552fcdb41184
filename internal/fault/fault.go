package fault

import (
	"time"

	"oskern/internal/defs"
	"oskern/internal/mem"
	"oskern/internal/stats"
	"oskern/internal/swap"
	"oskern/internal/vm"
)

/// Kind identifies why the MMU trapped.
type Kind int

const (
	Read Kind = iota
	Write
	ReadOnlyTrap
)

/// Result is a vm_fault outcome distinct from defs.Err_t: the fault
/// handler's failure modes are reported to the trap vector, not to a
/// syscall caller, so they get their own small enumeration instead of
/// overloading the syscall errno space.
type Result int

const (
	OK Result = iota
	FaultNoAddressSpace
	SegmentationFault
	ProtectionFault
	InvalidOperation
)

func (r Result) Error() string {
	switch r {
	case OK:
		return "ok"
	case FaultNoAddressSpace:
		return "no current address space"
	case SegmentationFault:
		return "segmentation fault"
	case ProtectionFault:
		return "protection fault"
	case InvalidOperation:
		return "invalid operation"
	default:
		return "unknown fault result"
	}
}

/// Handler ties the address-space layer, the swap manager, and a TLB
/// cache together to implement vm_fault: translate a fault into a
/// segment+page lookup, fault the page in (allocating or swapping as
/// needed), and install the resulting translation in the TLB.
type Handler struct {
	VM    *vm.System
	TLB   *TLB
	Stats *stats.KernelStats
}

/// NewHandler constructs a fault handler over the given address-space
/// system and a fresh TLB.
func NewHandler(vmSys *vm.System, seed int64) *Handler {
	return &Handler{VM: vmSys, TLB: NewTLB(seed)}
}

/// Fault implements vm_fault(kind, vaddr) as ten ordered steps. as is the
/// current process's address space, or nil if there is none. The segment
/// lock is held across steps 4-6 (locate-or-populate the PTE) so two
/// threads faulting the same untouched page can't both see no PTE and
/// both allocate one.
func (h *Handler) Fault(as *vm.AddressSpace, kind Kind, vaddr uintptr) (res Result) {
	start := time.Now()
	if h.Stats != nil {
		defer func() { h.Stats.FaultNanos.Add(start) }()
		h.Stats.PageFaults.Inc()
	}

	// 1. No current process/address space.
	if as == nil {
		return FaultNoAddressSpace
	}

	// 2. Align the fault address down to its containing page.
	aligned := vaddr & uintptr(defs.PGMASK)

	// 3. Locate the segment.
	seg := h.VM.FindSegment(as, vaddr)
	if seg == nil {
		return SegmentationFault
	}

	// 4. Locate any existing PTE, holding the segment's page-table lock
	// across the locate-or-populate decision.
	seg.Lock()
	pe := h.VM.FindPageInSegment(seg, aligned)

	switch kind {
	case ReadOnlyTrap:
		// 7. This kernel does not implement copy-on-write.
		seg.Unlock()
		return InvalidOperation

	case Write:
		if pe != nil && !seg.Writable {
			seg.Unlock()
			return ProtectionFault
		}
		if pe == nil {
			var err Result
			pe, err = h.populate(seg, aligned, vm.Modified)
			if err != OK {
				seg.Unlock()
				return err
			}
		}

	case Read:
		fallthrough
	default:
		if pe == nil {
			var err Result
			pe, err = h.populate(seg, aligned, vm.Clean)
			if err != OK {
				seg.Unlock()
				return err
			}
		}
	}
	seg.Unlock()

	pe.Lock()
	defer pe.Unlock()

	// 8. Bring the page back from swap if necessary.
	if pe.SwapState() == swap.OnDisk {
		pe.SetFaulting(true)
		if err := h.VM.Swap.SwapIn(pe, h.VM.FrameBuf); err != 0 {
			pe.SetFaulting(false)
			return InvalidOperation
		}
		pe.SetFaulting(false)
	}

	// 9. Mark the page as recently used for the eviction clock.
	pe.SetLRUUsed()

	// 10. Install the translation in the TLB.
	h.TLB.Install(aligned, pe.PPN())

	return OK
}

/// populate implements step 5/6: allocate a zero-filled User frame, wire
/// up a new PTE, and add it to the segment's page table.
func (h *Handler) populate(seg *vm.Segment, aligned uintptr, dirty vm.Dirty) (*vm.PTE, Result) {
	paddr := h.VM.Coremap.GetFrames(1, mem.User, h.VM.EvictForFault)
	if paddr == 0 {
		return nil, InvalidOperation
	}
	buf := h.VM.FrameBuf(paddr)
	for i := range buf {
		buf[i] = 0
	}
	pe := &vm.PTE{VPN: aligned}
	pe.SetPPN(paddr)
	pe.SetDirty(dirty)
	pe.SetSwapState(swap.InMemory)
	h.VM.Coremap.SetOwner(paddr, pe)
	seg.AddPage(pe)
	return pe, OK
}
