package vm

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"

	"oskern/internal/defs"
	"oskern/internal/klog"
	"oskern/internal/mem"
	"oskern/internal/swap"
)

/// AddressSpace is a process's virtual memory: an ordered list of
/// segments. Mutations go through System so that the shared coremap and
/// swap manager stay consistent. The mutex here guards the segment list;
/// each Segment has its own page-table lock and each PTE its own swap lock.
type AddressSpace struct {
	mu       sync.Mutex
	segments []*Segment
}

/// TLBInvalidator lets System.Activate invalidate cached translations
/// without vm importing the fault package's TLB cache.
type TLBInvalidator interface {
	InvalidateAll()
}

/// System wires the address-space layer to the shared physical-memory
/// subsystems: the coremap, the flat byte-addressable backing store, and
/// the swap manager. One System is constructed at boot and shared by
/// every AddressSpace, threaded through as a receiver rather than reached
/// for as an ambient global.
type System struct {
	Coremap *mem.Coremap
	Phys    *mem.PhysMem
	Swap    *swap.Manager
	log     logr.Logger
}

/// SetLogger installs the logger AsDestroy reports frame-teardown
/// failures through. A zero-value System logs nothing (GetSink is nil).
func (s *System) SetLogger(l logr.Logger) {
	s.log = l
}

func (s *System) FrameBuf(paddr uintptr) []byte {
	return s.Phys.Frame(paddr)
}

/// AsCreate allocates an address space with an empty segment list. When
/// withHeap is true, a heap segment spanning USERHEAPSTART with zero
/// initial size is appended.
func (s *System) AsCreate(withHeap bool) *AddressSpace {
	as := &AddressSpace{}
	if withHeap {
		as.segments = append(as.segments, &Segment{
			VAddrBase: uintptr(defs.USERHEAPSTART),
			Size:      0,
			Readable:  true,
			Writable:  true,
			IsHeap:    true,
		})
	}
	return as
}

/// AsDefineRegion appends a new segment [vaddr, vaddr+size) with the given
/// permissions. Rejects with EINVAL if any existing segment already
/// contains vaddr.
func (s *System) AsDefineRegion(as *AddressSpace, vaddr, size uintptr, r, w, x bool) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, seg := range as.segments {
		if seg.Contains(vaddr) {
			return defs.EINVAL
		}
	}
	as.segments = append(as.segments, &Segment{
		VAddrBase:  vaddr,
		Size:       size,
		Readable:   r,
		Writable:   w,
		Executable: x,
	})
	return 0
}

/// AsDefineStack appends the fixed stack segment and reports the initial
/// stack pointer.
func (s *System) AsDefineStack(as *AddressSpace) uintptr {
	as.mu.Lock()
	as.segments = append(as.segments, &Segment{
		VAddrBase: uintptr(defs.USERSTACKBASE),
		Size:      uintptr(defs.USERSTACKSIZE),
		Readable:  true,
		Writable:  true,
	})
	as.mu.Unlock()
	return uintptr(defs.USERSTACK)
}

/// FindSegment does a linear scan for the segment containing vaddr.
func (s *System) FindSegment(as *AddressSpace, vaddr uintptr) *Segment {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, seg := range as.segments {
		if seg.Contains(vaddr) {
			return seg
		}
	}
	return nil
}

/// FindHeapSegment returns the address space's heap segment. A zero-size
/// heap's Contains never matches its own base, so sbrk locates it by the
/// IsHeap flag set at as_create time rather than by address range.
func (s *System) FindHeapSegment(as *AddressSpace) *Segment {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, seg := range as.segments {
		if seg.IsHeap {
			return seg
		}
	}
	return nil
}

/// FindPageInSegment wraps Segment.FindPage for callers that only have a
/// segment pointer in hand.
func (s *System) FindPageInSegment(seg *Segment, vpnAligned uintptr) *PTE {
	return seg.FindPage(vpnAligned)
}

/// AsCopy deep-copies old into a freshly created address space: every
/// segment's bounds and permissions are duplicated, and every resident or
/// on-disk PTE is copied into a newly allocated frame. A source PTE that
/// is OnDisk is first brought into memory (the simplest correct policy)
/// so that swap slots are never shared between processes.
func (s *System) AsCopy(old *AddressSpace) (*AddressSpace, defs.Err_t) {
	old.mu.Lock()
	defer old.mu.Unlock()

	newAs := &AddressSpace{}
	for _, seg := range old.segments {
		newSeg := &Segment{
			VAddrBase:  seg.VAddrBase,
			Size:       seg.Size,
			Readable:   seg.Readable,
			Writable:   seg.Writable,
			Executable: seg.Executable,
			IsHeap:     seg.IsHeap,
		}
		for _, pe := range seg.pages {
			if pe.SwapState() == swap.OnDisk {
				if err := s.Swap.SwapIn(pe, s.FrameBuf); err != 0 {
					return nil, err
				}
			}
			dstPaddr := s.Coremap.GetFrames(1, mem.User, s.EvictForFault)
			if dstPaddr == 0 {
				return nil, defs.ENOMEM
			}
			copy(s.FrameBuf(dstPaddr), s.FrameBuf(pe.PPN()))
			newPE := &PTE{VPN: pe.VPN, ppn: dstPaddr, dirty: pe.dirty}
			s.Coremap.SetOwner(dstPaddr, newPE)
			newSeg.AddPage(newPE)
		}
		newAs.segments = append(newAs.segments, newSeg)
	}
	return newAs, 0
}

func (s *System) EvictForFault(c *mem.Coremap) (uintptr, bool) {
	if s.Swap == nil || !s.Swap.Enabled() {
		return 0, false
	}
	return s.Swap.Evict(s.FrameBuf)
}

/// AsDestroy iterates every segment, freeing each PTE's physical frame (or
/// swap slot if OnDisk) and the entry itself, then the segment, then the
/// address space. A frame-free failure for one PTE must not stop the
/// others from being reclaimed, so failures are collected rather than
/// returned from the first one encountered.
func (s *System) AsDestroy(as *AddressSpace) {
	as.mu.Lock()
	defer as.mu.Unlock()
	var freeErrs *multierror.Error
	for _, seg := range as.segments {
		for _, pe := range seg.pages {
			if pe.SwapState() == swap.OnDisk {
				s.Swap.ReleaseSlot(pe.DiskSlot())
				continue
			}
			if ferr := s.Coremap.FreeFrame(pe.PPN()); ferr != 0 {
				freeErrs = multierror.Append(freeErrs, ferr)
			}
		}
		seg.pages = nil
	}
	as.segments = nil
	if freeErrs.ErrorOrNil() != nil && s.log.GetSink() != nil {
		s.log.Info("errors freeing frames on address-space teardown", "err", freeErrs.Error())
	}
}

/// Activate invalidates every TLB entry so later faults repopulate
/// against as's page tables. Deactivate is intentionally absent: it
/// would be a no-op on this software-managed TLB.
func (s *System) Activate(tlb TLBInvalidator) {
	tlb.InvalidateAll()
}
