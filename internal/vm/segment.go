package vm

import (
	"sync"

	"oskern/internal/defs"
)

/// Segment is a contiguous range of a process's virtual address space
/// with uniform permissions and its own page table; it tracks the
/// attributes a mapping needs minus the copy-on-write refcounts this
/// kernel doesn't implement. mu is the segment's page-table lock: a
/// fault handler holds it across the find-page-then-populate sequence so
/// two threads faulting the same untouched page can't both decide to
/// allocate a PTE for it.
type Segment struct {
	VAddrBase  uintptr
	Size       uintptr
	Readable   bool
	Writable   bool
	Executable bool
	IsHeap     bool

	mu    sync.Mutex
	pages []*PTE
}

/// Lock acquires the segment's page-table lock.
func (s *Segment) Lock() { s.mu.Lock() }

/// Unlock releases the segment's page-table lock.
func (s *Segment) Unlock() { s.mu.Unlock() }

/// Contains reports whether vaddr falls within the segment's range.
func (s *Segment) Contains(vaddr uintptr) bool {
	return vaddr >= s.VAddrBase && vaddr < s.VAddrBase+s.Size
}

/// FindPage does a linear scan for the PTE at the page-aligned vaddr.
func (s *Segment) FindPage(vpnAligned uintptr) *PTE {
	for _, pe := range s.pages {
		if pe.VPN == vpnAligned {
			return pe
		}
	}
	return nil
}

/// AddPage installs pe into the segment's page table.
func (s *Segment) AddPage(pe *PTE) {
	s.pages = append(s.pages, pe)
}

/// RemovePage removes pe from the segment's page table, if present.
func (s *Segment) RemovePage(pe *PTE) {
	for i, p := range s.pages {
		if p == pe {
			s.pages = append(s.pages[:i], s.pages[i+1:]...)
			return
		}
	}
}

/// Pages returns the segment's page table for callers (as_copy,
/// as_destroy) that need to walk every resident entry.
func (s *Segment) Pages() []*PTE {
	return s.pages
}

/// GrowHeap extends a heap segment's size, used by sbrk. Growing below
/// the segment's base is rejected.
func (s *Segment) GrowHeap(delta int) defs.Err_t {
	if delta < 0 && uintptr(-delta) > s.Size {
		return defs.EINVAL
	}
	s.Size = uintptr(int(s.Size) + delta)
	return 0
}
