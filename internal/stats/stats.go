// Package stats provides the kernel's runtime counters: atomic
// occupancy and event counts for the coremap, swap manager, and process
// table, kept as simple atomic wrappers and always enabled (a compile-time
// gate that strips counters from production builds doesn't suit a
// teaching kernel, which wants them queryable on demand instead).
// Snapshot renders them as a github.com/google/pprof/profile.Profile so
// KernelStats can be queried with any pprof-compatible tool instead of a
// bespoke dump format.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/google/pprof/profile"
)

/// Counter_t is an atomically-updated event or occupancy counter.
type Counter_t int64

/// Inc increments the counter by one.
func (c *Counter_t) Inc() { atomic.AddInt64((*int64)(c), 1) }

/// Add adds delta to the counter (delta may be negative, e.g. a frame
/// freed after one was allocated).
func (c *Counter_t) Add(delta int64) { atomic.AddInt64((*int64)(c), delta) }

/// Get reads the counter's current value.
func (c *Counter_t) Get() int64 { return atomic.LoadInt64((*int64)(c)) }

/// Cycles_t accumulates elapsed wall-clock nanoseconds, standing in for
/// rdtsc-cycle accounting on hardware this kernel doesn't run on directly.
type Cycles_t int64

/// Add folds the elapsed time since start into the counter.
func (c *Cycles_t) Add(start time.Time) {
	atomic.AddInt64((*int64)(c), int64(time.Since(start)))
}

/// Get reads the accumulated nanoseconds.
func (c *Cycles_t) Get() int64 { return atomic.LoadInt64((*int64)(c)) }

/// KernelStats is the set of counters the boot-time Kernel value exposes:
/// coremap occupancy, swap traffic, page faults, and live process count.
type KernelStats struct {
	FramesUsed  Counter_t
	FramesFree  Counter_t
	SwapIns     Counter_t
	SwapOuts    Counter_t
	PageFaults  Counter_t
	ProcsActive Counter_t
	FaultNanos  Cycles_t
}

/// Snapshot renders the current counter values as a pprof profile with
/// one sample per counter, unit "count" (nanoseconds for FaultNanos),
/// so `go tool pprof` or any consumer of the profile format can query a
/// point-in-time view of kernel occupancy.
func (k *KernelStats) Snapshot() *profile.Profile {
	countType := &profile.ValueType{Type: "count", Unit: "count"}
	nanoType := &profile.ValueType{Type: "cpu", Unit: "nanoseconds"}

	entries := []struct {
		name  string
		value int64
		vt    *profile.ValueType
	}{
		{"frames_used", k.FramesUsed.Get(), countType},
		{"frames_free", k.FramesFree.Get(), countType},
		{"swap_ins", k.SwapIns.Get(), countType},
		{"swap_outs", k.SwapOuts.Get(), countType},
		{"page_faults", k.PageFaults.Get(), countType},
		{"procs_active", k.ProcsActive.Get(), countType},
		{"fault_nanos", k.FaultNanos.Get(), nanoType},
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{countType},
		TimeNanos:  0,
	}
	for i, e := range entries {
		fn := &profile.Function{ID: uint64(i + 1), Name: e.name}
		loc := &profile.Location{ID: uint64(i + 1), Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{e.value},
			Label:    map[string][]string{"unit": {e.vt.Unit}},
		})
	}
	return p
}
