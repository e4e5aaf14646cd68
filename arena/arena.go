// Package arena implements the bump-allocated, tag-numbered region
// allocator that the interpreter uses to bound the lifetime of parse
// trees, transient word lists, and here-document temp files.
//
// Go's garbage collector already reclaims memory, so this package does
// not manage raw bytes; it reimplements the one property the GC does not
// give us for free: bulk, depth-scoped release. Every allocation is
// tagged with the area number active at the time it was made, and
// FreeArea(n) releases everything tagged >= n in one call, running any
// registered cleanup (here-doc temp file removal, open fds) as it goes.
// This mirrors msh.c's area/areanum discipline closely enough that the
// "no live allocations above area 0 after a top-level command" property
// can be checked directly against this package's LiveCount.
package arena

import (
	"errors"
	"sort"
	"sync"
)

// Area is a region tag. Area 0 is the permanent region (variable
// names/values in msh.c); areas > 0 are scoped to a parse or eval depth.
type Area int

// Permanent is the area that is never freed by FreeArea.
const Permanent Area = 0

// ErrTooComplicated is returned by Alloc when the live-allocation budget
// for the arena is exhausted, mirroring msh.c's "command line too
// complicated" parse-time failure.
var ErrTooComplicated = errors.New("command line too complicated")

// Handle identifies one tagged allocation. The zero Handle is invalid.
type Handle uint64

type entry struct {
	area    Area
	cleanup func()
}

// Arena tracks tagged allocations and their optional cleanup callbacks.
// It is safe for concurrent use: pipeline segments and background jobs
// running as goroutines may allocate into a shared child scope.
type Arena struct {
	mu      sync.Mutex
	cur     Area
	next    Handle
	live    map[Handle]entry
	maxLive int // 0 means unbounded
}

// New returns an Arena starting at area 1 (area 0 is reserved for
// permanent allocations, matching msh.c's areanum==0 convention).
func New() *Arena {
	return &Arena{
		cur:  1,
		live: make(map[Handle]entry),
	}
}

// SetMaxLive bounds the number of outstanding allocations, simulating the
// fixed-size region pool msh.c draws from. A value <= 0 means unbounded.
func (a *Arena) SetMaxLive(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maxLive = n
}

// Enter starts a new, deeper area and returns it. Callers descending into
// a subshell, a nested parse, or a loop body call Enter and later
// FreeArea(that area) to unwind exactly what they allocated.
func (a *Arena) Enter() Area {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cur++
	return a.cur
}

// Current returns the area that new allocations are tagged with unless
// told otherwise.
func (a *Arena) Current() Area {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur
}

// Alloc records a new tagged allocation in area and returns a Handle
// identifying it. cleanup, if non-nil, runs exactly once, either when
// FreeArea reclaims this handle's area or when Release is called
// directly. Alloc fails with ErrTooComplicated once the live-allocation
// budget is exhausted.
func (a *Arena) Alloc(area Area, cleanup func()) (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.maxLive > 0 && len(a.live) >= a.maxLive {
		return 0, ErrTooComplicated
	}
	a.next++
	h := a.next
	a.live[h] = entry{area: area, cleanup: cleanup}
	return h, nil
}

// Tag is a convenience for Alloc(a.Current(), cleanup).
func (a *Arena) Tag(cleanup func()) (Handle, error) {
	return a.Alloc(a.Current(), cleanup)
}

// AreaOf reports the area a handle was tagged with. The second return
// value is false if the handle is unknown (already freed, or never
// issued by this arena).
func (a *Arena) AreaOf(h Handle) (Area, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.live[h]
	return e.area, ok
}

// Release frees a single handle early, running its cleanup if any. It is
// a no-op if the handle is already freed.
func (a *Arena) Release(h Handle) {
	a.mu.Lock()
	e, ok := a.live[h]
	if ok {
		delete(a.live, h)
	}
	a.mu.Unlock()
	if ok && e.cleanup != nil {
		e.cleanup()
	}
}

// FreeArea releases every handle tagged with an area >= area, running
// each one's cleanup, then resets Current to area (so the next Enter
// starts clean from where the caller is unwinding to). Permanent (area 0)
// allocations are only released by an explicit FreeArea(0), which the
// top-level driver never calls.
func (a *Arena) FreeArea(area Area) {
	a.mu.Lock()
	var toRun []func()
	for h, e := range a.live {
		if e.area >= area {
			if e.cleanup != nil {
				toRun = append(toRun, e.cleanup)
			}
			delete(a.live, h)
		}
	}
	if area <= a.cur {
		a.cur = area
		if a.cur < 1 {
			a.cur = 1
		}
	}
	a.mu.Unlock()

	// Cleanups run in map-iteration order, which is unspecified; the
	// stable sort with an always-false comparator leaves that order as
	// it is.
	sort.SliceStable(toRun, func(i, j int) bool { return false })
	for _, fn := range toRun {
		fn()
	}
}

// LiveCount returns the number of outstanding allocations tagged with an
// area >= area. Tests use LiveCount(1) to assert the "no live
// allocations above area 0" property after a top-level command.
func (a *Arena) LiveCount(area Area) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.live {
		if e.area >= area {
			n++
		}
	}
	return n
}

// Collect is a documented no-op hook matching spec's operation list; Go's
// garbage collector already reclaims the memory behind freed handles, so
// there is nothing left to do once FreeArea has run cleanups and dropped
// the map entries. It exists so callers that mirror msh.c's
// alloc/tag/area_of/free_area/collect vocabulary have a 1:1 symbol to
// call.
func (a *Arena) Collect() {}
