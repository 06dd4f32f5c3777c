package dedup

import (
	"sort"
	"sync"

	"github.com/fleetware/go-device-gateway/internal/wire"
)

// DefaultLimit is the per-device window size used when none is configured.
const DefaultLimit = 1000

// Index tracks the recently observed counters of every device. It lives for
// the process lifetime, is not persisted, and is safe for concurrent use:
// observes on the same device serialize on that device's lock, observes on
// different devices proceed in parallel.
type Index struct {
	mu      sync.RWMutex
	devices map[wire.DeviceID]*deviceWindow
	limit   int
}

// deviceWindow holds one device's retained counters sorted ascending.
// Counters are monotone per device in practice, so inserts are almost always
// appends and evicting from the front approximates oldest-first without
// timestamps.
type deviceWindow struct {
	mu       sync.Mutex
	counters []uint16
}

// New creates an Index retaining at most limit counters per device.
func New(limit int) *Index {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Index{devices: make(map[wire.DeviceID]*deviceWindow), limit: limit}
}

// Limit returns the configured per-device window size.
func (x *Index) Limit() int { return x.limit }

// Observe records counter for the device and reports whether it was fresh.
// A duplicate leaves the window unchanged. When an insert would exceed the
// window size the numerically smallest counters are evicted until the size
// holds. A counter re-appearing after eviction is accepted as fresh again.
func (x *Index) Observe(id wire.DeviceID, counter uint16) bool {
	w := x.windowFor(id)
	w.mu.Lock()
	defer w.mu.Unlock()
	i := sort.Search(len(w.counters), func(i int) bool { return w.counters[i] >= counter })
	if i < len(w.counters) && w.counters[i] == counter {
		return false
	}
	w.counters = append(w.counters, 0)
	copy(w.counters[i+1:], w.counters[i:])
	w.counters[i] = counter
	if over := len(w.counters) - x.limit; over > 0 {
		w.counters = w.counters[:copy(w.counters, w.counters[over:])]
	}
	return true
}

// windowFor returns the device's window, creating it on first sight.
func (x *Index) windowFor(id wire.DeviceID) *deviceWindow {
	x.mu.RLock()
	w := x.devices[id]
	x.mu.RUnlock()
	if w != nil {
		return w
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if w = x.devices[id]; w == nil {
		w = &deviceWindow{counters: make([]uint16, 0, 8)}
		x.devices[id] = w
	}
	return w
}

// Devices returns the number of devices currently tracked.
func (x *Index) Devices() int {
	x.mu.RLock()
	n := len(x.devices)
	x.mu.RUnlock()
	return n
}

// Size reports the retained window size for one device (0 if never seen).
func (x *Index) Size(id wire.DeviceID) int {
	x.mu.RLock()
	w := x.devices[id]
	x.mu.RUnlock()
	if w == nil {
		return 0
	}
	w.mu.Lock()
	n := len(w.counters)
	w.mu.Unlock()
	return n
}
