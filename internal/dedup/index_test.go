package dedup

import (
	"sync"
	"testing"

	"github.com/fleetware/go-device-gateway/internal/wire"
)

var (
	devA = wire.DeviceID{1, 2, 3, 4}
	devB = wire.DeviceID{5, 6, 7, 8}
)

func TestObserve_FreshThenDuplicate(t *testing.T) {
	x := New(10)
	if !x.Observe(devA, 1) {
		t.Fatalf("first observe should be fresh")
	}
	if x.Observe(devA, 1) {
		t.Fatalf("second observe should be duplicate")
	}
	if got := x.Size(devA); got != 1 {
		t.Fatalf("Size = %d, want 1 (duplicate must not grow the window)", got)
	}
}

func TestObserve_DevicesIndependent(t *testing.T) {
	x := New(10)
	if !x.Observe(devA, 7) {
		t.Fatalf("devA counter 7 should be fresh")
	}
	if !x.Observe(devB, 7) {
		t.Fatalf("devB counter 7 should be fresh despite devA")
	}
	if x.Devices() != 2 {
		t.Fatalf("Devices = %d, want 2", x.Devices())
	}
}

func TestObserve_WindowBound(t *testing.T) {
	const limit = 16
	x := New(limit)
	for c := 0; c < 1000; c++ {
		x.Observe(devA, uint16(c))
		if got := x.Size(devA); got > limit {
			t.Fatalf("window grew to %d after counter %d, limit %d", got, c, limit)
		}
	}
	if got := x.Size(devA); got != limit {
		t.Fatalf("final window size %d, want %d", got, limit)
	}
}

func TestObserve_EvictsSmallest(t *testing.T) {
	x := New(4)
	for c := uint16(1); c <= 5; c++ {
		if !x.Observe(devA, c) {
			t.Fatalf("counter %d should be fresh", c)
		}
	}
	// 1 was evicted when 5 arrived, so it reads as fresh again; 2..5 remain.
	if !x.Observe(devA, 1) {
		t.Fatalf("evicted counter should be accepted as fresh again")
	}
	for c := uint16(3); c <= 5; c++ {
		if x.Observe(devA, c) {
			t.Fatalf("retained counter %d should be duplicate", c)
		}
	}
}

func TestObserve_OutOfOrderInsert(t *testing.T) {
	x := New(8)
	for _, c := range []uint16{10, 5, 20, 15} {
		if !x.Observe(devA, c) {
			t.Fatalf("counter %d should be fresh", c)
		}
	}
	for _, c := range []uint16{5, 10, 15, 20} {
		if x.Observe(devA, c) {
			t.Fatalf("counter %d should be duplicate after out-of-order insert", c)
		}
	}
}

func TestObserve_EvictionPrefersSmallest(t *testing.T) {
	x := New(3)
	for _, c := range []uint16{100, 200, 300} {
		x.Observe(devA, c)
	}
	// 50 is smaller than everything retained; inserting it overflows the
	// window and the eviction removes it right back.
	if !x.Observe(devA, 50) {
		t.Fatalf("50 should be fresh on first sight")
	}
	if !x.Observe(devA, 50) {
		t.Fatalf("50 should have been evicted as the smallest and read fresh again")
	}
	for _, c := range []uint16{200, 300} {
		if x.Observe(devA, c) {
			t.Fatalf("counter %d should still be retained", c)
		}
	}
}

func TestObserve_Concurrent(t *testing.T) {
	x := New(DefaultLimit)
	const (
		goroutines = 8
		perDevice  = 500
	)
	// All goroutines hammer the same counters on the same device; exactly one
	// observer may win freshness for each counter.
	var fresh sync.Map
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := 0; c < perDevice; c++ {
				if x.Observe(devA, uint16(c)) {
					if _, loaded := fresh.LoadOrStore(uint16(c), true); loaded {
						t.Errorf("counter %d fresh twice", c)
					}
				}
			}
		}()
	}
	wg.Wait()
	won := 0
	fresh.Range(func(any, any) bool { won++; return true })
	if won != perDevice {
		t.Fatalf("%d counters won freshness, want %d", won, perDevice)
	}
	if got := x.Size(devA); got != perDevice {
		t.Fatalf("Size = %d, want %d", got, perDevice)
	}
}

func TestObserve_ConcurrentDistinctDevices(t *testing.T) {
	x := New(64)
	var wg sync.WaitGroup
	for d := 0; d < 16; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			id := wire.DeviceID{byte(d), byte(d), byte(d), byte(d)}
			for c := 0; c < 200; c++ {
				x.Observe(id, uint16(c))
			}
		}(d)
	}
	wg.Wait()
	if x.Devices() != 16 {
		t.Fatalf("Devices = %d, want 16", x.Devices())
	}
	for d := 0; d < 16; d++ {
		id := wire.DeviceID{byte(d), byte(d), byte(d), byte(d)}
		if got := x.Size(id); got != 64 {
			t.Fatalf("device %d window size %d, want 64", d, got)
		}
	}
}

func BenchmarkObserve_Monotone(b *testing.B) {
	x := New(DefaultLimit)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		x.Observe(devA, uint16(i))
	}
}

func BenchmarkObserve_Duplicate(b *testing.B) {
	x := New(DefaultLimit)
	x.Observe(devA, 42)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		x.Observe(devA, 42)
	}
}
