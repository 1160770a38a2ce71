package kmem

import "testing"

func TestHeapAllocFreeRoundTrip(t *testing.T) {
	h := NewHeap(make([]byte, 4096), nil)

	p1, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc(64): %v", err)
	}
	p2, err := h.Alloc(128)
	if err != nil {
		t.Fatalf("Alloc(128): %v", err)
	}
	if p1 == p2 {
		t.Fatalf("two allocations returned the same offset")
	}

	copy(h.Bytes()[p1:p1+5], []byte("hello"))
	if string(h.Bytes()[p1:p1+5]) != "hello" {
		t.Fatalf("data written through allocation did not round-trip")
	}

	h.Free(p1)
	h.Free(p2)

	p3, err := h.Alloc(4096 - 2*heapOverhead - 64)
	if err != nil {
		t.Fatalf("Alloc after freeing everything should find the coalesced block: %v", err)
	}
	_ = p3
}

func TestHeapExhaustionWithoutGrow(t *testing.T) {
	h := NewHeap(make([]byte, 64), nil)
	if _, err := h.Alloc(1024); err != ErrHeapExhausted {
		t.Fatalf("Alloc beyond capacity: err = %v, want ErrHeapExhausted", err)
	}
}

func TestHeapGrowsViaCallback(t *testing.T) {
	grown := false
	grow := func(minBytes uint64) ([]byte, error) {
		grown = true
		return make([]byte, minBytes+256), nil
	}
	h := NewHeap(make([]byte, 32), grow)

	if _, err := h.Alloc(1024); err != nil {
		t.Fatalf("Alloc should succeed after growing: %v", err)
	}
	if !grown {
		t.Fatalf("heap did not call GrowFunc when exhausted")
	}
}

func TestHeapReallocGrowCopiesData(t *testing.T) {
	h := NewHeap(make([]byte, 4096), nil)

	p, err := h.Alloc(16)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	copy(h.Bytes()[p:p+5], []byte("abcde"))

	p2, err := h.Realloc(p, 256)
	if err != nil {
		t.Fatalf("Realloc grow: %v", err)
	}
	if string(h.Bytes()[p2:p2+5]) != "abcde" {
		t.Fatalf("Realloc did not preserve existing data")
	}
}

func TestHeapReallocShrinkInPlace(t *testing.T) {
	h := NewHeap(make([]byte, 4096), nil)

	p, err := h.Alloc(512)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	p2, err := h.Realloc(p, 16)
	if err != nil {
		t.Fatalf("Realloc shrink: %v", err)
	}
	if p2 != p {
		t.Fatalf("Realloc shrink should keep the same offset, got %d want %d", p2, p)
	}
}
