package vmm

import (
	"fmt"
	"sync/atomic"

	"github.com/ngiddings-clone/arm64kernel/internal/kmem"
)

// AddressSpace is a refcounted handle to a top-level (level-2) translation
// table and the ASID tagging it in TTBR0. Processes created by Clone share
// one AddressSpace; the last Unref tears down every table frame it owns.
//
// Grounded on original_source's AddressSpace (src/memory/memorymap.h's
// sibling addressspace.h is referenced but not retrieved in full; behavior
// follows mmu.cpp's loadAddressSpace/initializeTopTable and spec §3's
// "Address space" glossary entry) and tinyrange-cc's hv.AddressSpace for the
// Go-side refcount/shape.
type AddressSpace struct {
	id    uint16
	top   *table
	topPA kmem.PhysAddr

	// tables maps every table frame owned by this address space (including
	// the top table) back to its in-memory contents, so Destroy can free
	// them all without re-walking the tree.
	tables map[kmem.PhysAddr]*table

	alloc *kmem.PageAllocator
	refs  int32
}

// NewAddressSpace allocates and initializes a fresh top-level table,
// installing the loopback entry at its last slot (original_source's
// initializeTopTable), and returns a handle with a refcount of 1.
func NewAddressSpace(alloc *kmem.PageAllocator, asid uint16) (*AddressSpace, error) {
	topPA, err := alloc.Reserve(PageSize)
	if err != nil {
		return nil, fmt.Errorf("vmm: allocate top table: %w", err)
	}
	top := &table{}
	top.entries[entriesPerTable-1] = makeTableDescriptor(topPA)

	as := &AddressSpace{
		id:     asid,
		top:    top,
		topPA:  topPA,
		tables: map[kmem.PhysAddr]*table{topPA: top},
		alloc:  alloc,
		refs:   1,
	}
	return as, nil
}

// ID returns the ASID this address space is tagged with in TTBR0.
func (a *AddressSpace) ID() uint16 { return a.id }

// Ref increments the address space's refcount (spec: Clone shares the
// parent's address space by incrementing, rather than copying, it).
func (a *AddressSpace) Ref() { atomic.AddInt32(&a.refs, 1) }

// Unref decrements the refcount and, if it reaches zero, frees every table
// frame this address space owns. Returns true if this call destroyed it.
func (a *AddressSpace) Unref() bool {
	if atomic.AddInt32(&a.refs, -1) > 0 {
		return false
	}
	for frame := range a.tables {
		a.alloc.Free(frame)
	}
	a.tables = nil
	return true
}

func (a *AddressSpace) allocTable() (kmem.PhysAddr, *table, error) {
	pa, err := a.alloc.Reserve(PageSize)
	if err != nil {
		return 0, nil, fmt.Errorf("vmm: allocate table frame: %w", err)
	}
	t := &table{}
	a.tables[pa] = t
	return pa, t, nil
}
