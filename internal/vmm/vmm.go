// Package vmm implements the kernel's virtual-memory map: multi-level
// translation tables with lazy intermediate-table fill on translation fault.
//
// Grounded on original_source's src/memory/aarch64/mmu.cpp (map/unmap, the
// loopback-addressed table edit, and fillTranslationTable's demand-fill
// sequence) and src/memory/mmap.h's map_region/unmap_region/get_page_frame
// contract. The table-editing idiom (interfaces over raw pointers, explicit
// error returns instead of a halt-on-fault function) follows
// tinyrange-cc's internal/hv package.
package vmm

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ngiddings-clone/arm64kernel/internal/kerr"
)

// PageSize is the finest translation granule: a single level-0 page.
const PageSize = 4096

// Block sizes for the three translation levels (spec §3 "Translation
// tables"): level-0 pages, level-1 2 MiB blocks, level-2 1 GiB blocks. Only
// level 0 is ever installed as a leaf by this implementation; levels 1 and 2
// are always table descriptors.
const (
	Level0BlockSize = 1 << 12
	Level1BlockSize = 1 << 21
	Level2BlockSize = 1 << 30
)

// ErrUnmapped is returned by operations that require an existing mapping.
var ErrUnmapped = errors.New("vmm: address not mapped")

// ErrFatalFault reports a translation fault this kernel cannot repair by
// demand-filling tables: a permission fault, a fault outside the two
// designated halves of the address space, or a read fault with no mapping.
// Per spec §3 these are all fatal; the kernel logs and panics on seeing one.
var ErrFatalFault = errors.New("vmm: unrecoverable translation fault")

// TLB models the barrier sequence original_source issues after every table
// edit (DSB ISH; TLBI VMALLE1; DSB ISH; ISB). On real hardware this flushes
// stale translations; hosted, it exists so tests can assert it was invoked
// and so a future bare-metal backend has a seam to hang real barriers off.
type TLB interface {
	Invalidate()
}

// NullTLB is a TLB that does nothing, for tests and for address spaces that
// are never actually loaded into TTBR0.
type NullTLB struct{}

func (NullTLB) Invalidate() {}

// VirtualMemory installs and removes translation-table entries in the
// currently loaded AddressSpace and repairs translation faults by lazily
// allocating missing intermediate tables (spec §3 "Demand fill").
type VirtualMemory struct {
	log     *slog.Logger
	tlb     TLB
	current *AddressSpace
}

// NewVirtualMemory constructs a VirtualMemory with no address space loaded.
func NewVirtualMemory(log *slog.Logger, tlb TLB) *VirtualMemory {
	if tlb == nil {
		tlb = NullTLB{}
	}
	return &VirtualMemory{log: log, tlb: tlb}
}

// Load switches the active address space (original_source's
// loadAddressSpace: set TTBR0 to the new top frame tagged with its ASID,
// then DSB/TLBI/DSB/ISB).
func (v *VirtualMemory) Load(as *AddressSpace) {
	v.current = as
	v.tlb.Invalidate()
	v.log.Debug("loaded address space", "asid", as.ID())
}

// Current returns the currently loaded address space, or nil.
func (v *VirtualMemory) Current() *AddressSpace { return v.current }

// walk descends from the top table to the level-0 table covering virt,
// allocating missing level-1/level-0 tables when create is true. Returns
// ErrUnmapped if create is false and an intermediate table is absent.
func (v *VirtualMemory) walk(as *AddressSpace, virt uint64, create bool) (*table, error) {
	t := as.top
	for level := 2; level >= 1; level-- {
		e := &t.entries[index(virt, level)]
		if !e.present() {
			if !create {
				return nil, ErrUnmapped
			}
			framePA, next, err := as.allocTable()
			if err != nil {
				return nil, err
			}
			*e = makeTableDescriptor(framePA)
			v.tlb.Invalidate()
			t = next
			continue
		}
		t = as.tables[e.frame()]
		if t == nil {
			return nil, fmt.Errorf("vmm: table frame %#x has no backing table", e.frame())
		}
	}
	return t, nil
}

// MapRegion maps [virt, virt+size) linearly to [frame, frame+size), in
// PageSize-granularity steps (spec §3 map_region). size and virt must be
// multiples of PageSize.
func (v *VirtualMemory) MapRegion(as *AddressSpace, virt uint64, size uint64, frame PhysAddr, flags kerr.PageFlags) error {
	if virt%PageSize != 0 || size%PageSize != 0 {
		return fmt.Errorf("vmm: map_region: virt and size must be page-aligned (virt=%#x size=%#x)", virt, size)
	}
	for off := uint64(0); off < size; off += PageSize {
		lvl0, err := v.walk(as, virt+off, true)
		if err != nil {
			return fmt.Errorf("vmm: map_region(%#x): %w", virt+off, err)
		}
		lvl0.entries[index(virt+off, 0)] = makePageDescriptor(frame+PhysAddr(off), flags)
		v.tlb.Invalidate()
	}
	return nil
}

// UnmapRegion clears page entries over [virt, virt+size) without freeing the
// underlying frames; the caller owns that (spec §3 unmap_region).
func (v *VirtualMemory) UnmapRegion(as *AddressSpace, virt uint64, size uint64) error {
	if virt%PageSize != 0 || size%PageSize != 0 {
		return fmt.Errorf("vmm: unmap_region: virt and size must be page-aligned (virt=%#x size=%#x)", virt, size)
	}
	for off := uint64(0); off < size; off += PageSize {
		lvl0, err := v.walk(as, virt+off, false)
		if err != nil {
			continue // already unmapped; unmap_region is idempotent per-page
		}
		lvl0.entries[index(virt+off, 0)] = 0
		v.tlb.Invalidate()
	}
	return nil
}

// GetPageFrame walks the current translation and returns the frame mapped
// at virt, or ok=false if none (spec §3 get_page_frame).
func (v *VirtualMemory) GetPageFrame(as *AddressSpace, virt uint64) (PhysAddr, bool) {
	lvl0, err := v.walk(as, virt, false)
	if err != nil {
		return 0, false
	}
	e := lvl0.entries[index(virt, 0)]
	if !e.present() {
		return 0, false
	}
	return e.frame(), true
}

// SetPageEntry installs a single leaf descriptor, demand-filling any
// missing intermediate tables first.
func (v *VirtualMemory) SetPageEntry(as *AddressSpace, virt uint64, frame PhysAddr, flags kerr.PageFlags) error {
	return v.MapRegion(as, virt&^uint64(PageSize-1), PageSize, frame, flags)
}

// ClearEntry removes the leaf descriptor at virt, marking it not-present.
func (v *VirtualMemory) ClearEntry(as *AddressSpace, virt uint64) error {
	return v.UnmapRegion(as, virt&^uint64(PageSize-1), PageSize)
}

// designated reports whether virt falls in one of the two halves of the
// address space the kernel is willing to demand-fill: the low canonical
// user half or the high canonical kernel half. Addresses outside both
// (non-canonical) are never repaired.
func designated(virt uint64) bool {
	const userTop = uint64(1) << 38    // generous low-half ceiling for a 39-bit VA space
	const kernelBase = ^uint64(0) << 38 // mirrored high half
	return virt < userTop || virt >= kernelBase
}

// HandleTranslationFault repairs a translation fault the way
// original_source's handlePageFault/fillTranslationTable does: only write
// faults inside the designated halves are repairable, by allocating the
// missing intermediate tables. Every other case -- permission faults, reads
// against unmapped pages, faults outside both halves, a null pointer -- is
// fatal and returned as ErrFatalFault for the kernel to log and panic on.
func (v *VirtualMemory) HandleTranslationFault(as *AddressSpace, virt uint64, isWrite bool) error {
	if virt == 0 {
		return fmt.Errorf("%w: null pointer dereference", ErrFatalFault)
	}
	if !isWrite || !designated(virt) {
		return fmt.Errorf("%w: unrepairable fault at %#x (write=%v)", ErrFatalFault, virt, isWrite)
	}
	if _, err := v.walk(as, virt, true); err != nil {
		return fmt.Errorf("%w: demand fill at %#x: %v", ErrFatalFault, virt, err)
	}
	return nil
}
