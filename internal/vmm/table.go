package vmm

import "github.com/ngiddings-clone/arm64kernel/internal/kmem"

// PhysAddr is re-exported from kmem so callers of this package never need to
// import kmem directly just to spell a frame address.
type PhysAddr = kmem.PhysAddr

const entriesPerTable = 512

// table is the in-memory backing of one translation-table page. Real
// hardware stores these as 4 KiB pages of descriptors addressed through the
// loopback mapping (spec: "editing a table entry is a store through the
// loopback view, not a walk"); since this kernel core runs hosted, tables are
// kept as ordinary Go values reachable from the AddressSpace that owns them,
// and the loopback's last slot is still installed so table frames are
// correctly refcounted and freed the same way a live-walked implementation
// would free them.
type table struct {
	entries [entriesPerTable]entry
}

func index(virt uint64, level int) int {
	return int((virt >> (12 + 9*uint(level))) & (entriesPerTable - 1))
}
