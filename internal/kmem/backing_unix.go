package kmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// newAnonymousMapping reserves size bytes of zeroed, anonymous memory
// outside the Go heap to back RAM, the same way tinyrange-cc's
// hv.VirtualMachine.AllocateMemory carves out a guest's physical memory
// arena: an anonymous, private mmap instead of a garbage-collected slice,
// so the "physical RAM" a buddy allocator hands out frame numbers into has
// the same host-memory character a real VM host's guest-memory arena does.
func newAnonymousMapping(size uint64) ([]byte, error) {
	mem, err := unix.Mmap(
		-1,
		0,
		int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANONYMOUS|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("kmem: allocate backing memory: %w", err)
	}
	return mem, nil
}

// releaseMapping unmaps memory obtained from newAnonymousMapping.
func releaseMapping(mem []byte) error {
	if mem == nil {
		return nil
	}
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("kmem: release backing memory: %w", err)
	}
	return nil
}
