package kmem

import "fmt"

// RAM is the byte-addressable backing store standing in for the board's
// physical memory. The buddy allocator above only ever hands out frame
// *addresses*; RAM is where the bytes those addresses name actually live,
// so syscalls that read or write through a user pointer (mmap payloads,
// printk strings, pipe buffers copied to/from user memory) have real
// storage to act on.
type RAM struct {
	data []byte
}

// NewRAM reserves size bytes of anonymous host memory as backing storage,
// addressed starting at 0 to line up with the PageAllocator's base.
func NewRAM(size uint64) *RAM {
	mem, err := newAnonymousMapping(size)
	if err != nil {
		// A failed anonymous mapping at boot is unrecoverable the same way
		// a real board finding no physical DRAM would be; there is no
		// degraded mode to fall back to.
		panic(err)
	}
	return &RAM{data: mem}
}

// Close releases the backing mapping. The boot harness does not normally
// call this (the kernel lives for the process's lifetime), but tests that
// construct many short-lived RAM instances should, to avoid exhausting
// host address space.
func (r *RAM) Close() error {
	err := releaseMapping(r.data)
	r.data = nil
	return err
}

func (r *RAM) bounds(addr PhysAddr, n int) error {
	if uint64(addr)+uint64(n) > uint64(len(r.data)) {
		return fmt.Errorf("kmem: RAM access [%#x, %#x) out of bounds (size %#x)", addr, uint64(addr)+uint64(n), len(r.data))
	}
	return nil
}

// ReadAt copies len(buf) bytes starting at addr into buf.
func (r *RAM) ReadAt(addr PhysAddr, buf []byte) error {
	if err := r.bounds(addr, len(buf)); err != nil {
		return err
	}
	copy(buf, r.data[addr:])
	return nil
}

// WriteAt copies buf into RAM starting at addr.
func (r *RAM) WriteAt(addr PhysAddr, buf []byte) error {
	if err := r.bounds(addr, len(buf)); err != nil {
		return err
	}
	copy(r.data[addr:], buf)
	return nil
}

// Size reports the total addressable RAM size in bytes.
func (r *RAM) Size() uint64 { return uint64(len(r.data)) }

// Slice returns a live view of n bytes starting at addr: writes through the
// returned slice are writes to RAM, and vice versa. Used to back a
// process's user-stack push operations (internal/kctx.Context) directly by
// the physical frame mapped at that virtual range, instead of copying
// through ReadAt/WriteAt for every push.
func (r *RAM) Slice(addr PhysAddr, n int) ([]byte, error) {
	if err := r.bounds(addr, n); err != nil {
		return nil, err
	}
	return r.data[addr : uint64(addr)+uint64(n)], nil
}
