package kernel

import (
	"context"
	"testing"

	"github.com/ngiddings-clone/arm64kernel/internal/kerr"
	"github.com/ngiddings-clone/arm64kernel/internal/vmm"
)

// TestUserReadCStringStopsBeforeUnmappedPage guards against reading the full
// maxLen window in one copyUser call: a string that terminates well inside
// maxLen but near the end of its one-page mapping must not have the scan
// walk into the unmapped page beyond it before the NUL is found.
func TestUserReadCStringStopsBeforeUnmappedPage(t *testing.T) {
	k, _ := newTestKernel(t)
	p, err := k.Boot(0, nil, nil)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	const virt = uint64(0x5000_0000)
	k.HandleSyscall(context.Background(), p, SysMmap, [6]uint64{virt, vmm.PageSize, uint64(kerr.PAGE_RW), 0, 0, 0})

	// Place "hi" six bytes before the end of the mapped page, well short of
	// a maxLen that would otherwise run past the page boundary.
	const msg = "hi"
	strAddr := virt + vmm.PageSize - 6
	if code := k.userWrite(p, strAddr, append([]byte(msg), 0)); code != kerr.ENONE {
		t.Fatalf("userWrite: %v", code)
	}

	got, code := k.userReadCString(p, strAddr, 256)
	if code != kerr.ENONE {
		t.Fatalf("userReadCString: %v, want ENONE", code)
	}
	if got != msg {
		t.Fatalf("userReadCString = %q, want %q", got, msg)
	}
}

// TestUserReadCStringFaultsOnUnterminatedUnmappedRegion confirms the page
// walk still reports EINVAL once it actually reaches an unmapped page with
// no NUL found yet, rather than silently truncating.
func TestUserReadCStringFaultsOnUnterminatedUnmappedRegion(t *testing.T) {
	k, _ := newTestKernel(t)
	p, err := k.Boot(0, nil, nil)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	const virt = uint64(0x5000_0000)
	k.HandleSyscall(context.Background(), p, SysMmap, [6]uint64{virt, vmm.PageSize, uint64(kerr.PAGE_RW), 0, 0, 0})

	fill := make([]byte, vmm.PageSize)
	for i := range fill {
		fill[i] = 'x'
	}
	if code := k.userWrite(p, virt, fill); code != kerr.ENONE {
		t.Fatalf("userWrite: %v", code)
	}

	if _, code := k.userReadCString(p, virt, vmm.PageSize+64); code != kerr.EINVAL {
		t.Fatalf("userReadCString code = %v, want EINVAL", code)
	}
}
