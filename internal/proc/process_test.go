package proc

import (
	"testing"

	"github.com/ngiddings-clone/arm64kernel/internal/fsio"
	"github.com/ngiddings-clone/arm64kernel/internal/kctx"
	"github.com/ngiddings-clone/arm64kernel/internal/kerr"
	"github.com/ngiddings-clone/arm64kernel/internal/kmem"
	"github.com/ngiddings-clone/arm64kernel/internal/vmm"
)

func newTestProcess(t *testing.T, pid Pid) (*Process, *kmem.PageAllocator) {
	t.Helper()
	var m kmem.MemoryMap
	m.Place(kmem.Available, 0, 16*1024*1024)
	alloc := kmem.NewPageAllocator(&m, 0, vmm.PageSize, 4096)

	as, err := vmm.NewAddressSpace(alloc, uint16(pid))
	if err != nil {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	ctx := kctx.NewWithStack(0x1000, make([]byte, 4096), 0x7FFF0000)
	return New(pid, 0, ctx, as), alloc
}

func TestNextPidIncrementsByOne(t *testing.T) {
	first := NextPid()
	second := NextPid()
	if second != first+1 {
		t.Fatalf("NextPid sequence = %d, %d; want consecutive", first, second)
	}
}

func TestCloneSharesAddressSpaceAndCopiesFDs(t *testing.T) {
	p, alloc := newTestProcess(t, 10)

	pipe := fsio.NewPipe()
	r := pipe.CreateReader()
	p.Files().StoreAt(3, r)

	childCtx := kctx.NewWithStack(0, make([]byte, 4096), 0x7FFE0000)
	child := p.Clone(11, childCtx, 0x2000, 0xCAFE)

	if child.Context().ProgramCounter() != 0x2000 {
		t.Fatalf("child entry pc = %#x, want 0x2000", child.Context().ProgramCounter())
	}
	if child.Context().GPReg(0) != 0xCAFE {
		t.Fatalf("child userdata register = %#x, want 0xCAFE", child.Context().GPReg(0))
	}
	if child.AddressSpace() != p.AddressSpace() {
		t.Fatalf("clone should share the parent's address space")
	}
	if child.Files().Get(3) == nil {
		t.Fatalf("clone should copy open file descriptors")
	}
	if pipe.ReaderCount() != 2 {
		t.Fatalf("pipe reader count after clone copy = %d, want 2", pipe.ReaderCount())
	}
	_ = alloc
}

func TestExecReplacesAddressSpaceAndEntry(t *testing.T) {
	p, alloc := newTestProcess(t, 20)
	old := p.AddressSpace()

	newAS, err := vmm.NewAddressSpace(alloc, 99)
	if err != nil {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	if code := p.Exec(0x5000, 0x7FFF0000, 0x8000, newAS); code != kerr.ENONE {
		t.Fatalf("Exec: code = %v, want ENONE", code)
	}
	if p.Context().ProgramCounter() != 0x5000 {
		t.Fatalf("pc after exec = %#x, want 0x5000", p.Context().ProgramCounter())
	}
	if p.AddressSpace() != newAS {
		t.Fatalf("exec should install the new address space")
	}
	_ = old
}

func TestSignalTriggerAndReturnRoundTrip(t *testing.T) {
	p, _ := newTestProcess(t, 30)
	p.SetSignalAction(17, 0x9000, 0x9100, 0)

	if rc := p.SignalTrigger(17); rc != 0 {
		t.Fatalf("SignalTrigger = %d, want 0", rc)
	}
	if p.State() != StateSignal {
		t.Fatalf("state after signal trigger = %v, want SIGNAL", p.State())
	}
	if p.Context().ProgramCounter() != 0x9000 {
		t.Fatalf("pc after signal trigger = %#x, want handler address", p.Context().ProgramCounter())
	}

	p.SignalReturn()
	if p.State() != StateActive {
		t.Fatalf("state after signal return = %v, want ACTIVE", p.State())
	}
}

func TestSignalTriggerRefusesNestedDelivery(t *testing.T) {
	p, _ := newTestProcess(t, 31)
	p.SetSignalAction(17, 0x9000, 0x9100, 0)
	p.SignalTrigger(17)

	if rc := p.SignalTrigger(17); rc != -1 {
		t.Fatalf("nested SignalTrigger = %d, want -1", rc)
	}
}

func TestSignalTriggerKillActionReportsTeardown(t *testing.T) {
	p, _ := newTestProcess(t, 32)
	p.SetKillAction(9)

	if rc := p.SignalTrigger(9); rc != 1 {
		t.Fatalf("SignalTrigger on KILL action = %d, want 1", rc)
	}
}

func TestStoreProgramArgsKeeps16ByteAlignment(t *testing.T) {
	p, _ := newTestProcess(t, 40)
	p.StoreProgramArgs([]string{"/bin/init"}, []string{"HOME=/"})

	if p.Context().StackPointer()%16 != 0 {
		t.Fatalf("stack pointer after StoreProgramArgs = %#x, not 16-byte aligned", p.Context().StackPointer())
	}
}
