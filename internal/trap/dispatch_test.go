package trap

import (
	"context"
	"testing"

	"github.com/ngiddings-clone/arm64kernel/internal/kctx"
	"github.com/ngiddings-clone/arm64kernel/internal/kerr"
	"github.com/ngiddings-clone/arm64kernel/internal/proc"
)

func newTestProcess() *proc.Process {
	ctx := kctx.NewWithStack(0, make([]byte, 64), 0x7000)
	return proc.New(1, 0, ctx, nil)
}

func TestDispatchSyscallCallsRegisteredHandler(t *testing.T) {
	c := NewCore()
	called := false
	c.RegisterSyscall(6, func(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
		called = true
		return args[0] * 2, kerr.ENONE
	})

	p := newTestProcess()
	v, code := c.DispatchSyscall(context.Background(), p, SyscallEvent{ID: 6, Args: [6]uint64{21}})
	if !called {
		t.Fatalf("registered syscall handler was not invoked")
	}
	if code != kerr.ENONE || v != 42 {
		t.Fatalf("DispatchSyscall = (%d, %v), want (42, ENONE)", v, code)
	}
}

func TestDispatchSyscallUnregisteredReturnsENOSYS(t *testing.T) {
	c := NewCore()
	p := newTestProcess()

	_, code := c.DispatchSyscall(context.Background(), p, SyscallEvent{ID: 0})
	if code != kerr.ENOSYS {
		t.Fatalf("DispatchSyscall on unregistered id: code = %v, want ENOSYS", code)
	}
}

func TestRegisterSyscallRejectsOutOfRangeID(t *testing.T) {
	c := NewCore()
	if err := c.RegisterSyscall(NumSyscalls, nil); err == nil {
		t.Fatalf("RegisterSyscall should reject an out-of-range id")
	}
}

type recordingIRQHandler struct {
	seen []int
}

func (h *recordingIRQHandler) HandleIRQ(ctx context.Context, irq int) error {
	h.seen = append(h.seen, irq)
	return nil
}

func TestDispatchIRQCallsRegisteredHandler(t *testing.T) {
	c := NewCore()
	h := &recordingIRQHandler{}
	c.RegisterIRQ(30, h)

	if err := c.DispatchIRQ(context.Background(), 30); err != nil {
		t.Fatalf("DispatchIRQ: %v", err)
	}
	if len(h.seen) != 1 || h.seen[0] != 30 {
		t.Fatalf("handler recorded %v, want [30]", h.seen)
	}
}

func TestDispatchIRQUnregisteredIsSpuriousNoop(t *testing.T) {
	c := NewCore()
	if err := c.DispatchIRQ(context.Background(), 5); err != nil {
		t.Fatalf("DispatchIRQ on an unregistered line should be a no-op, got %v", err)
	}
}

func TestFindIRQSourcePrioritizesBank1ThenBank2ThenBasic(t *testing.T) {
	cases := []struct {
		name string
		regs PendingRegisters
		want int
	}{
		{"none pending", PendingRegisters{}, -1},
		{"bank1 only", PendingRegisters{Bank1: 1 << 5}, 5},
		{"bank2 only", PendingRegisters{Bank2: 1 << 3}, 35},
		{"basic only", PendingRegisters{Basic: 1 << 2}, 2},
		{"basic high bits ignored", PendingRegisters{Basic: 1 << 9}, -1},
		{"bank1 wins over bank2 and basic", PendingRegisters{Bank1: 1 << 10, Bank2: 1 << 0, Basic: 1 << 0}, 10},
		{"bank2 wins over basic", PendingRegisters{Bank2: 1 << 7, Basic: 1 << 0}, 39},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.regs.FindIRQSource(); got != c.want {
				t.Fatalf("FindIRQSource() = %d, want %d", got, c.want)
			}
		})
	}
}

func TestRaiseIRQThenStepDispatchesAndClears(t *testing.T) {
	c := NewCore()
	h := &recordingIRQHandler{}
	c.RegisterIRQ(40, h)

	c.RaiseIRQ(40)
	reason, err := c.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if reason != ExitIRQ {
		t.Fatalf("Step reason = %v, want ExitIRQ", reason)
	}
	if len(h.seen) != 1 || h.seen[0] != 40 {
		t.Fatalf("handler recorded %v, want [40]", h.seen)
	}

	// The line should be cleared: a second Step with nothing newly raised
	// must not redeliver it.
	h.seen = nil
	if _, err := c.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(h.seen) != 0 {
		t.Fatalf("handler re-fired on an already-cleared line: %v", h.seen)
	}
}

func TestStepWithNothingPendingIsSpurious(t *testing.T) {
	c := NewCore()
	reason, err := c.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if reason != ExitIRQ {
		t.Fatalf("Step reason = %v, want ExitIRQ", reason)
	}
}

func TestRaiseIRQAcrossBanksAddressesCorrectBit(t *testing.T) {
	c := NewCore()
	h := &recordingIRQHandler{}
	c.RegisterIRQ(57, h)

	c.RaiseIRQ(57)
	if _, err := c.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(h.seen) != 1 || h.seen[0] != 57 {
		t.Fatalf("handler recorded %v, want [57]", h.seen)
	}
}
