// Package trap implements interrupt and syscall dispatch: the kernel's
// exception-vector stub is the one piece of this system that is
// architecture-specific assembly and not elaborated here (spec §2's "The
// ELF loader ... its contract is described but not elaborated" applies
// equally to the vector table); this package is everything the vector stub
// calls into once it has saved the faulting context.
//
// Grounded on original_source's src/irq/interrupthandler.h/interrupts.cpp
// for the IRQ side, src/aarch64/irq/irq.cpp's find_irq_source for the
// pending-register decode, and include/types/syscallid.h for the syscall
// table shape. The dispatch-loop idiom follows tinyrange-cc's
// hv.VirtualCPU.Run(ctx) (context.Context, error) contract: DispatchSyscall
// is the sync-exception half a vector stub calls once it has decoded an SVC
// trap, and Step is the IRQ half, finding and running the highest-priority
// pending interrupt the way a real GIC poll would. Both report back a typed
// ExitReason a caller stepping through many traps can switch on uniformly;
// a translation fault is reported the same way via FaultEvent, but its
// repair lives in internal/kernel (vmm ownership), not here.
package trap

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/ngiddings-clone/arm64kernel/internal/kerr"
	"github.com/ngiddings-clone/arm64kernel/internal/proc"
)

// MaxIRQ bounds the interrupt source table; original_source's GIC exposes a
// 256-entry SPI/PPI space on Raspberry Pi 3 class hardware.
const MaxIRQ = 256

// NumSyscalls is the size of the syscall table (SYS_PRINTK..SYS_CREATE_PIPE
// in original_source's include/types/syscallid.h).
const NumSyscalls = 19

// ExitReason classifies why Core.Step returned control to its caller.
type ExitReason int

const (
	ExitSyscall ExitReason = iota
	ExitIRQ
	ExitTranslationFault
	ExitFatal
)

func (r ExitReason) String() string {
	switch r {
	case ExitSyscall:
		return "syscall"
	case ExitIRQ:
		return "irq"
	case ExitTranslationFault:
		return "translation-fault"
	case ExitFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// SyscallFunc handles one syscall number for the currently scheduled
// process. args holds up to six argument registers (x0-x5); the return
// value and kerr.Code are loaded back into x0 by the caller.
type SyscallFunc func(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code)

// IRQHandler services a hardware interrupt line. Late-bound the way
// chipset.PortIOHandler is in tinyrange-cc: a device registers itself
// against the IRQ numbers it owns, and nothing else in the kernel needs to
// know that device exists.
type IRQHandler interface {
	HandleIRQ(ctx context.Context, irq int) error
}

// FaultEvent describes a translation fault taken by the active process,
// handed from the vector stub to internal/kernel's HandleTranslationFault
// to repair or treat as fatal (Core has no table for faults; only kernel's
// vmm handle does).
type FaultEvent struct {
	Addr    uint64
	IsWrite bool
}

// PendingRegisters mirrors the three interrupt-controller pending-status
// words original_source's find_irq_source polls on real BCM2837 silicon:
// the bank-1 and bank-2 GPU-shared IRQ words (64 lines between them) and
// the ARM-local basic-bank word. Adapted to the hosted model: instead of
// memory-mapped registers a device reads, a device asserts its line by
// calling Core.RaiseIRQ, which sets the matching bit here.
type PendingRegisters struct {
	Bank1, Bank2, Basic uint32
}

// FindIRQSource returns the first pending interrupt line in priority order
// (the lowest-numbered set bit of the first non-empty bank), or -1 if none
// is pending. It polls in the same priority order as
// original_source's find_irq_source: bank-1 first (lines 0-31), then bank-2
// (lines 32-63, offset by 32), then the basic bank masked to its low 8 bits
// (original_source's `& 255`).
func (p PendingRegisters) FindIRQSource() int {
	if p.Bank1 != 0 {
		return bits.TrailingZeros32(p.Bank1)
	}
	if p.Bank2 != 0 {
		return 32 + bits.TrailingZeros32(p.Bank2)
	}
	if basic := p.Basic & 0xFF; basic != 0 {
		return bits.TrailingZeros32(basic)
	}
	return -1
}

// SyscallEvent describes a pending syscall trap.
type SyscallEvent struct {
	ID   int
	Args [6]uint64
}

// Core is the syscall/IRQ dispatch table plus the one-step trap loop that
// consults it. A real exception-vector stub would call DispatchSyscall or
// Step once per trap taken; the boot harness and tests call them directly
// with synthetic events.
type Core struct {
	syscalls [NumSyscalls]SyscallFunc
	irqs     [MaxIRQ]IRQHandler
	pending  PendingRegisters
}

// NewCore returns a Core with no syscalls or IRQ handlers registered.
func NewCore() *Core {
	return &Core{}
}

// RegisterSyscall installs fn as the handler for syscall number id,
// overwriting any previous registration.
func (c *Core) RegisterSyscall(id int, fn SyscallFunc) error {
	if id < 0 || id >= NumSyscalls {
		return fmt.Errorf("trap: syscall id %d out of range", id)
	}
	c.syscalls[id] = fn
	return nil
}

// RegisterIRQ installs handler as the owner of interrupt line irq.
func (c *Core) RegisterIRQ(irq int, handler IRQHandler) error {
	if irq < 0 || irq >= MaxIRQ {
		return fmt.Errorf("trap: irq %d out of range", irq)
	}
	c.irqs[irq] = handler
	return nil
}

// DispatchSyscall looks up and runs the handler for ev.ID against the
// currently scheduled process, returning the value to load into x0 and the
// error_t-style status the userspace ABI expects there instead.
func (c *Core) DispatchSyscall(ctx context.Context, p *proc.Process, ev SyscallEvent) (uint64, kerr.Code) {
	if ev.ID < 0 || ev.ID >= NumSyscalls || c.syscalls[ev.ID] == nil {
		return 0, kerr.ENOSYS
	}
	return c.syscalls[ev.ID](ctx, p, ev.Args)
}

// DispatchIRQ runs the handler registered for the given interrupt line, if
// any. An unregistered line is silently spurious, matching a GIC that
// raised a line nothing ever enabled.
func (c *Core) DispatchIRQ(ctx context.Context, irq int) error {
	if irq < 0 || irq >= MaxIRQ || c.irqs[irq] == nil {
		return nil
	}
	return c.irqs[irq].HandleIRQ(ctx, irq)
}

// RaiseIRQ marks irq pending in the bank its number falls in, the hosted
// stand-in for a device asserting its line on the real interrupt
// controller (original_source's devices read/write real MMIO registers;
// here there are none, so the device calls this directly).
func (c *Core) RaiseIRQ(irq int) {
	switch {
	case irq < 32:
		c.pending.Bank1 |= 1 << uint(irq)
	case irq < 64:
		c.pending.Bank2 |= 1 << uint(irq-32)
	default:
		c.pending.Basic |= 1 << uint(irq&0xFF)
	}
}

func (c *Core) clearPending(irq int) {
	switch {
	case irq < 32:
		c.pending.Bank1 &^= 1 << uint(irq)
	case irq < 64:
		c.pending.Bank2 &^= 1 << uint(irq-32)
	default:
		c.pending.Basic &^= 1 << uint(irq&0xFF)
	}
}

// Step is the IRQ half of the trap loop: it polls the pending registers via
// FindIRQSource the way original_source's handle_irq is handed the result
// of find_irq_source, clears the line, and dispatches it. A real vector
// stub calls this once per IRQ exception taken; the boot harness calls it
// directly in place of blocking on real hardware. Returns ExitIRQ with a
// nil error if nothing was pending (a spurious interrupt).
func (c *Core) Step(ctx context.Context) (ExitReason, error) {
	src := c.pending.FindIRQSource()
	if src < 0 {
		return ExitIRQ, nil
	}
	c.clearPending(src)
	return ExitIRQ, c.DispatchIRQ(ctx, src)
}
