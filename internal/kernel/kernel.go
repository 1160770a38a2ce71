// Package kernel assembles the physical allocator, virtual memory, process
// table, scheduler, and trap dispatch into the bootable whole: the kernel
// façade original_source's src/kernel.cpp/kernel.h plays, minus the parts
// spec §2 explicitly declines to elaborate (the ELF loader, the exception
// vector assembly stubs).
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ngiddings-clone/arm64kernel/internal/devices/netdiag"
	"github.com/ngiddings-clone/arm64kernel/internal/fsio"
	"github.com/ngiddings-clone/arm64kernel/internal/kctx"
	"github.com/ngiddings-clone/arm64kernel/internal/kerr"
	"github.com/ngiddings-clone/arm64kernel/internal/kmem"
	"github.com/ngiddings-clone/arm64kernel/internal/proc"
	"github.com/ngiddings-clone/arm64kernel/internal/sched"
	"github.com/ngiddings-clone/arm64kernel/internal/trap"
	"github.com/ngiddings-clone/arm64kernel/internal/vmm"
)

const (
	kernelStackSize = 1 << 16 // 64 KiB, original_source's Process::clone stack size
	userStackSize   = 0x10000
	userStackTop    = 0x7FC0010000
	userEntryStack  = 0x7FC0000000
)

// KernelPanic is the sentinel a fatal kernel condition (an unrecoverable
// translation fault, out-of-memory during a demand-fill, a corrupt process
// table lookup) is raised with. It is caught only at the boot harness's top
// level, mirroring cmd/cc/main.go's errors.As(err, &exitErr) pattern in the
// teacher codebase: everything in between lets it propagate.
type KernelPanic struct {
	Reason string
}

func (p *KernelPanic) Error() string { return fmt.Sprintf("kernel panic: %s", p.Reason) }

// Panic logs a fatal condition at error level and panics with a *KernelPanic.
func (k *Kernel) Panic(reason string, args ...any) {
	k.log.Error(reason, args...)
	panic(&KernelPanic{Reason: reason})
}

// Kernel is the bootable façade: it owns every subsystem and is the single
// thing cmd/kerncore constructs.
type Kernel struct {
	log *slog.Logger

	alloc *kmem.PageAllocator
	heap  *kmem.Heap
	ram   *kmem.RAM
	vm    *vmm.VirtualMemory
	sched *sched.Scheduler
	trap  *trap.Core
	ramfs *fsio.RamFS
	diag  *netdiag.Device

	processes map[proc.Pid]*proc.Process
	nextAsid  uint16

	logWriter LogStream
}

// LogStream is the UART-like console the kernel and processes share for
// stdin/stdout/stderr before a richer character device is wired up (spec
// §1's board UART). cmd/kerncore supplies the real implementation from
// internal/chardev; tests use an in-memory stand-in.
type LogStream interface {
	OpenReader() fsio.FileContext
	OpenWriter() fsio.FileContext
}

// New constructs a kernel around a seeded physical memory map: the page
// allocator and heap come up, the run queue and trap table are built, every
// syscall is registered, and the timer and UART IRQ handlers are installed.
// No process exists until Boot is called.
func New(log *slog.Logger, memMap *kmem.MemoryMap, pageSize, blockCount uint64, console LogStream) *Kernel {
	if log == nil {
		log = slog.Default()
	}
	alloc := kmem.NewPageAllocator(memMap, 0, pageSize, int(blockCount))

	k := &Kernel{
		log:       log,
		alloc:     alloc,
		ram:       kmem.NewRAM(pageSize * blockCount),
		sched:     sched.New(),
		trap:      trap.NewCore(),
		ramfs:     fsio.NewRamFS(),
		processes: make(map[proc.Pid]*proc.Process),
		nextAsid:  1,
		logWriter: console,
	}

	k.heap = kmem.NewHeap(make([]byte, 1<<20), func(minBytes uint64) ([]byte, error) {
		grow := alignUp(minBytes, pageSize)
		frame, err := alloc.Reserve(grow)
		if err != nil {
			return nil, fmt.Errorf("kernel: grow heap: %w", err)
		}
		_ = frame
		return make([]byte, grow), nil
	})

	k.vm = vmm.NewVirtualMemory(log, nil)
	k.diag = netdiag.New(log, k.ramfs.Exists)
	k.registerSyscalls()
	k.installIRQHandlers(console)
	return k
}

// QueryDiag answers a diagnostic DNS-shaped directory lookup against the
// read-only file system (internal/devices/netdiag), independent of the
// fixed 19-entry syscall table.
func (k *Kernel) QueryDiag(query []byte) ([]byte, error) {
	return k.diag.Handle(query)
}

func alignUp(v, align uint64) uint64 { return (v + align - 1) &^ (align - 1) }

// InstallFile seeds the read-only file system with a file the boot harness
// loads before starting any process (e.g. /bin/init).
func (k *Kernel) InstallFile(path string, data []byte) {
	k.ramfs.Install(path, data)
}

// Boot creates PID 1, execs it to entry (standing in for the ELF loader's
// eventual output -- spec §2's loader contract is described but not
// elaborated, so Boot takes the entry point directly), and enqueues it to
// run.
func (k *Kernel) Boot(entry uint64, argv, envp []string) (*proc.Process, error) {
	as, err := vmm.NewAddressSpace(k.alloc, k.nextAsid)
	if err != nil {
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}
	k.nextAsid++

	frame, err := k.alloc.Reserve(userStackSize)
	if err != nil {
		return nil, fmt.Errorf("kernel: boot: reserve user stack: %w", err)
	}
	if err := k.vm.MapRegion(as, userEntryStack, userStackSize, frame, kerr.PAGE_RW|kerr.PAGE_USER); err != nil {
		return nil, fmt.Errorf("kernel: boot: map user stack: %w", err)
	}

	// The context's push-stack backing is a live view of the exact
	// physical frame just mapped at userEntryStack, so a string pushed
	// here by StoreProgramArgs is readable later through the same
	// virtual address by a syscall handler's userRead/userReadCString.
	stackBytes, err := k.ram.Slice(frame, userStackSize)
	if err != nil {
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}
	ctx := kctx.NewWithStack(entry, stackBytes, userEntryStack)
	ctx.SetKernelStack(uint64(kernelStackSize))

	pid := proc.NextPid()
	p := proc.New(pid, 0, ctx, as)
	p.StoreProgramArgs(argv, envp)

	k.installStandardStreams(p)
	k.AddProcess(p)
	return p, nil
}

func (k *Kernel) installStandardStreams(p *proc.Process) {
	if k.logWriter == nil {
		return
	}
	if p.Files().Get(0) == nil {
		p.Files().StoreAt(0, k.logWriter.OpenReader())
	}
	if p.Files().Get(1) == nil {
		p.Files().StoreAt(1, k.logWriter.OpenWriter())
	}
	if p.Files().Get(2) == nil {
		p.Files().StoreAt(2, k.logWriter.OpenWriter())
	}
}

// AddProcess registers p in the process table and, if runnable, enqueues it
// (original_source's Kernel::addProcess).
func (k *Kernel) AddProcess(p *proc.Process) {
	k.processes[p.Pid()] = p
	if p.State() == proc.StateActive {
		k.sched.Enqueue(p)
	}
}

// ActiveProcess returns the process currently scheduled to run, or nil if
// none is.
func (k *Kernel) ActiveProcess() *proc.Process { return k.sched.CurrentProcess() }

// Process looks up a process by pid, or nil if none is registered under it
// (a debug/test accessor; nothing in the syscall path needs direct table
// lookup by pid).
func (k *Kernel) Process(pid proc.Pid) *proc.Process { return k.processes[pid] }

// SwitchTask advances the scheduler and loads the new current process's
// address space (original_source's Kernel::switchTask).
func (k *Kernel) SwitchTask() {
	next := k.sched.SchedNext()
	if next == nil {
		k.Panic("no runnable process left")
	}
	k.vm.Load(next.AddressSpace())
}

// SetCallerReturn loads v into the active process's return-value register
// (original_source's Kernel::setCallerReturn).
func (k *Kernel) SetCallerReturn(v kerr.Code) {
	k.ActiveProcess().Context().SetReturnValue(uint64(int64(v)))
}

// sleepActiveProcess pulls the active process off the scheduler without
// re-enqueuing it, leaving it to be woken by a future RaiseSignal
// (original_source's Kernel::sleepActiveProcess, used by SYS_SIGWAIT).
func (k *Kernel) sleepActiveProcess() {
	k.sched.SetCurrentProcess(nil)
}

// deleteActiveProcess removes the active process from the process table and
// clears it as current (original_source's Kernel::deleteActiveProcess).
func (k *Kernel) deleteActiveProcess() {
	p := k.ActiveProcess()
	if p == nil {
		return
	}
	p.Files().CloseAll()
	if p.AddressSpace() != nil {
		p.AddressSpace().Unref()
	}
	delete(k.processes, p.Pid())
	k.sched.SetCurrentProcess(nil)
}

// RaiseSignal delivers signal to pid: -1 if pid doesn't exist or can't
// accept signals right now, 0 if delivered (or ignored), 1 if the signal
// killed the process (original_source's Kernel::raiseSignal).
func (k *Kernel) RaiseSignal(pid proc.Pid, signal int) int {
	p, ok := k.processes[pid]
	if !ok {
		k.log.Warn("raise signal on nonexistent process", "pid", pid, "signal", signal)
		return -1
	}
	if p.State() != proc.StateActive && p.State() != proc.StateSigwait {
		k.log.Warn("process cannot accept signal: invalid state", "pid", pid, "state", p.State())
		return -1
	}

	wasWaiting := p.State() == proc.StateSigwait
	status := p.SignalTrigger(signal)
	switch {
	case status > 0:
		k.log.Debug("killing process due to signal", "pid", pid, "signal", signal)
		if p.State() == proc.StateActive {
			k.sched.Remove(pid)
			if k.ActiveProcess() != nil && k.ActiveProcess().Pid() == pid {
				k.sched.SetCurrentProcess(nil)
				k.SwitchTask()
			}
		}
		p.Files().CloseAll()
		if p.AddressSpace() != nil {
			p.AddressSpace().Unref()
		}
		delete(k.processes, pid)
	case status == 0 && wasWaiting:
		// SignalTrigger already left p's state correct -- SIGNAL if a
		// handler fired, unchanged otherwise -- so this only re-enqueues it
		// to run. Setting it back to ACTIVE here would stomp the SIGNAL
		// state a fired handler just entered, leaving backupCtx non-nil
		// with state == ACTIVE and breaking the invariant SignalReturn's
		// state check relies on.
		k.sched.Enqueue(p)
	}
	return status
}

// Exec implements the exec syscall's kernel-side work: build a fresh
// address space, install the new entry point and stack, and hand argv/envp
// to the process (original_source's Kernel::exec, minus ELF parsing --
// entry is taken directly per spec §2's loader non-goal).
func (k *Kernel) Exec(p *proc.Process, entry uint64, argv, envp []string) kerr.Code {
	if p == nil || p.State() != proc.StateActive {
		return kerr.EINVAL
	}

	as, err := vmm.NewAddressSpace(k.alloc, k.nextAsid)
	if err != nil {
		return kerr.ENOMEM
	}
	k.nextAsid++

	frame, err := k.alloc.Reserve(userStackSize)
	if err != nil {
		as.Unref()
		return kerr.ENOMEM
	}
	if err := k.vm.MapRegion(as, userEntryStack, userStackSize, frame, kerr.PAGE_RW|kerr.PAGE_USER); err != nil {
		as.Unref()
		return kerr.ENOMEM
	}

	stackBytes, err := k.ram.Slice(frame, userStackSize)
	if err != nil {
		as.Unref()
		return kerr.ENOMEM
	}
	newCtx := kctx.NewWithStack(entry, stackBytes, userEntryStack)
	newCtx.SetKernelStack(uint64(kernelStackSize))

	// p.Exec validates state and swaps the address space; the register
	// bank itself is replaced wholesale right after since a fresh exec
	// gets a fresh stack and kernel stack, not an in-place patch of the
	// old ones.
	if code := p.Exec(entry, userStackTop, uint64(kernelStackSize), as); code != kerr.ENONE {
		return code
	}
	*p.Context() = *newCtx
	p.StoreProgramArgs(argv, envp)
	k.installStandardStreams(p)
	return kerr.ENONE
}

// HandleTranslationFault repairs or panics on a translation fault taken by
// the active process (bridges trap dispatch to vmm.VirtualMemory). ev is
// what a vector stub decodes out of the faulting exception syndrome before
// calling in, the same division of labor as original_source's handle_sync
// switching on ExceptionClass before calling handlePageFault.
func (k *Kernel) HandleTranslationFault(ctx context.Context, ev trap.FaultEvent) trap.ExitReason {
	p := k.ActiveProcess()
	if p == nil {
		k.Panic("translation fault with no active process", "addr", ev.Addr)
		return trap.ExitFatal
	}
	if err := k.vm.HandleTranslationFault(p.AddressSpace(), ev.Addr, ev.IsWrite); err != nil {
		if errors.Is(err, vmm.ErrFatalFault) {
			k.Panic("unrecoverable translation fault", "addr", fmt.Sprintf("%#x", ev.Addr), "write", ev.IsWrite, "pid", p.Pid())
			return trap.ExitFatal
		}
		k.Panic("translation fault repair failed", "error", err)
		return trap.ExitFatal
	}
	return trap.ExitTranslationFault
}

// timerIRQ and uartIRQ are the interrupt lines original_source's
// aarch64.cpp wires up at boot (Interrupts::insertHandler(0, &timer) and
// (57, &uart)): channel 0 of the BCM2837 system timer, and the PL011 UART's
// shared GPU interrupt line.
const (
	timerIRQ = 0
	uartIRQ  = 57
)

// timerIRQHandler adapts the preemption tick to trap.IRQHandler
// (original_source's SystemTimer::handleInterrupt, which resets its compare
// register then calls kernel.switchTask()). There is no live hardware
// compare register to reset here; RaiseTimerTick plays that part by
// re-raising the line each time the boot harness steps the trap loop.
type timerIRQHandler struct {
	k *Kernel
}

func (h timerIRQHandler) HandleIRQ(ctx context.Context, irq int) error {
	h.k.SwitchTask()
	return nil
}

// installIRQHandlers registers the two interrupt sources the boot contract
// requires (original_source's aarch64.cpp bring-up, spec §6): the system
// timer driving preemption, and the UART's RX line.
func (k *Kernel) installIRQHandlers(console LogStream) {
	k.trap.RegisterIRQ(timerIRQ, timerIRQHandler{k: k})
	if uart, ok := console.(trap.IRQHandler); ok {
		k.trap.RegisterIRQ(uartIRQ, uart)
	}
}

// RaiseTimerTick marks the system timer's line pending, the hosted
// stand-in for the BCM2837 compare-register firing on schedule.
func (k *Kernel) RaiseTimerTick() {
	k.trap.RaiseIRQ(timerIRQ)
}

// HandleIRQTick steps the IRQ half of the trap loop once: it finds and runs
// whatever line is highest priority among those currently pending (spec
// §4.6's bank-1/bank-2/basic poll order), or reports a spurious interrupt if
// nothing was pending.
func (k *Kernel) HandleIRQTick(ctx context.Context) (trap.ExitReason, error) {
	return k.trap.Step(ctx)
}
