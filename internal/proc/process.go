// Package proc implements the per-process model: process identity and
// state, the register context, the file-descriptor table, and signal
// dispatch with userspace trampolines.
//
// Grounded on original_source's src/sched/process.h/.cpp.
package proc

import (
	"fmt"

	"github.com/ngiddings-clone/arm64kernel/internal/fsio"
	"github.com/ngiddings-clone/arm64kernel/internal/kctx"
	"github.com/ngiddings-clone/arm64kernel/internal/kerr"
	"github.com/ngiddings-clone/arm64kernel/internal/vmm"
)

// Pid identifies a process. PID 1 is always the first process the kernel
// execs (spec supplement: original_source seeds its counter at 1 and
// reserves PID 1 for /bin/init).
type Pid int32

// State is the process's run state (spec §3's process model).
type State int

const (
	StateActive State = iota
	StateSignal
	StateSigwait
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateSignal:
		return "SIGNAL"
	case StateSigwait:
		return "SIGWAIT"
	default:
		return "UNKNOWN"
	}
}

var nextPidVal = Pid(1)

// NextPid returns the next monotonically increasing PID, starting at 1.
func NextPid() Pid {
	v := nextPidVal
	nextPidVal++
	return v
}

// Process is one schedulable unit: an identity, a register context, an
// address space, an fd table, and a signal-action table.
type Process struct {
	pid, parent Pid
	state       State

	ctx       *kctx.Context
	backupCtx *kctx.Context

	addressSpace *vmm.AddressSpace
	fds          FDTable
	signals      [kerr.MaxSignal]SignalAction
}

// New builds a process around an already-positioned context and an address
// space the process takes ownership of (the caller's one reference becomes
// this process's reference; New does not add another).
func New(pid, parent Pid, ctx *kctx.Context, as *vmm.AddressSpace) *Process {
	return &Process{
		pid:          pid,
		parent:       parent,
		state:        StateActive,
		ctx:          ctx,
		addressSpace: as,
		fds:          newFDTable(),
	}
}

func (p *Process) Pid() Pid                       { return p.pid }
func (p *Process) Parent() Pid                     { return p.parent }
func (p *Process) State() State                    { return p.state }
func (p *Process) SetState(s State)                { p.state = s }
func (p *Process) Context() *kctx.Context          { return p.ctx }
func (p *Process) AddressSpace() *vmm.AddressSpace { return p.addressSpace }
func (p *Process) Files() *FDTable                  { return &p.fds }

// Exec replaces the process's address space and entry context in place
// (spec §3 "Exec"): the old address space is unreferenced -- and destroyed
// if this was its last reference -- before the new one takes over.
func (p *Process) Exec(pc, sp, kernelStack uint64, as *vmm.AddressSpace) kerr.Code {
	if p.state != StateActive {
		return kerr.EINVAL
	}
	if p.addressSpace != nil {
		p.addressSpace.Unref()
	}
	p.addressSpace = as
	p.ctx.SetProgramCounter(pc)
	p.ctx.SetStackPointer(sp)
	p.ctx.SetKernelStack(kernelStack)
	return kerr.ENONE
}

// Clone builds a new process sharing this process's address space
// (refcount incremented, not copied) and a duplicate of every open file
// descriptor, entering at entry with userdata in its first argument
// register (spec §3 "Clone"). ctx is the child's already-built context;
// Clone sets only its entry registers and allocates no kernel stack, so the
// kernel-stack value is whatever the caller stored in ctx.
func (p *Process) Clone(childPid Pid, ctx *kctx.Context, entry, userdata uint64) *Process {
	ctx.FunctionCall(entry, 0, userdata)

	p.addressSpace.Ref()
	child := &Process{
		pid:          childPid,
		parent:       p.pid,
		state:        StateActive,
		ctx:          ctx,
		addressSpace: p.addressSpace,
		fds:          newFDTable(),
	}
	p.fds.Range(func(fd int, f fsio.FileContext) {
		child.fds.StoreAt(fd, f.Copy())
	})
	child.signals = p.signals
	return child
}

// SetSignalAction installs a userspace handler for signal sig, or clears it
// back to the default (no-op) action when handler is 0.
func (p *Process) SetSignalAction(sig int, handler, trampoline, userdata uint64) error {
	if sig < 0 || sig >= kerr.MaxSignal {
		return fmt.Errorf("proc: signal %d out of range", sig)
	}
	if handler == 0 {
		p.signals[sig] = SignalAction{}
		return nil
	}
	p.signals[sig] = SignalAction{Type: ActionHandler, Handler: handler, Trampoline: trampoline, Userdata: userdata}
	return nil
}

// SetKillAction marks sig as fatal: delivering it tears the process down
// immediately rather than dispatching to userspace (used for signals like
// SIGKILL that a process cannot install a handler for).
func (p *Process) SetKillAction(sig int) {
	if sig < 0 || sig >= kerr.MaxSignal {
		return
	}
	p.signals[sig] = SignalAction{Type: ActionKill}
}

// SignalTrigger delivers sig to the process: 0 if a handler was dispatched
// or the signal has no action (ignored), 1 if the caller must terminate the
// process (a KILL action),
// and -1 if the process is already inside a signal handler and cannot
// nest another (spec §3's signal dispatch).
func (p *Process) SignalTrigger(sig int) int {
	if sig < 0 || sig >= kerr.MaxSignal {
		return 0
	}
	action := p.signals[sig]
	switch action.Type {
	case ActionNone:
		return 0
	case ActionHandler:
		if p.state == StateSignal {
			return -1
		}
		backup := *p.ctx
		p.backupCtx = &backup
		p.ctx.FunctionCall(action.Handler, action.Trampoline, action.Userdata)
		p.state = StateSignal
		return 0
	case ActionKill:
		return 1
	}
	return 0
}

// SignalReturn restores the context saved by the last SignalTrigger,
// invoked when a signal handler returns via its trampoline (SYS_SIGRET).
func (p *Process) SignalReturn() {
	if p.state != StateSignal {
		return
	}
	*p.ctx = *p.backupCtx
	p.backupCtx = nil
	p.state = StateActive
}

// StoreProgramArgs builds argv and envp on the process's user stack and
// loads argc/argv/envp into the entry-point ABI registers (original_source's
// storeProgramArgs: strings pushed in reverse order, then NUL/zero-padded
// pointer arrays so the final stack pointer stays 16-byte aligned).
func (p *Process) StoreProgramArgs(argv, envp []string) {
	argc := len(argv)
	envc := len(envp)

	argPtrs := make([]uint64, argc)
	envPtrs := make([]uint64, envc+1)

	for i := argc - 1; i >= 0; i-- {
		argPtrs[i] = p.ctx.PushString(argv[i])
	}
	for i := envc - 1; i >= 0; i-- {
		envPtrs[i] = p.ctx.PushString(envp[i])
	}
	envPtrs[envc] = 0

	if argc%2 == 1 {
		p.ctx.PushLong(0)
	}
	for i := argc - 1; i >= 0; i-- {
		p.ctx.PushLong(argPtrs[i])
	}
	argArray := p.ctx.StackPointer()

	if (envc+1)%2 == 1 {
		p.ctx.PushLong(0)
	}
	for i := envc; i >= 0; i-- {
		p.ctx.PushLong(envPtrs[i])
	}
	envArray := p.ctx.StackPointer()

	p.ctx.SetProcessArgs(uint64(argc), argArray, envArray)
}
