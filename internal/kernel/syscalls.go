package kernel

import (
	"context"
	"encoding/binary"

	"github.com/ngiddings-clone/arm64kernel/internal/fsio"
	"github.com/ngiddings-clone/arm64kernel/internal/kctx"
	"github.com/ngiddings-clone/arm64kernel/internal/kerr"
	"github.com/ngiddings-clone/arm64kernel/internal/proc"
	"github.com/ngiddings-clone/arm64kernel/internal/trap"
	"github.com/ngiddings-clone/arm64kernel/internal/vmm"
)

// Syscall numbers, in the order original_source's syscall_table lists them
// (include/types/syscallid.h).
const (
	SysPrintk     = 0
	SysMmap       = 1
	SysMunmap     = 2
	SysClone      = 3
	SysTerminate  = 4
	SysExec       = 5
	SysYield      = 6
	SysSigraise   = 7
	SysSigret     = 8
	SysSigwait    = 9
	SysSigaction  = 10
	SysOpen       = 11
	SysClose      = 12
	SysCreate     = 13
	SysUnlink     = 14
	SysRead       = 15
	SysWrite      = 16
	SysFddup      = 17
	SysCreatePipe = 18
)

const (
	maxPathLen   = 256
	maxPrintkLen = 4096
)

// registerSyscalls installs every handler against the trap core, mirroring
// original_source's syscall_table (kernel.cpp). Each handler here is the Go
// counterpart of one kernel::syscall_* function; the ABI is six argument
// registers in and a single (value, kerr.Code) result out, in place of the
// original's void-returning functions that poke setCallerReturn themselves.
func (k *Kernel) registerSyscalls() {
	k.trap.RegisterSyscall(SysPrintk, k.sysPrintk)
	k.trap.RegisterSyscall(SysMmap, k.sysMmap)
	k.trap.RegisterSyscall(SysMunmap, k.sysMunmap)
	k.trap.RegisterSyscall(SysClone, k.sysClone)
	k.trap.RegisterSyscall(SysTerminate, k.sysTerminate)
	k.trap.RegisterSyscall(SysExec, k.sysExec)
	k.trap.RegisterSyscall(SysYield, k.sysYield)
	k.trap.RegisterSyscall(SysSigraise, k.sysSigraise)
	k.trap.RegisterSyscall(SysSigret, k.sysSigret)
	k.trap.RegisterSyscall(SysSigwait, k.sysSigwait)
	k.trap.RegisterSyscall(SysSigaction, k.sysSigaction)
	k.trap.RegisterSyscall(SysOpen, k.sysOpen)
	k.trap.RegisterSyscall(SysClose, k.sysClose)
	k.trap.RegisterSyscall(SysCreate, k.sysCreate)
	k.trap.RegisterSyscall(SysUnlink, k.sysUnlink)
	k.trap.RegisterSyscall(SysRead, k.sysRead)
	k.trap.RegisterSyscall(SysWrite, k.sysWrite)
	k.trap.RegisterSyscall(SysFddup, k.sysFddup)
	k.trap.RegisterSyscall(SysCreatePipe, k.sysCreatePipe)
}

// HandleSyscall is what a trap-vector stub (or, hosted, the boot harness's
// step loop) calls once it has decoded a syscall trap: it dispatches
// through the registered table and loads the combined result into p's
// return register, exactly as original_source's do_syscall plus each
// handler's own setCallerReturn call did together. The returned
// trap.ExitReason (always ExitSyscall) lets a caller driving a mixed
// syscall/IRQ step loop log a single uniform classification instead of
// assuming what kind of trap just ran.
func (k *Kernel) HandleSyscall(ctx context.Context, p *proc.Process, id int, args [6]uint64) trap.ExitReason {
	v, code := k.trap.DispatchSyscall(ctx, p, trap.SyscallEvent{ID: id, Args: args})
	if code != kerr.ENONE {
		p.Context().SetReturnValue(uint64(int64(code)))
		return trap.ExitSyscall
	}
	if id == SysExec {
		// original_source's syscall_exec only calls setCallerReturn on
		// failure: a successful exec has already loaded argc/argv/envp
		// into these same registers for the new program's entry point,
		// and there is no caller left to report a return value to.
		return trap.ExitSyscall
	}
	p.Context().SetReturnValue(v)
	return trap.ExitSyscall
}

func (k *Kernel) sysPrintk(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	str, code := k.userReadCString(p, args[0], maxPrintkLen)
	if code != kerr.ENONE {
		return 0, code
	}
	if w := p.Files().Get(1); w != nil {
		w.Write([]byte(str))
	}
	k.log.Debug("printk", "pid", p.Pid(), "msg", str)
	return 0, kerr.ENONE
}

// sysMmap reserves a frame and maps it at the caller-chosen virtual
// address (original_source's syscall_mmap: the process picks ptr, the
// kernel only supplies the backing frame).
func (k *Kernel) sysMmap(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	virt, size, flags := args[0], args[1], args[2]
	frame, err := k.alloc.Reserve(size)
	if err != nil {
		return 0, kerr.ENOMEM
	}
	if err := k.vm.MapRegion(p.AddressSpace(), virt, size, frame, kerr.PageFlags(flags)|kerr.PAGE_USER); err != nil {
		k.alloc.Free(frame)
		return 0, kerr.EINVAL
	}
	return 0, kerr.ENONE
}

func (k *Kernel) sysMunmap(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	if err := k.vm.UnmapRegion(p.AddressSpace(), args[0], args[1]); err != nil {
		return 0, kerr.EINVAL
	}
	return 0, kerr.ENONE
}

// sysClone starts a new process sharing the caller's address space, running
// entry (args[0]) on the caller-supplied user stack top (args[1]) with
// userdata (args[2]) in its first argument register (original_source's
// syscall_clone).
func (k *Kernel) sysClone(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	entry, userStackTop, userdata := args[0], args[1], args[2]

	// Back the child's push-stack with the real page the parent already
	// mapped at its chosen stack top, the same way Boot/Exec back a
	// fresh context with the frame they just mapped -- a context whose
	// stack field aliases Go heap memory unrelated to the address space
	// would silently diverge from what userRead/userWrite later see.
	pageBase := (userStackTop - 1) &^ uint64(vmm.PageSize-1)
	frame, ok := k.vm.GetPageFrame(p.AddressSpace(), pageBase)
	if !ok {
		return 0, kerr.EINVAL
	}
	stackBytes, err := k.ram.Slice(frame, vmm.PageSize)
	if err != nil {
		return 0, kerr.EINVAL
	}

	childPid := proc.NextPid()
	childCtx := kctx.NewWithStack(0, stackBytes, pageBase)
	childCtx.SetStackPointer(userStackTop)
	childCtx.SetKernelStack(uint64(kernelStackSize))

	child := p.Clone(childPid, childCtx, entry, userdata)
	k.AddProcess(child)
	// original_source's syscall_clone discards the child's pid here too;
	// a caller that wants it reads it back out of userdata or a shared
	// mapping it arranged itself.
	return 0, kerr.ENONE
}

func (k *Kernel) sysTerminate(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	k.RaiseSignal(p.Parent(), kerr.SigChild)
	k.deleteActiveProcess()
	k.SwitchTask()
	return 0, kerr.ENONE
}

// sysExec reads path/argv/envp out of user memory and hands them to
// Kernel.Exec. In place of original_source's ELF loader (spec's loader
// non-goal), the entry point is read as the first eight bytes of the named
// file, little-endian -- a stand-in image format good enough to exercise
// exec's address-space teardown/rebuild without an ELF parser.
func (k *Kernel) sysExec(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	path, code := k.userReadCString(p, args[0], maxPathLen)
	if code != kerr.ENONE {
		return 0, code
	}
	argv, code := k.userReadStringArray(p, args[1], maxPathLen)
	if code != kerr.ENONE {
		return 0, code
	}
	envp, code := k.userReadStringArray(p, args[2], maxPathLen)
	if code != kerr.ENONE {
		return 0, code
	}

	fc, code := k.ramfs.Open(path)
	if code != kerr.ENONE {
		return 0, code
	}
	defer fc.Close()
	header := make([]byte, 8)
	n, code := fc.Read(header)
	if code != kerr.ENONE && code != kerr.EEOF {
		return 0, code
	}
	if n < 8 {
		return 0, kerr.EINVAL
	}
	entry := binary.LittleEndian.Uint64(header)

	return 0, k.Exec(p, entry, argv, envp)
}

func (k *Kernel) sysYield(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	k.SwitchTask()
	return 0, kerr.ENONE
}

func (k *Kernel) sysSigraise(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	status := k.RaiseSignal(proc.Pid(int32(args[0])), int(args[1]))
	if status < 0 {
		return 0, kerr.EUNKNOWN
	}
	return 0, kerr.ENONE
}

func (k *Kernel) sysSigret(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	p.SignalReturn()
	return 0, kerr.ENONE
}

func (k *Kernel) sysSigwait(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	p.SetState(proc.StateSigwait)
	k.sleepActiveProcess()
	k.SwitchTask()
	return 0, kerr.ENONE
}

func (k *Kernel) sysSigaction(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	if err := p.SetSignalAction(int(args[0]), args[1], args[2], args[3]); err != nil {
		return 0, kerr.EINVAL
	}
	return 0, kerr.ENONE
}

func (k *Kernel) sysOpen(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	path, code := k.userReadCString(p, args[0], maxPathLen)
	if code != kerr.ENONE {
		return 0, code
	}
	fc, code := k.ramfs.Open(path)
	if code != kerr.ENONE {
		return 0, code
	}
	fd := p.Files().StoreAuto(fc)
	return uint64(fd), kerr.ENONE
}

func (k *Kernel) sysClose(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	return 0, p.Files().Close(int(args[0]))
}

func (k *Kernel) sysCreate(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	return 0, kerr.ENOSYS
}

func (k *Kernel) sysUnlink(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	return 0, kerr.ENOSYS
}

func (k *Kernel) sysRead(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	fd, bufPtr, size := int(args[0]), args[1], args[2]
	fc := p.Files().Get(fd)
	if fc == nil {
		return 0, kerr.ENOFILE
	}
	buf := make([]byte, size)
	n, code := fc.Read(buf)
	if code != kerr.ENONE {
		return 0, code
	}
	if code := k.userWrite(p, bufPtr, buf[:n]); code != kerr.ENONE {
		return 0, code
	}
	return uint64(n), kerr.ENONE
}

func (k *Kernel) sysWrite(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	fd, bufPtr, size := int(args[0]), args[1], args[2]
	fc := p.Files().Get(fd)
	if fc == nil {
		k.log.Warn("write on closed fd", "pid", p.Pid(), "fd", fd)
		return 0, kerr.ENOFILE
	}
	buf, code := k.userRead(p, bufPtr, int(size))
	if code != kerr.ENONE {
		return 0, code
	}
	n, code := fc.Write(buf)
	if code != kerr.ENONE {
		return 0, code
	}
	return uint64(n), kerr.ENONE
}

func (k *Kernel) sysFddup(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	oldfd, newfd := int(args[0]), int(args[1])
	fc := p.Files().Get(oldfd)
	if fc == nil {
		return 0, kerr.ENOFILE
	}
	if p.Files().Get(newfd) != nil {
		if code := p.Files().Close(newfd); code != kerr.ENONE {
			return 0, kerr.EUNKNOWN
		}
	}
	if code := p.Files().StoreAt(newfd, fc.Copy()); code != kerr.ENONE {
		return 0, kerr.EUNKNOWN
	}
	return 0, kerr.ENONE
}

func (k *Kernel) sysCreatePipe(ctx context.Context, p *proc.Process, args [6]uint64) (uint64, kerr.Code) {
	pipe := fsio.NewPipe()
	reader := pipe.CreateReader()
	writer := pipe.CreateWriter()
	fd0 := p.Files().StoreAuto(reader)
	fd1 := p.Files().StoreAuto(writer)

	out := make([]byte, 8)
	binary.LittleEndian.PutUint32(out[0:4], uint32(fd0))
	binary.LittleEndian.PutUint32(out[4:8], uint32(fd1))
	if code := k.userWrite(p, args[0], out); code != kerr.ENONE {
		return 0, code
	}
	return 0, kerr.ENONE
}
