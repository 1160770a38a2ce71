// Package kctx implements the per-process register context: the saved
// general-purpose/floating-point register bank, program counter, stack
// pointer, and the helpers used to build a fresh user stack before a
// process's first run.
//
// Grounded on original_source's src/sched/context.h and
// src/sched/aarch64/context.cpp.
package kctx

import "encoding/binary"

const (
	numGPRegs = 31
	numFPRegs = 64
)

// Context is one process's saved execution state. It is swapped in and out
// of the real registers by the scheduler; nothing in this package touches
// hardware registers directly; it is the Go-side bookkeeping original_source
// keeps around the load_context/save_context asm stubs (not reproduced here
// per spec — see the kernel's trap package for the dispatch loop those
// stubs feed into).
type Context struct {
	fpRegs [numFPRegs]uint64
	gpRegs [numGPRegs]uint64

	sp     uint64
	pc     uint64
	pstate uint64
	fpcr   uint64
	fpsr   uint64

	kernelStack uint64

	// stack is the backing memory for the user stack this context points
	// into, so PushLong/PushString can write through sp without a page
	// table walk. stackBase is the virtual address stack[0] corresponds to.
	stack     []byte
	stackBase uint64
}

// New builds a zeroed context with the conventional gpRegs[i]=i seed
// original_source's default constructor uses (a recognizable "freshly
// reset" register bank, useful in tests and core dumps alike).
func New() *Context {
	c := &Context{}
	for i := range c.gpRegs {
		c.gpRegs[i] = uint64(i)
	}
	return c
}

// NewWithStack builds a context whose stack pointer starts at the top of
// the given backing memory, addressed starting at stackBase.
func NewWithStack(pc uint64, stack []byte, stackBase uint64) *Context {
	c := New()
	c.pc = pc
	c.stack = stack
	c.stackBase = stackBase
	c.sp = stackBase + uint64(len(stack))
	return c
}

// FunctionCall points the context at func_ptr with a return address and a
// single argument in the first GP register, used by Clone to start a new
// kernel thread at its entry function (spec §3 "Clone").
func (c *Context) FunctionCall(funcPtr, returnLoc, arg uint64) {
	c.pc = funcPtr
	c.gpRegs[30] = returnLoc
	c.gpRegs[0] = arg
}

func (c *Context) ProgramCounter() uint64     { return c.pc }
func (c *Context) SetProgramCounter(pc uint64) { c.pc = pc }

func (c *Context) StackPointer() uint64      { return c.sp }
func (c *Context) SetStackPointer(sp uint64) { c.sp = sp }

func (c *Context) KernelStack() uint64      { return c.kernelStack }
func (c *Context) SetKernelStack(sp uint64) { c.kernelStack = sp }

// SetProcessArgs loads argc/argv/envp into the first three argument
// registers, the calling convention a freshly exec'd process's entry point
// expects (original_source's setProcessArgs).
func (c *Context) SetProcessArgs(argc, argv, envp uint64) {
	c.gpRegs[0] = argc
	c.gpRegs[1] = argv
	c.gpRegs[2] = envp
}

// SetReturnValue loads a syscall's result into the register the userspace
// ABI reads it back from.
func (c *Context) SetReturnValue(v uint64) { c.gpRegs[0] = v }

// ReturnValue reads back the value SetReturnValue last stored (used by
// syscall dispatch to report results without re-deriving the ABI register).
func (c *Context) ReturnValue() uint64 { return c.gpRegs[0] }

func (c *Context) GPReg(i int) uint64      { return c.gpRegs[i] }
func (c *Context) SetGPReg(i int, v uint64) { c.gpRegs[i] = v }

func (c *Context) offset(addr uint64) uint64 { return addr - c.stackBase }

// PushLong decrements the stack pointer by 8 bytes and writes v there,
// mirroring original_source's pushLong (`*--sp = v`).
func (c *Context) PushLong(v uint64) {
	c.sp -= 8
	binary.LittleEndian.PutUint64(c.stack[c.offset(c.sp):], v)
}

// PushString copies str (NUL-terminated) onto the stack at a 16-byte
// aligned address below the current stack pointer and returns that
// address, the way original_source's pushString does (`len += 15; len -=
// len % 16`).
func (c *Context) PushString(str string) uint64 {
	n := len(str) + 1
	n = (n + 15) &^ 15
	c.sp -= uint64(n)
	off := c.offset(c.sp)
	copy(c.stack[off:], str)
	c.stack[off+uint64(len(str))] = 0
	return c.sp
}

// Bytes exposes the backing stack memory, for assembling argv/envp pointer
// arrays once every string has been pushed.
func (c *Context) Bytes() []byte { return c.stack }

// Base returns the virtual address the backing stack memory starts at.
func (c *Context) Base() uint64 { return c.stackBase }
