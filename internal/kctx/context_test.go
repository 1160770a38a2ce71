package kctx

import (
	"encoding/binary"
	"testing"
)

func TestFunctionCallSetsEntryAndArg(t *testing.T) {
	c := New()
	c.FunctionCall(0x1000, 0x2000, 42)

	if c.ProgramCounter() != 0x1000 {
		t.Fatalf("ProgramCounter = %#x, want 0x1000", c.ProgramCounter())
	}
	if c.GPReg(30) != 0x2000 {
		t.Fatalf("return register = %#x, want 0x2000", c.GPReg(30))
	}
	if c.GPReg(0) != 42 {
		t.Fatalf("arg register = %d, want 42", c.GPReg(0))
	}
}

func TestPushLongIsLIFO(t *testing.T) {
	const base = 0x7FFF0000
	c := NewWithStack(0, make([]byte, 4096), base)
	top := c.StackPointer()

	c.PushLong(0xAAAA)
	c.PushLong(0xBBBB)

	if c.StackPointer() != top-16 {
		t.Fatalf("stack pointer = %#x, want %#x", c.StackPointer(), top-16)
	}
	off := c.StackPointer() - base
	if got := binary.LittleEndian.Uint64(c.Bytes()[off:]); got != 0xBBBB {
		t.Fatalf("word at stack pointer = %#x, want last pushed 0xBBBB", got)
	}
	if got := binary.LittleEndian.Uint64(c.Bytes()[off+8:]); got != 0xAAAA {
		t.Fatalf("word above stack pointer = %#x, want first pushed 0xAAAA", got)
	}
}

func TestPushStringAligns16AndRoundTrips(t *testing.T) {
	const base = 0x7FFF0000
	c := NewWithStack(0, make([]byte, 4096), base)

	addr := c.PushString("hello")
	if addr%16 != 0 {
		t.Fatalf("pushed string address %#x is not 16-byte aligned", addr)
	}
	off := addr - base
	got := string(c.Bytes()[off : off+5])
	if got != "hello" {
		t.Fatalf("round-tripped string = %q, want %q", got, "hello")
	}
	if c.Bytes()[off+5] != 0 {
		t.Fatalf("pushed string is not NUL-terminated")
	}
}

func TestSetProcessArgsLoadsABIRegisters(t *testing.T) {
	c := New()
	c.SetProcessArgs(2, 0x1000, 0x2000)

	if c.GPReg(0) != 2 || c.GPReg(1) != 0x1000 || c.GPReg(2) != 0x2000 {
		t.Fatalf("argc/argv/envp registers = %d/%#x/%#x, want 2/0x1000/0x2000",
			c.GPReg(0), c.GPReg(1), c.GPReg(2))
	}
}
