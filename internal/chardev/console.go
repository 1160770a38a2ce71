// Package chardev implements the UART-like character stream the kernel
// treats stdin/stdout/stderr as before any richer device driver exists: a
// byte stream over a real unix pipe pair, not an in-memory buffer dressed
// up as a device.
//
// Grounded on tinyrange-cc's internal/term console plumbing (a host-side
// byte stream multiplexed onto a guest's serial port) and golang.org/x/sys/
// unix's raw pipe/read/write primitives, used the same way
// internal/hv/kvm's ioctl-heavy tests use unix directly instead of
// wrapping os.Pipe.
package chardev

import (
	"context"
	"fmt"

	"github.com/ngiddings-clone/arm64kernel/internal/fsio"
	"github.com/ngiddings-clone/arm64kernel/internal/kerr"
	"github.com/ngiddings-clone/arm64kernel/internal/trap"
	"golang.org/x/sys/unix"
)

// Console is a pair of unix pipes standing in for a UART: one direction
// carries kernel-to-process output (stdout/stderr), the other
// process-to-kernel input (stdin). The host test harness drives the far
// end of each pipe directly with unix.Read/unix.Write.
type Console struct {
	stdinR, stdinW   int
	stdoutR, stdoutW int
}

// New opens both pipe pairs in non-blocking mode, so a FileContext.Read
// with nothing queued returns immediately instead of hanging a scheduling
// step.
func New() (*Console, error) {
	var in, out [2]int
	if err := unix.Pipe2(in[:], unix.O_NONBLOCK); err != nil {
		return nil, fmt.Errorf("chardev: open stdin pipe: %w", err)
	}
	if err := unix.Pipe2(out[:], unix.O_NONBLOCK); err != nil {
		unix.Close(in[0])
		unix.Close(in[1])
		return nil, fmt.Errorf("chardev: open stdout pipe: %w", err)
	}
	return &Console{stdinR: in[0], stdinW: in[1], stdoutR: out[0], stdoutW: out[1]}, nil
}

// OpenReader returns the FileContext a process reads stdin through
// (kernel.LogStream's reader end, installed at fd 0).
func (c *Console) OpenReader() fsio.FileContext {
	return &pipeEnd{fd: c.stdinR, readable: true}
}

// OpenWriter returns the FileContext a process writes stdout/stderr
// through (kernel.LogStream's writer end, installed at fds 1 and 2).
func (c *Console) OpenWriter() fsio.FileContext {
	return &pipeEnd{fd: c.stdoutW, writable: true}
}

// WriteInput feeds bytes to the stdin side, as if typed at the console.
func (c *Console) WriteInput(p []byte) (int, error) {
	return unix.Write(c.stdinW, p)
}

// ReadOutput drains whatever a process has written to stdout/stderr so
// far, for test assertions.
func (c *Console) ReadOutput(buf []byte) (int, error) {
	n, err := unix.Read(c.stdoutR, buf)
	if err == unix.EAGAIN {
		return 0, nil
	}
	return n, err
}

// HandleIRQ implements trap.IRQHandler for the UART's RX line
// (original_source's UART::handleInterrupt, which drains the hardware FIFO
// into a software ring buffer on every Receive/ReceiveTimeout interrupt).
// This hosted stand-in has no separate FIFO to drain: unix.Read already
// pulls bytes straight out of the nonblocking pipe on demand, the same
// buffer a process's sysRead eventually consumes from, so the handler does
// nothing and always returns nil.
func (c *Console) HandleIRQ(ctx context.Context, irq int) error {
	return nil
}

var _ trap.IRQHandler = (*Console)(nil)

// Close releases every pipe fd.
func (c *Console) Close() error {
	for _, fd := range []int{c.stdinR, c.stdinW, c.stdoutR, c.stdoutW} {
		unix.Close(fd)
	}
	return nil
}

// pipeEnd adapts one end of a unix pipe to fsio.FileContext. It is a
// device node, not a refcounted stream: Copy shares the same fd (every
// dup() of a console fd still reads/writes the one physical UART) and
// Close is a no-op, since the Console that owns the fds controls their
// lifetime.
type pipeEnd struct {
	fd                 int
	readable, writable bool
}

func (p *pipeEnd) Read(buf []byte) (int, kerr.Code) {
	if !p.readable {
		return 0, kerr.EIO
	}
	n, err := unix.Read(p.fd, buf)
	if err == unix.EAGAIN {
		return 0, kerr.ENONE
	}
	if err != nil {
		return 0, kerr.EIO
	}
	if n == 0 {
		return 0, kerr.EEOF
	}
	return n, kerr.ENONE
}

func (p *pipeEnd) Write(buf []byte) (int, kerr.Code) {
	if !p.writable {
		return 0, kerr.EIO
	}
	n, err := unix.Write(p.fd, buf)
	if err == unix.EAGAIN {
		return 0, kerr.EFULL
	}
	if err != nil {
		return 0, kerr.EIO
	}
	return n, kerr.ENONE
}

func (p *pipeEnd) Copy() fsio.FileContext {
	return &pipeEnd{fd: p.fd, readable: p.readable, writable: p.writable}
}

func (p *pipeEnd) Close() {}

var _ fsio.FileContext = (*pipeEnd)(nil)
