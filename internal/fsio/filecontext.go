// Package fsio implements the file-descriptor-table contract the kernel
// exposes to processes: a common FileContext interface unifying pipes, the
// read-only file system, and any other byte stream, plus the pipe
// implementation itself.
//
// Grounded on original_source's src/fs/filecontext.h and src/fs/pipe.cpp.
package fsio

import "github.com/ngiddings-clone/arm64kernel/internal/kerr"

// FileContext is the per-descriptor object stored in a process's fd table.
// Every concrete stream -- a pipe endpoint, the UART, a file opened from the
// read-only file system -- implements it. Copy supports fork/clone sharing
// the same underlying stream (spec §3 "Clone ... copies every file
// descriptor (FileContext.copy() for each)").
type FileContext interface {
	Read(buf []byte) (int, kerr.Code)
	Write(buf []byte) (int, kerr.Code)
	Copy() FileContext
	Close()
}
