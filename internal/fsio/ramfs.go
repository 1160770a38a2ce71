package fsio

import "github.com/ngiddings-clone/arm64kernel/internal/kerr"

// RamFS is an in-memory stand-in for the board's read-only file system
// (spec §1's "a read-only file system"; the real board boots off FAT32 --
// see original_source's src/fs/fat32 -- which this kernel core does not
// implement a driver for, per spec §2's non-goals). Files are preloaded by
// the boot harness and never change once the kernel is running.
type RamFS struct {
	files map[string][]byte
}

// NewRamFS builds an empty read-only file system.
func NewRamFS() *RamFS {
	return &RamFS{files: make(map[string][]byte)}
}

// Install registers the bytes of a file at path, overwriting any previous
// contents. Used by the boot harness to seed /bin/init and friends before
// the first process runs.
func (r *RamFS) Install(path string, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	r.files[path] = cp
}

// Exists reports whether path was installed, without opening it -- used by
// diagnostic consumers (the netdiag device's directory lookup) that only
// need presence, not content.
func (r *RamFS) Exists(path string) bool {
	_, ok := r.files[path]
	return ok
}

// Open returns a fresh, independently-positioned FileContext over path, or
// ENOFILE if no such file was installed.
func (r *RamFS) Open(path string) (FileContext, kerr.Code) {
	data, ok := r.files[path]
	if !ok {
		return nil, kerr.ENOFILE
	}
	return &ramFile{data: data}, kerr.ENONE
}

type ramFile struct {
	data []byte
	pos  int
}

func (f *ramFile) Read(buf []byte) (int, kerr.Code) {
	if f.pos >= len(f.data) {
		return 0, kerr.EEOF
	}
	n := copy(buf, f.data[f.pos:])
	f.pos += n
	return n, kerr.ENONE
}

func (f *ramFile) Write(buf []byte) (int, kerr.Code) { return 0, kerr.EIO }

// Copy reopens the same file at its current read position (original_source
// re-derives a fresh FileContextFAT32 per copy; since this file system is
// immutable, sharing the backing slice is safe and avoids a re-read).
func (f *ramFile) Copy() FileContext {
	return &ramFile{data: f.data, pos: f.pos}
}

func (f *ramFile) Close() {}

var _ FileContext = (*ramFile)(nil)
