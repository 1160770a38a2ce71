package kernel

import (
	"bytes"
	"encoding/binary"

	"github.com/ngiddings-clone/arm64kernel/internal/kerr"
	"github.com/ngiddings-clone/arm64kernel/internal/kmem"
	"github.com/ngiddings-clone/arm64kernel/internal/proc"
	"github.com/ngiddings-clone/arm64kernel/internal/vmm"
)

// maxPointerArray bounds how many entries userReadPointerArray will ever
// walk, guarding against a malformed argv/envp array with no NUL sentinel.
const maxPointerArray = 256

// userRead copies n bytes out of a process's mapped user memory starting at
// virt, walking one page at a time so a copy may span several mappings.
func (k *Kernel) userRead(p *proc.Process, virt uint64, n int) ([]byte, kerr.Code) {
	out := make([]byte, n)
	if err := k.copyUser(p, virt, out, false); err != kerr.ENONE {
		return nil, err
	}
	return out, kerr.ENONE
}

// userWrite copies data into a process's mapped user memory starting at
// virt.
func (k *Kernel) userWrite(p *proc.Process, virt uint64, data []byte) kerr.Code {
	return k.copyUser(p, virt, data, true)
}

func (k *Kernel) copyUser(p *proc.Process, virt uint64, buf []byte, toUser bool) kerr.Code {
	remaining := buf
	addr := virt
	for len(remaining) > 0 {
		frame, ok := k.vm.GetPageFrame(p.AddressSpace(), addr&^uint64(vmm.PageSize-1))
		if !ok {
			return kerr.EINVAL
		}
		pageOff := addr % vmm.PageSize
		n := vmm.PageSize - pageOff
		if uint64(len(remaining)) < n {
			n = uint64(len(remaining))
		}
		ramAddr := kmem.PhysAddr(uint64(frame) + pageOff)
		var err error
		if toUser {
			err = k.ram.WriteAt(ramAddr, remaining[:n])
		} else {
			err = k.ram.ReadAt(ramAddr, remaining[:n])
		}
		if err != nil {
			return kerr.EINVAL
		}
		remaining = remaining[n:]
		addr += n
	}
	return kerr.ENONE
}

// userReadCString reads a NUL-terminated string starting at virt, up to
// maxLen bytes. It walks one mapped page at a time rather than reading the
// full maxLen window in one copyUser call: a string that terminates well
// short of maxLen but sits near the end of its mapped region would
// otherwise have copyUser walk off the end of the mapping and fault on the
// unmapped page beyond it before the scan ever reached the NUL.
func (k *Kernel) userReadCString(p *proc.Process, virt uint64, maxLen int) (string, kerr.Code) {
	var out []byte
	addr := virt
	for len(out) < maxLen {
		pageOff := addr % vmm.PageSize
		n := vmm.PageSize - pageOff
		if remaining := uint64(maxLen - len(out)); n > remaining {
			n = remaining
		}
		chunk, code := k.userRead(p, addr, int(n))
		if code != kerr.ENONE {
			return "", code
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return string(append(out, chunk[:i]...)), kerr.ENONE
		}
		out = append(out, chunk...)
		addr += n
	}
	return string(out), kerr.ENONE
}

// userReadPointerArray reads a NULL-terminated array of pointers (an
// argv/envp vector) starting at virt, one 8-byte little-endian word at a
// time.
func (k *Kernel) userReadPointerArray(p *proc.Process, virt uint64) ([]uint64, kerr.Code) {
	var out []uint64
	addr := virt
	for i := 0; i < maxPointerArray; i++ {
		word, code := k.userRead(p, addr, 8)
		if code != kerr.ENONE {
			return nil, code
		}
		v := binary.LittleEndian.Uint64(word)
		if v == 0 {
			return out, kerr.ENONE
		}
		out = append(out, v)
		addr += 8
	}
	return out, kerr.ENONE
}

// userReadStringArray resolves a pointer array built by
// userReadPointerArray into the strings each entry points to (argv/envp
// contents, not just their addresses).
func (k *Kernel) userReadStringArray(p *proc.Process, virt uint64, maxLen int) ([]string, kerr.Code) {
	ptrs, code := k.userReadPointerArray(p, virt)
	if code != kerr.ENONE {
		return nil, code
	}
	out := make([]string, len(ptrs))
	for i, ptr := range ptrs {
		s, code := k.userReadCString(p, ptr, maxLen)
		if code != kerr.ENONE {
			return nil, code
		}
		out[i] = s
	}
	return out, kerr.ENONE
}
