package kmem

import (
	"encoding/binary"
	"errors"
)

// header/footer overhead: 8-byte size+flag header, 8-byte size+flag footer.
const heapOverhead = 16

// ErrHeapExhausted is returned by Alloc when the heap cannot satisfy a
// request and has no GrowFunc to expand into.
var ErrHeapExhausted = errors.New("kmem: heap exhausted")

// GrowFunc supplies additional backing bytes when the heap's free pool runs
// out; a kernel wires this to the page allocator (spec §4.3: "the heap is
// allowed to grow by mapping additional pages via the allocator").
type GrowFunc func(minBytes uint64) ([]byte, error)

// Heap is a classical first-fit free-list allocator over a contiguous byte
// region, in the style of original_source's rmalloc/rfree/realloc: each
// block carries a size+in-use header and a matching footer, so rfree can
// coalesce with either neighbor without a separate index.
//
// Not safe for concurrent use — the kernel heap is only ever touched from
// kernel context (spec §5).
type Heap struct {
	mem  []byte
	grow GrowFunc
}

// NewHeap creates a heap over `mem`, initially one large free block.
func NewHeap(mem []byte, grow GrowFunc) *Heap {
	h := &Heap{mem: mem, grow: grow}
	h.formatFreeBlock(0, uint64(len(mem)))
	return h
}

func (h *Heap) formatFreeBlock(off, size uint64) {
	h.putHeader(off, size, false)
	h.putFooter(off, size, false)
}

func (h *Heap) putHeader(off, size uint64, inUse bool) {
	binary.LittleEndian.PutUint64(h.mem[off:], encodeTag(size, inUse))
}

func (h *Heap) putFooter(off, size uint64, inUse bool) {
	binary.LittleEndian.PutUint64(h.mem[off+size-8:], encodeTag(size, inUse))
}

func encodeTag(size uint64, inUse bool) uint64 {
	v := size &^ 1
	if inUse {
		v |= 1
	}
	return v
}

func decodeTag(v uint64) (size uint64, inUse bool) {
	return v &^ 1, v&1 != 0
}

func (h *Heap) header(off uint64) (size uint64, inUse bool) {
	return decodeTag(binary.LittleEndian.Uint64(h.mem[off:]))
}

func (h *Heap) footer(off, size uint64) (fsize uint64, inUse bool) {
	return decodeTag(binary.LittleEndian.Uint64(h.mem[off+size-8:]))
}

// Alloc reserves at least `size` usable bytes and returns the byte offset
// of the first usable byte (analogous to rmalloc's returned pointer).
func (h *Heap) Alloc(size uint64) (uint64, error) {
	need := align8(size) + heapOverhead
	off, ok := h.findFit(need)
	if !ok {
		if h.grow == nil {
			return 0, ErrHeapExhausted
		}
		extra, err := h.grow(need)
		if err != nil {
			return 0, err
		}
		base := uint64(len(h.mem))
		h.mem = append(h.mem, extra...)
		h.formatFreeBlock(base, uint64(len(extra)))
		h.coalesce(base)
		off, ok = h.findFit(need)
		if !ok {
			return 0, ErrHeapExhausted
		}
	}

	blockSize, _ := h.header(off)
	if blockSize >= need+heapOverhead {
		h.split(off, need)
		blockSize = need
	}
	h.putHeader(off, blockSize, true)
	h.putFooter(off, blockSize, true)
	return off + 8, nil
}

func align8(v uint64) uint64 { return (v + 7) &^ 7 }

func (h *Heap) findFit(need uint64) (uint64, bool) {
	off := uint64(0)
	for off < uint64(len(h.mem)) {
		size, inUse := h.header(off)
		if !inUse && size >= need {
			return off, true
		}
		off += size
	}
	return 0, false
}

func (h *Heap) split(off, firstSize uint64) {
	size, _ := h.header(off)
	remainder := size - firstSize
	h.formatFreeBlock(off, firstSize)
	h.formatFreeBlock(off+firstSize, remainder)
}

// Free releases the block previously returned by Alloc and coalesces with
// both free neighbors.
func (h *Heap) Free(ptr uint64) {
	off := ptr - 8
	size, _ := h.header(off)
	h.formatFreeBlock(off, size)
	h.coalesce(off)
}

// coalesce merges the block at off with its free predecessor and successor.
func (h *Heap) coalesce(off uint64) {
	size, _ := h.header(off)

	if off+size < uint64(len(h.mem)) {
		nextSize, nextInUse := h.header(off + size)
		if !nextInUse {
			size += nextSize
			h.formatFreeBlock(off, size)
		}
	}

	if off >= 8 {
		prevFooterOff := off - 8
		prevSize, prevInUse := decodeTag(binary.LittleEndian.Uint64(h.mem[prevFooterOff:]))
		if !prevInUse {
			prevOff := off - prevSize
			h.formatFreeBlock(prevOff, prevSize+size)
		}
	}
}

// Realloc shrinks in place or allocates+copies, mirroring original_source's
// realloc contract.
func (h *Heap) Realloc(ptr uint64, newSize uint64) (uint64, error) {
	if ptr == 0 {
		return h.Alloc(newSize)
	}
	off := ptr - 8
	size, _ := h.header(off)
	usable := size - heapOverhead
	need := align8(newSize) + heapOverhead

	if need <= size {
		if size >= need+heapOverhead {
			h.split(off, need)
			h.putHeader(off, need, true)
			h.putFooter(off, need, true)
		}
		return ptr, nil
	}

	newPtr, err := h.Alloc(newSize)
	if err != nil {
		return 0, err
	}
	copy(h.mem[newPtr:newPtr+usable], h.mem[ptr:ptr+usable])
	h.Free(ptr)
	return newPtr, nil
}

// Bytes exposes the heap's backing storage for read/write of allocated
// payloads by offset.
func (h *Heap) Bytes() []byte { return h.mem }
