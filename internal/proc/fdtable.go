package proc

import (
	"github.com/ngiddings-clone/arm64kernel/internal/fsio"
	"github.com/ngiddings-clone/arm64kernel/internal/kerr"
)

// FDTable is a process's open-file table, grounded on original_source's
// Process::files (a binary_search_tree<int, FileContext*>) but implemented
// as a Go map, since nothing here needs the tree's ordering -- only
// presence, lookup, and the next-fd allocation storeFileContext(f)
// performs.
type FDTable struct {
	files map[int]fsio.FileContext
}

func newFDTable() FDTable {
	return FDTable{files: make(map[int]fsio.FileContext)}
}

// Get returns the FileContext at fd, or nil if fd is not open.
func (t *FDTable) Get(fd int) fsio.FileContext {
	return t.files[fd]
}

// StoreAuto installs f at the first unused descriptor at or above
// len(files) and returns it (original_source's single-argument
// storeFileContext, which simply used files.size() as the next fd). A free
// descriptor below len(files) left by an earlier Close is not reused.
func (t *FDTable) StoreAuto(f fsio.FileContext) int {
	fd := len(t.files)
	for {
		if _, taken := t.files[fd]; !taken {
			break
		}
		fd++
	}
	t.files[fd] = f
	return fd
}

// StoreAt installs f at the explicit descriptor fd, failing with EEXISTS if
// already occupied (original_source's two-argument storeFileContext
// overload).
func (t *FDTable) StoreAt(fd int, f fsio.FileContext) kerr.Code {
	if _, taken := t.files[fd]; taken {
		return kerr.EEXISTS
	}
	t.files[fd] = f
	return kerr.ENONE
}

// Close releases fd, closing the FileContext if this was its last
// reference (spec: closing an fd drops the refcount on the underlying
// stream).
func (t *FDTable) Close(fd int) kerr.Code {
	f, ok := t.files[fd]
	if !ok {
		return kerr.ENOFILE
	}
	delete(t.files, fd)
	f.Close()
	return kerr.ENONE
}

// CloseAll releases every open descriptor, used when a process is torn
// down.
func (t *FDTable) CloseAll() {
	for fd := range t.files {
		t.Close(fd)
	}
}

// Range iterates every (fd, FileContext) pair currently open, ordered by
// fd, for copying into a cloned process.
func (t *FDTable) Range(fn func(fd int, f fsio.FileContext)) {
	fds := make([]int, 0, len(t.files))
	for fd := range t.files {
		fds = append(fds, fd)
	}
	for i := 0; i < len(fds); i++ {
		for j := i + 1; j < len(fds); j++ {
			if fds[j] < fds[i] {
				fds[i], fds[j] = fds[j], fds[i]
			}
		}
	}
	for _, fd := range fds {
		fn(fd, t.files[fd])
	}
}
