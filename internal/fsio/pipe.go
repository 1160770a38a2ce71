package fsio

import "github.com/ngiddings-clone/arm64kernel/internal/kerr"

// pipeSize is the ring buffer's capacity (spec §3 "Pipe (4096-byte ring
// buffer)"), matching original_source's Pipe::PIPE_SIZE.
const pipeSize = 4096

// Pipe is an anonymous ring buffer shared by one or more PipeReader/
// PipeWriter FileContexts. It has no lock: the kernel never runs more than
// one execution context at a time, so every method here executes between
// scheduling points, not concurrently with itself.
type Pipe struct {
	buffer             [pipeSize]byte
	writePos, readPos  int
	readerCount        int
	writerCount        int
}

// NewPipe allocates an empty pipe with no readers or writers yet attached.
func NewPipe() *Pipe {
	return &Pipe{}
}

// put writes up to n bytes from data, stopping when the ring buffer is
// full. Returns EPIPE if there are no readers left to ever consume the
// data, or EFULL if the buffer could not accept a single byte.
func (p *Pipe) put(data []byte) (int, kerr.Code) {
	if p.readerCount == 0 {
		return 0, kerr.EPIPE
	}
	c := 0
	for c < len(data) && !(p.writePos == pipeSize-1 && p.readPos == 0) && p.writePos+1 != p.readPos {
		p.buffer[p.writePos] = data[c]
		c++
		p.writePos++
		if p.writePos >= pipeSize {
			p.writePos = 0
		}
	}
	if len(data) > 0 && c == 0 {
		return 0, kerr.EFULL
	}
	return c, kerr.ENONE
}

func (p *Pipe) get(data []byte) int {
	c := 0
	for p.readPos != p.writePos && c < len(data) {
		data[c] = p.buffer[p.readPos]
		c++
		p.readPos++
		if p.readPos >= pipeSize {
			p.readPos = 0
		}
	}
	return c
}

// CreateReader returns a new read-only FileContext endpoint onto this pipe.
func (p *Pipe) CreateReader() FileContext {
	p.readerCount++
	return &pipeReader{pipe: p}
}

// CreateWriter returns a new write-only FileContext endpoint onto this pipe.
func (p *Pipe) CreateWriter() FileContext {
	p.writerCount++
	return &pipeWriter{pipe: p}
}

func (p *Pipe) releaseReader() { p.readerCount-- }
func (p *Pipe) releaseWriter() { p.writerCount-- }

// ReaderCount and WriterCount expose the live endpoint counts, mostly for
// tests that want to assert a pipe drained correctly after both ends close.
func (p *Pipe) ReaderCount() int { return p.readerCount }
func (p *Pipe) WriterCount() int { return p.writerCount }

type pipeReader struct {
	pipe *Pipe
}

func (r *pipeReader) Read(buf []byte) (int, kerr.Code) {
	c := r.pipe.get(buf)
	if c == 0 && r.pipe.writerCount == 0 {
		return 0, kerr.EEOF
	}
	return c, kerr.ENONE
}

func (r *pipeReader) Write(buf []byte) (int, kerr.Code) { return 0, kerr.EIO }

func (r *pipeReader) Copy() FileContext {
	r.pipe.readerCount++
	return &pipeReader{pipe: r.pipe}
}

func (r *pipeReader) Close() { r.pipe.releaseReader() }

type pipeWriter struct {
	pipe *Pipe
}

func (w *pipeWriter) Read(buf []byte) (int, kerr.Code) { return 0, kerr.EIO }

func (w *pipeWriter) Write(buf []byte) (int, kerr.Code) { return w.pipe.put(buf) }

func (w *pipeWriter) Copy() FileContext {
	w.pipe.writerCount++
	return &pipeWriter{pipe: w.pipe}
}

func (w *pipeWriter) Close() { w.pipe.releaseWriter() }

var (
	_ FileContext = (*pipeReader)(nil)
	_ FileContext = (*pipeWriter)(nil)
)
