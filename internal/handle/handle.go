// Package handle implements the buffered file-handle layer sitting on top
// of internal/mount: open/read/write/seek/close semantics, with an
// optional fixed-size buffer attached per handle.
package handle

import (
	"sync"

	"github.com/physfsgo/physfs/internal/mount"
	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
)

// Opener produces FileHandles by delegating lookups to a mount.Engine.
type Opener struct {
	engine *mount.Engine
}

// NewOpener wraps engine.
func NewOpener(engine *mount.Engine) *Opener {
	return &Opener{engine: engine}
}

// OpenRead walks the search path for vpath and wraps the winning stream in
// an unbuffered read handle. Call SetBuffer to attach a read-ahead buffer.
func (o *Opener) OpenRead(vpath string) (*FileHandle, error) {
	stream, m, err := o.engine.OpenRead(vpath)
	if err != nil {
		return nil, err
	}
	return &FileHandle{stream: stream, mount: m, path: vpath, forReading: true}, nil
}

// OpenWrite truncates (or creates) vpath in the write directory.
func (o *Opener) OpenWrite(vpath string) (*FileHandle, error) {
	stream, m, err := o.engine.OpenWrite(vpath)
	if err != nil {
		return nil, err
	}
	return &FileHandle{stream: stream, mount: m, path: vpath, forReading: false}, nil
}

// OpenAppend opens vpath in the write directory at its current end.
func (o *Opener) OpenAppend(vpath string) (*FileHandle, error) {
	stream, m, err := o.engine.OpenAppend(vpath)
	if err != nil {
		return nil, err
	}
	return &FileHandle{stream: stream, mount: m, path: vpath, forReading: false}, nil
}

// FileHandle is one open file: a stream, the mount it was opened against
// (released on Close), and an optional fixed-size buffer. A handle is
// either a read handle or a write handle, never both, matching the mount
// engine's own read/write split.
type FileHandle struct {
	mu         sync.Mutex
	stream     pfsio.Io
	mount      *mount.Mount
	path       string
	forReading bool
	closed     bool

	buf          []byte
	bufFill      int   // bytes valid in buf (read: readahead; write: pending)
	bufPos       int   // read cursor within buf[:bufFill]
	bufStreamPos int64 // stream offset corresponding to buf[0], read mode only
}

// Path returns the virtual path this handle was opened against.
func (h *FileHandle) Path() string { return h.path }

// Source returns the mount source this handle's path resolved against,
// so a caller layering a whole-entry cache on top can key by (source, path)
// without reaching into the mount package itself.
func (h *FileHandle) Source() string { return h.mount.Source }

// SetBuffer attaches (or replaces) this handle's buffer, flushing any
// pending write first. size == 0 disables buffering.
func (h *FileHandle) SetBuffer(size int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.flushLocked(); err != nil {
		return err
	}
	if size <= 0 {
		h.buf = nil
	} else {
		h.buf = make([]byte, size)
	}
	h.bufFill, h.bufPos, h.bufStreamPos = 0, 0, 0
	return nil
}

// Read fills p from the buffer first, refilling from the stream when
// drained; once the buffer is drained, a remaining request at least as
// large as the buffer is read straight from the stream.
func (h *FileHandle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, pfserrors.New(pfserrors.CodeInvalidArgument, "read on closed handle").WithPath(h.path)
	}
	if !h.forReading {
		return 0, pfserrors.New(pfserrors.CodeOpenForWriting, "handle is not open for reading").WithPath(h.path)
	}
	if len(h.buf) == 0 {
		return h.stream.Read(p)
	}

	total := 0
	for len(p) > 0 {
		if h.bufPos < h.bufFill {
			n := copy(p, h.buf[h.bufPos:h.bufFill])
			h.bufPos += n
			p = p[n:]
			total += n
			continue
		}
		if len(p) >= len(h.buf) {
			h.bufFill, h.bufPos = 0, 0
			n, err := h.stream.Read(p)
			total += n
			return total, err
		}
		n, err := h.stream.Read(h.buf)
		if n == 0 {
			return total, err
		}
		pos, tellErr := h.stream.Tell()
		if tellErr != nil {
			return total, tellErr
		}
		h.bufFill = n
		h.bufPos = 0
		h.bufStreamPos = pos - int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Write appends to the buffer when it fits, otherwise flushes and either
// buffers or bypasses depending on the request size.
func (h *FileHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, pfserrors.New(pfserrors.CodeInvalidArgument, "write on closed handle").WithPath(h.path)
	}
	if h.forReading {
		return 0, pfserrors.New(pfserrors.CodeOpenForReading, "handle is not open for writing").WithPath(h.path)
	}
	if len(h.buf) == 0 {
		return h.stream.Write(p)
	}
	if h.bufFill+len(p) <= len(h.buf) {
		n := copy(h.buf[h.bufFill:], p)
		h.bufFill += n
		return n, nil
	}
	if err := h.flushLocked(); err != nil {
		return 0, err
	}
	if len(p) > len(h.buf) {
		return h.stream.Write(p)
	}
	n := copy(h.buf, p)
	h.bufFill = n
	return n, nil
}

// Flush writes any buffered, unwritten bytes to the stream. A write error
// leaves the buffer intact so the caller can retry.
func (h *FileHandle) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flushLocked()
}

func (h *FileHandle) flushLocked() error {
	if h.forReading || h.bufFill == 0 {
		return nil
	}
	if _, err := h.stream.Write(h.buf[:h.bufFill]); err != nil {
		return err
	}
	if err := h.stream.Flush(); err != nil {
		return err
	}
	h.bufFill = 0
	return nil
}

// Seek flushes first, then repositions: for a read handle whose target
// lies within the buffered window it only moves bufPos; otherwise the
// buffer is cleared and the underlying stream seeks directly.
func (h *FileHandle) Seek(pos int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.flushLocked(); err != nil {
		return err
	}
	if h.forReading && len(h.buf) > 0 && pos >= h.bufStreamPos && pos < h.bufStreamPos+int64(h.bufFill) {
		h.bufPos = int(pos - h.bufStreamPos)
		return nil
	}
	h.bufFill, h.bufPos = 0, 0
	return h.stream.Seek(pos)
}

// Tell reports the handle's current logical position.
func (h *FileHandle) Tell() (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pos, err := h.stream.Tell()
	if err != nil {
		return 0, err
	}
	if h.forReading {
		return pos - int64(h.bufFill-h.bufPos), nil
	}
	return pos + int64(h.bufFill), nil
}

// Length reports the underlying stream's total length.
func (h *FileHandle) Length() (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stream.Length()
}

// Close tries to flush (for a write handle); on success it destroys the
// stream and releases the mount. On flush failure the handle is left open
// so the caller can retry.
func (h *FileHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	if err := h.flushLocked(); err != nil {
		return err
	}
	if err := h.stream.Destroy(); err != nil {
		return err
	}
	h.mount.Release()
	h.closed = true
	h.buf = nil
	return nil
}
