// Package pfsio defines the polymorphic byte-stream contract ("Io") that
// every archiver backend and the mount/handle layers consume uniformly,
// plus the two general-purpose concrete implementations: a native-file
// stream and a refcounted in-memory buffer stream.
package pfsio

import (
	"os"
	"sync"

	"github.com/physfsgo/physfs/pkg/pfserrors"
)

// Io is the stream abstraction every archiver backend and the file-handle
// layer reads and writes through. Implementations must honor:
//
//   - tell() is monotone across successful Read/Write calls.
//   - Seek(n) positions the stream such that the next Tell() == n.
//   - Duplicate() yields an independent position; it may share underlying
//     storage with the original (MemoryIo refcounts; NativeIo reopens the
//     path).
//   - Write on a read-only Io fails with pfserrors.CodeReadOnly.
//   - Destroy releases resources unconditionally and must not be called
//     twice.
type Io interface {
	// Read reads up to len(p) bytes, returning the number read (0..len(p)).
	// Returns (0, nil) only at EOF. Read errors are reported as a non-nil
	// error wrapping pfserrors.CodeIO.
	Read(p []byte) (int, error)

	// Write writes len(p) bytes, or fails. Read-only Ios always fail with
	// pfserrors.CodeReadOnly.
	Write(p []byte) (int, error)

	// Seek positions the stream at the given absolute offset. Positioning
	// past the stream's length fails with pfserrors.CodePastEOF, except for
	// writable native files, which may extend on the next write.
	Seek(pos int64) error

	// Tell reports the current absolute position.
	Tell() (int64, error)

	// Length reports the total stream length, or -1 if unknown.
	Length() (int64, error)

	// Duplicate produces a new Io with an independent position.
	Duplicate() (Io, error)

	// Flush is a no-op for read-only streams; it must surface write errors.
	Flush() error

	// Destroy releases resources. Must not be called more than once.
	Destroy() error
}

// NativeIo wraps a real *os.File, reopening the same path on Duplicate.
type NativeIo struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	readOnly bool
	closed   bool
}

// OpenNative opens path for reading, or for reading and writing when
// readOnly is false (creating it if it does not exist).
func OpenNative(path string, readOnly bool) (*NativeIo, error) {
	flags := os.O_RDONLY
	if !readOnly {
		flags = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, translateOSError(err, path)
	}
	return &NativeIo{file: f, path: path, readOnly: readOnly}, nil
}

func (n *NativeIo) Read(p []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return 0, pfserrors.New(pfserrors.CodeInvalidArgument, "read on destroyed Io").WithPath(n.path)
	}
	read, err := n.file.Read(p)
	if err != nil {
		if err.Error() == "EOF" || isEOF(err) {
			return read, nil
		}
		return read, pfserrors.New(pfserrors.CodeIO, "native read failed").WithPath(n.path).WithCause(err)
	}
	return read, nil
}

func (n *NativeIo) Write(p []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.readOnly {
		return 0, pfserrors.New(pfserrors.CodeReadOnly, "write on read-only native stream").WithPath(n.path)
	}
	written, err := n.file.Write(p)
	if err != nil {
		return written, pfserrors.New(pfserrors.CodeIO, "native write failed").WithPath(n.path).WithCause(err)
	}
	return written, nil
}

func (n *NativeIo) Seek(pos int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.readOnly {
		// Writable native files may seek past the current end; the next
		// write extends the file, matching real filesystem semantics.
		if _, err := n.file.Seek(pos, 0); err != nil {
			return pfserrors.New(pfserrors.CodeIO, "native seek failed").WithPath(n.path).WithCause(err)
		}
		return nil
	}
	info, err := n.file.Stat()
	if err != nil {
		return pfserrors.New(pfserrors.CodeIO, "native stat failed").WithPath(n.path).WithCause(err)
	}
	if pos > info.Size() {
		return pfserrors.New(pfserrors.CodePastEOF, "seek past end of file").WithPath(n.path)
	}
	if _, err := n.file.Seek(pos, 0); err != nil {
		return pfserrors.New(pfserrors.CodeIO, "native seek failed").WithPath(n.path).WithCause(err)
	}
	return nil
}

func (n *NativeIo) Tell() (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	pos, err := n.file.Seek(0, 1)
	if err != nil {
		return -1, pfserrors.New(pfserrors.CodeIO, "native tell failed").WithPath(n.path).WithCause(err)
	}
	return pos, nil
}

func (n *NativeIo) Length() (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	info, err := n.file.Stat()
	if err != nil {
		return -1, pfserrors.New(pfserrors.CodeIO, "native stat failed").WithPath(n.path).WithCause(err)
	}
	return info.Size(), nil
}

func (n *NativeIo) Duplicate() (Io, error) {
	return OpenNative(n.path, n.readOnly)
}

func (n *NativeIo) Flush() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.readOnly {
		return nil
	}
	if err := n.file.Sync(); err != nil {
		return pfserrors.New(pfserrors.CodeIO, "native flush failed").WithPath(n.path).WithCause(err)
	}
	return nil
}

func (n *NativeIo) Destroy() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return pfserrors.New(pfserrors.CodeInvalidArgument, "destroy called twice").WithPath(n.path)
	}
	n.closed = true
	return n.file.Close()
}

// memoryBuffer is the shared, refcounted payload behind every duplicate of
// a MemoryIo. It is protected by its own mutex so duplicates created on
// different goroutines stay consistent; stateLock-equivalent global locking
// from the original design is unnecessary once the refcount lives with the
// buffer itself.
type memoryBuffer struct {
	mu       sync.Mutex
	data     []byte
	refs     int
	destruct func([]byte)
}

func (b *memoryBuffer) retain() {
	b.mu.Lock()
	b.refs++
	b.mu.Unlock()
}

func (b *memoryBuffer) release() {
	b.mu.Lock()
	b.refs--
	fire := b.refs == 0 && b.destruct != nil
	destruct := b.destruct
	data := b.data
	b.mu.Unlock()
	if fire {
		destruct(data)
	}
}

// MemoryIo is an Io over an in-memory byte buffer. Duplicates share the
// buffer and refcount it; the destruct callback (if any) fires exactly once,
// when the last duplicate is destroyed.
type MemoryIo struct {
	buf      *memoryBuffer
	writable bool
	pos      int64
	closed   bool
}

// NewMemoryIo wraps data as a readable (and, if writable, growable)
// in-memory stream. destruct, if non-nil, is invoked exactly once - when the
// last duplicate is destroyed - with the final buffer contents.
func NewMemoryIo(data []byte, writable bool, destruct func([]byte)) *MemoryIo {
	buf := &memoryBuffer{data: data, refs: 1, destruct: destruct}
	return &MemoryIo{buf: buf, writable: writable}
}

func (m *MemoryIo) Read(p []byte) (int, error) {
	m.buf.mu.Lock()
	defer m.buf.mu.Unlock()
	if m.pos >= int64(len(m.buf.data)) {
		return 0, nil
	}
	n := copy(p, m.buf.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *MemoryIo) Write(p []byte) (int, error) {
	if !m.writable {
		return 0, pfserrors.New(pfserrors.CodeReadOnly, "write on read-only memory stream")
	}
	m.buf.mu.Lock()
	defer m.buf.mu.Unlock()
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf.data)) {
		grown := make([]byte, end)
		copy(grown, m.buf.data)
		m.buf.data = grown
	}
	n := copy(m.buf.data[m.pos:end], p)
	m.pos += int64(n)
	return n, nil
}

func (m *MemoryIo) Seek(pos int64) error {
	m.buf.mu.Lock()
	length := int64(len(m.buf.data))
	m.buf.mu.Unlock()
	if pos > length {
		return pfserrors.New(pfserrors.CodePastEOF, "seek past end of memory stream")
	}
	m.pos = pos
	return nil
}

func (m *MemoryIo) Tell() (int64, error) {
	return m.pos, nil
}

func (m *MemoryIo) Length() (int64, error) {
	m.buf.mu.Lock()
	defer m.buf.mu.Unlock()
	return int64(len(m.buf.data)), nil
}

// Duplicate shares the underlying buffer with a fresh, zeroed position.
func (m *MemoryIo) Duplicate() (Io, error) {
	m.buf.retain()
	return &MemoryIo{buf: m.buf, writable: m.writable}, nil
}

func (m *MemoryIo) Flush() error {
	return nil
}

func (m *MemoryIo) Destroy() error {
	if m.closed {
		return pfserrors.New(pfserrors.CodeInvalidArgument, "destroy called twice")
	}
	m.closed = true
	m.buf.release()
	return nil
}

func translateOSError(err error, path string) error {
	if os.IsNotExist(err) {
		return pfserrors.New(pfserrors.CodeNotFound, "no such file or directory").WithPath(path).WithCause(err)
	}
	if os.IsPermission(err) {
		return pfserrors.New(pfserrors.CodePermission, "permission denied").WithPath(path).WithCause(err)
	}
	return pfserrors.New(pfserrors.CodeOSError, "native open failed").WithPath(path).WithCause(err)
}

func isEOF(err error) bool {
	return err != nil && err.Error() == "EOF"
}
