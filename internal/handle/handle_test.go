package handle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physfsgo/physfs/internal/archiver/dirarchiver"
	"github.com/physfsgo/physfs/internal/archiver/registry"
	"github.com/physfsgo/physfs/internal/mount"
	"github.com/physfsgo/physfs/pkg/pfserrors"
)

func newOpener(t *testing.T) (*Opener, *mount.Engine) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(dirarchiver.New()))
	e := mount.NewEngine(reg, nil)
	return NewOpener(e), e
}

func TestReadUnbufferedPassesThrough(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("hello world"), 0644))

	o, e := newOpener(t)
	require.NoError(t, e.Mount(nil, dir, "", true))

	h, err := o.OpenRead("f.txt")
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 5)
	n, err := h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestReadBufferedRefillsOnDrain(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "abcdefghij"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte(content), 0644))

	o, e := newOpener(t)
	require.NoError(t, e.Mount(nil, dir, "", true))

	h, err := o.OpenRead("f.txt")
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.SetBuffer(4))

	out := make([]byte, len(content))
	total := 0
	for total < len(out) {
		n, err := h.Read(out[total:])
		require.NoError(t, err)
		if n == 0 {
			break
		}
		total += n
	}
	assert.Equal(t, content, string(out[:total]))
}

func TestReadBypassesBufferWhenRequestExceedsIt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := make([]byte, 64)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.bin"), content, 0644))

	o, e := newOpener(t)
	require.NoError(t, e.Mount(nil, dir, "", true))

	h, err := o.OpenRead("f.bin")
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.SetBuffer(8))

	out := make([]byte, len(content))
	n, err := h.Read(out)
	require.NoError(t, err)
	assert.Equal(t, content, out[:n])
}

func TestWriteBufferedFlushesOnOverflowAndClose(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	o, e := newOpener(t)
	require.NoError(t, e.SetWriteDir(dir))

	h, err := o.OpenWrite("out.txt")
	require.NoError(t, err)
	require.NoError(t, h.SetBuffer(4))

	n, err := h.Write([]byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// exceeds remaining buffer space (2 free), forcing a flush then a
	// bypass write since "cdefgh" alone is larger than the buffer.
	n, err = h.Write([]byte("cdefgh"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	n, err = h.Write([]byte("ij"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, h.Close())

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", string(data))
}

func TestSeekWithinBufferedWindowAvoidsStreamSeek(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "0123456789"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte(content), 0644))

	o, e := newOpener(t)
	require.NoError(t, e.Mount(nil, dir, "", true))

	h, err := o.OpenRead("f.txt")
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.SetBuffer(8))

	buf := make([]byte, 4)
	_, err = h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(buf))

	require.NoError(t, h.Seek(1))
	n, err := h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "1234", string(buf[:n]))
}

func TestCloseReleasesMountAllowingUnmount(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0644))

	o, e := newOpener(t)
	require.NoError(t, e.Mount(nil, dir, "", true))

	h, err := o.OpenRead("f.txt")
	require.NoError(t, err)

	err = e.Unmount(dir)
	require.Error(t, err)
	assert.True(t, pfserrors.IsCode(err, pfserrors.CodeFilesStillOpen))

	require.NoError(t, h.Close())
	require.NoError(t, e.Unmount(dir))
}

func TestReadOnWriteHandleFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	o, e := newOpener(t)
	require.NoError(t, e.SetWriteDir(dir))

	h, err := o.OpenWrite("out.txt")
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Read(make([]byte, 4))
	require.Error(t, err)
	assert.True(t, pfserrors.IsCode(err, pfserrors.CodeOpenForWriting))
}

func TestOperationsOnClosedHandleFail(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0644))

	o, e := newOpener(t)
	require.NoError(t, e.Mount(nil, dir, "", true))

	h, err := o.OpenRead("f.txt")
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, err = h.Read(make([]byte, 4))
	require.Error(t, err)
	assert.True(t, pfserrors.IsCode(err, pfserrors.CodeInvalidArgument))

	// closing twice is a no-op, not an error
	require.NoError(t, h.Close())
}
