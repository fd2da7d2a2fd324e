package pfsio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physfsgo/physfs/pkg/pfserrors"
)

func TestNativeIoReadWriteSeek(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "native.bin")
	w, err := OpenNative(path, false)
	require.NoError(t, err)

	n, err := w.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Destroy())

	r, err := OpenNative(path, true)
	require.NoError(t, err)
	defer r.Destroy()

	length, err := r.Length()
	require.NoError(t, err)
	assert.EqualValues(t, 11, length)

	require.NoError(t, r.Seek(6))
	buf := make([]byte, 5)
	n, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	pos, err := r.Tell()
	require.NoError(t, err)
	assert.EqualValues(t, 11, pos)
}

func TestNativeIoReadOnlyWriteFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ro.bin")
	w, err := OpenNative(path, false)
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, w.Destroy())

	r, err := OpenNative(path, true)
	require.NoError(t, err)
	defer r.Destroy()

	_, err = r.Write([]byte("y"))
	require.Error(t, err)
	assert.True(t, pfserrors.IsCode(err, pfserrors.CodeReadOnly))
}

func TestNativeIoSeekPastEOFFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "short.bin")
	w, err := OpenNative(path, false)
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, w.Destroy())

	r, err := OpenNative(path, true)
	require.NoError(t, err)
	defer r.Destroy()

	err = r.Seek(100)
	require.Error(t, err)
	assert.True(t, pfserrors.IsCode(err, pfserrors.CodePastEOF))
}

func TestNativeIoDuplicateIsIndependent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dup.bin")
	w, err := OpenNative(path, false)
	require.NoError(t, err)
	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, w.Destroy())

	r, err := OpenNative(path, true)
	require.NoError(t, err)
	defer r.Destroy()

	require.NoError(t, r.Seek(5))

	dup, err := r.Duplicate()
	require.NoError(t, err)
	defer dup.Destroy()

	pos, err := dup.Tell()
	require.NoError(t, err)
	assert.EqualValues(t, 0, pos, "duplicate starts at its own position, independent of the original")
}

func TestMemoryIoReadWrite(t *testing.T) {
	t.Parallel()

	m := NewMemoryIo([]byte("abcdef"), true, nil)
	defer m.Destroy()

	buf := make([]byte, 3)
	n, err := m.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))

	n, err = m.Write([]byte("XYZ123"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	length, err := m.Length()
	require.NoError(t, err)
	assert.EqualValues(t, 9, length)
}

func TestMemoryIoReadOnlyWriteFails(t *testing.T) {
	t.Parallel()

	m := NewMemoryIo([]byte("abc"), false, nil)
	defer m.Destroy()

	_, err := m.Write([]byte("x"))
	require.Error(t, err)
	assert.True(t, pfserrors.IsCode(err, pfserrors.CodeReadOnly))
}

func TestMemoryIoDestructFiresOnLastRelease(t *testing.T) {
	t.Parallel()

	var captured []byte
	m := NewMemoryIo([]byte("payload"), true, func(data []byte) {
		captured = data
	})

	dup, err := m.Duplicate()
	require.NoError(t, err)

	require.NoError(t, m.Destroy())
	assert.Nil(t, captured, "destruct must not fire while a duplicate is still alive")

	require.NoError(t, dup.Destroy())
	assert.Equal(t, "payload", string(captured))
}

func TestMemoryIoDestroyTwiceFails(t *testing.T) {
	t.Parallel()

	m := NewMemoryIo([]byte("x"), false, nil)
	require.NoError(t, m.Destroy())
	err := m.Destroy()
	require.Error(t, err)
	assert.True(t, pfserrors.IsCode(err, pfserrors.CodeInvalidArgument))
}
