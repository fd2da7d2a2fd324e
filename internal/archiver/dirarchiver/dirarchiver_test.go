package dirarchiver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

func TestOpenArchiveRejectsNonDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	a := New()
	_, recognized, err := a.OpenArchive(nil, file, false)
	require.NoError(t, err)
	assert.False(t, recognized)
}

func TestReadWriteRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := New()
	opaque, recognized, err := a.OpenArchive(nil, dir, true)
	require.NoError(t, err)
	require.True(t, recognized)

	w, err := a.OpenWrite(opaque, "notes/hello.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("hi there"))
	require.NoError(t, err)
	require.NoError(t, w.Destroy())

	r, exists, err := a.OpenRead(opaque, "notes/hello.txt")
	require.NoError(t, err)
	require.True(t, exists)
	buf := make([]byte, 64)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi there", string(buf[:n]))
	require.NoError(t, r.Destroy())
}

func TestEnumerateFilesListsChildren(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "maps"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "maps", "a.bsp"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "maps", "b.bsp"), []byte("b"), 0644))

	a := New()
	opaque, _, err := a.OpenArchive(nil, dir, false)
	require.NoError(t, err)

	var found []string
	err = a.EnumerateFiles(opaque, "maps", false, func(userdata interface{}, origDir, name string) pfstypes.EnumerateResult {
		found = append(found, name)
		return pfstypes.EnumerateOK
	}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.bsp", "b.bsp"}, found)
}

func TestMkdirIdempotentOnExistingDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := New()
	opaque, _, err := a.OpenArchive(nil, dir, true)
	require.NoError(t, err)

	require.NoError(t, a.Mkdir(opaque, "sub"))
	require.NoError(t, a.Mkdir(opaque, "sub"))
}

func TestMkdirFailsOnExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocker"), []byte("x"), 0644))

	a := New()
	opaque, _, err := a.OpenArchive(nil, dir, true)
	require.NoError(t, err)

	err = a.Mkdir(opaque, "blocker")
	require.Error(t, err)
	assert.True(t, pfserrors.IsCode(err, pfserrors.CodeNotAFile))
}

func TestRemoveNonEmptyDirectoryFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "f.txt"), []byte("x"), 0644))

	a := New()
	opaque, _, err := a.OpenArchive(nil, dir, true)
	require.NoError(t, err)

	err = a.Remove(opaque, "sub")
	require.Error(t, err)
	assert.True(t, pfserrors.IsCode(err, pfserrors.CodeDirNotEmpty))
}

func TestStatReportsDirectoryWithZeroSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))

	a := New()
	opaque, _, err := a.OpenArchive(nil, dir, false)
	require.NoError(t, err)

	st, exists, err := a.Stat(opaque, "sub")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, pfstypes.FileTypeDirectory, st.FileType)
	assert.EqualValues(t, 0, st.Filesize)
}
