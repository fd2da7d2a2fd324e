package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

type stubArchiver struct {
	ext string
}

func (s *stubArchiver) Extension() string { return s.ext }
func (s *stubArchiver) OpenArchive(io pfsio.Io, name string, forWriting bool) (interface{}, bool, error) {
	return nil, false, nil
}
func (s *stubArchiver) OpenRead(opaque interface{}, path string) (pfsio.Io, bool, error) {
	return nil, false, nil
}
func (s *stubArchiver) OpenWrite(opaque interface{}, path string) (pfsio.Io, error) { return nil, nil }
func (s *stubArchiver) OpenAppend(opaque interface{}, path string) (pfsio.Io, error) {
	return nil, nil
}
func (s *stubArchiver) EnumerateFiles(opaque interface{}, dir string, omitSymlinks bool, cb pfstypes.EnumerateCallback, userdata interface{}) error {
	return nil
}
func (s *stubArchiver) Remove(opaque interface{}, path string) error { return nil }
func (s *stubArchiver) Mkdir(opaque interface{}, path string) error { return nil }
func (s *stubArchiver) Stat(opaque interface{}, path string) (pfstypes.Stat, bool, error) {
	return pfstypes.Stat{}, false, nil
}
func (s *stubArchiver) CloseArchive(opaque interface{}) error { return nil }

func TestRegisterAndLookupCaseInsensitive(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Register(&stubArchiver{ext: "ZIP"}))

	a, ok := r.ByExtension("zip")
	require.True(t, ok)
	assert.Equal(t, "ZIP", a.Extension())
}

func TestRegisterDuplicateFails(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Register(&stubArchiver{ext: "zip"}))
	err := r.Register(&stubArchiver{ext: "ZIP"})
	require.Error(t, err)
	assert.True(t, pfserrors.IsCode(err, pfserrors.CodeDuplicate))
}

func TestTrialOrderPutsMatchingExtensionFirst(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Register(&stubArchiver{ext: "grp"}))
	require.NoError(t, r.Register(&stubArchiver{ext: "zip"}))
	require.NoError(t, r.Register(&stubArchiver{ext: "wad"}))

	order := r.TrialOrder("WAD")
	require.Len(t, order, 3)
	assert.Equal(t, "wad", order[0].Extension())
}

func TestDeregisterRemovesEntry(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Register(&stubArchiver{ext: "zip"}))
	r.Deregister("ZIP")

	_, ok := r.ByExtension("zip")
	assert.False(t, ok)
	assert.Empty(t, r.TrialOrder("zip"))
}
