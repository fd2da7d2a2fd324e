package grp

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
)

func buildGRP(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(signature)
	binary.Write(&buf, binary.LittleEndian, uint32(len(entries)))

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	for _, name := range names {
		nameBuf := make([]byte, 12)
		copy(nameBuf, name)
		buf.Write(nameBuf)
		binary.Write(&buf, binary.LittleEndian, uint32(len(entries[name])))
	}
	for _, name := range names {
		buf.WriteString(entries[name])
	}
	return buf.Bytes()
}

func TestOpenArchiveRecognizesSignature(t *testing.T) {
	t.Parallel()

	data := buildGRP(t, map[string]string{"TILES001": "pixels!!"})
	io := pfsio.NewMemoryIo(data, false, nil)

	a := New()
	opaque, recognized, err := a.OpenArchive(io, "test.grp", false)
	require.NoError(t, err)
	require.True(t, recognized)

	stream, exists, err := a.OpenRead(opaque, "TILES001")
	require.NoError(t, err)
	require.True(t, exists)
	out := make([]byte, 16)
	n, err := stream.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "pixels!!", string(out[:n]))
}

func TestOpenArchiveRejectsForWriting(t *testing.T) {
	t.Parallel()

	io := pfsio.NewMemoryIo(buildGRP(t, nil), false, nil)
	a := New()
	_, _, err := a.OpenArchive(io, "x.grp", true)
	require.Error(t, err)
	assert.True(t, pfserrors.IsCode(err, pfserrors.CodeReadOnly))
}

func TestOpenArchiveRejectsBadSignature(t *testing.T) {
	t.Parallel()

	io := pfsio.NewMemoryIo([]byte("not a grp file at all pad pad"), false, nil)
	a := New()
	_, recognized, err := a.OpenArchive(io, "x.grp", false)
	require.NoError(t, err)
	assert.False(t, recognized)
}
