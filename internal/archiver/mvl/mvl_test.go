package mvl

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physfsgo/physfs/pkg/pfsio"
)

func buildMVL(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(signature)
	binary.Write(&buf, binary.LittleEndian, uint32(len(entries)))
	var names []string
	for name := range entries {
		names = append(names, name)
	}
	for _, name := range names {
		nameBuf := make([]byte, 13)
		copy(nameBuf, name)
		buf.Write(nameBuf)
		binary.Write(&buf, binary.LittleEndian, uint32(len(entries[name])))
	}
	for _, name := range names {
		buf.WriteString(entries[name])
	}
	return buf.Bytes()
}

func TestOpenArchiveAndRead(t *testing.T) {
	t.Parallel()

	data := buildMVL(t, map[string]string{"INTRO.MVE": "cutscene-bytes"})
	io := pfsio.NewMemoryIo(data, false, nil)

	a := New()
	opaque, recognized, err := a.OpenArchive(io, "movies.mvl", false)
	require.NoError(t, err)
	require.True(t, recognized)

	stream, exists, err := a.OpenRead(opaque, "intro.mve")
	require.NoError(t, err)
	require.True(t, exists)
	out := make([]byte, 32)
	n, err := stream.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "cutscene-bytes", string(out[:n]))
}

func TestOpenArchiveRejectsBadSignature(t *testing.T) {
	t.Parallel()

	io := pfsio.NewMemoryIo([]byte("NOPE0000"), false, nil)
	a := New()
	_, recognized, err := a.OpenArchive(io, "x.mvl", false)
	require.NoError(t, err)
	assert.False(t, recognized)
}
