package slb

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physfsgo/physfs/pkg/pfsio"
)

func buildSLB(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var data bytes.Buffer
	var toc bytes.Buffer

	var names []string
	for name := range entries {
		names = append(names, name)
	}

	headerSize := int64(12)
	pos := headerSize
	for _, name := range names {
		payload := entries[name]
		toc.WriteByte('\\')
		nameBuf := make([]byte, 63)
		copy(nameBuf, name)
		toc.Write(nameBuf)
		binary.Write(&toc, binary.LittleEndian, uint32(pos))
		binary.Write(&toc, binary.LittleEndian, uint32(len(payload)))
		data.WriteString(payload)
		pos += int64(len(payload))
	}

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(0)) // version
	binary.Write(&out, binary.LittleEndian, uint32(len(names)))
	binary.Write(&out, binary.LittleEndian, uint32(pos)) // toc offset
	out.Write(data.Bytes())
	out.Write(toc.Bytes())
	return out.Bytes()
}

func TestOpenArchiveAndRead(t *testing.T) {
	t.Parallel()

	data := buildSLB(t, map[string]string{"textures\\hull.tga": "texture-bytes"})
	io := pfsio.NewMemoryIo(data, false, nil)

	a := New()
	opaque, recognized, err := a.OpenArchive(io, "game.slb", false)
	require.NoError(t, err)
	require.True(t, recognized)

	stream, exists, err := a.OpenRead(opaque, "textures/hull.tga")
	require.NoError(t, err)
	require.True(t, exists)
	out := make([]byte, 32)
	n, err := stream.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "texture-bytes", string(out[:n]))
}
