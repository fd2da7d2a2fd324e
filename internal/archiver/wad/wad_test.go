package wad

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

type lump struct {
	name string
	data string
}

func buildWAD(t *testing.T, lumps []lump) []byte {
	t.Helper()
	var data bytes.Buffer
	type dirent struct {
		pos, size uint32
		name      string
	}
	var dir []dirent
	headerSize := int64(12)
	pos := headerSize

	for _, l := range lumps {
		if l.data == "" {
			dir = append(dir, dirent{pos: 0, size: 0, name: l.name})
			continue
		}
		data.WriteString(l.data)
		dir = append(dir, dirent{pos: uint32(pos), size: uint32(len(l.data)), name: l.name})
		pos += int64(len(l.data))
	}

	var out bytes.Buffer
	out.WriteString("PWAD")
	binary.Write(&out, binary.LittleEndian, uint32(len(dir)))
	binary.Write(&out, binary.LittleEndian, uint32(pos))
	out.Write(data.Bytes())
	for _, d := range dir {
		binary.Write(&out, binary.LittleEndian, d.pos)
		binary.Write(&out, binary.LittleEndian, d.size)
		nameBuf := make([]byte, 8)
		copy(nameBuf, d.name)
		out.Write(nameBuf)
	}
	return out.Bytes()
}

func TestOpenArchivePlainLump(t *testing.T) {
	t.Parallel()

	data := buildWAD(t, []lump{{name: "PLAYPAL", data: "palette-bytes"}})
	io := pfsio.NewMemoryIo(data, false, nil)

	a := New()
	opaque, recognized, err := a.OpenArchive(io, "doom.wad", false)
	require.NoError(t, err)
	require.True(t, recognized)

	stream, exists, err := a.OpenRead(opaque, "PLAYPAL")
	require.NoError(t, err)
	require.True(t, exists)
	out := make([]byte, 32)
	n, err := stream.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "palette-bytes", string(out[:n]))
}

func TestOpenArchiveNestsMapLumps(t *testing.T) {
	t.Parallel()

	data := buildWAD(t, []lump{
		{name: "E1M1", data: ""},
		{name: "THINGS", data: "thing-data"},
		{name: "SECTORS", data: "sector-data"},
		{name: "PLAYPAL", data: "palette-bytes"},
	})
	io := pfsio.NewMemoryIo(data, false, nil)

	a := New()
	opaque, recognized, err := a.OpenArchive(io, "doom.wad", false)
	require.NoError(t, err)
	require.True(t, recognized)

	var mapChildren []string
	err = a.EnumerateFiles(opaque, "E1M1", false, func(userdata interface{}, origDir, name string) pfstypes.EnumerateResult {
		mapChildren = append(mapChildren, name)
		return pfstypes.EnumerateOK
	}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"THINGS", "SECTORS"}, mapChildren)

	stream, exists, err := a.OpenRead(opaque, "PLAYPAL")
	require.NoError(t, err)
	require.True(t, exists)
	out := make([]byte, 32)
	n, err := stream.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "palette-bytes", string(out[:n]))
}
