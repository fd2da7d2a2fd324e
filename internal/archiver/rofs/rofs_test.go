package rofs

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfserrors"
)

func cstring(s string) []byte {
	return append([]byte(s), 0)
}

func buildROFS(t *testing.T) []byte {
	t.Helper()

	var body bytes.Buffer
	body.Write(cstring("data"))                                  // dirs[0].name
	headerLen := int64(len(magic)) + int64(body.Len()) + 4 + 4
	nameLen := int64(len(cstring("sub")))
	// Offsets are stored in 8-byte units, so the directory table and the
	// entry data must each start on an 8-byte boundary.
	dirLocation := (headerLen + nameLen + 7) &^ 7

	binary.Write(&body, binary.LittleEndian, uint32(dirLocation>>3))
	binary.Write(&body, binary.LittleEndian, uint32(64))
	body.Write(cstring("sub")) // dirs[1].name
	body.Write(make([]byte, dirLocation-headerLen-nameLen))

	// directory table at dirLocation: entry count, then one entry.
	var dirTable bytes.Buffer
	binary.Write(&dirTable, binary.LittleEndian, uint32(1))

	entryDataOffset := (dirLocation + 4 /* count */ + 4 /* startPos */ + 4 /* size */ + int64(len(cstring("file.bin"))) + 7) &^ 7
	binary.Write(&dirTable, binary.LittleEndian, uint32(entryDataOffset>>3))
	binary.Write(&dirTable, binary.LittleEndian, uint32(999)) // compressed size, ignored
	dirTable.Write(cstring("file.bin"))

	var entryHeader bytes.Buffer
	binary.Write(&entryHeader, binary.LittleEndian, uint16(16)) // offset
	binary.Write(&entryHeader, binary.LittleEndian, uint16(0))  // num_keys
	binary.Write(&entryHeader, binary.LittleEndian, uint32(42)) // real size
	entryHeader.Write(make([]byte, 8))                          // ident

	var out bytes.Buffer
	out.Write(magic)
	out.Write(body.Bytes())
	out.Write(dirTable.Bytes())
	out.Write(make([]byte, entryDataOffset-dirLocation-int64(dirTable.Len())))
	out.Write(entryHeader.Bytes())
	return out.Bytes()
}

func TestOpenArchiveIndexesEntriesButRefusesRead(t *testing.T) {
	t.Parallel()

	data := buildROFS(t)
	io := pfsio.NewMemoryIo(data, false, nil)

	a := New()
	opaque, recognized, err := a.OpenArchive(io, "rofs1.dat", false)
	require.NoError(t, err)
	require.True(t, recognized)

	st, exists, err := a.Stat(opaque, "data/sub/file.bin")
	require.NoError(t, err)
	require.True(t, exists)
	assert.EqualValues(t, 42, st.Filesize)

	_, _, err = a.OpenRead(opaque, "data/sub/file.bin")
	require.Error(t, err)
	assert.True(t, pfserrors.IsCode(err, pfserrors.CodeUnsupported))
}

func TestOpenArchiveRejectsBadMagic(t *testing.T) {
	t.Parallel()

	io := pfsio.NewMemoryIo(make([]byte, 64), false, nil)
	a := New()
	_, recognized, err := a.OpenArchive(io, "notrofs.dat", false)
	require.NoError(t, err)
	assert.False(t, recognized)
}
