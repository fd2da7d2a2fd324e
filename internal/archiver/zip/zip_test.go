package zip

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

type zipEntryFixture struct {
	name             string
	content          []byte
	compress         bool
	externalAttr     uint32
	version          uint16
}

// buildZip assembles a minimal, valid ZIP file (local headers + central
// directory + EOCD) from the given entries, without going through
// archive/zip so the test stays independent of the standard library's own
// writer quirks.
func buildZip(t *testing.T, entries []zipEntryFixture) []byte {
	t.Helper()

	var body bytes.Buffer
	type centralRecord struct {
		offset uint32
		fixture zipEntryFixture
		compressedSize uint32
		crc uint32
	}
	var records []centralRecord

	for _, f := range entries {
		offset := uint32(body.Len())
		payload := f.content
		method := uint16(0)
		var compressed bytes.Buffer
		if f.compress {
			method = 8
			w, err := flate.NewWriter(&compressed, flate.DefaultCompression)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())
			payload = compressed.Bytes()
		}

		version := f.version

		writeU32(&body, localFileSig)
		writeU16(&body, version) // version needed
		writeU16(&body, 0)       // general bits
		writeU16(&body, method)
		writeU32(&body, 0) // dos time
		writeU32(&body, 0) // crc, unchecked when 0
		writeU32(&body, uint32(len(payload)))
		writeU32(&body, uint32(len(f.content)))
		writeU16(&body, uint16(len(f.name)))
		writeU16(&body, 0) // extra len
		body.WriteString(f.name)
		body.Write(payload)

		records = append(records, centralRecord{offset: offset, fixture: f, compressedSize: uint32(len(payload))})
	}

	centralDirStart := body.Len()
	var central bytes.Buffer
	for _, r := range records {
		writeU32(&central, centralDirSig)
		writeU16(&central, r.fixture.version) // version made by
		writeU16(&central, r.fixture.version) // version needed
		writeU16(&central, 0)                 // general bits
		method := uint16(0)
		if r.fixture.compress {
			method = 8
		}
		writeU16(&central, method)
		writeU32(&central, 0) // dos time
		writeU32(&central, 0) // crc
		writeU32(&central, r.compressedSize)
		writeU32(&central, uint32(len(r.fixture.content)))
		writeU16(&central, uint16(len(r.fixture.name)))
		writeU16(&central, 0) // extra len
		writeU16(&central, 0) // comment len
		writeU16(&central, 0) // disk number start
		writeU16(&central, 0) // internal file attribs
		writeU32(&central, r.fixture.externalAttr)
		writeU32(&central, r.offset)
		central.WriteString(r.fixture.name)
	}
	centralDirSize := central.Len()

	var out bytes.Buffer
	out.Write(body.Bytes())
	out.Write(central.Bytes())

	writeU32(&out, eocdSig)
	writeU16(&out, 0) // disk number
	writeU16(&out, 0) // disk with central dir
	writeU16(&out, uint16(len(entries)))
	writeU16(&out, uint16(len(entries)))
	writeU32(&out, uint32(centralDirSize))
	writeU32(&out, uint32(centralDirStart))
	writeU16(&out, 0) // comment len

	return out.Bytes()
}

func writeU16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
}

func writeU32(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 24))
}

func TestOpenArchiveAndReadStored(t *testing.T) {
	t.Parallel()

	data := buildZip(t, []zipEntryFixture{
		{name: "readme.txt", content: []byte("hello zip world")},
	})
	io := pfsio.NewMemoryIo(data, false, nil)

	a := New()
	opaque, recognized, err := a.OpenArchive(io, "game.zip", false)
	require.NoError(t, err)
	require.True(t, recognized)

	stream, exists, err := a.OpenRead(opaque, "readme.txt")
	require.NoError(t, err)
	require.True(t, exists)
	out := make([]byte, 32)
	n, err := stream.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "hello zip world", string(out[:n]))
}

func TestOpenArchiveAndReadDeflated(t *testing.T) {
	t.Parallel()

	content := []byte("this is deflate-compressed content, repeated repeated repeated")
	data := buildZip(t, []zipEntryFixture{
		{name: "data.bin", content: content, compress: true},
	})
	io := pfsio.NewMemoryIo(data, false, nil)

	a := New()
	opaque, recognized, err := a.OpenArchive(io, "game.zip", false)
	require.NoError(t, err)
	require.True(t, recognized)

	stream, exists, err := a.OpenRead(opaque, "data.bin")
	require.NoError(t, err)
	require.True(t, exists)

	out := make([]byte, len(content))
	total := 0
	for total < len(out) {
		n, err := stream.Read(out[total:])
		require.NoError(t, err)
		if n == 0 {
			break
		}
		total += n
	}
	assert.Equal(t, string(content), string(out[:total]))
}

func TestOpenArchiveResolvesSymlink(t *testing.T) {
	t.Parallel()

	const unixSymlinkAttr = uint32(0120000) << 16
	data := buildZip(t, []zipEntryFixture{
		{name: "target/x.txt", content: []byte("ok")},
		{name: "link/x.txt", content: []byte("../target/x.txt"), externalAttr: unixSymlinkAttr, version: 0x0300},
	})
	io := pfsio.NewMemoryIo(data, false, nil)

	a := New()
	opaque, recognized, err := a.OpenArchive(io, "game.zip", false)
	require.NoError(t, err)
	require.True(t, recognized)

	stream, exists, err := a.OpenRead(opaque, "link/x.txt")
	require.NoError(t, err)
	require.True(t, exists)
	out := make([]byte, 2)
	n, err := stream.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out[:n]))
}

func TestOpenArchiveDetectsSymlinkLoop(t *testing.T) {
	t.Parallel()

	const unixSymlinkAttr = uint32(0120000) << 16
	data := buildZip(t, []zipEntryFixture{
		{name: "link/x.txt", content: []byte("link/x.txt"), externalAttr: unixSymlinkAttr, version: 0x0300},
	})
	io := pfsio.NewMemoryIo(data, false, nil)

	a := New()
	opaque, recognized, err := a.OpenArchive(io, "game.zip", false)
	require.NoError(t, err)
	require.True(t, recognized)

	_, _, err = a.OpenRead(opaque, "link/x.txt")
	require.Error(t, err)
	assert.True(t, pfserrors.IsCode(err, pfserrors.CodeSymlinkLoop))
}

func TestOpenArchiveRejectsNonZipData(t *testing.T) {
	t.Parallel()

	io := pfsio.NewMemoryIo(make([]byte, 64), false, nil)
	a := New()
	_, recognized, err := a.OpenArchive(io, "notazip.zip", false)
	require.NoError(t, err)
	assert.False(t, recognized)
}

func TestStatReportsDirectoryForPrefix(t *testing.T) {
	t.Parallel()

	data := buildZip(t, []zipEntryFixture{
		{name: "maps/e1.dat", content: []byte("mapdata")},
	})
	io := pfsio.NewMemoryIo(data, false, nil)

	a := New()
	opaque, recognized, err := a.OpenArchive(io, "game.zip", false)
	require.NoError(t, err)
	require.True(t, recognized)

	st, exists, err := a.Stat(opaque, "maps")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, pfstypes.FileTypeDirectory, st.FileType)

	fileSt, exists, err := a.Stat(opaque, "maps/e1.dat")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, pfstypes.FileTypeRegular, fileSt.FileType)
	assert.Equal(t, int64(len("mapdata")), fileSt.Filesize)
}
