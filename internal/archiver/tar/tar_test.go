package tar

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physfsgo/physfs/pkg/pfsio"
)

func buildTarHeader(name string, size int64, typeflag byte) []byte {
	block := make([]byte, blockSize)
	copy(block, name)
	copy(block[100:108], "0000644\x00")
	copy(block[108:116], "0000000\x00")
	copy(block[116:124], "0000000\x00")
	copy(block[124:136], []byte(fmt.Sprintf("%011o\x00", size)))
	copy(block[136:148], "00000000000\x00")
	block[156] = typeflag
	copy(block[257:263], magic)
	copy(block[263:265], "00")

	for i := 148; i < 156; i++ {
		block[i] = ' '
	}
	sum := 0
	for _, b := range block {
		sum += int(b)
	}
	copy(block[148:156], []byte(fmt.Sprintf("%06o\x00 ", sum)))
	return block
}

func pad(data []byte, to int) []byte {
	if len(data)%to == 0 {
		return data
	}
	return append(data, make([]byte, to-len(data)%to)...)
}

func buildTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var out bytes.Buffer
	for name, content := range files {
		out.Write(buildTarHeader(name, int64(len(content)), typeRegular))
		out.Write(pad([]byte(content), blockSize))
	}
	out.Write(make([]byte, blockSize))
	out.Write(make([]byte, blockSize))
	return out.Bytes()
}

func TestOpenArchiveAndRead(t *testing.T) {
	t.Parallel()

	data := buildTar(t, map[string]string{"readme.txt": "hello tar world"})
	io := pfsio.NewMemoryIo(data, false, nil)

	a := New()
	opaque, recognized, err := a.OpenArchive(io, "archive.tar", false)
	require.NoError(t, err)
	require.True(t, recognized)

	stream, exists, err := a.OpenRead(opaque, "readme.txt")
	require.NoError(t, err)
	require.True(t, exists)
	out := make([]byte, 32)
	n, err := stream.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "hello tar world", string(out[:n]))
}

func TestOpenArchiveRejectsNonTarData(t *testing.T) {
	t.Parallel()

	io := pfsio.NewMemoryIo(make([]byte, blockSize), false, nil)
	a := New()
	_, recognized, err := a.OpenArchive(io, "notatar.tar", false)
	require.NoError(t, err)
	assert.False(t, recognized)
}
