// Package rofs implements the Archiver contract for Resident Evil 3
// "rofsN.dat" archives: a fixed 21-byte magic header, a two-level
// null-terminated directory-name pair with a directory-table location and
// length, and a flat directory table of {startPos, compressed-size,
// null-terminated name} records. Each entry's real (decompressed) size and
// compression flag live in a small per-entry header at its data offset.
// Entry payloads are both block-encrypted with a rolling xorshift-style
// key and, for compressed entries, packed with a custom LZSS variant;
// reproducing that cipher/codec is out of scope here, so this backend
// indexes names, sizes, and offsets for listing and Stat but OpenRead
// reports CodeUnsupported rather than returning encrypted bytes.
package rofs

import (
	"encoding/binary"

	"github.com/physfsgo/physfs/internal/archiver/unpacked"
	"github.com/physfsgo/physfs/internal/sortutil"
	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

var magic = []byte{
	3, 0, 0, 0,
	1, 0, 0, 0,
	4, 0, 0, 0,
	0, 1, 1, 0,
	0, 4, 0, 0,
	0,
}

type Archiver struct{}

func New() *Archiver { return &Archiver{} }

func (a *Archiver) Extension() string { return "dat" }

type archive struct {
	unpacked *unpacked.Archive
}

func (a *Archiver) OpenArchive(io pfsio.Io, name string, forWriting bool) (interface{}, bool, error) {
	if forWriting {
		return nil, false, pfserrors.New(pfserrors.CodeReadOnly, "rofs archives are read-only").
			WithComponent("rofs")
	}

	header := make([]byte, len(magic))
	if _, err := readFull(io, header); err != nil {
		return nil, false, nil
	}
	if !bytesEqual(header, magic) {
		return nil, false, nil
	}

	dir0Name, err := readCString(io)
	if err != nil {
		return nil, true, corruptErr(name, err)
	}
	var dirLocBuf, dirLenBuf [4]byte
	if _, err := readFull(io, dirLocBuf[:]); err != nil {
		return nil, true, corruptErr(name, err)
	}
	if _, err := readFull(io, dirLenBuf[:]); err != nil {
		return nil, true, corruptErr(name, err)
	}
	dirLocation := int64(binary.LittleEndian.Uint32(dirLocBuf[:])) << 3

	dir1Name, err := readCString(io)
	if err != nil {
		return nil, true, corruptErr(name, err)
	}

	if err := io.Seek(dirLocation); err != nil {
		return nil, true, corruptErr(name, err)
	}
	var countBuf [4]byte
	if _, err := readFull(io, countBuf[:]); err != nil {
		return nil, true, corruptErr(name, err)
	}
	count := binary.LittleEndian.Uint32(countBuf[:])

	entries := make([]unpacked.Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		var startBuf, sizeBuf [4]byte
		if _, err := readFull(io, startBuf[:]); err != nil {
			return nil, true, corruptErr(name, err)
		}
		if _, err := readFull(io, sizeBuf[:]); err != nil { // compressed size, superseded below
			return nil, true, corruptErr(name, err)
		}
		shortName, err := readCString(io)
		if err != nil {
			return nil, true, corruptErr(name, err)
		}
		startPos := int64(binary.LittleEndian.Uint32(startBuf[:])) << 3

		resumeAt, err := io.Tell()
		if err != nil {
			return nil, true, err
		}
		if err := io.Seek(startPos); err != nil {
			return nil, true, corruptErr(name, err)
		}
		entryHeader := make([]byte, 16)
		if _, err := readFull(io, entryHeader); err != nil {
			return nil, true, corruptErr(name, err)
		}
		realSize := binary.LittleEndian.Uint32(entryHeader[4:8])
		if err := io.Seek(resumeAt); err != nil {
			return nil, true, err
		}

		entries = append(entries, unpacked.Entry{
			Name:     dir0Name + "/" + dir1Name + "/" + shortName,
			StartPos: startPos,
			Size:     int64(realSize),
		})
	}

	return &archive{unpacked: unpacked.New(io, name, entries, sortutil.ASCIICaseInsensitiveLess)}, true, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func readCString(io pfsio.Io) (string, error) {
	var buf []byte
	var b [1]byte
	for {
		if _, err := readFull(io, b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
}

func readFull(io pfsio.Io, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := io.Read(buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, pfserrors.New(pfserrors.CodeCorrupt, "unexpected end of stream")
		}
		total += n
	}
	return total, nil
}

func corruptErr(name string, cause error) error {
	return pfserrors.New(pfserrors.CodeCorrupt, "malformed rofs directory table").
		WithComponent("rofs").WithPath(name).WithCause(cause)
}

func (a *Archiver) arc(opaque interface{}) *archive { return opaque.(*archive) }

func (a *Archiver) OpenRead(opaque interface{}, path string) (pfsio.Io, bool, error) {
	_, exists, err := a.arc(opaque).unpacked.Stat(path)
	if err != nil || !exists {
		return nil, exists, err
	}
	return nil, true, pfserrors.New(pfserrors.CodeUnsupported, "rofs entry decryption/decompression is not implemented").
		WithComponent("rofs").WithPath(path)
}
func (a *Archiver) OpenWrite(opaque interface{}, path string) (pfsio.Io, error) {
	return a.arc(opaque).unpacked.OpenWrite(path)
}
func (a *Archiver) OpenAppend(opaque interface{}, path string) (pfsio.Io, error) {
	return a.arc(opaque).unpacked.OpenAppend(path)
}
func (a *Archiver) EnumerateFiles(opaque interface{}, dir string, omitSymlinks bool, cb pfstypes.EnumerateCallback, userdata interface{}) error {
	return a.arc(opaque).unpacked.EnumerateFiles(dir, cb, userdata)
}
func (a *Archiver) Remove(opaque interface{}, path string) error {
	return a.arc(opaque).unpacked.Remove(path)
}
func (a *Archiver) Mkdir(opaque interface{}, path string) error {
	return a.arc(opaque).unpacked.Mkdir(path)
}
func (a *Archiver) Stat(opaque interface{}, path string) (pfstypes.Stat, bool, error) {
	return a.arc(opaque).unpacked.Stat(path)
}
func (a *Archiver) CloseArchive(opaque interface{}) error {
	return a.arc(opaque).unpacked.Close()
}
