// Package hog implements the Archiver contract for Descent HOG archives
// (.hog): a 3-byte "DHF" signature followed by a sequence of entries, each a
// 13-byte null-terminated name, a uint32 LE length, and the entry's data
// immediately following. There is no central directory; the entry table is
// built by scanning the stream once at open time.
package hog

import (
	"encoding/binary"
	"strings"

	"github.com/physfsgo/physfs/internal/archiver/unpacked"
	"github.com/physfsgo/physfs/internal/sortutil"
	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

const signature = "DHF"

type Archiver struct{}

func New() *Archiver { return &Archiver{} }

func (a *Archiver) Extension() string { return "hog" }

func (a *Archiver) OpenArchive(io pfsio.Io, name string, forWriting bool) (interface{}, bool, error) {
	if forWriting {
		return nil, false, pfserrors.New(pfserrors.CodeReadOnly, "hog archives are read-only").
			WithComponent("hog")
	}

	sigBuf := make([]byte, len(signature))
	if _, err := readFull(io, sigBuf); err != nil {
		return nil, false, nil
	}
	if string(sigBuf) != signature {
		return nil, false, nil
	}

	length, err := io.Length()
	if err != nil {
		return nil, true, err
	}

	var entries []unpacked.Entry
	pos := int64(len(signature))
	for pos < length {
		if err := io.Seek(pos); err != nil {
			return nil, true, err
		}

		nameBuf := make([]byte, 13)
		if _, err := readFull(io, nameBuf); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated hog directory entry").
				WithComponent("hog").WithPath(name)
		}
		var sizeBuf [4]byte
		if _, err := readFull(io, sizeBuf[:]); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated hog directory entry").
				WithComponent("hog").WithPath(name)
		}

		entrySize := int64(binary.LittleEndian.Uint32(sizeBuf[:]))
		dataStart := pos + 13 + 4
		entries = append(entries, unpacked.Entry{
			Name:     trimNull(nameBuf),
			StartPos: dataStart,
			Size:     entrySize,
		})
		pos = dataStart + entrySize
	}

	return unpacked.New(io, name, entries, sortutil.ASCIICaseInsensitiveLess), true, nil
}

func trimNull(buf []byte) string {
	s := string(buf)
	if idx := strings.IndexByte(s, 0); idx >= 0 {
		s = s[:idx]
	}
	return s
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

func (a *Archiver) arc(opaque interface{}) *unpacked.Archive { return opaque.(*unpacked.Archive) }

func (a *Archiver) OpenRead(opaque interface{}, path string) (pfsio.Io, bool, error) {
	return a.arc(opaque).OpenRead(path)
}
func (a *Archiver) OpenWrite(opaque interface{}, path string) (pfsio.Io, error) {
	return a.arc(opaque).OpenWrite(path)
}
func (a *Archiver) OpenAppend(opaque interface{}, path string) (pfsio.Io, error) {
	return a.arc(opaque).OpenAppend(path)
}
func (a *Archiver) EnumerateFiles(opaque interface{}, dir string, omitSymlinks bool, cb pfstypes.EnumerateCallback, userdata interface{}) error {
	return a.arc(opaque).EnumerateFiles(dir, cb, userdata)
}
func (a *Archiver) Remove(opaque interface{}, path string) error { return a.arc(opaque).Remove(path) }
func (a *Archiver) Mkdir(opaque interface{}, path string) error  { return a.arc(opaque).Mkdir(path) }
func (a *Archiver) Stat(opaque interface{}, path string) (pfstypes.Stat, bool, error) {
	return a.arc(opaque).Stat(path)
}
func (a *Archiver) CloseArchive(opaque interface{}) error { return a.arc(opaque).Close() }
