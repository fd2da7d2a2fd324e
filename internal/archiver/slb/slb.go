// Package slb implements the Archiver contract for I-War / Independence
// War "slab file" archives (.slb): a uint32 version (must be 0), a uint32
// entry count, a uint32 table-of-contents offset, then one 72-byte ToC
// record per entry: a leading '\\', a 63-byte null-padded name (backslash
// path separators converted to '/'), a uint32 data offset, and a uint32
// size.
package slb

import (
	"encoding/binary"
	"strings"

	"github.com/physfsgo/physfs/internal/archiver/unpacked"
	"github.com/physfsgo/physfs/internal/sortutil"
	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

type Archiver struct{}

func New() *Archiver { return &Archiver{} }

func (a *Archiver) Extension() string { return "slb" }

func (a *Archiver) OpenArchive(io pfsio.Io, name string, forWriting bool) (interface{}, bool, error) {
	if forWriting {
		return nil, false, pfserrors.New(pfserrors.CodeReadOnly, "slb archives are read-only").
			WithComponent("slb")
	}

	var versionBuf [4]byte
	if _, err := readFull(io, versionBuf[:]); err != nil {
		return nil, false, nil
	}
	if binary.LittleEndian.Uint32(versionBuf[:]) != 0 {
		return nil, false, nil
	}

	var countBuf, tocBuf [4]byte
	if _, err := readFull(io, countBuf[:]); err != nil {
		return nil, false, nil
	}
	if _, err := readFull(io, tocBuf[:]); err != nil {
		return nil, false, nil
	}
	count := binary.LittleEndian.Uint32(countBuf[:])
	tocPos := int64(binary.LittleEndian.Uint32(tocBuf[:]))

	if err := io.Seek(tocPos); err != nil {
		return nil, true, err
	}

	entries := make([]unpacked.Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		var sep [1]byte
		if _, err := readFull(io, sep[:]); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated slb table of contents").
				WithComponent("slb").WithPath(name)
		}
		if sep[0] != '\\' {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "malformed slb entry name").
				WithComponent("slb").WithPath(name)
		}
		nameBuf := make([]byte, 63)
		if _, err := readFull(io, nameBuf); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated slb table of contents").
				WithComponent("slb").WithPath(name)
		}
		var startBuf, sizeBuf [4]byte
		if _, err := readFull(io, startBuf[:]); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated slb table of contents").
				WithComponent("slb").WithPath(name)
		}
		if _, err := readFull(io, sizeBuf[:]); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated slb table of contents").
				WithComponent("slb").WithPath(name)
		}

		entryName := strings.ReplaceAll(trimNull(nameBuf), "\\", "/")
		entries = append(entries, unpacked.Entry{
			Name:     entryName,
			StartPos: int64(binary.LittleEndian.Uint32(startBuf[:])),
			Size:     int64(binary.LittleEndian.Uint32(sizeBuf[:])),
		})
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
