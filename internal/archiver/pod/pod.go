// Package pod implements the Archiver contract for Terminal Velocity POD
// archives (.pod): a uint32 file count, an 80-byte null-terminated
// description, then one 40-byte {32-byte path, uint32 size, uint32 offset}
// record per entry. There is no magic signature; recognition relies on the
// description field being present and null-terminated.
package pod

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

func (a *Archiver) Extension() string { return "pod" }

func (a *Archiver) OpenArchive(io pfsio.Io, name string, forWriting bool) (interface{}, bool, error) {
	if forWriting {
		return nil, false, pfserrors.New(pfserrors.CodeReadOnly, "pod archives are read-only").
			WithComponent("pod")
	}

	var countBuf [4]byte
	if _, err := readFull(io, countBuf[:]); err != nil {
		return nil, false, nil
	}
	count := binary.LittleEndian.Uint32(countBuf[:])

	description := make([]byte, 80)
	if _, err := readFull(io, description); err != nil {
		return nil, false, nil
	}
	if description[0] == 0 || description[79] != 0 {
		return nil, false, nil // no usable description: not recognized
	}

	entries := make([]unpacked.Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		nameBuf := make([]byte, 32)
		if _, err := readFull(io, nameBuf); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated pod directory").
				WithComponent("pod").WithPath(name)
		}
		var sizeBuf, offsetBuf [4]byte
		if _, err := readFull(io, sizeBuf[:]); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated pod directory").
				WithComponent("pod").WithPath(name)
		}
		if _, err := readFull(io, offsetBuf[:]); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated pod directory").
				WithComponent("pod").WithPath(name)
		}

		entryName := strings.ReplaceAll(trimNull(nameBuf), "\\", "/")
		entries = append(entries, unpacked.Entry{
			Name:     entryName,
			StartPos: int64(binary.LittleEndian.Uint32(offsetBuf[:])),
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
