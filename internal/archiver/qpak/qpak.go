// Package qpak implements the Archiver contract for Quake-engine PAK
// archives (.pak): a 4-byte "PACK" signature, a uint32 directory offset, a
// uint32 directory byte-size (a multiple of 64), and a directory of
// 64-byte {56-byte name, uint32 startPos, uint32 size} records.
package qpak

import (
	"encoding/binary"
	"strings"

	"github.com/physfsgo/physfs/internal/archiver/unpacked"
	"github.com/physfsgo/physfs/internal/sortutil"
	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

const signature = "PACK"
const entrySize = 64
const nameFieldSize = 56

type Archiver struct{}

func New() *Archiver { return &Archiver{} }

func (a *Archiver) Extension() string { return "pak" }

func (a *Archiver) OpenArchive(io pfsio.Io, name string, forWriting bool) (interface{}, bool, error) {
	if forWriting {
		return nil, false, pfserrors.New(pfserrors.CodeReadOnly, "pak archives are read-only").
			WithComponent("qpak")
	}

	magic := make([]byte, 4)
	if _, err := readFull(io, magic); err != nil || string(magic) != signature {
		return nil, false, nil
	}

	var dirOfsBuf, dirSizeBuf [4]byte
	if _, err := readFull(io, dirOfsBuf[:]); err != nil {
		return nil, false, nil
	}
	if _, err := readFull(io, dirSizeBuf[:]); err != nil {
		return nil, false, nil
	}
	dirOfs := int64(binary.LittleEndian.Uint32(dirOfsBuf[:]))
	dirSize := binary.LittleEndian.Uint32(dirSizeBuf[:])
	if dirSize%entrySize != 0 {
		return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "pak directory size is not a multiple of 64").
			WithComponent("qpak").WithPath(name)
	}
	count := dirSize / entrySize

	if err := io.Seek(dirOfs); err != nil {
		return nil, true, err
	}

	entries := make([]unpacked.Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		nameBuf := make([]byte, nameFieldSize)
		if _, err := readFull(io, nameBuf); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated pak directory").
				WithComponent("qpak").WithPath(name)
		}
		var startBuf, sizeBuf [4]byte
		if _, err := readFull(io, startBuf[:]); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated pak directory").
				WithComponent("qpak").WithPath(name)
		}
		if _, err := readFull(io, sizeBuf[:]); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated pak directory").
				WithComponent("qpak").WithPath(name)
		}
		entries = append(entries, unpacked.Entry{
			Name:     trimNull(nameBuf),
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
