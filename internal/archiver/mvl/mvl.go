// Package mvl implements the Archiver contract for Descent II "Movie
// library" archives (.mvl): a 4-byte "DMVL" signature, a uint32 entry
// count, then one 17-byte {13-byte name, uint32 size} record per entry.
package mvl

import (
	"encoding/binary"

	"github.com/physfsgo/physfs/internal/archiver/unpacked"
	"github.com/physfsgo/physfs/internal/sortutil"
	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

const signature = "DMVL"

type Archiver struct{}

func New() *Archiver { return &Archiver{} }

func (a *Archiver) Extension() string { return "mvl" }

func (a *Archiver) OpenArchive(io pfsio.Io, name string, forWriting bool) (interface{}, bool, error) {
	if forWriting {
		return nil, false, pfserrors.New(pfserrors.CodeReadOnly, "mvl archives are read-only").
			WithComponent("mvl")
	}

	buf := make([]byte, 4)
	if _, err := readFull(io, buf); err != nil || string(buf) != signature {
		return nil, false, nil
	}

	var countBuf [4]byte
	if _, err := readFull(io, countBuf[:]); err != nil {
		return nil, false, nil
	}
	count := binary.LittleEndian.Uint32(countBuf[:])

	location := int64(8 + 17*int(count))
	entries := make([]unpacked.Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		nameBuf := make([]byte, 13)
		if _, err := readFull(io, nameBuf); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated mvl entry table").
				WithComponent("mvl").WithPath(name)
		}
		var sizeBuf [4]byte
		if _, err := readFull(io, sizeBuf[:]); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated mvl entry table").
				WithComponent("mvl").WithPath(name)
		}
		size := int64(binary.LittleEndian.Uint32(sizeBuf[:]))
		entries = append(entries, unpacked.Entry{Name: trimNull(nameBuf), StartPos: location, Size: size})
		location += size
	}

	return unpacked.New(io, name, entries, sortutil.ASCIICaseInsensitiveLess), true, nil
}

func trimNull(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
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
