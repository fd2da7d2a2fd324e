// Package wad implements the Archiver contract for id Software DOOM-engine
// WAD archives (.wad): a 12-byte header ("IWAD"/"PWAD" + uint32 lump count
// + uint32 directory offset) followed by a directory of 16-byte
// {uint32 pos, uint32 size, 8-byte name} lumps. Zero-size lumps that look
// like a Doom map marker (ExMy / MAPxx) open a synthetic map directory;
// subsequent recognized map-data lumps are nested under it until the next
// marker or the first lump that is not map data.
package wad

import (
	"encoding/binary"
	"strings"

	"github.com/physfsgo/physfs/internal/archiver/unpacked"
	"github.com/physfsgo/physfs/internal/sortutil"
	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

var mapLumps = map[string]bool{
	"BEHAVIOR": true, "BLOCKMAP": true, "LINEDEFS": true, "NODES": true,
	"REJECT": true, "SECTORS": true, "SEGS": true, "SIDEDEFS": true,
	"SSECTORS": true, "THINGS": true, "VERTEXES": true,
}

type Archiver struct{}

func New() *Archiver { return &Archiver{} }

func (a *Archiver) Extension() string { return "wad" }

func (a *Archiver) OpenArchive(io pfsio.Io, name string, forWriting bool) (interface{}, bool, error) {
	if forWriting {
		return nil, false, pfserrors.New(pfserrors.CodeReadOnly, "wad archives are read-only").
			WithComponent("wad")
	}

	magic := make([]byte, 4)
	if _, err := readFull(io, magic); err != nil {
		return nil, false, nil
	}
	magicStr := string(magic)
	if magicStr != "IWAD" && magicStr != "PWAD" {
		return nil, false, nil
	}

	var countBuf, dirOfsBuf [4]byte
	if _, err := readFull(io, countBuf[:]); err != nil {
		return nil, false, nil
	}
	if _, err := readFull(io, dirOfsBuf[:]); err != nil {
		return nil, false, nil
	}
	count := binary.LittleEndian.Uint32(countBuf[:])
	dirOfs := int64(binary.LittleEndian.Uint32(dirOfsBuf[:]))

	if err := io.Seek(dirOfs); err != nil {
		return nil, true, err
	}

	entries := make([]unpacked.Entry, 0, count)
	parentMap := ""
	for i := uint32(0); i < count; i++ {
		var posBuf, sizeBuf [4]byte
		if _, err := readFull(io, posBuf[:]); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated wad directory").
				WithComponent("wad").WithPath(name)
		}
		if _, err := readFull(io, sizeBuf[:]); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated wad directory").
				WithComponent("wad").WithPath(name)
		}
		nameBuf := make([]byte, 8)
		if _, err := readFull(io, nameBuf); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated wad directory").
				WithComponent("wad").WithPath(name)
		}

		pos := int64(binary.LittleEndian.Uint32(posBuf[:]))
		size := int64(binary.LittleEndian.Uint32(sizeBuf[:]))
		lumpName := trimNull(nameBuf)

		var fullPath string
		if size == 0 && isDoomMapName(lumpName) {
			parentMap = lumpName
			continue // marker lumps carry no data of their own
		} else if parentMap != "" && mapLumps[lumpName] {
			fullPath = parentMap + "/" + lumpName
		} else {
			parentMap = ""
			fullPath = lumpName
		}

		entries = append(entries, unpacked.Entry{Name: fullPath, StartPos: pos, Size: size})
	}

	return unpacked.New(io, name, entries, sortutil.ASCIICaseInsensitiveLess), true, nil
}

func isDoomMapName(name string) bool {
	if len(name) == 4 && name[0] == 'E' && isDigit(name[1]) && name[2] == 'M' && isDigit(name[3]) {
		return true
	}
	if len(name) == 5 && strings.HasPrefix(name, "MAP") && isDigit(name[3]) && isDigit(name[4]) {
		return true
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

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
