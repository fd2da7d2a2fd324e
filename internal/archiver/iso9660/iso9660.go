// Package iso9660 implements the Archiver contract for ISO9660 CD-ROM disk
// images (.iso): a 2048-byte-sector volume with a "CD001" identifier at
// sector 16, a chain of volume descriptors ending in a type-255 terminator,
// and a tree of directory records reachable from the primary descriptor's
// root directory extent. Unlike the original lazy per-path directory walk,
// the whole tree is indexed once at open time into a flat entry table so
// lookups can go through the same internal/archiver/unpacked machinery as
// the other classic containers; Joliet (UCS-2) names are not decoded, only
// plain ISO9660 Level 1/2 names.
package iso9660

import (
	"encoding/binary"
	"strings"

	"github.com/physfsgo/physfs/internal/archiver/unpacked"
	"github.com/physfsgo/physfs/internal/sortutil"
	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

const (
	sectorSize          = 2048
	systemAreaSectors    = 16
	volumeDescriptorType = 1
	terminatorType       = 255

	flagDirectory = 0x02
)

type Archiver struct{}

func New() *Archiver { return &Archiver{} }

func (a *Archiver) Extension() string { return "iso" }

func (a *Archiver) OpenArchive(io pfsio.Io, name string, forWriting bool) (interface{}, bool, error) {
	if forWriting {
		return nil, false, pfserrors.New(pfserrors.CodeReadOnly, "iso9660 images are read-only").
			WithComponent("iso9660")
	}

	if err := io.Seek(int64(systemAreaSectors) * sectorSize); err != nil {
		return nil, false, nil
	}

	var rootExtent, rootSize uint32
	found := false

	for {
		sector := make([]byte, sectorSize)
		if _, err := readFull(io, sector); err != nil {
			return nil, false, nil
		}
		if string(sector[1:6]) != "CD001" {
			return nil, false, nil
		}

		typ := sector[0]
		if typ == terminatorType {
			break
		}
		if typ == volumeDescriptorType && !found {
			rootExtent = binary.LittleEndian.Uint32(sector[158:162])
			rootSize = binary.LittleEndian.Uint32(sector[166:170])
			found = true
		}
	}

	if !found {
		return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "no primary volume descriptor found").
			WithComponent("iso9660").WithPath(name)
	}

	var entries []unpacked.Entry
	if err := walkDirectory(io, rootExtent, rootSize, "", &entries); err != nil {
		return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "malformed iso9660 directory tree").
			WithComponent("iso9660").WithPath(name).WithCause(err)
	}

	return unpacked.New(io, name, entries, sortutil.ASCIICaseInsensitiveLess), true, nil
}

func walkDirectory(io pfsio.Io, extent, length uint32, prefix string, entries *[]unpacked.Entry) error {
	pos := int64(extent) * sectorSize
	end := pos + int64(length)

	for pos < end {
		if err := io.Seek(pos); err != nil {
			return err
		}

		var recordLenBuf [1]byte
		if _, err := io.Read(recordLenBuf[:]); err != nil {
			return err
		}
		recordLen := int(recordLenBuf[0])
		if recordLen == 0 {
			pos = ((pos / sectorSize) + 1) * sectorSize
			continue
		}

		rest := make([]byte, recordLen-1)
		if _, err := readFull(io, rest); err != nil {
			return err
		}
		record := append(recordLenBuf[:], rest...)
		pos += int64(recordLen)

		extAttrLen := int(record[1])
		extentLoc := binary.LittleEndian.Uint32(record[2:6])
		dataLen := binary.LittleEndian.Uint32(record[10:14])
		flags := record[25]
		filenameLen := int(record[32])
		if 33+filenameLen > len(record) {
			return pfserrors.New(pfserrors.CodeCorrupt, "truncated directory record")
		}
		filename := string(record[33 : 33+filenameLen])
		isDir := flags&flagDirectory != 0

		if filenameLen == 1 && (filename[0] == 0 || filename[0] == 1) {
			continue // "." and ".." self/parent entries
		}

		name := extractFileName(filename, isDir)
		fullPath := name
		if prefix != "" {
			fullPath = prefix + "/" + name
		}

		if isDir {
			if err := walkDirectory(io, extentLoc, dataLen, fullPath, entries); err != nil {
				return err
			}
		} else {
			*entries = append(*entries, unpacked.Entry{
				Name:     fullPath,
				StartPos: (int64(extentLoc) + int64(extAttrLen)) * sectorSize,
				Size:     int64(dataLen),
			})
		}
	}

	return nil
}

func extractFileName(raw string, isDir bool) string {
	if isDir {
		return raw
	}
	if idx := strings.LastIndexByte(raw, ';'); idx > 0 {
		raw = raw[:idx]
	}
	return strings.TrimSuffix(raw, ".")
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
