// Package tar implements the Archiver contract for POSIX/ustar tar archives
// (.tar): a sequence of 512-byte header blocks, each optionally followed by
// the file's data padded up to the next block boundary, terminated by a
// block of zero bytes. GNU long-name continuation blocks are supported;
// directory entries are not added to the entry table since the unpacked
// framework synthesizes directory stats from entry name prefixes.
package tar

import (
	"strconv"
	"strings"

	"github.com/physfsgo/physfs/internal/archiver/unpacked"
	"github.com/physfsgo/physfs/internal/sortutil"
	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

const (
	blockSize = 512
	magic     = "ustar"

	typeRegular  = '0'
	typeRegularA = 0
	typeDir      = '5'
	typeLongName = 'L'
)

type Archiver struct{}

func New() *Archiver { return &Archiver{} }

func (a *Archiver) Extension() string { return "tar" }

func (a *Archiver) OpenArchive(io pfsio.Io, name string, forWriting bool) (interface{}, bool, error) {
	if forWriting {
		return nil, false, pfserrors.New(pfserrors.CodeReadOnly, "tar archives are read-only").
			WithComponent("tar")
	}

	first := make([]byte, blockSize)
	if _, err := readFull(io, first); err != nil {
		return nil, false, nil
	}
	if !hasMagic(first) {
		return nil, false, nil
	}
	if err := io.Seek(0); err != nil {
		return nil, false, err
	}

	entries, err := loadEntries(io, name)
	if err != nil {
		return nil, true, err
	}

	return unpacked.New(io, name, entries, sortutil.CaseSensitiveLess), true, nil
}

func hasMagic(block []byte) bool {
	return len(block) >= 263 && string(block[257:262]) == magic
}

func loadEntries(io pfsio.Io, archiveName string) ([]unpacked.Entry, error) {
	var entries []unpacked.Entry
	longName := ""

	for {
		block := make([]byte, blockSize)
		n, err := io.Read(block)
		if err != nil || n < blockSize {
			return entries, nil
		}
		if isZeroBlock(block) {
			return entries, nil
		}

		typeflag := block[156]
		name := extractName(block)
		if longName != "" {
			name = longName
			longName = ""
		}

		switch {
		case typeflag == typeLongName:
			longName, err = readLongName(io, block)
			if err != nil {
				return nil, pfserrors.New(pfserrors.CodeCorrupt, "truncated tar long name entry").
					WithComponent("tar").WithPath(archiveName)
			}

		case typeflag == typeRegular || typeflag == typeRegularA:
			size, ok := decodeOctal(block[124:136])
			if !ok {
				return nil, pfserrors.New(pfserrors.CodeCorrupt, "malformed tar size field").
					WithComponent("tar").WithPath(archiveName)
			}
			startPos, err := io.Tell()
			if err != nil {
				return nil, err
			}
			pad := (blockSize - (size % blockSize)) % blockSize
			if err := io.Seek(startPos + size + pad); err != nil {
				return nil, pfserrors.New(pfserrors.CodeCorrupt, "truncated tar file data").
					WithComponent("tar").WithPath(archiveName)
			}
			entries = append(entries, unpacked.Entry{Name: name, StartPos: startPos, Size: size})

		case typeflag == typeDir:
			// directories are synthesized by the unpacked framework from entry prefixes.

		default:
			// unhandled header types (links, device nodes, extended headers) are skipped.
		}
	}
}

func readLongName(io pfsio.Io, header []byte) (string, error) {
	size, ok := decodeOctal(header[124:136])
	if !ok {
		return "", pfserrors.New(pfserrors.CodeCorrupt, "malformed tar long-name size field")
	}
	pad := (blockSize - (size % blockSize)) % blockSize
	buf := make([]byte, size+pad)
	if _, err := readFull(io, buf); err != nil {
		return "", err
	}
	return trimNull(buf[:size]), nil
}

func extractName(block []byte) string {
	prefix := trimNull(block[345:500])
	name := trimNull(block[0:100])
	if prefix != "" {
		return prefix + "/" + name
	}
	return name
}

func decodeOctal(field []byte) (int64, bool) {
	s := strings.TrimRight(strings.TrimRight(string(field), "\x00"), " ")
	s = strings.TrimLeft(s, " ")
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isZeroBlock(block []byte) bool {
	for _, b := range block {
		if b != 0 {
			return false
		}
	}
	return true
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
