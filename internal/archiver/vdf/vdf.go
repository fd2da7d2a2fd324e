// Package vdf implements the Archiver contract for Gothic I/II "VDF"
// archives: a 296-byte header (comment, one of two fixed signature strings,
// entry/file counts, a DOS-encoded timestamp, and a root catalog offset)
// followed by a flat table of 80-byte entries (name, data offset, size,
// type, attributes). Unlike the other classic container backends this
// format has no natural sort order suited to binary search, so lookups go
// through a hashtable keyed by an xxhash digest of the upper-cased name,
// mirroring the original driver's CRC16 bucket table but built on a faster,
// better-distributed hash.
package vdf

import (
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

const (
	headerCommentLen   = 256
	headerSignatureLen = 16
	entryNameLen       = 64
	entryFlagDir       = 0x80000000
	headerVersion      = 0x50
)

var signatureG1 = []byte("PSVDSC_V2.00\r\n\r\n")
var signatureG2 = []byte("PSVDSC_V2.00\n\r\n\r")

type entry struct {
	name       string
	jump       int64
	size       int64
	isDir      bool
	attributes uint32
}

type archive struct {
	mu        sync.RWMutex
	io        pfsio.Io
	timestamp int64
	table     map[uint64][]*entry
}

type Archiver struct{}

func New() *Archiver { return &Archiver{} }

func (a *Archiver) Extension() string { return "vdf" }

func (a *Archiver) OpenArchive(io pfsio.Io, name string, forWriting bool) (interface{}, bool, error) {
	if forWriting {
		return nil, false, pfserrors.New(pfserrors.CodeReadOnly, "vdf archives are read-only").
			WithComponent("vdf")
	}

	header := make([]byte, headerCommentLen+headerSignatureLen+4*6)
	if _, err := readFull(io, header); err != nil {
		return nil, false, nil
	}

	signature := header[headerCommentLen : headerCommentLen+headerSignatureLen]
	if !byteSliceEqual(signature, signatureG1) && !byteSliceEqual(signature, signatureG2) {
		return nil, false, nil
	}

	fields := header[headerCommentLen+headerSignatureLen:]
	numEntries := binary.LittleEndian.Uint32(fields[0:4])
	dosTime := binary.LittleEndian.Uint32(fields[8:12])
	version := binary.LittleEndian.Uint32(fields[20:24])

	if version != headerVersion {
		return nil, true, pfserrors.New(pfserrors.CodeUnsupported, "unsupported vdf version").
			WithComponent("vdf").WithPath(name)
	}

	arc := &archive{
		io:        io,
		timestamp: dosTimeToEpoch(dosTime),
		table:     make(map[uint64][]*entry),
	}

	for i := uint32(0); i < numEntries; i++ {
		buf := make([]byte, entryNameLen+16)
		if _, err := readFull(io, buf); err != nil {
			return nil, true, pfserrors.New(pfserrors.CodeCorrupt, "truncated vdf entry table").
				WithComponent("vdf").WithPath(name)
		}

		entryName := truncateName(buf[:entryNameLen])
		entryName = strings.ReplaceAll(entryName, "\\", "/")
		rest := buf[entryNameLen:]
		jump := binary.LittleEndian.Uint32(rest[0:4])
		size := binary.LittleEndian.Uint32(rest[4:8])
		typ := binary.LittleEndian.Uint32(rest[8:12])
		attrs := binary.LittleEndian.Uint32(rest[12:16])

		e := &entry{
			name:       entryName,
			jump:       int64(jump),
			size:       int64(size),
			isDir:      typ&entryFlagDir != 0,
			attributes: attrs,
		}
		key := hashName(entryName)
		arc.table[key] = append(arc.table[key], e)
	}

	return arc, true, nil
}

func hashName(name string) uint64 {
	return xxhash.Sum64String(strings.ToUpper(name))
}

func truncateName(buf []byte) string {
	s := string(buf)
	if idx := strings.IndexByte(s, 0); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimRight(s, " \t\r\n")
}

func dosTimeToEpoch(raw uint32) int64 {
	seconds := int(raw & 0x1F)
	minutes := int((raw >> 5) & 0x3F)
	hour := int((raw >> 11) & 0x1F)
	day := int((raw >> 16) & 0x1F)
	month := int((raw >> 20) & 0x0F)
	year := int((raw >> 24) & 0x7F)

	t := time.Date(1980+year, time.Month(month), day, hour, minutes, seconds*2, 0, time.UTC)
	return t.Unix()
}

func byteSliceEqual(a, b []byte) bool {
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

func (a *Archiver) arc(opaque interface{}) *archive { return opaque.(*archive) }

func (a *Archiver) findFile(arc *archive, path string) *entry {
	key := hashName(path)
	upper := strings.ToUpper(path)
	for _, e := range arc.table[key] {
		if !e.isDir && strings.ToUpper(e.name) == upper {
			return e
		}
	}
	return nil
}

func (a *Archiver) OpenRead(opaque interface{}, path string) (pfsio.Io, bool, error) {
	arc := a.arc(opaque)
	arc.mu.RLock()
	defer arc.mu.RUnlock()

	e := a.findFile(arc, path)
	if e == nil {
		return nil, false, nil
	}

	dup, err := arc.io.Duplicate()
	if err != nil {
		return nil, true, err
	}
	if err := dup.Seek(e.jump); err != nil {
		dup.Destroy()
		return nil, true, err
	}

	return &clampedIo{io: dup, length: e.size}, true, nil
}

func (a *Archiver) OpenWrite(opaque interface{}, path string) (pfsio.Io, error) {
	return nil, pfserrors.New(pfserrors.CodeReadOnly, "vdf archives are read-only").WithComponent("vdf")
}
func (a *Archiver) OpenAppend(opaque interface{}, path string) (pfsio.Io, error) {
	return nil, pfserrors.New(pfserrors.CodeReadOnly, "vdf archives are read-only").WithComponent("vdf")
}

func (a *Archiver) EnumerateFiles(opaque interface{}, dir string, omitSymlinks bool, cb pfstypes.EnumerateCallback, userdata interface{}) error {
	arc := a.arc(opaque)
	arc.mu.RLock()
	defer arc.mu.RUnlock()

	if dir != "" {
		return nil // the original format has no directory tree to walk below the root.
	}

	for _, bucket := range arc.table {
		for _, e := range bucket {
			if e.isDir {
				continue
			}
			if cb(userdata, dir, e.name) == pfstypes.EnumerateStop {
				return nil
			}
		}
	}
	return nil
}

func (a *Archiver) Remove(opaque interface{}, path string) error {
	return pfserrors.New(pfserrors.CodeReadOnly, "vdf archives are read-only").WithComponent("vdf")
}
func (a *Archiver) Mkdir(opaque interface{}, path string) error {
	return pfserrors.New(pfserrors.CodeReadOnly, "vdf archives are read-only").WithComponent("vdf")
}

func (a *Archiver) Stat(opaque interface{}, path string) (pfstypes.Stat, bool, error) {
	arc := a.arc(opaque)
	arc.mu.RLock()
	defer arc.mu.RUnlock()

	e := a.findFile(arc, path)
	if e == nil {
		return pfstypes.Stat{}, false, nil
	}
	return pfstypes.Stat{
		Filesize:   e.size,
		ModTime:    arc.timestamp,
		CreateTime: arc.timestamp,
		AccessTime: pfstypes.UnknownTime,
		FileType:   pfstypes.FileTypeRegular,
		ReadOnly:   true,
	}, true, nil
}

func (a *Archiver) CloseArchive(opaque interface{}) error {
	return a.arc(opaque).io.Destroy()
}

type clampedIo struct {
	io     pfsio.Io
	pos    int64
	length int64
}

func (c *clampedIo) Read(buf []byte) (int, error) {
	remaining := c.length - c.pos
	if remaining <= 0 {
		return 0, nil
	}
	if int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	n, err := c.io.Read(buf)
	c.pos += int64(n)
	return n, err
}

func (c *clampedIo) Write([]byte) (int, error) {
	return 0, pfserrors.New(pfserrors.CodeReadOnly, "vdf entries are read-only").WithComponent("vdf")
}

func (c *clampedIo) Seek(offset int64) error {
	if offset < 0 || offset > c.length {
		return pfserrors.New(pfserrors.CodePastEOF, "seek past entry bounds").WithComponent("vdf")
	}
	at, err := c.io.Tell()
	if err != nil {
		return err
	}
	if err := c.io.Seek(at - c.pos + offset); err != nil {
		return err
	}
	c.pos = offset
	return nil
}

func (c *clampedIo) Tell() (int64, error) { return c.pos, nil }
func (c *clampedIo) Length() (int64, error) { return c.length, nil }

func (c *clampedIo) Duplicate() (pfsio.Io, error) {
	at, err := c.io.Tell()
	if err != nil {
		return nil, err
	}
	dup, err := c.io.Duplicate()
	if err != nil {
		return nil, err
	}
	if err := dup.Seek(at); err != nil {
		dup.Destroy()
		return nil, err
	}
	return &clampedIo{io: dup, pos: c.pos, length: c.length}, nil
}

func (c *clampedIo) Flush() error { return nil }

func (c *clampedIo) Destroy() error { return c.io.Destroy() }
