// Package zip implements the Archiver contract for ZIP archives: an
// end-of-central-directory (EOCD) record scanned backward from the end of
// the file, a central directory of entries sorted case-sensitively for
// binary search, lazy per-entry resolution of the local file header, and a
// symlink graph resolved (with loop detection) the first time an entry is
// opened. Entries are held in a contiguous arena and referenced by index so
// the resolver can mutate resolve-state and symlink targets without
// aliasing a raw pointer across reallocation.
package zip

import (
	"encoding/binary"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/physfsgo/physfs/internal/sortutil"
	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

const (
	localFileSig  = 0x04034b50
	centralDirSig = 0x02014b50
	eocdSig       = 0x06054b50

	compressionStored = 0

	readBufSize = 16 * 1024

	unixFileTypeMask    = 0170000
	unixFileTypeSymlink = 0120000
)

type resolveState int

const (
	unresolvedFile resolveState = iota
	unresolvedSymlink
	resolving
	resolved
	brokenFile
	brokenSymlink
)

// entry is one ZIPentry record, held by value in archive.entries so the
// resolver can address it by stable index.
type entry struct {
	name             string
	symlink          int // index into archive.entries, or -1
	state            resolveState
	offset           int64 // local-header offset; rewritten to the data offset once resolved
	version          uint16
	versionNeeded    uint16
	compressionMethod uint16
	crc              uint32
	compressedSize   uint32
	uncompressedSize uint32
	lastModTime      int64
}

type archive struct {
	mu      sync.Mutex
	io      pfsio.Io
	name    string
	entries []entry
}

type Archiver struct{}

func New() *Archiver { return &Archiver{} }

func (a *Archiver) Extension() string { return "zip" }

func (a *Archiver) OpenArchive(io pfsio.Io, name string, forWriting bool) (interface{}, bool, error) {
	if forWriting {
		return nil, false, pfserrors.New(pfserrors.CodeReadOnly, "zip archives are read-only").
			WithComponent("zip")
	}

	if !looksLikeZip(io) {
		return nil, false, nil
	}

	dataStart, centralDirOfs, err := parseEndOfCentralDir(io)
	if err != nil {
		return nil, true, wrapErr(name, "malformed end-of-central-directory record", err)
	}

	entries, err := loadEntries(io, dataStart, centralDirOfs)
	if err != nil {
		return nil, true, wrapErr(name, "malformed central directory", err)
	}

	return &archive{io: io, name: name, entries: entries}, true, nil
}

// looksLikeZip matches isZip(): a quick check for a leading local-file
// signature, falling back to scanning for the EOCD record (for
// self-extracting archives with a prepended stub).
func looksLikeZip(io pfsio.Io) bool {
	if err := io.Seek(0); err != nil {
		return false
	}
	var buf [4]byte
	if _, err := readFull(io, buf[:]); err == nil && binary.LittleEndian.Uint32(buf[:]) == localFileSig {
		return true
	}
	if err := io.Seek(0); err != nil {
		return false
	}
	_, _, err := findEndOfCentralDir(io)
	return err == nil
}

// findEndOfCentralDir scans backward from the end of the stream (up to
// 64 KiB of zipfile comment plus the 22-byte EOCD record) for the EOCD
// signature, returning its absolute position and the stream length.
func findEndOfCentralDir(io pfsio.Io) (pos int64, length int64, err error) {
	length, err = io.Length()
	if err != nil || length < 0 {
		return 0, 0, pfserrors.New(pfserrors.CodeIO, "could not determine archive length").WithComponent("zip")
	}

	const maxCommentScan = 65557 // 64KiB comment + 22-byte EOCD + slack
	scanLen := length
	if scanLen > maxCommentScan {
		scanLen = maxCommentScan
	}

	start := length - scanLen
	buf := make([]byte, scanLen)
	if err := io.Seek(start); err != nil {
		return 0, 0, err
	}
	if _, err := readFull(io, buf); err != nil {
		return 0, 0, err
	}

	for i := len(buf) - 4; i >= 0; i-- {
		if buf[i] == 0x50 && buf[i+1] == 0x4B && buf[i+2] == 0x05 && buf[i+3] == 0x06 {
			return start + int64(i), length, nil
		}
	}
	return 0, 0, pfserrors.New(pfserrors.CodeCorrupt, "no end-of-central-directory record found").
		WithComponent("zip")
}

// parseEndOfCentralDir reproduces zip_parse_end_of_central_dir: it locates
// the EOCD, sanity-checks the single-disk fields, and derives how many
// bytes of arbitrary prefix data (self-extracting stub, etc) precede the
// archive so every offset in the central directory can be corrected.
func parseEndOfCentralDir(io pfsio.Io) (dataStart int64, centralDirOfs int64, err error) {
	pos, length, err := findEndOfCentralDir(io)
	if err != nil {
		return 0, 0, err
	}
	if err := io.Seek(pos); err != nil {
		return 0, 0, err
	}

	sig, err := readU32(io)
	if err != nil {
		return 0, 0, err
	}
	if sig != eocdSig {
		return 0, 0, pfserrors.New(pfserrors.CodeCorrupt, "not an archive").WithComponent("zip")
	}

	diskNum, err := readU16(io)
	if err != nil {
		return 0, 0, err
	}
	if diskNum != 0 {
		return 0, 0, unsupportedMultiDisk()
	}
	diskWithCentralDir, err := readU16(io)
	if err != nil {
		return 0, 0, err
	}
	if diskWithCentralDir != 0 {
		return 0, 0, unsupportedMultiDisk()
	}
	entriesOnDisk, err := readU16(io)
	if err != nil {
		return 0, 0, err
	}
	totalEntries, err := readU16(io)
	if err != nil {
		return 0, 0, err
	}
	if entriesOnDisk != totalEntries {
		return 0, 0, unsupportedMultiDisk()
	}
	centralDirSize, err := readU32(io)
	if err != nil {
		return 0, 0, err
	}
	centralDirOfsRaw, err := readU32(io)
	if err != nil {
		return 0, 0, err
	}
	if pos < int64(centralDirOfsRaw)+int64(centralDirSize) {
		return 0, 0, unsupportedMultiDisk()
	}

	dataStart = pos - (int64(centralDirOfsRaw) + int64(centralDirSize))
	centralDirOfs = int64(centralDirOfsRaw) + dataStart

	commentLen, err := readU16(io)
	if err != nil {
		return 0, 0, err
	}
	if pos+22+int64(commentLen) != length {
		return 0, 0, unsupportedMultiDisk()
	}

	return dataStart, centralDirOfs, nil
}

func unsupportedMultiDisk() error {
	return pfserrors.New(pfserrors.CodeUnsupported, "multi-disk or malformed zip archives are not supported").
		WithComponent("zip")
}

// loadEntries parses every central-directory record, applies dataStart as
// an offset fixup, and sorts the arena case-sensitively for binary search.
func loadEntries(io pfsio.Io, dataStart, centralDirOfs int64) ([]entry, error) {
	if err := io.Seek(centralDirOfs); err != nil {
		return nil, err
	}

	var entries []entry
	for {
		sig, err := peekU32(io)
		if err != nil {
			return nil, err
		}
		if sig != centralDirSig {
			break
		}
		e, err := loadOneEntry(io, dataStart)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	for i := range entries {
		entries[i].symlink = -1
	}

	sortEntries(entries)
	return entries, nil
}

func peekU32(io pfsio.Io) (uint32, error) {
	pos, err := io.Tell()
	if err != nil {
		return 0, err
	}
	v, err := readU32(io)
	if err != nil {
		return 0, err
	}
	if err := io.Seek(pos); err != nil {
		return 0, err
	}
	return v, nil
}

func loadOneEntry(io pfsio.Io, ofsFixup int64) (entry, error) {
	var e entry

	sig, err := readU32(io)
	if err != nil {
		return e, err
	}
	if sig != centralDirSig {
		return e, pfserrors.New(pfserrors.CodeCorrupt, "expected central directory record").WithComponent("zip")
	}

	if e.version, err = readU16(io); err != nil {
		return e, err
	}
	if e.versionNeeded, err = readU16(io); err != nil {
		return e, err
	}
	if _, err = readU16(io); err != nil { // general-purpose bits, unused
		return e, err
	}
	if e.compressionMethod, err = readU16(io); err != nil {
		return e, err
	}
	dosTime, err := readU32(io)
	if err != nil {
		return e, err
	}
	e.lastModTime = dosTimeToUnix(dosTime)
	if e.crc, err = readU32(io); err != nil {
		return e, err
	}
	if e.compressedSize, err = readU32(io); err != nil {
		return e, err
	}
	if e.uncompressedSize, err = readU32(io); err != nil {
		return e, err
	}
	nameLen, err := readU16(io)
	if err != nil {
		return e, err
	}
	extraLen, err := readU16(io)
	if err != nil {
		return e, err
	}
	commentLen, err := readU16(io)
	if err != nil {
		return e, err
	}
	if _, err = readU16(io); err != nil { // disk number start
		return e, err
	}
	if _, err = readU16(io); err != nil { // internal file attributes
		return e, err
	}
	externalAttr, err := readU32(io)
	if err != nil {
		return e, err
	}
	offset, err := readU32(io)
	if err != nil {
		return e, err
	}
	e.offset = int64(offset) + ofsFixup

	e.state = unresolvedFile
	if hasSymlinkAttr(e.version, e.uncompressedSize, externalAttr) {
		e.state = unresolvedSymlink
	}

	nameBuf := make([]byte, nameLen)
	if _, err := readFull(io, nameBuf); err != nil {
		return e, err
	}
	e.name = convertDOSPath(e.version, string(nameBuf))

	pos, err := io.Tell()
	if err != nil {
		return e, err
	}
	if err := io.Seek(pos + int64(extraLen) + int64(commentLen)); err != nil {
		return e, err
	}

	return e, nil
}

func sortEntries(entries []entry) {
	// Simple insertion sort keeps indices stable enough for the small
	// per-archive counts these backends see, and avoids pulling in a
	// sort.Slice closure that captures entries by index incorrectly once
	// symlink targets are set below.
	for i := 1; i < len(entries); i++ {
		j := i
		for j > 0 && sortutil.CaseSensitiveLess(entries[i].name, entries[j-1].name) {
			j--
		}
		if j != i {
			e := entries[i]
			copy(entries[j+1:i+1], entries[j:i])
			entries[j] = e
		}
	}
}

func hasSymlinkAttr(version uint16, uncompressedSize, externalAttr uint32) bool {
	xattr := (externalAttr >> 16) & 0xFFFF
	return versionDoesSymlinks(version) && uncompressedSize > 0 &&
		(xattr&unixFileTypeMask) == unixFileTypeSymlink
}

// versionDoesSymlinks matches zip_version_does_symlinks: most host types
// that wrote the "version made by" field cannot represent symlinks, so
// unless we recognize the host as Unix-like, never treat an entry as one.
func versionDoesSymlinks(version uint16) bool {
	switch hostType := uint8(version >> 8); hostType {
	case 0, 1, 2, 4, 6, 11, 13, 14, 15, 18:
		return false
	default:
		return true
	}
}

// convertDOSPath matches zip_convert_dos_path: archives written by old DOS
// zippers use backslashes, identified by host type FS_FAT (0).
func convertDOSPath(version uint16, name string) string {
	if uint8(version>>8) == 0 {
		return strings.ReplaceAll(name, "\\", "/")
	}
	return name
}

func dosTimeToUnix(packed uint32) int64 {
	dosDate := (packed >> 16) & 0xFFFF
	dosTime := packed & 0xFFFF

	year := int(((dosDate >> 9) & 0x7F) + 80 + 1900)
	month := int((dosDate >> 5) & 0x0F)
	day := int(dosDate & 0x1F)
	hour := int((dosTime >> 11) & 0x1F)
	min := int((dosTime >> 5) & 0x3F)
	sec := int((dosTime << 1) & 0x3E)

	t := time.Date(year, time.Month(month), day, hour, min, sec, 0, time.Local)
	return t.Unix()
}

func readU16(io pfsio.Io) (uint16, error) {
	var buf [2]byte
	if _, err := readFull(io, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func readU32(io pfsio.Io) (uint32, error) {
	var buf [4]byte
	if _, err := readFull(io, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
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

func wrapErr(name, msg string, cause error) error {
	return pfserrors.New(pfserrors.CodeCorrupt, msg).
		WithComponent("zip").WithPath(name).WithCause(cause)
}

func corruptEntry(name string) error {
	return pfserrors.New(pfserrors.CodeCorrupt, "local file header does not match central directory").
		WithComponent("zip").WithPath(name)
}

// findEntry implements zip_find_entry: a binary search over the
// case-sensitively sorted arena using name-prefix comparison, since a
// directory's presence is only ever implied by some entry using it as a
// path prefix — directories never get their own central-directory record.
func (a *archive) findEntry(path string) (idx int, isDir bool, found bool) {
	lo, hi := 0, len(a.entries)-1
	pathLen := len(path)

	for lo <= hi {
		mid := lo + (hi-lo)/2
		name := a.entries[mid].name
		rc := strings.Compare(path, truncate(name, pathLen))

		switch {
		case rc > 0:
			lo = mid + 1
		case rc < 0:
			hi = mid - 1
		default:
			if len(name) > pathLen && name[pathLen] == '/' {
				return 0, true, false
			}
			if len(name) == pathLen {
				return mid, false, true
			}
			if len(name) > pathLen && name[pathLen] > '/' {
				hi = mid - 1
			} else {
				lo = mid + 1
			}
		}
	}
	return 0, false, false
}

func truncate(s string, n int) string {
	if n > len(s) {
		return s
	}
	return s[:n]
}

// resolve implements zip_resolve: the one-time parse of the local file
// header and, for symlinks, the walk to the real entry. Subsequent calls
// on an already-resolved or permanently-broken entry are no-ops.
func (a *archive) resolve(idx int) error {
	e := &a.entries[idx]
	switch e.state {
	case brokenFile, brokenSymlink:
		return pfserrors.New(pfserrors.CodeCorrupt, "entry previously failed to resolve").
			WithComponent("zip").WithPath(e.name)
	case resolving:
		return pfserrors.New(pfserrors.CodeSymlinkLoop, "symlink loop detected").
			WithComponent("zip").WithPath(e.name)
	case resolved:
		return nil
	}

	wasSymlink := e.state == unresolvedSymlink
	e.state = resolving

	if err := a.parseLocal(idx); err != nil {
		e.state = brokenFileOrSymlink(wasSymlink)
		return err
	}

	if wasSymlink {
		if err := a.resolveSymlink(idx); err != nil {
			a.entries[idx].state = brokenSymlink
			return err
		}
	}

	a.entries[idx].state = resolved
	return nil
}

func brokenFileOrSymlink(wasSymlink bool) resolveState {
	if wasSymlink {
		return brokenSymlink
	}
	return brokenFile
}

// parseLocal matches zip_parse_local: it seeks to the local file header,
// cross-checks it against the central-directory record, and advances
// entry.offset past the header to the start of the entry's data.
func (a *archive) parseLocal(idx int) error {
	e := &a.entries[idx]

	if err := a.io.Seek(e.offset); err != nil {
		return err
	}
	sig, err := readU32(a.io)
	if err != nil {
		return err
	}
	if sig != localFileSig {
		return corruptEntry(e.name)
	}
	versionNeeded, err := readU16(a.io)
	if err != nil {
		return err
	}
	if versionNeeded != e.versionNeeded {
		return corruptEntry(e.name)
	}
	if _, err := readU16(a.io); err != nil { // general bits
		return err
	}
	compMethod, err := readU16(a.io)
	if err != nil {
		return err
	}
	if compMethod != e.compressionMethod {
		return corruptEntry(e.name)
	}
	if _, err := readU32(a.io); err != nil { // date/time
		return err
	}
	crc, err := readU32(a.io)
	if err != nil {
		return err
	}
	if crc != 0 && crc != e.crc {
		return corruptEntry(e.name)
	}
	compressedSize, err := readU32(a.io)
	if err != nil {
		return err
	}
	if compressedSize != 0 && compressedSize != e.compressedSize {
		return corruptEntry(e.name)
	}
	uncompressedSize, err := readU32(a.io)
	if err != nil {
		return err
	}
	if uncompressedSize != 0 && uncompressedSize != e.uncompressedSize {
		return corruptEntry(e.name)
	}
	nameLen, err := readU16(a.io)
	if err != nil {
		return err
	}
	extraLen, err := readU16(a.io)
	if err != nil {
		return err
	}

	e.offset += int64(nameLen) + int64(extraLen) + 30
	return nil
}

// resolveSymlink matches zip_resolve_symlink: the already-resolved local
// header puts us at the start of the entry's data, which for a symlink
// entry is the link target path, possibly deflate-compressed.
func (a *archive) resolveSymlink(idx int) error {
	e := a.entries[idx]

	if err := a.io.Seek(e.offset); err != nil {
		return err
	}

	raw := make([]byte, e.uncompressedSize)
	if e.compressionMethod == compressionStored {
		if _, err := readFull(a.io, raw); err != nil {
			return err
		}
	} else {
		fr := flate.NewReader(&limitedReader{r: a.io, remaining: int64(e.compressedSize)})
		defer fr.Close()
		if _, err := readFullReader(fr, raw); err != nil {
			return err
		}
	}

	target := expandSymlinkPath(convertDOSPath(e.version, string(raw)))
	return a.followSymlink(idx, target)
}

// followSymlink matches zip_follow_symlink: look up the (already
// path-expanded) target, resolve it recursively, and if it is itself a
// symlink, chase through to its final target.
func (a *archive) followSymlink(idx int, target string) error {
	targetIdx, isDir, found := a.findEntry(target)
	if isDir || !found {
		return pfserrors.New(pfserrors.CodeNotFound, "symlink target does not exist").
			WithComponent("zip").WithPath(target)
	}
	if err := a.resolve(targetIdx); err != nil {
		return err
	}
	final := targetIdx
	if a.entries[targetIdx].symlink >= 0 {
		final = a.entries[targetIdx].symlink
	}
	a.entries[idx].symlink = final
	return nil
}

// expandSymlinkPath matches zip_expand_symlink_path: resolve "." and ".."
// path components in a symlink's stored target, operating purely on the
// string (the original archive's link text is always "/"-separated).
func expandSymlinkPath(path string) string {
	parts := strings.Split(path, "/")
	var out []string
	for _, part := range parts {
		switch part {
		case ".", "":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}
	return strings.Join(out, "/")
}

func (a *Archiver) arc(opaque interface{}) *archive { return opaque.(*archive) }

func (a *Archiver) OpenRead(opaque interface{}, path string) (pfsio.Io, bool, error) {
	ar := a.arc(opaque)
	ar.mu.Lock()
	defer ar.mu.Unlock()

	idx, isDir, found := ar.findEntry(path)
	if isDir {
		return nil, true, pfserrors.New(pfserrors.CodeNotAFile, "is a directory").
			WithComponent("zip").WithPath(path)
	}
	if !found {
		return nil, false, nil
	}
	if err := ar.resolve(idx); err != nil {
		return nil, true, err
	}

	finalIdx := idx
	if ar.entries[idx].symlink >= 0 {
		finalIdx = ar.entries[idx].symlink
	}
	e := ar.entries[finalIdx]

	dup, err := ar.io.Duplicate()
	if err != nil {
		return nil, true, err
	}
	if err := dup.Seek(e.offset); err != nil {
		dup.Destroy()
		return nil, true, err
	}

	if e.compressionMethod == compressionStored {
		return &storedEntryIo{io: dup, size: int64(e.uncompressedSize)}, true, nil
	}
	return newInflateIo(dup, e.offset, int64(e.compressedSize), int64(e.uncompressedSize)), true, nil
}

func (a *Archiver) OpenWrite(opaque interface{}, path string) (pfsio.Io, error) {
	return nil, pfserrors.New(pfserrors.CodeReadOnly, "zip archives are read-only").WithComponent("zip")
}
func (a *Archiver) OpenAppend(opaque interface{}, path string) (pfsio.Io, error) {
	return nil, pfserrors.New(pfserrors.CodeReadOnly, "zip archives are read-only").WithComponent("zip")
}

func (a *Archiver) EnumerateFiles(opaque interface{}, dir string, omitSymlinks bool, cb pfstypes.EnumerateCallback, userdata interface{}) error {
	ar := a.arc(opaque)
	ar.mu.Lock()
	entries := ar.entries
	ar.mu.Unlock()

	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}

	idx, _ := sortutil.BinarySearch(len(entries), prefix, func(i int) string { return entries[i].name }, sortutil.CaseSensitiveLess)

	reported := make(map[string]bool)
	for ; idx < len(entries); idx++ {
		name := entries[idx].name
		if len(name) < len(prefix) || name[:len(prefix)] != prefix {
			break
		}
		rest := name[len(prefix):]
		child := rest
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			child = rest[:slash]
		}
		if child == "" || reported[child] {
			continue
		}
		reported[child] = true
		switch cb(userdata, dir, child) {
		case pfstypes.EnumerateStop:
			return nil
		case pfstypes.EnumerateError:
			return pfserrors.New(pfserrors.CodeOther, "enumeration callback aborted").
				WithComponent("zip").WithPath(dir)
		}
	}
	return nil
}

func (a *Archiver) Remove(opaque interface{}, path string) error {
	return pfserrors.New(pfserrors.CodeReadOnly, "zip archives are read-only").WithComponent("zip")
}
func (a *Archiver) Mkdir(opaque interface{}, path string) error {
	return pfserrors.New(pfserrors.CodeReadOnly, "zip archives are read-only").WithComponent("zip")
}

func (a *Archiver) Stat(opaque interface{}, path string) (pfstypes.Stat, bool, error) {
	ar := a.arc(opaque)
	ar.mu.Lock()
	defer ar.mu.Unlock()

	idx, isDir, found := ar.findEntry(path)
	if isDir {
		return pfstypes.Stat{
			FileType: pfstypes.FileTypeDirectory,
			ModTime:  pfstypes.UnknownTime, CreateTime: pfstypes.UnknownTime, AccessTime: pfstypes.UnknownTime,
			ReadOnly: true,
		}, true, nil
	}
	if !found {
		return pfstypes.Stat{}, false, nil
	}

	e := ar.entries[idx]
	st := pfstypes.Stat{
		ModTime:    e.lastModTime,
		CreateTime: e.lastModTime,
		AccessTime: pfstypes.UnknownTime,
		ReadOnly:   true,
	}
	if e.state == unresolvedSymlink || e.state == brokenSymlink || e.symlink >= 0 {
		st.FileType = pfstypes.FileTypeSymlink
		st.Filesize = 0
	} else {
		st.FileType = pfstypes.FileTypeRegular
		st.Filesize = int64(e.uncompressedSize)
	}
	return st, true, nil
}

func (a *Archiver) CloseArchive(opaque interface{}) error {
	return a.arc(opaque).io.Destroy()
}

// limitedReader adapts a pfsio.Io to io.Reader, stopping after a fixed
// number of bytes so flate's reader never reads into the next entry.
type limitedReader struct {
	r         pfsio.Io
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, nil
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}

func readFullReader(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	return n, err
}
