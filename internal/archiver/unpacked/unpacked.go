// Package unpacked is the shared framework for archive formats that list
// uncompressed byte ranges in a flat namespace: a sorted entry table plus
// binary-search lookup, directory enumeration, and clamped read/seek over
// a single underlying Io. Concrete backends (grp, mvl, qpak, wad, slb, pod,
// hog, tar) implement only header/table-of-contents parsing and hand the
// parsed entries to this package for everything else.
package unpacked

import (
	"sort"
	"sync"

	"github.com/physfsgo/physfs/internal/sortutil"
	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

// Entry is one {name, startPos, size} record as listed by the archive's
// table of contents.
type Entry struct {
	Name     string
	StartPos int64
	Size     int64
}

// LessFunc orders two entry names for sorting and binary search. Backends
// pass sortutil.ASCIICaseInsensitiveLess (the legacy back-compat path used
// by GRP/MVL/QPAK/WAD/SLB/POD/HOG) or sortutil.CaseSensitiveLess (TAR).
type LessFunc func(a, b string) bool

// Archive is the opaque per-archive state returned by a backend's
// OpenArchive and threaded back through every framework call.
type Archive struct {
	mu      sync.Mutex
	io      pfsio.Io
	entries []Entry
	less    LessFunc
	name    string // source path, for error messages
}

// New builds framework state from a backend's parsed entries, sorting them
// under less. The caller's io is retained; callers must not use it again
// outside the returned Archive.
func New(io pfsio.Io, name string, entries []Entry, less LessFunc) *Archive {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i].Name, sorted[j].Name) })
	return &Archive{io: io, entries: sorted, less: less, name: name}
}

func (a *Archive) find(path string) (Entry, int, bool) {
	idx, found := sortutil.BinarySearch(len(a.entries), path, func(i int) string { return a.entries[i].Name }, a.less)
	if !found {
		return Entry{}, idx, false
	}
	return a.entries[idx], idx, true
}

// OpenRead opens path for reading as a clamped view over the shared
// underlying Io.
func (a *Archive) OpenRead(path string) (pfsio.Io, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, _, found := a.find(path)
	if !found {
		if a.hasDirectoryPrefix(path) {
			return nil, true, pfserrors.New(pfserrors.CodeNotAFile, "is a directory").
				WithComponent("unpacked").WithPath(path)
		}
		return nil, false, nil
	}
	dup, err := a.io.Duplicate()
	if err != nil {
		return nil, true, err
	}
	return newClampedIo(dup, entry.StartPos, entry.Size), true, nil
}

// Stat resolves metadata for path: a real entry, or a synthetic directory
// when path is a proper prefix of one or more entries.
func (a *Archive) Stat(path string) (pfstypes.Stat, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if entry, _, found := a.find(path); found {
		return pfstypes.Stat{
			Filesize:   entry.Size,
			ModTime:    pfstypes.UnknownTime,
			CreateTime: pfstypes.UnknownTime,
			AccessTime: pfstypes.UnknownTime,
			FileType:   pfstypes.FileTypeRegular,
			ReadOnly:   true,
		}, true, nil
	}
	if a.hasDirectoryPrefix(path) {
		return pfstypes.Stat{
			Filesize:   0,
			ModTime:    pfstypes.UnknownTime,
			CreateTime: pfstypes.UnknownTime,
			AccessTime: pfstypes.UnknownTime,
			FileType:   pfstypes.FileTypeDirectory,
			ReadOnly:   true,
		}, true, nil
	}
	return pfstypes.Stat{}, false, nil
}

func (a *Archive) hasDirectoryPrefix(path string) bool {
	if path == "" {
		return len(a.entries) > 0
	}
	prefix := path + "/"
	idx, _ := sortutil.BinarySearch(len(a.entries), prefix, func(i int) string { return a.entries[i].Name }, a.less)
	return idx < len(a.entries) && len(a.entries[idx].Name) >= len(prefix) && a.entries[idx].Name[:len(prefix)] == prefix
}

// EnumerateFiles reports the immediate children of dir by binary-searching
// for the first entry with dir as a "/"-terminated prefix, then walking
// forward while the prefix matches. Sub-directories are coalesced: their
// children are reported once as a synthetic directory name, not
// individually.
func (a *Archive) EnumerateFiles(dir string, cb pfstypes.EnumerateCallback, userdata interface{}) error {
	a.mu.Lock()
	entries := a.entries
	less := a.less
	a.mu.Unlock()

	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	idx, _ := sortutil.BinarySearch(len(entries), prefix, func(i int) string { return entries[i].Name }, less)

	reported := make(map[string]bool)
	for ; idx < len(entries); idx++ {
		name := entries[idx].Name
		if len(name) < len(prefix) || name[:len(prefix)] != prefix {
			break
		}
		rest := name[len(prefix):]
		child := rest
		if slash := indexByte(rest, '/'); slash >= 0 {
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
				WithComponent("unpacked").WithPath(dir)
		}
	}
	return nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Remove, Mkdir, OpenWrite, OpenAppend: archive-backed implementations are
// always read-only.
func (a *Archive) Remove(path string) error {
	return pfserrors.New(pfserrors.CodeReadOnly, "unpacked archives are read-only").
		WithComponent("unpacked").WithPath(path)
}

func (a *Archive) Mkdir(path string) error {
	return pfserrors.New(pfserrors.CodeReadOnly, "unpacked archives are read-only").
		WithComponent("unpacked").WithPath(path)
}

func (a *Archive) OpenWrite(path string) (pfsio.Io, error) {
	return nil, pfserrors.New(pfserrors.CodeReadOnly, "unpacked archives are read-only").
		WithComponent("unpacked").WithPath(path)
}

func (a *Archive) OpenAppend(path string) (pfsio.Io, error) {
	return nil, pfserrors.New(pfserrors.CodeReadOnly, "unpacked archives are read-only").
		WithComponent("unpacked").WithPath(path)
}

// Close destroys the shared underlying Io.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.io.Destroy()
}

// clampedIo restricts reads/seeks on an underlying Io to [start, start+size).
type clampedIo struct {
	io    pfsio.Io
	start int64
	size  int64
	pos   int64
}

func newClampedIo(io pfsio.Io, start, size int64) *clampedIo {
	return &clampedIo{io: io, start: start, size: size}
}

func (c *clampedIo) Read(p []byte) (int, error) {
	remaining := c.size - c.pos
	if remaining <= 0 {
		return 0, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	if err := c.io.Seek(c.start + c.pos); err != nil {
		return 0, err
	}
	n, err := c.io.Read(p)
	c.pos += int64(n)
	return n, err
}

func (c *clampedIo) Write(p []byte) (int, error) {
	return 0, pfserrors.New(pfserrors.CodeReadOnly, "unpacked entries are read-only")
}

func (c *clampedIo) Seek(pos int64) error {
	if pos < 0 || pos > c.size {
		return pfserrors.New(pfserrors.CodePastEOF, "seek past entry bounds")
	}
	c.pos = pos
	return nil
}

func (c *clampedIo) Tell() (int64, error) { return c.pos, nil }

func (c *clampedIo) Length() (int64, error) { return c.size, nil }

func (c *clampedIo) Duplicate() (pfsio.Io, error) {
	dup, err := c.io.Duplicate()
	if err != nil {
		return nil, err
	}
	return &clampedIo{io: dup, start: c.start, size: c.size}, nil
}

func (c *clampedIo) Flush() error { return nil }

func (c *clampedIo) Destroy() error { return c.io.Destroy() }
