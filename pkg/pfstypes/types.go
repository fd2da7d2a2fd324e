// Package pfstypes defines the data model and backend contract shared by
// every archiver and by the mount engine built on top of them: file
// metadata (Stat), directory listings (DirEntry), the file-type enum, and
// the Archiver interface each archive format implements.
package pfstypes

import "github.com/physfsgo/physfs/pkg/pfsio"

// FileType classifies an entry resolved from an archiver.
type FileType int

const (
	FileTypeRegular FileType = iota
	FileTypeDirectory
	FileTypeSymlink
	FileTypeOther
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "regular"
	case FileTypeDirectory:
		return "directory"
	case FileTypeSymlink:
		return "symlink"
	default:
		return "other"
	}
}

// UnknownTime is the sentinel for a timestamp an archiver cannot supply.
const UnknownTime int64 = -1

// Stat describes a single entry's metadata as resolved through the mount
// engine. Timestamps an archiver cannot supply are UnknownTime.
type Stat struct {
	Filesize   int64
	ModTime    int64
	CreateTime int64
	AccessTime int64
	FileType   FileType
	ReadOnly   bool
}

// DirEntry is one name returned by an EnumerateCallback during a directory
// listing.
type DirEntry struct {
	Name string
}

// EnumerateResult tells EnumerateFiles's caller whether to keep going.
type EnumerateResult int

const (
	// EnumerateOK continues enumeration.
	EnumerateOK EnumerateResult = iota
	// EnumerateStop halts enumeration without error.
	EnumerateStop
	// EnumerateError halts enumeration and propagates an error.
	EnumerateError
)

// EnumerateCallback receives one directory entry at a time. origDir is the
// directory being enumerated, as supplied by the caller (unsanitized of
// trailing separators beyond what the mount engine already normalized).
type EnumerateCallback func(userdata interface{}, origDir, name string) EnumerateResult

// Archiver is the contract every archive backend implements: ZIP, the
// shared flat-namespace ("unpacked") backends (GRP/MVL/QPAK/WAD/SLB/POD/
// HOG), TAR, VDF, ISO9660, the container-only ROFS and 7z backends, and the
// plain-directory backend. The mount engine holds archivers behind this
// interface and never type-switches on a concrete backend.
//
// opaque is a backend-private handle returned by OpenArchive and threaded
// back into every subsequent call; CloseArchive releases it. Backends are
// free to make opaque any type they like (typically a pointer to their own
// per-archive state struct).
type Archiver interface {
	// Extension reports the case-insensitive extension this archiver
	// registers under (empty string for the directory archiver).
	Extension() string

	// OpenArchive inspects io (nil for the directory archiver, which reads
	// name directly from the native filesystem instead) and, if it
	// recognizes the format, returns an opaque per-archive handle. A
	// format mismatch is a soft failure: the mount engine tries the next
	// archiver in line rather than treating it as fatal.
	OpenArchive(io pfsio.Io, name string, forWriting bool) (opaque interface{}, recognized bool, err error)

	// OpenRead opens path for reading. exists is false (with a nil error)
	// when path is absent; any other failure is a real error.
	OpenRead(opaque interface{}, path string) (stream pfsio.Io, exists bool, err error)

	// OpenWrite truncates (or creates) path for writing. Archivers opened
	// read-only always fail this with pfserrors.CodeReadOnly.
	OpenWrite(opaque interface{}, path string) (pfsio.Io, error)

	// OpenAppend opens path for writing at its current end, creating it if
	// absent.
	OpenAppend(opaque interface{}, path string) (pfsio.Io, error)

	// EnumerateFiles lists the immediate children of dir, invoking cb once
	// per entry. omitSymlinks skips entries resolved as symlinks.
	EnumerateFiles(opaque interface{}, dir string, omitSymlinks bool, cb EnumerateCallback, userdata interface{}) error

	// Remove deletes a file or empty directory.
	Remove(opaque interface{}, path string) error

	// Mkdir creates a directory. Succeeds without error if it already
	// exists as a directory; fails if path exists as a file.
	Mkdir(opaque interface{}, path string) error

	// Stat resolves metadata for path. exists is false (with a nil error)
	// when path is absent.
	Stat(opaque interface{}, path string) (st Stat, exists bool, err error)

	// CloseArchive releases the opaque handle and any resources it holds.
	CloseArchive(opaque interface{}) error
}
