// Package dirarchiver implements the directory archiver: the Archiver
// backend registered under the empty extension that exposes a real
// filesystem directory, and the only backend that implements write
// operations (remove, mkdir, openWrite, openAppend).
package dirarchiver

import (
	"os"
	"path/filepath"

	"github.com/physfsgo/physfs/internal/platform"
	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

// Archiver is the directory backend. It never inspects an Io: openArchive
// stats `name` directly on the native filesystem.
type Archiver struct{}

// New returns the directory archiver, registered under the empty
// extension.
func New() *Archiver { return &Archiver{} }

// Extension is empty: the directory archiver has no format signature and
// is selected explicitly by the mount engine when io is nil, never by
// extension-match trial.
func (a *Archiver) Extension() string { return "" }

// handle is the opaque state: the base native path with a trailing
// separator already appended.
type handle struct {
	base string
}

// OpenArchive stats name and fails unless it is a directory. io is ignored
// (and must be nil): this archiver reads the named path directly.
func (a *Archiver) OpenArchive(io pfsio.Io, name string, forWriting bool) (interface{}, bool, error) {
	st, exists, err := platform.Stat(name)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, pfserrors.New(pfserrors.CodeNotFound, "directory does not exist").
			WithComponent("dirarchiver").WithPath(name)
	}
	if st.FileType != pfstypes.FileTypeDirectory {
		return nil, false, nil // not recognized: let the mount engine try the next archiver
	}
	base := name
	if len(base) == 0 || base[len(base)-1] != os.PathSeparator {
		base += string(os.PathSeparator)
	}
	return &handle{base: base}, true, nil
}

func (a *Archiver) nativePath(opaque interface{}, vpath string) string {
	h := opaque.(*handle)
	return filepath.Join(h.base, platform.ToNative(vpath))
}

// OpenRead opens vpath for reading off the native filesystem.
func (a *Archiver) OpenRead(opaque interface{}, vpath string) (pfsio.Io, bool, error) {
	native := a.nativePath(opaque, vpath)
	st, exists, err := platform.Stat(native)
	if err != nil || !exists {
		return nil, false, err
	}
	if st.FileType == pfstypes.FileTypeDirectory {
		return nil, true, pfserrors.New(pfserrors.CodeNotAFile, "is a directory").
			WithComponent("dirarchiver").WithPath(vpath)
	}
	stream, err := pfsio.OpenNative(native, true)
	if err != nil {
		return nil, true, err
	}
	return stream, true, nil
}

// OpenWrite truncates (or creates) vpath for writing.
func (a *Archiver) OpenWrite(opaque interface{}, vpath string) (pfsio.Io, error) {
	native := a.nativePath(opaque, vpath)
	if err := os.MkdirAll(filepath.Dir(native), 0755); err != nil {
		return nil, pfserrors.New(pfserrors.CodeOSError, "mkdir for parent failed").
			WithComponent("dirarchiver").WithPath(vpath).WithCause(err)
	}
	if err := os.Truncate(native, 0); err != nil && !os.IsNotExist(err) {
		return nil, pfserrors.New(pfserrors.CodeIO, "truncate failed").
			WithComponent("dirarchiver").WithPath(vpath).WithCause(err)
	}
	return pfsio.OpenNative(native, false)
}

// OpenAppend opens vpath for writing at its current end, creating it if
// absent.
func (a *Archiver) OpenAppend(opaque interface{}, vpath string) (pfsio.Io, error) {
	native := a.nativePath(opaque, vpath)
	if err := os.MkdirAll(filepath.Dir(native), 0755); err != nil {
		return nil, pfserrors.New(pfserrors.CodeOSError, "mkdir for parent failed").
			WithComponent("dirarchiver").WithPath(vpath).WithCause(err)
	}
	stream, err := pfsio.OpenNative(native, false)
	if err != nil {
		return nil, err
	}
	length, err := stream.Length()
	if err != nil {
		stream.Destroy()
		return nil, err
	}
	if err := stream.Seek(length); err != nil {
		stream.Destroy()
		return nil, err
	}
	return stream, nil
}

// EnumerateFiles lists the immediate children of dir on the native
// filesystem.
func (a *Archiver) EnumerateFiles(opaque interface{}, dir string, omitSymlinks bool, cb pfstypes.EnumerateCallback, userdata interface{}) error {
	native := a.nativePath(opaque, dir)
	names, err := platform.ReadDir(native)
	if err != nil {
		if pfserrors.IsCode(err, pfserrors.CodeNotFound) {
			return nil
		}
		return err
	}
	for _, name := range names {
		if omitSymlinks {
			isLink, err := platform.IsSymlink(filepath.Join(native, name))
			if err != nil {
				return err
			}
			if isLink {
				continue
			}
		}
		switch cb(userdata, dir, name) {
		case pfstypes.EnumerateStop:
			return nil
		case pfstypes.EnumerateError:
			return pfserrors.New(pfserrors.CodeOther, "enumeration callback aborted").
				WithComponent("dirarchiver").WithPath(dir)
		}
	}
	return nil
}

// Remove deletes a file or empty directory.
func (a *Archiver) Remove(opaque interface{}, vpath string) error {
	native := a.nativePath(opaque, vpath)
	if err := os.Remove(native); err != nil {
		if os.IsNotExist(err) {
			return pfserrors.New(pfserrors.CodeNotFound, "no such file or directory").
				WithComponent("dirarchiver").WithPath(vpath)
		}
		if pe, ok := err.(*os.PathError); ok && pe.Err.Error() == "directory not empty" {
			return pfserrors.New(pfserrors.CodeDirNotEmpty, "directory not empty").
				WithComponent("dirarchiver").WithPath(vpath)
		}
		return pfserrors.New(pfserrors.CodeOSError, "remove failed").
			WithComponent("dirarchiver").WithPath(vpath).WithCause(err)
	}
	return nil
}

// Mkdir creates a directory, succeeding without error if it already exists
// as a directory.
func (a *Archiver) Mkdir(opaque interface{}, vpath string) error {
	native := a.nativePath(opaque, vpath)
	st, exists, err := platform.Stat(native)
	if err != nil {
		return err
	}
	if exists {
		if st.FileType == pfstypes.FileTypeDirectory {
			return nil
		}
		return pfserrors.New(pfserrors.CodeNotAFile, "path exists and is not a directory").
			WithComponent("dirarchiver").WithPath(vpath)
	}
	if err := os.MkdirAll(native, 0755); err != nil {
		return pfserrors.New(pfserrors.CodeOSError, "mkdir failed").
			WithComponent("dirarchiver").WithPath(vpath).WithCause(err)
	}
	return nil
}

// Stat resolves metadata for vpath.
func (a *Archiver) Stat(opaque interface{}, vpath string) (pfstypes.Stat, bool, error) {
	return platform.Stat(a.nativePath(opaque, vpath))
}

// CloseArchive releases the handle. The directory archiver holds no
// resources beyond the base path string.
func (a *Archiver) CloseArchive(opaque interface{}) error {
	return nil
}
