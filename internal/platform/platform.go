// Package platform is the thin native-filesystem shim the directory
// archiver and the mount engine's symlink-policy walk sit on: file I/O,
// directory scanning, and symlink inspection, backed by real syscalls
// rather than a hand-rolled cgo layer.
package platform

import (
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

// Separator is the platform's native path separator.
const Separator = string(os.PathSeparator)

// Stat resolves native filesystem metadata for path without following a
// trailing symlink, translating it into the VFS Stat shape.
func Stat(path string) (pfstypes.Stat, bool, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		if os.IsNotExist(err) {
			return pfstypes.Stat{}, false, nil
		}
		return pfstypes.Stat{}, false, pfserrors.New(pfserrors.CodeOSError, "lstat failed").
			WithComponent("platform").WithPath(path).WithCause(err)
	}

	ft := pfstypes.FileTypeOther
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG:
		ft = pfstypes.FileTypeRegular
	case unix.S_IFDIR:
		ft = pfstypes.FileTypeDirectory
	case unix.S_IFLNK:
		ft = pfstypes.FileTypeSymlink
	}

	size := st.Size
	if ft == pfstypes.FileTypeDirectory {
		size = 0
	}

	return pfstypes.Stat{
		Filesize:   size,
		ModTime:    st.Mtim.Sec,
		CreateTime: st.Ctim.Sec,
		AccessTime: st.Atim.Sec,
		FileType:   ft,
		ReadOnly:   st.Mode&unix.S_IWUSR == 0,
	}, true, nil
}

// IsSymlink is a cheap check the directory archiver uses to omit symlinks
// from an enumeration.
func IsSymlink(path string) (bool, error) {
	st, exists, err := Stat(path)
	if err != nil || !exists {
		return false, err
	}
	return st.FileType == pfstypes.FileTypeSymlink, nil
}

// ReadDir returns the immediate child names of dir, sorted, matching the
// dirent-enumeration contract the directory archiver delegates to.
func ReadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pfserrors.New(pfserrors.CodeNotFound, "no such directory").
				WithComponent("platform").WithPath(dir)
		}
		return nil, pfserrors.New(pfserrors.CodeOSError, "readdir failed").
			WithComponent("platform").WithPath(dir).WithCause(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ToNative converts a sanitized '/'-separated virtual path to the native
// separator.
func ToNative(virtualPath string) string {
	if Separator == "/" {
		return virtualPath
	}
	return filepath.FromSlash(virtualPath)
}

// BaseDir returns the directory containing the running executable, the
// conventional anchor for locating bundled assets (PhysicsFS's "base dir").
func BaseDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", pfserrors.New(pfserrors.CodeOSError, "could not resolve executable path").
			WithComponent("platform").WithCause(err)
	}
	return filepath.Dir(exe), nil
}

// UserDir returns the calling user's home directory.
func UserDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", pfserrors.New(pfserrors.CodeOSError, "could not resolve home directory").
			WithComponent("platform").WithCause(err)
	}
	return home, nil
}

// PrefDir returns an application's writable preferences directory under
// the user's configuration root, creating it if absent: $XDG_CONFIG_HOME/
// <org>/<app>/, falling back to ~/.config/<org>/<app>/.
func PrefDir(org, app string) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", pfserrors.New(pfserrors.CodeOSError, "could not resolve config directory").
			WithComponent("platform").WithCause(err)
	}
	dir := filepath.Join(base, org, app)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", pfserrors.New(pfserrors.CodeOSError, "could not create preferences directory").
			WithComponent("platform").WithPath(dir).WithCause(err)
	}
	return dir, nil
}
