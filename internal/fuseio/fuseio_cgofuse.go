//go:build cgofuse
// +build cgofuse

// Package fuseio, cgofuse build: covers platforms (notably Windows, and
// macOS without a kernel FUSE extension) where hanwen/go-fuse's native
// /dev/fuse protocol has nothing to talk to, by going through WinFsp's
// FUSE-compatible C shim instead.
package fuseio

import (
	"strings"
	"sync"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/physfsgo/physfs/internal/handle"
	"github.com/physfsgo/physfs/internal/mount"
	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

// Config controls how the namespace is surfaced through FUSE.
type Config struct {
	MountPoint  string
	ReadOnly    bool
	AllowOther  bool
	DefaultUID  uint32
	DefaultGID  uint32
	DefaultMode uint32
}

// Filesystem adapts an engine and opener to cgofuse's fuse.FileSystemBase.
type Filesystem struct {
	fuse.FileSystemBase

	engine *mount.Engine
	opener *handle.Opener
	config Config

	mu        sync.Mutex
	host      *fuse.FileSystemHost
	openFiles map[uint64]*handle.FileHandle
	nextFh    uint64
}

// New wraps engine for exposure through FUSE.
func New(engine *mount.Engine, config Config) *Filesystem {
	if config.DefaultMode == 0 {
		config.DefaultMode = 0644
	}
	return &Filesystem{
		engine:    engine,
		opener:    handle.NewOpener(engine),
		config:    config,
		openFiles: make(map[uint64]*handle.FileHandle),
		nextFh:    1,
	}
}

// Mount starts serving the namespace at config.MountPoint. It blocks until
// Unmount is called; callers typically run it in its own goroutine.
func (f *Filesystem) Mount() error {
	f.mu.Lock()
	f.host = fuse.NewFileSystemHost(f)
	host := f.host
	f.mu.Unlock()

	options := []string{"-o", "fsname=physfs"}
	ok := host.Mount(f.config.MountPoint, options)
	if !ok {
		return pfserrors.New(pfserrors.CodeIO, "fuse mount failed").WithComponent("fuseio")
	}
	return nil
}

// Unmount requests the kernel tear down the mount.
func (f *Filesystem) Unmount() error {
	f.mu.Lock()
	host := f.host
	f.mu.Unlock()
	if host == nil {
		return pfserrors.New(pfserrors.CodeNotMounted, "filesystem is not mounted").WithComponent("fuseio")
	}
	if !host.Unmount() {
		return pfserrors.New(pfserrors.CodeIO, "fuse unmount failed").WithComponent("fuseio")
	}
	return nil
}

func vpath(path string) string { return strings.TrimPrefix(path, "/") }

func (f *Filesystem) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	if path == "/" {
		stat.Mode = fuse.S_IFDIR | 0755
		stat.Nlink = 2
		return 0
	}
	st, err := f.engine.Stat(vpath(path))
	if err != nil {
		return -fuse.ENOENT
	}
	fillStat(stat, st, f.config)
	return 0
}

func (f *Filesystem) Open(path string, flags int) (int, uint64) {
	h, err := f.opener.OpenRead(vpath(path))
	if err != nil {
		return errnoCgo(err), 0
	}
	return 0, f.track(h)
}

func (f *Filesystem) Create(path string, flags int, mode uint32) (int, uint64) {
	if f.config.ReadOnly {
		return -fuse.EROFS, 0
	}
	h, err := f.opener.OpenWrite(vpath(path))
	if err != nil {
		return errnoCgo(err), 0
	}
	return 0, f.track(h)
}

func (f *Filesystem) track(h *handle.FileHandle) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	fh := f.nextFh
	f.nextFh++
	f.openFiles[fh] = h
	return fh
}

func (f *Filesystem) handleFor(fh uint64) *handle.FileHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openFiles[fh]
}

func (f *Filesystem) Read(path string, buff []byte, ofst int64, fh uint64) int {
	h := f.handleFor(fh)
	if h == nil {
		return -fuse.EBADF
	}
	if err := h.Seek(ofst); err != nil {
		return errnoCgo(err)
	}
	n, err := h.Read(buff)
	if err != nil && n == 0 {
		return errnoCgo(err)
	}
	return n
}

func (f *Filesystem) Write(path string, buff []byte, ofst int64, fh uint64) int {
	if f.config.ReadOnly {
		return -fuse.EROFS
	}
	h := f.handleFor(fh)
	if h == nil {
		return -fuse.EBADF
	}
	if err := h.Seek(ofst); err != nil {
		return errnoCgo(err)
	}
	n, err := h.Write(buff)
	if err != nil {
		return errnoCgo(err)
	}
	return n
}

func (f *Filesystem) Flush(path string, fh uint64) int {
	h := f.handleFor(fh)
	if h == nil {
		return -fuse.EBADF
	}
	if err := h.Flush(); err != nil {
		return errnoCgo(err)
	}
	return 0
}

func (f *Filesystem) Release(path string, fh uint64) int {
	f.mu.Lock()
	h := f.openFiles[fh]
	delete(f.openFiles, fh)
	f.mu.Unlock()
	if h == nil {
		return -fuse.EBADF
	}
	if err := h.Close(); err != nil {
		return errnoCgo(err)
	}
	return 0
}

func (f *Filesystem) Mkdir(path string, mode uint32) int {
	if f.config.ReadOnly {
		return -fuse.EROFS
	}
	if err := f.engine.Mkdir(vpath(path)); err != nil {
		return errnoCgo(err)
	}
	return 0
}

func (f *Filesystem) Unlink(path string) int {
	if f.config.ReadOnly {
		return -fuse.EROFS
	}
	if err := f.engine.Remove(vpath(path)); err != nil {
		return errnoCgo(err)
	}
	return 0
}

func (f *Filesystem) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	fill(".", nil, 0)
	fill("..", nil, 0)

	err := f.engine.EnumerateFiles(vpath(path), func(_ interface{}, _, name string) pfstypes.EnumerateResult {
		if !fill(name, nil, 0) {
			return pfstypes.EnumerateStop
		}
		return pfstypes.EnumerateOK
	}, nil)
	if err != nil {
		return -fuse.EIO
	}
	return 0
}

func fillStat(stat *fuse.Stat_t, st pfstypes.Stat, cfg Config) {
	if st.FileType == pfstypes.FileTypeDirectory {
		stat.Mode = fuse.S_IFDIR | 0755
		stat.Nlink = 2
		return
	}
	stat.Mode = fuse.S_IFREG | cfg.DefaultMode
	stat.Nlink = 1
	stat.Size = st.Filesize
	if st.ModTime != pfstypes.UnknownTime {
		stat.Mtim.Sec = st.ModTime
		stat.Ctim.Sec = st.ModTime
		stat.Atim.Sec = st.ModTime
	}
}

func errnoCgo(err error) int {
	switch {
	case pfserrors.IsCode(err, pfserrors.CodeNotFound):
		return -fuse.ENOENT
	case pfserrors.IsCode(err, pfserrors.CodeReadOnly), pfserrors.IsCode(err, pfserrors.CodeNoWriteDir):
		return -fuse.EROFS
	case pfserrors.IsCode(err, pfserrors.CodeSymlinkForbidden):
		return -fuse.EACCES
	case pfserrors.IsCode(err, pfserrors.CodeDirNotEmpty):
		return -fuse.ENOTEMPTY
	case pfserrors.IsCode(err, pfserrors.CodeBadFilename):
		return -fuse.EINVAL
	default:
		return -fuse.EIO
	}
}
