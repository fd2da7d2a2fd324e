//go:build !cgofuse
// +build !cgofuse

// Package fuseio exposes a mount.Engine's virtual namespace through FUSE,
// so the union of every mounted archive can be bind-mounted into the real
// filesystem and read by ordinary programs. The default build uses
// hanwen/go-fuse's low-overhead node API; a cgofuse-tagged build (this
// file's counterpart) covers platforms lacking a native kernel FUSE driver.
package fuseio

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

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

// Filesystem adapts an engine and opener to the go-fuse node API. One
// Filesystem backs exactly one kernel mount point; the engine underneath
// it may have any number of archives mounted into its own search path.
type Filesystem struct {
	engine *mount.Engine
	opener *handle.Opener
	config Config
	server *fuse.Server
}

// New wraps engine for exposure through FUSE.
func New(engine *mount.Engine, config Config) *Filesystem {
	if config.DefaultMode == 0 {
		config.DefaultMode = 0644
	}
	return &Filesystem{engine: engine, opener: handle.NewOpener(engine), config: config}
}

// Mount starts serving the namespace at config.MountPoint. It blocks until
// Unmount is called from another goroutine or the kernel tears the mount
// down; callers typically run it in its own goroutine.
func (f *Filesystem) Mount() error {
	root := &dirNode{fs: f, path: ""}
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther: f.config.AllowOther,
			FsName:     "physfs",
			Name:       "physfs",
		},
	}
	server, err := fs.Mount(f.config.MountPoint, root, opts)
	if err != nil {
		return pfserrors.New(pfserrors.CodeIO, "fuse mount failed").
			WithComponent("fuseio").WithCause(err)
	}
	f.server = server
	server.Wait()
	return nil
}

// Unmount requests the kernel tear down the mount.
func (f *Filesystem) Unmount() error {
	if f.server == nil {
		return pfserrors.New(pfserrors.CodeNotMounted, "filesystem is not mounted").WithComponent("fuseio")
	}
	return f.server.Unmount()
}

type dirNode struct {
	fs.Inode
	fs   *Filesystem
	path string
}

func (n *dirNode) child(name string) string {
	if n.path == "" {
		return name
	}
	return n.path + "/" + name
}

func (n *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.child(name)
	st, err := n.fs.engine.Stat(childPath)
	if err != nil {
		return nil, syscall.ENOENT
	}
	fillAttr(&out.Attr, st, n.fs.config)
	return n.buildChild(ctx, name, childPath, st), 0
}

func (n *dirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	var entries []fuse.DirEntry
	err := n.fs.engine.EnumerateFiles(n.path, func(_ interface{}, _, name string) pfstypes.EnumerateResult {
		entries = append(entries, fuse.DirEntry{Name: name})
		return pfstypes.EnumerateOK
	}, nil)
	if err != nil {
		return nil, errnoFor(err)
	}
	return fs.NewListDirStream(entries), 0
}

func (n *dirNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fs.config.ReadOnly {
		return nil, syscall.EROFS
	}
	childPath := n.child(name)
	if err := n.fs.engine.Mkdir(childPath); err != nil {
		return nil, errnoFor(err)
	}
	st, err := n.fs.engine.Stat(childPath)
	if err != nil {
		return nil, errnoFor(err)
	}
	fillAttr(&out.Attr, st, n.fs.config)
	return n.buildChild(ctx, name, childPath, st), 0
}

func (n *dirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.fs.config.ReadOnly {
		return syscall.EROFS
	}
	if err := n.fs.engine.Remove(n.child(name)); err != nil {
		return errnoFor(err)
	}
	return 0
}

func (n *dirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if n.fs.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}
	childPath := n.child(name)
	h, err := n.fs.opener.OpenWrite(childPath)
	if err != nil {
		return nil, nil, 0, errnoFor(err)
	}
	node := &fileNode{fsys: n.fs, path: childPath}
	inode := n.NewInode(ctx, node, fs.StableAttr{Mode: fuse.S_IFREG})
	return inode, &openHandle{h: h}, 0, 0
}

func (n *dirNode) buildChild(ctx context.Context, name, childPath string, st pfstypes.Stat) *fs.Inode {
	if st.FileType == pfstypes.FileTypeDirectory {
		return n.NewInode(ctx, &dirNode{fs: n.fs, path: childPath}, fs.StableAttr{Mode: fuse.S_IFDIR})
	}
	return n.NewInode(ctx, &fileNode{fsys: n.fs, path: childPath}, fs.StableAttr{Mode: fuse.S_IFREG})
}

type fileNode struct {
	fs.Inode
	fsys *Filesystem
	path string
}

func (f *fileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	st, err := f.fsys.engine.Stat(f.path)
	if err != nil {
		return errnoFor(err)
	}
	fillAttr(&out.Attr, st, f.fsys.config)
	return 0
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	writeRequested := flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0
	if writeRequested && f.fsys.config.ReadOnly {
		return nil, 0, syscall.EROFS
	}
	var h *handle.FileHandle
	var err error
	switch {
	case flags&syscall.O_APPEND != 0:
		h, err = f.fsys.opener.OpenAppend(f.path)
	case writeRequested:
		h, err = f.fsys.opener.OpenWrite(f.path)
	default:
		h, err = f.fsys.opener.OpenRead(f.path)
	}
	if err != nil {
		return nil, 0, errnoFor(err)
	}
	return &openHandle{h: h}, 0, 0
}

func fillAttr(attr *fuse.Attr, st pfstypes.Stat, cfg Config) {
	if st.FileType == pfstypes.FileTypeDirectory {
		attr.Mode = syscall.S_IFDIR | 0755
		attr.Nlink = 2
	} else {
		attr.Mode = syscall.S_IFREG | cfg.DefaultMode
		attr.Nlink = 1
	}
	attr.Size = uint64(st.Filesize)
	attr.Uid = cfg.DefaultUID
	attr.Gid = cfg.DefaultGID
	if st.ModTime != pfstypes.UnknownTime {
		mtime := uint64(st.ModTime)
		attr.Mtime = mtime
		attr.Atime = mtime
		attr.Ctime = mtime
	}
}

// openHandle adapts an internal/handle.FileHandle to go-fuse's per-open
// FileHandle interface.
type openHandle struct {
	h *handle.FileHandle
}

func (o *openHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if err := o.h.Seek(off); err != nil {
		return nil, errnoFor(err)
	}
	n, err := readFull(o.h, dest)
	if err != nil {
		return nil, errnoFor(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (o *openHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if err := o.h.Seek(off); err != nil {
		return 0, errnoFor(err)
	}
	n, err := o.h.Write(data)
	if err != nil {
		return 0, errnoFor(err)
	}
	return uint32(n), 0
}

func (o *openHandle) Flush(ctx context.Context) syscall.Errno {
	if err := o.h.Flush(); err != nil {
		return errnoFor(err)
	}
	return 0
}

func (o *openHandle) Release(ctx context.Context) syscall.Errno {
	if err := o.h.Close(); err != nil {
		return errnoFor(err)
	}
	return 0
}

func readFull(h *handle.FileHandle, dest []byte) (int, error) {
	total := 0
	for total < len(dest) {
		n, err := h.Read(dest[total:])
		total += n
		if n == 0 || err != nil {
			return total, nil
		}
	}
	return total, nil
}

func errnoFor(err error) syscall.Errno {
	switch {
	case pfserrors.IsCode(err, pfserrors.CodeNotFound):
		return syscall.ENOENT
	case pfserrors.IsCode(err, pfserrors.CodeReadOnly):
		return syscall.EROFS
	case pfserrors.IsCode(err, pfserrors.CodeSymlinkForbidden):
		return syscall.EACCES
	case pfserrors.IsCode(err, pfserrors.CodeNoWriteDir):
		return syscall.EROFS
	case pfserrors.IsCode(err, pfserrors.CodeDirNotEmpty):
		return syscall.ENOTEMPTY
	case pfserrors.IsCode(err, pfserrors.CodeBadFilename):
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}
