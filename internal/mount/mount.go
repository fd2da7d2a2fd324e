// Package mount implements the search-path engine: path sanitization,
// mount-point namespacing, the single write directory, symlink policy
// enforcement, and lookup across an ordered stack of opened archives.
package mount

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"github.com/physfsgo/physfs/internal/archiver/registry"
	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfslog"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

// Mount is one entry in the search path: an opened archive namespaced
// under point (canonical, trailing-slash form, or "" for the root).
type Mount struct {
	Source string

	point       string
	archiver    pfstypes.Archiver
	opaque      interface{}
	io          pfsio.Io // nil for the directory archiver, which owns its own native I/O
	openHandles int64
}

// Retain marks one more open FileHandle against this mount; Unmount and
// Shutdown refuse to proceed while any mount has a nonzero count.
func (m *Mount) Retain() { atomic.AddInt64(&m.openHandles, 1) }

// Release undoes a prior Retain.
func (m *Mount) Release() { atomic.AddInt64(&m.openHandles, -1) }

func (m *Mount) isBusy() bool { return atomic.LoadInt64(&m.openHandles) > 0 }

// Engine owns the mount stack and write directory, and is the only thing
// in this tree that understands mount-point namespacing.
type Engine struct {
	mu            sync.RWMutex
	registry      *registry.Registry
	mounts        []*Mount
	writeMount    *Mount
	allowSymlinks atomic.Bool
	log           *pfslog.Logger
}

// NewEngine returns an engine with an empty search path, consulting reg to
// recognize archive formats on Mount. log may be nil.
func NewEngine(reg *registry.Registry, log *pfslog.Logger) *Engine {
	return &Engine{registry: reg, log: log}
}

// SetAllowSymlinks toggles the process-wide symlink-traversal policy.
func (e *Engine) SetAllowSymlinks(allow bool) { e.allowSymlinks.Store(allow) }

// AllowSymlinks reports the current symlink-traversal policy.
func (e *Engine) AllowSymlinks() bool { return e.allowSymlinks.Load() }

// Sanitize rewrites a user-supplied virtual path into canonical form:
// leading slashes stripped, "\\" and ":" rejected, "." and ".." segments
// rejected, consecutive and trailing "/" collapsed away. The empty string
// canonicalizes to itself (the virtual root).
func Sanitize(raw string) (string, error) {
	if strings.ContainsAny(raw, "\\:") {
		return "", pfserrors.New(pfserrors.CodeBadFilename, "path contains a disallowed character").
			WithComponent("mount").WithPath(raw)
	}
	var segments []string
	for _, seg := range strings.Split(raw, "/") {
		if seg == "" {
			continue
		}
		if seg == "." || seg == ".." {
			return "", pfserrors.New(pfserrors.CodeBadFilename, "path segment '.' or '..' is not allowed").
				WithComponent("mount").WithPath(raw)
		}
		segments = append(segments, seg)
	}
	return strings.Join(segments, "/"), nil
}

// Mount opens source (via the directory archiver when io is nil, otherwise
// by trying registered archivers best-extension-match-first) and links it
// into the search path at mountPoint, prepending when appendToPath is
// false. Mounting a source already present is a no-op success.
func (e *Engine) Mount(io pfsio.Io, source, mountPoint string, appendToPath bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, m := range e.mounts {
		if m.Source == source {
			return nil
		}
	}

	canonicalPoint, err := Sanitize(mountPoint)
	if err != nil {
		return err
	}
	point := ""
	if canonicalPoint != "" {
		point = canonicalPoint + "/"
	}

	archiver, opaque, err := e.openSource(io, source)
	if err != nil {
		return err
	}

	m := &Mount{Source: source, point: point, archiver: archiver, opaque: opaque, io: io}
	if appendToPath {
		e.mounts = append(e.mounts, m)
	} else {
		e.mounts = append([]*Mount{m}, e.mounts...)
	}
	if e.log != nil {
		e.log.Info("mounted archive", map[string]interface{}{"source": source, "point": mountPoint})
	}
	return nil
}

func (e *Engine) openSource(io pfsio.Io, source string) (pfstypes.Archiver, interface{}, error) {
	if io == nil {
		dirArchiver, ok := e.registry.Directory()
		if !ok {
			return nil, nil, pfserrors.New(pfserrors.CodeUnsupported, "no directory archiver registered").
				WithComponent("mount")
		}
		opaque, recognized, err := dirArchiver.OpenArchive(nil, source, false)
		if err != nil {
			return nil, nil, err
		}
		if !recognized {
			return nil, nil, pfserrors.New(pfserrors.CodeNotFound, "source is not a directory").
				WithComponent("mount").WithPath(source)
		}
		return dirArchiver, opaque, nil
	}

	ext := extensionOf(source)
	for _, candidate := range e.registry.TrialOrder(ext) {
		opaque, recognized, err := candidate.OpenArchive(io, source, false)
		if err != nil {
			if recognized {
				// The signature matched this archiver; a further parse
				// failure is a real error, not a reason to keep trying.
				return nil, nil, err
			}
			continue
		}
		if recognized {
			return candidate, opaque, nil
		}
	}
	return nil, nil, pfserrors.New(pfserrors.CodeUnsupported, "no archiver recognized this source").
		WithComponent("mount").WithPath(source)
}

func extensionOf(source string) string {
	return strings.TrimPrefix(filepath.Ext(source), ".")
}

// Unmount closes and removes the mount whose source matches. Fails with
// CodeFilesStillOpen if any FileHandle is still open against it.
func (e *Engine) Unmount(source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, m := range e.mounts {
		if m.Source != source {
			continue
		}
		if m.isBusy() {
			return pfserrors.New(pfserrors.CodeFilesStillOpen, "mount has open file handles").
				WithComponent("mount").WithPath(source)
		}
		if err := m.archiver.CloseArchive(m.opaque); err != nil {
			return err
		}
		if m.io != nil {
			_ = m.io.Destroy()
		}
		e.mounts = append(e.mounts[:i], e.mounts[i+1:]...)
		return nil
	}
	return pfserrors.New(pfserrors.CodeNotMounted, "no such mount").WithComponent("mount").WithPath(source)
}

// SetWriteDir designates path (a real directory, opened through the
// directory archiver) as the sole write destination, replacing any
// previous one. An empty path clears it.
func (e *Engine) SetWriteDir(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if path == "" {
		e.writeMount = nil
		return nil
	}

	dirArchiver, ok := e.registry.Directory()
	if !ok {
		return pfserrors.New(pfserrors.CodeUnsupported, "no directory archiver registered").WithComponent("mount")
	}
	opaque, recognized, err := dirArchiver.OpenArchive(nil, path, true)
	if err != nil {
		return err
	}
	if !recognized {
		return pfserrors.New(pfserrors.CodeNotFound, "write directory does not exist").
			WithComponent("mount").WithPath(path)
	}
	e.writeMount = &Mount{Source: path, archiver: dirArchiver, opaque: opaque}
	return nil
}

// matchMount reports how vpath relates to m's namespace: archivePath is
// the path to hand the archive; atPoint is true when vpath names the
// mount point itself (a synthetic directory no archive entry backs).
func matchMount(m *Mount, vpath string) (archivePath string, atPoint bool, ok bool) {
	if m.point == "" {
		return vpath, false, true
	}
	trimmed := strings.TrimSuffix(m.point, "/")
	if vpath == trimmed {
		return "", true, true
	}
	if strings.HasPrefix(vpath, m.point) {
		return vpath[len(m.point):], false, true
	}
	return "", false, false
}

func checkSymlinkPolicy(m *Mount, archivePath string) error {
	if archivePath == "" {
		return nil
	}
	var prefix string
	for _, seg := range strings.Split(archivePath, "/") {
		if prefix == "" {
			prefix = seg
		} else {
			prefix = prefix + "/" + seg
		}
		st, exists, err := m.archiver.Stat(m.opaque, prefix)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		if st.FileType == pfstypes.FileTypeSymlink {
			return pfserrors.New(pfserrors.CodeSymlinkForbidden, "path traverses a symbolic link").
				WithComponent("mount").WithPath(prefix)
		}
	}
	return nil
}

func (e *Engine) snapshot() ([]*Mount, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	mounts := make([]*Mount, len(e.mounts))
	copy(mounts, e.mounts)
	return mounts, e.allowSymlinks.Load()
}

// OpenRead walks the search path head-to-tail and returns the stream from
// the first mount holding vpath. The caller must Release the returned
// Mount when the resulting stream is closed.
func (e *Engine) OpenRead(vpath string) (pfsio.Io, *Mount, error) {
	canonical, err := Sanitize(vpath)
	if err != nil {
		return nil, nil, err
	}
	mounts, allow := e.snapshot()

	for _, m := range mounts {
		archivePath, atPoint, ok := matchMount(m, canonical)
		if !ok || atPoint {
			continue // the mount point itself is a directory, never an openable file
		}
		if !allow {
			if err := checkSymlinkPolicy(m, archivePath); err != nil {
				return nil, nil, err
			}
		}
		stream, exists, err := m.archiver.OpenRead(m.opaque, archivePath)
		if err != nil {
			return nil, nil, err
		}
		if exists {
			m.Retain()
			return stream, m, nil
		}
	}
	return nil, nil, pfserrors.New(pfserrors.CodeNotFound, "no such file").WithComponent("mount").WithPath(vpath)
}

// OpenWrite consults only the write directory.
func (e *Engine) OpenWrite(vpath string) (pfsio.Io, *Mount, error) {
	return e.openForWriting(vpath, true)
}

// OpenAppend consults only the write directory.
func (e *Engine) OpenAppend(vpath string) (pfsio.Io, *Mount, error) {
	return e.openForWriting(vpath, false)
}

func (e *Engine) openForWriting(vpath string, truncate bool) (pfsio.Io, *Mount, error) {
	canonical, err := Sanitize(vpath)
	if err != nil {
		return nil, nil, err
	}
	e.mu.RLock()
	wm := e.writeMount
	e.mu.RUnlock()
	if wm == nil {
		return nil, nil, pfserrors.New(pfserrors.CodeNoWriteDir, "no write directory set").WithComponent("mount")
	}

	var stream pfsio.Io
	if truncate {
		stream, err = wm.archiver.OpenWrite(wm.opaque, canonical)
	} else {
		stream, err = wm.archiver.OpenAppend(wm.opaque, canonical)
	}
	if err != nil {
		return nil, nil, err
	}
	wm.Retain()
	return stream, wm, nil
}

// Remove deletes a file or empty directory from the write directory.
func (e *Engine) Remove(vpath string) error {
	canonical, err := Sanitize(vpath)
	if err != nil {
		return err
	}
	e.mu.RLock()
	wm := e.writeMount
	e.mu.RUnlock()
	if wm == nil {
		return pfserrors.New(pfserrors.CodeNoWriteDir, "no write directory set").WithComponent("mount")
	}
	return wm.archiver.Remove(wm.opaque, canonical)
}

// Mkdir creates a directory in the write directory.
func (e *Engine) Mkdir(vpath string) error {
	canonical, err := Sanitize(vpath)
	if err != nil {
		return err
	}
	e.mu.RLock()
	wm := e.writeMount
	e.mu.RUnlock()
	if wm == nil {
		return pfserrors.New(pfserrors.CodeNoWriteDir, "no write directory set").WithComponent("mount")
	}
	return wm.archiver.Mkdir(wm.opaque, canonical)
}

// Stat resolves metadata for vpath across the search path. A path naming a
// mount point is reported as a synthetic directory without consulting the
// backing archive.
func (e *Engine) Stat(vpath string) (pfstypes.Stat, error) {
	canonical, err := Sanitize(vpath)
	if err != nil {
		return pfstypes.Stat{}, err
	}
	if canonical == "" {
		return pfstypes.Stat{FileType: pfstypes.FileTypeDirectory}, nil
	}
	mounts, allow := e.snapshot()

	for _, m := range mounts {
		archivePath, atPoint, ok := matchMount(m, canonical)
		if !ok {
			continue
		}
		if atPoint {
			return pfstypes.Stat{FileType: pfstypes.FileTypeDirectory}, nil
		}
		if !allow {
			if err := checkSymlinkPolicy(m, archivePath); err != nil {
				return pfstypes.Stat{}, err
			}
		}
		st, exists, err := m.archiver.Stat(m.opaque, archivePath)
		if err != nil {
			return pfstypes.Stat{}, err
		}
		if exists {
			return st, nil
		}
	}
	return pfstypes.Stat{}, pfserrors.New(pfserrors.CodeNotFound, "no such file or directory").
		WithComponent("mount").WithPath(vpath)
}

// GetRealDir returns the source path of the first mount whose archive has
// vpath, or whose mount point covers it.
func (e *Engine) GetRealDir(vpath string) (string, bool) {
	canonical, err := Sanitize(vpath)
	if err != nil {
		return "", false
	}
	mounts, _ := e.snapshot()

	for _, m := range mounts {
		archivePath, atPoint, ok := matchMount(m, canonical)
		if !ok {
			continue
		}
		if atPoint {
			return m.Source, true
		}
		_, exists, err := m.archiver.Stat(m.opaque, archivePath)
		if err == nil && exists {
			return m.Source, true
		}
	}
	return "", false
}

// EnumerateFiles lists the union of every mount's children of dir, plus a
// synthetic entry for each mount whose point is directly nested under dir.
// Per-mount scans run concurrently (they're independent I/O, and ordering
// doesn't matter the way it does for OpenRead/Stat); the callback itself
// always runs serially on the caller's goroutine, in sorted name order.
func (e *Engine) EnumerateFiles(dir string, cb pfstypes.EnumerateCallback, userdata interface{}) error {
	canonical, err := Sanitize(dir)
	if err != nil {
		return err
	}
	mounts, allow := e.snapshot()

	var mu sync.Mutex
	names := make(map[string]struct{})
	var scanErr error

	var wg conc.WaitGroup
	for _, m := range mounts {
		m := m
		archivePath, _, ok := matchMount(m, canonical)
		if !ok {
			continue
		}
		wg.Go(func() {
			collected := make(map[string]struct{})
			collect := func(_ interface{}, _ string, name string) pfstypes.EnumerateResult {
				collected[name] = struct{}{}
				return pfstypes.EnumerateOK
			}
			err := m.archiver.EnumerateFiles(m.opaque, archivePath, !allow, collect, nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				scanErr = multierr.Append(scanErr, err)
				return
			}
			for name := range collected {
				names[name] = struct{}{}
			}
		})
	}
	wg.Wait()
	if scanErr != nil {
		return scanErr
	}

	prefix := canonical
	if prefix != "" {
		prefix += "/"
	}
	for _, m := range mounts {
		if m.point == "" {
			continue
		}
		trimmed := strings.TrimSuffix(m.point, "/")
		if trimmed == canonical {
			continue // the mount point itself, already enumerated as that mount's root above
		}
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		rest := trimmed[len(prefix):]
		if rest == "" {
			continue
		}
		child := rest
		if idx := strings.Index(rest, "/"); idx >= 0 {
			child = rest[:idx]
		}
		names[child] = struct{}{}
	}

	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		switch cb(userdata, dir, name) {
		case pfstypes.EnumerateStop:
			return nil
		case pfstypes.EnumerateError:
			return pfserrors.New(pfserrors.CodeOther, "enumeration callback aborted").
				WithComponent("mount").WithPath(dir)
		}
	}
	return nil
}

// Shutdown refuses (aggregating every busy mount via multierr) while any
// mount, including the write directory, still has open handles; otherwise
// it closes every mount and clears the search path.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var busyErr error
	if e.writeMount != nil && e.writeMount.isBusy() {
		busyErr = multierr.Append(busyErr, pfserrors.New(pfserrors.CodeFilesStillOpen, "write directory has open handles").
			WithComponent("mount").WithPath(e.writeMount.Source))
	}
	for _, m := range e.mounts {
		if m.isBusy() {
			busyErr = multierr.Append(busyErr, pfserrors.New(pfserrors.CodeFilesStillOpen, "mount has open handles").
				WithComponent("mount").WithPath(m.Source))
		}
	}
	if busyErr != nil {
		return busyErr
	}

	var closeErr error
	for _, m := range e.mounts {
		if err := m.archiver.CloseArchive(m.opaque); err != nil {
			closeErr = multierr.Append(closeErr, err)
		}
		if m.io != nil {
			_ = m.io.Destroy()
		}
	}
	if e.writeMount != nil {
		if err := e.writeMount.archiver.CloseArchive(e.writeMount.opaque); err != nil {
			closeErr = multierr.Append(closeErr, err)
		}
	}
	e.mounts = nil
	e.writeMount = nil
	return closeErr
}

// Mounted reports whether source is currently in the search path.
func (e *Engine) Mounted(source string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, m := range e.mounts {
		if m.Source == source {
			return true
		}
	}
	return false
}
