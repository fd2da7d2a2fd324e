// Package physfs is the top-level entry point for embedding the virtual
// file system: it wires the mount engine, the built-in archiver registry,
// the buffered file-handle layer, and the optional metrics/health/cache/
// FUSE components into one Instance, mirroring PHYSFS_init's role as the
// single call an application makes before mounting anything.
package physfs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/physfsgo/physfs/internal/archiver/dirarchiver"
	"github.com/physfsgo/physfs/internal/archiver/grp"
	"github.com/physfsgo/physfs/internal/archiver/hog"
	"github.com/physfsgo/physfs/internal/archiver/iso9660"
	"github.com/physfsgo/physfs/internal/archiver/mvl"
	"github.com/physfsgo/physfs/internal/archiver/pod"
	"github.com/physfsgo/physfs/internal/archiver/qpak"
	"github.com/physfsgo/physfs/internal/archiver/registry"
	"github.com/physfsgo/physfs/internal/archiver/rofs"
	"github.com/physfsgo/physfs/internal/archiver/sevenzip"
	"github.com/physfsgo/physfs/internal/archiver/slb"
	"github.com/physfsgo/physfs/internal/archiver/tar"
	"github.com/physfsgo/physfs/internal/archiver/vdf"
	"github.com/physfsgo/physfs/internal/archiver/wad"
	"github.com/physfsgo/physfs/internal/archiver/zip"
	"github.com/physfsgo/physfs/internal/fuseio"
	"github.com/physfsgo/physfs/internal/handle"
	"github.com/physfsgo/physfs/internal/mount"
	"github.com/physfsgo/physfs/internal/pfscache"
	"github.com/physfsgo/physfs/internal/pfshealth"
	"github.com/physfsgo/physfs/internal/pfsmetrics"
	"github.com/physfsgo/physfs/internal/pfsrecovery"
	"github.com/physfsgo/physfs/internal/platform"
	"github.com/physfsgo/physfs/pkg/pfsconfig"
	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
	"github.com/physfsgo/physfs/pkg/pfslog"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

// Instance is one initialized physfs VFS: a mount engine, its archiver
// registry, and whichever optional components config.go turned on.
type Instance struct {
	config  *pfsconfig.Configuration
	log     *pfslog.Logger
	registry *registry.Registry
	engine  *mount.Engine
	opener  *handle.Opener
	metrics *pfsmetrics.Collector
	health  *pfshealth.Tracker
	cache   *pfscache.Cache
	fuse    *fuseio.Filesystem
	retry   *pfsrecovery.Retryer

	mu         sync.Mutex
	healthStop context.CancelFunc
}

// Init builds an Instance from config: registers every built-in archiver,
// constructs the mount engine and file-handle opener, and brings up
// whichever of the cache/metrics/health-check/FUSE subsystems config
// enables. Callers should Deinit the returned Instance when done.
func Init(config *pfsconfig.Configuration) (*Instance, error) {
	if config == nil {
		config = pfsconfig.NewDefault()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("physfs: invalid configuration: %w", err)
	}

	log, err := newLogger(config)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	for _, a := range builtinArchivers() {
		if err := reg.Register(a); err != nil {
			return nil, fmt.Errorf("physfs: registering %s archiver: %w", a.Extension(), err)
		}
	}

	engine := mount.NewEngine(reg, log)
	engine.SetAllowSymlinks(config.Mount.AllowSymlinks)
	opener := handle.NewOpener(engine)

	inst := &Instance{
		config:   config,
		log:      log,
		registry: reg,
		engine:   engine,
		opener:   opener,
		retry:    pfsrecovery.New(pfsrecovery.DefaultConfig(), nil),
	}

	if err := inst.initCache(); err != nil {
		return nil, err
	}
	if err := inst.initMetrics(); err != nil {
		return nil, err
	}
	inst.initHealth()

	if config.Mount.WriteDir != "" {
		if err := engine.SetWriteDir(config.Mount.WriteDir); err != nil {
			return nil, fmt.Errorf("physfs: setting write dir: %w", err)
		}
	}
	for _, p := range config.Mount.SearchPath {
		if err := inst.Mount(p, "", true); err != nil {
			return nil, fmt.Errorf("physfs: mounting search path entry %q: %w", p, err)
		}
	}

	if config.FUSE.Enabled {
		if err := inst.initFUSE(); err != nil {
			return nil, err
		}
	}

	return inst, nil
}

func newLogger(config *pfsconfig.Configuration) (*pfslog.Logger, error) {
	level, err := pfslog.ParseLevel(config.Global.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("physfs: %w", err)
	}
	format := pfslog.FormatText
	if config.Global.LogFormat == "json" {
		format = pfslog.FormatJSON
	}
	lc := pfslog.DefaultConfig()
	lc.Level = level
	lc.Format = format
	return pfslog.New(lc), nil
}

func builtinArchivers() []pfstypes.Archiver {
	return []pfstypes.Archiver{
		dirarchiver.New(),
		grp.New(),
		hog.New(),
		iso9660.New(),
		mvl.New(),
		pod.New(),
		qpak.New(),
		rofs.New(),
		sevenzip.New(),
		slb.New(),
		tar.New(),
		vdf.New(),
		wad.New(),
		zip.New(),
	}
}

func (inst *Instance) initCache() error {
	if !inst.config.Cache.Enabled {
		inst.cache = nil
		return nil
	}
	maxSize, err := pfsconfig.ParseSize(inst.config.Cache.MaxSize)
	if err != nil {
		return fmt.Errorf("physfs: parsing cache.max_size: %w", err)
	}
	c, err := pfscache.New(pfscache.Config{
		Memory: pfscache.MemoryConfig{MaxBytes: maxSize / 4, TTL: inst.config.Cache.TTL},
		Disk: pfscache.DiskConfig{
			Directory: inst.config.Cache.Directory,
			MaxBytes:  maxSize,
			TTL:       inst.config.Cache.TTL,
		},
	})
	if err != nil {
		return fmt.Errorf("physfs: initializing cache: %w", err)
	}
	inst.cache = c
	return nil
}

func (inst *Instance) initMetrics() error {
	mc, err := pfsmetrics.NewCollector(pfsmetrics.Config{
		Enabled:   inst.config.Monitor.Metrics.Enabled,
		Port:      inst.config.Global.MetricsPort,
		Path:      "/metrics",
		Namespace: "physfs",
	})
	if err != nil {
		return fmt.Errorf("physfs: initializing metrics: %w", err)
	}
	inst.metrics = mc
	if inst.config.Monitor.Metrics.Enabled {
		if err := mc.Start(); err != nil {
			return fmt.Errorf("physfs: starting metrics server: %w", err)
		}
	}
	return nil
}

func (inst *Instance) initHealth() {
	if !inst.config.Monitor.HealthChecks.Enabled {
		return
	}
	cfg := pfshealth.DefaultConfig()
	if inst.config.Monitor.HealthChecks.Interval > 0 {
		cfg.HealthCheckInterval = inst.config.Monitor.HealthChecks.Interval
	}
	inst.health = pfshealth.NewTracker(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	inst.healthStop = cancel
	go inst.health.Run(ctx, func(source string) error {
		_, exists, err := platform.Stat(source)
		if err != nil {
			return err
		}
		if !exists {
			return pfserrors.New(pfserrors.CodeNotFound, "mount source no longer exists").
				WithComponent("physfs").WithPath(source)
		}
		return nil
	})
}

func (inst *Instance) initFUSE() error {
	fs := fuseio.New(inst.engine, fuseio.Config{
		MountPoint:  inst.config.FUSE.Mountpoint,
		ReadOnly:    inst.config.FUSE.ReadOnly,
		AllowOther:  inst.config.FUSE.AllowOther,
		DefaultUID:  0,
		DefaultGID:  0,
		DefaultMode: 0o644,
	})
	inst.fuse = fs
	return nil
}

// Mount adds source (an archive file or a plain directory) to the search
// path under mountPoint, recognizing its format by trying registered
// archivers in turn. A directory source is detected by stat and passed to
// the mount engine with a nil Io so the directory archiver handles it
// directly against the native filesystem.
func (inst *Instance) Mount(source, mountPoint string, appendToPath bool) (err error) {
	start := time.Now()
	defer func() { inst.recordOperation("mount", start, err) }()

	st, exists, statErr := platform.Stat(source)
	if statErr != nil {
		err = statErr
		return err
	}
	if !exists {
		return pfserrors.New(pfserrors.CodeNotFound, "mount source does not exist").
			WithComponent("physfs").WithPath(source)
	}

	if st.FileType == pfstypes.FileTypeDirectory {
		if err := inst.engine.Mount(nil, source, mountPoint, appendToPath); err != nil {
			return err
		}
	} else {
		io, err := pfsio.OpenNative(source, true)
		if err != nil {
			return err
		}
		if err := inst.engine.Mount(io, source, mountPoint, appendToPath); err != nil {
			_ = io.Destroy()
			return err
		}
	}

	if inst.health != nil {
		inst.health.Register(source)
	}
	return nil
}

// Unmount removes source from the search path. It invalidates any cached
// decompressed entries that belonged to it, since a future remount at the
// same source must never be served stale bytes from a previous instance.
func (inst *Instance) Unmount(source string) (err error) {
	start := time.Now()
	defer func() { inst.recordOperation("unmount", start, err) }()

	if err = inst.engine.Unmount(source); err != nil {
		return err
	}
	if inst.cache != nil {
		inst.cache.Invalidate(source)
	}
	if inst.health != nil {
		inst.health.Forget(source)
	}
	return nil
}

// SetWriteDir designates the single directory new-file writes land in.
func (inst *Instance) SetWriteDir(path string) error {
	return inst.engine.SetWriteDir(path)
}

// Mkdir creates a directory in the write directory.
func (inst *Instance) Mkdir(vpath string) error { return inst.engine.Mkdir(vpath) }

// Remove deletes a file or empty directory from the write directory.
func (inst *Instance) Remove(vpath string) error { return inst.engine.Remove(vpath) }

// Stat resolves metadata for vpath across the search path.
func (inst *Instance) Stat(vpath string) (pfstypes.Stat, error) { return inst.engine.Stat(vpath) }

// GetRealDir returns the native directory backing vpath's mount, if any.
func (inst *Instance) GetRealDir(vpath string) (string, bool) { return inst.engine.GetRealDir(vpath) }

// EnumerateFiles lists dir's immediate children across every mount,
// panic-safely: cb is wrapped so a callback panic surfaces as
// pfstypes.EnumerateError instead of unwinding into the caller.
func (inst *Instance) EnumerateFiles(dir string, cb pfstypes.EnumerateCallback, userdata interface{}) error {
	return inst.engine.EnumerateFiles(dir, pfsrecovery.SafeEnumerate(cb), userdata)
}

// OpenRead opens vpath for streaming reads. Use ReadFile instead when the
// whole-entry cache should be consulted.
func (inst *Instance) OpenRead(vpath string) (*handle.FileHandle, error) {
	return inst.opener.OpenRead(vpath)
}

// OpenWrite truncates (or creates) vpath in the write directory.
func (inst *Instance) OpenWrite(vpath string) (*handle.FileHandle, error) {
	return inst.opener.OpenWrite(vpath)
}

// OpenAppend opens vpath in the write directory at its current end.
func (inst *Instance) OpenAppend(vpath string) (*handle.FileHandle, error) {
	return inst.opener.OpenAppend(vpath)
}

// ReadFile reads vpath's full decompressed contents, consulting (and
// populating) the whole-entry cache when one is configured. Operations
// with a CodeIO/CodeBusy failure are retried with backoff before giving up.
func (inst *Instance) ReadFile(vpath string) (data []byte, err error) {
	start := time.Now()
	defer func() { inst.recordOperation("read_file", start, err) }()

	if inst.cache != nil {
		if source, ok := inst.sourceFor(vpath); ok {
			if data, ok := inst.cache.Get(source, vpath); ok {
				if inst.metrics != nil {
					inst.metrics.RecordCacheHit()
				}
				return data, nil
			}
			if inst.metrics != nil {
				inst.metrics.RecordCacheMiss()
			}
		}
	}

	err = inst.retry.Do(context.Background(), func() error {
		h, err := inst.opener.OpenRead(vpath)
		if err != nil {
			return err
		}
		defer h.Close()

		length, err := h.Length()
		if err != nil {
			return err
		}
		buf := make([]byte, length)
		if _, err := readFull(h, buf); err != nil {
			return err
		}
		data = buf
		if inst.cache != nil {
			inst.cache.Put(h.Source(), vpath, buf)
		}
		return nil
	})
	return data, err
}

func readFull(h *handle.FileHandle, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := h.Read(buf[total:])
		total += n
		if err != nil {
			if total == len(buf) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

func (inst *Instance) recordOperation(name string, start time.Time, err error) {
	if inst.metrics != nil {
		inst.metrics.RecordOperation(name, time.Since(start), err)
	}
}

func (inst *Instance) sourceFor(vpath string) (string, bool) {
	dir, ok := inst.engine.GetRealDir(vpath)
	if !ok {
		return "", false
	}
	return dir, true
}

// MountFUSE blocks, exposing the VFS at the configured mount point, until
// Unmount (at the OS level) or a fatal FUSE error. It returns
// pfserrors.CodeUnsupported if FUSE wasn't enabled in the configuration
// passed to Init.
func (inst *Instance) MountFUSE() error {
	if inst.fuse == nil {
		return pfserrors.New(pfserrors.CodeUnsupported, "fuse exposure was not enabled").
			WithComponent("physfs")
	}
	return inst.fuse.Mount()
}

// UnmountFUSE requests the kernel mount point be torn down.
func (inst *Instance) UnmountFUSE() error {
	if inst.fuse == nil {
		return nil
	}
	return inst.fuse.Unmount()
}

// Metrics exposes the instance's per-operation totals. They are tracked
// even when Prometheus export is disabled in the configuration.
func (inst *Instance) Metrics() map[string]pfsmetrics.OperationTotals {
	if inst.metrics == nil {
		return map[string]pfsmetrics.OperationTotals{}
	}
	return inst.metrics.Totals()
}

// Health returns the liveness state tracked for source, or
// pfshealth.StateUnavailable if health checks weren't enabled or source
// was never mounted.
func (inst *Instance) Health(source string) pfshealth.State {
	if inst.health == nil {
		return pfshealth.StateUnavailable
	}
	return inst.health.State(source)
}

// BaseDir returns the directory containing the running executable.
func BaseDir() (string, error) { return platform.BaseDir() }

// UserDir returns the calling user's home directory.
func UserDir() (string, error) { return platform.UserDir() }

// PrefDir returns (creating if absent) an application's writable
// preferences directory: org/app beneath the user's configuration root.
func PrefDir(org, app string) (string, error) { return platform.PrefDir(org, app) }

// Deinit tears down every subsystem Init brought up: stops the health
// checker and metrics server, flushes and closes the cache, unmounts the
// FUSE exposure if active, and shuts down every remaining mount. It
// mirrors PHYSFS_deinit's role as the single, final call.
func (inst *Instance) Deinit() error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.healthStop != nil {
		inst.healthStop()
	}
	if inst.fuse != nil {
		_ = inst.fuse.Unmount()
	}
	if inst.metrics != nil {
		_ = inst.metrics.Stop(context.Background())
	}
	if inst.cache != nil {
		_ = inst.cache.Close()
	}
	return inst.engine.Shutdown()
}
