package physfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physfsgo/physfs/internal/pfshealth"
	"github.com/physfsgo/physfs/pkg/pfsconfig"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

func newInstance(t *testing.T) (*Instance, string) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hello world"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "nested.txt"), []byte("nested"), 0644))

	writeDir := t.TempDir()

	config := pfsconfig.NewDefault()
	config.Mount.WriteDir = writeDir
	config.Monitor.Metrics.Enabled = false
	config.Monitor.HealthChecks.Enabled = false

	inst, err := Init(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Deinit() })

	require.NoError(t, inst.Mount(dir, "", true))
	return inst, dir
}

func TestInitRegistersBuiltinArchivers(t *testing.T) {
	t.Parallel()

	config := pfsconfig.NewDefault()
	config.Monitor.Metrics.Enabled = false
	config.Monitor.HealthChecks.Enabled = false

	inst, err := Init(config)
	require.NoError(t, err)
	defer inst.Deinit()

	for _, ext := range []string{"zip", "tar", "grp", "wad", "pak", "slb", "pod", "hog", "vdf", "iso", "7z", "dat", ""} {
		_, ok := inst.registry.ByExtension(ext)
		assert.True(t, ok, "extension %q should have a registered archiver", ext)
	}
}

func TestMountAndStatDirectory(t *testing.T) {
	t.Parallel()

	inst, _ := newInstance(t)

	st, err := inst.Stat("readme.txt")
	require.NoError(t, err)
	assert.Equal(t, pfstypes.FileTypeRegular, st.FileType)
	assert.EqualValues(t, len("hello world"), st.Filesize)
}

func TestReadFileReturnsContentsWithCacheDisabled(t *testing.T) {
	t.Parallel()

	inst, _ := newInstance(t)

	data, err := inst.ReadFile("readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	// Cache is disabled by default (config.Cache.Enabled is false), so a
	// second read should still succeed by going back to the mount.
	data2, err := inst.ReadFile("sub/nested.txt")
	require.NoError(t, err)
	assert.Equal(t, "nested", string(data2))
}

func TestReadFileUsesCacheWhenEnabled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("cached bytes"), 0644))

	cacheDir := t.TempDir()
	config := pfsconfig.NewDefault()
	config.Monitor.Metrics.Enabled = false
	config.Monitor.HealthChecks.Enabled = false
	config.Cache.Enabled = true
	config.Cache.Directory = cacheDir
	config.Cache.MaxSize = "1MB"

	inst, err := Init(config)
	require.NoError(t, err)
	defer inst.Deinit()
	require.NoError(t, inst.Mount(dir, "", true))

	data, err := inst.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "cached bytes", string(data))

	source, ok := inst.sourceFor("a.txt")
	require.True(t, ok)
	cached, ok := inst.cache.Get(source, "a.txt")
	require.True(t, ok)
	assert.Equal(t, "cached bytes", string(cached))
}

func TestOpenWriteCreatesFileInWriteDir(t *testing.T) {
	t.Parallel()

	inst, _ := newInstance(t)

	h, err := inst.OpenWrite("new.txt")
	require.NoError(t, err)
	_, err = h.Write([]byte("freshly written"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	data, err := inst.ReadFile("new.txt")
	require.NoError(t, err)
	assert.Equal(t, "freshly written", string(data))
}

func TestUnmountInvalidatesCacheForSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("bytes"), 0644))

	cacheDir := t.TempDir()
	config := pfsconfig.NewDefault()
	config.Monitor.Metrics.Enabled = false
	config.Monitor.HealthChecks.Enabled = false
	config.Cache.Enabled = true
	config.Cache.Directory = cacheDir
	config.Cache.MaxSize = "1MB"

	inst, err := Init(config)
	require.NoError(t, err)
	defer inst.Deinit()
	require.NoError(t, inst.Mount(dir, "", true))

	_, err = inst.ReadFile("a.txt")
	require.NoError(t, err)

	require.NoError(t, inst.Unmount(dir))
	_, ok := inst.cache.Get(dir, "a.txt")
	assert.False(t, ok)
}

func TestEnumerateFilesListsMountedDirectory(t *testing.T) {
	t.Parallel()

	inst, _ := newInstance(t)

	var names []string
	err := inst.EnumerateFiles("", func(userdata interface{}, origDir, name string) pfstypes.EnumerateResult {
		names = append(names, name)
		return pfstypes.EnumerateOK
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, names, "readme.txt")
	assert.Contains(t, names, "sub")
}

func TestMetricsTrackOperationsEvenWithExportDisabled(t *testing.T) {
	t.Parallel()

	inst, _ := newInstance(t)
	totals := inst.Metrics()
	require.Contains(t, totals, "mount")
	assert.Equal(t, int64(1), totals["mount"].Count)
}

func TestHealthIsUnavailableWhenChecksDisabled(t *testing.T) {
	t.Parallel()

	inst, dir := newInstance(t)
	assert.Equal(t, pfshealth.StateUnavailable, inst.Health(dir))
}
