package pfscache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheDisabledByZeroMaxBytesAlwaysMisses(t *testing.T) {
	t.Parallel()

	c := NewMemoryCache(MemoryConfig{})
	c.Put("/data.zip", "readme.txt", []byte("hello"))
	_, ok := c.Get("/data.zip", "readme.txt")
	assert.False(t, ok)
}

func TestMemoryCachePutThenGetRoundTrips(t *testing.T) {
	t.Parallel()

	c := NewMemoryCache(MemoryConfig{MaxBytes: 1 << 20})
	c.Put("/data.zip", "readme.txt", []byte("hello"))

	got, ok := c.Get("/data.zip", "readme.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(0), stats.Misses)
}

func TestMemoryCacheEvictsLeastRecentlyUsedUnderPressure(t *testing.T) {
	t.Parallel()

	c := NewMemoryCache(MemoryConfig{MaxBytes: 10})
	c.Put("a.zip", "x", []byte("01234"))
	c.Put("a.zip", "y", []byte("56789"))

	// Touch x so y becomes the least-recently-used entry.
	_, _ = c.Get("a.zip", "x")

	c.Put("a.zip", "z", []byte("abcde"))

	_, xok := c.Get("a.zip", "x")
	_, yok := c.Get("a.zip", "y")
	_, zok := c.Get("a.zip", "z")
	assert.True(t, xok)
	assert.False(t, yok)
	assert.True(t, zok)
}

func TestMemoryCacheOversizedEntryIsNeverCached(t *testing.T) {
	t.Parallel()

	c := NewMemoryCache(MemoryConfig{MaxBytes: 4})
	c.Put("a.zip", "x", []byte("toolong"))
	_, ok := c.Get("a.zip", "x")
	assert.False(t, ok)
}

func TestMemoryCacheTTLExpiresEntries(t *testing.T) {
	t.Parallel()

	c := NewMemoryCache(MemoryConfig{MaxBytes: 1 << 20, TTL: 10 * time.Millisecond})
	defer c.Close()

	c.Put("a.zip", "x", []byte("hello"))
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("a.zip", "x")
	assert.False(t, ok)
}

func TestMemoryCacheInvalidateDropsOnlyMatchingSource(t *testing.T) {
	t.Parallel()

	c := NewMemoryCache(MemoryConfig{MaxBytes: 1 << 20})
	c.Put("a.zip", "x", []byte("a"))
	c.Put("b.zip", "x", []byte("b"))

	c.Invalidate("a.zip")

	_, aok := c.Get("a.zip", "x")
	_, bok := c.Get("b.zip", "x")
	assert.False(t, aok)
	assert.True(t, bok)
}

func TestDiskCacheDisabledWithoutDirectory(t *testing.T) {
	t.Parallel()

	d, err := NewDiskCache(DiskConfig{})
	require.NoError(t, err)
	require.NoError(t, d.Put("a.zip", "x", []byte("hello")))
	_, ok := d.Get("a.zip", "x")
	assert.False(t, ok)
}

func TestDiskCacheRoundTripsCompressedData(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	d, err := NewDiskCache(DiskConfig{Directory: dir, MaxBytes: 1 << 20})
	require.NoError(t, err)
	defer d.Close()

	payload := []byte("the quick brown fox jumps over the lazy dog, repeated: " +
		"the quick brown fox jumps over the lazy dog")
	require.NoError(t, d.Put("archive.grp", "sprites/hero.bmp", payload))

	got, ok := d.Get("archive.grp", "sprites/hero.bmp")
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestDiskCacheSurvivesIndexReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	d1, err := NewDiskCache(DiskConfig{Directory: dir, MaxBytes: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, d1.Put("archive.grp", "a.txt", []byte("persisted bytes")))
	require.NoError(t, d1.Close())

	d2, err := NewDiskCache(DiskConfig{Directory: dir, MaxBytes: 1 << 20})
	require.NoError(t, err)
	defer d2.Close()

	got, ok := d2.Get("archive.grp", "a.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("persisted bytes"), got)
}

func TestDiskCacheEvictsOldestWhenOverCapacity(t *testing.T) {
	t.Parallel()

	x := []byte("some reasonably compressible payload data")
	y := []byte("another reasonably compressible payload")

	// Measure each entry's compressed size so the budget holds either
	// entry alone but not both together.
	probe, err := NewDiskCache(DiskConfig{Directory: t.TempDir(), MaxBytes: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, probe.Put("a.zip", "x", x))
	xSize := probe.curBytes
	require.NoError(t, probe.Put("a.zip", "y", y))
	budget := probe.curBytes - xSize
	if xSize > budget {
		budget = xSize
	}
	require.NoError(t, probe.Close())

	dir := t.TempDir()
	d, err := NewDiskCache(DiskConfig{Directory: dir, MaxBytes: budget})
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Put("a.zip", "x", x))
	require.NoError(t, d.Put("a.zip", "y", y))

	_, xok := d.Get("a.zip", "x")
	_, yok := d.Get("a.zip", "y")
	assert.False(t, xok)
	assert.True(t, yok)
}

func TestCachePromotesDiskHitIntoMemory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(Config{
		Memory: MemoryConfig{MaxBytes: 1 << 20},
		Disk:   DiskConfig{Directory: dir, MaxBytes: 1 << 20},
	})
	require.NoError(t, err)
	defer c.Close()

	c.mem = NewMemoryCache(MemoryConfig{MaxBytes: 1 << 20})
	require.NoError(t, c.disk.Put("archive.grp", "a.txt", []byte("on disk only")))

	got, ok := c.Get("archive.grp", "a.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("on disk only"), got)

	memGot, memOK := c.mem.Get("archive.grp", "a.txt")
	require.True(t, memOK)
	assert.Equal(t, []byte("on disk only"), memGot)
}

func TestCacheInvalidateClearsBothTiers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(Config{
		Memory: MemoryConfig{MaxBytes: 1 << 20},
		Disk:   DiskConfig{Directory: dir, MaxBytes: 1 << 20},
	})
	require.NoError(t, err)
	defer c.Close()

	c.Put("archive.grp", "a.txt", []byte("data"))
	c.Invalidate("archive.grp")

	_, ok := c.Get("archive.grp", "a.txt")
	assert.False(t, ok)
}
