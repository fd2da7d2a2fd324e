package pfscache

// Config bundles the in-memory and on-disk tier configuration. Either tier
// can be disabled independently (MaxBytes/Directory left zero-valued).
type Config struct {
	Memory MemoryConfig
	Disk   DiskConfig
}

// Cache fronts a decompressed-entry lookup with a memory tier backed by an
// optional disk tier: a memory miss that hits on disk is promoted back
// into memory, so a cold second read of a large archive doesn't pay the
// decompression cost twice.
type Cache struct {
	mem  *MemoryCache
	disk *DiskCache
}

// New builds a Cache from config. The disk tier's directory is created if
// it doesn't already exist.
func New(config Config) (*Cache, error) {
	disk, err := NewDiskCache(config.Disk)
	if err != nil {
		return nil, err
	}
	return &Cache{mem: NewMemoryCache(config.Memory), disk: disk}, nil
}

// Get returns the decompressed bytes for (source, path) if cached at
// either tier.
func (c *Cache) Get(source, path string) ([]byte, bool) {
	if data, ok := c.mem.Get(source, path); ok {
		return data, true
	}
	data, ok := c.disk.Get(source, path)
	if !ok {
		return nil, false
	}
	c.mem.Put(source, path, data)
	return data, true
}

// Put stores data at both tiers (each tier independently decides whether
// it's enabled and whether data fits its limits).
func (c *Cache) Put(source, path string, data []byte) {
	c.mem.Put(source, path, data)
	if err := c.disk.Put(source, path, data); err != nil {
		// A disk-cache write failure only costs a future re-decompression;
		// it must never fail the read that produced data in the first place.
		_ = err
	}
}

// Invalidate drops every entry belonging to source at both tiers. Call
// this on Unmount so a later remount at the same source can't serve bytes
// cached from the previous archive instance.
func (c *Cache) Invalidate(source string) {
	c.mem.Invalidate(source)
	c.disk.Invalidate(source)
}

// MemoryStats returns the in-memory tier's hit/miss counters.
func (c *Cache) MemoryStats() Stats {
	return c.mem.Stats()
}

// Close stops both tiers' background goroutines and flushes the disk
// index.
func (c *Cache) Close() error {
	c.mem.Close()
	return c.disk.Close()
}
