package pfscache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
)

// DiskConfig tunes the on-disk tier.
type DiskConfig struct {
	// Directory holds the cached entry files and the index. Empty
	// disables the disk tier entirely.
	Directory string
	// MaxBytes bounds the total size of the compressed files on disk.
	MaxBytes int64
	// TTL expires an entry this long after it was written.
	TTL time.Duration
	// CompressionLevel is passed to brotli.NewWriterLevel; zero uses
	// brotli.DefaultCompression.
	CompressionLevel int
	// SyncInterval controls how often the index is flushed to disk in
	// the background, independent of Put/Delete calls.
	SyncInterval time.Duration
	// CleanupInterval controls how often TTL-expired files are swept.
	CleanupInterval time.Duration
}

type diskItem struct {
	Source    string    `json:"source"`
	Path      string    `json:"path"`
	File      string    `json:"file"`
	Checksum  string    `json:"checksum"`
	RawSize   int64     `json:"raw_size"`
	DiskSize  int64     `json:"disk_size"`
	CachedAt  time.Time `json:"cached_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// DiskCache persists decompressed archive entries as brotli-compressed
// files, indexed by (mount source, entry path), so the in-memory tier can
// be rebuilt cheaply across restarts instead of re-decompressing every
// archive entry from scratch.
type DiskCache struct {
	mu       sync.Mutex
	config   DiskConfig
	indexPath string
	items    map[entryKey]*diskItem
	curBytes int64
	dirty    bool

	stopCh chan struct{}
	closed bool
}

// NewDiskCache creates the cache directory if needed, loads any existing
// index, and starts the background sync/cleanup loops.
func NewDiskCache(config DiskConfig) (*DiskCache, error) {
	if config.Directory == "" {
		return &DiskCache{config: config, items: map[entryKey]*diskItem{}, stopCh: make(chan struct{}), closed: true}, nil
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 30 * time.Second
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if err := os.MkdirAll(config.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("pfscache: create cache dir: %w", err)
	}

	c := &DiskCache{
		config:    config,
		indexPath: filepath.Join(config.Directory, "index.json"),
		items:     make(map[entryKey]*diskItem),
		stopCh:    make(chan struct{}),
	}
	if err := c.loadIndex(); err != nil {
		return nil, err
	}

	go c.syncLoop()
	go c.cleanupLoop()
	return c, nil
}

func (c *DiskCache) enabled() bool { return c.config.Directory != "" }

// Get returns the decompressed bytes for (source, path), verifying the
// sha256 checksum recorded at write time. A checksum mismatch or missing
// file is treated as a miss and the stale index entry is dropped.
func (c *DiskCache) Get(source, path string) ([]byte, bool) {
	if !c.enabled() {
		return nil, false
	}
	key := entryKey{source: source, path: path}

	c.mu.Lock()
	item, ok := c.items[key]
	if ok && c.config.TTL > 0 && time.Since(item.CachedAt) > c.config.TTL {
		c.removeLocked(key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	data, err := c.readFile(item)
	if err != nil {
		c.mu.Lock()
		c.removeLocked(key)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	item.AccessedAt = time.Now()
	c.dirty = true
	c.mu.Unlock()
	return data, true
}

// Put compresses and writes data to disk under a content-addressed
// filename, replacing any prior file for the same key, then evicts oldest
// entries until back within MaxBytes.
func (c *DiskCache) Put(source, path string, data []byte) error {
	if !c.enabled() || c.config.MaxBytes <= 0 {
		return nil
	}
	key := entryKey{source: source, path: path}
	fileName := fileNameFor(key)
	fullPath := filepath.Join(c.config.Directory, fileName)

	diskSize, checksum, err := c.writeFile(fullPath, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.items[key]; ok {
		c.curBytes -= old.DiskSize
	}
	item := &diskItem{
		Source: source, Path: path, File: fileName,
		Checksum: checksum, RawSize: int64(len(data)), DiskSize: diskSize,
		CachedAt: time.Now(), AccessedAt: time.Now(),
	}
	c.items[key] = item
	c.curBytes += diskSize
	c.dirty = true

	c.evictLocked()
	return nil
}

// Invalidate removes every file belonging to source.
func (c *DiskCache) Invalidate(source string) {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.items {
		if key.source == source {
			c.removeLocked(key)
		}
	}
}

// removeLocked must be called with c.mu held.
func (c *DiskCache) removeLocked(key entryKey) {
	item, ok := c.items[key]
	if !ok {
		return
	}
	_ = os.Remove(filepath.Join(c.config.Directory, item.File))
	c.curBytes -= item.DiskSize
	delete(c.items, key)
	c.dirty = true
}

func (c *DiskCache) evictLocked() {
	for c.curBytes > c.config.MaxBytes {
		var oldestKey entryKey
		var oldest time.Time
		found := false
		for key, item := range c.items {
			if !found || item.AccessedAt.Before(oldest) {
				oldestKey, oldest, found = key, item.AccessedAt, true
			}
		}
		if !found {
			return
		}
		c.removeLocked(oldestKey)
	}
}

func (c *DiskCache) writeFile(path string, data []byte) (int64, string, error) {
	checksum := sha256.Sum256(data)

	f, err := os.Create(path)
	if err != nil {
		return 0, "", fmt.Errorf("pfscache: create entry file: %w", err)
	}
	defer f.Close()

	level := c.config.CompressionLevel
	if level <= 0 {
		level = brotli.DefaultCompression
	}
	w := brotli.NewWriterLevel(f, level)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return 0, "", fmt.Errorf("pfscache: compress entry: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, "", fmt.Errorf("pfscache: flush entry: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, "", fmt.Errorf("pfscache: stat entry file: %w", err)
	}
	return info.Size(), hex.EncodeToString(checksum[:]), nil
}

func (c *DiskCache) readFile(item *diskItem) ([]byte, error) {
	f, err := os.Open(filepath.Join(c.config.Directory, item.File))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := brotli.NewReader(f)
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("pfscache: decompress entry: %w", err)
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != item.Checksum {
		return nil, fmt.Errorf("pfscache: checksum mismatch for %s", item.File)
	}
	return data, nil
}

func fileNameFor(key entryKey) string {
	sum := sha256.Sum256([]byte(key.source + "\x00" + key.path))
	return hex.EncodeToString(sum[:]) + ".br"
}

func (c *DiskCache) loadIndex() error {
	data, err := os.ReadFile(c.indexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pfscache: read index: %w", err)
	}

	var records []diskItem
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("pfscache: parse index: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range records {
		item := records[i]
		key := entryKey{source: item.Source, path: item.Path}
		c.items[key] = &item
		c.curBytes += item.DiskSize
	}
	return nil
}

func (c *DiskCache) saveIndex() error {
	c.mu.Lock()
	records := make([]diskItem, 0, len(c.items))
	for _, item := range c.items {
		records = append(records, *item)
	}
	c.dirty = false
	c.mu.Unlock()

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("pfscache: marshal index: %w", err)
	}
	tmp := c.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("pfscache: write index: %w", err)
	}
	return os.Rename(tmp, c.indexPath)
}

func (c *DiskCache) syncLoop() {
	ticker := time.NewTicker(c.config.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			dirty := c.dirty
			c.mu.Unlock()
			if dirty {
				_ = c.saveIndex()
			}
		}
	}
}

func (c *DiskCache) cleanupLoop() {
	if c.config.TTL <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			var expired []entryKey
			for key, item := range c.items {
				if now.Sub(item.CachedAt) > c.config.TTL {
					expired = append(expired, key)
				}
			}
			for _, key := range expired {
				c.removeLocked(key)
			}
			c.mu.Unlock()
		}
	}
}

// Close flushes the index and stops background loops. Safe to call more
// than once.
func (c *DiskCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.enabled() {
		close(c.stopCh)
		return c.saveIndex()
	}
	return nil
}
