// Package metacache persists table partitioning metadata across sessions so
// that partition enforcement does not need a metadata RPC per table per run.
//
// Entries never expire. The whole file is discarded when its stamped schema
// version differs from the running one, and Clear is the only way to force
// a re-fetch.
package metacache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"bq-guard/internal/domain"
)

// FileName is the cache file name inside the cache directory.
const FileName = "table_meta_cache.json"

// Cache is a table-key → descriptor store backed by a JSON file.
// All methods are safe for concurrent use; writers are serialized.
type Cache struct {
	mu sync.RWMutex
	// saveMu serializes writers of the backing file, which share one
	// temp path.
	saveMu sync.Mutex

	path          string
	schemaVersion int
	tables        map[string]domain.TableDescriptor
	logger        *slog.Logger
}

// New creates an empty cache bound to path. Call Load to read the file.
func New(path string, schemaVersion int, logger *slog.Logger) *Cache {
	return &Cache{
		path:          path,
		schemaVersion: schemaVersion,
		tables:        make(map[string]domain.TableDescriptor),
		logger:        logger.With("component", "metacache"),
	}
}

// DefaultPath returns <user cache dir>/bq-guard/table_meta_cache.json.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache dir: %w", err)
	}
	return filepath.Join(dir, "bq-guard", FileName), nil
}

// Path returns the backing file path.
func (c *Cache) Path() string { return c.path }

// Load reads the backing file. A missing or unreadable file, or one stamped
// with another schema version, leaves the cache empty.
func (c *Cache) Load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Debug("cache file unreadable, starting cold", "path", c.path, "error", err)
		}
		return
	}
	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Debug("cache file corrupt, starting cold", "path", c.path, "error", err)
		return
	}
	if f.SchemaVersion != c.schemaVersion {
		c.logger.Debug("cache schema version mismatch, starting cold",
			"path", c.path, "file_version", f.SchemaVersion, "want_version", c.schemaVersion)
		return
	}

	tables := make(map[string]domain.TableDescriptor, len(f.Tables))
	for key, e := range f.Tables {
		tables[key] = e.toDomain()
	}

	c.mu.Lock()
	c.tables = tables
	c.mu.Unlock()
	c.logger.Debug("cache loaded", "path", c.path, "tables", len(tables))
}

// Save writes the full in-memory map to the backing file.
func (c *Cache) Save() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.RLock()
	f := cacheFile{
		SchemaVersion: c.schemaVersion,
		Tables:        make(map[string]tableEntry, len(c.tables)),
	}
	for key, d := range c.tables {
		f.Tables[key] = entryFromDomain(d)
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}

// Get returns a copy of the descriptor cached for table.
func (c *Cache) Get(table string) (*domain.TableDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.tables[table]
	if !ok {
		return nil, false
	}
	return &d, true
}

// Put stores the descriptor for table, replacing any previous entry.
func (c *Cache) Put(table string, d domain.TableDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[table] = d
}

// Clear empties the cache and persists the empty state immediately.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.tables = make(map[string]domain.TableDescriptor)
	c.mu.Unlock()
	if err := c.Save(); err != nil {
		return err
	}
	c.logger.Info("metadata cache cleared", "path", c.path)
	return nil
}

// Len returns the number of cached tables.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}

// Entry is one cached table, used for listings.
type Entry struct {
	Table      string
	Descriptor domain.TableDescriptor
}

// Entries returns all cached tables sorted by key.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.tables))
	for k, d := range c.tables {
		out = append(out, Entry{Table: k, Descriptor: d})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}
