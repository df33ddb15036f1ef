package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"pea/internal/escape"
)

// Current schema version - increment when CachedFunc or the key derivation changes.
const cacheSchemaVersion uint16 = 1

// DiskCache stores optimized function text keyed by a hash of its input.
// Thread-safe for concurrent access.
type DiskCache struct {
	mu  sync.RWMutex
	dir string
}

// CachedFunc is the stored result of optimizing one function.
type CachedFunc struct {
	Schema uint16
	Name   string
	Text   string

	Passes       int
	Virtualized  int
	Materialized int
	Effects      int
	Changed      bool
}

// Stats returns the escape statistics recorded with the entry.
func (c *CachedFunc) Stats() escape.Result {
	return escape.Result{
		Passes:       c.Passes,
		Virtualized:  c.Virtualized,
		Materialized: c.Materialized,
		Effects:      c.Effects,
		Changed:      c.Changed,
	}
}

// CacheKey identifies one function optimized under one configuration.
type CacheKey uint64

// String formats the key the way it appears in file names.
func (k CacheKey) String() string { return fmt.Sprintf("%016x", uint64(k)) }

// OpenDiskCache opens the cache in dir. "auto" selects $XDG_CACHE_HOME/pea, falling back
// to ~/.cache/pea.
func OpenDiskCache(dir string) (*DiskCache, error) {
	if dir == "auto" {
		base := os.Getenv("XDG_CACHE_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			base = filepath.Join(home, ".cache")
		}
		dir = filepath.Join(base, "pea")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir}, nil
}

// Dir returns the cache directory.
func (c *DiskCache) Dir() string { return c.dir }

// Key hashes everything the optimized text of a function depends on: the declarations
// it may refer to, the function text and the analysis options. Function-valued options
// (Canonicalize, StableArrays, Verify) contribute only whether they are set; hooks names
// the hook implementations and must differ between callers that install different ones.
func Key(header, text string, opts escape.Options, hooks string) CacheKey {
	d := xxhash.New()
	fmt.Fprintf(d, "pea-cache %d\n", cacheSchemaVersion)
	fmt.Fprintf(d, "iter=%d loop=%d arrays=%t len=%d canon=%t stable=%t verify=%t\n",
		opts.MaxIterations, opts.MaxLoopIterations, opts.VirtualizeArrays, opts.MaxArrayLength,
		opts.Canonicalize != nil, opts.StableArrays != nil, opts.Verify != nil)
	fmt.Fprintf(d, "%d\n", len(hooks))
	_, _ = d.WriteString(hooks)
	// Length prefixes keep the header from bleeding into the function text.
	fmt.Fprintf(d, "%d\n", len(header))
	_, _ = d.WriteString(header)
	fmt.Fprintf(d, "%d\n", len(text))
	_, _ = d.WriteString(text)
	return CacheKey(d.Sum64())
}

func (c *DiskCache) pathFor(key CacheKey) string {
	return filepath.Join(c.dir, "funcs", key.String()+".mp")
}

// Put serializes and writes an entry to the disk cache.
func (c *DiskCache) Put(key CacheKey, entry *CachedFunc) (err error) {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	entry.Schema = cacheSchemaVersion
	if err := msgpack.NewEncoder(f).Encode(entry); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// Get reads an entry. Entries written under another schema are reported as missing.
func (c *DiskCache) Get(key CacheKey) (*CachedFunc, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var entry CachedFunc
	if err := msgpack.NewDecoder(f).Decode(&entry); err != nil {
		return nil, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	if entry.Schema != cacheSchemaVersion {
		return nil, false, nil
	}
	return &entry, true, nil
}

// DropAll removes every entry.
func (c *DiskCache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return os.RemoveAll(filepath.Join(c.dir, "funcs"))
}
