// Package cache implements the tiered file-backed cache consulted before
// every expensive pipeline stage.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Tier identifies one cache tier with its own expiry policy.
type Tier string

const (
	TierQuery    Tier = "query"    // short-lived discovery/query results
	TierArtifact Tier = "artifact" // medium-lived converted documents
	TierResult   Tier = "result"   // long-lived final extraction results
)

// Key derives a cache key as the SHA-256 hex digest of a canonical string
// built from the stable-sorted components, so parameter order never
// affects the key.
func Key(components ...string) string {
	sorted := make([]string, len(components))
	copy(sorted, components)
	sort.Strings(sorted)

	h := sha256.Sum256([]byte(strings.Join(sorted, "\x1f")))
	return hex.EncodeToString(h[:])
}

// entry is the on-disk representation of one cached value.
type entry struct {
	Key       string          `json:"key"`
	Tier      string          `json:"tier"`
	ExpiresAt time.Time       `json:"expires_at"`
	Value     json.RawMessage `json:"value"`
}

// Cache is a tiered key/value store backed by one file per entry.
// Safe for concurrent use.
type Cache struct {
	dir   string
	ttl   map[Tier]time.Duration
	group singleflight.Group
	now   func() time.Time
}

// New creates a Cache rooted at dir with per-tier TTLs.
func New(dir string, queryTTL, artifactTTL, resultTTL time.Duration) (*Cache, error) {
	c := &Cache{
		dir: dir,
		ttl: map[Tier]time.Duration{
			TierQuery:    queryTTL,
			TierArtifact: artifactTTL,
			TierResult:   resultTTL,
		},
		now: time.Now,
	}
	for tier := range c.ttl {
		if err := os.MkdirAll(filepath.Join(dir, string(tier)), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}
	return c, nil
}

func (c *Cache) path(tier Tier, key string) string {
	return filepath.Join(c.dir, string(tier), key+".json")
}

// Get returns the cached value for key, or ok=false on a miss. Expired
// entries and entries whose backing file was externally removed or
// corrupted are treated as misses and evicted.
func (c *Cache) Get(tier Tier, key string) (json.RawMessage, bool) {
	path := c.path(tier, key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		os.Remove(path)
		return nil, false
	}
	if c.now().After(e.ExpiresAt) {
		os.Remove(path)
		return nil, false
	}
	return e.Value, true
}

// Set stores value under key. The write is atomic: a reader never
// observes a partially written entry.
func (c *Cache) Set(tier Tier, key string, value json.RawMessage) error {
	e := entry{
		Key:       key,
		Tier:      string(tier),
		ExpiresAt: c.now().Add(c.ttl[tier]),
		Value:     value,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	return writeFileAtomic(c.path(tier, key), data)
}

// GetOrCompute returns the cached value for key, computing and storing it
// on a miss. Concurrent callers for the same key share a single compute.
func (c *Cache) GetOrCompute(tier Tier, key string, compute func() (json.RawMessage, error)) (json.RawMessage, error) {
	if value, ok := c.Get(tier, key); ok {
		return value, nil
	}

	v, err, _ := c.group.Do(string(tier)+"/"+key, func() (any, error) {
		// Another caller may have filled the entry while we waited.
		if value, ok := c.Get(tier, key); ok {
			return value, nil
		}
		value, err := compute()
		if err != nil {
			return nil, err
		}
		if serr := c.Set(tier, key, value); serr != nil {
			return nil, serr
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// Clear removes every entry in the given tier.
func (c *Cache) Clear(tier Tier) error {
	dir := filepath.Join(c.dir, string(tier))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading cache dir: %w", err)
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, de.Name())); err != nil {
			return fmt.Errorf("removing cache entry: %w", err)
		}
	}
	return nil
}

// writeFileAtomic writes data to path via a temp file and rename in the
// same directory.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
