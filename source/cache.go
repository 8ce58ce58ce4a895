package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
)

// MetadataCache memoizes built tracks by id. It is never authoritative: a
// miss only means the track has to be resolved again.
type MetadataCache interface {
	Get(ctx context.Context, id string) (Track, bool)
	Put(ctx context.Context, t Track) error
}

// DiskCache stores one JSON document per track id.
type DiskCache struct {
	dir string
}

func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) path(id string) string {
	return filepath.Join(c.dir, filepath.Base(id)+".json")
}

func (c *DiskCache) Get(_ context.Context, id string) (Track, bool) {
	b, err := os.ReadFile(c.path(id))
	if err != nil {
		return Track{}, false
	}
	var t Track
	if json.Unmarshal(b, &t) != nil || t.ID == "" {
		return Track{}, false
	}
	return t, true
}

func (c *DiskCache) Put(_ context.Context, t Track) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	tmp := c.path(t.ID) + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path(t.ID))
}

// TieredCache consults caches in order. A hit in a later tier is copied
// into the earlier ones.
type TieredCache struct {
	tiers []MetadataCache
}

func NewTieredCache(tiers ...MetadataCache) *TieredCache {
	return &TieredCache{tiers: tiers}
}

func (c *TieredCache) Get(ctx context.Context, id string) (Track, bool) {
	for i, tier := range c.tiers {
		if t, ok := tier.Get(ctx, id); ok {
			for _, earlier := range c.tiers[:i] {
				_ = earlier.Put(ctx, t)
			}
			return t, true
		}
	}
	return Track{}, false
}

func (c *TieredCache) Put(ctx context.Context, t Track) error {
	var firstErr error
	for _, tier := range c.tiers {
		if err := tier.Put(ctx, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
