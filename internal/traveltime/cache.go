package traveltime

import (
	"context"
	"fmt"
	"sync"
)

// Key identifies one directed pair within a plan date's departure bucket.
// Two runs for the same date departing inside the same bucket share entries;
// other dates never do.
type Key struct {
	PlanDate  string
	BucketMin int
	Origin    string
	Dest      string
}

func (k Key) String() string {
	return fmt.Sprintf("tt:%s:%d:%s:%s", k.PlanDate, k.BucketMin, k.Origin, k.Dest)
}

// Entry is a cached directed travel estimate. DistanceMeters is nil when the
// estimate did not come from the live provider.
type Entry struct {
	TravelMinutes  int    `json:"travelMinutes"`
	DistanceMeters *int   `json:"distanceMeters,omitempty"`
	Mode           string `json:"mode"`
}

// Cache is a batch lookup store for travel-time entries. GetBatch returns
// only the keys it found; missing keys are simply absent from the map.
type Cache interface {
	GetBatch(ctx context.Context, keys []Key) (map[Key]Entry, error)
	PutBatch(ctx context.Context, entries map[Key]Entry) error
}

// MemoryCache is an in-process Cache for tests and single-node runs.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[Key]Entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: map[Key]Entry{}}
}

func (c *MemoryCache) GetBatch(ctx context.Context, keys []Key) (map[Key]Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Key]Entry, len(keys))
	for _, k := range keys {
		if e, ok := c.m[k]; ok {
			out[k] = e
		}
	}
	return out, nil
}

func (c *MemoryCache) PutBatch(ctx context.Context, entries map[Key]Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range entries {
		c.m[k] = e
	}
	return nil
}
