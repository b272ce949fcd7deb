package radar

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FrameCache holds preloaded radar images keyed by (time, viewport). Frames
// read during playback stay recent, so eviction takes the least recently
// used one.
type FrameCache struct {
	frames *lru.Cache[FrameKey, *CachedFrame]
	now    func() time.Time
}

// CachedFrame is a downloaded radar image
type CachedFrame struct {
	Key         FrameKey
	Data        []byte
	ContentType string
	FetchedAt   time.Time
}

// NewFrameCache creates a cache holding at most maxSize frames
func NewFrameCache(maxSize int) *FrameCache {
	if maxSize < 1 {
		maxSize = 1
	}
	// only fails for a non-positive size
	frames, _ := lru.New[FrameKey, *CachedFrame](maxSize)
	return &FrameCache{
		frames: frames,
		now:    time.Now,
	}
}

// Get returns a cached frame and marks it as recently used
func (c *FrameCache) Get(key FrameKey) (*CachedFrame, bool) {
	return c.frames.Get(key)
}

// Has reports whether key is cached without touching its recency
func (c *FrameCache) Has(key FrameKey) bool {
	return c.frames.Contains(key)
}

// Put stores a frame, evicting the least recently used frame when full
func (c *FrameCache) Put(key FrameKey, data []byte, contentType string) {
	c.frames.Add(key, &CachedFrame{
		Key:         key,
		Data:        data,
		ContentType: contentType,
		FetchedAt:   c.now(),
	})
}

// DropLive removes every live frame; called on each data refresh so the next
// request fetches the current image
func (c *FrameCache) DropLive() int {
	live := TimeKey(time.Time{})
	return c.removeWhere(func(k FrameKey) bool { return k.TimeKey == live })
}

// Prune removes historical frames whose time is no longer in times
func (c *FrameCache) Prune(times []time.Time) int {
	keep := make(map[string]bool, len(times)+1)
	keep[TimeKey(time.Time{})] = true
	for _, t := range times {
		keep[TimeKey(t)] = true
	}
	return c.removeWhere(func(k FrameKey) bool { return !keep[k.TimeKey] })
}

func (c *FrameCache) removeWhere(match func(FrameKey) bool) int {
	n := 0
	for _, k := range c.frames.Keys() {
		if match(k) && c.frames.Remove(k) {
			n++
		}
	}
	return n
}

// Len returns the number of cached frames
func (c *FrameCache) Len() int {
	return c.frames.Len()
}
