package dataloader

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/tsawler/petsbench/vision/dataset"
)

// CacheManager is an LRU cache of preprocessed samples keyed by dataset index.
// It is safe for concurrent use by loader workers.
type CacheManager struct {
	mu      sync.Mutex
	cache   map[int]dataset.Sample
	lru     *list.List
	lruMap  map[int]*list.Element
	maxSize int

	// Statistics
	hits   int64
	misses int64
}

// NewCacheManager creates a new cache manager holding at most maxSize samples
func NewCacheManager(maxSize int) *CacheManager {
	return &CacheManager{
		cache:   make(map[int]dataset.Sample),
		lru:     list.New(),
		lruMap:  make(map[int]*list.Element),
		maxSize: maxSize,
	}
}

// Get retrieves a sample from the cache
func (cm *CacheManager) Get(index int) (dataset.Sample, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if sample, exists := cm.cache[index]; exists {
		if elem, ok := cm.lruMap[index]; ok {
			cm.lru.MoveToFront(elem)
		}
		cm.hits++
		return sample, true
	}

	cm.misses++
	return dataset.Sample{}, false
}

// Put adds a sample to the cache, evicting the least recently used ones
func (cm *CacheManager) Put(index int, sample dataset.Sample) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.maxSize <= 0 {
		return
	}

	if _, exists := cm.cache[index]; exists {
		if elem, ok := cm.lruMap[index]; ok {
			cm.lru.MoveToFront(elem)
		}
		return
	}

	cm.lruMap[index] = cm.lru.PushFront(index)
	cm.cache[index] = sample

	for cm.lru.Len() > cm.maxSize {
		cm.removeElement(cm.lru.Back())
	}
}

// removeElement removes an element from the cache
func (cm *CacheManager) removeElement(elem *list.Element) {
	index := elem.Value.(int)
	cm.lru.Remove(elem)
	delete(cm.lruMap, index)
	delete(cm.cache, index)
}

// Stats returns cache statistics
func (cm *CacheManager) Stats() CacheStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	return CacheStats{
		Size:    cm.lru.Len(),
		MaxSize: cm.maxSize,
		Hits:    cm.hits,
		Misses:  cm.misses,
		HitRate: cm.calculateHitRate(),
	}
}

// calculateHitRate calculates the hit rate percentage
func (cm *CacheManager) calculateHitRate() float64 {
	total := cm.hits + cm.misses
	if total == 0 {
		return 0
	}
	return float64(cm.hits) / float64(total) * 100
}

// Clear empties the cache; statistics stay cumulative
func (cm *CacheManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.cache = make(map[int]dataset.Sample)
	cm.lru = list.New()
	cm.lruMap = make(map[int]*list.Element)
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
