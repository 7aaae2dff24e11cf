package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is one cached value plus its bookkeeping. Stores hand out copies;
// mutating a returned Entry does not affect the store.
type Entry[K comparable, V any] struct {
	Key            K
	Value          V
	SizeBytes      int
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	TTL            time.Duration // zero means no expiry
	Tags           []string
	Metadata       map[string]any
}

// SetOptions carries the optional attributes of a Set call.
type SetOptions struct {
	TTL       time.Duration
	SizeBytes int
	Tags      []string
	Metadata  map[string]any
}

// Stats is a point-in-time summary of one store. It is recomputed on
// demand and never persisted.
type Stats struct {
	Name             string  `json:"name"`
	Size             int     `json:"size"`
	HitCount         int64   `json:"hit_count"`
	MissCount        int64   `json:"miss_count"`
	HitRate          float64 `json:"hit_rate"`
	EvictionCount    int64   `json:"eviction_count"`
	MemoryUsageBytes int64   `json:"memory_usage_bytes"`
}

// Recorder receives store events for external metrics. Implementations
// must be safe for concurrent use; a nil Recorder disables reporting.
type Recorder interface {
	CacheHit(store string)
	CacheMiss(store string)
	CacheEviction(store string)
	CacheSet(store string)
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// Name identifies the store in logs, stats and the manager registry.
	Name string `yaml:"name" json:"name"`

	// Capacity is the maximum entry count; Set evicts LRU entries beyond
	// it. Zero means unbounded.
	Capacity int `yaml:"capacity" json:"capacity"`

	// DefaultTTL applies when a Set carries no TTL. Zero means no expiry.
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`
}

// Store is a concurrency-safe key/value container with TTL, tags and LRU
// eviction. The zero value is not usable; use NewStore.
type Store[K comparable, V any] struct {
	mu       sync.Mutex
	config   StoreConfig
	items    map[K]*storeNode[K, V]
	head     *storeNode[K, V] // most recently used
	tail     *storeNode[K, V] // least recently used
	memBytes int64

	hits      int64
	misses    int64
	evictions int64

	recorder Recorder
	logger   *zap.Logger
}

type storeNode[K comparable, V any] struct {
	entry Entry[K, V]
	prev  *storeNode[K, V]
	next  *storeNode[K, V]
}

// NewStore creates a Store. logger may be nil.
func NewStore[K comparable, V any](config StoreConfig, logger *zap.Logger) *Store[K, V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store[K, V]{
		config: config,
		items:  make(map[K]*storeNode[K, V]),
		logger: logger.With(zap.String("component", "cache_store"), zap.String("store", config.Name)),
	}
}

// SetRecorder attaches a metrics recorder. Call before concurrent use.
func (s *Store[K, V]) SetRecorder(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

// Name returns the store's registry name.
func (s *Store[K, V]) Name() string { return s.config.Name }

// Get returns a copy of the entry for key, or nil on miss. A hit bumps
// the access count and recency; an expired entry counts as a miss and is
// removed.
func (s *Store[K, V]) Get(key K) *Entry[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.items[key]
	if !ok || s.expired(node, time.Now()) {
		if ok {
			s.removeLocked(node)
		}
		s.misses++
		if s.recorder != nil {
			s.recorder.CacheMiss(s.config.Name)
		}
		return nil
	}

	node.entry.AccessCount++
	node.entry.LastAccessedAt = time.Now()
	s.moveToHead(node)
	s.hits++
	if s.recorder != nil {
		s.recorder.CacheHit(s.config.Name)
	}
	entry := node.entry
	return &entry
}

// Set inserts or overwrites the entry for key. CreatedAt and AccessCount
// are reset on overwrite. When the store is over capacity the least
// recently used entries are evicted.
func (s *Store[K, V]) Set(key K, value V, opts SetOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ttl := opts.TTL
	if ttl == 0 {
		ttl = s.config.DefaultTTL
	}

	now := time.Now()
	if node, ok := s.items[key]; ok {
		s.memBytes -= int64(node.entry.SizeBytes)
		node.entry = Entry[K, V]{
			Key:            key,
			Value:          value,
			SizeBytes:      opts.SizeBytes,
			CreatedAt:      now,
			LastAccessedAt: now,
			TTL:            ttl,
			Tags:           opts.Tags,
			Metadata:       opts.Metadata,
		}
		s.memBytes += int64(opts.SizeBytes)
		s.moveToHead(node)
		if s.recorder != nil {
			s.recorder.CacheSet(s.config.Name)
		}
		return
	}

	node := &storeNode[K, V]{entry: Entry[K, V]{
		Key:            key,
		Value:          value,
		SizeBytes:      opts.SizeBytes,
		CreatedAt:      now,
		LastAccessedAt: now,
		TTL:            ttl,
		Tags:           opts.Tags,
		Metadata:       opts.Metadata,
	}}
	s.items[key] = node
	s.addToHead(node)
	s.memBytes += int64(opts.SizeBytes)
	if s.recorder != nil {
		s.recorder.CacheSet(s.config.Name)
	}

	for s.config.Capacity > 0 && len(s.items) > s.config.Capacity {
		if s.evictLocked() == 0 {
			break
		}
	}
}

// Has reports whether key holds a live entry. It mutates no access stats.
func (s *Store[K, V]) Has(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.items[key]
	if !ok {
		return false
	}
	if s.expired(node, time.Now()) {
		s.removeLocked(node)
		return false
	}
	return true
}

// Delete removes key if present. Deleting an absent key is a no-op.
func (s *Store[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if node, ok := s.items[key]; ok {
		s.removeLocked(node)
	}
}

// Clear removes every entry.
func (s *Store[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[K]*storeNode[K, V])
	s.head = nil
	s.tail = nil
	s.memBytes = 0
	s.logger.Debug("store cleared")
}

// Evict removes the least recently used entry, ties broken by oldest
// CreatedAt. It returns the number of entries removed (0 or 1) so callers
// can loop until under budget.
func (s *Store[K, V]) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked()
}

// InvalidateByTag removes every entry carrying tag and returns how many
// were removed.
func (s *Store[K, V]) InvalidateByTag(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, node := range s.items {
		if hasTag(node.entry.Tags, tag) {
			s.removeLocked(node)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("invalidated by tag", zap.String("tag", tag), zap.Int("removed", removed))
	}
	return removed
}

// GetByTag returns copies of every live entry carrying tag. It mutates no
// access stats and triggers no eviction.
func (s *Store[K, V]) GetByTag(tag string) []*Entry[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var entries []*Entry[K, V]
	for _, node := range s.items {
		if s.expired(node, now) || !hasTag(node.entry.Tags, tag) {
			continue
		}
		entry := node.entry
		entries = append(entries, &entry)
	}
	return entries
}

// Len returns the current entry count.
func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// GetStats recomputes the store's statistics.
func (s *Store[K, V]) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.hits + s.misses
	rate := 0.0
	if total > 0 {
		rate = float64(s.hits) / float64(total)
	}
	return Stats{
		Name:             s.config.Name,
		Size:             len(s.items),
		HitCount:         s.hits,
		MissCount:        s.misses,
		HitRate:          rate,
		EvictionCount:    s.evictions,
		MemoryUsageBytes: s.memBytes,
	}
}

func (s *Store[K, V]) expired(node *storeNode[K, V], now time.Time) bool {
	return node.entry.TTL > 0 && now.After(node.entry.CreatedAt.Add(node.entry.TTL))
}

// evictLocked removes the tail of the LRU list. New nodes enter at the
// head, so among entries with equal recency the tail-most is the oldest
// by CreatedAt.
func (s *Store[K, V]) evictLocked() int {
	if s.tail == nil {
		return 0
	}
	s.removeLocked(s.tail)
	s.evictions++
	if s.recorder != nil {
		s.recorder.CacheEviction(s.config.Name)
	}
	return 1
}

func (s *Store[K, V]) removeLocked(node *storeNode[K, V]) {
	delete(s.items, node.entry.Key)
	s.memBytes -= int64(node.entry.SizeBytes)
	s.unlink(node)
}

func (s *Store[K, V]) addToHead(node *storeNode[K, V]) {
	node.prev = nil
	node.next = s.head
	if s.head != nil {
		s.head.prev = node
	}
	s.head = node
	if s.tail == nil {
		s.tail = node
	}
}

func (s *Store[K, V]) unlink(node *storeNode[K, V]) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		s.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		s.tail = node.prev
	}
	node.prev = nil
	node.next = nil
}

func (s *Store[K, V]) moveToHead(node *storeNode[K, V]) {
	if node == s.head {
		return
	}
	s.unlink(node)
	s.addToHead(node)
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
