// Package cache provides the bounded allocation cache mapping a request
// fingerprint to a previously allocated resource, with least-recently-used
// eviction.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/viant/taskpool/internal/clock"
	"github.com/viant/taskpool/model/resource"
)

// Config holds cache limits.
type Config struct {
	// MaxSize bounds the number of entries; inserting beyond it evicts the
	// least-recently-accessed entry.
	MaxSize int `json:"maxSize" yaml:"maxSize"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{MaxSize: 100}
}

type entry struct {
	key            string
	resource       *resource.Resource
	lastAccessedAt time.Time
}

// Service is a bounded fingerprint -> resource cache with LRU eviction.
type Service struct {
	mu        sync.Mutex
	maxSize   int
	items     map[string]*list.Element
	evictList *list.List
	hits      int64
	misses    int64
}

// New creates an allocation cache.
func New(config Config) *Service {
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultConfig().MaxSize
	}
	return &Service{
		maxSize:   config.MaxSize,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
}

// Get returns the cached resource for the key, updating recency on hit.
func (s *Service) Get(key string) (*resource.Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if element, ok := s.items[key]; ok {
		s.hits++
		element.Value.(*entry).lastAccessedAt = clock.Now()
		s.evictList.MoveToFront(element)
		return element.Value.(*entry).resource, true
	}
	s.misses++
	return nil, false
}

// Put inserts or replaces the cached resource for the key, evicting the
// globally-oldest entry first when at capacity.
func (s *Service) Put(key string, res *resource.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if element, ok := s.items[key]; ok {
		element.Value.(*entry).resource = res
		element.Value.(*entry).lastAccessedAt = clock.Now()
		s.evictList.MoveToFront(element)
		return
	}

	if s.evictList.Len() >= s.maxSize {
		if oldest := s.evictList.Back(); oldest != nil {
			s.removeElement(oldest)
		}
	}

	element := s.evictList.PushFront(&entry{
		key:            key,
		resource:       res,
		lastAccessedAt: clock.Now(),
	})
	s.items[key] = element
}

// Remove drops the entry for the key if present.
func (s *Service) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if element, ok := s.items[key]; ok {
		s.removeElement(element)
	}
}

// Clear drops all entries and resets the hit counters.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*list.Element)
	s.evictList.Init()
	s.hits = 0
	s.misses = 0
}

// Len returns the number of cached entries.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictList.Len()
}

// HitRate returns hits/(hits+misses), 0 before any lookup.
func (s *Service) HitRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.hits + s.misses
	if total == 0 {
		return 0
	}
	return float64(s.hits) / float64(total)
}

func (s *Service) removeElement(element *list.Element) {
	s.evictList.Remove(element)
	delete(s.items, element.Value.(*entry).key)
}
