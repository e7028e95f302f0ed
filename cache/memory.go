package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tabgate/tabgate/types"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
)

type entry struct {
	key      types.CacheKey
	result   types.Result
	cachedAt time.Time
}

// MemoryCache is the authoritative result cache: a TTL + LRU store keyed by
// query identity. Expiry is checked on read, never swept in the background,
// so an entry handed to a caller is never older than the TTL. It is safe for
// concurrent use.
type MemoryCache struct {
	ctx       context.Context
	cancel    context.CancelFunc
	logger    types.Logger
	config    *types.CacheConfig
	order     *list.List // front = most recently used
	items     map[types.CacheKey]*list.Element
	hits      uint64
	misses    uint64
	bypassed  uint64
	evictions uint64
	mu        sync.Mutex
	state     atomic.Value
	nowFunc   func() time.Time
}

func NewMemoryCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.ResultCache, error) {
	if config.MaxItems < 1 {
		return nil, types.Errorf(types.ErrConfigValidateFailed, "cache max_items must be >= 1, got %d", config.MaxItems)
	}

	cacheCtx, cancel := context.WithCancel(ctx)

	cache := &MemoryCache{
		ctx:     cacheCtx,
		cancel:  cancel,
		logger:  logger,
		config:  config,
		order:   list.New(),
		items:   make(map[types.CacheKey]*list.Element),
		nowFunc: time.Now,
	}

	cache.state.Store(StateStopped)

	return cache, nil
}

func (m *MemoryCache) enabled() bool {
	return m.config.TTLSeconds > 0
}

// Get returns a copy of the cached result for key, annotated with a "cache"
// sub-map carrying the hit flag and entry age. A disabled cache always
// reports not-found and counts the read as a bypass, never as a miss.
func (m *MemoryCache) Get(key types.CacheKey) (types.Result, bool) {
	if !m.enabled() {
		atomic.AddUint64(&m.bypassed, 1)
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	elem, exists := m.items[key]
	if !exists {
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	ent := elem.Value.(*entry)

	// A zero timestamp means the entry was corrupted; heal by deletion.
	if ent.cachedAt.IsZero() {
		m.removeElement(elem)
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	age := m.nowFunc().Sub(ent.cachedAt)
	if age > time.Duration(m.config.TTLSeconds)*time.Second {
		m.removeElement(elem)
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	m.order.MoveToFront(elem)
	atomic.AddUint64(&m.hits, 1)

	result := ent.result.Copy()
	result["cache"] = map[string]interface{}{
		"hit":         true,
		"age_seconds": roundSeconds(age),
	}
	return result, true
}

// Set stores a copy of result at the most-recently-used position and evicts
// from the least-recently-used end while the store exceeds MaxItems. A
// disabled cache makes Set a no-op. The caller's map is never mutated.
func (m *MemoryCache) Set(key types.CacheKey, result types.Result) {
	if !m.enabled() || result == nil {
		return
	}

	stored := result.Copy()
	stored["cached"] = true

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, exists := m.items[key]; exists {
		ent := elem.Value.(*entry)
		ent.result = stored
		ent.cachedAt = m.nowFunc()
		m.order.MoveToFront(elem)
	} else {
		elem := m.order.PushFront(&entry{
			key:      key,
			result:   stored,
			cachedAt: m.nowFunc(),
		})
		m.items[key] = elem
	}

	for len(m.items) > m.config.MaxItems {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.removeElement(oldest)
		atomic.AddUint64(&m.evictions, 1)
	}
}

// Flush clears all entries and resets the counters. It never fails, an empty
// store included.
func (m *MemoryCache) Flush() types.Result {
	m.mu.Lock()
	cleared := len(m.items)
	m.order.Init()
	m.items = make(map[types.CacheKey]*list.Element)
	m.mu.Unlock()

	atomic.StoreUint64(&m.hits, 0)
	atomic.StoreUint64(&m.misses, 0)
	atomic.StoreUint64(&m.bypassed, 0)

	m.logger.Debug("Result cache flushed", zap.Int("cleared", cleared))

	result := types.SuccessResult()
	result["cleared"] = cleared
	return result
}

func (m *MemoryCache) Stats() types.CacheStats {
	m.mu.Lock()
	size := len(m.items)
	m.mu.Unlock()

	return types.CacheStats{
		Size:       size,
		MaxItems:   m.config.MaxItems,
		TTLSeconds: m.config.TTLSeconds,
		Hits:       atomic.LoadUint64(&m.hits),
		Misses:     atomic.LoadUint64(&m.misses),
		Bypassed:   atomic.LoadUint64(&m.bypassed),
		Evictions:  atomic.LoadUint64(&m.evictions),
		Enabled:    m.enabled(),
	}
}

func (m *MemoryCache) Start() error {
	if !m.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrComponentAlreadyRunning
	}

	m.logger.Info("Memory result cache started",
		zap.Int("max_items", m.config.MaxItems),
		zap.Int("ttl_seconds", m.config.TTLSeconds),
		zap.Bool("enabled", m.enabled()))
	return nil
}

func (m *MemoryCache) Stop() error {
	if !m.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrComponentNotRunning
	}

	m.cancel()

	m.mu.Lock()
	cleared := len(m.items)
	m.order.Init()
	m.items = make(map[types.CacheKey]*list.Element)
	m.mu.Unlock()

	m.logger.Info("Memory result cache stopped", zap.Int("cleared_entries", cleared))
	return nil
}

func (m *MemoryCache) IsRunning() bool {
	return m.state.Load().(State) == StateRunning
}

// removeElement expects m.mu to be held.
func (m *MemoryCache) removeElement(elem *list.Element) {
	ent := elem.Value.(*entry)
	m.order.Remove(elem)
	delete(m.items, ent.key)
}

func roundSeconds(d time.Duration) float64 {
	secs := d.Seconds()
	return float64(int64(secs*1000+0.5)) / 1000
}
