package stash

import (
	"hash/fnv"
	"sync"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"goflare.io/stash/models"
)

// staticStore holds the "static" partition: immutable assets that,
// once fetched, are served without touching the network. It is never
// swept by the janitor; a version bump replaces it wholesale.
type staticStore struct {
	maxEntries uint64
	shardCount uint64

	segments []*sync.RWMutex

	cache   *ristretto.Cache
	metrics *models.Metrics
	logger  *zap.Logger
}

func newStaticStore(maxEntries uint64, metrics *models.Metrics, logger *zap.Logger) (*staticStore, error) {
	const shardCount = 16

	ss := &staticStore{
		maxEntries: maxEntries,
		shardCount: shardCount,
		segments:   make([]*sync.RWMutex, shardCount),
		metrics:    metrics,
		logger:     logger,
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxEntries * 10),
		MaxCost:     int64(maxEntries),
		BufferItems: 64,
		OnEvict: func(item *ristretto.Item) {
			ss.metrics.Evictions.Inc()
		},
	})
	if err != nil {
		return nil, err
	}
	ss.cache = cache

	for i := range ss.segments {
		ss.segments[i] = &sync.RWMutex{}
	}
	return ss, nil
}

func (ss *staticStore) set(key string, e *models.Entry) error {
	segment := ss.segments[ss.shardIndex(key)]
	segment.Lock()
	defer segment.Unlock()

	if !ss.cache.Set(key, e, 1) {
		return ErrSetFailed
	}
	// Flush the admission buffer so the entry is visible to the very
	// next lookup; cache-first correctness depends on read-your-write.
	ss.cache.Wait()
	return nil
}

func (ss *staticStore) get(key string) (*models.Entry, bool) {
	segment := ss.segments[ss.shardIndex(key)]
	segment.RLock()
	defer segment.RUnlock()

	value, found := ss.cache.Get(key)
	if !found {
		return nil, false
	}
	return value.(*models.Entry), true
}

func (ss *staticStore) flush() {
	for i := range ss.segments {
		ss.segments[i].Lock()
	}
	defer func() {
		for i := range ss.segments {
			ss.segments[i].Unlock()
		}
	}()

	ss.cache.Clear()
}

func (ss *staticStore) close() {
	ss.cache.Close()
}

func (ss *staticStore) shardIndex(key string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % ss.shardCount)
}
