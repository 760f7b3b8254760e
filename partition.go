package stash

import (
	"bytes"
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/stash/config"
	"goflare.io/stash/models"
)

// partition is a named logical cache bucket bounded by entry count and,
// optionally, entry age. Eviction is oldest-insertion-first; a refresh
// re-inserts the entry at the back with a new timestamp, so the order
// list stays timestamp-ordered. An optional redis tier shares entries
// across instances under a versioned key prefix.
type partition struct {
	name       string
	maxEntries int
	maxAge     time.Duration

	mu    sync.RWMutex
	order *list.List // *models.Entry, oldest at front
	index map[string]*list.Element

	remote     *redis.Client
	prefix     string
	serializer config.SerializationConfig

	metrics *models.Metrics
	logger  *zap.Logger
}

func newPartition(name string, maxEntries int, maxAge time.Duration, remote *redis.Client, version string, serializer config.SerializationConfig, metrics *models.Metrics, logger *zap.Logger) *partition {
	return &partition{
		name:       name,
		maxEntries: maxEntries,
		maxAge:     maxAge,
		order:      list.New(),
		index:      make(map[string]*list.Element),
		remote:     remote,
		prefix:     remoteKeyPrefix(version, name),
		serializer: serializer,
		metrics:    metrics,
		logger:     logger,
	}
}

func remoteKeyPrefix(version, name string) string {
	return "stash:" + version + ":" + name + ":"
}

// set stores a fresh snapshot under its key, overwriting any previous
// entry, and enforces the partition bound inline so an insert can never
// leave the partition over its maximum.
func (p *partition) set(ctx context.Context, e *models.Entry) {
	e.InsertedAt = time.Now()

	p.mu.Lock()
	p.upsertLocked(e)
	for p.maxEntries > 0 && p.order.Len() > p.maxEntries {
		p.evictOldestLocked()
	}
	p.mu.Unlock()

	if p.remote != nil {
		if err := p.remoteSet(ctx, e); err != nil {
			p.logger.Warn("Failed to write entry to remote tier",
				zap.String("partition", p.name), zap.String("key", e.Key), zap.Error(err))
		}
	}
}

func (p *partition) upsertLocked(e *models.Entry) {
	if el, ok := p.index[e.Key]; ok {
		el.Value = e
		p.order.MoveToBack(el)
		return
	}
	p.index[e.Key] = p.order.PushBack(e)
}

func (p *partition) evictOldestLocked() {
	front := p.order.Front()
	if front == nil {
		return
	}
	e := front.Value.(*models.Entry)
	p.order.Remove(front)
	delete(p.index, e.Key)
	p.metrics.Evictions.Inc()
}

// fresh returns the entry only if it is present and within the
// partition's max age. Presence alone is not enough; the insertion
// timestamp decides.
func (p *partition) fresh(ctx context.Context, key string) (*models.Entry, bool) {
	e, ok := p.lookup(ctx, key)
	if !ok || e.Expired(time.Now(), p.maxAge) {
		return nil, false
	}
	return e, true
}

// lookup returns the entry regardless of age, falling back to the
// remote tier on a local miss. Expired entries remain retrievable here
// until the janitor removes them; callers serving them must mark the
// response stale.
func (p *partition) lookup(ctx context.Context, key string) (*models.Entry, bool) {
	p.mu.RLock()
	el, ok := p.index[key]
	p.mu.RUnlock()
	if ok {
		return el.Value.(*models.Entry), true
	}

	if p.remote == nil {
		return nil, false
	}
	e, err := p.remoteGet(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			p.logger.Warn("Failed to read entry from remote tier",
				zap.String("partition", p.name), zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	// Adopt the remote copy locally, keeping its original timestamp.
	p.mu.Lock()
	p.upsertLocked(e)
	for p.maxEntries > 0 && p.order.Len() > p.maxEntries {
		p.evictOldestLocked()
	}
	p.mu.Unlock()
	return e, true
}

// sweep removes entries past the partition's max age and trims any
// overflow, oldest first. Returns the number of evicted entries.
func (p *partition) sweep(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	if p.maxAge > 0 {
		for el := p.order.Front(); el != nil; {
			next := el.Next()
			e := el.Value.(*models.Entry)
			if e.Expired(now, p.maxAge) {
				p.order.Remove(el)
				delete(p.index, e.Key)
				p.metrics.Evictions.Inc()
				evicted++
			}
			el = next
		}
	}
	for p.maxEntries > 0 && p.order.Len() > p.maxEntries {
		p.evictOldestLocked()
		evicted++
	}
	return evicted
}

func (p *partition) len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.order.Len()
}

// entries returns a snapshot of all entries in insertion order.
func (p *partition) entries() []*models.Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*models.Entry, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*models.Entry))
	}
	return out
}

func (p *partition) remoteSet(ctx context.Context, e *models.Entry) error {
	var buf bytes.Buffer
	if err := p.serializer.Encoder(&buf).Encode(e); err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	// A zero max age translates to no redis expiry.
	if err := p.remote.Set(ctx, p.prefix+e.Key, buf.Bytes(), p.maxAge).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (p *partition) remoteGet(ctx context.Context, key string) (*models.Entry, error) {
	data, err := p.remote.Get(ctx, p.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	e := &models.Entry{}
	if err := p.serializer.Decoder(bytes.NewReader(data)).Decode(e); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	return e, nil
}
