package stash

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/stash/config"
	"goflare.io/stash/models"
)

func newTestPartition(maxEntries int, maxAge time.Duration) (*partition, *models.Metrics) {
	metrics := models.NewMetrics()
	cfg := config.NewConfig()
	p := newPartition("dynamic", maxEntries, maxAge, nil, cfg.Version, cfg.Serializer, metrics, zap.NewNop())
	return p, metrics
}

func entry(key string) *models.Entry {
	return &models.Entry{Key: key, Status: 200, Body: []byte(key)}
}

func TestPartitionEvictsOldestBeyondBound(t *testing.T) {
	ctx := context.Background()
	p, metrics := newTestPartition(3, 0)

	for i := 0; i < 4; i++ {
		p.set(ctx, entry(fmt.Sprintf("GET /api/x/%d", i)))
	}

	if p.len() != 3 {
		t.Fatalf("len = %d, want 3", p.len())
	}
	if _, ok := p.lookup(ctx, "GET /api/x/0"); ok {
		t.Errorf("oldest entry should have been evicted")
	}
	for i := 1; i < 4; i++ {
		if _, ok := p.lookup(ctx, fmt.Sprintf("GET /api/x/%d", i)); !ok {
			t.Errorf("entry %d unexpectedly evicted", i)
		}
	}
	if metrics.Evictions.Load() != 1 {
		t.Errorf("evictions = %d, want 1", metrics.Evictions.Load())
	}
}

func TestPartitionRefreshMovesEntryToBack(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPartition(2, 0)

	p.set(ctx, entry("a"))
	p.set(ctx, entry("b"))
	p.set(ctx, entry("a")) // refresh: "a" is now newest
	p.set(ctx, entry("c")) // bound reached: "b" is oldest

	if _, ok := p.lookup(ctx, "b"); ok {
		t.Errorf("expected refresh to spare 'a' and evict 'b'")
	}
	if _, ok := p.lookup(ctx, "a"); !ok {
		t.Errorf("refreshed entry was evicted")
	}
}

func TestPartitionFreshConsultsTimestamp(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPartition(10, 40*time.Millisecond)

	p.set(ctx, entry("k"))
	if _, ok := p.fresh(ctx, "k"); !ok {
		t.Fatalf("entry should be fresh right after insertion")
	}

	time.Sleep(70 * time.Millisecond)

	// Physically present but past its TTL: fresh lookups treat it as
	// absent, stale lookups still find it.
	if _, ok := p.fresh(ctx, "k"); ok {
		t.Errorf("expired entry reported fresh")
	}
	if _, ok := p.lookup(ctx, "k"); !ok {
		t.Errorf("expired entry should remain until swept")
	}

	if evicted := p.sweep(time.Now()); evicted != 1 {
		t.Errorf("sweep evicted %d, want 1", evicted)
	}
	if _, ok := p.lookup(ctx, "k"); ok {
		t.Errorf("entry should be gone after sweep")
	}
}

func TestPartitionOverwriteKeepsSingleEntry(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPartition(10, 0)

	p.set(ctx, entry("k"))
	p.set(ctx, &models.Entry{Key: "k", Status: 200, Body: []byte("v2")})

	if p.len() != 1 {
		t.Fatalf("len = %d, want 1", p.len())
	}
	e, _ := p.lookup(ctx, "k")
	if string(e.Body) != "v2" {
		t.Errorf("body = %q, want refreshed value", e.Body)
	}
}

func TestJanitorSweepsExpiredAndOverflow(t *testing.T) {
	ctx := context.Background()
	ai, _ := newTestPartition(2, 20*time.Millisecond)
	dynamic, _ := newTestPartition(2, 0)

	ai.set(ctx, entry("old"))
	time.Sleep(40 * time.Millisecond)
	ai.set(ctx, entry("new"))
	for i := 0; i < 3; i++ {
		dynamic.set(ctx, entry(fmt.Sprintf("d%d", i)))
	}

	j := newJanitor(time.Minute, []*partition{ai, dynamic}, zap.NewNop())
	j.sweep(time.Now())

	if _, ok := ai.lookup(ctx, "old"); ok {
		t.Errorf("expired AI entry survived the sweep")
	}
	if _, ok := ai.lookup(ctx, "new"); !ok {
		t.Errorf("fresh AI entry was swept")
	}
	if dynamic.len() != 2 {
		t.Errorf("dynamic len = %d, want 2", dynamic.len())
	}
}

func TestMaybeCachedNeverRulesOutRemoteTier(t *testing.T) {
	s := &Stash{filter: bloom.NewWithEstimates(100, 0.01)}

	if s.maybeCached("GET example.test/api/meals/today") {
		t.Errorf("unknown key reported as cached with no remote tier")
	}
	s.markCached("GET example.test/api/meals/today")
	if !s.maybeCached("GET example.test/api/meals/today") {
		t.Errorf("key written this session reported as definitely absent")
	}

	// With a remote tier an earlier process may have persisted entries
	// this process never wrote, so the filter cannot rule out a hit.
	s.remote = redis.NewClient(&redis.Options{})
	if !s.maybeCached("GET example.test/api/profile/load") {
		t.Errorf("remote tier configured but lookup would be skipped")
	}
}

func TestStaticStoreReadYourWrite(t *testing.T) {
	ss, err := newStaticStore(100, models.NewMetrics(), zap.NewNop())
	if err != nil {
		t.Fatalf("newStaticStore: %v", err)
	}
	defer ss.close()

	if err := ss.set("GET /static/app.js", entry("GET /static/app.js")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok := ss.get("GET /static/app.js"); !ok {
		t.Errorf("entry not visible immediately after set")
	}

	ss.flush()
	if _, ok := ss.get("GET /static/app.js"); ok {
		t.Errorf("entry survived flush")
	}
}
