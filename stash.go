// Package stash is an offline-first HTTP request cache and sync
// manager. It interposes between an application's HTTP client and the
// network: static assets are served cache-first, API reads
// network-first with stale and synthetic offline fallbacks, and
// important mutations that fail while offline are queued durably and
// replayed when connectivity returns.
package stash

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/stash/config"
	"goflare.io/stash/internal/queue"
	"goflare.io/stash/internal/retrier"
	"goflare.io/stash/models"
	"goflare.io/stash/pkg/serialization"
)

// Option 定義初始化 Stash 的選項接口
// Option mutates the configuration during New.
type Option func(*config.Config) error

// WithLogger 設置自定義的日誌記錄器
// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config.Config) error {
		cfg.Logger = logger
		return nil
	}
}

// WithVersion 設置快取命名空間版本
// WithVersion sets the cache namespace version. Bumping it deletes all
// partitions belonging to other versions on the next activation.
func WithVersion(version string) Option {
	return func(cfg *config.Config) error {
		if version == "" {
			return fmt.Errorf("version must not be empty")
		}
		cfg.Version = version
		return nil
	}
}

// WithTransport 設置底層網路傳輸
// WithTransport sets the inner transport requests are delivered with.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *config.Config) error {
		cfg.Transport = rt
		return nil
	}
}

// WithQueuePath 設置佇列檔案路徑
// WithQueuePath sets the path of the bbolt file backing the queue.
func WithQueuePath(path string) Option {
	return func(cfg *config.Config) error {
		cfg.Queue.Path = path
		return nil
	}
}

// WithRedis 設置遠端快取層
// WithRedis enables the shared remote tier for the bounded partitions.
func WithRedis(options *redis.Options) Option {
	return func(cfg *config.Config) error {
		cfg.Redis = options
		return nil
	}
}

// WithSerializer 設置序列化方式
// WithSerializer selects the codec framing entries for the remote tier.
func WithSerializer(serializer string) Option {
	return func(cfg *config.Config) error {
		switch serializer {
		case serialization.JSONType:
			cfg.Serializer.Type = serialization.JSONType
			cfg.Serializer.Encoder = serialization.JSONEncoder
			cfg.Serializer.Decoder = serialization.JSONDecoder
		case serialization.GobType:
			cfg.Serializer.Type = serialization.GobType
			cfg.Serializer.Encoder = serialization.GobEncoder
			cfg.Serializer.Decoder = serialization.GobDecoder
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedSerializer, serializer)
		}
		return nil
	}
}

// WithCacheableAPIs replaces the allowlist of API paths eligible for
// dynamic caching.
func WithCacheableAPIs(paths ...string) Option {
	return func(cfg *config.Config) error {
		cfg.Routing.CacheableAPIs = paths
		return nil
	}
}

// WithAIClassified replaces the list of paths cached in the short-TTL
// AI partition.
func WithAIClassified(paths ...string) Option {
	return func(cfg *config.Config) error {
		cfg.Routing.AIClassified = paths
		return nil
	}
}

// WithImportantMutations replaces the allowlist of mutation paths
// eligible for optimistic queuing.
func WithImportantMutations(paths ...string) Option {
	return func(cfg *config.Config) error {
		cfg.Routing.ImportantMutations = paths
		return nil
	}
}

// WithPrecacheURLs sets the URLs fetched into the static partition at
// install time.
func WithPrecacheURLs(urls ...string) Option {
	return func(cfg *config.Config) error {
		cfg.Offline.PrecacheURLs = urls
		return nil
	}
}

// WithOfflineFallback registers the dataset synthesized for an
// endpoint when neither network nor cache can answer.
func WithOfflineFallback(pathSubstring string, data any) Option {
	return func(cfg *config.Config) error {
		cfg.Offline.Fallbacks[pathSubstring] = data
		return nil
	}
}

// WithShellPath sets the app shell path served for failed navigations.
func WithShellPath(path string) Option {
	return func(cfg *config.Config) error {
		cfg.Offline.ShellPath = path
		return nil
	}
}

// WithDynamicPartition bounds the dynamic partition.
func WithDynamicPartition(maxEntries int, ttl time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.Partitions.DynamicMaxEntries = maxEntries
		cfg.Partitions.DynamicTTL = ttl
		return nil
	}
}

// WithAIPartition bounds the short-TTL AI partition.
func WithAIPartition(maxEntries int, ttl time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.Partitions.AIMaxEntries = maxEntries
		cfg.Partitions.AITTL = ttl
		return nil
	}
}

// WithJanitorInterval sets the period between janitor sweeps.
func WithJanitorInterval(interval time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.Partitions.JanitorInterval = interval
		return nil
	}
}

// WithDrainPolicy configures the drain schedule and retry budget:
// interval between periodic drains (0 disables them), replay retries
// within one pass, and the attempt count past which a mutation is
// dead-lettered.
func WithDrainPolicy(interval time.Duration, retryAttempts, maxAttempts int) Option {
	return func(cfg *config.Config) error {
		cfg.Queue.DrainInterval = interval
		cfg.Queue.RetryAttempts = retryAttempts
		cfg.Queue.MaxAttempts = maxAttempts
		return nil
	}
}

// WithRefreshInterval sets the period for re-fetching cached API
// endpoints while online (0 disables the refresh job).
func WithRefreshInterval(interval time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.Offline.RefreshInterval = interval
		return nil
	}
}

// Stash 定義離線請求快取的主要結構體
// Stash is the offline request cache. It implements http.RoundTripper;
// wrap it in an http.Client (see Client) or mount it in a gateway.
type Stash struct {
	cfg       *config.Config
	logger    *zap.Logger
	transport http.RoundTripper

	static  *staticStore
	dynamic *partition
	ai      *partition

	queue  *queue.Store
	router *router

	breaker *gobreaker.CircuitBreaker
	retrier *retrier.Retrier
	sf      *singleflight.Group

	filterMu sync.Mutex
	filter   *bloom.BloomFilter

	remote  *redis.Client
	metrics *models.Metrics
	tracer  trace.Tracer

	drainMu sync.Mutex
	cancel  context.CancelFunc
}

var _ http.RoundTripper = (*Stash)(nil)

// New 初始化 Stash,接受多個配置選項
// New builds a Stash: it opens the queue store, wipes partitions left
// over from other cache versions, starts the background jobs and
// precaches the configured URL set.
func New(ctx context.Context, opts ...Option) (*Stash, error) {
	cfg := config.NewConfig()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.Logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize default logger: %w", err)
		}
		cfg.Logger = logger
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	for path, data := range defaultFallbacks() {
		if _, ok := cfg.Offline.Fallbacks[path]; !ok {
			cfg.Offline.Fallbacks[path] = data
		}
	}

	var remote *redis.Client
	if cfg.Redis != nil {
		remote = redis.NewClient(cfg.Redis)
		if err := remote.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}

	metrics := models.NewMetrics()

	static, err := newStaticStore(cfg.MaxStaticEntries, metrics, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create static store: %w", err)
	}

	store, err := queue.Open(cfg.Queue.Path)
	if err != nil {
		static.close()
		return nil, fmt.Errorf("failed to open mutation queue: %w", err)
	}

	s := &Stash{
		cfg:       cfg,
		logger:    cfg.Logger,
		transport: cfg.Transport,
		static:    static,
		queue:     store,
		remote:    remote,
		metrics:   metrics,
		tracer:    otel.Tracer("stash"),
		sf:        &singleflight.Group{},
		retrier: retrier.NewRetrier(cfg.Queue.RetryAttempts,
			cfg.Resilience.BaseDelay, cfg.Resilience.MaxDelay, 2, 0.1),
	}

	s.dynamic = newPartition("dynamic", cfg.Partitions.DynamicMaxEntries, cfg.Partitions.DynamicTTL,
		remote, cfg.Version, cfg.Serializer, metrics, cfg.Logger)
	s.ai = newPartition("ai-short-ttl", cfg.Partitions.AIMaxEntries, cfg.Partitions.AITTL,
		remote, cfg.Version, cfg.Serializer, metrics, cfg.Logger)

	estimate := uint(cfg.Partitions.DynamicMaxEntries+cfg.Partitions.AIMaxEntries) * 10
	s.filter = bloom.NewWithEstimates(estimate, 0.01)

	s.breaker = gobreaker.NewCircuitBreaker(s.breakerSettings(cfg.Resilience.NetworkBreaker))
	s.router = newRouter(s)

	if err := s.activate(ctx); err != nil {
		s.logger.Warn("Activation cleanup failed", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	j := newJanitor(cfg.Partitions.JanitorInterval, []*partition{s.dynamic, s.ai}, cfg.Logger)
	go j.run(runCtx)
	if cfg.Queue.DrainInterval > 0 {
		go s.drainLoop(runCtx)
	}
	if cfg.Offline.RefreshInterval > 0 {
		go s.refreshLoop(runCtx)
	}
	s.precache(runCtx)

	return s, nil
}

// breakerSettings chains the drain trigger onto any user-provided
// state-change hook: the breaker closing again is the reconnect signal.
func (s *Stash) breakerSettings(settings gobreaker.Settings) gobreaker.Settings {
	userHook := settings.OnStateChange
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		if userHook != nil {
			userHook(name, from, to)
		}
		if to == gobreaker.StateClosed && from != gobreaker.StateClosed {
			s.logger.Info("Network recovered, draining queued mutations")
			go s.NotifyOnline(context.Background())
		}
	}
	return settings
}

// RoundTrip classifies the request and delegates to exactly one
// strategy executor.
func (s *Stash) RoundTrip(req *http.Request) (*http.Response, error) {
	strat, ruleName := s.router.route(req)

	ctx, span := s.tracer.Start(req.Context(), "Stash.RoundTrip", trace.WithAttributes(
		attribute.String("key", requestKey(req)),
		attribute.String("strategy", strat.name()),
		attribute.String("rule", ruleName),
	))
	defer span.End()

	return strat.execute(ctx, req)
}

// Client returns an http.Client delivering every request through the
// cache.
func (s *Stash) Client() *http.Client {
	return &http.Client{Transport: s}
}

// Stats returns a snapshot of the cache and queue counters.
func (s *Stash) Stats() models.Stats {
	return s.metrics.Snapshot()
}

// partitionFor selects the partition a cacheable path persists to.
func (s *Stash) partitionFor(path string) *partition {
	if matchesAny(path, s.cfg.Routing.AIClassified) {
		return s.ai
	}
	return s.dynamic
}

// markCached records a key in the session filter after a partition
// write.
func (s *Stash) markCached(key string) {
	s.filterMu.Lock()
	s.filter.Add([]byte(key))
	s.filterMu.Unlock()
}

// maybeCached reports whether a key could be in a partition. False is
// definite; true may be a false positive. The filter only tracks keys
// written by this process, so a configured remote tier, which may hold
// entries persisted before a restart, is never ruled out.
func (s *Stash) maybeCached(key string) bool {
	if s.remote != nil {
		return true
	}
	s.filterMu.Lock()
	defer s.filterMu.Unlock()
	return s.filter.Test([]byte(key))
}

// activate deletes remote keys belonging to any cache version other
// than the configured one, forcing a full refresh after a deploy.
func (s *Stash) activate(ctx context.Context) error {
	if s.remote == nil {
		return nil
	}

	keep := "stash:" + s.cfg.Version + ":"
	var cursor uint64
	for {
		keys, next, err := s.remote.Scan(ctx, cursor, "stash:*", 1000).Result()
		if err != nil {
			return fmt.Errorf("failed to scan remote keys: %w", err)
		}
		stale := make([]string, 0, len(keys))
		for _, key := range keys {
			if !strings.HasPrefix(key, keep) {
				stale = append(stale, key)
			}
		}
		if len(stale) > 0 {
			if err := s.remote.Del(ctx, stale...).Err(); err != nil {
				return fmt.Errorf("failed to delete stale-version keys: %w", err)
			}
			s.logger.Info("Deleted stale-version cache keys", zap.Int("count", len(stale)))
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// precache fetches the configured URL set into the static partition,
// best effort.
func (s *Stash) precache(ctx context.Context) {
	for _, url := range s.cfg.Offline.PrecacheURLs {
		go func(u string) {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				s.logger.Warn("Invalid precache URL", zap.String("url", u), zap.Error(err))
				return
			}
			if err := s.fetchIntoStatic(req); err != nil {
				s.logger.Warn("Failed to precache URL", zap.String("url", u), zap.Error(err))
			}
		}(url)
	}
}

func (s *Stash) fetchIntoStatic(req *http.Request) error {
	resp, err := s.fetch(req)
	if err != nil {
		return err
	}
	key := requestKey(req)
	e, err := snapshotEntry(key, resp)
	if err != nil {
		return err
	}
	if !storable(resp) {
		return fmt.Errorf("precache %s: status %d", req.URL, resp.StatusCode)
	}
	return s.static.set(key, e)
}

// refreshLoop keeps already-cached API endpoints warm while online by
// re-fetching them on a schedule.
func (s *Stash) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Offline.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.refreshEssential(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Stash) refreshEssential(ctx context.Context) {
	for _, p := range []*partition{s.dynamic, s.ai} {
		for _, e := range p.entries() {
			if e.URL == "" || !strings.HasPrefix(e.Key, http.MethodGet+" ") {
				continue
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL, nil)
			if err != nil {
				continue
			}
			resp, err := s.fetch(req)
			if err != nil {
				// Offline; the next tick will try again.
				return
			}
			if !storable(resp) {
				_ = resp.Body.Close()
				continue
			}
			fresh, err := snapshotEntry(e.Key, resp)
			if err != nil {
				s.logger.Warn("Failed to refresh cached endpoint", zap.String("key", e.Key), zap.Error(err))
				continue
			}
			p.set(ctx, fresh)
		}
	}
}

// drainLoop is the periodic background wake that flushes the queue.
func (s *Stash) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Queue.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.NotifyOnline(ctx)
		case <-ctx.Done():
			s.logger.Info("Stopping drain loop due to context cancellation")
			return
		}
	}
}

// Close 關閉 Stash,釋放資源
// Close stops the background jobs and releases the stores.
func (s *Stash) Close() error {
	if s.cancel != nil {
		s.cancel()
	}

	var firstErr error
	if err := s.queue.Close(); err != nil {
		firstErr = fmt.Errorf("failed to close mutation queue: %w", err)
	}
	s.static.close()
	if s.remote != nil {
		if err := s.remote.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close redis client: %w", err)
		}
	}
	return firstErr
}
