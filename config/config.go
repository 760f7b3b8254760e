package config

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/stash/pkg/serialization"
)

// Config 用於 Stash 離線請求快取的配置
// Config is the configuration for the Stash offline request cache.
type Config struct {
	Version          string            // 快取命名空間版本 (Cache namespace version; bumping it wipes stale partitions)
	MaxStaticEntries uint64            // 靜態分區的最大項目數 (Maximum number of entries in the static partition)
	Transport        http.RoundTripper // 底層網路傳輸 (Inner network transport; defaults to http.DefaultTransport)

	Partitions PartitionConfig     // 分區相關配置 (Bounded partition configurations)
	Routing    RoutingConfig       // 請求分類相關配置 (Request classification configurations)
	Queue      QueueConfig         // 持久化佇列相關配置 (Persistent mutation queue configurations)
	Offline    OfflineConfig       // 離線回退相關配置 (Offline fallback configurations)
	Resilience ResilienceConfig    // 重試和熔斷相關配置 (Retry and circuit breaker related configurations)
	Serializer SerializationConfig // 序列化相關配置 (Serialization-related configurations)
	Redis      *redis.Options      // 選用的遠端快取層 (Optional shared remote tier; nil keeps partitions local)
	Logger     *zap.Logger         // 日誌記錄器 (Logger instance)
}

// PartitionConfig bounds the dynamic and AI cache partitions.
// The static partition is never bounded by the janitor; it is wiped
// wholesale on a version bump instead.
type PartitionConfig struct {
	DynamicMaxEntries int           // 動態分區的最大項目數 (Maximum entry count for the dynamic partition)
	DynamicTTL        time.Duration // 動態分區的過期時間 (Max age for dynamic entries; 0 means count-bounded only)
	AIMaxEntries      int           // AI 分區的最大項目數 (Maximum entry count for the AI partition)
	AITTL             time.Duration // AI 分區的過期時間 (Max age for AI-classified entries)
	JanitorInterval   time.Duration // 清理過期項目的時間間隔 (Interval between janitor sweeps)
}

// RoutingConfig drives the ordered classification rules of the router.
// All lists match on path substrings, checked in declaration order.
type RoutingConfig struct {
	APIPrefix          string   // API 命名空間前綴 (API namespace prefix)
	StaticSuffixes     []string // 靜態資源的副檔名 (Static asset suffixes)
	CacheableAPIs      []string // 可快取的 API 路徑 (API paths eligible for dynamic caching)
	AIClassified       []string // AI 短期快取的路徑 (Paths cached in the short-TTL AI partition)
	ImportantMutations []string // 可排隊的變更路徑 (Mutation paths eligible for optimistic queuing)
}

// QueueConfig configures the durable mutation queue and its drainer.
type QueueConfig struct {
	Path          string        // bbolt 檔案路徑 (Path of the bbolt file backing the queue)
	DrainInterval time.Duration // 背景排空的時間間隔 (Interval between periodic drain passes; 0 disables)
	MaxAttempts   int           // 死信前的最大排空次數 (Drain attempts before a mutation is dead-lettered)
	RetryAttempts int           // 單次排空內的重試次數 (Replay retries within one drain pass)
}

// OfflineConfig configures synthesized responses when neither network
// nor cache can satisfy a request.
type OfflineConfig struct {
	ShellPath       string         // 應用程式外殼路徑 (App shell path served for failed navigations)
	PrecacheURLs    []string       // 啟動時預快取的 URL (URLs fetched into the static partition at install)
	RefreshInterval time.Duration  // 重新整理已快取端點的間隔 (Interval for refreshing cached API endpoints; 0 disables)
	Fallbacks       map[string]any // 每個端點的回退資料 (Per-endpoint fallback datasets, keyed by path substring)
}

// ResilienceConfig 用於設置重試和熔斷器
// ResilienceConfig is for configuring retries and circuit breakers.
type ResilienceConfig struct {
	NetworkBreaker gobreaker.Settings // 網路熔斷器的設置 (Circuit breaker guarding all network fetches)
	BaseDelay      time.Duration      // 重試的基礎退避時間 (Base backoff delay for replay retries)
	MaxDelay       time.Duration      // 重試的最大退避時間 (Maximum backoff delay for replay retries)
}

// SerializationConfig 序列化相關配置
// SerializationConfig is for serialization-related configurations.
type SerializationConfig struct {
	Type    string
	Encoder serialization.EncoderFunc
	Decoder serialization.DecoderFunc
}

// NewConfig returns a Config populated with the defaults the SmartEats
// deployment shipped with. Callers adjust it through functional options
// on the stash facade.
func NewConfig() *Config {
	return &Config{
		Version:          "v1",
		MaxStaticEntries: 200,
		Partitions: PartitionConfig{
			DynamicMaxEntries: 50,
			DynamicTTL:        0,
			AIMaxEntries:      20,
			AITTL:             30 * time.Minute,
			JanitorInterval:   time.Minute,
		},
		Routing: RoutingConfig{
			APIPrefix: "/api/",
			StaticSuffixes: []string{
				".css", ".js", ".mjs", ".map",
				".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico",
				".woff", ".woff2", ".ttf", ".eot",
			},
			CacheableAPIs: []string{
				"/api/community/leaderboard",
				"/api/challenges/weekly",
				"/api/meals/today",
				"/api/stats/dashboard",
				"/api/profile/load",
				"/api/health",
			},
			AIClassified: []string{
				"/api/chat",
				"/api/ai/",
				"/api/voice/",
			},
			ImportantMutations: []string{
				"/api/meals/log",
				"/api/profile/goals",
				"/api/ai/feedback",
			},
		},
		Queue: QueueConfig{
			Path:          "stash-queue.db",
			DrainInterval: 5 * time.Minute,
			MaxAttempts:   10,
			RetryAttempts: 3,
		},
		Offline: OfflineConfig{
			ShellPath: "/",
			Fallbacks: map[string]any{},
		},
		Resilience: ResilienceConfig{
			NetworkBreaker: gobreaker.Settings{Name: "stash-network"},
			BaseDelay:      100 * time.Millisecond,
			MaxDelay:       time.Second,
		},
		Serializer: SerializationConfig{
			Type:    serialization.JSONType,
			Encoder: serialization.JSONEncoder,
			Decoder: serialization.JSONDecoder,
		},
	}
}
