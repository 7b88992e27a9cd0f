package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/procsight/baseline-monitor/internal/domain/deviation"
	"github.com/procsight/baseline-monitor/internal/infrastructure/config"
)

// Key prefixes for the monitoring cache
const (
	SummaryPrefix  = "bsm:alerts:summary:"
	BaselinePrefix = "bsm:baseline:hash:"
)

// TTL values for cache entries
const (
	SummaryTTL  = 5 * time.Minute
	BaselineTTL = 24 * time.Hour
)

// AlertSummary is the per-engagement dashboard rollup served from cache.
type AlertSummary struct {
	EngagementID   string                     `json:"engagement_id"`
	Total          int                        `json:"total"`
	Unacknowledged int                        `json:"unacknowledged"`
	BySeverity     map[deviation.Severity]int `json:"by_severity"`
	ComputedAt     time.Time                  `json:"computed_at"`
}

// SummaryCache is a Redis-backed TTL cache for alert summaries. It is an
// explicitly owned object: every entry has a stated TTL plus jitter against
// stampedes, and writers invalidate on alert mutation. A cache miss is a
// normal result, not an error.
type SummaryCache struct {
	client    *redis.Client
	logger    *zap.Logger
	ttlJitter time.Duration
}

// NewRedisClient connects a Redis client from configuration.
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.URL,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return client, nil
}

// NewSummaryCache creates a summary cache over an existing Redis client.
func NewSummaryCache(client *redis.Client, logger *zap.Logger) (*SummaryCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &SummaryCache{
		client:    client,
		logger:    logger,
		ttlJitter: 30 * time.Second,
	}, nil
}

func summaryKey(engagementID string) string {
	return SummaryPrefix + engagementID
}

// GetSummary returns the cached summary for an engagement. The boolean is
// false on a miss.
func (c *SummaryCache) GetSummary(ctx context.Context, engagementID string) (*AlertSummary, bool, error) {
	data, err := c.client.Get(ctx, summaryKey(engagementID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		c.logger.Error("summary cache get failed",
			zap.String("engagement_id", engagementID),
			zap.Error(err))
		return nil, false, fmt.Errorf("summary cache get: %w", err)
	}

	var summary AlertSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, false, fmt.Errorf("summary cache decode: %w", err)
	}
	return &summary, true, nil
}

// SetSummary caches a summary with the standard TTL plus jitter.
func (c *SummaryCache) SetSummary(ctx context.Context, summary *AlertSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("summary cache encode: %w", err)
	}

	ttl := SummaryTTL + time.Duration(rand.Int63n(int64(c.ttlJitter)))
	if err := c.client.Set(ctx, summaryKey(summary.EngagementID), data, ttl).Err(); err != nil {
		c.logger.Error("summary cache set failed",
			zap.String("engagement_id", summary.EngagementID),
			zap.Error(err))
		return fmt.Errorf("summary cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached summary for an engagement. Called whenever an
// alert for that engagement is created, collapsed, or acknowledged.
func (c *SummaryCache) Invalidate(ctx context.Context, engagementID string) error {
	if err := c.client.Del(ctx, summaryKey(engagementID)).Err(); err != nil {
		c.logger.Error("summary cache invalidate failed",
			zap.String("engagement_id", engagementID),
			zap.Error(err))
		return fmt.Errorf("summary cache invalidate: %w", err)
	}
	return nil
}

// SetBaselineHash caches the active baseline's content hash so comparison
// runs can cheaply detect a superseded baseline.
func (c *SummaryCache) SetBaselineHash(ctx context.Context, engagementID, hash string) error {
	if err := c.client.Set(ctx, BaselinePrefix+engagementID, hash, BaselineTTL).Err(); err != nil {
		return fmt.Errorf("baseline hash set: %w", err)
	}
	return nil
}

// GetBaselineHash returns the cached baseline hash, or "" on a miss.
func (c *SummaryCache) GetBaselineHash(ctx context.Context, engagementID string) (string, error) {
	hash, err := c.client.Get(ctx, BaselinePrefix+engagementID).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("baseline hash get: %w", err)
	}
	return hash, nil
}
