package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/redis/go-redis/v9"
)

const (
	summaryPrefix    = "ledger:summary:"
	generationPrefix = "ledger:summary-gen:"

	// DefaultSummaryTTL bounds staleness if an invalidation is lost.
	DefaultSummaryTTL = 5 * time.Minute

	// minGenerationTTL keeps a counter alive well past any in-flight read.
	minGenerationTTL = 24 * time.Hour
)

// fillScript stores the summary only if the generation is still the one the
// reader saw before loading the ledger. A missing counter is generation 0.
var fillScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[1]) or "0"
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// SummaryCache stores account summaries as JSON. It also observes ledger
// changes and drops the affected creator's summary.
type SummaryCache struct {
	client        *Client
	ttl           time.Duration
	generationTTL time.Duration
	recorder      HitRecorder
}

// HitRecorder counts cache lookups. *metrics.Metrics implements it.
type HitRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// NewSummaryCache creates a summary cache. ttl <= 0 uses DefaultSummaryTTL.
func NewSummaryCache(client *Client, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = DefaultSummaryTTL
	}
	generationTTL := minGenerationTTL
	if 2*ttl > generationTTL {
		generationTTL = 2 * ttl
	}
	return &SummaryCache{client: client, ttl: ttl, generationTTL: generationTTL}
}

// WithRecorder counts hits and misses under the "summary" cache type.
func (c *SummaryCache) WithRecorder(r HitRecorder) *SummaryCache {
	c.recorder = r
	return c
}

func summaryKey(creatorID string) string {
	return summaryPrefix + creatorID
}

func generationKey(creatorID string) string {
	return generationPrefix + creatorID
}

func (c *SummaryCache) GetSummary(ctx context.Context, creatorID string) (*ledger.Summary, bool, error) {
	raw, found, err := c.client.Get(ctx, summaryKey(creatorID))
	if err != nil {
		return nil, false, err
	}
	if c.recorder != nil {
		if found {
			c.recorder.RecordCacheHit("summary")
		} else {
			c.recorder.RecordCacheMiss("summary")
		}
	}
	if !found {
		return nil, false, nil
	}
	var s ledger.Summary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, false, fmt.Errorf("decode cached summary: %w", err)
	}
	return &s, true, nil
}

// Generation returns the creator's invalidation counter.
func (c *SummaryCache) Generation(ctx context.Context, creatorID string) (int64, error) {
	gen, err := c.client.Redis.Get(ctx, generationKey(creatorID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// SetSummary caches s unless the creator was invalidated after generation
// was read. It reports whether the summary was stored.
func (c *SummaryCache) SetSummary(ctx context.Context, s *ledger.Summary, generation int64) (bool, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("encode summary: %w", err)
	}
	stored, err := fillScript.Run(ctx, c.client.Redis,
		[]string{generationKey(s.CreatorID), summaryKey(s.CreatorID)},
		generation, data, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// InvalidateSummary advances the creator's generation and drops the cached
// summary in one transaction.
func (c *SummaryCache) InvalidateSummary(ctx context.Context, creatorID string) error {
	genKey := generationKey(creatorID)
	_, err := c.client.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, c.generationTTL)
		pipe.Del(ctx, summaryKey(creatorID))
		return nil
	})
	return err
}

func (c *SummaryCache) CommissionPosted(ctx context.Context, posting *ledger.Posting, _ ledger.Account) {
	c.invalidate(ctx, posting.CreatorID)
}

func (c *SummaryCache) PayoutChanged(ctx context.Context, request *ledger.PayoutRequest, _ ledger.State, _ ledger.Account) {
	c.invalidate(ctx, request.CreatorID)
}

func (c *SummaryCache) invalidate(ctx context.Context, creatorID string) {
	if err := c.InvalidateSummary(ctx, creatorID); err != nil {
		c.client.logger.Warn("failed to invalidate summary", "creator_id", creatorID, "error", err)
	}
}
