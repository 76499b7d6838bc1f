package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/recruit/pkg/common/models"
)

const cacheKeyPrefix = "recruit:funnel:"

// Cache keeps computed funnels in Redis until they expire or the study's
// patients change.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(studyID uuid.UUID) string {
	return fmt.Sprintf("%s%s", cacheKeyPrefix, studyID)
}

// Get returns the cached funnel and whether one was found.
func (c *Cache) Get(ctx context.Context, studyID uuid.UUID) (models.FunnelSummary, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(studyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.FunnelSummary{}, false, nil
	}
	if err != nil {
		return models.FunnelSummary{}, false, err
	}
	var summary models.FunnelSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return models.FunnelSummary{}, false, fmt.Errorf("decode cached funnel: %w", err)
	}
	return summary, true, nil
}

func (c *Cache) Set(ctx context.Context, summary models.FunnelSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(summary.StudyID), data, c.ttl).Err()
}

func (c *Cache) Invalidate(ctx context.Context, studyID uuid.UUID) error {
	return c.client.Del(ctx, cacheKey(studyID)).Err()
}
