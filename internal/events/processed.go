package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProcessedStore remembers trigger event ids that were already handled, so
// webhook redeliveries do not double-run automation. Entries expire after the
// retention window; dedupe beyond that is the guardrail engine's job.
type ProcessedStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewProcessedStore(client *redis.Client, ttl time.Duration) *ProcessedStore {
	if client == nil {
		panic("events: redis client required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ProcessedStore{client: client, ttl: ttl}
}

// MarkProcessed records an event id, returning false when it was already
// seen.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, processedKey(eventID), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ok, nil
}

func processedKey(eventID string) string {
	return "processed_event:" + eventID
}
