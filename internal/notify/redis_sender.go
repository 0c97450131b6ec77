package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSender stores sale notifications in Redis instead of delivering them.
// Used when MOCK_SERVICES is enabled so integration tests can assert on what
// would have been sent.
type RedisSender struct {
	client *redis.Client
}

// NewRedisSender creates a new RedisSender.
func NewRedisSender(client *redis.Client) Sender {
	return &RedisSender{client: client}
}

// MockSaleKey is the Redis key under which a captured sale event is stored.
func MockSaleKey(listingSlug string) string {
	return fmt.Sprintf("mocksale:%s", listingSlug)
}

func (s *RedisSender) Notify(ctx context.Context, event SaleEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal sale event: %w", err)
	}
	key := MockSaleKey(event.ListingSlug)
	if err := s.client.Set(ctx, key, data, 10*time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to store mock sale event %s: %w", key, err)
	}
	log.Printf("Mock sale notification stored in Redis under %s", key)
	return nil
}
