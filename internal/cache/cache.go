package cache

import (
	"context"
	"time"

	"sewainaja/backend/internal/domain"
)

// QuoteCache holds recently computed pricing breakdowns so the booking
// UI can re-render a price summary without hitting the ledger. Entries
// expire by TTL only; the transactional booking path never reads them.
type QuoteCache interface {
	Get(ctx context.Context, key string) (*domain.PricingBreakdown, bool, error)
	Set(ctx context.Context, key string, value *domain.PricingBreakdown, ttl time.Duration) error
}

type NoopQuoteCache struct{}

func (NoopQuoteCache) Get(_ context.Context, _ string) (*domain.PricingBreakdown, bool, error) {
	return nil, false, nil
}

func (NoopQuoteCache) Set(_ context.Context, _ string, _ *domain.PricingBreakdown, _ time.Duration) error {
	return nil
}
