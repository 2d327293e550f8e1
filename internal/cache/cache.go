package cache

import (
	"context"
	"time"

	"prisportal/backend/internal/domain"
)

// QuoteCache stores computed quotes. Keys embed the current generation, so
// Bump invalidates every cached quote at once.
type QuoteCache interface {
	Get(ctx context.Context, key string) (*domain.Quote, bool, error)
	Set(ctx context.Context, key string, value *domain.Quote, ttl time.Duration) error
	Generation(ctx context.Context) (int64, error)
	Bump(ctx context.Context) error
}

type NoopQuoteCache struct{}

func (NoopQuoteCache) Get(_ context.Context, _ string) (*domain.Quote, bool, error) {
	return nil, false, nil
}

func (NoopQuoteCache) Set(_ context.Context, _ string, _ *domain.Quote, _ time.Duration) error {
	return nil
}

func (NoopQuoteCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopQuoteCache) Bump(_ context.Context) error {
	return nil
}
