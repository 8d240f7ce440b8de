package cache

import (
	"context"
	"fmt"
	"time"

	"caferealitea/backend/internal/domain"
)

// SummaryCache stores rendered financial summaries per granularity.
//
// Entries are keyed by a generation that Invalidate advances. A summary
// computed under an older generation is written where no reader looks, so a
// computation racing a mutation can never publish pre-mutation figures.
type SummaryCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, generation int64, granularity domain.Granularity) (*domain.SummaryResponse, bool, error)
	Set(ctx context.Context, generation int64, granularity domain.Granularity, value *domain.SummaryResponse, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopSummaryCache) Get(_ context.Context, _ int64, _ domain.Granularity) (*domain.SummaryResponse, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ int64, _ domain.Granularity, _ *domain.SummaryResponse, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context) error {
	return nil
}

const generationKey = "realitea:summary:gen"

func summaryKey(generation int64, granularity domain.Granularity) string {
	return fmt.Sprintf("realitea:summary:%d:%s", generation, granularity)
}
