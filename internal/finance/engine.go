package finance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"caferealitea/backend/internal/domain"
	"caferealitea/backend/internal/packaging"
	"caferealitea/backend/internal/store"
)

// Source is the read side of the order store and the cost tables.
type Source interface {
	ListConfirmedOrders(ctx context.Context) ([]domain.Order, error)
	ProductGrossProfits(ctx context.Context) (map[int64]decimal.Decimal, error)
	ListGrossProfitItems(ctx context.Context) ([]domain.GrossProfitItem, error)
	EquipmentCostTotal(ctx context.Context) (decimal.Decimal, error)
}

type PackagingRates interface {
	Rates(ctx context.Context, lines []domain.OrderLine) (packaging.Rates, error)
}

type Engine struct {
	source   Source
	packer   PackagingRates
	caps     store.SchemaCapabilities
	location *time.Location
	now      func() time.Time
}

// NewEngine builds an aggregation engine. caps decides, once, whether stored
// packaging costs are trusted or re-derived from the current packaging table.
// A nil location buckets in UTC.
func NewEngine(source Source, packer PackagingRates, caps store.SchemaCapabilities, location *time.Location) *Engine {
	if location == nil {
		location = time.UTC
	}
	return &Engine{
		source:   source,
		packer:   packer,
		caps:     caps,
		location: location,
		now:      time.Now,
	}
}

type bucketKey struct {
	year  int
	month int
	day   int
}

func (e *Engine) keyFor(at time.Time, granularity domain.Granularity) bucketKey {
	t := at.In(e.location)
	switch granularity {
	case domain.GranularityYearly:
		return bucketKey{year: t.Year()}
	case domain.GranularityMonthly:
		return bucketKey{year: t.Year(), month: int(t.Month())}
	default:
		return bucketKey{year: t.Year(), month: int(t.Month()), day: t.Day()}
	}
}

func (k bucketKey) period(granularity domain.Granularity) string {
	switch granularity {
	case domain.GranularityYearly:
		return fmt.Sprintf("%04d", k.year)
	case domain.GranularityMonthly:
		return fmt.Sprintf("%04d-%02d", k.year, k.month)
	default:
		return fmt.Sprintf("%04d-%02d-%02d", k.year, k.month, k.day)
	}
}

func (k bucketKey) less(other bucketKey) bool {
	if k.year != other.year {
		return k.year < other.year
	}
	if k.month != other.month {
		return k.month < other.month
	}
	return k.day < other.day
}

// Summarize buckets every CONFIRMED order by granularity. Periods without a
// confirmed order are not emitted.
func (e *Engine) Summarize(ctx context.Context, granularity domain.Granularity) (domain.SummaryResponse, error) {
	if _, ok := domain.ParseGranularity(string(granularity)); !ok {
		return domain.SummaryResponse{}, fmt.Errorf("%w: unknown granularity %q", store.ErrValidation, granularity)
	}

	orders, err := e.source.ListConfirmedOrders(ctx)
	if err != nil {
		return domain.SummaryResponse{}, fmt.Errorf("list confirmed orders: %w", err)
	}
	perUnitProfit, err := e.source.ProductGrossProfits(ctx)
	if err != nil {
		return domain.SummaryResponse{}, fmt.Errorf("load product gross profit: %w", err)
	}
	manualProfit, err := e.source.ListGrossProfitItems(ctx)
	if err != nil {
		return domain.SummaryResponse{}, fmt.Errorf("load gross profit items: %w", err)
	}
	equipment, err := e.source.EquipmentCostTotal(ctx)
	if err != nil {
		return domain.SummaryResponse{}, fmt.Errorf("load equipment costs: %w", err)
	}

	packagingOf, err := e.packagingResolver(ctx, orders)
	if err != nil {
		return domain.SummaryResponse{}, err
	}

	buckets := make(map[bucketKey]*domain.SummaryBucket)
	for _, order := range orders {
		if order.Status != domain.OrderStatusConfirmed {
			continue
		}
		key := e.keyFor(order.OrderTime, granularity)
		bucket, ok := buckets[key]
		if !ok {
			bucket = newBucket(key, granularity)
			buckets[key] = bucket
		}

		bucket.Orders++
		bucket.Revenue = bucket.Revenue.Add(order.Total)
		bucket.PackagingCost = bucket.PackagingCost.Add(packagingOf(order))
		for _, line := range order.Items {
			perUnit, ok := perUnitProfit[line.ItemID]
			if !ok || line.Quantity < 1 {
				continue
			}
			bucket.GrossProfit = bucket.GrossProfit.Add(perUnit.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
	}

	for _, entry := range manualProfit {
		bucket, ok := buckets[e.keyFor(entry.DateCreated, granularity)]
		if !ok {
			continue
		}
		bucket.GrossProfit = bucket.GrossProfit.Add(entry.Amount)
	}

	keys := make([]bucketKey, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	result := make([]domain.SummaryBucket, 0, len(keys))
	for _, key := range keys {
		bucket := buckets[key]
		bucket.EquipmentCost = equipment
		result = append(result, roundBucket(*bucket))
	}

	return domain.SummaryResponse{
		Granularity: granularity,
		Buckets:     result,
		GeneratedAt: e.now().UTC().Format(time.RFC3339),
	}, nil
}

// packagingResolver returns the per-order packaging cost. Without the
// orders.packaging_cost column the cost is re-derived from the current
// packaging table, so historical rate changes are not reflected.
func (e *Engine) packagingResolver(ctx context.Context, orders []domain.Order) (func(domain.Order) decimal.Decimal, error) {
	if e.caps.OrderPackagingCost || e.packer == nil {
		return func(order domain.Order) decimal.Decimal { return order.PackagingCost }, nil
	}

	lines := make([]domain.OrderLine, 0, len(orders))
	for _, order := range orders {
		lines = append(lines, order.Items...)
	}
	rates, err := e.packer.Rates(ctx, lines)
	if err != nil {
		return nil, fmt.Errorf("derive packaging rates: %w", err)
	}
	return func(order domain.Order) decimal.Decimal { return rates.Cost(order.Items) }, nil
}

func newBucket(key bucketKey, granularity domain.Granularity) *domain.SummaryBucket {
	bucket := &domain.SummaryBucket{
		Period: key.period(granularity),
		Year:   key.year,
	}
	if granularity != domain.GranularityYearly {
		bucket.Month = key.month
	}
	if granularity == domain.GranularityDaily {
		bucket.Day = key.day
	}
	return bucket
}

// roundBucket rounds every component to cents and derives net profit from
// the rounded values, so the displayed figures always add up.
func roundBucket(b domain.SummaryBucket) domain.SummaryBucket {
	b.Revenue = b.Revenue.Round(2)
	b.PackagingCost = b.PackagingCost.Round(2)
	b.GrossProfit = b.GrossProfit.Round(2)
	b.EquipmentCost = b.EquipmentCost.Round(2)
	b.NetProfit = b.Revenue.Sub(b.PackagingCost).Sub(b.GrossProfit).Sub(b.EquipmentCost)
	return b
}
