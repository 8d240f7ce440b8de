package packaging

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"caferealitea/backend/internal/domain"
)

type Catalog interface {
	LookupItems(ctx context.Context, ids []int64) (map[int64]domain.MenuItem, error)
}

// CostTable returns, per category, the summed unit cost of every packaging
// item registered for it. Categories without registrations are absent.
type CostTable interface {
	PackagingUnitCosts(ctx context.Context, categoryIDs []int64) (map[int64]decimal.Decimal, error)
}

type Engine struct {
	catalog Catalog
	costs   CostTable
}

func NewEngine(catalog Catalog, costs CostTable) *Engine {
	return &Engine{catalog: catalog, costs: costs}
}

// Compute returns the packaging surcharge for one order's lines.
func (e *Engine) Compute(ctx context.Context, lines []domain.OrderLine) (decimal.Decimal, error) {
	if len(lines) == 0 {
		return decimal.Zero, nil
	}
	rates, err := e.Rates(ctx, lines)
	if err != nil {
		return decimal.Zero, err
	}
	return rates.Cost(lines), nil
}

// Rates resolves the per-unit packaging cost of every item referenced by
// lines with one catalog read and one cost-table read.
func (e *Engine) Rates(ctx context.Context, lines []domain.OrderLine) (Rates, error) {
	rates := Rates{perItem: make(map[int64]decimal.Decimal)}
	itemIDs := uniqueItemIDs(lines)
	if len(itemIDs) == 0 {
		return rates, nil
	}

	items, err := e.catalog.LookupItems(ctx, itemIDs)
	if err != nil {
		return rates, fmt.Errorf("lookup catalog items: %w", err)
	}

	categorySet := make(map[int64]struct{}, len(items))
	for _, item := range items {
		categorySet[item.CategoryID] = struct{}{}
	}
	categoryIDs := make([]int64, 0, len(categorySet))
	for id := range categorySet {
		categoryIDs = append(categoryIDs, id)
	}
	sort.Slice(categoryIDs, func(i, j int) bool { return categoryIDs[i] < categoryIDs[j] })

	unitCosts, err := e.costs.PackagingUnitCosts(ctx, categoryIDs)
	if err != nil {
		return rates, fmt.Errorf("load packaging costs: %w", err)
	}

	for id, item := range items {
		unit, ok := unitCosts[item.CategoryID]
		if !ok || !unit.IsPositive() {
			continue
		}
		rates.perItem[id] = unit
	}
	return rates, nil
}

// Rates is a resolved item → packaging unit cost table. Items missing from
// the catalog or from the cost table cost nothing.
type Rates struct {
	perItem map[int64]decimal.Decimal
}

func (r Rates) Cost(lines []domain.OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		if line.Quantity < 1 {
			continue
		}
		unit, ok := r.perItem[line.ItemID]
		if !ok {
			continue
		}
		total = total.Add(unit.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

func uniqueItemIDs(lines []domain.OrderLine) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ItemID]; ok {
			continue
		}
		seen[line.ItemID] = struct{}{}
		ids = append(ids, line.ItemID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
