package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"caferealitea/backend/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("invalid request")
)

// SchemaCapabilities records optional columns the backing schema carries.
// It is resolved once when the store is opened and never re-probed.
type SchemaCapabilities struct {
	OrderPackagingCost bool
}

type Repository interface {
	Capabilities() SchemaCapabilities

	LookupItems(ctx context.Context, ids []int64) (map[int64]domain.MenuItem, error)
	PackagingUnitCosts(ctx context.Context, categoryIDs []int64) (map[int64]decimal.Decimal, error)
	ListPackagingCosts(ctx context.Context) ([]domain.PackagingCost, error)

	CreatePendingOrder(ctx context.Context, pending domain.PendingOrder) (*domain.PendingOrder, error)
	GetPendingOrder(ctx context.Context, id int64) (*domain.PendingOrder, error)
	ListPendingOrders(ctx context.Context, limit int) ([]domain.PendingOrder, error)
	// DeletePendingOrder removes the row and returns it as it was.
	DeletePendingOrder(ctx context.Context, id int64, resolvedBy *int64) (*domain.PendingOrder, error)
	// PromotePendingOrder inserts a CONFIRMED order carrying the pending line
	// items verbatim and deletes the pending row, all in one transaction.
	PromotePendingOrder(ctx context.Context, id int64, resolvedBy *int64, packagingCost decimal.Decimal) (*domain.Order, error)

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, from string, to string) (*domain.Order, error)
	ListConfirmedOrders(ctx context.Context) ([]domain.Order, error)

	ProductGrossProfits(ctx context.Context) (map[int64]decimal.Decimal, error)
	ListGrossProfitItems(ctx context.Context) ([]domain.GrossProfitItem, error)
	EquipmentCostTotal(ctx context.Context) (decimal.Decimal, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	// ListAuditLogs returns the newest entries first.
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
