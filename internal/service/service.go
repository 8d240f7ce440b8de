package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"caferealitea/backend/internal/cache"
	"caferealitea/backend/internal/domain"
	"caferealitea/backend/internal/notify"
	"caferealitea/backend/internal/store"
)

var ErrUnauthenticated = errors.New("authentication required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type PackagingCalculator interface {
	Compute(ctx context.Context, lines []domain.OrderLine) (decimal.Decimal, error)
}

type Reporter interface {
	Summarize(ctx context.Context, granularity domain.Granularity) (domain.SummaryResponse, error)
}

type Notifier interface {
	Publish(event string, payload any, target notify.Target) int
}

type Service struct {
	repo       store.Repository
	packer     PackagingCalculator
	reporter   Reporter
	notifier   Notifier
	summaries  cache.SummaryCache
	summaryTTL time.Duration
	now        func() time.Time
}

func New(repo store.Repository, packer PackagingCalculator, reporter Reporter, notifier Notifier, summaries cache.SummaryCache, summaryTTL time.Duration) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if summaryTTL <= 0 {
		summaryTTL = 30 * time.Second
	}
	return &Service{
		repo:       repo,
		packer:     packer,
		reporter:   reporter,
		notifier:   notifier,
		summaries:  summaries,
		summaryTTL: summaryTTL,
		now:        time.Now,
	}
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ID == 0 {
		return domain.Actor{}, ErrUnauthenticated
	}
	return actor, nil
}

// SubmitPending stores the request for admin approval and announces it to
// every subscriber.
func (s *Service) SubmitPending(ctx context.Context, req domain.OrderRequest) (domain.SubmitPendingResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SubmitPendingResponse{}, err
	}

	draft, err := s.buildDraft(ctx, req)
	if err != nil {
		return domain.SubmitPendingResponse{}, err
	}

	pending, err := s.repo.CreatePendingOrder(ctx, domain.PendingOrder{
		CustomerName:  draft.customerName,
		OrderType:     draft.orderType,
		PaymentMethod: draft.paymentMethod,
		DeclaredTotal: draft.total,
		Items:         draft.lines,
		RequestedBy:   actor.ID,
	})
	if err != nil {
		return domain.SubmitPendingResponse{}, err
	}

	s.notifier.Publish(domain.EventNewPendingOrder, domain.PendingOrderEvent{
		PendingOrderID: pending.ID,
		CustomerName:   pending.CustomerName,
		Total:          pending.DeclaredTotal,
		Timestamp:      s.timestamp(),
	}, notify.Broadcast())

	return domain.SubmitPendingResponse{
		PendingOrderID: pending.ID,
		Total:          pending.DeclaredTotal,
	}, nil
}

// CreateConfirmed records a CONFIRMED order directly, skipping approval.
// Only the requesting actor is notified.
func (s *Service) CreateConfirmed(ctx context.Context, req domain.OrderRequest) (domain.OrderResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	draft, err := s.buildDraft(ctx, req)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	packagingCost, err := s.packer.Compute(ctx, draft.lines)
	if err != nil {
		return domain.OrderResponse{}, fmt.Errorf("compute packaging cost: %w", err)
	}

	actorID := actor.ID
	created, err := s.repo.CreateOrder(ctx, domain.Order{
		CustomerName:  draft.customerName,
		OrderType:     draft.orderType,
		PaymentMethod: draft.paymentMethod,
		Total:         draft.total,
		PackagingCost: packagingCost,
		Status:        domain.OrderStatusConfirmed,
		CreatedBy:     &actorID,
		ConfirmedBy:   &actorID,
		Items:         draft.lines,
	})
	if err != nil {
		return domain.OrderResponse{}, err
	}
	s.invalidateSummaries(ctx)
	s.logAudit(ctx, "order_create", "order", created.ID, fmt.Sprintf("total=%s,packaging=%s,items=%d", created.Total, packagingCost, len(created.Items)))

	s.notifier.Publish(domain.EventNotification, domain.NotificationEvent{
		Type:      domain.NotificationTypeOrderCreated,
		OrderID:   created.ID,
		Status:    created.Status,
		Message:   fmt.Sprintf("Order #%d for %s created", created.ID, created.CustomerName),
		Timestamp: s.timestamp(),
	}, notify.ToActor(actor.ID))

	return domain.OrderResponse{
		OrderID:       created.ID,
		Total:         created.Total,
		PackagingCost: packagingCost,
	}, nil
}

// ConfirmPending promotes a pending order. Packaging cost is recomputed from
// the stored lines against the current cost table. The broadcast goes out
// only after the promotion has committed.
func (s *Service) ConfirmPending(ctx context.Context, pendingID int64) (domain.OrderResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	pending, err := s.repo.GetPendingOrder(ctx, pendingID)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	packagingCost, err := s.packer.Compute(ctx, pending.Items)
	if err != nil {
		return domain.OrderResponse{}, fmt.Errorf("compute packaging cost: %w", err)
	}

	resolvedBy := actor.ID
	order, err := s.repo.PromotePendingOrder(ctx, pendingID, &resolvedBy, packagingCost)
	if err != nil {
		return domain.OrderResponse{}, err
	}
	s.invalidateSummaries(ctx)
	s.logAudit(ctx, "pending_confirm", "pending_order", pendingID, fmt.Sprintf("order_id=%d,requested_by=%d,total=%s", order.ID, pending.RequestedBy, order.Total))

	s.notifier.Publish(domain.EventOrderConfirmed, domain.OrderConfirmedEvent{
		PendingOrderID: pendingID,
		OrderID:        order.ID,
		CustomerName:   order.CustomerName,
		Total:          order.Total,
		PackagingCost:  packagingCost,
		ConfirmedBy:    order.ConfirmedBy,
		Timestamp:      s.timestamp(),
	}, notify.Broadcast())

	return domain.OrderResponse{
		OrderID:       order.ID,
		Total:         order.Total,
		PackagingCost: packagingCost,
	}, nil
}

func (s *Service) CancelPending(ctx context.Context, pendingID int64) (domain.MessageResponse, error) {
	var resolvedBy *int64
	if actor, ok := ActorFromContext(ctx); ok && actor.ID != 0 {
		id := actor.ID
		resolvedBy = &id
	}

	pending, err := s.repo.DeletePendingOrder(ctx, pendingID, resolvedBy)
	if err != nil {
		return domain.MessageResponse{}, err
	}

	s.logAudit(ctx, "pending_cancel", "pending_order", pending.ID, fmt.Sprintf("customer=%s,requested_by=%d,total=%s", pending.CustomerName, pending.RequestedBy, pending.DeclaredTotal))

	message := fmt.Sprintf("Order for %s was cancelled", pending.CustomerName)
	s.notifier.Publish(domain.EventOrderCancelled, domain.OrderCancelledEvent{
		PendingOrderID: pending.ID,
		CustomerName:   pending.CustomerName,
		Message:        message,
		Timestamp:      s.timestamp(),
	}, notify.Broadcast())

	return domain.MessageResponse{Message: message}, nil
}

// UpdateStatus resolves a PENDING order to CONFIRMED or CANCELED. Orders that
// already left PENDING are rejected and nothing is broadcast.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, status string) (domain.MessageResponse, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status != domain.OrderStatusConfirmed && status != domain.OrderStatusCanceled {
		return domain.MessageResponse{}, fmt.Errorf("%w: status must be %s or %s", store.ErrValidation, domain.OrderStatusConfirmed, domain.OrderStatusCanceled)
	}

	order, err := s.repo.UpdateOrderStatus(ctx, orderID, domain.OrderStatusPending, status)
	if err != nil {
		return domain.MessageResponse{}, err
	}
	s.invalidateSummaries(ctx)
	s.logAudit(ctx, "order_status_update", "order", order.ID, fmt.Sprintf("from=%s,to=%s", domain.OrderStatusPending, order.Status))

	message := fmt.Sprintf("Order #%d is now %s", order.ID, order.Status)
	s.notifier.Publish(domain.EventNotification, domain.NotificationEvent{
		Type:      domain.NotificationTypeStatusUpdate,
		OrderID:   order.ID,
		Status:    order.Status,
		Message:   message,
		Timestamp: s.timestamp(),
	}, notify.Broadcast())

	return domain.MessageResponse{Message: message}, nil
}

func (s *Service) ListPendingOrders(ctx context.Context, limit int) ([]domain.PendingOrder, error) {
	return s.repo.ListPendingOrders(ctx, limit)
}

func (s *Service) GetPendingOrder(ctx context.Context, pendingID int64) (domain.PendingOrder, error) {
	pending, err := s.repo.GetPendingOrder(ctx, pendingID)
	if err != nil {
		return domain.PendingOrder{}, err
	}
	return *pending, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) ListPackagingCosts(ctx context.Context) ([]domain.PackagingCost, error) {
	return s.repo.ListPackagingCosts(ctx)
}

// Summary serves a cached summary when one is available. Cache failures
// degrade to a direct computation. The result is cached under the
// generation read before computing, so a mutation that commits meanwhile
// leaves it unreachable.
func (s *Service) Summary(ctx context.Context, rawGranularity string) (domain.SummaryResponse, error) {
	granularity, ok := domain.ParseGranularity(strings.ToLower(strings.TrimSpace(rawGranularity)))
	if !ok {
		return domain.SummaryResponse{}, fmt.Errorf("%w: granularity must be daily, monthly or yearly", store.ErrValidation)
	}

	generation, err := s.summaries.Generation(ctx)
	if err != nil {
		log.Printf("[service] WARN: summary cache generation: %v", err)
		return s.reporter.Summarize(ctx, granularity)
	}

	cached, hit, err := s.summaries.Get(ctx, generation, granularity)
	if err != nil {
		log.Printf("[service] WARN: summary cache read %s: %v", granularity, err)
	}
	if hit && cached != nil {
		return *cached, nil
	}

	summary, err := s.reporter.Summarize(ctx, granularity)
	if err != nil {
		return domain.SummaryResponse{}, err
	}
	if err := s.summaries.Set(ctx, generation, granularity, &summary, s.summaryTTL); err != nil {
		log.Printf("[service] WARN: summary cache write %s: %v", granularity, err)
	}
	return summary, nil
}

func (s *Service) invalidateSummaries(ctx context.Context) {
	if err := s.summaries.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: summary cache invalidate: %v", err)
	}
}

// maxAmount is the first value a NUMERIC(12,2) column cannot hold.
var maxAmount = decimal.New(1, 10)

// logAudit is best-effort: the audited change has already committed, so a
// failed write is logged and dropped.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID int64, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	var actorID *int64
	if actor.ID != 0 {
		id := actor.ID
		actorID = &id
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorID:       actorID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%d: %v", action, entityType, entityID, err)
	}
}

type orderDraft struct {
	customerName  string
	orderType     string
	paymentMethod string
	total         decimal.Decimal
	lines         []domain.OrderLine
}

// buildDraft validates a request and resolves every line price. Prices
// missing from the request are captured from the catalog now and never
// re-read later. Amounts are rounded to cents here so the pending copy and
// the promoted order carry the same figures.
func (s *Service) buildDraft(ctx context.Context, req domain.OrderRequest) (orderDraft, error) {
	if len(req.Items) == 0 {
		return orderDraft{}, fmt.Errorf("%w: order has no items", store.ErrValidation)
	}

	unpriced := make([]int64, 0, len(req.Items))
	for i, item := range req.Items {
		if item.ID < 1 {
			return orderDraft{}, fmt.Errorf("%w: item %d has no id", store.ErrValidation, i+1)
		}
		if item.Quantity < 1 {
			return orderDraft{}, fmt.Errorf("%w: item %d quantity must be at least 1", store.ErrValidation, item.ID)
		}
		if item.Quantity > math.MaxInt32 {
			return orderDraft{}, fmt.Errorf("%w: item %d quantity is too large", store.ErrValidation, item.ID)
		}
		if !item.Price.Valid {
			unpriced = append(unpriced, item.ID)
		}
	}

	var catalog map[int64]domain.MenuItem
	if len(unpriced) > 0 {
		found, err := s.repo.LookupItems(ctx, unpriced)
		if err != nil {
			return orderDraft{}, fmt.Errorf("lookup items: %w", err)
		}
		catalog = found
	}

	lines := make([]domain.OrderLine, 0, len(req.Items))
	computed := decimal.Zero
	for _, item := range req.Items {
		price := item.Price.Value
		if !item.Price.Valid {
			menuItem, ok := catalog[item.ID]
			if !ok {
				return orderDraft{}, fmt.Errorf("%w: unknown item %d", store.ErrValidation, item.ID)
			}
			price = menuItem.UnitPrice
		}
		price = price.Round(2)
		if price.GreaterThanOrEqual(maxAmount) {
			return orderDraft{}, fmt.Errorf("%w: item %d price is too large", store.ErrValidation, item.ID)
		}
		lines = append(lines, domain.OrderLine{
			ItemID:    item.ID,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
		computed = computed.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	total := computed.Round(2)
	if req.Total.Valid {
		total = req.Total.Value.Round(2)
	}
	if total.GreaterThanOrEqual(maxAmount) {
		return orderDraft{}, fmt.Errorf("%w: order total is too large", store.ErrValidation)
	}

	return orderDraft{
		customerName:  firstNonEmpty(req.CustomerName, domain.DefaultCustomerName),
		orderType:     firstNonEmpty(req.OrderType, domain.DefaultOrderType),
		paymentMethod: firstNonEmpty(req.PaymentMethod, domain.DefaultPaymentMethod),
		total:         total,
		lines:         lines,
	}, nil
}

func firstNonEmpty(value string, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
