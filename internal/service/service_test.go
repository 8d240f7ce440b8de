package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"caferealitea/backend/internal/domain"
	"caferealitea/backend/internal/finance"
	"caferealitea/backend/internal/notify"
	"caferealitea/backend/internal/packaging"
	"caferealitea/backend/internal/store"
	"caferealitea/backend/internal/store/memory"
)

type published struct {
	event   string
	payload any
	target  notify.Target
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *recordingNotifier) Publish(event string, payload any, target notify.Target) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{event: event, payload: payload, target: target})
	return 1
}

func (n *recordingNotifier) all() []published {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]published(nil), n.events...)
}

// failingPromoteRepo simulates a storage failure during promotion.
type failingPromoteRepo struct {
	store.Repository
}

func (failingPromoteRepo) PromotePendingOrder(context.Context, int64, *int64, decimal.Decimal) (*domain.Order, error) {
	return nil, errors.New("serialization failure")
}

type cacheKey struct {
	generation  int64
	granularity domain.Granularity
}

type countingCache struct {
	mu          sync.Mutex
	generation  int64
	values      map[cacheKey]domain.SummaryResponse
	hits        int
	invalidated int
}

func newCountingCache() *countingCache {
	return &countingCache{values: make(map[cacheKey]domain.SummaryResponse)}
}

func (c *countingCache) Generation(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

func (c *countingCache) Get(_ context.Context, gen int64, g domain.Granularity) (*domain.SummaryResponse, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[cacheKey{gen, g}]
	if !ok {
		return nil, false, nil
	}
	c.hits++
	return &v, true, nil
}

func (c *countingCache) Set(_ context.Context, gen int64, g domain.Granularity, value *domain.SummaryResponse, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[cacheKey{gen, g}] = *value
	return nil
}

func (c *countingCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.invalidated++
	return nil
}

// gatedReporter blocks inside Summarize until released.
type gatedReporter struct {
	inner   Reporter
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *gatedReporter) Summarize(ctx context.Context, g domain.Granularity) (domain.SummaryResponse, error) {
	summary, err := r.inner.Summarize(ctx, g)
	gated := false
	r.once.Do(func() { gated = true })
	if gated {
		close(r.entered)
		<-r.release
	}
	return summary, err
}

type fixture struct {
	repo     *memory.Store
	svc      *Service
	notifier *recordingNotifier
	cache    *countingCache
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := memory.New()
	repo.PutMenuItem(domain.MenuItem{ID: 1, Name: "Mocha Frappe", UnitPrice: decimal.NewFromInt(50), CategoryID: 5})
	repo.PutMenuItem(domain.MenuItem{ID: 2, Name: "Fries", UnitPrice: decimal.NewFromInt(30), CategoryID: 4})
	repo.PutPackagingCost(domain.PackagingCost{CategoryID: 5, PackagingItemID: 1, UnitCost: decimal.RequireFromString("2.00")})
	repo.PutPackagingCost(domain.PackagingCost{CategoryID: 5, PackagingItemID: 2, UnitCost: decimal.RequireFromString("0.50")})
	return newFixtureWithRepo(repo, repo)
}

func newFixtureWithRepo(repo *memory.Store, backing store.Repository) fixture {
	packer := packaging.NewEngine(repo, repo)
	reporter := finance.NewEngine(repo, packer, repo.Capabilities(), time.UTC)
	notifier := &recordingNotifier{}
	summaries := newCountingCache()
	return fixture{
		repo:     repo,
		svc:      New(backing, packer, reporter, notifier, summaries, time.Minute),
		notifier: notifier,
		cache:    summaries,
	}
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: 2, Username: "staff", Role: domain.RoleStaff})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: 1, Username: "admin", Role: domain.RoleAdmin})
}

func scenarioRequest() domain.OrderRequest {
	return domain.OrderRequest{
		CustomerName: "Ana",
		Items: []domain.OrderItemRequest{
			{ID: 1, Quantity: 2, Price: domain.Amount("50")},
			{ID: 2, Quantity: 1, Price: domain.Amount("30")},
		},
	}
}

func TestSubmitPendingComputesTotalAndBroadcasts(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.SubmitPending(staffCtx(), scenarioRequest())
	if err != nil {
		t.Fatalf("submit pending: %v", err)
	}
	if !resp.Total.Equal(decimal.NewFromInt(130)) {
		t.Fatalf("expected total 130, got %s", resp.Total)
	}

	pending, err := f.repo.GetPendingOrder(context.Background(), resp.PendingOrderID)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if pending.RequestedBy != 2 {
		t.Fatalf("expected requester 2, got %d", pending.RequestedBy)
	}
	if pending.OrderType != domain.DefaultOrderType || pending.PaymentMethod != domain.DefaultPaymentMethod {
		t.Fatalf("expected defaults, got %s/%s", pending.OrderType, pending.PaymentMethod)
	}

	events := f.notifier.all()
	if len(events) != 1 || events[0].event != domain.EventNewPendingOrder || events[0].target != notify.Broadcast() {
		t.Fatalf("expected one new_pending_order broadcast, got %+v", events)
	}
	payload, ok := events[0].payload.(domain.PendingOrderEvent)
	if !ok || payload.PendingOrderID != resp.PendingOrderID || payload.CustomerName != "Ana" {
		t.Fatalf("unexpected payload %+v", events[0].payload)
	}
}

func TestConfirmPendingPromotesExactlyOnce(t *testing.T) {
	f := newFixture(t)

	submitted, err := f.svc.SubmitPending(staffCtx(), scenarioRequest())
	if err != nil {
		t.Fatalf("submit pending: %v", err)
	}
	before, err := f.repo.GetPendingOrder(context.Background(), submitted.PendingOrderID)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}

	confirmed, err := f.svc.ConfirmPending(adminCtx(), submitted.PendingOrderID)
	if err != nil {
		t.Fatalf("confirm pending: %v", err)
	}
	if !confirmed.Total.Equal(decimal.NewFromInt(130)) {
		t.Fatalf("expected order total 130, got %s", confirmed.Total)
	}
	// two frappes in category 5 at 2.50 each
	if !confirmed.PackagingCost.Equal(decimal.RequireFromString("5.00")) {
		t.Fatalf("expected packaging 5.00, got %s", confirmed.PackagingCost)
	}

	if _, err := f.repo.GetPendingOrder(context.Background(), submitted.PendingOrderID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected pending order deleted, got %v", err)
	}

	order, err := f.repo.GetOrder(context.Background(), confirmed.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", order.Status)
	}
	if order.CreatedBy == nil || *order.CreatedBy != 2 || order.ConfirmedBy == nil || *order.ConfirmedBy != 1 {
		t.Fatalf("unexpected actors created_by=%v confirmed_by=%v", order.CreatedBy, order.ConfirmedBy)
	}
	if len(order.Items) != len(before.Items) {
		t.Fatalf("expected %d lines, got %d", len(before.Items), len(order.Items))
	}
	for i := range before.Items {
		if order.Items[i].ItemID != before.Items[i].ItemID || order.Items[i].Quantity != before.Items[i].Quantity {
			t.Fatalf("line %d changed: %+v -> %+v", i, before.Items[i], order.Items[i])
		}
	}

	confirmations := 0
	for _, e := range f.notifier.all() {
		if e.event == domain.EventOrderConfirmed {
			confirmations++
			if e.target != notify.Broadcast() {
				t.Fatalf("order_confirmed must be broadcast")
			}
		}
	}
	if confirmations != 1 {
		t.Fatalf("expected one order_confirmed, got %d", confirmations)
	}

	if _, err := f.svc.ConfirmPending(adminCtx(), submitted.PendingOrderID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected second confirm to be not found, got %v", err)
	}
	if got := len(f.notifier.all()); got != 2 {
		t.Fatalf("expected no extra notifications, got %d events", got)
	}
}

func TestConfirmPendingFailureKeepsPendingAndStaysSilent(t *testing.T) {
	repo := memory.New()
	repo.PutMenuItem(domain.MenuItem{ID: 1, Name: "Mocha Frappe", UnitPrice: decimal.NewFromInt(50), CategoryID: 5})
	f := newFixtureWithRepo(repo, failingPromoteRepo{Repository: repo})

	pending, err := repo.CreatePendingOrder(context.Background(), domain.PendingOrder{
		CustomerName:  "Ben",
		DeclaredTotal: decimal.NewFromInt(50),
		Items:         []domain.OrderLine{{ItemID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(50)}},
		RequestedBy:   2,
	})
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}

	if _, err := f.svc.ConfirmPending(adminCtx(), pending.ID); err == nil {
		t.Fatalf("expected promotion failure")
	}
	if len(f.notifier.all()) != 0 {
		t.Fatalf("expected no notification on failure, got %+v", f.notifier.all())
	}
	if _, err := repo.GetPendingOrder(context.Background(), pending.ID); err != nil {
		t.Fatalf("pending order should remain after failure: %v", err)
	}
	if f.cache.invalidated != 0 {
		t.Fatalf("cache should not be invalidated on failure")
	}
}

func TestSubmitPendingValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		req  domain.OrderRequest
	}{
		{name: "no items", req: domain.OrderRequest{CustomerName: "x"}},
		{name: "zero quantity", req: domain.OrderRequest{Items: []domain.OrderItemRequest{{ID: 1, Quantity: 0}}}},
		{name: "unknown item without price", req: domain.OrderRequest{Items: []domain.OrderItemRequest{{ID: 404, Quantity: 1}}}},
		{name: "missing id", req: domain.OrderRequest{Items: []domain.OrderItemRequest{{Quantity: 1, Price: domain.Amount("10")}}}},
		{name: "quantity beyond int32", req: domain.OrderRequest{Items: []domain.OrderItemRequest{{ID: 1, Quantity: 3_000_000_000, Price: domain.Amount("0.333")}}}},
		{name: "price too large", req: domain.OrderRequest{Items: []domain.OrderItemRequest{{ID: 1, Quantity: 1, Price: domain.Amount("10000000000")}}}},
		{name: "computed total too large", req: domain.OrderRequest{Items: []domain.OrderItemRequest{{ID: 1, Quantity: 2_000_000_000, Price: domain.Amount("9.99")}}}},
		{name: "explicit total too large", req: domain.OrderRequest{Total: domain.Amount("99999999999"), Items: []domain.OrderItemRequest{{ID: 1, Quantity: 1}}}},
	}
	for _, tc := range cases {
		if _, err := f.svc.SubmitPending(staffCtx(), tc.req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
	if len(f.notifier.all()) != 0 {
		t.Fatalf("validation failures must not notify")
	}
	pending, err := f.repo.ListPendingOrders(context.Background(), 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("validation failures must not persist, got %d rows", len(pending))
	}
}

func TestSubmitPendingRequiresActor(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.SubmitPending(context.Background(), scenarioRequest()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestDeclaredTotalPrefersValidExplicitTotal(t *testing.T) {
	f := newFixture(t)

	req := scenarioRequest()
	req.Total = domain.Amount("120.00")
	resp, err := f.svc.SubmitPending(staffCtx(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !resp.Total.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("expected explicit total 120, got %s", resp.Total)
	}

	req.Total = domain.Amount("not-a-number")
	resp, err = f.svc.SubmitPending(staffCtx(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !resp.Total.Equal(decimal.NewFromInt(130)) {
		t.Fatalf("expected computed total 130 for invalid override, got %s", resp.Total)
	}
}

func TestMissingLinePriceIsCapturedFromCatalog(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.SubmitPending(staffCtx(), domain.OrderRequest{
		Items: []domain.OrderItemRequest{{ID: 2, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !resp.Total.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("expected 90, got %s", resp.Total)
	}

	// Later catalog changes do not touch the captured price.
	f.repo.PutMenuItem(domain.MenuItem{ID: 2, Name: "Fries", UnitPrice: decimal.NewFromInt(99), CategoryID: 4})
	pending, err := f.svc.GetPendingOrder(staffCtx(), resp.PendingOrderID)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if !pending.Items[0].UnitPrice.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected captured price 30, got %s", pending.Items[0].UnitPrice)
	}
	if pending.CustomerName != domain.DefaultCustomerName {
		t.Fatalf("expected default customer, got %s", pending.CustomerName)
	}
}

func TestCreateConfirmedComputesPackagingAndNotifiesRequester(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.CreateConfirmed(adminCtx(), domain.OrderRequest{
		CustomerName: "Cara",
		Items:        []domain.OrderItemRequest{{ID: 1, Quantity: 3, Price: domain.Amount("50")}},
	})
	if err != nil {
		t.Fatalf("create confirmed: %v", err)
	}
	if !resp.PackagingCost.Equal(decimal.RequireFromString("7.50")) {
		t.Fatalf("expected packaging 7.50, got %s", resp.PackagingCost)
	}
	if !resp.Total.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("expected total 150, got %s", resp.Total)
	}

	order, err := f.svc.GetOrder(adminCtx(), resp.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed || !order.PackagingCost.Equal(decimal.RequireFromString("7.50")) {
		t.Fatalf("unexpected stored order %+v", order)
	}

	events := f.notifier.all()
	if len(events) != 1 {
		t.Fatalf("expected one notification, got %+v", events)
	}
	if events[0].event != domain.EventNotification || events[0].target != notify.ToActor(1) {
		t.Fatalf("expected personal notification to actor 1, got %+v", events[0])
	}
	payload, ok := events[0].payload.(domain.NotificationEvent)
	if !ok || payload.Type != domain.NotificationTypeOrderCreated || payload.OrderID != resp.OrderID {
		t.Fatalf("unexpected payload %+v", events[0].payload)
	}
	if f.cache.invalidated != 1 {
		t.Fatalf("expected summary cache invalidation, got %d", f.cache.invalidated)
	}
}

func TestCancelPending(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.CancelPending(adminCtx(), 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for missing pending order, got %v", err)
	}
	if len(f.notifier.all()) != 0 {
		t.Fatalf("missing pending order must not notify")
	}

	submitted, err := f.svc.SubmitPending(staffCtx(), scenarioRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	resp, err := f.svc.CancelPending(adminCtx(), submitted.PendingOrderID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if resp.Message == "" {
		t.Fatalf("expected message")
	}
	if _, err := f.repo.GetPendingOrder(context.Background(), submitted.PendingOrderID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected pending order removed, got %v", err)
	}
	orders, err := f.repo.ListConfirmedOrders(context.Background())
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("cancel must not create an order")
	}

	events := f.notifier.all()
	last := events[len(events)-1]
	if last.event != domain.EventOrderCancelled || last.target != notify.Broadcast() {
		t.Fatalf("expected order_cancelled broadcast, got %+v", last)
	}
	payload := last.payload.(domain.OrderCancelledEvent)
	if payload.CustomerName != "Ana" {
		t.Fatalf("expected customer Ana, got %s", payload.CustomerName)
	}
}

func TestUpdateStatusPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := adminCtx()

	pendingOrder, err := f.repo.CreateOrder(context.Background(), domain.Order{
		CustomerName: "Dan",
		Total:        decimal.NewFromInt(30),
		Status:       domain.OrderStatusPending,
		Items:        []domain.OrderLine{{ItemID: 2, Quantity: 1, UnitPrice: decimal.NewFromInt(30)}},
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}

	if _, err := f.svc.UpdateStatus(ctx, pendingOrder.ID, "SHIPPED"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, 12345, domain.OrderStatusConfirmed); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(f.notifier.all()) != 0 {
		t.Fatalf("failed updates must not notify")
	}

	if _, err := f.svc.UpdateStatus(ctx, pendingOrder.ID, "confirmed"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	events := f.notifier.all()
	if len(events) != 1 || events[0].event != domain.EventNotification || events[0].target != notify.Broadcast() {
		t.Fatalf("expected one broadcast notification, got %+v", events)
	}
	if payload := events[0].payload.(domain.NotificationEvent); payload.Type != domain.NotificationTypeStatusUpdate || payload.Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected payload %+v", payload)
	}

	if _, err := f.svc.UpdateStatus(ctx, pendingOrder.ID, domain.OrderStatusCanceled); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected terminal order to reject transition, got %v", err)
	}
	if len(f.notifier.all()) != 1 {
		t.Fatalf("rejected transition must not notify")
	}
}

func TestSummaryIsCachedUntilOrdersChange(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.CreateConfirmed(adminCtx(), scenarioRequest()); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := f.svc.Summary(adminCtx(), "daily")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(first.Buckets) != 1 || first.Buckets[0].Orders != 1 {
		t.Fatalf("unexpected buckets %+v", first.Buckets)
	}
	if _, err := f.svc.Summary(adminCtx(), "daily"); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if f.cache.hits != 1 {
		t.Fatalf("expected cached second read, got %d hits", f.cache.hits)
	}

	submitted, err := f.svc.SubmitPending(staffCtx(), scenarioRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.svc.ConfirmPending(adminCtx(), submitted.PendingOrderID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	after, err := f.svc.Summary(adminCtx(), "daily")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if after.Buckets[0].Orders != 2 {
		t.Fatalf("expected fresh summary with 2 orders, got %d", after.Buckets[0].Orders)
	}
}

func TestSummaryRejectsUnknownGranularity(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Summary(adminCtx(), "weekly"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSummaryComputedBeforeMutationIsNotCached(t *testing.T) {
	repo := memory.New()
	repo.PutMenuItem(domain.MenuItem{ID: 1, Name: "Mocha Frappe", UnitPrice: decimal.NewFromInt(50), CategoryID: 5})
	repo.PutMenuItem(domain.MenuItem{ID: 2, Name: "Fries", UnitPrice: decimal.NewFromInt(30), CategoryID: 4})
	packer := packaging.NewEngine(repo, repo)
	reporter := &gatedReporter{
		inner:   finance.NewEngine(repo, packer, repo.Capabilities(), time.UTC),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	summaries := newCountingCache()
	svc := New(repo, packer, reporter, &recordingNotifier{}, summaries, time.Minute)

	stale := make(chan domain.SummaryResponse, 1)
	go func() {
		summary, err := svc.Summary(adminCtx(), "daily")
		if err != nil {
			t.Errorf("summary: %v", err)
		}
		stale <- summary
	}()

	<-reporter.entered
	if _, err := svc.CreateConfirmed(adminCtx(), scenarioRequest()); err != nil {
		t.Fatalf("create: %v", err)
	}
	close(reporter.release)
	if before := <-stale; len(before.Buckets) != 0 {
		t.Fatalf("summary started before the order should be empty, got %+v", before.Buckets)
	}

	after, err := svc.Summary(adminCtx(), "daily")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(after.Buckets) != 1 || after.Buckets[0].Orders != 1 {
		t.Fatalf("committed order missing from summary: %+v", after.Buckets)
	}
}

func TestAmountsAreRoundedToCentsBeforePersisting(t *testing.T) {
	f := newFixture(t)

	req := domain.OrderRequest{
		Total: domain.Amount("10.005"),
		Items: []domain.OrderItemRequest{{ID: 1, Quantity: 3, Price: domain.Amount("0.333")}},
	}
	resp, err := f.svc.SubmitPending(staffCtx(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !resp.Total.Equal(decimal.RequireFromString("10.01")) {
		t.Fatalf("expected total rounded to 10.01, got %s", resp.Total)
	}

	pending, err := f.repo.GetPendingOrder(context.Background(), resp.PendingOrderID)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if !pending.Items[0].UnitPrice.Equal(decimal.RequireFromString("0.33")) {
		t.Fatalf("expected price rounded to 0.33, got %s", pending.Items[0].UnitPrice)
	}

	confirmed, err := f.svc.ConfirmPending(adminCtx(), resp.PendingOrderID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	order, err := f.repo.GetOrder(context.Background(), confirmed.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !order.Total.Equal(resp.Total) || !order.Items[0].UnitPrice.Equal(pending.Items[0].UnitPrice) {
		t.Fatalf("promoted order drifted from pending copy: %+v", order)
	}
}

// failingAuditRepo loses every audit write.
type failingAuditRepo struct {
	store.Repository
}

func (failingAuditRepo) CreateAuditLog(context.Context, domain.AuditLog) error {
	return errors.New("audit table unavailable")
}

func TestResolutionsAreAudited(t *testing.T) {
	f := newFixture(t)

	cancelled, err := f.svc.SubmitPending(staffCtx(), scenarioRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.svc.CancelPending(adminCtx(), cancelled.PendingOrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	confirmed, err := f.svc.SubmitPending(staffCtx(), scenarioRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.svc.ConfirmPending(adminCtx(), confirmed.PendingOrderID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	logs, err := f.svc.ListAuditLogs(adminCtx(), 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 audit entries, got %+v", logs)
	}
	if logs[0].Action != "pending_confirm" || logs[0].EntityID != confirmed.PendingOrderID {
		t.Fatalf("expected newest entry to be the confirmation, got %+v", logs[0])
	}
	cancel := logs[1]
	if cancel.Action != "pending_cancel" || cancel.EntityType != "pending_order" || cancel.EntityID != cancelled.PendingOrderID {
		t.Fatalf("unexpected cancel entry %+v", cancel)
	}
	if cancel.ActorID == nil || *cancel.ActorID != 1 || cancel.ActorUsername != "admin" {
		t.Fatalf("cancelling actor not recorded: %+v", cancel)
	}
}

func TestAuditFailureDoesNotFailTheOperation(t *testing.T) {
	repo := memory.New()
	repo.PutMenuItem(domain.MenuItem{ID: 1, Name: "Mocha Frappe", UnitPrice: decimal.NewFromInt(50), CategoryID: 5})
	repo.PutMenuItem(domain.MenuItem{ID: 2, Name: "Fries", UnitPrice: decimal.NewFromInt(30), CategoryID: 4})
	f := newFixtureWithRepo(repo, failingAuditRepo{Repository: repo})

	submitted, err := f.svc.SubmitPending(staffCtx(), scenarioRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.svc.CancelPending(adminCtx(), submitted.PendingOrderID); err != nil {
		t.Fatalf("cancel must succeed without the audit trail: %v", err)
	}
	if _, err := repo.GetPendingOrder(context.Background(), submitted.PendingOrderID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("pending row should be gone, got %v", err)
	}
}
