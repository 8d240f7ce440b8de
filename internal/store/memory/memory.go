package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"caferealitea/backend/internal/domain"
	"caferealitea/backend/internal/store"
)

type Store struct {
	mu                   sync.RWMutex
	caps                 store.SchemaCapabilities
	items                map[int64]domain.MenuItem
	packagingCosts       []domain.PackagingCost
	pendingByID          map[int64]domain.PendingOrder
	ordersByID           map[int64]domain.Order
	grossProfitByProduct map[int64]decimal.Decimal
	grossProfitItems     []domain.GrossProfitItem
	equipment            []domain.EquipmentCost
	usersByUsername      map[string]domain.UserAccount
	auditLogs            []domain.AuditLog
	nextPendingID        int64
	nextOrderID          int64
	nextRowID            int64
}

// New returns an empty store whose schema carries every optional column.
func New() *Store {
	return NewWithCapabilities(store.SchemaCapabilities{OrderPackagingCost: true})
}

// NewWithCapabilities returns an empty store emulating a schema with only
// the given optional columns.
func NewWithCapabilities(caps store.SchemaCapabilities) *Store {
	return &Store{
		caps:                 caps,
		items:                make(map[int64]domain.MenuItem),
		packagingCosts:       make([]domain.PackagingCost, 0, 16),
		pendingByID:          make(map[int64]domain.PendingOrder),
		ordersByID:           make(map[int64]domain.Order),
		grossProfitByProduct: make(map[int64]decimal.Decimal),
		grossProfitItems:     make([]domain.GrossProfitItem, 0, 16),
		equipment:            make([]domain.EquipmentCost, 0, 8),
		usersByUsername:      make(map[string]domain.UserAccount),
		auditLogs:            make([]domain.AuditLog, 0, 64),
	}
}

// NewSeeded returns a store pre-filled with the cafe menu, packaging table
// and the dev accounts used when no database is configured.
func NewSeeded() *Store {
	s := New()

	menu := []domain.MenuItem{
		{ID: 1, Name: "Classic Milk Tea", UnitPrice: decimal.NewFromInt(50), CategoryID: 1},
		{ID: 2, Name: "Wintermelon Milk Tea", UnitPrice: decimal.NewFromInt(55), CategoryID: 1},
		{ID: 3, Name: "Okinawa Milk Tea", UnitPrice: decimal.NewFromInt(60), CategoryID: 1},
		{ID: 4, Name: "Lychee Fruit Tea", UnitPrice: decimal.NewFromInt(45), CategoryID: 2},
		{ID: 5, Name: "Passion Fruit Tea", UnitPrice: decimal.NewFromInt(45), CategoryID: 2},
		{ID: 6, Name: "Iced Americano", UnitPrice: decimal.NewFromInt(70), CategoryID: 3},
		{ID: 7, Name: "Caramel Macchiato", UnitPrice: decimal.NewFromInt(95), CategoryID: 3},
		{ID: 8, Name: "Fries", UnitPrice: decimal.NewFromInt(30), CategoryID: 4},
		{ID: 9, Name: "Cookies and Cream Frappe", UnitPrice: decimal.NewFromInt(99), CategoryID: 5},
		{ID: 10, Name: "Mocha Frappe", UnitPrice: decimal.NewFromInt(99), CategoryID: 5},
	}
	for _, item := range menu {
		s.PutMenuItem(item)
	}

	for _, cost := range []domain.PackagingCost{
		{CategoryID: 1, PackagingItemID: 1, PackagingItem: "16oz cup", UnitCost: decimal.RequireFromString("1.50")},
		{CategoryID: 1, PackagingItemID: 2, PackagingItem: "dome lid", UnitCost: decimal.RequireFromString("0.50")},
		{CategoryID: 1, PackagingItemID: 3, PackagingItem: "boba straw", UnitCost: decimal.RequireFromString("0.25")},
		{CategoryID: 2, PackagingItemID: 1, PackagingItem: "16oz cup", UnitCost: decimal.RequireFromString("1.50")},
		{CategoryID: 2, PackagingItemID: 4, PackagingItem: "flat lid", UnitCost: decimal.RequireFromString("0.40")},
		{CategoryID: 3, PackagingItemID: 5, PackagingItem: "12oz cup", UnitCost: decimal.RequireFromString("1.20")},
		{CategoryID: 4, PackagingItemID: 6, PackagingItem: "paper tray", UnitCost: decimal.RequireFromString("0.80")},
		{CategoryID: 5, PackagingItemID: 7, PackagingItem: "22oz cup", UnitCost: decimal.RequireFromString("2.00")},
		{CategoryID: 5, PackagingItemID: 2, PackagingItem: "dome lid", UnitCost: decimal.RequireFromString("0.50")},
	} {
		s.PutPackagingCost(cost)
	}

	for _, u := range seedUsers() {
		s.PutUser(u)
	}
	return s
}

// seedUsers builds the dev/demo accounts. Credentials are read from
// SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; unset values fall back to
// hardcoded dev defaults with a warning.
func seedUsers() []domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := make([]domain.UserAccount, 0, 2)
	for i, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users = append(users, domain.UserAccount{
			ID:        int64(i + 1),
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) PutMenuItem(item domain.MenuItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

// PutPackagingCost inserts or replaces the cost of one packaging item for a category.
func (s *Store) PutPackagingCost(cost domain.PackagingCost) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.packagingCosts {
		if existing.CategoryID == cost.CategoryID && existing.PackagingItemID == cost.PackagingItemID {
			s.packagingCosts[i] = cost
			return
		}
	}
	s.packagingCosts = append(s.packagingCosts, cost)
}

func (s *Store) PutProductGrossProfit(entry domain.ProductGrossProfit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grossProfitByProduct[entry.ProductID] = entry.GrossProfitPerUnit
}

func (s *Store) AddGrossProfitItem(entry domain.GrossProfitItem) domain.GrossProfitItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRowID++
	entry.ID = s.nextRowID
	if entry.DateCreated.IsZero() {
		entry.DateCreated = time.Now().UTC()
	}
	s.grossProfitItems = append(s.grossProfitItems, entry)
	return entry
}

func (s *Store) AddEquipmentCost(entry domain.EquipmentCost) domain.EquipmentCost {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRowID++
	entry.ID = s.nextRowID
	s.equipment = append(s.equipment, entry)
	return entry
}

func (s *Store) PutUser(user domain.UserAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usersByUsername[strings.ToLower(user.Username)] = user
}

func (s *Store) Capabilities() store.SchemaCapabilities {
	return s.caps
}

func (s *Store) LookupItems(_ context.Context, ids []int64) (map[int64]domain.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]domain.MenuItem, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) PackagingUnitCosts(_ context.Context, categoryIDs []int64) (map[int64]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]struct{}, len(categoryIDs))
	for _, id := range categoryIDs {
		wanted[id] = struct{}{}
	}
	result := make(map[int64]decimal.Decimal, len(categoryIDs))
	for _, cost := range s.packagingCosts {
		if _, ok := wanted[cost.CategoryID]; !ok {
			continue
		}
		result[cost.CategoryID] = result[cost.CategoryID].Add(cost.UnitCost)
	}
	return result, nil
}

func (s *Store) ListPackagingCosts(_ context.Context) ([]domain.PackagingCost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	costs := slices.Clone(s.packagingCosts)
	slices.SortFunc(costs, func(a, b domain.PackagingCost) int {
		if a.CategoryID != b.CategoryID {
			return cmpInt64(a.CategoryID, b.CategoryID)
		}
		return cmpInt64(a.PackagingItemID, b.PackagingItemID)
	})
	return costs, nil
}

func (s *Store) CreatePendingOrder(_ context.Context, pending domain.PendingOrder) (*domain.PendingOrder, error) {
	if len(pending.Items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPendingID++
	pending.ID = s.nextPendingID
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = time.Now().UTC()
	}
	pending.Items = slices.Clone(pending.Items)
	pending.ResolvedBy = nil
	s.pendingByID[pending.ID] = pending

	created := clonePending(pending)
	return &created, nil
}

func (s *Store) GetPendingOrder(_ context.Context, id int64) (*domain.PendingOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending, ok := s.pendingByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := clonePending(pending)
	return &found, nil
}

func (s *Store) ListPendingOrders(_ context.Context, limit int) ([]domain.PendingOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PendingOrder, 0, len(s.pendingByID))
	for _, pending := range s.pendingByID {
		result = append(result, clonePending(pending))
	}
	slices.SortFunc(result, func(a, b domain.PendingOrder) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return cmpInt64(a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) DeletePendingOrder(_ context.Context, id int64, resolvedBy *int64) (*domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pendingByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(s.pendingByID, id)

	deleted := clonePending(pending)
	deleted.ResolvedBy = resolvedBy
	return &deleted, nil
}

func (s *Store) PromotePendingOrder(_ context.Context, id int64, resolvedBy *int64, packagingCost decimal.Decimal) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pendingByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	requestedBy := pending.RequestedBy
	order := domain.Order{
		CustomerName:  pending.CustomerName,
		OrderType:     pending.OrderType,
		PaymentMethod: pending.PaymentMethod,
		Total:         pending.DeclaredTotal,
		PackagingCost: packagingCost,
		Status:        domain.OrderStatusConfirmed,
		OrderTime:     time.Now().UTC(),
		CreatedBy:     &requestedBy,
		ConfirmedBy:   resolvedBy,
		Items:         slices.Clone(pending.Items),
	}
	created := s.insertOrderLocked(order)
	delete(s.pendingByID, id)
	return &created, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, store.ErrValidation
	}
	for _, line := range order.Items {
		if line.Quantity < 1 {
			return nil, store.ErrValidation
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if order.Status == "" {
		order.Status = domain.OrderStatusConfirmed
	}
	if order.OrderTime.IsZero() {
		order.OrderTime = time.Now().UTC()
	}
	created := s.insertOrderLocked(order)
	return &created, nil
}

func (s *Store) insertOrderLocked(order domain.Order) domain.Order {
	s.nextOrderID++
	order.ID = s.nextOrderID
	if !s.caps.OrderPackagingCost {
		order.PackagingCost = decimal.Zero
	}
	order.Items = slices.Clone(order.Items)
	s.ordersByID[order.ID] = order
	return cloneOrder(order)
}

func (s *Store) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneOrder(order)
	return &found, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, id int64, from string, to string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if order.Status != from {
		return nil, fmt.Errorf("%w: order %d is %s", store.ErrValidation, id, order.Status)
	}
	order.Status = to
	s.ordersByID[id] = order

	updated := cloneOrder(order)
	return &updated, nil
}

func (s *Store) ListConfirmedOrders(_ context.Context) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if order.Status != domain.OrderStatusConfirmed {
			continue
		}
		result = append(result, cloneOrder(order))
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if !a.OrderTime.Equal(b.OrderTime) {
			return a.OrderTime.Compare(b.OrderTime)
		}
		return cmpInt64(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) ProductGrossProfits(_ context.Context) (map[int64]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]decimal.Decimal, len(s.grossProfitByProduct))
	for id, perUnit := range s.grossProfitByProduct {
		result[id] = perUnit
	}
	return result, nil
}

func (s *Store) ListGrossProfitItems(_ context.Context) ([]domain.GrossProfitItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.grossProfitItems), nil
}

func (s *Store) EquipmentCostTotal(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, entry := range s.equipment {
		total = total.Add(entry.Price)
	}
	return total, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRowID++
	entry.ID = s.nextRowID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.ActorID != nil {
			v := *entry.ActorID
			entry.ActorID = &v
		}
		result = append(result, entry)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := user
	return &found, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(username))
	user, ok := s.usersByUsername[key]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[key] = user
	return nil
}

func cmpInt64(a int64, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func clonePending(src domain.PendingOrder) domain.PendingOrder {
	dst := src
	dst.Items = slices.Clone(src.Items)
	if src.ResolvedBy != nil {
		v := *src.ResolvedBy
		dst.ResolvedBy = &v
	}
	return dst
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = slices.Clone(src.Items)
	if src.CreatedBy != nil {
		v := *src.CreatedBy
		dst.CreatedBy = &v
	}
	if src.ConfirmedBy != nil {
		v := *src.ConfirmedBy
		dst.ConfirmedBy = &v
	}
	return dst
}
