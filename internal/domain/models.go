package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type MenuItem struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	CategoryID int64           `json:"category_id"`
}

type PackagingCost struct {
	CategoryID      int64           `json:"category_id"`
	PackagingItemID int64           `json:"packaging_item_id"`
	PackagingItem   string          `json:"packaging_item,omitempty"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
}

type OrderLine struct {
	ItemID    int64           `json:"item_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type PendingOrder struct {
	ID            int64           `json:"id"`
	CustomerName  string          `json:"customer_name"`
	OrderType     string          `json:"order_type"`
	PaymentMethod string          `json:"payment_method"`
	DeclaredTotal decimal.Decimal `json:"total"`
	Items         []OrderLine     `json:"items"`
	RequestedBy   int64           `json:"requested_by"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedBy    *int64          `json:"resolved_by,omitempty"`
}

type Order struct {
	ID            int64           `json:"id"`
	CustomerName  string          `json:"customer_name"`
	OrderType     string          `json:"order_type"`
	PaymentMethod string          `json:"payment_method"`
	Total         decimal.Decimal `json:"total"`
	PackagingCost decimal.Decimal `json:"packaging_cost"`
	Status        string          `json:"status"`
	OrderTime     time.Time       `json:"order_time"`
	CreatedBy     *int64          `json:"created_by,omitempty"`
	ConfirmedBy   *int64          `json:"confirmed_by,omitempty"`
	Items         []OrderLine     `json:"items"`
}

type EquipmentCost struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	CreatedBy *int64          `json:"created_by,omitempty"`
}

// ProductGrossProfit is keyed by ProductID; writers upsert.
type ProductGrossProfit struct {
	ProductID          int64           `json:"product_id"`
	GrossProfitPerUnit decimal.Decimal `json:"gross_profit_per_unit"`
	CreatedBy          *int64          `json:"created_by,omitempty"`
}

type GrossProfitItem struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"`
	DateCreated time.Time       `json:"date_created"`
	CreatedBy   *int64          `json:"created_by,omitempty"`
}

// AuditLog records who resolved what. Pending rows are deleted on
// confirm/cancel, so this is where the resolving actor stays durable.
type AuditLog struct {
	ID            int64     `json:"id"`
	ActorID       *int64    `json:"actor_id,omitempty"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      int64     `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type OrderItemRequest struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name,omitempty"`
	Quantity int            `json:"quantity"`
	Price    OptionalAmount `json:"price"`
}

// OrderRequest is the payload shared by the pending and the direct order paths.
// Empty CustomerName, OrderType and PaymentMethod take the Default* values below.
// Total is only authoritative when it decodes to a non-negative number.
type OrderRequest struct {
	CustomerName  string             `json:"customer_name,omitempty"`
	OrderType     string             `json:"order_type,omitempty"`
	PaymentMethod string             `json:"payment_method,omitempty"`
	Total         OptionalAmount     `json:"total"`
	Items         []OrderItemRequest `json:"items"`
}

type SubmitPendingResponse struct {
	PendingOrderID int64           `json:"pending_order_id"`
	Total          decimal.Decimal `json:"total"`
}

type OrderResponse struct {
	OrderID       int64           `json:"order_id"`
	Total         decimal.Decimal `json:"total"`
	PackagingCost decimal.Decimal `json:"packaging_cost"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type StatusUpdateRequest struct {
	Status string `json:"status"`
}

type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityMonthly Granularity = "monthly"
	GranularityYearly  Granularity = "yearly"
)

func ParseGranularity(raw string) (Granularity, bool) {
	switch g := Granularity(raw); g {
	case GranularityDaily, GranularityMonthly, GranularityYearly:
		return g, true
	default:
		return "", false
	}
}

type SummaryBucket struct {
	Period        string          `json:"period"`
	Year          int             `json:"year"`
	Month         int             `json:"month,omitempty"`
	Day           int             `json:"day,omitempty"`
	Orders        int             `json:"orders"`
	Revenue       decimal.Decimal `json:"revenue"`
	PackagingCost decimal.Decimal `json:"packaging_cost"`
	GrossProfit   decimal.Decimal `json:"gross_profit"`
	EquipmentCost decimal.Decimal `json:"equipment_cost"`
	NetProfit     decimal.Decimal `json:"net_profit"`
}

type SummaryResponse struct {
	Granularity Granularity     `json:"granularity"`
	Buckets     []SummaryBucket `json:"buckets"`
	GeneratedAt string          `json:"generated_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"user_id"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	ID       int64
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        int64
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type PendingOrderEvent struct {
	PendingOrderID int64           `json:"pending_order_id"`
	CustomerName   string          `json:"customer_name"`
	Total          decimal.Decimal `json:"total"`
	Timestamp      string          `json:"timestamp"`
}

type OrderConfirmedEvent struct {
	PendingOrderID int64           `json:"pending_order_id"`
	OrderID        int64           `json:"order_id"`
	CustomerName   string          `json:"customer_name"`
	Total          decimal.Decimal `json:"total"`
	PackagingCost  decimal.Decimal `json:"packaging_cost"`
	ConfirmedBy    *int64          `json:"confirmed_by,omitempty"`
	Timestamp      string          `json:"timestamp"`
}

type OrderCancelledEvent struct {
	PendingOrderID int64  `json:"pending_order_id"`
	CustomerName   string `json:"customer_name"`
	Message        string `json:"message"`
	Timestamp      string `json:"timestamp"`
}

type NotificationEvent struct {
	Type      string `json:"type"`
	OrderID   int64  `json:"order_id"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

const (
	OrderStatusPending   = "PENDING"
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusCanceled  = "CANCELED"
)

const (
	EventNotification    = "notification"
	EventNewPendingOrder = "new_pending_order"
	EventOrderConfirmed  = "order_confirmed"
	EventOrderCancelled  = "order_cancelled"
)

const (
	NotificationTypeOrderCreated = "order_created"
	NotificationTypeStatusUpdate = "status_update"
)

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

const (
	DefaultCustomerName  = "Walk-in"
	DefaultOrderType     = "dine-in"
	DefaultPaymentMethod = "cash"
)
