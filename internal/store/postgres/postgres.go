package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"caferealitea/backend/internal/domain"
	"caferealitea/backend/internal/store"
)

type Store struct {
	db   *sql.DB
	caps store.SchemaCapabilities
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	caps, err := probeCapabilities(pingCtx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("probe schema: %w", err)
	}

	return &Store{db: db, caps: caps}, nil
}

// probeCapabilities inspects the live schema for optional columns. Older
// deployments predate orders.packaging_cost.
func probeCapabilities(ctx context.Context, db *sql.DB) (store.SchemaCapabilities, error) {
	var caps store.SchemaCapabilities
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.columns
			WHERE table_schema = current_schema()
				AND table_name = 'orders'
				AND column_name = 'packaging_cost'
		)
	`).Scan(&caps.OrderPackagingCost)
	return caps, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Capabilities() store.SchemaCapabilities {
	return s.caps
}

func (s *Store) LookupItems(ctx context.Context, ids []int64) (map[int64]domain.MenuItem, error) {
	result := make(map[int64]domain.MenuItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, category_id
		FROM items
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.MenuItem
		if err := rows.Scan(&item.ID, &item.Name, &item.UnitPrice, &item.CategoryID); err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) PackagingUnitCosts(ctx context.Context, categoryIDs []int64) (map[int64]decimal.Decimal, error) {
	result := make(map[int64]decimal.Decimal, len(categoryIDs))
	if len(categoryIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category_id, COALESCE(SUM(cost), 0)
		FROM packaging_costs
		WHERE category_id = ANY($1)
		GROUP BY category_id
	`, categoryIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var categoryID int64
		var unit decimal.Decimal
		if err := rows.Scan(&categoryID, &unit); err != nil {
			return nil, err
		}
		result[categoryID] = unit
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListPackagingCosts(ctx context.Context) ([]domain.PackagingCost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pc.category_id, pc.item_id, COALESCE(pi.name, ''), pc.cost
		FROM packaging_costs pc
		LEFT JOIN packaging_items pi ON pi.id = pc.item_id
		ORDER BY pc.category_id, pc.item_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	costs := make([]domain.PackagingCost, 0, 32)
	for rows.Next() {
		var cost domain.PackagingCost
		if err := rows.Scan(&cost.CategoryID, &cost.PackagingItemID, &cost.PackagingItem, &cost.UnitCost); err != nil {
			return nil, err
		}
		costs = append(costs, cost)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return costs, nil
}

func (s *Store) CreatePendingOrder(ctx context.Context, pending domain.PendingOrder) (*domain.PendingOrder, error) {
	if len(pending.Items) == 0 {
		return nil, store.ErrValidation
	}
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = time.Now().UTC()
	}

	itemsJSON, err := json.Marshal(pending.Items)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO pending_orders (customer_name, order_type, payment_method, total, items, requested_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, pending.CustomerName, pending.OrderType, pending.PaymentMethod, pending.DeclaredTotal, itemsJSON,
		pending.RequestedBy, pending.CreatedAt).Scan(&pending.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}
	pending.ResolvedBy = nil
	return &pending, nil
}

const pendingColumns = `id, customer_name, order_type, payment_method, total, items, requested_by, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (domain.PendingOrder, error) {
	var pending domain.PendingOrder
	var itemsRaw []byte
	if err := row.Scan(
		&pending.ID,
		&pending.CustomerName,
		&pending.OrderType,
		&pending.PaymentMethod,
		&pending.DeclaredTotal,
		&itemsRaw,
		&pending.RequestedBy,
		&pending.CreatedAt,
	); err != nil {
		return pending, err
	}
	pending.CreatedAt = pending.CreatedAt.UTC()
	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &pending.Items); err != nil {
			return pending, fmt.Errorf("decode pending items %d: %w", pending.ID, err)
		}
	}
	return pending, nil
}

func (s *Store) GetPendingOrder(ctx context.Context, id int64) (*domain.PendingOrder, error) {
	pending, err := scanPending(s.db.QueryRowContext(ctx, `
		SELECT `+pendingColumns+`
		FROM pending_orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &pending, nil
}

func (s *Store) ListPendingOrders(ctx context.Context, limit int) ([]domain.PendingOrder, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pendingColumns+`
		FROM pending_orders
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PendingOrder, 0, limit)
	for rows.Next() {
		pending, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pending)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeletePendingOrder(ctx context.Context, id int64, resolvedBy *int64) (*domain.PendingOrder, error) {
	pending, err := scanPending(s.db.QueryRowContext(ctx, `
		DELETE FROM pending_orders
		WHERE id = $1
		RETURNING `+pendingColumns, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	pending.ResolvedBy = resolvedBy
	return &pending, nil
}

func (s *Store) PromotePendingOrder(ctx context.Context, id int64, resolvedBy *int64, packagingCost decimal.Decimal) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	pending, err := scanPending(tx.QueryRowContext(ctx, `
		SELECT `+pendingColumns+`
		FROM pending_orders
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
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
		Items:         pending.Items,
	}
	if err := s.insertOrderTx(ctx, tx, &order); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM pending_orders WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, store.ErrValidation
	}
	for _, line := range order.Items {
		if line.Quantity < 1 {
			return nil, store.ErrValidation
		}
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusConfirmed
	}
	if order.OrderTime.IsZero() {
		order.OrderTime = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertOrderTx(ctx, tx, &order); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}

// insertOrderTx writes the order header and its lines. Schemas without
// orders.packaging_cost get the header written without it and the returned
// order carries zero.
func (s *Store) insertOrderTx(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	var err error
	if s.caps.OrderPackagingCost {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO orders (customer_name, order_type, payment_method, total, packaging_cost, status, order_time, created_by, confirmed_by)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING id
		`, order.CustomerName, order.OrderType, order.PaymentMethod, order.Total, order.PackagingCost,
			order.Status, order.OrderTime, nullInt64(order.CreatedBy), nullInt64(order.ConfirmedBy)).Scan(&order.ID)
	} else {
		order.PackagingCost = decimal.Zero
		err = tx.QueryRowContext(ctx, `
			INSERT INTO orders (customer_name, order_type, payment_method, total, status, order_time, created_by, confirmed_by)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING id
		`, order.CustomerName, order.OrderType, order.PaymentMethod, order.Total,
			order.Status, order.OrderTime, nullInt64(order.CreatedBy), nullInt64(order.ConfirmedBy)).Scan(&order.ID)
	}
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrValidation
		}
		return err
	}

	for _, line := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, item_id, quantity, price)
			VALUES ($1,$2,$3,$4)
		`, order.ID, line.ItemID, line.Quantity, line.UnitPrice); err != nil {
			if isForeignKeyViolation(err) {
				return store.ErrValidation
			}
			return err
		}
	}
	return nil
}

func (s *Store) orderColumns() string {
	if s.caps.OrderPackagingCost {
		return `id, customer_name, order_type, payment_method, total, packaging_cost, status, order_time, created_by, confirmed_by`
	}
	return `id, customer_name, order_type, payment_method, total, 0::numeric, status, order_time, created_by, confirmed_by`
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	var createdBy sql.NullInt64
	var confirmedBy sql.NullInt64
	if err := row.Scan(
		&order.ID,
		&order.CustomerName,
		&order.OrderType,
		&order.PaymentMethod,
		&order.Total,
		&order.PackagingCost,
		&order.Status,
		&order.OrderTime,
		&createdBy,
		&confirmedBy,
	); err != nil {
		return order, err
	}
	order.OrderTime = order.OrderTime.UTC()
	if createdBy.Valid {
		v := createdBy.Int64
		order.CreatedBy = &v
	}
	if confirmedBy.Valid {
		v := confirmedBy.Int64
		order.ConfirmedBy = &v
	}
	return order, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `
		SELECT `+s.orderColumns()+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	lines, err := s.orderLines(ctx, []int64{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = lines[order.ID]
	return &order, nil
}

func (s *Store) orderLines(ctx context.Context, orderIDs []int64) (map[int64][]domain.OrderLine, error) {
	result := make(map[int64][]domain.OrderLine, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, item_id, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, id
	`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID int64
		var line domain.OrderLine
		if err := rows.Scan(&orderID, &line.ItemID, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, err
		}
		result[orderID] = append(result[orderID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, from string, to string) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $3
		WHERE id = $1 AND status = $2
		RETURNING `+s.orderColumns(), id, from, to))
	if err == nil {
		lines, err := s.orderLines(ctx, []int64{order.ID})
		if err != nil {
			return nil, err
		}
		order.Items = lines[order.ID]
		return &order, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: order %d is %s", store.ErrValidation, id, current)
}

func (s *Store) ListConfirmedOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+s.orderColumns()+`
		FROM orders
		WHERE status = $1
		ORDER BY order_time ASC, id ASC
	`, domain.OrderStatusConfirmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 256)
	ids := make([]int64, 0, 256)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lines, err := s.orderLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = lines[orders[i].ID]
	}
	return orders, nil
}

func (s *Store) ProductGrossProfits(ctx context.Context) (map[int64]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, gross_profit_per_unit
		FROM product_gross_profit
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64]decimal.Decimal, 64)
	for rows.Next() {
		var productID int64
		var perUnit decimal.Decimal
		if err := rows.Scan(&productID, &perUnit); err != nil {
			return nil, err
		}
		result[productID] = perUnit
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListGrossProfitItems(ctx context.Context) ([]domain.GrossProfitItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, amount, created_at, created_by
		FROM gross_profit_items
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.GrossProfitItem, 0, 64)
	for rows.Next() {
		var item domain.GrossProfitItem
		var createdBy sql.NullInt64
		if err := rows.Scan(&item.ID, &item.Name, &item.Amount, &item.DateCreated, &createdBy); err != nil {
			return nil, err
		}
		item.DateCreated = item.DateCreated.UTC()
		if createdBy.Valid {
			v := createdBy.Int64
			item.CreatedBy = &v
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) EquipmentCostTotal(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(price), 0) FROM equipment_costs`).Scan(&total)
	return total, err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (actor_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, nullInt64(entry.ActorID), entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		var actorID sql.NullInt64
		if err := rows.Scan(&entry.ID, &actorID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if actorID.Valid {
			v := actorID.Int64
			entry.ActorID = &v
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password, role, active, created_at
		FROM admin_users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE admin_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
