package scm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stevehiehn/taskdsl/internal/registry"
)

// queryMaps runs query and returns one map per row keyed by keys, in column
// order. Integers come back as int.
func queryMaps(ctx context.Context, tx *sql.Tx, keys []string, query string, params ...any) ([]any, error) {
	rows, err := tx.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []any{}
	vals := make([]any, len(keys))
	ptrs := make([]any, len(keys))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(keys))
		for i, k := range keys {
			m[k] = column(vals[i])
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func column(v any) any {
	switch v := v.(type) {
	case int64:
		return int(v)
	case []byte:
		return string(v)
	}
	return v
}

func (s *Store) getCustomerDetails(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "customer_id"); err != nil {
		return nil, err
	}
	id, err := registry.String(args, "customer_id")
	if err != nil {
		return nil, err
	}
	rows, err := queryMaps(ctx, tx, []string{"name", "address", "contact_info"},
		"SELECT name, address, contact_info FROM customers WHERE customer_id = ?", id)
	if err != nil || len(rows) == 0 {
		return map[string]any{}, err
	}
	return rows[0], nil
}

func (s *Store) getProducts(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args); err != nil {
		return nil, err
	}
	return queryMaps(ctx, tx, []string{"product_id", "name", "price"},
		"SELECT product_id, product_name, price FROM products ORDER BY product_id")
}

func (s *Store) getOrderDetails(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	id, err := orderID(args)
	if err != nil {
		return nil, err
	}
	return queryMaps(ctx, tx, []string{"product_id", "quantity", "allocated_quantity", "remaining_quantity"}, `
		SELECT product_id, quantity, allocated_quantity, remaining_quantity
		FROM order_details
		WHERE order_id = ?
		ORDER BY product_id`, id)
}

type orderLine struct {
	product  string
	quantity int
}

func parseOrderLines(v any) ([]orderLine, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("argument order_details must be a list, got %T", v)
	}
	if len(items) == 0 {
		return nil, errors.New("argument order_details must not be empty")
	}
	out := make([]orderLine, 0, len(items))
	seen := map[string]bool{}
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("order_details[%d] must be a mapping, got %T", i, item)
		}
		if err := registry.Expect(m, "product_id", "quantity"); err != nil {
			return nil, fmt.Errorf("order_details[%d]: %w", i, err)
		}
		product, err := registry.String(m, "product_id")
		if err != nil {
			return nil, fmt.Errorf("order_details[%d]: %w", i, err)
		}
		qty, err := registry.Int(m, "quantity")
		if err != nil {
			return nil, fmt.Errorf("order_details[%d]: %w", i, err)
		}
		if qty <= 0 {
			return nil, fmt.Errorf("order_details[%d]: quantity must be positive, got %d", i, qty)
		}
		if seen[product] {
			return nil, fmt.Errorf("order_details[%d]: product %s listed twice", i, product)
		}
		seen[product] = true
		out = append(out, orderLine{product: product, quantity: qty})
	}
	return out, nil
}

// createOrder inserts a pending order dated today and returns its id.
func (s *Store) createOrder(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "customer_id", "order_details"); err != nil {
		return nil, err
	}
	customer, err := registry.String(args, "customer_id")
	if err != nil {
		return nil, err
	}
	lines, err := parseOrderLines(args["order_details"])
	if err != nil {
		return nil, err
	}

	var known int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM customers WHERE customer_id = ?", customer).Scan(&known); err != nil {
		return nil, err
	}
	if known == 0 {
		return nil, fmt.Errorf("unknown customer %s", customer)
	}

	id := "O" + strings.ToUpper(uuid.NewString()[:8])
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO orders (order_id, customer_id, order_date, status) VALUES (?, ?, date('now'), ?)",
		id, customer, StatusPending,
	); err != nil {
		return nil, err
	}
	for _, l := range lines {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO order_details (order_id, product_id, quantity) VALUES (?, ?, ?)",
			id, l.product, l.quantity,
		); err != nil {
			return nil, fmt.Errorf("adding %s to order: %w", l.product, err)
		}
	}
	s.logger.Info("order created", zap.String("order_id", id), zap.String("customer_id", customer), zap.Int("lines", len(lines)))
	return id, nil
}

// productionShare sums, per product, the quantity of an order covered by
// production allocations. The rest of allocated_quantity is reserved stock.
func productionShare(ctx context.Context, tx *sql.Tx, orderID string) (map[string]int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT ps.product_id, SUM(pa.allocated_quantity)
		FROM production_allocation pa
		JOIN production_schedule ps ON ps.schedule_id = pa.production_schedule_id
		WHERE pa.order_id = ?
		GROUP BY ps.product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var product string
		var qty int
		if err := rows.Scan(&product, &qty); err != nil {
			return nil, err
		}
		out[product] = qty
	}
	return out, rows.Err()
}

// cancelOrder releases the order's stock reservations and production
// capacity, then deletes it. Shipped and unknown orders are left alone and
// report false.
func (s *Store) cancelOrder(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	id, err := orderID(args)
	if err != nil {
		return nil, err
	}
	var status string
	err = tx.QueryRowContext(ctx, "SELECT status FROM orders WHERE order_id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return nil, err
	}
	if status == StatusShipped {
		s.logger.Warn("refusing to cancel shipped order", zap.String("order_id", id))
		return false, nil
	}

	lines, err := orderLines(ctx, tx, id, "")
	if err != nil {
		return nil, err
	}
	produced, err := productionShare(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		if stock := l.allocated - produced[l.product]; stock > 0 {
			if _, err := tx.ExecContext(ctx,
				"UPDATE inventory SET reserved_quantity = MAX(reserved_quantity - ?, 0) WHERE product_id = ?",
				stock, l.product,
			); err != nil {
				return nil, err
			}
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE production_schedule
		SET allocated_capacity = allocated_capacity - (
			SELECT COALESCE(SUM(allocated_quantity), 0) FROM production_allocation
			WHERE production_schedule_id = production_schedule.schedule_id AND order_id = ?)
		WHERE schedule_id IN (SELECT production_schedule_id FROM production_allocation WHERE order_id = ?)`,
		id, id,
	); err != nil {
		return nil, err
	}
	for _, q := range []string{
		"DELETE FROM production_allocation WHERE order_id = ?",
		"DELETE FROM order_details WHERE order_id = ?",
		"DELETE FROM orders WHERE order_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return nil, err
		}
	}
	s.logger.Info("order cancelled", zap.String("order_id", id), zap.String("previous_status", status))
	return true, nil
}

// partialAllocateOrder reserves whatever stock is available for each open
// line and reports requested against allocated quantities.
func (s *Store) partialAllocateOrder(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	id, err := orderID(args)
	if err != nil {
		return nil, err
	}
	reserved, err := s.reserveStock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	result := []any{}
	for _, r := range reserved {
		result = append(result, map[string]any{
			"product_id":         r.product,
			"requested_quantity": r.quantity,
			"allocated_quantity": r.allocated + r.newly,
		})
	}
	return result, nil
}
