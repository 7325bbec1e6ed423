package scm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stevehiehn/taskdsl/internal/registry"
)

const (
	StatusPending            = "Pending"
	StatusAllocated          = "Allocated"
	StatusPartiallyAllocated = "Partially Allocated"
	StatusScheduled          = "Scheduled"
	StatusBacklogged         = "Backlogged"
	StatusShipped            = "Shipped"
	StatusCancelled          = "Cancelled"

	dateLayout = "2006-01-02"
	// used when no production has ever been scheduled
	fallbackScheduleDate = "2025-01-01"
)

// Registry exposes the store as plan functions. Every call runs in its own
// transaction.
func (s *Store) Registry() *registry.Registry {
	return registry.New().
		MustRegister("customer.get_customer_details", s.fn(s.getCustomerDetails)).
		MustRegister("product.get_products", s.fn(s.getProducts)).
		MustRegister("customer_order.get_pending_orders", s.fn(s.getPendingOrders)).
		MustRegister("customer_order.get_order_status", s.fn(s.getOrderStatus)).
		MustRegister("customer_order.update_order_status", s.fn(s.updateOrderStatus)).
		MustRegister("customer_order.create_order", s.fn(s.createOrder)).
		MustRegister("customer_order.cancel_order", s.fn(s.cancelOrder)).
		MustRegister("customer_order.get_order_details", s.fn(s.getOrderDetails)).
		MustRegister("customer_order.partial_allocate_order", s.fn(s.partialAllocateOrder)).
		MustRegister("inventory.check_stock", s.fn(s.checkStock)).
		MustRegister("inventory.adjust_stock", s.fn(s.adjustStock)).
		MustRegister("inventory.allocate_stock", s.fn(s.allocateStock)).
		MustRegister("production.allocate_prebooked_production", s.fn(s.allocatePrebookedProduction)).
		MustRegister("production.schedule_production", s.fn(s.scheduleProduction)).
		MustRegister("production.get_production_backlog", s.fn(s.getProductionBacklog)).
		MustRegister("shipping.get_shipping_options", s.fn(s.getShippingOptions)).
		MustRegister("shipping.confirm_shipment", s.fn(s.confirmShipment)).
		MustRegister("shipping.track_shipment", s.fn(s.trackShipment)).
		MustRegister("component.check_components_for_product", s.fn(s.checkComponentsForProduct)).
		MustRegister("component.reserve_stock_components", s.fn(s.reserveStockComponents)).
		MustRegister("component.check_component_availability", s.fn(s.checkComponentAvailability)).
		MustRegister("component.check_supplier_components", s.fn(s.checkSupplierComponents)).
		MustRegister("component.place_component_order", s.fn(s.placeComponentOrder)).
		MustRegister("report.generate_replenishment_report", s.fn(s.replenishmentReport)).
		MustRegister("report.generate_production_report", s.fn(s.productionReport)).
		MustRegister("report.generate_order_report", s.fn(s.orderReport)).
		MustRegister("report.generate_summary_report", s.fn(s.summaryReport))
}

type txFunc func(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error)

func (s *Store) fn(f txFunc) registry.Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		var out any
		err := s.tx(ctx, func(tx *sql.Tx) error {
			var err error
			out, err = f(ctx, tx, args)
			return err
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

func (s *Store) getPendingOrders(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "customer_id?"); err != nil {
		return nil, err
	}
	customer, err := registry.OptionalString(args, "customer_id", "")
	if err != nil {
		return nil, err
	}

	query := "SELECT order_id, order_date, status FROM orders WHERE status = ?"
	params := []any{StatusPending}
	if customer != "" {
		query += " AND customer_id = ?"
		params = append(params, customer)
	}
	rows, err := tx.QueryContext(ctx, query+" ORDER BY order_id", params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []any{}
	for rows.Next() {
		var id, date, status string
		if err := rows.Scan(&id, &date, &status); err != nil {
			return nil, err
		}
		orders = append(orders, map[string]any{"order_id": id, "order_date": date, "status": status})
	}
	s.logger.Debug("pending orders", zap.String("customer_id", customer), zap.Int("count", len(orders)))
	return orders, rows.Err()
}

func (s *Store) getOrderStatus(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "order_id"); err != nil {
		return nil, err
	}
	id, err := registry.String(args, "order_id")
	if err != nil {
		return nil, err
	}
	var status string
	err = tx.QueryRowContext(ctx, "SELECT status FROM orders WHERE order_id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "Order not found", nil
	}
	return status, err
}

func (s *Store) updateOrderStatus(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "order_id", "status"); err != nil {
		return nil, err
	}
	id, err := registry.String(args, "order_id")
	if err != nil {
		return nil, err
	}
	status, err := registry.String(args, "status")
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, "UPDATE orders SET status = ? WHERE order_id = ?", status, id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	s.logger.Info("order status updated", zap.String("order_id", id), zap.String("status", status), zap.Bool("found", n > 0))
	return n > 0, nil
}

func (s *Store) checkStock(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "product_id"); err != nil {
		return nil, err
	}
	id, err := registry.String(args, "product_id")
	if err != nil {
		return nil, err
	}
	var stock int
	err = tx.QueryRowContext(ctx, "SELECT stock_quantity FROM inventory WHERE product_id = ?", id).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return stock, err
}

func (s *Store) adjustStock(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "product_id", "quantity_delta"); err != nil {
		return nil, err
	}
	id, err := registry.String(args, "product_id")
	if err != nil {
		return nil, err
	}
	delta, err := registry.Int(args, "quantity_delta")
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx,
		"UPDATE inventory SET stock_quantity = stock_quantity + ? WHERE product_id = ?", delta, id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	return n > 0, nil
}

type line struct {
	product   string
	quantity  int
	allocated int
	remaining int
}

func openLines(ctx context.Context, tx *sql.Tx, orderID string) ([]line, error) {
	return orderLines(ctx, tx, orderID, "AND remaining_quantity > 0")
}

func orderLines(ctx context.Context, tx *sql.Tx, orderID, filter string) ([]line, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity, allocated_quantity, remaining_quantity
		FROM order_details
		WHERE order_id = ? `+filter+`
		ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.product, &l.quantity, &l.allocated, &l.remaining); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func allocation(product string, allocated, remaining int) map[string]any {
	return map[string]any{
		"product_id":               product,
		"newly_allocated_quantity": allocated,
		"remaining_quantity":       remaining,
	}
}

func orderID(args map[string]any) (string, error) {
	if err := registry.Expect(args, "order_id"); err != nil {
		return "", err
	}
	return registry.String(args, "order_id")
}

// refreshStatus marks the order allocated once no line has a remaining
// quantity, and partially allocated otherwise.
func refreshStatus(ctx context.Context, tx *sql.Tx, orderID string) (string, error) {
	var open int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM order_details WHERE order_id = ? AND remaining_quantity > 0", orderID,
	).Scan(&open)
	if err != nil {
		return "", err
	}
	status := StatusAllocated
	if open > 0 {
		status = StatusPartiallyAllocated
	}
	_, err = tx.ExecContext(ctx, "UPDATE orders SET status = ? WHERE order_id = ?", status, orderID)
	return status, err
}

// allocateStock reserves available inventory against each open line of the
// order.
func (s *Store) allocateStock(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
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
		result = append(result, allocation(r.product, r.newly, r.remaining-r.newly))
	}
	return result, nil
}

// reservation is one open line after a stock reservation pass. remaining
// is the line's remaining quantity before newly was reserved.
type reservation struct {
	line
	newly int
}

func (s *Store) reserveStock(ctx context.Context, tx *sql.Tx, id string) ([]reservation, error) {
	lines, err := openLines(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	var out []reservation
	for _, l := range lines {
		var available int
		err := tx.QueryRowContext(ctx,
			"SELECT MAX(available_quantity, 0) FROM inventory WHERE product_id = ?", l.product,
		).Scan(&available)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		allocated := min(l.remaining, available)
		if allocated > 0 {
			if _, err := tx.ExecContext(ctx,
				"UPDATE inventory SET reserved_quantity = reserved_quantity + ? WHERE product_id = ?",
				allocated, l.product,
			); err != nil {
				return nil, err
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE order_details SET allocated_quantity = allocated_quantity + ? WHERE order_id = ? AND product_id = ?",
				allocated, id, l.product,
			); err != nil {
				return nil, err
			}
		}
		out = append(out, reservation{line: l, newly: allocated})
	}

	if len(lines) > 0 {
		status, err := refreshStatus(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		s.logger.Info("stock allocated", zap.String("order_id", id), zap.String("status", status))
	}
	return out, nil
}

type slot struct {
	id        string
	available int
}

// allocatePrebookedProduction draws on scheduled production capacity, earliest
// first, for the lines stock could not cover.
func (s *Store) allocatePrebookedProduction(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	id, err := orderID(args)
	if err != nil {
		return nil, err
	}
	lines, err := openLines(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	result := []any{}
	for _, l := range lines {
		slots, err := capacity(ctx, tx, l.product)
		if err != nil {
			return nil, err
		}
		remaining := l.remaining
		for _, sl := range slots {
			qty := min(sl.available, remaining)
			if _, err := tx.ExecContext(ctx,
				"UPDATE production_schedule SET allocated_capacity = allocated_capacity + ? WHERE schedule_id = ?",
				qty, sl.id,
			); err != nil {
				return nil, err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO production_allocation (allocation_id, production_schedule_id, order_id, allocated_quantity)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (allocation_id) DO UPDATE SET allocated_quantity = allocated_quantity + excluded.allocated_quantity`,
				fmt.Sprintf("PA_%s_%s", sl.id, id), sl.id, id, qty,
			); err != nil {
				return nil, err
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE order_details SET allocated_quantity = allocated_quantity + ? WHERE order_id = ? AND product_id = ?",
				qty, id, l.product,
			); err != nil {
				return nil, err
			}
			remaining -= qty
			result = append(result, allocation(l.product, qty, remaining))
			if remaining <= 0 {
				break
			}
		}
	}

	status, err := refreshStatus(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("production allocated", zap.String("order_id", id), zap.String("status", status))
	return result, nil
}

func capacity(ctx context.Context, tx *sql.Tx, product string) ([]slot, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT schedule_id, available_capacity
		FROM production_schedule
		WHERE product_id = ? AND available_capacity > 0 AND status = ?
		ORDER BY start_date, schedule_id`, product, StatusScheduled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []slot
	for rows.Next() {
		var sl slot
		if err := rows.Scan(&sl.id, &sl.available); err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

// scheduleProduction books a one-day run, the day after the product's last
// scheduled run, for every open line of the order.
func (s *Store) scheduleProduction(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	id, err := orderID(args)
	if err != nil {
		return nil, err
	}
	lines, err := openLines(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	var earliest sql.NullString
	if err := tx.QueryRowContext(ctx, "SELECT MIN(start_date) FROM production_schedule").Scan(&earliest); err != nil {
		return nil, err
	}
	fallback := fallbackScheduleDate
	if earliest.Valid {
		fallback = earliest.String
	}

	result := []any{}
	for _, l := range lines {
		var latest sql.NullString
		err := tx.QueryRowContext(ctx,
			"SELECT MAX(end_date) FROM production_schedule WHERE product_id = ?", l.product,
		).Scan(&latest)
		if err != nil {
			return nil, err
		}
		last := fallback
		if latest.Valid {
			last = latest.String
		}
		day, err := time.Parse(dateLayout, last)
		if err != nil {
			return nil, fmt.Errorf("schedule date %q: %w", last, err)
		}
		start := day.AddDate(0, 0, 1).Format(dateLayout)
		scheduleID := fmt.Sprintf("PS_%s_%s_%s", id, l.product, day.AddDate(0, 0, 1).Format("20060102"))

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO production_schedule
				(schedule_id, product_id, start_date, end_date, total_capacity, allocated_capacity, status)
			VALUES (?, ?, ?, ?, ?, 0, ?)`,
			scheduleID, l.product, start, start, l.remaining, StatusScheduled,
		); err != nil {
			return nil, err
		}
		result = append(result, map[string]any{
			"schedule_id": scheduleID,
			"product_id":  l.product,
			"start_date":  start,
			"end_date":    start,
			"quantity":    l.remaining,
			"status":      StatusScheduled,
		})
		s.logger.Info("production scheduled", zap.String("order_id", id), zap.String("schedule_id", scheduleID))
	}
	return result, nil
}
