package scm

import (
	"context"
	"database/sql"

	"github.com/stevehiehn/taskdsl/internal/registry"
)

var scheduleKeys = []string{"schedule_id", "product_id", "start_date", "end_date", "quantity", "status"}

func (s *Store) getProductionBacklog(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "product_id?"); err != nil {
		return nil, err
	}
	product, err := registry.OptionalString(args, "product_id", "")
	if err != nil {
		return nil, err
	}
	query := `
		SELECT schedule_id, product_id, start_date, end_date, available_capacity, status
		FROM production_schedule
		WHERE status = ?`
	params := []any{StatusBacklogged}
	if product != "" {
		query += " AND product_id = ?"
		params = append(params, product)
	}
	return queryMaps(ctx, tx, scheduleKeys, query+" ORDER BY start_date, schedule_id", params...)
}

func (s *Store) replenishmentReport(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "threshold"); err != nil {
		return nil, err
	}
	threshold, err := registry.Int(args, "threshold")
	if err != nil {
		return nil, err
	}
	return queryMaps(ctx, tx, []string{"component_id", "name", "stock_quantity"}, `
		SELECT component_id, name, stock_quantity
		FROM components
		WHERE stock_quantity < ?
		ORDER BY component_id`, threshold)
}

// productionReport lists runs that start and end inside [start_date, end_date].
func (s *Store) productionReport(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "start_date", "end_date"); err != nil {
		return nil, err
	}
	start, err := registry.String(args, "start_date")
	if err != nil {
		return nil, err
	}
	end, err := registry.String(args, "end_date")
	if err != nil {
		return nil, err
	}
	return queryMaps(ctx, tx, scheduleKeys, `
		SELECT schedule_id, product_id, start_date, end_date, total_capacity, status
		FROM production_schedule
		WHERE start_date >= ? AND end_date <= ?
		ORDER BY start_date, schedule_id`, start, end)
}

var orderKeys = []string{"order_id", "customer_id", "order_date", "status"}

func (s *Store) orderReport(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "status?", "customer_id?"); err != nil {
		return nil, err
	}
	status, err := registry.OptionalString(args, "status", "")
	if err != nil {
		return nil, err
	}
	customer, err := registry.OptionalString(args, "customer_id", "")
	if err != nil {
		return nil, err
	}
	query := "SELECT order_id, customer_id, order_date, status FROM orders WHERE 1=1"
	var params []any
	if status != "" {
		query += " AND status = ?"
		params = append(params, status)
	}
	if customer != "" {
		query += " AND customer_id = ?"
		params = append(params, customer)
	}
	return queryMaps(ctx, tx, orderKeys, query+" ORDER BY order_id", params...)
}

// summaryReport bundles stock levels, pending orders and every production run.
func (s *Store) summaryReport(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args); err != nil {
		return nil, err
	}
	inventory, err := queryMaps(ctx, tx, []string{"product_id", "stock_quantity"},
		"SELECT product_id, stock_quantity FROM inventory ORDER BY product_id")
	if err != nil {
		return nil, err
	}
	pending, err := queryMaps(ctx, tx, orderKeys,
		"SELECT order_id, customer_id, order_date, status FROM orders WHERE status = ? ORDER BY order_id", StatusPending)
	if err != nil {
		return nil, err
	}
	schedule, err := queryMaps(ctx, tx, scheduleKeys, `
		SELECT schedule_id, product_id, start_date, end_date, total_capacity, status
		FROM production_schedule
		ORDER BY start_date, schedule_id`)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"inventory":           inventory,
		"pending_orders":      pending,
		"production_schedule": schedule,
	}, nil
}
