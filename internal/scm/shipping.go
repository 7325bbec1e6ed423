package scm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stevehiehn/taskdsl/internal/registry"
)

// getShippingOptions lists the options whose destination is the order's
// customer, cheapest first.
func (s *Store) getShippingOptions(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	id, err := orderID(args)
	if err != nil {
		return nil, err
	}
	return queryMaps(ctx, tx, []string{"shipping_option_id", "carrier_id", "service_level", "cost", "estimated_days"}, `
		SELECT so.shipping_option_id, so.carrier_id, so.service_level, so.cost, so.estimated_days
		FROM orders o
		JOIN shipping_options so ON so.destination = o.customer_id
		WHERE o.order_id = ?
		ORDER BY so.cost, so.shipping_option_id`, id)
}

// confirmShipment records the shipment, consumes the stock reserved for the
// order and marks it shipped. Only fully allocated orders can ship.
func (s *Store) confirmShipment(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "order_id", "shipping_option_id"); err != nil {
		return nil, err
	}
	id, err := registry.String(args, "order_id")
	if err != nil {
		return nil, err
	}
	option, err := registry.String(args, "shipping_option_id")
	if err != nil {
		return nil, err
	}

	var status, customer string
	err = tx.QueryRowContext(ctx, "SELECT status, customer_id FROM orders WHERE order_id = ?", id).Scan(&status, &customer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if status != StatusAllocated {
		return nil, fmt.Errorf("order %s is %s, only %s orders can ship", id, status, StatusAllocated)
	}
	var destination string
	err = tx.QueryRowContext(ctx, "SELECT destination FROM shipping_options WHERE shipping_option_id = ?", option).Scan(&destination)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("unknown shipping option %s", option)
	}
	if err != nil {
		return nil, err
	}
	if destination != customer {
		return nil, fmt.Errorf("shipping option %s does not deliver to customer %s", option, customer)
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
			if _, err := tx.ExecContext(ctx, `
				UPDATE inventory
				SET stock_quantity = stock_quantity - ?, reserved_quantity = MAX(reserved_quantity - ?, 0)
				WHERE product_id = ?`,
				stock, stock, l.product,
			); err != nil {
				return nil, err
			}
		}
	}

	shipment := "SHIP_" + id
	tracking := "TRACK_" + id
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO shipments (shipment_id, order_id, shipping_option_id, shipped_date, tracking_number)
		VALUES (?, ?, ?, date('now'), ?)`,
		shipment, id, option, tracking,
	); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE orders SET status = ? WHERE order_id = ?", StatusShipped, id); err != nil {
		return nil, err
	}
	s.logger.Info("shipment confirmed", zap.String("order_id", id), zap.String("shipping_option_id", option))
	return map[string]any{"shipment_id": shipment, "tracking_number": tracking}, nil
}

func (s *Store) trackShipment(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "tracking_number"); err != nil {
		return nil, err
	}
	tracking, err := registry.String(args, "tracking_number")
	if err != nil {
		return nil, err
	}
	rows, err := queryMaps(ctx, tx, []string{"shipment_id", "order_id", "shipping_option_id", "shipped_date"}, `
		SELECT shipment_id, order_id, shipping_option_id, shipped_date
		FROM shipments
		WHERE tracking_number = ?`, tracking)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return map[string]any{"status": "Not Found"}, nil
	}
	return rows[0], nil
}
