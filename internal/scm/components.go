package scm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stevehiehn/taskdsl/internal/registry"
)

func productID(args map[string]any) (string, error) {
	if err := registry.Expect(args, "product_id"); err != nil {
		return "", err
	}
	return registry.String(args, "product_id")
}

type bomItem struct {
	component string
	perUnit   int
	stock     int
}

func billOfMaterials(ctx context.Context, tx *sql.Tx, product string) ([]bomItem, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT pc.component_id, pc.quantity_needed_per_unit, c.stock_quantity
		FROM product_components pc
		JOIN components c ON pc.component_id = c.component_id
		WHERE pc.product_id = ?
		ORDER BY pc.component_id`, product)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []bomItem
	for rows.Next() {
		var b bomItem
		if err := rows.Scan(&b.component, &b.perUnit, &b.stock); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// checkComponentsForProduct reports the per-unit requirement and current
// stock of every component the product is built from.
func (s *Store) checkComponentsForProduct(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	product, err := productID(args)
	if err != nil {
		return nil, err
	}
	bom, err := billOfMaterials(ctx, tx, product)
	if err != nil {
		return nil, err
	}
	result := []any{}
	for _, b := range bom {
		result = append(result, map[string]any{
			"component_id":       b.component,
			"required_quantity":  b.perUnit,
			"available_quantity": b.stock,
		})
	}
	return result, nil
}

// reserveStockComponents takes what it can of each component needed to
// build quantity units and reports any shortfall.
func (s *Store) reserveStockComponents(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "product_id", "quantity"); err != nil {
		return nil, err
	}
	product, err := registry.String(args, "product_id")
	if err != nil {
		return nil, err
	}
	qty, err := registry.Int(args, "quantity")
	if err != nil {
		return nil, err
	}
	if qty < 0 {
		return nil, fmt.Errorf("quantity must not be negative, got %d", qty)
	}
	bom, err := billOfMaterials(ctx, tx, product)
	if err != nil {
		return nil, err
	}

	result := []any{}
	for _, b := range bom {
		required := b.perUnit * qty
		reserved := min(required, max(b.stock, 0))
		if _, err := tx.ExecContext(ctx,
			"UPDATE components SET stock_quantity = stock_quantity - ? WHERE component_id = ?",
			reserved, b.component,
		); err != nil {
			return nil, err
		}
		result = append(result, map[string]any{
			"component_id":      b.component,
			"reserved_quantity": reserved,
			"shortfall":         required - reserved,
		})
	}
	s.logger.Info("components reserved", zap.String("product_id", product), zap.Int("quantity", qty))
	return result, nil
}

func (s *Store) checkComponentAvailability(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "component_id"); err != nil {
		return nil, err
	}
	id, err := registry.String(args, "component_id")
	if err != nil {
		return nil, err
	}
	var stock int
	err = tx.QueryRowContext(ctx, "SELECT stock_quantity FROM components WHERE component_id = ?", id).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return stock, err
}

func (s *Store) checkSupplierComponents(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "supplier_id"); err != nil {
		return nil, err
	}
	id, err := registry.String(args, "supplier_id")
	if err != nil {
		return nil, err
	}
	return queryMaps(ctx, tx, []string{"component_id", "available_quantity", "cost_per_unit"}, `
		SELECT component_id, available_quantity, cost_per_unit
		FROM supplier_components
		WHERE supplier_id = ?
		ORDER BY component_id`, id)
}

// placeComponentOrder buys from a supplier's available quantity and adds
// the delivery to component stock. An order the supplier cannot fill
// reports status Failed and changes nothing.
func (s *Store) placeComponentOrder(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	if err := registry.Expect(args, "supplier_id", "component_id", "quantity"); err != nil {
		return nil, err
	}
	supplier, err := registry.String(args, "supplier_id")
	if err != nil {
		return nil, err
	}
	component, err := registry.String(args, "component_id")
	if err != nil {
		return nil, err
	}
	qty, err := registry.Int(args, "quantity")
	if err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", qty)
	}

	var available int
	var unitCost float64
	err = tx.QueryRowContext(ctx, `
		SELECT available_quantity, cost_per_unit
		FROM supplier_components
		WHERE supplier_id = ? AND component_id = ?`, supplier, component,
	).Scan(&available, &unitCost)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && available < qty) {
		return map[string]any{"status": "Failed", "reason": "Insufficient stock from supplier"}, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE supplier_components SET available_quantity = available_quantity - ? WHERE supplier_id = ? AND component_id = ?",
		qty, supplier, component,
	); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE components SET stock_quantity = stock_quantity + ? WHERE component_id = ?", qty, component,
	); err != nil {
		return nil, err
	}
	s.logger.Info("component order placed", zap.String("supplier_id", supplier), zap.String("component_id", component), zap.Int("quantity", qty))
	return map[string]any{
		"status":           "Success",
		"supplier_id":      supplier,
		"component_id":     component,
		"quantity_ordered": qty,
		"total_cost":       float64(qty) * unitCost,
	}, nil
}
