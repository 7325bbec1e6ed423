package scm

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevehiehn/taskdsl/internal/engine"
	"github.com/stevehiehn/taskdsl/internal/plan"
	"github.com/stevehiehn/taskdsl/internal/registry"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Reset(context.Background()))
	return s
}

func call(t *testing.T, r *registry.Registry, name string, args map[string]any) any {
	t.Helper()
	out, err := try(t, r, name, args)
	require.NoError(t, err)
	return out
}

func try(t *testing.T, r *registry.Registry, name string, args map[string]any) (any, error) {
	t.Helper()
	fn, err := r.Lookup(name)
	require.NoError(t, err)
	return fn(context.Background(), args)
}

func TestOpenCreatesEmptySchema(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "scm.db"), nil)
	require.NoError(t, err)
	defer s.Close()

	empty, err := s.Empty(context.Background())
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestResetIsRepeatable(t *testing.T) {
	s := seeded(t)
	r := s.Registry()
	call(t, r, "customer_order.update_order_status", map[string]any{"order_id": "O001", "status": "Shipped"})

	require.NoError(t, s.Reset(context.Background()))
	assert.Equal(t, "Pending", call(t, r, "customer_order.get_order_status", map[string]any{"order_id": "O001"}))
}

func TestOrderQueries(t *testing.T) {
	r := seeded(t).Registry()

	assert.Equal(t, []any{
		map[string]any{"order_id": "O001", "order_date": "2025-01-05", "status": "Pending"},
		map[string]any{"order_id": "O003", "order_date": "2025-01-07", "status": "Pending"},
	}, call(t, r, "customer_order.get_pending_orders", nil))
	assert.Equal(t, []any{}, call(t, r, "customer_order.get_pending_orders", map[string]any{"customer_id": "C002"}))

	assert.Equal(t, "Shipped", call(t, r, "customer_order.get_order_status", map[string]any{"order_id": "O002"}))
	assert.Equal(t, "Order not found", call(t, r, "customer_order.get_order_status", map[string]any{"order_id": "O999"}))

	assert.Equal(t, true, call(t, r, "customer_order.update_order_status", map[string]any{"order_id": "O003", "status": "Cancelled"}))
	assert.Equal(t, false, call(t, r, "customer_order.update_order_status", map[string]any{"order_id": "O999", "status": "Cancelled"}))
}

func TestStock(t *testing.T) {
	r := seeded(t).Registry()

	assert.Equal(t, 12, call(t, r, "inventory.check_stock", map[string]any{"product_id": "P001"}))
	assert.Equal(t, 0, call(t, r, "inventory.check_stock", map[string]any{"product_id": "P404"}))
	assert.Equal(t, true, call(t, r, "inventory.adjust_stock", map[string]any{"product_id": "P001", "quantity_delta": -2}))
	assert.Equal(t, 10, call(t, r, "inventory.check_stock", map[string]any{"product_id": "P001"}))
}

func TestAllocationFlow(t *testing.T) {
	r := seeded(t).Registry()
	order := map[string]any{"order_id": "O001"}

	assert.Equal(t, []any{
		map[string]any{"product_id": "P001", "newly_allocated_quantity": 10, "remaining_quantity": 0},
		map[string]any{"product_id": "P002", "newly_allocated_quantity": 3, "remaining_quantity": 2},
	}, call(t, r, "inventory.allocate_stock", order))
	assert.Equal(t, StatusPartiallyAllocated, call(t, r, "customer_order.get_order_status", order))

	// Stock is exhausted; only the open line is reported.
	assert.Equal(t, []any{
		map[string]any{"product_id": "P002", "newly_allocated_quantity": 0, "remaining_quantity": 2},
	}, call(t, r, "inventory.allocate_stock", order))

	assert.Equal(t, []any{
		map[string]any{"product_id": "P002", "newly_allocated_quantity": 2, "remaining_quantity": 0},
	}, call(t, r, "production.allocate_prebooked_production", order))
	assert.Equal(t, StatusAllocated, call(t, r, "customer_order.get_order_status", order))
}

func TestScheduleProduction(t *testing.T) {
	r := seeded(t).Registry()

	assert.Equal(t, []any{
		map[string]any{
			"schedule_id": "PS_O003_P003_20250114",
			"product_id":  "P003",
			"start_date":  "2025-01-14",
			"end_date":    "2025-01-14",
			"quantity":    8,
			"status":      StatusScheduled,
		},
	}, call(t, r, "production.schedule_production", map[string]any{"order_id": "O003"}))

	// The new run is capacity the order can now draw on.
	assert.Equal(t, []any{
		map[string]any{"product_id": "P003", "newly_allocated_quantity": 5, "remaining_quantity": 3},
		map[string]any{"product_id": "P003", "newly_allocated_quantity": 3, "remaining_quantity": 0},
	}, call(t, r, "production.allocate_prebooked_production", map[string]any{"order_id": "O003"}))
}

func TestArgumentErrors(t *testing.T) {
	r := seeded(t).Registry()
	fn, err := r.Lookup("inventory.allocate_stock")
	require.NoError(t, err)

	_, err = fn(context.Background(), nil)
	assert.ErrorContains(t, err, "missing required argument(s) order_id")
	_, err = fn(context.Background(), map[string]any{"order_id": "O001", "force": true})
	assert.ErrorContains(t, err, "unexpected keyword argument(s) force")
	_, err = fn(context.Background(), map[string]any{"order_id": 1})
	assert.ErrorContains(t, err, "must be a string")
}

const fulfilmentPlan = `
task: fulfil pending orders
steps:
  - name: get_orders
    function: customer_order.get_pending_orders
    output_var: pending_orders
  - name: each_order
    loop:
      variable: order
      over: "{pending_orders}"
    steps:
      - name: allocate
        function: inventory.allocate_stock
        arguments:
          order_id: "{order['order_id']}"
        output_var: stock_allocation_results
      - name: need_production
        condition: "any(item['remaining_quantity'] > 0 for item in stock_allocation_results)"
        steps:
          - name: prebooked
            function: production.allocate_prebooked_production
            arguments:
              order_id: "{order['order_id']}"
            output_var: production_results
          - name: still_short
            condition: "{any(r['remaining_quantity'] > 0 for r in production_results)}"
            steps:
              - name: schedule
                function: production.schedule_production
                arguments:
                  order_id: "{order['order_id']}"
  - name: summary
    function: message.write_message
    arguments:
      message: "processed {len(pending_orders)} orders"
    output_var: summary
`

func TestFulfilmentPlan(t *testing.T) {
	s := seeded(t)
	reg := registry.Core(nil)
	require.NoError(t, reg.Merge(s.Registry()))
	stub := registry.NewStub(nil)
	recorded, err := stub.Registry(reg)
	require.NoError(t, err)

	p, err := plan.Load([]byte(fulfilmentPlan))
	require.NoError(t, err)
	res, err := engine.New(recorded).Execute(context.Background(), p, nil)
	require.NoError(t, err)

	var fns []string
	for _, c := range stub.Calls() {
		fns = append(fns, c.Function+" "+orderOf(c))
	}
	assert.Equal(t, []string{
		"customer_order.get_pending_orders ",
		"inventory.allocate_stock O001",
		"production.allocate_prebooked_production O001",
		"inventory.allocate_stock O003",
		"production.allocate_prebooked_production O003",
		"production.schedule_production O003",
		"message.write_message ",
	}, fns)
	assert.Equal(t, map[string]any{"status": "success", "message": "processed 2 orders"}, res.Context["summary"])

	r := s.Registry()
	assert.Equal(t, StatusAllocated, call(t, r, "customer_order.get_order_status", map[string]any{"order_id": "O001"}))
	assert.Equal(t, StatusPartiallyAllocated, call(t, r, "customer_order.get_order_status", map[string]any{"order_id": "O003"}))
}

func orderOf(c registry.Call) string {
	id, _ := c.Args["order_id"].(string)
	return id
}

func TestCustomerAndProducts(t *testing.T) {
	r := seeded(t).Registry()

	assert.Equal(t, map[string]any{
		"name":         "Acme Corp",
		"address":      "1 Main St, Springfield",
		"contact_info": "orders@acme.example",
	}, call(t, r, "customer.get_customer_details", map[string]any{"customer_id": "C001"}))
	assert.Equal(t, map[string]any{}, call(t, r, "customer.get_customer_details", map[string]any{"customer_id": "C999"}))

	assert.Equal(t, []any{
		map[string]any{"product_id": "P001", "name": "Widget", "price": 19.5},
		map[string]any{"product_id": "P002", "name": "Gadget", "price": 34.5},
		map[string]any{"product_id": "P003", "name": "Gizmo", "price": 7.25},
	}, call(t, r, "product.get_products", nil))
}

func TestCreateOrder(t *testing.T) {
	r := seeded(t).Registry()

	out := call(t, r, "customer_order.create_order", map[string]any{
		"customer_id": "C002",
		"order_details": []any{
			map[string]any{"product_id": "P002", "quantity": 4},
			map[string]any{"product_id": "P003", "quantity": int64(1)},
		},
	})
	id, ok := out.(string)
	require.True(t, ok, "order id should be a string, got %T", out)
	assert.True(t, strings.HasPrefix(id, "O") && len(id) == 9, "unexpected order id %q", id)

	assert.Equal(t, StatusPending, call(t, r, "customer_order.get_order_status", map[string]any{"order_id": id}))
	assert.Equal(t, []any{
		map[string]any{"product_id": "P002", "quantity": 4, "allocated_quantity": 0, "remaining_quantity": 4},
		map[string]any{"product_id": "P003", "quantity": 1, "allocated_quantity": 0, "remaining_quantity": 1},
	}, call(t, r, "customer_order.get_order_details", map[string]any{"order_id": id}))
	assert.Len(t, call(t, r, "customer_order.get_pending_orders", map[string]any{"customer_id": "C002"}), 1)

	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{"unknown customer", map[string]any{"customer_id": "C999", "order_details": []any{map[string]any{"product_id": "P001", "quantity": 1}}}, "unknown customer C999"},
		{"unknown product", map[string]any{"customer_id": "C003", "order_details": []any{map[string]any{"product_id": "P404", "quantity": 1}}}, "adding P404"},
		{"no lines", map[string]any{"customer_id": "C003", "order_details": []any{}}, "must not be empty"},
		{"not a list", map[string]any{"customer_id": "C003", "order_details": "P001"}, "must be a list"},
		{"zero quantity", map[string]any{"customer_id": "C003", "order_details": []any{map[string]any{"product_id": "P001", "quantity": 0}}}, "quantity must be positive"},
		{"duplicate product", map[string]any{"customer_id": "C003", "order_details": []any{
			map[string]any{"product_id": "P001", "quantity": 1},
			map[string]any{"product_id": "P001", "quantity": 2},
		}}, "listed twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := try(t, r, "customer_order.create_order", tt.args)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	// Failed creates roll back completely.
	assert.Equal(t, []any{}, call(t, r, "report.generate_order_report", map[string]any{"customer_id": "C003"}))
}

func TestCancelOrderReleasesAllocations(t *testing.T) {
	r := seeded(t).Registry()
	o001 := map[string]any{"order_id": "O001"}

	call(t, r, "inventory.allocate_stock", o001)
	call(t, r, "production.allocate_prebooked_production", o001)
	require.Equal(t, StatusAllocated, call(t, r, "customer_order.get_order_status", o001))

	assert.Equal(t, true, call(t, r, "customer_order.cancel_order", o001))
	assert.Equal(t, "Order not found", call(t, r, "customer_order.get_order_status", o001))
	assert.Equal(t, []any{}, call(t, r, "customer_order.get_order_details", o001))
	assert.Equal(t, false, call(t, r, "customer_order.cancel_order", o001))

	// Shipped orders stay put.
	assert.Equal(t, false, call(t, r, "customer_order.cancel_order", map[string]any{"order_id": "O002"}))
	assert.Equal(t, StatusShipped, call(t, r, "customer_order.get_order_status", map[string]any{"order_id": "O002"}))

	// The Gadget stock and the whole PS001 run are free again.
	id := call(t, r, "customer_order.create_order", map[string]any{
		"customer_id":   "C003",
		"order_details": []any{map[string]any{"product_id": "P002", "quantity": 25}},
	})
	order := map[string]any{"order_id": id}
	assert.Equal(t, []any{
		map[string]any{"product_id": "P002", "newly_allocated_quantity": 3, "remaining_quantity": 22},
	}, call(t, r, "inventory.allocate_stock", order))
	assert.Equal(t, []any{
		map[string]any{"product_id": "P002", "newly_allocated_quantity": 20, "remaining_quantity": 2},
	}, call(t, r, "production.allocate_prebooked_production", order))
}

func TestPartialAllocateOrder(t *testing.T) {
	r := seeded(t).Registry()
	order := map[string]any{"order_id": "O001"}

	assert.Equal(t, []any{
		map[string]any{"product_id": "P001", "requested_quantity": 10, "allocated_quantity": 10},
		map[string]any{"product_id": "P002", "requested_quantity": 5, "allocated_quantity": 3},
	}, call(t, r, "customer_order.partial_allocate_order", order))
	assert.Equal(t, StatusPartiallyAllocated, call(t, r, "customer_order.get_order_status", order))

	assert.Equal(t, []any{
		map[string]any{"product_id": "P002", "requested_quantity": 5, "allocated_quantity": 3},
	}, call(t, r, "customer_order.partial_allocate_order", order))
}

func TestShipping(t *testing.T) {
	r := seeded(t).Registry()
	order := map[string]any{"order_id": "O001"}

	assert.Equal(t, []any{
		map[string]any{"shipping_option_id": "SO001", "carrier_id": "CAR1", "service_level": "Standard", "cost": 15.0, "estimated_days": 5},
		map[string]any{"shipping_option_id": "SO002", "carrier_id": "CAR2", "service_level": "Express", "cost": 40.0, "estimated_days": 2},
	}, call(t, r, "shipping.get_shipping_options", order))
	assert.Equal(t, []any{}, call(t, r, "shipping.get_shipping_options", map[string]any{"order_id": "O999"}))

	_, err := try(t, r, "shipping.confirm_shipment", map[string]any{"order_id": "O001", "shipping_option_id": "SO001"})
	assert.ErrorContains(t, err, "order O001 is Pending")

	call(t, r, "inventory.allocate_stock", order)
	call(t, r, "production.allocate_prebooked_production", order)

	_, err = try(t, r, "shipping.confirm_shipment", map[string]any{"order_id": "O001", "shipping_option_id": "SO003"})
	assert.ErrorContains(t, err, "does not deliver to customer C001")
	_, err = try(t, r, "shipping.confirm_shipment", map[string]any{"order_id": "O001", "shipping_option_id": "SO404"})
	assert.ErrorContains(t, err, "unknown shipping option SO404")

	assert.Equal(t, map[string]any{"shipment_id": "SHIP_O001", "tracking_number": "TRACK_O001"},
		call(t, r, "shipping.confirm_shipment", map[string]any{"order_id": "O001", "shipping_option_id": "SO001"}))
	assert.Equal(t, StatusShipped, call(t, r, "customer_order.get_order_status", order))

	// Shipping consumes the reserved stock; production-covered units never were stock.
	assert.Equal(t, 2, call(t, r, "inventory.check_stock", map[string]any{"product_id": "P001"}))
	assert.Equal(t, 0, call(t, r, "inventory.check_stock", map[string]any{"product_id": "P002"}))

	_, err = try(t, r, "shipping.confirm_shipment", map[string]any{"order_id": "O001", "shipping_option_id": "SO001"})
	assert.ErrorContains(t, err, "order O001 is Shipped")

	tracked := call(t, r, "shipping.track_shipment", map[string]any{"tracking_number": "TRACK_O001"}).(map[string]any)
	assert.Equal(t, "SHIP_O001", tracked["shipment_id"])
	assert.Equal(t, "O001", tracked["order_id"])
	assert.Equal(t, "SO001", tracked["shipping_option_id"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, tracked["shipped_date"])

	assert.Equal(t, map[string]any{
		"shipment_id":        "SHIP_O002",
		"order_id":           "O002",
		"shipping_option_id": "SO003",
		"shipped_date":       "2025-01-07",
	}, call(t, r, "shipping.track_shipment", map[string]any{"tracking_number": "TRACK_O002"}))
	assert.Equal(t, map[string]any{"status": "Not Found"}, call(t, r, "shipping.track_shipment", map[string]any{"tracking_number": "nope"}))
}

func TestProductionBacklog(t *testing.T) {
	r := seeded(t).Registry()

	backlog := []any{map[string]any{
		"schedule_id": "PS003",
		"product_id":  "P001",
		"start_date":  "2025-01-20",
		"end_date":    "2025-01-21",
		"quantity":    15,
		"status":      StatusBacklogged,
	}}
	assert.Equal(t, backlog, call(t, r, "production.get_production_backlog", nil))
	assert.Equal(t, backlog, call(t, r, "production.get_production_backlog", map[string]any{"product_id": "P001"}))
	assert.Equal(t, []any{}, call(t, r, "production.get_production_backlog", map[string]any{"product_id": "P002"}))
}

func TestComponents(t *testing.T) {
	r := seeded(t).Registry()

	assert.Equal(t, []any{
		map[string]any{"component_id": "CMP001", "required_quantity": 2, "available_quantity": 120},
		map[string]any{"component_id": "CMP003", "required_quantity": 4, "available_quantity": 500},
	}, call(t, r, "component.check_components_for_product", map[string]any{"product_id": "P001"}))

	assert.Equal(t, []any{
		map[string]any{"component_id": "CMP002", "reserved_quantity": 20, "shortfall": 0},
		map[string]any{"component_id": "CMP004", "reserved_quantity": 15, "shortfall": 5},
	}, call(t, r, "component.reserve_stock_components", map[string]any{"product_id": "P002", "quantity": 20}))
	assert.Equal(t, 20, call(t, r, "component.check_component_availability", map[string]any{"component_id": "CMP002"}))
	assert.Equal(t, 0, call(t, r, "component.check_component_availability", map[string]any{"component_id": "CMP004"}))
	assert.Equal(t, 0, call(t, r, "component.check_component_availability", map[string]any{"component_id": "CMP404"}))

	assert.Equal(t, []any{
		map[string]any{"component_id": "CMP003", "available_quantity": 5000, "cost_per_unit": 0.25},
		map[string]any{"component_id": "CMP004", "available_quantity": 50, "cost_per_unit": 8.75},
	}, call(t, r, "component.check_supplier_components", map[string]any{"supplier_id": "S002"}))

	assert.Equal(t, map[string]any{
		"status":           "Success",
		"supplier_id":      "S002",
		"component_id":     "CMP004",
		"quantity_ordered": 10,
		"total_cost":       87.5,
	}, call(t, r, "component.place_component_order", map[string]any{"supplier_id": "S002", "component_id": "CMP004", "quantity": 10}))
	assert.Equal(t, 10, call(t, r, "component.check_component_availability", map[string]any{"component_id": "CMP004"}))

	failed := map[string]any{"status": "Failed", "reason": "Insufficient stock from supplier"}
	assert.Equal(t, failed, call(t, r, "component.place_component_order", map[string]any{"supplier_id": "S002", "component_id": "CMP004", "quantity": 100}))
	assert.Equal(t, failed, call(t, r, "component.place_component_order", map[string]any{"supplier_id": "S001", "component_id": "CMP004", "quantity": 1}))
	assert.Equal(t, 10, call(t, r, "component.check_component_availability", map[string]any{"component_id": "CMP004"}))
}

func TestReports(t *testing.T) {
	r := seeded(t).Registry()

	assert.Equal(t, []any{
		map[string]any{"component_id": "CMP002", "name": "Circuit board", "stock_quantity": 40},
		map[string]any{"component_id": "CMP004", "name": "Battery", "stock_quantity": 15},
	}, call(t, r, "report.generate_replenishment_report", map[string]any{"threshold": 50}))

	assert.Equal(t, []any{
		map[string]any{"schedule_id": "PS001", "product_id": "P002", "start_date": "2025-01-10", "end_date": "2025-01-12", "quantity": 20, "status": StatusScheduled},
		map[string]any{"schedule_id": "PS002", "product_id": "P003", "start_date": "2025-01-11", "end_date": "2025-01-13", "quantity": 5, "status": StatusScheduled},
	}, call(t, r, "report.generate_production_report", map[string]any{"start_date": "2025-01-10", "end_date": "2025-01-13"}))

	pending := []any{
		map[string]any{"order_id": "O001", "customer_id": "C001", "order_date": "2025-01-05", "status": StatusPending},
		map[string]any{"order_id": "O003", "customer_id": "C001", "order_date": "2025-01-07", "status": StatusPending},
	}
	assert.Equal(t, pending, call(t, r, "report.generate_order_report", map[string]any{"status": "Pending", "customer_id": "C001"}))
	assert.Len(t, call(t, r, "report.generate_order_report", nil), 3)

	summary := call(t, r, "report.generate_summary_report", nil).(map[string]any)
	assert.Equal(t, []any{
		map[string]any{"product_id": "P001", "stock_quantity": 12},
		map[string]any{"product_id": "P002", "stock_quantity": 3},
		map[string]any{"product_id": "P003", "stock_quantity": 0},
	}, summary["inventory"])
	assert.Equal(t, pending, summary["pending_orders"])
	assert.Len(t, summary["production_schedule"], 3)
}

func TestShipOrdersPlan(t *testing.T) {
	s := seeded(t)
	reg := registry.Core(nil)
	require.NoError(t, reg.Merge(s.Registry()))
	stub := registry.NewStub(nil)
	recorded, err := stub.Registry(reg)
	require.NoError(t, err)

	p, err := plan.LoadFile(filepath.Join("..", "..", "plans", "ship_orders.yaml"))
	require.NoError(t, err)
	require.Empty(t, engine.Lint(p, reg))
	res, err := engine.New(recorded).Execute(context.Background(), p, nil)
	require.NoError(t, err)

	var fns []string
	for _, c := range stub.Calls() {
		fns = append(fns, c.Function+" "+orderOf(c))
	}
	assert.Equal(t, []string{
		"customer_order.get_pending_orders ",
		"inventory.allocate_stock O001",
		"production.allocate_prebooked_production O001",
		"customer_order.get_order_status O001",
		"shipping.get_shipping_options O001",
		"shipping.confirm_shipment O001",
		"shipping.track_shipment ",
		"message.write_message ",
		"inventory.allocate_stock O003",
		"production.allocate_prebooked_production O003",
		"customer_order.get_order_status O003",
		"report.generate_order_report ",
		"message.write_message ",
	}, fns)
	assert.Equal(t, map[string]any{"message": "O001 shipped as TRACK_O001 via Standard"}, stub.Calls()[7].Args)
	assert.Equal(t, map[string]any{"status": "success", "message": "2 orders shipped"}, res.Context["summary"])
	assert.Equal(t, StatusShipped, call(t, s.Registry(), "customer_order.get_order_status", map[string]any{"order_id": "O001"}))
}
