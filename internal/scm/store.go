// Package scm is a small supply-chain database exposed as registry
// functions. It gives plans something real to run against.
package scm

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	product_id   TEXT PRIMARY KEY,
	product_name TEXT NOT NULL,
	price        REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS customers (
	customer_id  TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	address      TEXT NOT NULL,
	contact_info TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	order_id    TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL REFERENCES customers(customer_id),
	order_date  TEXT NOT NULL,
	status      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS order_details (
	order_id           TEXT NOT NULL REFERENCES orders(order_id),
	product_id         TEXT NOT NULL REFERENCES products(product_id),
	quantity           INTEGER NOT NULL,
	allocated_quantity INTEGER NOT NULL DEFAULT 0,
	remaining_quantity INTEGER GENERATED ALWAYS AS (quantity - allocated_quantity) VIRTUAL,
	PRIMARY KEY (order_id, product_id)
);

CREATE TABLE IF NOT EXISTS inventory (
	product_id         TEXT PRIMARY KEY REFERENCES products(product_id),
	stock_quantity     INTEGER NOT NULL,
	reserved_quantity  INTEGER NOT NULL DEFAULT 0,
	available_quantity INTEGER GENERATED ALWAYS AS (stock_quantity - reserved_quantity) VIRTUAL
);

CREATE TABLE IF NOT EXISTS production_schedule (
	schedule_id        TEXT PRIMARY KEY,
	product_id         TEXT NOT NULL REFERENCES products(product_id),
	start_date         TEXT NOT NULL,
	end_date           TEXT NOT NULL,
	total_capacity     INTEGER NOT NULL,
	allocated_capacity INTEGER NOT NULL DEFAULT 0,
	available_capacity INTEGER GENERATED ALWAYS AS (total_capacity - allocated_capacity) VIRTUAL,
	status             TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS production_allocation (
	allocation_id          TEXT PRIMARY KEY,
	production_schedule_id TEXT NOT NULL REFERENCES production_schedule(schedule_id),
	order_id               TEXT NOT NULL REFERENCES orders(order_id),
	allocated_quantity     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS shipping_options (
	shipping_option_id TEXT PRIMARY KEY,
	destination        TEXT NOT NULL REFERENCES customers(customer_id),
	carrier_id         TEXT NOT NULL,
	service_level      TEXT NOT NULL,
	cost               REAL NOT NULL,
	estimated_days     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS shipments (
	shipment_id        TEXT PRIMARY KEY,
	order_id           TEXT NOT NULL UNIQUE REFERENCES orders(order_id),
	shipping_option_id TEXT NOT NULL REFERENCES shipping_options(shipping_option_id),
	shipped_date       TEXT NOT NULL,
	tracking_number    TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS components (
	component_id   TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	stock_quantity INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS product_components (
	product_id               TEXT NOT NULL REFERENCES products(product_id),
	component_id             TEXT NOT NULL REFERENCES components(component_id),
	quantity_needed_per_unit INTEGER NOT NULL,
	PRIMARY KEY (product_id, component_id)
);

CREATE TABLE IF NOT EXISTS supplier_components (
	supplier_id        TEXT NOT NULL,
	component_id       TEXT NOT NULL REFERENCES components(component_id),
	available_quantity INTEGER NOT NULL,
	cost_per_unit      REAL NOT NULL,
	PRIMARY KEY (supplier_id, component_id)
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_schedule_product ON production_schedule(product_id);
`

// Drop order respects foreign keys.
var tables = []string{
	"shipments",
	"shipping_options",
	"production_allocation",
	"production_schedule",
	"supplier_components",
	"product_components",
	"components",
	"inventory",
	"order_details",
	"orders",
	"customers",
	"products",
}

const seed = `
INSERT INTO products (product_id, product_name, price) VALUES
	('P001', 'Widget', 19.5),
	('P002', 'Gadget', 34.5),
	('P003', 'Gizmo', 7.25);

INSERT INTO customers (customer_id, name, address, contact_info) VALUES
	('C001', 'Acme Corp', '1 Main St, Springfield', 'orders@acme.example'),
	('C002', 'Globex', '42 Elm Rd, Shelbyville', 'buying@globex.example'),
	('C003', 'Initech', '9 Park Ave, Capital City', 'purchasing@initech.example');

INSERT INTO orders (order_id, customer_id, order_date, status) VALUES
	('O001', 'C001', '2025-01-05', 'Pending'),
	('O002', 'C002', '2025-01-06', 'Shipped'),
	('O003', 'C001', '2025-01-07', 'Pending');

INSERT INTO order_details (order_id, product_id, quantity, allocated_quantity) VALUES
	('O001', 'P001', 10, 0),
	('O001', 'P002', 5, 0),
	('O002', 'P001', 2, 2),
	('O003', 'P003', 8, 0);

INSERT INTO inventory (product_id, stock_quantity, reserved_quantity) VALUES
	('P001', 12, 2),
	('P002', 3, 0),
	('P003', 0, 0);

INSERT INTO production_schedule
	(schedule_id, product_id, start_date, end_date, total_capacity, allocated_capacity, status)
VALUES
	('PS001', 'P002', '2025-01-10', '2025-01-12', 20, 0, 'Scheduled'),
	('PS002', 'P003', '2025-01-11', '2025-01-13', 5, 0, 'Scheduled'),
	('PS003', 'P001', '2025-01-20', '2025-01-21', 15, 0, 'Backlogged');

INSERT INTO shipping_options
	(shipping_option_id, destination, carrier_id, service_level, cost, estimated_days)
VALUES
	('SO001', 'C001', 'CAR1', 'Standard', 15.0, 5),
	('SO002', 'C001', 'CAR2', 'Express', 40.0, 2),
	('SO003', 'C002', 'CAR1', 'Standard', 12.5, 4);

INSERT INTO shipments (shipment_id, order_id, shipping_option_id, shipped_date, tracking_number) VALUES
	('SHIP_O002', 'O002', 'SO003', '2025-01-07', 'TRACK_O002');

INSERT INTO components (component_id, name, stock_quantity) VALUES
	('CMP001', 'Steel frame', 120),
	('CMP002', 'Circuit board', 40),
	('CMP003', 'Fastener kit', 500),
	('CMP004', 'Battery', 15);

INSERT INTO product_components (product_id, component_id, quantity_needed_per_unit) VALUES
	('P001', 'CMP001', 2),
	('P001', 'CMP003', 4),
	('P002', 'CMP002', 1),
	('P002', 'CMP004', 1),
	('P003', 'CMP003', 10);

INSERT INTO supplier_components (supplier_id, component_id, available_quantity, cost_per_unit) VALUES
	('S001', 'CMP001', 1000, 2.5),
	('S001', 'CMP002', 200, 12.0),
	('S002', 'CMP003', 5000, 0.25),
	('S002', 'CMP004', 50, 8.75);
`

// Store owns the SQLite connection.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the database at path and ensures the schema
// exists. Use ":memory:" for a throwaway database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, logger: logger.With(zap.String("component", "scm"))}
	if err := s.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the schema tables.
func (s *Store) Init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Reset drops every table and recreates the seeded demo data.
func (s *Store) Reset(ctx context.Context) error {
	err := s.tx(ctx, func(tx *sql.Tx) error {
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, seed)
		return err
	})
	if err != nil {
		return fmt.Errorf("resetting database: %w", err)
	}
	s.logger.Info("database reset")
	return nil
}

// Empty reports whether the database holds no orders.
func (s *Store) Empty(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
