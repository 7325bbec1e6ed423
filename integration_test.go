package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stevehiehn/taskdsl/cmd"
	"github.com/stevehiehn/taskdsl/internal/artifact"
	"github.com/stevehiehn/taskdsl/internal/engine"
	planerrors "github.com/stevehiehn/taskdsl/internal/errors"
)

// workspace is a temp directory with a config pointing the database and
// artifacts inside it.
type workspace struct {
	dir    string
	config string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	config := filepath.Join(dir, "taskdsl.yaml")
	data := fmt.Sprintf("log:\n  level: error\ndb:\n  path: %q\nartifacts:\n  dir: %q\n",
		filepath.Join(dir, "scm.db"), filepath.Join(dir, "artifacts"))
	if err := os.WriteFile(config, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return &workspace{dir: dir, config: config}
}

func (w *workspace) writePlan(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (w *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return w.runWithInput(t, "", args...)
}

func (w *workspace) runWithInput(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := cmd.Run(context.Background(), append([]string{"--config", w.config}, args...),
		strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func decodeResult(t *testing.T, out string) *engine.Result {
	t.Helper()
	var res engine.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decoding result: %v\n%s", err, out)
	}
	return &res
}

func TestRunFulfilmentPlanE2E(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run(t, "--json", "run", "plans/fulfil_orders.yaml")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	res := decodeResult(t, out)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	summary, _ := res.Context["summary"].(map[string]any)
	if summary["message"] != "processed 2 orders" {
		t.Fatalf("unexpected summary %v", res.Context["summary"])
	}

	var calls []string
	for _, c := range res.Calls() {
		calls = append(calls, c.Function)
	}
	want := []string{
		"customer_order.get_pending_orders",
		"inventory.allocate_stock",
		"production.allocate_prebooked_production",
		"inventory.allocate_stock",
		"production.allocate_prebooked_production",
		"production.schedule_production",
		"message.write_message",
	}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", calls, want)
	}

	var stored engine.Result
	if err := artifact.ReadResult(filepath.Join(w.dir, "artifacts"), res.RunID, &stored); err != nil {
		t.Fatal(err)
	}
	if !stored.Success || stored.Task != "fulfil pending orders" {
		t.Fatalf("unexpected stored result %+v", stored)
	}
	if _, err := os.Stat(filepath.Join(w.dir, "artifacts", "runs", res.RunID, "plan.yaml")); err != nil {
		t.Fatalf("plan copy missing: %v", err)
	}

	// The database persists between runs, so nothing is pending any more.
	out, err = w.run(t, "--json", "run", "plans/fulfil_orders.yaml")
	if err != nil {
		t.Fatal(err)
	}
	second := decodeResult(t, out)
	if got := second.Context["summary"].(map[string]any)["message"]; got != "processed 0 orders" {
		t.Fatalf("second run summary = %v", got)
	}
	if second.RunID == res.RunID {
		t.Fatal("expected a fresh run id")
	}

	out, err = w.run(t, "--json", "run", "--reset", "plans/fulfil_orders.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if got := decodeResult(t, out).Context["summary"].(map[string]any)["message"]; got != "processed 2 orders" {
		t.Fatalf("after reset summary = %v", got)
	}
}

func TestRunShipOrdersPlanE2E(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run(t, "--json", "run", "plans/ship_orders.yaml")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	res := decodeResult(t, out)
	if got := res.Context["summary"].(map[string]any)["message"]; got != "2 orders shipped" {
		t.Fatalf("unexpected summary %v", got)
	}
	shipped := 0
	for _, c := range res.Calls() {
		if c.Function == "shipping.confirm_shipment" {
			shipped++
		}
	}
	if shipped != 1 {
		t.Fatalf("expected one new shipment, got %d", shipped)
	}

	out, err = w.run(t, "run", "--set", "order_id=O001", "plans/order_status.yaml")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "order O001 is Shipped") {
		t.Errorf("expected O001 to be shipped:\n%s", out)
	}
}

func TestRunWithSeedVariablesE2E(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run(t, "run", "--set", "order_id=O002", "plans/order_status.yaml")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	for _, want := range []string{
		`Plan "report order status" completed successfully`,
		"report = {'message': 'order O002 is Shipped', 'status': 'success'}",
		"status = Shipped",
		"Run ID: ",
		"Result: ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunFailureReportsStepE2E(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run(t, "run", "plans/order_status.yaml")
	if err == nil {
		t.Fatalf("expected failure without order_id\n%s", out)
	}
	for _, want := range []string{
		`failed at step "lookup"`,
		"[UNBOUND_VARIABLE]",
		"Step: lookup",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, _ = w.run(t, "--json", "run", "plans/order_status.yaml")
	res := decodeResult(t, out)
	if res.Success || res.Error == nil || res.Error.Kind != planerrors.UnboundVariable {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Error.Name != "order_id" {
		t.Errorf("expected unbound name order_id, got %q", res.Error.Name)
	}
}

func TestRunRejectsBadSeed(t *testing.T) {
	w := newWorkspace(t)
	if _, err := w.run(t, "run", "--set", "not an identifier=1", "plans/order_status.yaml"); err == nil {
		t.Fatal("expected error for invalid --set")
	}
}

func TestValidateE2E(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run(t, "validate", "plans/fulfil_orders.yaml")
	if err != nil || !strings.Contains(out, "Plan is valid.") {
		t.Fatalf("expected valid plan, err=%v\n%s", err, out)
	}

	bad := w.writePlan(t, "bad.yaml", `
task: broken
steps:
  - name: first
    function: inventory.teleport_stock
  - name: second
    condition: "x >"
    steps:
      - name: inner
        function: message.write_message
        arguments:
          message: "hi"
`)
	out, err = w.run(t, "--json", "validate", bad)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	var report struct {
		Valid  bool           `json:"valid"`
		Errors []engine.Issue `json:"errors"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decoding: %v\n%s", err, out)
	}
	if report.Valid || len(report.Errors) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	kinds := map[string]bool{}
	for _, is := range report.Errors {
		kinds[is.Err.Kind] = true
	}
	if !kinds[planerrors.UnknownFunction] || !kinds[planerrors.ExpressionSyntax] {
		t.Fatalf("unexpected kinds %v", kinds)
	}

	malformed := w.writePlan(t, "malformed.yaml", "task: nothing\nsteps: []\nextra: true\n")
	out, err = w.run(t, "validate", malformed)
	if err == nil || !strings.Contains(out, "[PLAN_FORMAT]") {
		t.Fatalf("expected plan format error, err=%v\n%s", err, out)
	}
}

func TestExplainE2E(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run(t, "explain", "plans/order_status.yaml")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Task: report order status",
		"1. lookup: call customer_order.get_order_status -> status",
		"2. announce: call message.write_message -> report",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = w.run(t, "--json", "explain", "plans/order_status.yaml")
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]string
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatal(err)
	}
	if doc["task"] != "report order status" || !strings.Contains(doc["outline"], "announce") {
		t.Fatalf("unexpected explain JSON %v", doc)
	}
}

func TestDryRunE2E(t *testing.T) {
	w := newWorkspace(t)
	fixtures := w.writePlan(t, "fixtures.yaml", `
customer_order.get_pending_orders:
  - order_id: X1
inventory.allocate_stock:
  - product_id: P9
    allocated_quantity: 1
    remaining_quantity: 0
`)

	out, err := w.run(t, "dry-run", "--fixtures", fixtures, "plans/fulfil_orders.yaml")
	if err != nil {
		t.Fatalf("dry-run failed: %v\n%s", err, out)
	}
	for _, want := range []string{
		"Dry-run: fulfil pending orders",
		"1. customer_order.get_pending_orders {}",
		"2. inventory.allocate_stock {'order_id': 'X1'}",
		"3. message.write_message {'message': 'processed 1 orders'}",
		"completed successfully",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "production.") {
		t.Errorf("no production calls expected:\n%s", out)
	}

	// Without fixtures the supply-chain functions are unknown.
	out, err = w.run(t, "dry-run", "plans/fulfil_orders.yaml")
	if err == nil || !strings.Contains(out, "[UNKNOWN_FUNCTION]") {
		t.Fatalf("expected unknown function, err=%v\n%s", err, out)
	}
}

func TestMCPStdioE2E(t *testing.T) {
	w := newWorkspace(t)
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"order_status","arguments":{"context":{"order_id":"O001"}}}}`,
	}, "\n") + "\n"

	out, err := w.runWithInput(t, input, "mcp", "--plans-dir", "plans", "--db", filepath.Join(w.dir, "mcp.db"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 responses, got %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], `"fulfil_orders"`) || !strings.Contains(lines[1], `"plan.run"`) {
		t.Errorf("tools/list missing tools: %s", lines[1])
	}
	if !strings.Contains(lines[2], `order O001 is Pending`) {
		t.Errorf("expected order status in call result: %s", lines[2])
	}
}

func TestMCPHidesHostFunctionsByDefaultE2E(t *testing.T) {
	w := newWorkspace(t)
	input := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"plan.functions","arguments":{}}}` + "\n"

	out, err := w.runWithInput(t, input, "mcp", "--db", filepath.Join(w.dir, "mcp.db"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "inventory.allocate_stock") {
		t.Errorf("expected supply-chain functions: %s", out)
	}
	for _, name := range []string{"file.write", "json.set", "env.get", "http.request"} {
		if strings.Contains(out, name) {
			t.Errorf("%s exposed without --allow-io: %s", name, out)
		}
	}

	out, err = w.runWithInput(t, input, "mcp", "--db", filepath.Join(w.dir, "mcp.db"), "--allow-io")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "file.write") || !strings.Contains(out, "inventory.allocate_stock") {
		t.Errorf("expected host and supply-chain functions with --allow-io: %s", out)
	}
}

func TestRunUtilityFunctionsE2E(t *testing.T) {
	w := newWorkspace(t)
	report := filepath.Join(w.dir, "out", "report.json")
	path := w.writePlan(t, "report.yaml", fmt.Sprintf(`
task: export pending orders
steps:
  - name: orders
    function: customer_order.get_pending_orders
    output_var: orders
  - name: count
    function: json.set
    arguments:
      file: %q
      path: summary.pending
      value: "{len(orders)}"
  - name: ids
    function: json.set
    arguments:
      file: %q
      path: summary.ids
      value: "{[o['order_id'] for o in orders]}"
  - name: read_back
    function: json.get
    arguments:
      file: %q
      path: summary.pending
    output_var: pending
`, report, report, report))

	out, err := w.run(t, "--json", "run", path)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	res := decodeResult(t, out)
	if res.Context["pending"] != float64(2) {
		t.Fatalf("expected 2 pending, got %v", res.Context["pending"])
	}

	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	ids, _ := doc["summary"]["ids"].([]any)
	if len(ids) != 2 || ids[0] != "O001" || ids[1] != "O003" {
		t.Fatalf("unexpected ids %v", doc["summary"]["ids"])
	}
}
