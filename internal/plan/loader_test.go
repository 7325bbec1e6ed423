package plan

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	planerrors "github.com/stevehiehn/taskdsl/internal/errors"
)

const orderPlan = `
task: Process pending orders
steps:
  - name: Fetch pending orders
    function: customer_order.get_pending_orders
    arguments: {}
    output_var: pending_orders
  - name: Process each order
    loop:
      variable: order
      over: "{pending_orders}"
    steps:
      - name: Allocate stock
        function: inventory.allocate_stock
        arguments:
          order_id: "{order['order_id']}"
        output_var: allocation
      - name: Shortfall
        condition: "any(item['remaining_quantity'] > 0 for item in allocation)"
        steps:
          - name: Notify
            function: message.write_message
            arguments:
              message: "Order {order['order_id']} is short"
`

func TestLoadOrderPlan(t *testing.T) {
	p, err := Load([]byte(orderPlan))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Task != "Process pending orders" {
		t.Errorf("unexpected task %q", p.Task)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(p.Steps))
	}

	fetch, ok := p.Steps[0].(*Action)
	if !ok {
		t.Fatalf("expected *Action, got %T", p.Steps[0])
	}
	if fetch.Function != "customer_order.get_pending_orders" || fetch.OutputVar != "pending_orders" {
		t.Errorf("unexpected action %+v", fetch)
	}
	if len(fetch.Arguments) != 0 {
		t.Errorf("expected no arguments, got %v", fetch.Arguments)
	}

	loop, ok := p.Steps[1].(*Loop)
	if !ok {
		t.Fatalf("expected *Loop, got %T", p.Steps[1])
	}
	if loop.Variable != "order" || loop.Over != "{pending_orders}" {
		t.Errorf("unexpected loop %+v", loop)
	}
	if len(loop.Steps) != 2 {
		t.Fatalf("expected 2 loop steps, got %d", len(loop.Steps))
	}
	alloc := loop.Steps[0].(*Action)
	if !reflect.DeepEqual(alloc.Arguments, map[string]any{"order_id": "{order['order_id']}"}) {
		t.Errorf("unexpected arguments %v", alloc.Arguments)
	}
	cond, ok := loop.Steps[1].(*Condition)
	if !ok {
		t.Fatalf("expected *Condition, got %T", loop.Steps[1])
	}
	if cond.Kind() != KindCondition || len(cond.Steps) != 1 {
		t.Errorf("unexpected condition %+v", cond)
	}
}

func TestLoadJSON(t *testing.T) {
	data := []byte(`{
  "task": "json plan",
  "steps": [
    {"name": "a", "function": "message.write_message", "arguments": {"message": "hi", "n": 2, "tags": ["x", true]}}
  ]
}`)
	p, err := Load(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := p.Steps[0].(*Action)
	want := map[string]any{"message": "hi", "n": 2, "tags": []any{"x", true}}
	if !reflect.DeepEqual(a.Arguments, want) {
		t.Errorf("expected %v, got %v", want, a.Arguments)
	}
}

func TestLoadUnquotedPlaceholderInOver(t *testing.T) {
	data := []byte(`
task: t
steps:
  - name: each
    loop:
      variable: o
      over: {pending_orders}
    steps:
      - name: noop
        function: message.write_message
`)
	p, err := Load(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Steps[0].(*Loop).Over; got != "{pending_orders}" {
		t.Errorf("expected {pending_orders}, got %q", got)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(orderPlan), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Task != "Process pending orders" {
		t.Errorf("unexpected task %q", p.Task)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		path []string
	}{
		{"bad yaml", "task: [", nil},
		{"empty document", "", nil},
		{"no task", "steps:\n  - {name: a, function: x.y}\n", nil},
		{"no steps", "task: t\n", nil},
		{"unknown plan key", "task: t\nsteeps: []\n", nil},
		{"function and loop", `
task: t
steps:
  - name: bad
    function: x.y
    loop: {variable: v, over: xs}
    steps: [{name: a, function: x.y}]
`, []string{"bad"}},
		{"loop and condition", `
task: t
steps:
  - name: bad
    condition: "x"
    loop: {variable: v, over: xs}
    steps: [{name: a, function: x.y}]
`, []string{"bad"}},
		{"function and condition", `
task: t
steps:
  - name: bad
    function: x.y
    condition: "x"
`, []string{"bad"}},
		{"no shape", "task: t\nsteps:\n  - name: empty\n", []string{"empty"}},
		{"arguments on loop", `
task: t
steps:
  - name: bad
    loop: {variable: v, over: xs}
    arguments: {a: 1}
    steps: [{name: a, function: x.y}]
`, []string{"bad"}},
		{"steps on action", `
task: t
steps:
  - name: bad
    function: x.y
    steps: []
`, []string{"bad"}},
		{"unknown loop key", `
task: t
steps:
  - name: bad
    loop: {variable: v, over: xs, step: 2}
    steps: [{name: a, function: x.y}]
`, []string{"bad"}},
		{"missing nested steps", `
task: t
steps:
  - name: outer
    condition: "true"
`, []string{"outer"}},
		{"unnamed nested step", `
task: t
steps:
  - name: outer
    condition: "True"
    steps:
      - function: x.y
`, []string{"outer", "#0"}},
		{"bad function name", "task: t\nsteps:\n  - {name: a, function: 'not valid'}\n", []string{"a"}},
		{"bad output var", "task: t\nsteps:\n  - {name: a, function: x.y, output_var: 'a-b'}\n", []string{"a"}},
		{"arguments not a mapping", "task: t\nsteps:\n  - {name: a, function: x.y, arguments: [1]}\n", []string{"a"}},
		{"steps not a list", "task: t\nsteps: {name: a}\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, planerrors.ErrPlanFormat) {
				t.Fatalf("expected PLAN_FORMAT, got %v", err)
			}
			var pe *planerrors.Error
			errors.As(err, &pe)
			if !reflect.DeepEqual(pe.Path, tt.path) {
				t.Errorf("expected path %v, got %v (%v)", tt.path, pe.Path, err)
			}
		})
	}
}

func TestLoadRejectsSelfReferentialAlias(t *testing.T) {
	data := []byte(`
task: t
steps:
  - &again
    name: recurse
    condition: "True"
    steps:
      - *again
`)
	_, err := Load(data)
	if !errors.Is(err, planerrors.ErrPlanFormat) {
		t.Fatalf("expected PLAN_FORMAT, got %v", err)
	}
}

func TestLoadAllowsReusedAlias(t *testing.T) {
	data := []byte(`
task: t
steps:
  - &notify
    name: notify
    function: message.write_message
    arguments: {message: hi}
  - name: again
    condition: "True"
    steps:
      - *notify
`)
	p, err := Load(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inner := p.Steps[1].(*Condition).Steps[0].(*Action)
	if inner.Function != "message.write_message" {
		t.Errorf("unexpected aliased step %+v", inner)
	}
}
