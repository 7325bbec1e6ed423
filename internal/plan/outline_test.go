package plan

import (
	"strings"
	"testing"
)

func TestOutline(t *testing.T) {
	p, err := Load([]byte(orderPlan))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var b strings.Builder
	if err := Outline(&b, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := b.String()

	for _, want := range []string{
		"Task: " + p.Task,
		"1. ",
		"2.1. ",
		"call inventory.allocate_stock",
		"for order in",
		"order_id = {order['order_id']}",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("outline missing %q:\n%s", want, out)
		}
	}
}

func TestOutlineRendersStructuredArguments(t *testing.T) {
	p := &Plan{Task: "t", Steps: []Step{
		&Action{Name: "a", Function: "x.y", Description: "does y", Arguments: map[string]any{
			"count": 3,
			"ids":   []any{"O001"},
		}},
		&Condition{Name: "c", Condition: "ok", Steps: []Step{&Action{Name: "b", Function: "x.z", OutputVar: "z"}}},
	}}
	var b strings.Builder
	if err := Outline(&b, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `Task: t

1. a: call x.y
     count = 3
     ids = ["O001"]
     # does y
2. c: if ok
    2.1. b: call x.z -> z
`
	if b.String() != want {
		t.Errorf("unexpected outline:\n%s\nwant:\n%s", b.String(), want)
	}
}
