package plan

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	planerrors "github.com/stevehiehn/taskdsl/internal/errors"
)

// LoadFile reads and parses a plan file (YAML or JSON).
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}
	return Load(data)
}

// Load parses plan bytes. JSON is accepted as a YAML subset. The result has
// passed Validate.
func Load(data []byte) (*Plan, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, planerrors.NewPlanFormatError(nil, fmt.Sprintf("parsing YAML: %v", err), "")
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, planerrors.NewPlanFormatError(nil, "plan is empty", "A plan needs a task and a list of steps")
	}

	d := &decoder{active: map[*yaml.Node]bool{}}
	p, err := d.plan(doc.Content[0])
	if err != nil {
		return nil, err
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

var (
	planKeys      = []string{"task", "description", "steps"}
	actionKeys    = []string{"name", "description", "function", "arguments", "output_var"}
	conditionKeys = []string{"name", "description", "condition", "steps"}
	loopKeys      = []string{"name", "description", "loop", "steps"}
	loopSpecKeys  = []string{"variable", "over"}
)

type decoder struct {
	// active holds the alias targets currently being expanded.
	active map[*yaml.Node]bool
}

// field is one key/value pair of a mapping node.
type field struct {
	key   string
	value *yaml.Node
}

func (d *decoder) mapping(n *yaml.Node, path []string, what string) ([]field, error) {
	n, err := d.deref(n, path)
	if err != nil {
		return nil, err
	}
	if n.Kind != yaml.MappingNode {
		return nil, planerrors.NewPlanFormatError(path, fmt.Sprintf("%s must be a mapping (line %d)", what, n.Line), "")
	}
	fields := make([]field, 0, len(n.Content)/2)
	seen := map[string]bool{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i]
		if k.Kind != yaml.ScalarNode {
			return nil, planerrors.NewPlanFormatError(path, fmt.Sprintf("%s has a non-string key (line %d)", what, k.Line), "")
		}
		if seen[k.Value] {
			return nil, planerrors.NewPlanFormatError(path, fmt.Sprintf("%s repeats key %q (line %d)", what, k.Value, k.Line), "")
		}
		seen[k.Value] = true
		fields = append(fields, field{key: k.Value, value: n.Content[i+1]})
	}
	return fields, nil
}

// deref follows aliases, rejecting ones that lead back into themselves.
func (d *decoder) deref(n *yaml.Node, path []string) (*yaml.Node, error) {
	for n.Kind == yaml.AliasNode {
		if d.active[n.Alias] {
			return nil, selfReference(n, path)
		}
		n = n.Alias
	}
	return n, nil
}

// follow is deref for nodes that can nest steps: an anchored node stays
// active until release is called, so an alias back into it is caught.
func (d *decoder) follow(n *yaml.Node, path []string) (*yaml.Node, func(), error) {
	target, err := d.deref(n, path)
	if err != nil {
		return nil, nil, err
	}
	if target.Anchor == "" {
		return target, func() {}, nil
	}
	d.active[target] = true
	return target, func() { delete(d.active, target) }, nil
}

func selfReference(alias *yaml.Node, path []string) error {
	return planerrors.NewPlanFormatError(path,
		fmt.Sprintf("alias *%s refers to a step that contains it (line %d)", alias.Value, alias.Line),
		"A step cannot contain itself")
}

func checkKeys(fields []field, allowed []string, path []string, what string) error {
	for _, f := range fields {
		if !slices.Contains(allowed, f.key) {
			return planerrors.NewPlanFormatError(path, fmt.Sprintf("unknown key %q on %s", f.key, what),
				fmt.Sprintf("Allowed keys: %s", strings.Join(allowed, ", ")))
		}
	}
	return nil
}

func (d *decoder) plan(n *yaml.Node) (*Plan, error) {
	fields, err := d.mapping(n, nil, "plan")
	if err != nil {
		return nil, err
	}
	if err := checkKeys(fields, planKeys, nil, "plan"); err != nil {
		return nil, err
	}
	p := &Plan{}
	for _, f := range fields {
		switch f.key {
		case "task":
			if p.Task, err = d.text(f.value, nil, "task"); err != nil {
				return nil, err
			}
		case "description":
			if p.Description, err = d.text(f.value, nil, "description"); err != nil {
				return nil, err
			}
		case "steps":
			if p.Steps, err = d.steps(f.value, nil); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func (d *decoder) steps(n *yaml.Node, parent []string) ([]Step, error) {
	n, release, err := d.follow(n, parent)
	if err != nil {
		return nil, err
	}
	defer release()
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, planerrors.NewPlanFormatError(parent, fmt.Sprintf("steps must be a list (line %d)", n.Line), "")
	}
	out := make([]Step, 0, len(n.Content))
	for i, item := range n.Content {
		s, err := d.step(item, parent, i)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *decoder) step(n *yaml.Node, parent []string, index int) (Step, error) {
	n, release, err := d.follow(n, parent)
	if err != nil {
		return nil, err
	}
	defer release()

	path := childPath(parent, stepLabel(n, index))
	fields, err := d.mapping(n, path, "step")
	if err != nil {
		return nil, err
	}

	has := map[string]bool{}
	for _, f := range fields {
		has[f.key] = true
	}
	switch {
	case has["function"] && has["loop"]:
		return nil, planerrors.NewPlanFormatError(path, "step sets both function and loop", shapeHint)
	case has["function"] && has["condition"]:
		return nil, planerrors.NewPlanFormatError(path, "step sets both function and condition", shapeHint)
	case has["loop"] && has["condition"]:
		return nil, planerrors.NewPlanFormatError(path, "step sets both loop and condition", shapeHint)
	case has["function"]:
		return d.action(fields, path)
	case has["condition"]:
		return d.condition(fields, path)
	case has["loop"]:
		return d.loop(fields, path)
	}
	return nil, planerrors.NewPlanFormatError(path, "step sets none of function, loop or condition", shapeHint)
}

const shapeHint = "A step is exactly one of: an action (function), a loop (loop + steps) or a condition (condition + steps)"

// stepLabel names a step for error paths before it has been decoded.
func stepLabel(n *yaml.Node, index int) string {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == "name" && n.Content[i+1].Kind == yaml.ScalarNode && n.Content[i+1].Value != "" {
				return n.Content[i+1].Value
			}
		}
	}
	return fmt.Sprintf("#%d", index)
}

func childPath(parent []string, name string) []string {
	path := make([]string, len(parent), len(parent)+1)
	copy(path, parent)
	return append(path, name)
}

func (d *decoder) action(fields []field, path []string) (*Action, error) {
	if err := checkKeys(fields, actionKeys, path, "action step"); err != nil {
		return nil, err
	}
	a := &Action{}
	var err error
	for _, f := range fields {
		switch f.key {
		case "name":
			a.Name, err = d.text(f.value, path, "name")
		case "description":
			a.Description, err = d.text(f.value, path, "description")
		case "function":
			a.Function, err = d.text(f.value, path, "function")
		case "output_var":
			a.OutputVar, err = d.text(f.value, path, "output_var")
		case "arguments":
			a.Arguments, err = d.arguments(f.value, path)
		}
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (d *decoder) condition(fields []field, path []string) (*Condition, error) {
	if err := checkKeys(fields, conditionKeys, path, "condition step"); err != nil {
		return nil, err
	}
	c := &Condition{}
	var err error
	for _, f := range fields {
		switch f.key {
		case "name":
			c.Name, err = d.text(f.value, path, "name")
		case "description":
			c.Description, err = d.text(f.value, path, "description")
		case "condition":
			c.Condition, err = d.expression(f.value, path, "condition")
		case "steps":
			c.Steps, err = d.steps(f.value, path)
		}
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (d *decoder) loop(fields []field, path []string) (*Loop, error) {
	if err := checkKeys(fields, loopKeys, path, "loop step"); err != nil {
		return nil, err
	}
	l := &Loop{}
	var err error
	for _, f := range fields {
		switch f.key {
		case "name":
			l.Name, err = d.text(f.value, path, "name")
		case "description":
			l.Description, err = d.text(f.value, path, "description")
		case "steps":
			l.Steps, err = d.steps(f.value, path)
		case "loop":
			err = d.loopSpec(f.value, path, l)
		}
		if err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (d *decoder) loopSpec(n *yaml.Node, path []string, l *Loop) error {
	fields, err := d.mapping(n, path, "loop")
	if err != nil {
		return err
	}
	if err := checkKeys(fields, loopSpecKeys, path, "loop"); err != nil {
		return err
	}
	for _, f := range fields {
		switch f.key {
		case "variable":
			l.Variable, err = d.text(f.value, path, "loop.variable")
		case "over":
			l.Over, err = d.expression(f.value, path, "loop.over")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) text(n *yaml.Node, path []string, what string) (string, error) {
	n, err := d.deref(n, path)
	if err != nil {
		return "", err
	}
	if n.Kind != yaml.ScalarNode {
		return "", planerrors.NewPlanFormatError(path, fmt.Sprintf("%s must be a scalar (line %d)", what, n.Line), "")
	}
	if n.Tag == "!!null" {
		return "", nil
	}
	return n.Value, nil
}

// expression reads a loop source or guard. An unquoted {name} is parsed by
// YAML as a one-key flow mapping; it is read back as the placeholder text.
func (d *decoder) expression(n *yaml.Node, path []string, what string) (string, error) {
	n, err := d.deref(n, path)
	if err != nil {
		return "", err
	}
	if n.Kind == yaml.MappingNode && n.Style&yaml.FlowStyle != 0 && len(n.Content) == 2 &&
		n.Content[0].Kind == yaml.ScalarNode && n.Content[1].Tag == "!!null" {
		return "{" + n.Content[0].Value + "}", nil
	}
	return d.text(n, path, what)
}

func (d *decoder) arguments(n *yaml.Node, path []string) (map[string]any, error) {
	n, err := d.deref(n, path)
	if err != nil {
		return nil, err
	}
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, planerrors.NewPlanFormatError(path, fmt.Sprintf("arguments must be a mapping (line %d)", n.Line), "")
	}
	var args map[string]any
	if err := n.Decode(&args); err != nil {
		return nil, planerrors.NewPlanFormatError(path, fmt.Sprintf("decoding arguments: %v", err), "")
	}
	return args, nil
}
