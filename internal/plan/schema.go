package plan

// Plan is a named task and its ordered tree of steps.
type Plan struct {
	Task        string
	Description string
	Steps       []Step
}

// Kind names the three step shapes.
type Kind string

const (
	KindAction    Kind = "action"
	KindCondition Kind = "condition"
	KindLoop      Kind = "loop"
)

// Step is one node of the plan tree. It is implemented only by *Action,
// *Condition and *Loop.
type Step interface {
	StepName() string
	Kind() Kind
	// Children returns the nested steps; nil for actions.
	Children() []Step
	sealed()
}

// Action invokes a registry function with resolved arguments and optionally
// binds the result to OutputVar.
type Action struct {
	Name        string
	Description string
	Function    string
	Arguments   map[string]any
	OutputVar   string
}

// Condition runs Steps in the enclosing scope when Condition is truthy.
type Condition struct {
	Name        string
	Description string
	Condition   string
	Steps       []Step
}

// Loop runs Steps once per element of Over, each time in a fresh child scope
// with Variable bound to the element.
type Loop struct {
	Name        string
	Description string
	Variable    string
	Over        string
	Steps       []Step
}

func (a *Action) StepName() string    { return a.Name }
func (c *Condition) StepName() string { return c.Name }
func (l *Loop) StepName() string      { return l.Name }

func (*Action) Kind() Kind    { return KindAction }
func (*Condition) Kind() Kind { return KindCondition }
func (*Loop) Kind() Kind      { return KindLoop }

func (*Action) Children() []Step      { return nil }
func (c *Condition) Children() []Step { return c.Steps }
func (l *Loop) Children() []Step      { return l.Steps }

func (*Action) sealed()    {}
func (*Condition) sealed() {}
func (*Loop) sealed()      {}
