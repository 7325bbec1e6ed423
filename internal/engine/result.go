package engine

import (
	"time"

	planerrors "github.com/stevehiehn/taskdsl/internal/errors"
	"github.com/stevehiehn/taskdsl/internal/plan"
)

// Step statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped" // guard evaluated false
)

// Result is the structured output of a plan execution.
type Result struct {
	RunID      string            `json:"run_id"`
	Task       string            `json:"task"`
	Success    bool              `json:"success"`
	StartedAt  time.Time         `json:"started_at"`
	Duration   string            `json:"duration"`
	Context    map[string]any    `json:"context"`
	Steps      []StepResult      `json:"steps"`
	FailedStep []string          `json:"failed_step,omitempty"`
	Error      *planerrors.Error `json:"error,omitempty"`
}

// StepResult describes one visit of a step. Steps inside loops are visited
// once per iteration.
type StepResult struct {
	Path       []string  `json:"path"`
	Kind       plan.Kind `json:"kind"`
	Function   string    `json:"function,omitempty"`
	OutputVar  string    `json:"output_var,omitempty"`
	Status     string    `json:"status"`
	Duration   string    `json:"duration,omitempty"`
	Iteration  []int     `json:"iteration,omitempty"`  // loop indices, outermost first
	Iterations *int      `json:"iterations,omitempty"` // loops only
	Outcome    *bool     `json:"outcome,omitempty"`    // conditions only
}

// Calls returns the action visits in execution order.
func (r *Result) Calls() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Kind == plan.KindAction && s.Status == StatusSuccess {
			out = append(out, s)
		}
	}
	return out
}
