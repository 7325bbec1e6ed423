package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stevehiehn/taskdsl/internal/plan"
)

// runContext holds the state of one Execute call. Engines are shared; run
// contexts are not.
type runContext struct {
	*Engine
	ctx       context.Context
	result    *Result
	logger    *zap.Logger
	iteration []int
}

func (e *Engine) newRunContext(ctx context.Context, p *plan.Plan) *runContext {
	runID := e.runID
	if runID == "" {
		runID = uuid.New().String()
	}
	return &runContext{
		Engine: e,
		ctx:    ctx,
		result: &Result{
			RunID:     runID,
			Task:      p.Task,
			StartedAt: e.clock(),
			Steps:     []StepResult{},
		},
		logger: e.logger.With(zap.String("run_id", runID)),
	}
}

// begin appends a trace entry and returns its index.
func (rc *runContext) begin(path []string, kind plan.Kind) int {
	sr := StepResult{
		Path: append([]string(nil), path...),
		Kind: kind,
	}
	if len(rc.iteration) > 0 {
		sr.Iteration = append([]int(nil), rc.iteration...)
	}
	rc.result.Steps = append(rc.result.Steps, sr)
	return len(rc.result.Steps) - 1
}

func (rc *runContext) trace(i int) *StepResult {
	return &rc.result.Steps[i]
}
