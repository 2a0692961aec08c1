package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Skip reasons recorded in trace events.
const (
	SkipAllPredecessorsSkipped = "all predecessors skipped"
	SkipNoConditionSatisfied   = "no incoming condition satisfied"
)

// ExecutionError wraps a stage failure with the failing node's id.
type ExecutionError struct {
	NodeID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.NodeID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Observer is notified after each executed stage, for metrics.
type Observer func(nodeID, status string, elapsed time.Duration)

// Runner executes a validated DAG in topological order with
// condition-gated edges.
type Runner struct {
	graph    *Graph
	stages   map[string]Stage
	logger   *slog.Logger
	observer Observer
}

// NewRunner instantiates every declared node through the registry.
// Undeclared stage types fail here, before anything runs.
func NewRunner(graph *Graph, registry *Registry, logger *slog.Logger) (*Runner, error) {
	stages := make(map[string]Stage, len(graph.NodeIDs()))
	for _, nodeID := range graph.NodeIDs() {
		cfg, _ := graph.NodeConfigByID(nodeID)
		stage, err := registry.Create(cfg.Type, nodeID, cfg.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to build stage %s: %w", nodeID, err)
		}
		stages[nodeID] = stage
	}
	return &Runner{graph: graph, stages: stages, logger: logger}, nil
}

// WithObserver sets a per-stage completion callback.
func (r *Runner) WithObserver(obs Observer) *Runner {
	r.observer = obs
	return r
}

// Run executes the pipeline. The context is mutated in place; a stage
// failure aborts the run with an ExecutionError and no further stages
// execute. Skipped stages get trace events with the skip reason.
func (r *Runner) Run(ctx context.Context, pctx *Context) error {
	executed := map[string]bool{}
	skipped := map[string]bool{}

	for _, nodeID := range r.graph.TopologicalOrder() {
		if run, reason := r.shouldRun(nodeID, pctx, executed, skipped); !run {
			skipped[nodeID] = true
			pctx.AddTrace(TraceEvent{NodeID: nodeID, Status: TraceSkipped, Error: reason})
			r.logger.Debug("stage skipped",
				slog.String("run_id", pctx.RunID),
				slog.String("stage", nodeID),
				slog.String("reason", reason),
			)
			continue
		}

		stage := r.stages[nodeID]
		start := time.Now()
		err := stage.Run(ctx, pctx)
		elapsed := time.Since(start)

		if err != nil {
			pctx.AddTrace(TraceEvent{
				NodeID:    nodeID,
				Status:    TraceFailed,
				ElapsedMS: elapsed.Milliseconds(),
				Error:     err.Error(),
			})
			r.observe(nodeID, TraceFailed, elapsed)
			r.logger.Error("stage failed",
				slog.String("run_id", pctx.RunID),
				slog.String("stage", nodeID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			return &ExecutionError{NodeID: nodeID, Err: err}
		}

		executed[nodeID] = true
		pctx.AddTrace(TraceEvent{
			NodeID:     nodeID,
			Status:     TraceCompleted,
			ElapsedMS:  elapsed.Milliseconds(),
			OutputKeys: stage.OutputKeys(),
		})
		r.observe(nodeID, TraceCompleted, elapsed)
		r.logger.Info("stage completed",
			slog.String("run_id", pctx.RunID),
			slog.String("stage", nodeID),
			slog.Duration("elapsed", elapsed),
		)
	}

	return nil
}

// shouldRun applies the gating rules: entry nodes always run; a node whose
// live predecessors are all skipped is skipped; otherwise at least one
// completed predecessor's edge condition must be absent or truthy.
// Condition evaluation errors count as unsatisfied.
func (r *Runner) shouldRun(nodeID string, pctx *Context, executed, skipped map[string]bool) (bool, string) {
	preds := r.graph.Predecessors(nodeID)
	if len(preds) == 0 {
		return true, ""
	}

	anyLive := false
	var ns map[string]any

	for _, pred := range preds {
		if skipped[pred.nodeID] {
			continue
		}
		anyLive = true
		if !executed[pred.nodeID] {
			continue
		}
		if pred.condition == "" {
			return true, ""
		}
		if ns == nil {
			ns = pctx.EvalNamespace()
		}
		ok, err := EvaluateCondition(pred.condition, ns)
		if err != nil {
			r.logger.Warn("condition evaluation failed",
				slog.String("run_id", pctx.RunID),
				slog.String("stage", nodeID),
				slog.String("condition", pred.condition),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			return true, ""
		}
	}

	if !anyLive {
		return false, SkipAllPredecessorsSkipped
	}
	return false, SkipNoConditionSatisfied
}

func (r *Runner) observe(nodeID, status string, elapsed time.Duration) {
	if r.observer != nil {
		r.observer(nodeID, status, elapsed)
	}
}
