package engine

import (
	"context"
	"fmt"

	"github.com/avovello/stagerun/logger"
	"github.com/avovello/stagerun/model"
	"go.uber.org/zap"
)

type LoopOutcome struct {
	Passed     bool
	Results    []model.TaskResult
	Iterations int
}

// runLoop drives the bounded informed-retry loop. Each attempt runs the body
// capabilities (fanning out when there is more than one), then asks the exit
// capability to judge the attempt. Diagnostics from a failed attempt are fed
// into the next one so a retry is never blind. Iterations are strictly
// sequential; attempt n+1 starts only after attempt n has been judged.
func (e *PhaseEngine) runLoop(ctx context.Context, session *model.RunSession, phase model.PhaseSpec, ps *model.PhaseState) (LoopOutcome, error) {
	loop := phase.Loop
	baseInput := e.phaseInput(session)
	var diagnostics []string
	for attempt := 1; attempt <= loop.MaxIterations; attempt++ {
		input := cloneInput(baseInput)
		if len(diagnostics) > 0 {
			input["priorDiagnostics"] = diagnostics
		}
		results, err := e.dispatch(ctx, phase.Capabilities, input, attempt)
		ps.IterationCount = attempt
		ps.LastResults = results
		if err != nil || ctx.Err() != nil {
			return LoopOutcome{Iterations: attempt}, err
		}

		exitInput := cloneInput(baseInput)
		exitInput["results"] = resultSummaries(results)
		if len(diagnostics) > 0 {
			exitInput["priorDiagnostics"] = diagnostics
		}
		exitResult, err := e.invokeOne(ctx, loop.ExitCapability, exitInput, attempt)
		ps.LastResults = append(results, exitResult)
		if err != nil || ctx.Err() != nil {
			return LoopOutcome{Iterations: attempt}, err
		}

		if exitConditionMet(exitResult) {
			logger.Info("loop exit condition met", zap.String("session", session.Id), zap.String("phase", phase.Id), zap.Int("attempt", attempt))
			return LoopOutcome{Passed: true, Results: results, Iterations: attempt}, nil
		}
		diagnostics = collectDiagnostics(results, exitResult)
		logger.Info("loop attempt did not meet exit condition", zap.String("session", session.Id), zap.String("phase", phase.Id), zap.Int("attempt", attempt), zap.Int("maxIterations", loop.MaxIterations))
	}
	return LoopOutcome{Iterations: loop.MaxIterations}, nil
}

// exitConditionMet reads the judgment of the exit capability: a successful
// result whose output carries met=true.
func exitConditionMet(result model.TaskResult) bool {
	if !result.Success() {
		return false
	}
	met, ok := result.Output["met"].(bool)
	return ok && met
}

// resultSummaries renders body results into plain data the exit capability
// can inspect.
func resultSummaries(results []model.TaskResult) []any {
	summaries := make([]any, 0, len(results))
	for _, r := range results {
		summaries = append(summaries, map[string]any{
			"capability":  r.Capability,
			"status":      string(r.Status),
			"output":      r.Output,
			"diagnostics": r.Diagnostics,
		})
	}
	return summaries
}

func collectDiagnostics(results []model.TaskResult, exitResult model.TaskResult) []string {
	var diagnostics []string
	for _, r := range results {
		if r.Diagnostics != "" {
			diagnostics = append(diagnostics, fmt.Sprintf("%s: %s", r.Capability, r.Diagnostics))
		}
	}
	if exitResult.Diagnostics != "" {
		diagnostics = append(diagnostics, fmt.Sprintf("%s: %s", exitResult.Capability, exitResult.Diagnostics))
	}
	if reason, ok := exitResult.Output["diagnostics"].(string); ok && reason != "" {
		diagnostics = append(diagnostics, reason)
	}
	return diagnostics
}

func cloneInput(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}
