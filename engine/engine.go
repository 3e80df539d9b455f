package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/avovello/stagerun/invoker"
	"github.com/avovello/stagerun/logger"
	"github.com/avovello/stagerun/model"
	"go.uber.org/zap"
)

const DEFAULT_TASK_TIMEOUT = 30 * time.Second

// PhaseEngine is the single-threaded coordinator of one session. It owns
// sequencing: phases execute strictly in definition order and never two at a
// time for the same session. Tasks inside a phase may run concurrently.
type PhaseEngine struct {
	invoker     invoker.TaskInvoker
	taskTimeout time.Duration
}

func NewPhaseEngine(inv invoker.TaskInvoker, taskTimeout time.Duration) *PhaseEngine {
	if taskTimeout <= 0 {
		taskTimeout = DEFAULT_TASK_TIMEOUT
	}
	return &PhaseEngine{
		invoker:     inv,
		taskTimeout: taskTimeout,
	}
}

// Advance executes the phase at the session's current index to completion or
// suspension, then advances the index, pauses, or terminates the session.
// Calling it on a terminal session is a no-op.
func (e *PhaseEngine) Advance(ctx context.Context, session *model.RunSession) error {
	if session.State.Terminal() {
		return nil
	}
	if session.State != model.SESSION_RUNNING {
		return fmt.Errorf("session %s is %s, resume it with a decision", session.Id, session.State)
	}
	if ctx.Err() != nil {
		session.State = model.SESSION_ABORTED
		return nil
	}
	if session.CurrentPhaseIndex >= len(session.Definition.Phases) {
		session.State = model.SESSION_COMPLETED
		return nil
	}
	phase := session.Definition.Phases[session.CurrentPhaseIndex]
	ps := session.PhaseStateFor(phase.Id)
	ps.Status = model.PHASE_RUNNING

	switch phase.Kind {
	case model.PHASE_KIND_GATE:
		ps.Status = model.PHASE_AWAITING_APPROVAL
		session.State = model.SESSION_PAUSED
		logger.Info("session paused at approval gate", zap.String("session", session.Id), zap.String("phase", phase.Id))
		return nil
	case model.PHASE_KIND_SINGLE, model.PHASE_KIND_FANOUT:
		results, err := e.dispatch(ctx, phase.Capabilities, e.phaseInput(session), 1)
		ps.LastResults = results
		if ctx.Err() != nil {
			session.State = model.SESSION_ABORTED
			return nil
		}
		if err != nil {
			session.State = model.SESSION_FAILED
			logger.Error("unrecoverable task failure", zap.String("session", session.Id), zap.String("phase", phase.Id), zap.Error(err))
			return err
		}
		if !allSuccess(results) {
			session.State = model.SESSION_FAILED
			logger.Info("phase failed", zap.String("session", session.Id), zap.String("phase", phase.Id))
			return nil
		}
		e.completePhase(session, phase, ps, results)
	case model.PHASE_KIND_LOOP:
		outcome, err := e.runLoop(ctx, session, phase, ps)
		if ctx.Err() != nil {
			session.State = model.SESSION_ABORTED
			return nil
		}
		if err != nil {
			session.State = model.SESSION_FAILED
			logger.Error("unrecoverable task failure in loop", zap.String("session", session.Id), zap.String("phase", phase.Id), zap.Error(err))
			return err
		}
		if outcome.Passed {
			e.completePhase(session, phase, ps, outcome.Results)
			return nil
		}
		ps.Status = model.PHASE_EXHAUSTED
		if phase.Loop.OnExhausted == model.ON_EXHAUSTED_ESCALATE {
			session.State = model.SESSION_ESCALATED
		} else {
			session.State = model.SESSION_FAILED
		}
		logger.Info("loop exhausted", zap.String("session", session.Id), zap.String("phase", phase.Id), zap.Int("iterations", ps.IterationCount), zap.String("policy", string(phase.Loop.OnExhausted)))
	default:
		session.State = model.SESSION_FAILED
		return model.DefinitionError{Workflow: session.Definition.Name, Reason: fmt.Sprintf("phase %s has unknown kind %s", phase.Id, phase.Kind)}
	}
	return nil
}

func (e *PhaseEngine) completePhase(session *model.RunSession, phase model.PhaseSpec, ps *model.PhaseState, results []model.TaskResult) {
	for _, result := range results {
		if result.Output != nil {
			key := fmt.Sprintf("%s:%s", phase.Id, result.Capability)
			session.AddArtifact(key, result.Output, phase.Id)
		}
	}
	ps.Status = model.PHASE_COMPLETED
	session.CurrentPhaseIndex++
	if session.CurrentPhaseIndex >= len(session.Definition.Phases) {
		session.State = model.SESSION_COMPLETED
		logger.Info("session completed", zap.String("session", session.Id), zap.String("workflow", session.Definition.Name))
	}
}

// phaseInput assembles the payload every task in the current phase receives:
// the launch input, a read-only view of accumulated artifacts and, after a
// REQUEST_CHANGES decision, the reviewer feedback.
func (e *PhaseEngine) phaseInput(session *model.RunSession) map[string]any {
	input := map[string]any{
		"input":     session.Input,
		"artifacts": session.ArtifactData(),
	}
	if session.Feedback != "" {
		input["feedback"] = session.Feedback
	}
	return input
}

func allSuccess(results []model.TaskResult) bool {
	for _, r := range results {
		if !r.Success() {
			return false
		}
	}
	return true
}
