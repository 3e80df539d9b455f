package engine

import (
	"fmt"

	"github.com/avovello/stagerun/logger"
	"github.com/avovello/stagerun/model"
	"go.uber.org/zap"
)

// ApplyDecision resumes a session paused at an approval gate. APPROVE moves
// past the gate. REQUEST_CHANGES jumps back to the gate's revise target (the
// immediately preceding phase when none is configured) and resets every phase
// from the target through the gate so they re-execute from scratch. ABORT is
// terminal.
func (e *PhaseEngine) ApplyDecision(session *model.RunSession, decision model.Decision) error {
	if session.State.Terminal() {
		return fmt.Errorf("session %s is already %s", session.Id, session.State)
	}
	if session.State != model.SESSION_PAUSED {
		return fmt.Errorf("session %s is not awaiting a decision", session.Id)
	}
	phase := session.Definition.Phases[session.CurrentPhaseIndex]
	if phase.Kind != model.PHASE_KIND_GATE {
		return fmt.Errorf("session %s is not paused at a gate", session.Id)
	}
	ps := session.PhaseStateFor(phase.Id)

	switch decision.Type {
	case model.DECISION_APPROVE:
		ps.Status = model.PHASE_COMPLETED
		session.Feedback = ""
		session.CurrentPhaseIndex++
		if session.CurrentPhaseIndex >= len(session.Definition.Phases) {
			session.State = model.SESSION_COMPLETED
		} else {
			session.State = model.SESSION_RUNNING
		}
		logger.Info("gate approved", zap.String("session", session.Id), zap.String("phase", phase.Id))
	case model.DECISION_REQUEST_CHANGES:
		target := phase.Gate.ReviseTarget
		if target < 0 {
			target = session.CurrentPhaseIndex - 1
		}
		for i := target; i <= session.CurrentPhaseIndex; i++ {
			session.ResetPhaseState(session.Definition.Phases[i].Id)
		}
		session.Feedback = decision.Feedback
		session.CurrentPhaseIndex = target
		session.State = model.SESSION_RUNNING
		logger.Info("gate requested changes", zap.String("session", session.Id), zap.String("phase", phase.Id), zap.Int("reviseTarget", target))
	case model.DECISION_ABORT:
		session.State = model.SESSION_ABORTED
		logger.Info("gate aborted session", zap.String("session", session.Id), zap.String("phase", phase.Id))
	default:
		return fmt.Errorf("unknown decision type %s", decision.Type)
	}
	return nil
}
