package model

import "fmt"

type SessionState string

const SESSION_RUNNING SessionState = "RUNNING"
const SESSION_PAUSED SessionState = "PAUSED"
const SESSION_COMPLETED SessionState = "COMPLETED"
const SESSION_FAILED SessionState = "FAILED"
const SESSION_ABORTED SessionState = "ABORTED"
const SESSION_ESCALATED SessionState = "ESCALATED"

// Terminal reports whether no further phase execution may happen for a
// session in this state. State transitions are monotonic: once terminal,
// a session never resurrects.
func (s SessionState) Terminal() bool {
	switch s {
	case SESSION_COMPLETED, SESSION_FAILED, SESSION_ABORTED, SESSION_ESCALATED:
		return true
	}
	return false
}

type PhaseStatus string

const PHASE_PENDING PhaseStatus = "PENDING"
const PHASE_RUNNING PhaseStatus = "RUNNING"
const PHASE_AWAITING_APPROVAL PhaseStatus = "AWAITING_APPROVAL"
const PHASE_COMPLETED PhaseStatus = "COMPLETED"
const PHASE_EXHAUSTED PhaseStatus = "EXHAUSTED"

type PhaseState struct {
	IterationCount int          `json:"iterationCount"`
	LastResults    []TaskResult `json:"lastResults,omitempty"`
	Status         PhaseStatus  `json:"status"`
}

// Artifact is a write-once, phase-attributed output value retained for
// downstream phases and the final report.
type Artifact struct {
	Key             string         `json:"key"`
	Content         map[string]any `json:"content"`
	ProducedByPhase string         `json:"producedByPhase"`
}

// RunSession is the state of one workflow execution. It is mutated only by
// the single driver goroutine advancing it; everyone else reads snapshots
// from storage.
type RunSession struct {
	Id                string                 `json:"id"`
	Definition        WorkflowDefinition     `json:"definition"`
	CurrentPhaseIndex int                    `json:"currentPhaseIndex"`
	PhaseStates       map[string]*PhaseState `json:"phaseStates"`
	State             SessionState           `json:"state"`
	Input             map[string]any         `json:"input,omitempty"`
	Feedback          string                 `json:"feedback,omitempty"`
	Artifacts         map[string]Artifact    `json:"artifacts"`
}

func NewRunSession(id string, def WorkflowDefinition, input map[string]any) *RunSession {
	return &RunSession{
		Id:          id,
		Definition:  def,
		State:       SESSION_RUNNING,
		Input:       input,
		PhaseStates: make(map[string]*PhaseState),
		Artifacts:   make(map[string]Artifact),
	}
}

func (s *RunSession) PhaseStateFor(phaseId string) *PhaseState {
	ps, ok := s.PhaseStates[phaseId]
	if !ok {
		ps = &PhaseState{Status: PHASE_PENDING}
		s.PhaseStates[phaseId] = ps
	}
	return ps
}

// ResetPhaseState discards any prior state for the phase so a revised phase
// re-executes from scratch, loop counters included.
func (s *RunSession) ResetPhaseState(phaseId string) {
	s.PhaseStates[phaseId] = &PhaseState{Status: PHASE_PENDING}
}

// AddArtifact appends to the artifact mapping without ever overwriting an
// existing key. A phase re-executed after a REQUEST_CHANGES decision writes
// under a revision-suffixed key instead.
func (s *RunSession) AddArtifact(key string, content map[string]any, phaseId string) string {
	finalKey := key
	for rev := 2; ; rev++ {
		if _, exists := s.Artifacts[finalKey]; !exists {
			break
		}
		finalKey = fmt.Sprintf("%s#%d", key, rev)
	}
	s.Artifacts[finalKey] = Artifact{
		Key:             finalKey,
		Content:         content,
		ProducedByPhase: phaseId,
	}
	return finalKey
}

// ArtifactData flattens the artifact mapping for use as task input. Later
// phases read earlier artifacts through this view, never the mapping itself.
func (s *RunSession) ArtifactData() map[string]any {
	out := make(map[string]any, len(s.Artifacts))
	for k, a := range s.Artifacts {
		out[k] = a.Content
	}
	return out
}
