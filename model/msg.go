package model

type DecisionType string

const DECISION_APPROVE DecisionType = "APPROVE"
const DECISION_REQUEST_CHANGES DecisionType = "REQUEST_CHANGES"
const DECISION_ABORT DecisionType = "ABORT"

type Decision struct {
	Type     DecisionType `json:"type"`
	Feedback string       `json:"feedback,omitempty"`
}

type SessionRunRequest struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// RunReport is the terminal view of a session handed to external renderers.
// The engine does no formatting or file IO itself.
type RunReport struct {
	SessionId   string                 `json:"sessionId"`
	Workflow    string                 `json:"workflow"`
	State       SessionState           `json:"state"`
	Artifacts   map[string]Artifact    `json:"artifacts"`
	PhaseStates map[string]*PhaseState `json:"phaseStates"`
}
