package model

import "strings"

type PhaseKind string

const PHASE_KIND_SINGLE PhaseKind = "SINGLE"
const PHASE_KIND_FANOUT PhaseKind = "FANOUT"
const PHASE_KIND_LOOP PhaseKind = "LOOP"
const PHASE_KIND_GATE PhaseKind = "GATE"

func ToPhaseKind(kind string) (PhaseKind, bool) {
	switch {
	case strings.EqualFold(kind, string(PHASE_KIND_SINGLE)):
		return PHASE_KIND_SINGLE, true
	case strings.EqualFold(kind, string(PHASE_KIND_FANOUT)):
		return PHASE_KIND_FANOUT, true
	case strings.EqualFold(kind, string(PHASE_KIND_LOOP)):
		return PHASE_KIND_LOOP, true
	case strings.EqualFold(kind, string(PHASE_KIND_GATE)):
		return PHASE_KIND_GATE, true
	}
	return "", false
}

type ExhaustionPolicy string

const ON_EXHAUSTED_ESCALATE ExhaustionPolicy = "ESCALATE"
const ON_EXHAUSTED_FAIL ExhaustionPolicy = "FAIL"

// WorkflowDefinition is an ordered list of phases. It is immutable once a
// session has been started from it.
type WorkflowDefinition struct {
	Name   string      `json:"name"`
	Phases []PhaseSpec `json:"phases"`
}

type PhaseSpec struct {
	Id           string      `json:"id"`
	Kind         PhaseKind   `json:"kind"`
	Capabilities []string    `json:"capabilities"`
	Loop         *LoopConfig `json:"loop,omitempty"`
	Gate         *GateConfig `json:"gate,omitempty"`
}

type LoopConfig struct {
	MaxIterations  int              `json:"maxIterations"`
	ExitCapability string           `json:"exitCapability"`
	OnExhausted    ExhaustionPolicy `json:"onExhausted"`
}

// GateConfig carries the phase index a REQUEST_CHANGES decision jumps back to.
// ReviseTarget -1 means the phase immediately preceding the gate.
type GateConfig struct {
	ReviseTarget int `json:"reviseTarget"`
}

type CapabilityType string

const CAPABILITY_TYPE_SCRIPT CapabilityType = "SCRIPT"
const CAPABILITY_TYPE_JSONMAP CapabilityType = "JSONMAP"

type CapabilityDefinition struct {
	Name           string         `json:"name"`
	Type           CapabilityType `json:"type"`
	Expression     string         `json:"expression"`
	Parameters     map[string]any `json:"parameters"`
	TimeoutSeconds int            `json:"timeout_seconds"`
}
