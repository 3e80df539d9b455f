package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArtifactsAreWriteOnce(t *testing.T) {
	session := NewRunSession("s-1", WorkflowDefinition{Name: "wf"}, nil)
	key := session.AddArtifact("impl:apply", map[string]any{"rev": 1}, "impl")
	require.Equal(t, "impl:apply", key)

	// a re-executed phase never overwrites; it appends under a revision key
	key = session.AddArtifact("impl:apply", map[string]any{"rev": 2}, "impl")
	require.Equal(t, "impl:apply#2", key)
	require.Equal(t, map[string]any{"rev": 1}, session.Artifacts["impl:apply"].Content)
	require.Equal(t, map[string]any{"rev": 2}, session.Artifacts["impl:apply#2"].Content)
}

func TestTerminalStates(t *testing.T) {
	for _, state := range []SessionState{SESSION_COMPLETED, SESSION_FAILED, SESSION_ABORTED, SESSION_ESCALATED} {
		require.True(t, state.Terminal())
	}
	for _, state := range []SessionState{SESSION_RUNNING, SESSION_PAUSED} {
		require.False(t, state.Terminal())
	}
}

func TestResetPhaseState(t *testing.T) {
	session := NewRunSession("s-1", WorkflowDefinition{Name: "wf"}, nil)
	ps := session.PhaseStateFor("impl")
	ps.IterationCount = 3
	ps.Status = PHASE_EXHAUSTED

	session.ResetPhaseState("impl")
	require.Equal(t, 0, session.PhaseStates["impl"].IterationCount)
	require.Equal(t, PHASE_PENDING, session.PhaseStates["impl"].Status)
}
