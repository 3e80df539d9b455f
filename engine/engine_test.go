package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avovello/stagerun/invoker"
	"github.com/avovello/stagerun/model"
	"github.com/stretchr/testify/require"
)

func TestPhaseEngine(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"test loop exhausted fails session":       testLoopExhaustedFails,
		"test loop exhausted escalates session":   testLoopExhaustedEscalates,
		"test loop passes on second attempt":      testLoopPassesOnSecondAttempt,
		"test loop body failure triggers retry":   testLoopBodyFailureTriggersRetry,
		"test fan-out partial failure":            testFanOutPartialFailure,
		"test fan-out preserves input order":      testFanOutPreservesOrder,
		"test gate approve advances by one":       testGateApproveAdvancesByOne,
		"test gate request changes revises phase": testGateRequestChangesRevises,
		"test gate abort terminates session":      testGateAbort,
		"test abort mid fan-out":                  testAbortMidFanOut,
		"test terminal session advance is no-op":  testTerminalAdvanceNoop,
		"test unrecoverable error fails session":  testUnrecoverableError,
		"test artifacts thread to later phases":   testArtifactsThread,
	} {
		t.Run(scenario, fn)
	}
}

func okHandler(output map[string]any) invoker.HandlerFunc {
	return func(ctx context.Context, inv model.TaskInvocation) (model.TaskResult, error) {
		return invoker.SuccessResult(inv, output), nil
	}
}

func failHandler(diagnostics string) invoker.HandlerFunc {
	return func(ctx context.Context, inv model.TaskInvocation) (model.TaskResult, error) {
		return invoker.FailureResult(inv, diagnostics), nil
	}
}

func exitHandler(met func(inv model.TaskInvocation) bool) invoker.HandlerFunc {
	return func(ctx context.Context, inv model.TaskInvocation) (model.TaskResult, error) {
		return invoker.SuccessResult(inv, map[string]any{"met": met(inv)}), nil
	}
}

func loopDefinition(maxIterations int, policy model.ExhaustionPolicy) model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Name: "testing-loop",
		Phases: []model.PhaseSpec{
			{
				Id:           "test-and-fix",
				Kind:         model.PHASE_KIND_LOOP,
				Capabilities: []string{"run-tests"},
				Loop: &model.LoopConfig{
					MaxIterations:  maxIterations,
					ExitCapability: "evaluate-tests",
					OnExhausted:    policy,
				},
			},
		},
	}
}

func newSession(def model.WorkflowDefinition) *model.RunSession {
	return model.NewRunSession("test-session", def, map[string]any{"ticket": "BUG-42"})
}

func testLoopExhaustedFails(t *testing.T) {
	registry := invoker.NewRegistry()
	var bodyCalls int32
	registry.Register("run-tests", func(ctx context.Context, inv model.TaskInvocation) (model.TaskResult, error) {
		atomic.AddInt32(&bodyCalls, 1)
		return invoker.SuccessResult(inv, map[string]any{"failures": 2}), nil
	})
	registry.Register("evaluate-tests", exitHandler(func(model.TaskInvocation) bool { return false }))

	eng := NewPhaseEngine(registry, time.Second)
	session := newSession(loopDefinition(3, model.ON_EXHAUSTED_FAIL))
	require.NoError(t, eng.Advance(context.Background(), session))

	require.Equal(t, model.SESSION_FAILED, session.State)
	require.Equal(t, int32(3), atomic.LoadInt32(&bodyCalls))
	ps := session.PhaseStates["test-and-fix"]
	require.Equal(t, model.PHASE_EXHAUSTED, ps.Status)
	require.Equal(t, 3, ps.IterationCount)
	// diagnostic trail from the final attempt is retained
	require.NotEmpty(t, ps.LastResults)
}

func testLoopExhaustedEscalates(t *testing.T) {
	registry := invoker.NewRegistry()
	registry.Register("run-tests", okHandler(map[string]any{}))
	registry.Register("evaluate-tests", exitHandler(func(model.TaskInvocation) bool { return false }))

	eng := NewPhaseEngine(registry, time.Second)
	session := newSession(loopDefinition(2, model.ON_EXHAUSTED_ESCALATE))
	require.NoError(t, eng.Advance(context.Background(), session))

	require.Equal(t, model.SESSION_ESCALATED, session.State)
	require.Equal(t, model.PHASE_EXHAUSTED, session.PhaseStates["test-and-fix"].Status)
}

func testLoopPassesOnSecondAttempt(t *testing.T) {
	registry := invoker.NewRegistry()
	registry.Register("run-tests", okHandler(map[string]any{"report": "ran"}))
	var sawPriorDiagnostics bool
	registry.Register("evaluate-tests", func(ctx context.Context, inv model.TaskInvocation) (model.TaskResult, error) {
		if inv.Attempt == 1 {
			return invoker.SuccessResult(inv, map[string]any{"met": false, "diagnostics": "2 tests failing"}), nil
		}
		_, sawPriorDiagnostics = inv.Input["priorDiagnostics"]
		return invoker.SuccessResult(inv, map[string]any{"met": true}), nil
	})

	eng := NewPhaseEngine(registry, time.Second)
	session := newSession(loopDefinition(3, model.ON_EXHAUSTED_FAIL))
	require.NoError(t, eng.Advance(context.Background(), session))

	require.Equal(t, model.SESSION_COMPLETED, session.State)
	ps := session.PhaseStates["test-and-fix"]
	require.Equal(t, model.PHASE_COMPLETED, ps.Status)
	require.Equal(t, 2, ps.IterationCount)
	// the retry was informed by the failed attempt
	require.True(t, sawPriorDiagnostics)
}

func testLoopBodyFailureTriggersRetry(t *testing.T) {
	registry := invoker.NewRegistry()
	registry.Register("run-tests", func(ctx context.Context, inv model.TaskInvocation) (model.TaskResult, error) {
		if inv.Attempt == 1 {
			return invoker.FailureResult(inv, "compile error"), nil
		}
		return invoker.SuccessResult(inv, map[string]any{}), nil
	})
	registry.Register("evaluate-tests", func(ctx context.Context, inv model.TaskInvocation) (model.TaskResult, error) {
		results := inv.Input["results"].([]any)
		first := results[0].(map[string]any)
		met := first["status"] == string(model.TASK_SUCCESS)
		return invoker.SuccessResult(inv, map[string]any{"met": met}), nil
	})

	eng := NewPhaseEngine(registry, time.Second)
	session := newSession(loopDefinition(3, model.ON_EXHAUSTED_FAIL))
	require.NoError(t, eng.Advance(context.Background(), session))

	require.Equal(t, model.SESSION_COMPLETED, session.State)
	require.Equal(t, 2, session.PhaseStates["test-and-fix"].IterationCount)
}

func fanOutDefinition(capabilities ...string) model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Name: "review-fanout",
		Phases: []model.PhaseSpec{
			{
				Id:           "parallel-review",
				Kind:         model.PHASE_KIND_FANOUT,
				Capabilities: capabilities,
			},
		},
	}
}

func testFanOutPartialFailure(t *testing.T) {
	registry := invoker.NewRegistry()
	registry.Register("style-review", okHandler(map[string]any{"ok": true}))
	registry.Register("security-review", func(ctx context.Context, inv model.TaskInvocation) (model.TaskResult, error) {
		<-ctx.Done()
		return invoker.FailureResult(inv, "should have timed out"), nil
	})
	registry.Register("perf-review", okHandler(map[string]any{"ok": true}))

	eng := NewPhaseEngine(registry, 100*time.Millisecond)
	session := newSession(fanOutDefinition("style-review", "security-review", "perf-review"))
	require.NoError(t, eng.Advance(context.Background(), session))

	require.Equal(t, model.SESSION_FAILED, session.State)
	ps := session.PhaseStates["parallel-review"]
	require.Len(t, ps.LastResults, 3)
	require.Equal(t, model.TASK_SUCCESS, ps.LastResults[0].Status)
	require.Equal(t, model.TASK_TIMEOUT, ps.LastResults[1].Status)
	require.Equal(t, model.TASK_SUCCESS, ps.LastResults[2].Status)
}

func testFanOutPreservesOrder(t *testing.T) {
	registry := invoker.NewRegistry()
	capabilities := []string{"slow-review", "fast-review", "medium-review"}
	delays := map[string]time.Duration{
		"slow-review":   120 * time.Millisecond,
		"fast-review":   0,
		"medium-review": 60 * time.Millisecond,
	}
	for _, capability := range capabilities {
		capability := capability
		registry.Register(capability, func(ctx context.Context, inv model.TaskInvocation) (model.TaskResult, error) {
			time.Sleep(delays[inv.Capability])
			return invoker.SuccessResult(inv, map[string]any{"from": inv.Capability}), nil
		})
	}

	eng := NewPhaseEngine(registry, time.Second)
	session := newSession(fanOutDefinition(capabilities...))
	require.NoError(t, eng.Advance(context.Background(), session))

	require.Equal(t, model.SESSION_COMPLETED, session.State)
	ps := session.PhaseStates["parallel-review"]
	require.Len(t, ps.LastResults, len(capabilities))
	for i, capability := range capabilities {
		require.Equal(t, capability, ps.LastResults[i].Capability)
	}
}

func gatedDefinition() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Name: "feature",
		Phases: []model.PhaseSpec{
			{
				Id:           "implement",
				Kind:         model.PHASE_KIND_LOOP,
				Capabilities: []string{"apply-change"},
				Loop: &model.LoopConfig{
					MaxIterations:  3,
					ExitCapability: "verify-change",
					OnExhausted:    model.ON_EXHAUSTED_FAIL,
				},
			},
			{
				Id:   "code-review",
				Kind: model.PHASE_KIND_GATE,
				Gate: &model.GateConfig{ReviseTarget: -1},
			},
			{
				Id:           "summarize",
				Kind:         model.PHASE_KIND_SINGLE,
				Capabilities: []string{"summarize"},
			},
		},
	}
}

func gatedRegistry() *invoker.Registry {
	registry := invoker.NewRegistry()
	registry.Register("apply-change", okHandler(map[string]any{"patch": "diff"}))
	registry.Register("verify-change", exitHandler(func(model.TaskInvocation) bool { return true }))
	registry.Register("summarize", okHandler(map[string]any{"summary": "done"}))
	return registry
}

func runUntilPaused(t *testing.T, eng *PhaseEngine, session *model.RunSession) {
	for session.State == model.SESSION_RUNNING {
		require.NoError(t, eng.Advance(context.Background(), session))
	}
	require.Equal(t, model.SESSION_PAUSED, session.State)
}

func testGateApproveAdvancesByOne(t *testing.T) {
	eng := NewPhaseEngine(gatedRegistry(), time.Second)
	session := newSession(gatedDefinition())
	runUntilPaused(t, eng, session)
	indexAtGate := session.CurrentPhaseIndex

	require.NoError(t, eng.ApplyDecision(session, model.Decision{Type: model.DECISION_APPROVE}))
	require.Equal(t, indexAtGate+1, session.CurrentPhaseIndex)
	require.Equal(t, model.SESSION_RUNNING, session.State)

	require.NoError(t, eng.Advance(context.Background(), session))
	require.Equal(t, model.SESSION_COMPLETED, session.State)
}

func testGateRequestChangesRevises(t *testing.T) {
	registry := gatedRegistry()
	var feedbackSeen string
	registry.Register("apply-change", func(ctx context.Context, inv model.TaskInvocation) (model.TaskResult, error) {
		if fb, ok := inv.Input["feedback"].(string); ok {
			feedbackSeen = fb
		}
		return invoker.SuccessResult(inv, map[string]any{"patch": "diff"}), nil
	})

	eng := NewPhaseEngine(registry, time.Second)
	session := newSession(gatedDefinition())
	runUntilPaused(t, eng, session)
	require.Equal(t, 1, session.PhaseStates["implement"].IterationCount)

	require.NoError(t, eng.ApplyDecision(session, model.Decision{
		Type:     model.DECISION_REQUEST_CHANGES,
		Feedback: "rename the helper",
	}))
	require.Equal(t, 0, session.CurrentPhaseIndex)
	require.Equal(t, model.SESSION_RUNNING, session.State)
	// revised phase starts with a fresh state, loop counter included
	require.Equal(t, 0, session.PhaseStates["implement"].IterationCount)
	require.Equal(t, model.PHASE_PENDING, session.PhaseStates["implement"].Status)

	require.NoError(t, eng.Advance(context.Background(), session))
	require.Equal(t, "rename the helper", feedbackSeen)
	require.Equal(t, 1, session.PhaseStates["implement"].IterationCount)
	require.Equal(t, model.SESSION_PAUSED, session.State) // back at the gate
}

func testGateAbort(t *testing.T) {
	eng := NewPhaseEngine(gatedRegistry(), time.Second)
	session := newSession(gatedDefinition())
	runUntilPaused(t, eng, session)

	require.NoError(t, eng.ApplyDecision(session, model.Decision{Type: model.DECISION_ABORT}))
	require.Equal(t, model.SESSION_ABORTED, session.State)
	require.Error(t, eng.ApplyDecision(session, model.Decision{Type: model.DECISION_APPROVE}))
}

func testAbortMidFanOut(t *testing.T) {
	registry := invoker.NewRegistry()
	for _, capability := range []string{"deploy-east", "deploy-west"} {
		registry.Register(capability, func(ctx context.Context, inv model.TaskInvocation) (model.TaskResult, error) {
			<-ctx.Done()
			return invoker.FailureResult(inv, "cancelled"), nil
		})
	}

	eng := NewPhaseEngine(registry, 5*time.Second)
	session := newSession(fanOutDefinition("deploy-east", "deploy-west"))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	done := make(chan error, 1)
	go func() {
		done <- eng.Advance(ctx, session)
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("advance did not return after abort")
	}
	require.Equal(t, model.SESSION_ABORTED, session.State)
	require.Empty(t, session.Artifacts)
}

func testTerminalAdvanceNoop(t *testing.T) {
	registry := invoker.NewRegistry()
	var calls int32
	registry.Register("summarize", func(ctx context.Context, inv model.TaskInvocation) (model.TaskResult, error) {
		atomic.AddInt32(&calls, 1)
		return invoker.SuccessResult(inv, nil), nil
	})

	eng := NewPhaseEngine(registry, time.Second)
	def := model.WorkflowDefinition{
		Name: "single",
		Phases: []model.PhaseSpec{
			{Id: "summarize", Kind: model.PHASE_KIND_SINGLE, Capabilities: []string{"summarize"}},
		},
	}
	for _, terminal := range []model.SessionState{model.SESSION_FAILED, model.SESSION_COMPLETED, model.SESSION_ABORTED, model.SESSION_ESCALATED} {
		session := newSession(def)
		session.State = terminal
		require.NoError(t, eng.Advance(context.Background(), session))
		require.Equal(t, terminal, session.State)
	}
	require.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func testUnrecoverableError(t *testing.T) {
	registry := invoker.NewRegistry() // nothing registered
	eng := NewPhaseEngine(registry, time.Second)
	session := newSession(fanOutDefinition("missing-capability"))
	err := eng.Advance(context.Background(), session)
	require.Error(t, err)
	require.Equal(t, model.SESSION_FAILED, session.State)
	require.Len(t, session.PhaseStates["parallel-review"].LastResults, 1)
}

func testArtifactsThread(t *testing.T) {
	registry := invoker.NewRegistry()
	registry.Register("analyze", okHandler(map[string]any{"rootCause": "nil deref"}))
	var artifactsSeen map[string]any
	registry.Register("fix", func(ctx context.Context, inv model.TaskInvocation) (model.TaskResult, error) {
		artifactsSeen = inv.Input["artifacts"].(map[string]any)
		return invoker.SuccessResult(inv, map[string]any{"patched": true}), nil
	})

	eng := NewPhaseEngine(registry, time.Second)
	def := model.WorkflowDefinition{
		Name: "bugfix",
		Phases: []model.PhaseSpec{
			{Id: "analyze", Kind: model.PHASE_KIND_SINGLE, Capabilities: []string{"analyze"}},
			{Id: "fix", Kind: model.PHASE_KIND_SINGLE, Capabilities: []string{"fix"}},
		},
	}
	session := newSession(def)
	require.NoError(t, eng.Advance(context.Background(), session))
	require.NoError(t, eng.Advance(context.Background(), session))

	require.Equal(t, model.SESSION_COMPLETED, session.State)
	require.Contains(t, artifactsSeen, "analyze:analyze")
	require.Contains(t, session.Artifacts, "analyze:analyze")
	require.Contains(t, session.Artifacts, "fix:fix")
	require.Equal(t, "analyze", session.Artifacts["analyze:analyze"].ProducedByPhase)
}

func TestResultSummaries(t *testing.T) {
	results := []model.TaskResult{
		{Capability: "a", Status: model.TASK_SUCCESS, Output: map[string]any{"x": 1}},
		{Capability: "b", Status: model.TASK_FAILED, Diagnostics: "boom"},
	}
	summaries := resultSummaries(results)
	require.Len(t, summaries, 2)
	first := summaries[0].(map[string]any)
	require.Equal(t, "a", first["capability"])
	second := summaries[1].(map[string]any)
	require.Equal(t, string(model.TASK_FAILED), second["status"])
	require.Equal(t, "boom", second["diagnostics"])
}
