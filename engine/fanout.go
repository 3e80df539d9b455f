package engine

import (
	"context"
	"sync"
	"time"

	"github.com/avovello/stagerun/model"
	"github.com/google/uuid"
)

// dispatch starts one invocation per capability concurrently and joins on
// all of them. The returned slice is aligned index-for-index with the input
// list regardless of completion order. A failing invocation never cancels
// its siblings; every slot runs to completion or deadline. The returned
// error is the first unrecoverable invoker error, with all results intact.
func (e *PhaseEngine) dispatch(ctx context.Context, capabilities []string, input map[string]any, attempt int) ([]model.TaskResult, error) {
	results := make([]model.TaskResult, len(capabilities))
	errs := make([]error, len(capabilities))
	var wg sync.WaitGroup
	for i, capability := range capabilities {
		wg.Add(1)
		go func(slot int, capability string) {
			defer wg.Done()
			results[slot], errs[slot] = e.invokeOne(ctx, capability, input, attempt)
		}(i, capability)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// invokeOne creates the TaskInvocation, applies its deadline and calls the
// invoker. Exceeding the deadline yields a TIMEOUT result; cancellation of
// the phase context yields a FAILED result. Both are ordinary failures; only
// an invoker error is unrecoverable.
func (e *PhaseEngine) invokeOne(ctx context.Context, capability string, input map[string]any, attempt int) (model.TaskResult, error) {
	invocation := model.TaskInvocation{
		Id:         uuid.New().String(),
		Capability: capability,
		Input:      input,
		Attempt:    attempt,
		Deadline:   time.Now().Add(e.taskTimeout),
	}
	cctx, cancel := context.WithDeadline(ctx, invocation.Deadline)
	defer cancel()

	type response struct {
		result model.TaskResult
		err    error
	}
	ch := make(chan response, 1)
	go func() {
		result, err := e.invoker.Invoke(cctx, invocation)
		ch <- response{result: result, err: err}
	}()

	select {
	case resp := <-ch:
		if resp.err != nil {
			return model.TaskResult{
				InvocationId: invocation.Id,
				Capability:   capability,
				Status:       model.TASK_FAILED,
				Diagnostics:  resp.err.Error(),
			}, resp.err
		}
		result := resp.result
		if result.InvocationId == "" {
			result.InvocationId = invocation.Id
		}
		if result.Capability == "" {
			result.Capability = capability
		}
		return result, nil
	case <-cctx.Done():
		status := model.TASK_TIMEOUT
		diagnostics := "invocation deadline exceeded"
		if ctx.Err() != nil {
			status = model.TASK_FAILED
			diagnostics = "invocation cancelled"
		}
		return model.TaskResult{
			InvocationId: invocation.Id,
			Capability:   capability,
			Status:       status,
			Diagnostics:  diagnostics,
		}, nil
	}
}
