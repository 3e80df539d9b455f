package invoker

import (
	"context"
	"fmt"
	"sync"

	"github.com/avovello/stagerun/model"
)

// TaskInvoker executes one unit of delegated work. Capability names are
// opaque to the engine; how a capability is implemented lives behind this
// interface. A returned error is unrecoverable and aborts the enclosing
// phase; ordinary failures are reported through TaskResult.Status.
type TaskInvoker interface {
	Invoke(ctx context.Context, invocation model.TaskInvocation) (model.TaskResult, error)
}

type HandlerFunc func(ctx context.Context, invocation model.TaskInvocation) (model.TaskResult, error)

// Registry is an in-process TaskInvoker dispatching on capability name.
// Used for embedded capabilities and in tests.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

var _ TaskInvoker = new(Registry)

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

func (r *Registry) Register(capability string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[capability] = handler
}

func (r *Registry) Invoke(ctx context.Context, invocation model.TaskInvocation) (model.TaskResult, error) {
	r.mu.RLock()
	handler, ok := r.handlers[invocation.Capability]
	r.mu.RUnlock()
	if !ok {
		return model.TaskResult{}, fmt.Errorf("capability %s not registered", invocation.Capability)
	}
	return handler(ctx, invocation)
}

// SuccessResult builds a successful TaskResult for an invocation.
func SuccessResult(invocation model.TaskInvocation, output map[string]any) model.TaskResult {
	return model.TaskResult{
		InvocationId: invocation.Id,
		Capability:   invocation.Capability,
		Status:       model.TASK_SUCCESS,
		Output:       output,
	}
}

// FailureResult builds a failed TaskResult carrying diagnostics.
func FailureResult(invocation model.TaskInvocation, diagnostics string) model.TaskResult {
	return model.TaskResult{
		InvocationId: invocation.Id,
		Capability:   invocation.Capability,
		Status:       model.TASK_FAILED,
		Diagnostics:  diagnostics,
	}
}
