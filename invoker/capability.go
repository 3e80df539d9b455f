package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/avovello/stagerun/logger"
	"github.com/avovello/stagerun/metadata"
	"github.com/avovello/stagerun/model"
	"github.com/dop251/goja"
	"github.com/oliveagle/jsonpath"
	"go.uber.org/zap"
)

// MetadataInvoker resolves capabilities from their registered definitions and
// executes them in process. SCRIPT capabilities run a javascript expression
// with the input payload bound to $; whatever $ holds afterwards becomes the
// output payload. JSONMAP capabilities resolve $-prefixed jsonpath parameters
// against the payload.
type MetadataInvoker struct {
	metadataService metadata.MetadataService
}

var _ TaskInvoker = new(MetadataInvoker)

func NewMetadataInvoker(metadataService metadata.MetadataService) *MetadataInvoker {
	return &MetadataInvoker{
		metadataService: metadataService,
	}
}

func (m *MetadataInvoker) Invoke(ctx context.Context, invocation model.TaskInvocation) (model.TaskResult, error) {
	capDef, err := m.metadataService.GetCapabilityDefinition(invocation.Capability)
	if err != nil {
		return model.TaskResult{}, fmt.Errorf("capability %s not registered: %w", invocation.Capability, err)
	}
	logger.Info("invoking capability", zap.String("capability", invocation.Capability), zap.Int("attempt", invocation.Attempt))
	// a capability may declare a timeout tighter than the engine default
	if capDef.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(capDef.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	switch capDef.Type {
	case model.CAPABILITY_TYPE_SCRIPT:
		return m.executeScript(ctx, capDef, invocation)
	case model.CAPABILITY_TYPE_JSONMAP:
		return m.executeJsonMap(capDef, invocation)
	}
	return model.TaskResult{}, fmt.Errorf("capability %s has unknown type %s", capDef.Name, capDef.Type)
}

func (m *MetadataInvoker) executeScript(ctx context.Context, capDef *model.CapabilityDefinition, invocation model.TaskInvocation) (model.TaskResult, error) {
	vm := goja.New()
	stop := vmInterrupter(ctx, vm)
	defer stop()
	data, err := json.Marshal(invocation.Input)
	if err != nil {
		return model.TaskResult{}, err
	}
	script := fmt.Sprintf("var $ = %s;\n%s", data, capDef.Expression)
	if _, err := vm.RunString(script); err != nil {
		return FailureResult(invocation, fmt.Sprintf("script error: %v", err)), nil
	}
	val, err := vm.RunString("$")
	if err != nil {
		return FailureResult(invocation, fmt.Sprintf("script error: %v", err)), nil
	}
	output, ok := val.Export().(map[string]any)
	if !ok {
		return FailureResult(invocation, "script did not leave an object in $"), nil
	}
	return SuccessResult(invocation, output), nil
}

// vmInterrupter interrupts a running script when the invocation context is
// done, so a runaway expression can not outlive its deadline.
func vmInterrupter(ctx context.Context, vm *goja.Runtime) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("invocation deadline exceeded")
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (m *MetadataInvoker) executeJsonMap(capDef *model.CapabilityDefinition, invocation model.TaskInvocation) (model.TaskResult, error) {
	output := make(map[string]any)
	resolveParams(invocation.Input, capDef.Parameters, output)
	return SuccessResult(invocation, output), nil
}

func resolveParams(payload map[string]any, params map[string]any, output map[string]any) {
	for k, v := range params {
		switch v := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			output[k] = out
			resolveParams(payload, v, out)
		case string:
			if strings.HasPrefix(v, "$") {
				value, err := jsonpath.JsonPathLookup(payload, v)
				if err == nil {
					output[k] = value
				}
			} else {
				output[k] = v
			}
		default:
			output[k] = v
		}
	}
}
