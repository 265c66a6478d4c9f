// Package localexecutor provides the in-process implementation of the
// executor.BlockExecutor interface: it looks the block up in the registry,
// decodes the resolved inputs into the handler's typed input struct, calls
// the handler, and maps the returned struct back onto declared output
// pins.
package localexecutor

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"

	"github.com/vk/agentgridgo/internal/ctxlog"
	"github.com/vk/agentgridgo/internal/executor"
	"github.com/vk/agentgridgo/internal/registry"
	"github.com/vk/agentgridgo/internal/resolver"
)

// Executor implements executor.BlockExecutor against a block registry.
type Executor struct {
	registry *registry.Registry
}

// New creates a local executor over the given registry. The registry is
// expected to have passed Validate already.
func New(r *registry.Registry) *Executor {
	return &Executor{registry: r}
}

// Execute runs one block activation synchronously in-process.
func (e *Executor) Execute(ctx context.Context, blockType string, inputs resolver.InputSet) (executor.OutputSet, error) {
	logger := ctxlog.FromContext(ctx).With("block", blockType)

	b, err := e.registry.Block(blockType)
	if err != nil {
		return nil, err
	}

	callArgs := []reflect.Value{reflect.ValueOf(ctx)}
	fn := reflect.ValueOf(b.Fn)

	if b.NewInput != nil {
		inputStruct := b.NewInput()
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           inputStruct,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, fmt.Errorf("localexecutor: building decoder for %s: %w", blockType, err)
		}
		if err := decoder.Decode(map[string]any(inputs)); err != nil {
			return nil, fmt.Errorf("localexecutor: decoding inputs for %s: %w", blockType, err)
		}
		callArgs = append(callArgs, reflect.ValueOf(inputStruct))
	} else {
		callArgs = append(callArgs, reflect.Zero(fn.Type().In(1)))
	}

	logger.Debug("Calling block handler.")
	results := fn.Call(callArgs)
	if errResult := results[1].Interface(); errResult != nil {
		return nil, errResult.(error)
	}

	outStruct := results[0].Interface()
	if outStruct == nil || (results[0].Kind() == reflect.Ptr && results[0].IsNil()) {
		return executor.OutputSet{}, nil
	}

	outputs := make(map[string]any)
	if err := mapstructure.Decode(outStruct, &outputs); err != nil {
		return nil, fmt.Errorf("localexecutor: encoding outputs for %s: %w", blockType, err)
	}

	// Drop anything the block definition does not declare. Handlers can
	// only ever emit on declared pins.
	for pin := range outputs {
		if _, ok := b.Def.Outputs[pin]; !ok {
			delete(outputs, pin)
		}
	}
	logger.Debug("Block handler finished.", "outputs", len(outputs))
	return outputs, nil
}
