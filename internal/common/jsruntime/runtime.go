// Package jsruntime executes manifest-declared JavaScript hooks inside the
// gateway. The only hook today is the optional per-action input transform,
// which runs before input validation under a hard timeout.
package jsruntime

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// JSFunction is a compiled JavaScript function.
type JSFunction struct {
	code string
}

// Options controls execution of a JSFunction.
type Options struct {
	Timeout time.Duration // max execution time; defaults to 500ms
}

// New compiles a JS function from source. The source must evaluate to a
// function expression.
func New(ctx context.Context, jsCode string) (*JSFunction, error) {
	vm := goja.New()
	bindConsole(ctx, vm)
	v, err := vm.RunString(fmt.Sprintf("(%s)", jsCode))
	if err != nil {
		return nil, ErrInvalidJSFunction.Err(err)
	}
	if _, ok := goja.AssertFunction(v); !ok {
		return nil, ErrInvalidJSFunction.Msg("script is not a function")
	}
	return &JSFunction{code: jsCode}, nil
}

// Run executes the function with a single JSON-object argument. Each run uses
// a fresh VM to isolate state between invocations.
func (j *JSFunction) Run(ctx context.Context, input map[string]any, opts Options) (map[string]any, error) {
	vm := goja.New()
	bindConsole(ctx, vm)

	v, err := vm.RunString(fmt.Sprintf("(%s)", j.code))
	if err != nil {
		return nil, ErrJSExecutionError.Err(err)
	}
	fn, _ := goja.AssertFunction(v)

	if opts.Timeout == 0 {
		opts.Timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	done := make(chan struct{})
	var result goja.Value
	var callErr error

	go func() {
		defer func() {
			if r := recover(); r != nil {
				callErr = fmt.Errorf("panic: %v", r)
			}
			close(done)
		}()
		result, callErr = fn(goja.Undefined(), vm.ToValue(input))
	}()

	select {
	case <-ctx.Done():
		vm.Interrupt("timeout")
		return nil, ErrJSRuntimeTimeout
	case <-done:
		if callErr != nil {
			if jsErr, ok := callErr.(*goja.Exception); ok {
				return nil, ErrJSRuntimeError.Msg(jsErr.Value().String())
			}
			return nil, ErrJSExecutionError.Err(callErr)
		}
	}

	exported := result.Export()
	resMap, ok := exported.(map[string]any)
	if !ok {
		return nil, ErrJSExecutionError.Msg(fmt.Sprintf("expected function to return object, got %T", exported))
	}
	return resMap, nil
}
