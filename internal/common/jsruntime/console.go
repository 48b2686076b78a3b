package jsruntime

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func bindConsole(ctx context.Context, vm *goja.Runtime) {
	console := vm.NewObject()
	logAt := func(event func() *zerolog.Event) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			event().Msg(fmt.Sprintf("%v", args))
			return goja.Undefined()
		}
	}
	_ = console.Set("log", logAt(func() *zerolog.Event { return log.Ctx(ctx).Info() }))
	_ = console.Set("error", logAt(func() *zerolog.Event { return log.Ctx(ctx).Error() }))
	_ = vm.Set("console", console)
}
