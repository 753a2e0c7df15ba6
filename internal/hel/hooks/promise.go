package hooks

import (
	"fmt"

	"github.com/dop251/goja"
)

// awaitValue resolves a hook's return value. A plain value passes through
// unchanged; a thenable (any object exposing a callable "then") has its
// then(resolve, reject) invoked with callbacks that capture the outcome
// synchronously. This only supports thenables that settle synchronously —
// there is no event loop here, so a hook cannot park on real asynchronous
// I/O inside fetch() and expect it to resolve later.
func awaitValue(vm *goja.Runtime, v goja.Value) (goja.Value, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return v, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v, nil
	}
	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		return v, nil
	}

	var resolved goja.Value
	var rejected error
	resolve := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			resolved = call.Arguments[0]
		}
		return goja.Undefined()
	})
	reject := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			rejected = fmt.Errorf("hook promise rejected: %v", call.Arguments[0].Export())
		} else {
			rejected = fmt.Errorf("hook promise rejected")
		}
		return goja.Undefined()
	})

	if _, err := then(obj, resolve, reject); err != nil {
		return nil, err
	}
	if rejected != nil {
		return nil, rejected
	}
	if resolved == nil {
		return goja.Undefined(), nil
	}
	return resolved, nil
}
