package hooks

import (
	"bytes"
	"io"
	"net/http"

	"github.com/dop251/goja"
)

// setupFetch installs a minimal synchronous fetch(url, init) global, gated
// by allow_network (spec §4.F). It performs the request immediately and
// returns the result object directly rather than through a real Promise —
// goja has no event loop in this build, so "await fetch(...)" inside a
// hook works only because our call dispatcher treats any plain return
// value as already resolved (see awaitValue).
func setupFetch(vm *goja.Runtime, client *http.Client) {
	vm.Set("fetch", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.NewTypeError("fetch requires a url argument"))
		}
		url := call.Arguments[0].String()

		method := http.MethodGet
		var body io.Reader
		headers := map[string]string{}
		if len(call.Arguments) > 1 {
			init := call.Arguments[1].ToObject(vm)
			if m := init.Get("method"); m != nil && !goja.IsUndefined(m) {
				method = m.String()
			}
			if b := init.Get("body"); b != nil && !goja.IsUndefined(b) {
				body = bytes.NewReader([]byte(b.String()))
			}
			if h := init.Get("headers"); h != nil && !goja.IsUndefined(h) {
				if obj, ok := h.Export().(map[string]any); ok {
					for k, v := range obj {
						if s, ok := v.(string); ok {
							headers[k] = s
						}
					}
				}
			}
		}

		req, err := http.NewRequest(method, url, body)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			panic(vm.NewGoError(err))
		}

		result := vm.NewObject()
		result.Set("status", resp.StatusCode)
		result.Set("ok", resp.StatusCode >= 200 && resp.StatusCode < 300)
		result.Set("text", func(goja.FunctionCall) goja.Value {
			return vm.ToValue(string(respBody))
		})
		result.Set("json", func(goja.FunctionCall) goja.Value {
			parsed, err := vm.RunString("(" + string(respBody) + ")")
			if err != nil {
				panic(vm.NewGoError(err))
			}
			return parsed
		})
		return result
	})
}
