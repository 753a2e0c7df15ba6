package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dop251/goja"

	"github.com/timescale/hel/common/redact"
)

// setupConsole installs a console global forwarding log/warn/error to the
// host logger as structured records with a hook_console field (spec §4.F).
// Messages are redacted the same way outbound request logging is, since a
// hook can print whatever it has access to (auth headers, cookies).
func setupConsole(vm *goja.Runtime, secrets []string, logger *slog.Logger) {
	console := vm.NewObject()
	register := func(name string, level slog.Level) {
		console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = fmt.Sprintf("%v", arg.Export())
			}
			msg := redact.String(strings.Join(parts, " "), secrets...)
			logger.Log(context.Background(), level, msg, "hook_console", name)
			return goja.Undefined()
		})
	}
	register("log", slog.LevelInfo)
	register("warn", slog.LevelWarn)
	register("error", slog.LevelError)
	vm.Set("console", console)
}
