package polltick

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/timescale/hel/internal/hel/config"
)

// statedelta accumulates the keys a tick will write to the state store
// (spec §4.I.5): the pagination engine's cursor/next_url/skip bookkeeping,
// the running watermark and incremental-from maxima across the tick's
// events, and whatever a commitState hook returns last (it wins over the
// declarative computation for any key it also sets).
type statedelta struct {
	fromEngine map[string]string
	watermark  string
	incrFrom   string
	fromHook   map[string]string
}

func newStateDelta() *statedelta {
	return &statedelta{fromEngine: map[string]string{}}
}

// observeEvent folds one emitted event's watermark_field and
// event_timestamp_path into the running maxima. Both are treated as
// lexicographically comparable strings, which holds for RFC3339
// timestamps and monotonically increasing numeric-string cursors alike.
func (d *statedelta) observeEvent(w *config.WatermarkSpec, event json.RawMessage) {
	if w == nil {
		return
	}
	if w.Field != "" {
		if v := gjson.GetBytes(event, w.Field); v.Exists() {
			if s := v.String(); s > d.watermark {
				d.watermark = s
			}
		}
	}
	if w.EventTimestampPath != "" {
		if v := gjson.GetBytes(event, w.EventTimestampPath); v.Exists() {
			if s := v.String(); s > d.incrFrom {
				d.incrFrom = s
			}
		}
	}
}

// merge folds in the pagination engine's per-page state bookkeeping
// (cursor/next_url/skip keys, named directly by callers rather than
// hardcoded here since each engine owns different key names).
func (d *statedelta) merge(kv map[string]string) {
	for k, v := range kv {
		d.fromEngine[k] = v
	}
}

// setHookResult records a commitState hook's return value, which
// overrides the declarative computation key-for-key.
func (d *statedelta) setHookResult(kv map[string]string) {
	d.fromHook = kv
}

// resolve produces the final delta to pass to statestore.Set.
func (d *statedelta) resolve(w *config.WatermarkSpec) map[string]string {
	out := map[string]string{}
	for k, v := range d.fromEngine {
		out[k] = v
	}
	if w != nil {
		if w.Field != "" && d.watermark != "" {
			out["watermark"] = d.watermark
		}
		if w.EventTimestampPath != "" && d.incrFrom != "" {
			key := w.IncrementalFromKey
			if key == "" {
				key = "incremental_from"
			}
			out[key] = d.incrFrom
		}
	}
	for k, v := range d.fromHook {
		out[k] = v
	}
	return out
}
