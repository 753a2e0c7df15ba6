package polltick

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/timescale/hel/internal/hel/config"
)

// defaultArrayKeys is the fallback search order for locating the event
// array in a response body when no parseResponse hook is defined (spec
// §4.I.c).
var defaultArrayKeys = []string{"items", "data", "events", "logs", "entries"}

// defaultTimestampKeys is the fallback search order for an event's
// timestamp when transform.timestamp_field is unset.
var defaultTimestampKeys = []string{"published", "timestamp", "ts", "created_at"}

// extractEvents locates the event array in body and returns each element
// as its own raw JSON value, in document order. It never applies a
// parseResponse hook; that substitution happens one layer up, in
// polltick.go, since the hook result arrives pre-extracted.
//
// A body whose top level is itself an array, empty or not, always
// succeeds with however many elements it holds (spec §9's priority list
// starts there). Failing that, each of defaultArrayKeys is checked in
// order; finding none of them as an array is a parse failure, not zero
// events — a genuinely empty result only comes from an array that is
// itself empty.
func extractEvents(body []byte) ([]json.RawMessage, error) {
	root := gjson.ParseBytes(body)

	if root.IsArray() {
		return arrayElements(root), nil
	}

	for _, key := range defaultArrayKeys {
		v := root.Get(key)
		if v.Exists() && v.IsArray() {
			return arrayElements(v), nil
		}
	}

	return nil, fmt.Errorf("no event array found at top level or under %v", defaultArrayKeys)
}

func arrayElements(v gjson.Result) []json.RawMessage {
	arr := v.Array()
	out := make([]json.RawMessage, 0, len(arr))
	for _, el := range arr {
		out = append(out, json.RawMessage(el.Raw))
	}
	return out
}

// envelope is the NDJSON record shape spec §6 defines:
// {"ts":"<RFC3339>","<labelKey>":"<labelValue>","endpoint":"<url>","event":{...},"meta":{...}}
type envelope struct {
	TS       string          `json:"ts"`
	Endpoint string          `json:"endpoint"`
	Event    json.RawMessage `json:"event"`
	Meta     envelopeMeta    `json:"meta,omitempty"`
	LabelKey string          `json:"-"`
	Label    string          `json:"-"`
}

type envelopeMeta struct {
	ID string `json:"id,omitempty"`
}

// buildEnvelope resolves ts (transform.timestamp_field, then the default
// key search order, then now()) and meta.id (transform.id_field) for one
// extracted event.
func buildEnvelope(source *config.Source, endpoint string, event json.RawMessage, now time.Time) envelope {
	env := envelope{
		Endpoint: endpoint,
		Event:    event,
		LabelKey: source.LabelKey(),
		Label:    source.LabelValue(),
	}

	env.TS = resolveTimestamp(event, source.Transform.TimestampField, now)

	if source.Transform.IDField != "" {
		if v := gjson.GetBytes(event, source.Transform.IDField); v.Exists() {
			env.Meta.ID = v.String()
		}
	}

	return env
}

func resolveTimestamp(event json.RawMessage, field string, now time.Time) string {
	if field != "" {
		if v := gjson.GetBytes(event, field); v.Exists() {
			return v.String()
		}
	}
	for _, key := range defaultTimestampKeys {
		if v := gjson.GetBytes(event, key); v.Exists() {
			return v.String()
		}
	}
	return now.UTC().Format(time.RFC3339)
}

// marshal renders env as one NDJSON line (no trailing newline), in the
// field order spec §6 shows: ts, label, endpoint, event, meta. A plain
// struct tag can't express a dynamic label key, so the line is built by
// hand rather than via a single json.Marshal of a struct.
func (env envelope) marshal() ([]byte, error) {
	ts, err := json.Marshal(env.TS)
	if err != nil {
		return nil, err
	}
	labelKey, err := json.Marshal(env.LabelKey)
	if err != nil {
		return nil, err
	}
	label, err := json.Marshal(env.Label)
	if err != nil {
		return nil, err
	}
	endpoint, err := json.Marshal(env.Endpoint)
	if err != nil {
		return nil, err
	}
	event := env.Event
	if len(event) == 0 {
		event = json.RawMessage("null")
	}
	meta, err := json.Marshal(env.Meta)
	if err != nil {
		return nil, err
	}

	var buf []byte
	buf = append(buf, `{"ts":`...)
	buf = append(buf, ts...)
	buf = append(buf, ',')
	buf = append(buf, labelKey...)
	buf = append(buf, ':')
	buf = append(buf, label...)
	buf = append(buf, `,"endpoint":`...)
	buf = append(buf, endpoint...)
	buf = append(buf, `,"event":`...)
	buf = append(buf, event...)
	buf = append(buf, `,"meta":`...)
	buf = append(buf, meta...)
	buf = append(buf, '}')
	return buf, nil
}
