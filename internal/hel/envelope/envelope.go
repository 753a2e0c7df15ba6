// Package envelope defines the NDJSON event envelope Hel emits for every
// event it collects. One envelope becomes one line of newline-delimited
// JSON on the Output Sink (spec §3, §6).
package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is one line of NDJSON output.
type Envelope struct {
	// TS is the event timestamp, taken from the configured timestamp field
	// or one of the default candidates, falling back to now() (spec §4.I.c).
	TS time.Time `json:"-"`

	// LabelKey is the configurable key used for the source label (default
	// "source"); it is not itself serialised as a struct field because its
	// JSON key name varies per source.
	LabelKey   string `json:"-"`
	LabelValue string `json:"-"`

	// Endpoint is the URL that produced the event.
	Endpoint string `json:"endpoint"`

	// Event is the raw parsed node from the API response.
	Event json.RawMessage `json:"event"`

	// Meta carries optional id/cursor/request_id metadata.
	Meta map[string]string `json:"meta,omitempty"`
}

// Validate checks the structural invariants of an Envelope before it is
// serialised. A nil Envelope, an empty Endpoint, or a zero TS are rejected.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("envelope must not be nil")
	}
	if e.Endpoint == "" {
		return fmt.Errorf("endpoint must not be empty")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts must not be zero")
	}
	if len(e.Event) == 0 {
		return fmt.Errorf("event must not be empty")
	}
	return nil
}

// MarshalLine renders the Envelope as a single NDJSON line (including the
// trailing newline). The label key/value pair is merged in manually since
// its JSON key name is configurable per source.
func (e *Envelope) MarshalLine() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("envelope validate: %w", err)
	}

	labelKey := e.LabelKey
	if labelKey == "" {
		labelKey = "source"
	}

	// Build the object in the documented key order (ts, <label>, endpoint,
	// event, meta) for stable, human-diffable output; encoding/json on a
	// map would randomise key order.
	var buf []byte
	buf = append(buf, '{')

	tsJSON, err := json.Marshal(e.TS.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("marshal ts: %w", err)
	}
	buf = append(buf, `"ts":`...)
	buf = append(buf, tsJSON...)

	labelJSON, err := json.Marshal(e.LabelValue)
	if err != nil {
		return nil, fmt.Errorf("marshal label: %w", err)
	}
	keyJSON, err := json.Marshal(labelKey)
	if err != nil {
		return nil, fmt.Errorf("marshal label key: %w", err)
	}
	buf = append(buf, ',')
	buf = append(buf, keyJSON...)
	buf = append(buf, ':')
	buf = append(buf, labelJSON...)

	endpointJSON, err := json.Marshal(e.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("marshal endpoint: %w", err)
	}
	buf = append(buf, `,"endpoint":`...)
	buf = append(buf, endpointJSON...)

	buf = append(buf, `,"event":`...)
	buf = append(buf, e.Event...)

	if len(e.Meta) > 0 {
		metaJSON, err := json.Marshal(e.Meta)
		if err != nil {
			return nil, fmt.Errorf("marshal meta: %w", err)
		}
		buf = append(buf, `,"meta":`...)
		buf = append(buf, metaJSON...)
	}

	buf = append(buf, '}', '\n')
	return buf, nil
}
