// Package dedupe implements the bounded LRU event-id dedupe (spec §4.G).
package dedupe

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/gjson"

	"github.com/timescale/hel/internal/hel/config"
)

// ErrMissingID is returned by Seen when dedupe.id_path is configured but
// the event has no value at that path. The caller (internal/hel/polltick)
// decides the outcome per the source's on_parse_error setting.
var ErrMissingID = errors.New("dedupe: event has no value at id_path")

const defaultCapacity = 100_000

// Deduper tracks event ids seen during the process lifetime, per source.
type Deduper struct {
	idPath string
	cache  *lru.Cache[string, struct{}]
}

// New builds a Deduper from spec. A Deduper with an empty IDPath is
// disabled: Seen always reports "not seen" without touching the cache.
func New(spec config.DedupeSpec) (*Deduper, error) {
	if spec.IDPath == "" {
		return &Deduper{}, nil
	}

	capacity := spec.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	return &Deduper{idPath: spec.IDPath, cache: cache}, nil
}

// Enabled reports whether id-based dedupe is active for this source.
func (d *Deduper) Enabled() bool {
	return d.idPath != ""
}

// Seen extracts event's id at id_path and reports whether it has already
// been observed, recording it as seen when it is new. A disabled Deduper
// always returns seen=false.
func (d *Deduper) Seen(event []byte) (seen bool, id string, err error) {
	if !d.Enabled() {
		return false, "", nil
	}

	v := gjson.GetBytes(event, d.idPath)
	if !v.Exists() {
		return false, "", ErrMissingID
	}
	id = v.String()

	if d.cache.Contains(id) {
		return true, id, nil
	}
	d.cache.Add(id, struct{}{})
	return false, id, nil
}

// Len reports the number of ids currently tracked, for health reporting.
func (d *Deduper) Len() int {
	if d.cache == nil {
		return 0
	}
	return d.cache.Len()
}
