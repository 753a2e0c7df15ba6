// Package statestore implements the durable per-source key/value State
// Store (spec §4.A): cursor, next_url, watermark, skip, and any key a hook's
// commitState returns.
package statestore

import (
	"context"
	"maps"
)

// Store is the contract every backend (memory, sqlite, remote) implements.
type Store interface {
	// Get returns the current key/value map for sourceID. A source with no
	// prior writes returns an empty, non-nil map.
	Get(ctx context.Context, sourceID string) (map[string]string, error)

	// Set atomically replaces the listed keys for sourceID; keys not present
	// in delta are left untouched.
	Set(ctx context.Context, sourceID string, delta map[string]string) error

	// Delete removes all state for sourceID.
	Delete(ctx context.Context, sourceID string) error

	// List returns every source ID that has state recorded.
	List(ctx context.Context) ([]string, error)

	// Export dumps the full store contents, keyed by source ID.
	Export(ctx context.Context) (map[string]map[string]string, error)

	// Import atomically replaces the full store contents with dump.
	Import(ctx context.Context, dump map[string]map[string]string) error

	// Close releases any resources held by the backend.
	Close() error
}

// CloneState returns a defensive copy of a state map, since callers may
// retain the returned map past the next mutation.
func CloneState(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}
