package knowledge

import (
	"context"
	"errors"
)

// ErrNotConfigured is reported by the store used when no driver is set.
var ErrNotConfigured = errors.New("knowledge store not configured")

// Disabled returns a Store that fails every fetch with ErrNotConfigured, so
// workflows fall back exactly as they would on an unreachable store.
func Disabled() Store { return disabledStore{} }

type disabledStore struct{}

func (disabledStore) Fetch(_ context.Context, _ Query) Result {
	return Result{Err: ErrNotConfigured, Source: "none"}
}
