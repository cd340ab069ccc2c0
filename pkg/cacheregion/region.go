// Package cacheregion memoizes content-addressable image-inspection calls
// (spec section 4.1). A call is only eligible for caching when at least
// one of its arguments contains "@sha256:"; anything else bypasses both
// read and write. Backends are pluggable (in-memory or Redis); failures
// degrade to a direct call rather than propagating.
package cacheregion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Backend is the minimal key-value contract a cache implementation must
// satisfy; Region builds the eligibility and key-derivation logic on top
// of it so backends stay interchangeable.
type Backend interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

// Region is the process-wide, concurrency-safe get-or-set cache described
// in spec section 5's shared-resources list.
type Region struct {
	backend Backend
}

// New wraps a Backend in the eligibility/key-derivation policy.
func New(backend Backend) *Region {
	return &Region{backend: backend}
}

// Key derives the cache key for a function name plus its argument list. It
// is exported so callers can compute it without a live backend (e.g. for
// testing cache population independent of the backend in use).
func Key(functionName string, args ...string) string {
	h := sha256.New()
	h.Write([]byte(functionName))
	for _, a := range args {
		h.Write([]byte{0})
		h.Write([]byte(a))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// eligible reports whether any argument is content-addressable
// (contains "@sha256:"), the sole criterion for cache participation.
func eligible(args ...string) bool {
	for _, a := range args {
		if strings.Contains(a, "@sha256:") {
			return true
		}
	}
	return false
}

// GetOrSet returns the cached value for (functionName, args) if present and
// eligible; otherwise it calls compute, stores the result when eligible,
// and returns it. Backend faults during Get or Set are swallowed and the
// call degrades to invoking compute directly (spec section 4.1, Failure).
func (r *Region) GetOrSet(ctx context.Context, functionName string, args []string, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if !eligible(args...) {
		return compute(ctx)
	}

	key := Key(functionName, args...)
	if value, found, err := r.backend.Get(ctx, key); err == nil && found {
		return value, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	// Best-effort write: a failed Set never fails the call, it just means
	// the next lookup recomputes (no negative caching either way).
	_ = r.backend.Set(ctx, key, value)

	return value, nil
}
