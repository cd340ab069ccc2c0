// Package relatedbundles implements the supplemented recursive
// related-bundles feature (SPEC_FULL.md section 4 item 3): persisting the
// resolved replaces/skips/skipRange closure for a bundle and serving it
// back under GET /builds/<id>/related-bundles, with the same pluggable
// local-disk Backend shape pkg/logs uses for request logs.
package relatedbundles

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/release-engineering/iib-sub001/pkg/api"
)

// ErrNotExist is returned by a Backend when no closure has been written
// yet for a request.
var ErrNotExist = errors.New("related bundles artifact does not exist")

// Backend stores and retrieves the JSON closure blob for one request.
type Backend interface {
	Read(ctx context.Context, requestID int64) ([]byte, error)
	Write(ctx context.Context, requestID int64, data []byte) error
	// Prune removes every artifact whose mtime is before cutoffUnix,
	// returning how many it removed.
	Prune(ctx context.Context, cutoffUnix int64) (int, error)
}

// Bundle is one node of a resolved related-bundles closure; it is the
// storage-layer name for api.RelatedBundle, kept as an alias so callers on
// either side of the HTTP boundary share one shape.
type Bundle = api.RelatedBundle

// Store implements the request-scoped read/write half of api.LogStore's
// sibling for this feature.
type Store struct {
	backend Backend
}

// New builds a Store. backend may be nil, meaning the feature is
// unconfigured and every Read returns NotFound.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Read returns the resolved closure for a request, or ErrNotExist via the
// backend if none has been written.
func (s *Store) Read(ctx context.Context, requestID int64) ([]Bundle, error) {
	if s.backend == nil {
		return nil, ErrNotExist
	}
	data, err := s.backend.Read(ctx, requestID)
	if err != nil {
		return nil, err
	}
	var bundles []Bundle
	if err := json.Unmarshal(data, &bundles); err != nil {
		return nil, err
	}
	return bundles, nil
}

// Write persists the resolved closure for a request.
func (s *Store) Write(ctx context.Context, requestID int64, bundles []Bundle) error {
	if s.backend == nil {
		return nil
	}
	data, err := json.Marshal(bundles)
	if err != nil {
		return err
	}
	return s.backend.Write(ctx, requestID, data)
}
