// Package logs implements the request-logs store behind GET
// /builds/<id>/logs: a pluggable Backend (local disk or S3) plus the
// 404/410 semantics derived from request state and age (spec section
// 4.6, "logs.url"/"logs.expiration"; endpoint table in section 6).
package logs

import (
	"context"
	"errors"
	"time"

	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
)

// ErrNotExist is returned by a Backend when no log blob exists yet for a
// request.
var ErrNotExist = errors.New("log does not exist")

// Backend stores and retrieves the plain-text log blob for one request.
type Backend interface {
	Read(ctx context.Context, requestID int64) ([]byte, error)
	Write(ctx context.Context, requestID int64, data []byte) error
}

// MetadataProvider supplies the request facts the store needs to decide
// 404 vs 410 without depending on pkg/store directly.
type MetadataProvider interface {
	// RequestMeta returns the request's last-updated time and whether it
	// is in a terminal state. exists is false for an unknown id.
	RequestMeta(ctx context.Context, requestID int64) (updatedAt time.Time, terminal bool, exists bool, err error)
}

// Store implements api.LogStore.
type Store struct {
	backend  Backend
	provider MetadataProvider
	ttl      time.Duration
}

// New builds a Store. backend may be nil, meaning no request-logs
// directory/bucket is configured at all (every Read then returns a
// NotFoundError, per spec section 6: "404 if unconfigured").
func New(backend Backend, provider MetadataProvider, ttl time.Duration) *Store {
	return &Store{backend: backend, provider: provider, ttl: ttl}
}

// Read implements api.LogStore.Read.
func (s *Store) Read(ctx context.Context, requestID int64) (string, bool, error) {
	if s.backend == nil {
		return "", false, iiberrors.NotFoundf("request logs are not configured on this server")
	}

	updatedAt, terminal, exists, err := s.provider.RequestMeta(ctx, requestID)
	if err != nil {
		return "", false, err
	}
	if !exists {
		return "", false, iiberrors.NotFoundf("request %d not found", requestID)
	}

	if s.ttl > 0 {
		expiresAt := updatedAt.Add(s.ttl)
		if time.Now().After(expiresAt) {
			return "", true, iiberrors.Gonef("logs for request %d expired at %s", requestID, expiresAt.Format(time.RFC3339))
		}
	}

	data, err := s.backend.Read(ctx, requestID)
	if errors.Is(err, ErrNotExist) {
		if !terminal {
			return "", false, iiberrors.NotFoundf("logs for request %d are not yet available", requestID)
		}
		return "", false, iiberrors.NotFoundf("logs for request %d were not found", requestID)
	}
	if err != nil {
		return "", false, err
	}

	return string(data), false, nil
}

// Configured reports whether a request-logs backend is wired up at all,
// gating whether the public API advertises a "logs" entry (spec section
// 4.6: "logs.url only when the server is configured with a request-logs
// directory").
func (s *Store) Configured() bool {
	return s.backend != nil
}

// TTL returns the configured request-logs lifetime, used to derive
// "logs.expiration" from a request's last-updated timestamp. Zero means
// logs never expire.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Write persists the given log text for a request. Workers call this as
// the build driver progresses; it is not part of the HTTP-facing
// api.LogStore interface.
func (s *Store) Write(ctx context.Context, requestID int64, data []byte) error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Write(ctx, requestID, data)
}
