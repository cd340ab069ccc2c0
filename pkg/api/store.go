package api

import (
	"context"
	"time"

	"github.com/release-engineering/iib-sub001/pkg/notify"
)

// ListFilter narrows a /builds listing.
type ListFilter struct {
	State   string
	Batch   int64
	Page    int
	PerPage int
}

// Dispatcher is the subset of pkg/dispatcher the HTTP layer depends on,
// kept as a narrow interface here so pkg/api has no import-time dependency
// on the worker plane (spec section 4.7 items 4-6).
type Dispatcher interface {
	Dispatch(ctx context.Context, reqType RequestType, requestID int64, user string, overwriteFromIndex bool, redactedArgs map[string]interface{}, secrets map[string]string) error
}

// Store is the subset of pkg/store the HTTP layer depends on. Handlers
// never see SQL; they operate entirely through this interface so they can
// be tested against a fake.
type Store interface {
	// CreateBatch persists a batch row and a list of requests under it in
	// one transaction (spec section 4.7: every request belongs to a batch,
	// even a single-request submission).
	CreateBatch(ctx context.Context, user string, annotations map[string]interface{}, items []BatchItem) (batchID int64, requestIDs []int64, err error)

	// GetRequest loads a single request's full public JSON.
	GetRequest(ctx context.Context, id int64, verbose bool) (map[string]interface{}, error)

	// ListRequests loads a page of requests' public JSON plus the total
	// count used to build pagination metadata.
	ListRequests(ctx context.Context, filter ListFilter, verbose bool) (items []map[string]interface{}, total int, err error)

	// UpdateRequest applies a worker-only PATCH (arches, resolved images,
	// bundle_mapping, state) to a request.
	UpdateRequest(ctx context.Context, id int64, patch map[string]interface{}) error

	// AddState appends a new state transition for requestID, used directly
	// by the HTTP layer when a dispatch failure must mark a request failed
	// (spec section 4.7 item 6).
	AddState(ctx context.Context, requestID int64, stateName, reason string) error

	// BatchNotifyInfo loads a batch's per-request refs and states plus its
	// annotations, giving the HTTP layer what it needs to build a batch
	// notification envelope without importing pkg/store (spec section 4.5).
	BatchNotifyInfo(ctx context.Context, batchID int64) (refs []notify.BatchRequestRef, states []string, annotations map[string]interface{}, err error)

	// Ping verifies database connectivity for /healthcheck.
	Ping(ctx context.Context) error
}

// BatchItem is one per-request payload inside a batch submission, paired
// with the already-validated type it was parsed as.
type BatchItem struct {
	Type    RequestType
	Payload interface{}
}

// LogStore is the subset of pkg/logs the HTTP layer depends on for
// GET /builds/<id>/logs and for populating "logs" on a request's public
// JSON (spec section 4.6).
type LogStore interface {
	Read(ctx context.Context, requestID int64) (text string, expired bool, err error)

	// Configured reports whether a request-logs backend is wired up.
	Configured() bool

	// TTL returns the configured request-logs lifetime, used to derive
	// "logs.expiration" from a request's last-updated timestamp.
	TTL() time.Duration
}

// Bus is the subset of pkg/notify the HTTP layer depends on to announce a
// request or batch's creation (spec section 4.5: the batch envelope's
// "newly created" flag is only ever true at this point).
type Bus interface {
	EmitRequestTransition(ctx context.Context, requestJSON map[string]interface{})
	EmitBatchTransition(ctx context.Context, t notify.BatchTransition)
}

// RelatedBundlesStore is the subset of pkg/relatedbundles the HTTP layer
// depends on for GET /builds/<id>/related-bundles (SPEC_FULL.md section 4
// item 3).
type RelatedBundlesStore interface {
	Read(ctx context.Context, requestID int64) ([]RelatedBundle, error)
}

// RelatedBundle mirrors relatedbundles.Bundle without importing that
// package from pkg/api (the HTTP layer stays decoupled from storage
// internals, per this codebase's narrow-interface convention).
type RelatedBundle struct {
	Pullspec  string   `json:"pullspec"`
	Version   string   `json:"version,omitempty"`
	Replaces  string   `json:"replaces,omitempty"`
	Skips     []string `json:"skips,omitempty"`
	SkipRange string   `json:"skip_range,omitempty"`
}
