// Package api defines the IIB HTTP surface: the polymorphic request model,
// per-endpoint payload validation, pagination, and the httprouter-based
// server that the dispatcher (pkg/dispatcher) feeds into the worker plane.
package api

import "time"

// RequestType is the discriminant stored on every Request row (spec
// section 3). The zero value is never valid on the wire.
type RequestType string

const (
	TypeAdd                     RequestType = "add"
	TypeRM                      RequestType = "rm"
	TypeRegenerateBundle        RequestType = "regenerate-bundle"
	TypeMergeIndexImage         RequestType = "merge-index-image"
	TypeCreateEmptyIndex        RequestType = "create-empty-index"
	TypeFBCOperations           RequestType = "fbc-operations"
	TypeAddDeprecations         RequestType = "add-deprecations"
	TypeRecursiveRelatedBundles RequestType = "recursive-related-bundles"
)

// RequestState is one of the three terminal/non-terminal states a request
// occupies (spec section 3 invariant 1-2).
type RequestState string

const (
	StateInProgress RequestState = "in_progress"
	StateComplete   RequestState = "complete"
	StateFailed     RequestState = "failed"
)

// ValidStateNames returns the sorted list of accepted state names, used
// both for validation messages and for the /builds?state= filter.
func ValidStateNames() []string {
	return []string{string(StateComplete), string(StateFailed), string(StateInProgress)}
}

// DistributionScope enumerates the allowed values for distribution_scope.
type DistributionScope string

const (
	ScopeProd  DistributionScope = "prod"
	ScopeStage DistributionScope = "stage"
	ScopeDev   DistributionScope = "dev"
)

// GraphUpdateMode enumerates the allowed values for graph_update_mode.
type GraphUpdateMode string

const (
	GraphReplaces         GraphUpdateMode = "replaces"
	GraphSemver           GraphUpdateMode = "semver"
	GraphSemverSkipPatch  GraphUpdateMode = "semver-skippatch"
)

// StateHistoryEntry is one row of a request's state history, serialised
// under verbose=true.
type StateHistoryEntry struct {
	State       RequestState `json:"state"`
	StateReason string       `json:"state_reason"`
	Updated     time.Time    `json:"updated"`
}

// LogsInfo carries the log retrieval URL and expiration, present only when
// the server is configured with somewhere to store request logs.
type LogsInfo struct {
	URL        string     `json:"url,omitempty"`
	Expiration *time.Time `json:"expiration,omitempty"`
}

// BatchInfo is the batch envelope nested in a request's public JSON.
type BatchInfo struct {
	ID          int64                  `json:"id"`
	Annotations map[string]interface{} `json:"annotations,omitempty"`
}

// CommonRequest holds the fields shared by every request type (spec
// section 3). Per-type structs embed this and add their own discriminant
// fields; PublicJSON flattens them into the wire shape.
type CommonRequest struct {
	ID                            int64              `json:"id"`
	Type                          RequestType         `json:"request_type"`
	Batch                         *BatchInfo          `json:"batch,omitempty"`
	User                          string              `json:"user,omitempty"`
	State                         RequestState         `json:"state"`
	StateReason                   string              `json:"state_reason"`
	Updated                       time.Time           `json:"updated"`
	StateHistory                  []StateHistoryEntry `json:"state_history,omitempty"`
	Logs                          *LogsInfo           `json:"logs,omitempty"`
	Arches                        []string            `json:"arches"`
	BinaryImage                   string              `json:"binary_image,omitempty"`
	BinaryImageResolved           string              `json:"binary_image_resolved,omitempty"`
	IndexImage                    string              `json:"index_image,omitempty"`
	IndexImageResolved            string              `json:"index_image_resolved,omitempty"`
	InternalIndexImageCopy        string              `json:"internal_index_image_copy,omitempty"`
	InternalIndexImageCopyResolved string             `json:"internal_index_image_copy_resolved,omitempty"`
	BuildTags                     []string            `json:"build_tags,omitempty"`
}

// AddRequest is the add-type row extension (spec section 3). Secrets
// (CNRToken, OverwriteFromIndexToken) are never part of the public JSON;
// see secrets.go.
type AddRequest struct {
	CommonRequest
	FromIndex               string            `json:"from_index,omitempty"`
	FromIndexResolved       string            `json:"from_index_resolved,omitempty"`
	Bundles                 []string          `json:"bundles,omitempty"`
	BundleMapping           map[string][]string `json:"bundle_mapping,omitempty"`
	Organization            string            `json:"organization,omitempty"`
	DistributionScope       DistributionScope `json:"distribution_scope,omitempty"`
	OMPSOperatorVersion     map[string]string `json:"omps_operator_version,omitempty"`
	DeprecationBundles      []string          `json:"deprecation_list,omitempty"`
	ForceBackport           bool              `json:"force_backport,omitempty"`
	CNRToken                string            `json:"-"`
	GraphUpdateMode         GraphUpdateMode   `json:"graph_update_mode,omitempty"`
	CheckRelatedImages      bool              `json:"check_related_images,omitempty"`
	OverwriteFromIndex      bool              `json:"overwrite_from_index,omitempty"`
	OverwriteFromIndexToken string            `json:"-"`
}

// RMRequest is the rm-type row extension.
type RMRequest struct {
	CommonRequest
	FromIndex               string            `json:"from_index,omitempty"`
	FromIndexResolved       string            `json:"from_index_resolved,omitempty"`
	Operators               []string          `json:"operators,omitempty"`
	DistributionScope       DistributionScope `json:"distribution_scope,omitempty"`
	OverwriteFromIndex      bool              `json:"overwrite_from_index,omitempty"`
	OverwriteFromIndexToken string            `json:"-"`
}

// RegenerateBundleRequest is the regenerate-bundle-type row extension.
type RegenerateBundleRequest struct {
	CommonRequest
	FromBundleImage         string            `json:"from_bundle_image,omitempty"`
	FromBundleImageResolved string            `json:"from_bundle_image_resolved,omitempty"`
	BundleImage             string            `json:"bundle_image,omitempty"`
	BundleReplacements      map[string]string `json:"bundle_replacements,omitempty"`
	Organization            string            `json:"organization,omitempty"`
	RelatedBundlesURL       string            `json:"related_bundles_url,omitempty"`
}

// MergeIndexImageRequest is the merge-index-image-type row extension.
type MergeIndexImageRequest struct {
	CommonRequest
	SourceFromIndex         string            `json:"source_from_index,omitempty"`
	SourceFromIndexResolved string            `json:"source_from_index_resolved,omitempty"`
	TargetIndex             string            `json:"target_index,omitempty"`
	TargetIndexResolved     string            `json:"target_index_resolved,omitempty"`
	DeprecationList         []string          `json:"deprecation_list,omitempty"`
	IgnoreBundleOCPVersion  bool              `json:"ignore_bundle_ocp_version,omitempty"`
	DistributionScope       DistributionScope `json:"distribution_scope,omitempty"`
	OverwriteTargetIndex      bool   `json:"overwrite_target_index,omitempty"`
	OverwriteTargetIndexToken string `json:"-"`
}

// CreateEmptyIndexRequest is the create-empty-index-type row extension.
type CreateEmptyIndexRequest struct {
	CommonRequest
	FromIndex         string            `json:"from_index,omitempty"`
	FromIndexResolved string            `json:"from_index_resolved,omitempty"`
	Labels            map[string]string `json:"labels,omitempty"`
	OutputFBC         bool              `json:"output_fbc,omitempty"`
}

// FBCOperationsRequest is the fbc-operations-type row extension.
type FBCOperationsRequest struct {
	CommonRequest
	FromIndex          string            `json:"from_index,omitempty"`
	FromIndexResolved  string            `json:"from_index_resolved,omitempty"`
	FBCFragments       []string          `json:"fbc_fragments,omitempty"`
	FBCFragmentsResolved []string        `json:"fbc_fragments_resolved,omitempty"`
	UsedFBCFragment    bool              `json:"used_fbc_fragment,omitempty"`
	DistributionScope  DistributionScope `json:"distribution_scope,omitempty"`
	// LegacyFBCFragmentID surfaces the pre-migration single-fragment column
	// for rows written before FBC fragments became a set; see SPEC_FULL.md
	// section 6 for why both migrations' columns are unioned onto this type.
	LegacyFBCFragmentID *int64 `json:"legacy_fbc_fragment_id,omitempty"`
}

// AddDeprecationsRequest is the add-deprecations-type row extension.
type AddDeprecationsRequest struct {
	CommonRequest
	FromIndex          string            `json:"from_index,omitempty"`
	FromIndexResolved  string            `json:"from_index_resolved,omitempty"`
	Operators          []string          `json:"operators,omitempty"`
	DeprecationSchemas []string          `json:"deprecation_schemas,omitempty"`
	DistributionScope  DistributionScope `json:"distribution_scope,omitempty"`
}

// RecursiveRelatedBundlesRequest is the supplemented request type
// (SPEC_FULL.md section 4) resolving a bundle's full related-images
// closure recursively.
type RecursiveRelatedBundlesRequest struct {
	CommonRequest
	FromBundleImage         string `json:"from_bundle_image,omitempty"`
	FromBundleImageResolved string `json:"from_bundle_image_resolved,omitempty"`
	Organization            string `json:"organization,omitempty"`
}

// Batch groups an ordered set of requests created together (spec section 3).
type Batch struct {
	ID          int64                  `json:"id"`
	Annotations map[string]interface{} `json:"annotations,omitempty"`
	RequestIDs  []int64                `json:"request_ids"`
}

// Page is the generic envelope for paginated list responses.
type Page struct {
	Items interface{}    `json:"items"`
	Meta  PaginationMeta `json:"meta"`
}
