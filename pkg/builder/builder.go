// Package builder implements the build driver (spec section 4.8, C8): the
// central phase-sequenced algorithm that takes a dispatched task through
// workspace preparation, git resolution, index.db mutation, validation,
// publication, and pipeline-triggered image replication, with failure
// compensation. It implements dispatcher.Runner and composes
// pkg/registryclient, pkg/gitcatalog, pkg/pipelineclient, pkg/notify, and
// pkg/store through narrow interfaces defined here, following this
// codebase's convention of declaring dependency interfaces at the
// consuming package.
package builder

import (
	"context"
	"fmt"
	"time"

	pipelinev1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"

	"github.com/release-engineering/iib-sub001/pkg/api"
	"github.com/release-engineering/iib-sub001/pkg/dispatcher"
	"github.com/release-engineering/iib-sub001/pkg/gitcatalog"
	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
	"github.com/release-engineering/iib-sub001/pkg/iiblog"
	"github.com/release-engineering/iib-sub001/pkg/metrics"
	"github.com/release-engineering/iib-sub001/pkg/notify"
	"github.com/release-engineering/iib-sub001/pkg/pipelineclient"
	"github.com/release-engineering/iib-sub001/pkg/registryclient"
	"github.com/release-engineering/iib-sub001/pkg/store"
)

// Store is the subset of pkg/store the build driver depends on.
type Store interface {
	AddState(ctx context.Context, requestID int64, stateName, reason string) error
	UpdateRequest(ctx context.Context, id int64, patch map[string]interface{}) error
	GetRequest(ctx context.Context, id int64, verbose bool) (map[string]interface{}, error)
	BatchSnapshot(ctx context.Context, batchID int64) ([]store.BatchRequestInfo, map[string]interface{}, error)
}

// RegistryClient is the subset of pkg/registryclient the build driver
// depends on (C2).
type RegistryClient interface {
	Pull(ctx context.Context, ref, baseDir string, auth registryclient.Auth) (string, error)
	Push(ctx context.Context, ref, localPath, mediaType string, annotations map[string]string, auth registryclient.Auth) error
	Digest(ctx context.Context, ref string, auth registryclient.Auth) (string, error)
	Copy(ctx context.Context, srcRefWithDigest, dstRef string, auth registryclient.Auth) error
}

// GitDriver is the subset of pkg/gitcatalog the build driver depends on (C3).
type GitDriver interface {
	Clone(imageRepo, branch, dest string) error
	ConfigureUser(dest, name, email string) error
	CommitAndPush(requestID int64, dest, imageRepo, branch, msg string) error
	CreateMR(requestID int64, dest, imageRepo, branch, msg string) (*gitcatalog.MRDetails, error)
	CloseMR(details *gitcatalog.MRDetails, imageRepo string) error
	RevertLastCommit(requestID int64, imageRepo, branch string) error
	GetLastCommitSHA(dest string) (string, error)
}

// PipelineClient is the subset of pkg/pipelineclient the build driver
// depends on (C4).
type PipelineClient interface {
	FindPipelineRun(ctx context.Context, commitSHA string, retry pipelineclient.RetryConfig) (*pipelinev1.PipelineRun, error)
	WaitForPipelineCompletion(ctx context.Context, name string, timeout time.Duration) (*pipelinev1.PipelineRun, error)
}

// Bus is the subset of pkg/notify the build driver depends on (C5).
type Bus interface {
	EmitRequestTransition(ctx context.Context, requestJSON map[string]interface{})
	EmitBatchTransition(ctx context.Context, t notify.BatchTransition)
}

// Config carries the build driver's tunables, all sourced from
// pkg/config.Config (kept as plain fields here so builder has no compile
// time dependency on the config package's env-parsing internals).
type Config struct {
	BundleWorkerPool      int
	RetryConfig           pipelineclient.RetryConfig
	PipelineTimeout       time.Duration
	IndexDBArtifactRegistry    string
	IndexDBArtifactTemplate    string
	IndexDBArtifactTagTemplate string
	UseImagestreamCache        bool
	Registry                   string
	ImagePushTemplate          string
	CommitterName          string
	CommitterEmail         string
}

// Builder is the C8 build driver.
type Builder struct {
	store    Store
	registry RegistryClient
	git      GitDriver
	pipeline PipelineClient
	bus      Bus
	cache    registryclient.ImageStreamCache
	opm      OpmTool
	related  *RelatedBundlesResolver
	cfg      Config
}

// New constructs a Builder. cache and related may be nil when those
// features are not configured (cache-sync falls back to direct registry
// pulls; the recursive-related-bundles request type becomes unsupported).
func New(st Store, registry RegistryClient, git GitDriver, pipeline PipelineClient, bus Bus, cache registryclient.ImageStreamCache, opm OpmTool, related *RelatedBundlesResolver, cfg Config) *Builder {
	return &Builder{store: st, registry: registry, git: git, pipeline: pipeline, bus: bus, cache: cache, opm: opm, related: related, cfg: cfg}
}

// Run implements dispatcher.Runner. It never returns with the request left
// in a non-terminal state: every path ends by transitioning the request to
// complete or failed (spec section 4.8's state machine), so the returned
// error is purely informational for the queue's logging (pkg/dispatcher's
// worker loop does not itself retry or transition on it).
func (b *Builder) Run(ctx context.Context, task dispatcher.Task) error {
	logger := iiblog.ForRequest(task.RequestID)

	if task.ReqType == api.TypeRecursiveRelatedBundles {
		return b.runRelatedBundles(ctx, task, logger)
	}

	bc, err := b.newBuildContext(ctx, task, logger)
	if err != nil {
		b.transition(ctx, &buildContext{task: task, logger: logger}, "failed", fmt.Sprintf("Failed to prepare request: %v", err))
		return err
	}
	defer bc.cleanup()

	if err := b.runPhases(ctx, bc); err != nil {
		b.compensate(ctx, bc, err)
		b.transition(ctx, bc, "failed", failureReason(err))
		return err
	}

	b.finalize(ctx, bc)
	b.transition(ctx, bc, "complete", "The request completed successfully")
	return nil
}

func failureReason(err error) string {
	if be, ok := err.(*iiberrors.BuildError); ok {
		return fmt.Sprintf("Failed to build the index image: %s", be.Message)
	}
	return fmt.Sprintf("Failed to build the index image: %v", err)
}

// transition records a state change, emits its notification(s), and
// tallies the terminal-state metric. Store/notify failures are logged,
// never propagated: a build's terminal state must not be lost because a
// notification or metric write failed.
func (b *Builder) transition(ctx context.Context, bc *buildContext, state, reason string) {
	if bc == nil {
		return
	}
	if err := b.store.AddState(ctx, bc.task.RequestID, state, reason); err != nil {
		bc.logger.WithError(err).Error("failed to record state transition")
		return
	}

	reqJSON, err := b.store.GetRequest(ctx, bc.task.RequestID, false)
	if err != nil {
		bc.logger.WithError(err).Error("failed to reload request for notification")
	} else {
		b.bus.EmitRequestTransition(ctx, reqJSON)
		if batchID := batchIDOf(reqJSON); batchID > 0 {
			b.emitBatchTransition(ctx, bc, batchID, state)
		}
	}

	if state == "complete" || state == "failed" {
		metrics.BuildOutcomes.WithLabelValues(string(bc.task.ReqType), state).Inc()
	}
}

// batchIDOf extracts the batch id a request's public JSON carries (spec
// section 6, PublicJSON's "batch" field). Every request is created inside
// a batch by store.CreateBatch, so the field is normally present.
func batchIDOf(reqJSON map[string]interface{}) int64 {
	switch v := reqJSON["batch"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case map[string]interface{}:
		if id, ok := v["id"].(int64); ok {
			return id
		}
		if id, ok := v["id"].(float64); ok {
			return int64(id)
		}
	}
	return 0
}

func (b *Builder) emitBatchTransition(ctx context.Context, bc *buildContext, batchID int64, state string) {
	infos, annotations, err := b.store.BatchSnapshot(ctx, batchID)
	if err != nil {
		bc.logger.WithError(err).Error("failed to load batch snapshot for notification")
		return
	}
	states := make([]string, len(infos))
	refs := make([]notify.BatchRequestRef, len(infos))
	for i, info := range infos {
		states[i] = info.State
		refs[i] = notify.BatchRequestRef{ID: info.ID, Organization: info.Organization, Type: info.Type}
	}
	b.bus.EmitBatchTransition(ctx, notify.BatchTransition{
		BatchID:      batchID,
		Annotations:  annotations,
		Requests:     refs,
		State:        store.BatchDerivedState(states),
		User:         bc.task.User,
		NewlyCreated: false,
		Terminal:     store.BatchIsTerminal(states),
	})
}

func getString(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

func getBool(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func getStringSlice(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
