package builder

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/release-engineering/iib-sub001/pkg/dispatcher"
	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
	"github.com/release-engineering/iib-sub001/pkg/metrics"
	"github.com/release-engineering/iib-sub001/pkg/relatedbundles"
)

// BundleMetadata is the subset of one bundle's CSV properties the
// recursive-related-bundles resolver needs (SPEC_FULL.md section 4 item 3).
type BundleMetadata struct {
	Version   string
	Replaces  string
	Skips     []string
	SkipRange string
}

// BundleInspector renders a single bundle image and extracts its package
// metadata. *ExecOpm implements it via `opm render ... -o json`.
type BundleInspector interface {
	Inspect(ctx context.Context, pullspec string) (BundleMetadata, error)
}

// RelatedBundlesWriter is the subset of pkg/relatedbundles the resolver
// depends on to persist a resolved closure.
type RelatedBundlesWriter interface {
	Write(ctx context.Context, requestID int64, bundles []relatedbundles.Bundle) error
}

// defaultMaxClosureSize bounds the breadth-first walk so a cyclical
// replaces/skips chain (an operator catalog authoring bug, not something
// this resolver should ever loop forever on) cannot hang a worker.
const defaultMaxClosureSize = 500

// RelatedBundlesResolver implements the supplemented recursive-related-
// bundles request type: starting from one bundle pullspec, it walks the
// replaces chain and skips list, assuming those references are themselves
// resolvable pullspecs in the same catalog namespace.
type RelatedBundlesResolver struct {
	opm      BundleInspector
	writer   RelatedBundlesWriter
	maxNodes int
}

// NewRelatedBundlesResolver constructs a resolver. maxNodes <= 0 uses
// defaultMaxClosureSize.
func NewRelatedBundlesResolver(opm BundleInspector, writer RelatedBundlesWriter, maxNodes int) *RelatedBundlesResolver {
	if maxNodes <= 0 {
		maxNodes = defaultMaxClosureSize
	}
	return &RelatedBundlesResolver{opm: opm, writer: writer, maxNodes: maxNodes}
}

// resolve performs the breadth-first closure walk.
func (r *RelatedBundlesResolver) resolve(ctx context.Context, rootPullspec string) ([]relatedbundles.Bundle, error) {
	visited := map[string]bool{}
	queue := []string{rootPullspec}
	var result []relatedbundles.Bundle

	for len(queue) > 0 && len(result) < r.maxNodes {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		meta, err := r.opm.Inspect(ctx, current)
		if err != nil {
			if current == rootPullspec {
				return nil, err
			}
			// A replaces/skips value opm cannot render is left out of the
			// closure rather than failing the request.
			continue
		}
		result = append(result, relatedbundles.Bundle{
			Pullspec:  current,
			Version:   meta.Version,
			Replaces:  meta.Replaces,
			Skips:     meta.Skips,
			SkipRange: meta.SkipRange,
		})

		if meta.Replaces != "" && !visited[meta.Replaces] {
			queue = append(queue, meta.Replaces)
		}
		for _, skip := range meta.Skips {
			if !visited[skip] {
				queue = append(queue, skip)
			}
		}
	}
	return result, nil
}

// runRelatedBundles implements the recursive-related-bundles request type
// dispatched by api.TypeRecursiveRelatedBundles. It has no catalog
// workspace or pipeline involvement, so it bypasses runPhases/buildContext
// entirely.
func (b *Builder) runRelatedBundles(ctx context.Context, task dispatcher.Task, logger *logrus.Entry) error {
	pullspec := getString(task.RedactedArgs, "from_bundle_image")
	if pullspec == "" {
		err := iiberrors.Validationf("from_bundle_image is required to resolve related bundles")
		b.failSimpleRequest(ctx, task, logger, err)
		return err
	}
	if b.related == nil {
		err := iiberrors.Configf("this IIB instance is not configured to resolve recursive related bundles")
		b.failSimpleRequest(ctx, task, logger, err)
		return err
	}

	b.announceSimpleRequest(ctx, task, "in_progress", "Resolving the related bundles closure")

	bundles, err := b.related.resolve(ctx, pullspec)
	if err != nil {
		b.failSimpleRequest(ctx, task, logger, err)
		return err
	}

	if err := b.related.writer.Write(ctx, task.RequestID, bundles); err != nil {
		b.failSimpleRequest(ctx, task, logger, err)
		return err
	}

	b.announceSimpleRequest(ctx, task, "complete", "The related bundles closure was resolved successfully")
	metrics.BuildOutcomes.WithLabelValues(string(task.ReqType), "complete").Inc()
	return nil
}

// announceSimpleRequest records a state transition and notification for a
// request with no buildContext (currently only recursive-related-bundles).
func (b *Builder) announceSimpleRequest(ctx context.Context, task dispatcher.Task, state, reason string) {
	if err := b.store.AddState(ctx, task.RequestID, state, reason); err != nil {
		logrus.WithField("request_id", task.RequestID).WithError(err).Error("failed to record state transition")
		return
	}
	if reqJSON, err := b.store.GetRequest(ctx, task.RequestID, false); err == nil {
		b.bus.EmitRequestTransition(ctx, reqJSON)
	}
}

func (b *Builder) failSimpleRequest(ctx context.Context, task dispatcher.Task, logger *logrus.Entry, cause error) {
	logger.WithError(cause).Error("recursive related bundles request failed")
	b.announceSimpleRequest(ctx, task, "failed", "Failed to resolve the related bundles closure: "+cause.Error())
	metrics.BuildOutcomes.WithLabelValues(string(task.ReqType), "failed").Inc()
}
