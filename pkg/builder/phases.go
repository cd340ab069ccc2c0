package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/release-engineering/iib-sub001/pkg/api"
	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
	"github.com/release-engineering/iib-sub001/pkg/metrics"
	"github.com/release-engineering/iib-sub001/pkg/pipelineclient"
	"github.com/release-engineering/iib-sub001/pkg/registryclient"
)

// indexDBMediaType tags the single-file index.db artifact pushed and
// pulled through pkg/registryclient (spec section 4.2).
const indexDBMediaType = "application/vnd.iib.index-db.v1"

// phase announces the in_progress reason for one build-driver step (spec
// section 4.8: "announce in_progress with a phase reason at each step"),
// runs it, and records its duration.
func (b *Builder) phase(ctx context.Context, bc *buildContext, name iiberrors.BuildPhase, reason string, fn func(ctx context.Context, bc *buildContext) error) error {
	b.transition(ctx, bc, "in_progress", reason)
	start := time.Now()
	err := fn(ctx, bc)
	metrics.BuildPhaseDuration.WithLabelValues(string(bc.task.ReqType), string(name)).Observe(time.Since(start).Seconds())
	return err
}

// runPhases drives steps 2-10 of spec section 4.8; step 1 (prepare
// workspace) already ran in newBuildContext, and step 11 (finalize) runs
// in Run after runPhases returns with no error.
func (b *Builder) runPhases(ctx context.Context, bc *buildContext) error {
	steps := []struct {
		phase  iiberrors.BuildPhase
		reason string
		fn     func(ctx context.Context, bc *buildContext) error
	}{
		{iiberrors.PhaseResolveGit, "Resolving the catalog git repository", b.phaseResolveGit},
		{iiberrors.PhaseFetchIndexDB, "Fetching the index database", b.phaseFetchIndexDB},
		{iiberrors.PhaseApplyMutation, "Applying the requested mutation", b.phaseApplyMutation},
		{iiberrors.PhaseValidateBundles, "Validating bundles", b.phaseValidateBundles},
		{iiberrors.PhasePushIndexDB, "Pushing the index database", b.phasePushIndexDB},
		{iiberrors.PhaseWriteMetadata, "Writing build metadata", b.phaseWriteMetadata},
		{iiberrors.PhaseCommitAndTrigger, "Committing and triggering the build pipeline", b.phaseCommitAndTrigger},
		{iiberrors.PhaseWaitForPipeline, "Waiting for the build pipeline to complete", b.phaseWaitForPipeline},
		{iiberrors.PhaseReplicateImage, "Replicating the built image", b.phaseReplicateImage},
	}
	for _, step := range steps {
		if err := b.phase(ctx, bc, step.phase, step.reason, step.fn); err != nil {
			return err
		}
	}
	return nil
}

func renderArtifactRepo(template, registry, imageName string) string {
	r := strings.NewReplacer("{registry}", registry, "{image_name}", imageName)
	return r.Replace(template)
}

// phaseResolveGit implements spec section 4.8 step 2.
func (b *Builder) phaseResolveGit(ctx context.Context, bc *buildContext) error {
	if bc.repoURL == "" {
		return iiberrors.Build(iiberrors.PhaseResolveGit, "no index pullspec was supplied to resolve a catalog repository from", nil)
	}
	if err := b.git.Clone(bc.repoURL, bc.branch, bc.catalogDir); err != nil {
		return err
	}
	sha, err := b.git.GetLastCommitSHA(bc.catalogDir)
	if err != nil {
		return iiberrors.Build(iiberrors.PhaseResolveGit, "failed to read the checked-out commit", err)
	}
	bc.lastCommitSHA = sha
	return nil
}

// phaseFetchIndexDB implements spec section 4.8 step 3.
func (b *Builder) phaseFetchIndexDB(ctx context.Context, bc *buildContext) error {
	bc.artifactRepo = renderArtifactRepo(b.cfg.IndexDBArtifactTemplate, b.cfg.IndexDBArtifactRegistry, bc.imageName)

	artifactRef, err := registryclient.Pullspec(b.cfg.IndexDBArtifactTemplate, b.cfg.IndexDBArtifactTagTemplate, b.cfg.IndexDBArtifactRegistry, bc.imageName, bc.fromIndex)
	if err != nil {
		return err
	}

	dir, err := registryclient.FetchIndexDB(ctx, b.registry, b.cache, b.cfg.UseImagestreamCache, artifactRef, bc.branch, bc.artifactDir, bc.auth)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, "index.db")
	if _, err := os.Stat(path); err != nil {
		return iiberrors.Build(iiberrors.PhaseFetchIndexDB, "index.db does not exist in the fetched artifact", err)
	}
	bc.indexDBPath = path
	return nil
}

// phaseApplyMutation implements spec section 4.8 step 4.
func (b *Builder) phaseApplyMutation(ctx context.Context, bc *buildContext) error {
	req := MutationRequest{
		ReqType:            bc.task.ReqType,
		CatalogDir:         bc.catalogDir,
		IndexDBPath:        bc.indexDBPath,
		BinaryImage:        bc.binaryImage,
		Bundles:            bc.bundles,
		Operators:          bc.operators,
		FromBundleImage:    bc.fromBundleImage,
		SourceFromIndex:    bc.sourceFromIndex,
		TargetIndex:        bc.targetIndex,
		FBCFragments:       bc.fbcFragments,
		DeprecationSchemas: bc.deprecationSchemas,
		GraphUpdateMode:    bc.graphUpdateMode,
	}
	return b.opm.ApplyMutation(ctx, req)
}

// phaseValidateBundles implements spec section 4.8 step 5 and the bounded
// worker pool of spec section 5: add-only, a single failure fails the
// request.
func (b *Builder) phaseValidateBundles(ctx context.Context, bc *buildContext) error {
	if bc.task.ReqType != api.TypeAdd || len(bc.bundles) == 0 {
		return nil
	}
	limit := b.cfg.BundleWorkerPool
	if limit <= 0 {
		limit = 5
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, bundle := range bc.bundles {
		bundle := bundle
		g.Go(func() error {
			return b.opm.ValidateBundle(gctx, bundle)
		})
	}
	return g.Wait()
}

// phasePushIndexDB implements spec section 4.8 step 6.
func (b *Builder) phasePushIndexDB(ctx context.Context, bc *buildContext) error {
	requestTag := fmt.Sprintf("%s-%s-%d", bc.imageName, bc.branch, bc.task.RequestID)
	requestRef := fmt.Sprintf("%s:%s", bc.artifactRepo, requestTag)
	if err := b.registry.Push(ctx, requestRef, bc.indexDBPath, indexDBMediaType, nil, bc.auth); err != nil {
		return err
	}

	if !bc.overwriteFromIndex {
		return nil
	}

	v4xTag := fmt.Sprintf("%s-%s", bc.imageName, bc.branch)
	v4xRef := fmt.Sprintf("%s:%s", bc.artifactRepo, v4xTag)
	digest, err := b.registry.Digest(ctx, v4xRef, bc.auth)
	if err != nil {
		return iiberrors.Build(iiberrors.PhasePushIndexDB, "failed to capture the v4.x tag digest before overwriting it", err)
	}
	bc.v4xRef = v4xRef
	bc.v4xDigest = digest

	if err := b.registry.Push(ctx, v4xRef, bc.indexDBPath, indexDBMediaType, nil, bc.auth); err != nil {
		return err
	}
	bc.v4xOverwritten = true
	return nil
}

// phaseWriteMetadata implements spec section 4.8 step 7.
func (b *Builder) phaseWriteMetadata(ctx context.Context, bc *buildContext) error {
	opmVersion, err := b.opm.Version(ctx)
	if err != nil {
		bc.logger.WithError(err).Warn("failed to read opm version for build metadata")
	}

	arches := append([]string(nil), bc.arches...)
	sort.Strings(arches)

	metadata := map[string]interface{}{
		"opm_version": opmVersion,
		"labels": map[string]string{
			"version":            bc.branch,
			"distribution_scope": bc.distributionScope,
		},
		"binary_image": bc.binaryImage,
		"request_id":   bc.task.RequestID,
		"arches":       arches,
	}
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return iiberrors.Build(iiberrors.PhaseWriteMetadata, "failed to encode build metadata", err)
	}
	if err := os.WriteFile(filepath.Join(bc.catalogDir, "iib-build-metadata.json"), data, 0o644); err != nil {
		return iiberrors.Build(iiberrors.PhaseWriteMetadata, "failed to write build metadata", err)
	}
	return nil
}

// phaseCommitAndTrigger implements spec section 4.8 step 8: direct commit
// when overwrite_from_index, otherwise a throw-away merge request.
func (b *Builder) phaseCommitAndTrigger(ctx context.Context, bc *buildContext) error {
	if err := b.git.ConfigureUser(bc.catalogDir, b.cfg.CommitterName, b.cfg.CommitterEmail); err != nil {
		return err
	}

	if bc.overwriteFromIndex {
		if err := b.git.CommitAndPush(bc.task.RequestID, bc.catalogDir, bc.repoURL, bc.branch, ""); err != nil {
			return err
		}
		bc.directCommitMade = true
	} else {
		mr, err := b.git.CreateMR(bc.task.RequestID, bc.catalogDir, bc.repoURL, bc.branch, "")
		if err != nil {
			return err
		}
		bc.mrDetails = mr
	}

	sha, err := b.git.GetLastCommitSHA(bc.catalogDir)
	if err != nil {
		return iiberrors.Build(iiberrors.PhaseCommitAndTrigger, "failed to read HEAD after committing", err)
	}
	bc.lastCommitSHA = sha
	return nil
}

// phaseWaitForPipeline implements spec section 4.8 step 9.
func (b *Builder) phaseWaitForPipeline(ctx context.Context, bc *buildContext) error {
	run, err := b.pipeline.FindPipelineRun(ctx, bc.lastCommitSHA, b.cfg.RetryConfig)
	if err != nil {
		return err
	}
	completed, err := b.pipeline.WaitForPipelineCompletion(ctx, run.Name, b.cfg.PipelineTimeout)
	if err != nil {
		return err
	}
	imageURL, err := pipelineclient.GetPipelineRunImageURL(completed)
	if err != nil {
		return err
	}
	bc.imageURL = imageURL
	return nil
}

// phaseReplicateImage implements spec section 4.8 step 10: copy every
// manifest from the pipeline's built destination to build_tags ∪
// {request_id} on the IIB registry.
func (b *Builder) phaseReplicateImage(ctx context.Context, bc *buildContext) error {
	destRepo := renderArtifactRepo(b.cfg.ImagePushTemplate, b.cfg.Registry, bc.imageName)
	tags := append([]string{fmt.Sprintf("%d", bc.task.RequestID)}, bc.buildTags...)
	for _, tag := range tags {
		dst := fmt.Sprintf("%s:%s", destRepo, tag)
		if err := b.registry.Copy(ctx, bc.imageURL, dst, bc.auth); err != nil {
			return err
		}
	}
	return nil
}

// finalize implements spec section 4.8 step 11's MR path: closing the MR
// is best effort and never blocks the transition to complete.
func (b *Builder) finalize(ctx context.Context, bc *buildContext) {
	if bc.mrDetails == nil {
		return
	}
	if err := b.git.CloseMR(bc.mrDetails, bc.repoURL); err != nil {
		bc.logger.WithError(err).Warn("failed to close merge request during finalize")
	}
}
