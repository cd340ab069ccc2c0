package builder

import "context"

// compensate implements the spec section 4.8 failure-compensation block,
// run when runPhases fails at any point after step 6 (push index.db) has
// potentially left durable side effects. Compensation errors are logged
// but never shadow the original failure cause.
func (b *Builder) compensate(ctx context.Context, bc *buildContext, cause error) {
	if bc == nil {
		return
	}

	switch {
	case bc.mrDetails != nil:
		if err := b.git.CloseMR(bc.mrDetails, bc.repoURL); err != nil {
			bc.logger.WithError(err).Error("failed to close merge request during compensation")
		}
	case bc.directCommitMade:
		if err := b.git.RevertLastCommit(bc.task.RequestID, bc.repoURL, bc.branch); err != nil {
			bc.logger.WithError(err).Error("failed to revert direct commit during compensation")
		}
	}

	if bc.v4xOverwritten {
		src := bc.artifactRepo + "@" + bc.v4xDigest
		if err := b.registry.Copy(ctx, src, bc.v4xRef, bc.auth); err != nil {
			bc.logger.WithError(err).Error("failed to restore the overwritten v4.x index.db tag during compensation")
		}
	}

	bc.logger.WithError(cause).Warn("build failed; ran compensation")
}
