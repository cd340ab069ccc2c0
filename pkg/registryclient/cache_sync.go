package registryclient

import (
	"context"

	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
)

// ImageStreamCache is the subset of an OpenShift-style ImageStream the
// cache-sync policy needs: reading its recorded digest for a tag, and
// triggering a re-import (refresh) when it is stale.
type ImageStreamCache interface {
	RecordedDigest(ctx context.Context, tag string) (string, error)
	TriggerRefresh(ctx context.Context, tag string) error
	Pull(ctx context.Context, tag, baseDir string) (string, error)
}

// Puller is the subset of Client the cache-sync policy needs, kept as an
// interface so callers can exercise the decision logic against a fake
// registry in tests. *Client satisfies it.
type Puller interface {
	Pull(ctx context.Context, ref, baseDir string, auth Auth) (string, error)
	Digest(ctx context.Context, ref string, auth Auth) (string, error)
}

// FetchIndexDB implements the cache-sync policy from spec section 4.2: if
// the ImageStream-backed cache is enabled, compare the source registry's
// current digest for artifactRef against the ImageStream's recorded
// digest; equal means a fast-path pull from the ImageStream, unequal
// triggers a refresh followed by a pull from the source registry. If
// disabled, it pulls directly from the source registry.
func FetchIndexDB(ctx context.Context, client Puller, cache ImageStreamCache, enabled bool, artifactRef, tag, baseDir string, auth Auth) (string, error) {
	if !enabled || cache == nil {
		return client.Pull(ctx, artifactRef, baseDir, auth)
	}

	currentDigest, err := client.Digest(ctx, artifactRef, auth)
	if err != nil {
		return "", iiberrors.Build(iiberrors.PhaseFetchIndexDB, "failed to resolve source digest for cache sync", err)
	}

	recordedDigest, err := cache.RecordedDigest(ctx, tag)
	if err != nil {
		return "", iiberrors.Build(iiberrors.PhaseFetchIndexDB, "failed to read ImageStream cache state", err)
	}

	if currentDigest == recordedDigest {
		dir, err := cache.Pull(ctx, tag, baseDir)
		if err != nil {
			return "", iiberrors.Build(iiberrors.PhaseFetchIndexDB, "failed to pull from ImageStream cache", err)
		}
		return dir, nil
	}

	if err := cache.TriggerRefresh(ctx, tag); err != nil {
		return "", iiberrors.Build(iiberrors.PhaseFetchIndexDB, "failed to trigger ImageStream cache refresh", err)
	}
	return client.Pull(ctx, artifactRef, baseDir, auth)
}
