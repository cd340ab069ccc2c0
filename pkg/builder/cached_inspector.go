package builder

import (
	"context"
	"encoding/json"

	"github.com/release-engineering/iib-sub001/pkg/cacheregion"
)

// CachedInspector wraps a BundleInspector in the C1 cache region (spec
// section 4.1): bundle renders are exactly the "inspect image, return its
// JSON metadata" class of call the cache region exists for, and every
// related-bundles pullspec the resolver walks is expected to be
// digest-pinned, making them cache-eligible.
type CachedInspector struct {
	inner  BundleInspector
	region *cacheregion.Region
}

// NewCachedInspector wraps inner with region. A nil region makes this a
// passthrough.
func NewCachedInspector(inner BundleInspector, region *cacheregion.Region) *CachedInspector {
	return &CachedInspector{inner: inner, region: region}
}

func (c *CachedInspector) Inspect(ctx context.Context, pullspec string) (BundleMetadata, error) {
	if c.region == nil {
		return c.inner.Inspect(ctx, pullspec)
	}

	raw, err := c.region.GetOrSet(ctx, "builder.Inspect", []string{pullspec}, func(ctx context.Context) ([]byte, error) {
		meta, err := c.inner.Inspect(ctx, pullspec)
		if err != nil {
			return nil, err
		}
		return json.Marshal(meta)
	})
	if err != nil {
		return BundleMetadata{}, err
	}

	var meta BundleMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return c.inner.Inspect(ctx, pullspec)
	}
	return meta, nil
}
