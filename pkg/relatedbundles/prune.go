package relatedbundles

import (
	"context"
	"time"
)

// PruneExpired removes every related-bundles artifact older than
// daysToLive, implementing IIB_REQUEST_DATA_DAYS_TO_LIVE (SPEC_FULL.md
// section 4 item 4). It is invoked by cmd/iib-janitor on a schedule; the
// request row itself is never touched, only the derived artifact.
func PruneExpired(ctx context.Context, backend Backend, daysToLive int) (int, error) {
	if backend == nil || daysToLive <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -daysToLive).Unix()
	return backend.Prune(ctx, cutoff)
}
