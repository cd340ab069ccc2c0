package registryclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImageStreamCache struct {
	recordedDigest  string
	refreshCalled   bool
	pullDir         string
	recordedErr     error
}

func (f *fakeImageStreamCache) RecordedDigest(ctx context.Context, tag string) (string, error) {
	return f.recordedDigest, f.recordedErr
}

func (f *fakeImageStreamCache) TriggerRefresh(ctx context.Context, tag string) error {
	f.refreshCalled = true
	return nil
}

func (f *fakeImageStreamCache) Pull(ctx context.Context, tag, baseDir string) (string, error) {
	return f.pullDir, nil
}

type fakePuller struct {
	digest string
	pulled []string
}

func (f *fakePuller) Pull(ctx context.Context, ref, baseDir string, auth Auth) (string, error) {
	f.pulled = append(f.pulled, ref)
	return "/registry/dir", nil
}

func (f *fakePuller) Digest(ctx context.Context, ref string, auth Auth) (string, error) {
	return f.digest, nil
}

const testArtifactRef = "quay.io/iib-cache/index-db-cache:index-db-cache-v4.19"

func TestFetchIndexDBEnabledMatchUsesFastPath(t *testing.T) {
	cache := &fakeImageStreamCache{recordedDigest: "sha256:same", pullDir: "/cache/dir"}
	client := &fakePuller{digest: "sha256:same"}
	dir, err := FetchIndexDB(context.Background(), client, cache, true, testArtifactRef, "v4.19", t.TempDir(), Auth{})
	require.NoError(t, err)
	assert.Equal(t, "/cache/dir", dir)
	assert.False(t, cache.refreshCalled)
	assert.Empty(t, client.pulled)
}

func TestFetchIndexDBMismatchTriggersRefresh(t *testing.T) {
	cache := &fakeImageStreamCache{recordedDigest: "sha256:stale"}
	client := &fakePuller{digest: "sha256:fresh"}
	dir, err := FetchIndexDB(context.Background(), client, cache, true, testArtifactRef, "v4.19", t.TempDir(), Auth{})
	require.NoError(t, err)
	assert.True(t, cache.refreshCalled)
	assert.Equal(t, "/registry/dir", dir)
	assert.Equal(t, []string{testArtifactRef}, client.pulled)
}

func TestPullspecDeterministicMapping(t *testing.T) {
	ref, err := Pullspec("{registry}/{image_name}", "{image_name}-{tag}", "quay.io/iib-cache", "index-db-cache", "quay.io/acme/index:v4.19")
	require.NoError(t, err)
	assert.Equal(t, "quay.io/iib-cache/index-db-cache:index-db-cache-v4.19", ref)
}

func TestPullspecRejectsInvalidFromIndex(t *testing.T) {
	_, err := Pullspec("{registry}/{image_name}", "{image_name}-{tag}", "quay.io/iib-cache", "index-db-cache", "not a valid ref!!")
	require.Error(t, err)
}
