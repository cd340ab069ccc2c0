package cacheregion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrSetBypassesCacheWithoutDigest(t *testing.T) {
	backend := NewMemoryBackend(time.Minute)
	region := New(backend)

	calls := 0
	compute := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("result"), nil
	}

	_, err := region.GetOrSet(context.Background(), "inspect", []string{"quay.io/acme/index:v4.19"}, compute)
	require.NoError(t, err)
	_, err = region.GetOrSet(context.Background(), "inspect", []string{"quay.io/acme/index:v4.19"}, compute)
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "calls without a digest argument must never hit or populate the cache")
}

func TestGetOrSetMemoizesDigestCalls(t *testing.T) {
	backend := NewMemoryBackend(time.Minute)
	region := New(backend)

	calls := 0
	compute := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("result"), nil
	}
	ref := "quay.io/acme/index@sha256:abc123"

	v1, err := region.GetOrSet(context.Background(), "inspect", []string{ref}, compute)
	require.NoError(t, err)
	v2, err := region.GetOrSet(context.Background(), "inspect", []string{ref}, compute)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, v1, v2)
}

func TestGetOrSetSameKeyForEquivalentArgs(t *testing.T) {
	k1 := Key("inspect", "a@sha256:abc", "b")
	k2 := Key("inspect", "a@sha256:abc", "b")
	assert.Equal(t, k1, k2)

	k3 := Key("inspect", "a@sha256:abc", "c")
	assert.NotEqual(t, k1, k3)
}

func TestGetOrSetBackendFaultDegradesToDirectCall(t *testing.T) {
	region := New(faultyBackend{})
	calls := 0
	compute := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("result"), nil
	}
	ref := "quay.io/acme/index@sha256:abc123"

	v, err := region.GetOrSet(context.Background(), "inspect", []string{ref}, compute)
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), v)
	assert.Equal(t, 1, calls)
}

type faultyBackend struct{}

func (faultyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("backend unreachable")
}

func (faultyBackend) Set(ctx context.Context, key string, value []byte) error {
	return errors.New("backend unreachable")
}

func TestMemoryBackendExpires(t *testing.T) {
	backend := NewMemoryBackend(time.Millisecond)
	fakeNow := time.Now()
	backend.now = func() time.Time { return fakeNow }

	require.NoError(t, backend.Set(context.Background(), "k", []byte("v")))
	_, found, err := backend.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, found)

	fakeNow = fakeNow.Add(time.Second)
	_, found, err = backend.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, found)
}
