package logs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
)

type fakeProvider struct {
	updatedAt time.Time
	terminal  bool
	exists    bool
	err       error
}

func (f fakeProvider) RequestMeta(ctx context.Context, requestID int64) (time.Time, bool, bool, error) {
	return f.updatedAt, f.terminal, f.exists, f.err
}

type memBackend struct {
	data map[int64][]byte
}

func newMemBackend() *memBackend { return &memBackend{data: map[int64][]byte{}} }

func (m *memBackend) Read(ctx context.Context, requestID int64) ([]byte, error) {
	d, ok := m.data[requestID]
	if !ok {
		return nil, ErrNotExist
	}
	return d, nil
}

func (m *memBackend) Write(ctx context.Context, requestID int64, data []byte) error {
	m.data[requestID] = data
	return nil
}

func TestReadUnconfiguredReturnsNotFound(t *testing.T) {
	s := New(nil, fakeProvider{}, time.Hour)
	_, _, err := s.Read(context.Background(), 1)
	_, isNotFound := err.(*iiberrors.NotFoundError)
	assert.True(t, isNotFound)
}

func TestReadUnknownRequestReturnsNotFound(t *testing.T) {
	backend := newMemBackend()
	s := New(backend, fakeProvider{exists: false}, time.Hour)
	_, _, err := s.Read(context.Background(), 99)
	_, isNotFound := err.(*iiberrors.NotFoundError)
	assert.True(t, isNotFound)
}

func TestReadExpiredReturnsGone(t *testing.T) {
	backend := newMemBackend()
	backend.data[1] = []byte("log text")
	s := New(backend, fakeProvider{exists: true, terminal: true, updatedAt: time.Now().Add(-48 * time.Hour)}, 24*time.Hour)

	_, expired, err := s.Read(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, expired)
	_, isGone := err.(*iiberrors.GoneError)
	assert.True(t, isGone)
}

func TestReadMissingLogNotTerminalReturnsNotFound(t *testing.T) {
	backend := newMemBackend()
	s := New(backend, fakeProvider{exists: true, terminal: false, updatedAt: time.Now()}, time.Hour)

	_, expired, err := s.Read(context.Background(), 1)
	assert.False(t, expired)
	_, isNotFound := err.(*iiberrors.NotFoundError)
	assert.True(t, isNotFound)
}

func TestReadReturnsLogText(t *testing.T) {
	backend := newMemBackend()
	backend.data[1] = []byte("hello world")
	s := New(backend, fakeProvider{exists: true, terminal: true, updatedAt: time.Now()}, time.Hour)

	text, expired, err := s.Read(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Equal(t, "hello world", text)
}

func TestLocalBackendRoundTrip(t *testing.T) {
	backend := NewLocalBackend(t.TempDir())
	require.NoError(t, backend.Write(context.Background(), 5, []byte("abc")))

	data, err := backend.Read(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestLocalBackendMissingFile(t *testing.T) {
	backend := NewLocalBackend(t.TempDir())
	_, err := backend.Read(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotExist)
}
