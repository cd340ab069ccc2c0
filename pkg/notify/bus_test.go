package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []Envelope
	closed bool
	sendErr error
}

func (f *fakeTransport) Send(ctx context.Context, env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

type fakeDialer struct {
	transport *fakeTransport
	dialErr   error
}

func (d *fakeDialer) Dial(ctx context.Context) (Transport, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.transport, nil
}

func TestEmitRequestTransitionSendsEnvelope(t *testing.T) {
	transport := &fakeTransport{}
	bus := New(&fakeDialer{transport: transport}, true, "topic://request-state", "topic://batch-state")

	bus.EmitRequestTransition(context.Background(), map[string]interface{}{"id": float64(1), "state": "in_progress"})

	require.Len(t, transport.sent, 1)
	assert.Equal(t, "topic://request-state", transport.sent[0].Address)
	assert.True(t, transport.closed)
}

func TestEmitBatchTransitionSkippedMidFlight(t *testing.T) {
	transport := &fakeTransport{}
	bus := New(&fakeDialer{transport: transport}, true, "topic://request-state", "topic://batch-state")

	bus.EmitBatchTransition(context.Background(), BatchTransition{
		BatchID:      1,
		State:        "in_progress",
		NewlyCreated: false,
		Terminal:     false,
	})

	assert.Empty(t, transport.sent)
}

func TestEmitBatchTransitionSentWhenNewlyCreated(t *testing.T) {
	transport := &fakeTransport{}
	bus := New(&fakeDialer{transport: transport}, true, "topic://request-state", "topic://batch-state")

	bus.EmitBatchTransition(context.Background(), BatchTransition{
		BatchID:      1,
		State:        "in_progress",
		NewlyCreated: true,
	})

	require.Len(t, transport.sent, 1)
	assert.Equal(t, "topic://batch-state", transport.sent[0].Address)
}

func TestEmitBatchTransitionSentWhenTerminal(t *testing.T) {
	transport := &fakeTransport{}
	bus := New(&fakeDialer{transport: transport}, true, "topic://request-state", "topic://batch-state")

	bus.EmitBatchTransition(context.Background(), BatchTransition{
		BatchID:  1,
		State:    "complete",
		Terminal: true,
	})

	require.Len(t, transport.sent, 1)
}

func TestSendSwallowsDialFailure(t *testing.T) {
	bus := New(&fakeDialer{dialErr: errors.New("all URLs exhausted")}, true, "topic://request-state", "topic://batch-state")
	assert.NotPanics(t, func() {
		bus.EmitRequestTransition(context.Background(), map[string]interface{}{"id": float64(1)})
	})
}

func TestSendSwallowsTransportFailure(t *testing.T) {
	transport := &fakeTransport{sendErr: errors.New("broken pipe")}
	bus := New(&fakeDialer{transport: transport}, true, "topic://request-state", "topic://batch-state")
	assert.NotPanics(t, func() {
		bus.EmitRequestTransition(context.Background(), map[string]interface{}{"id": float64(1)})
	})
	assert.True(t, transport.closed)
}
