package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Transport delivers a single connection's worth of envelopes; Close
// releases its underlying connection. Bus dials a new Transport for every
// envelope it sends, so the per-request and per-batch envelopes of one
// transition travel over two separate connections.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
	Close() error
}

// Dialer opens a Transport, trying each of its configured URLs in order
// until one succeeds.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// Bus is the C5 notification bus: it decides which envelopes a state
// transition should produce and delivers them through a freshly dialed
// Transport, swallowing and logging any delivery failure (messaging is
// strictly best-effort, spec section 4.5).
type Bus struct {
	dialer          Dialer
	durable         bool
	batchStateAddr  string
	requestStateTpl string
	logger          *logrus.Entry
}

// New builds a Bus. requestStateTpl and batchStateAddr are topic
// addresses, each used verbatim as the address of every envelope of its
// kind; no placeholder in them is substituted.
func New(dialer Dialer, durable bool, requestStateTpl, batchStateAddr string) *Bus {
	return &Bus{
		dialer:          dialer,
		durable:         durable,
		batchStateAddr:  batchStateAddr,
		requestStateTpl: requestStateTpl,
		logger:          logrus.WithField("component", "notify"),
	}
}

// EmitRequestTransition sends the per-request envelope for a state
// transition. requestJSON must be the request's non-verbose public JSON.
func (b *Bus) EmitRequestTransition(ctx context.Context, requestJSON map[string]interface{}) {
	if b == nil {
		return
	}
	env, err := RequestEnvelope(b.requestStateTpl, requestJSON, b.durable)
	if err != nil {
		b.logger.WithError(err).Error("failed to build request envelope")
		return
	}
	b.send(ctx, env)
}

// BatchTransition describes one call to EmitBatchTransition's inputs.
type BatchTransition struct {
	BatchID     int64
	Annotations map[string]interface{}
	Requests    []BatchRequestRef
	State       string
	User        string
	// NewlyCreated marks a batch's initial creation; Terminal marks that
	// no request in the batch remains in_progress. The batch envelope is
	// emitted only when one of these is true (spec section 4.5).
	NewlyCreated bool
	Terminal     bool
}

// EmitBatchTransition sends the per-batch envelope, but only when the
// batch was just created or has reached a terminal state.
func (b *Bus) EmitBatchTransition(ctx context.Context, t BatchTransition) {
	if b == nil || (!t.NewlyCreated && !t.Terminal) {
		return
	}
	env, err := BatchEnvelope(b.batchStateAddr, t.BatchID, t.Annotations, t.Requests, t.State, t.User, b.durable)
	if err != nil {
		b.logger.WithError(err).Error("failed to build batch envelope")
		return
	}
	b.send(ctx, env)
}

// send dials a fresh Transport and delivers one envelope, logging any
// failure without propagating it: notification delivery never blocks or
// fails the caller's request-lifecycle operation.
func (b *Bus) send(ctx context.Context, env Envelope) {
	transport, err := b.dialer.Dial(ctx)
	if err != nil {
		b.logger.WithError(err).WithField("address", env.Address).Error("failed to open messaging connection on all configured URLs")
		return
	}
	defer transport.Close()

	if err := transport.Send(ctx, env); err != nil {
		b.logger.WithError(err).WithField("address", env.Address).Error("failed to deliver notification")
	}
}
