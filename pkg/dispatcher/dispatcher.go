// Package dispatcher implements the worker-queue routing half of C7
// (spec section 4.7 items 4-6): classifying a request onto a named
// queue under IIB_USER_TO_QUEUE, redacting its arguments, and handing it
// to a fixed pool of per-queue FIFO workers. A single request is pinned
// to exactly one worker goroutine from dispatch to terminal state.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/release-engineering/iib-sub001/pkg/api"
	"github.com/release-engineering/iib-sub001/pkg/config"
)

const defaultQueue = "default"

// Task is one unit of dispatched work, carrying only what the worker
// needs to look up and run the request: the store holds everything else.
// Secrets never appear in RedactedArgs (spec section 7, section 8's
// secrecy invariant); they are carried separately, in memory only, and
// are never persisted or logged.
type Task struct {
	ReqType            api.RequestType
	RequestID          int64
	User               string
	OverwriteFromIndex bool
	RedactedArgs       map[string]interface{}
	Secrets            map[string]string
}

// Runner executes a dispatched task. pkg/builder implements this; keeping
// it as an interface here avoids a dispatcher -> builder import.
type Runner interface {
	Run(ctx context.Context, task Task) error
}

// Dispatcher classifies and enqueues requests onto named queues. It
// implements api.Dispatcher.
type Dispatcher struct {
	rules  []config.QueueRule
	queues map[string]*queue
	logger *logrus.Entry
}

// New builds a Dispatcher with one worker pool per distinct queue name
// referenced by rules, plus a "default" queue for unmatched users. Each
// queue runs concurrency workers pulling from a single FIFO channel.
func New(rules []config.QueueRule, concurrency int, runner Runner) *Dispatcher {
	d := &Dispatcher{
		rules:  rules,
		queues: map[string]*queue{},
		logger: logrus.WithField("component", "dispatcher"),
	}

	names := map[string]bool{defaultQueue: true}
	for _, r := range rules {
		names[r.Queue] = true
	}
	for name := range names {
		d.queues[name] = newQueue(name, concurrency, runner)
	}
	return d
}

// classify implements spec section 4.7 item 4's lookup order: try the
// kind-prefixed rule matching the operation (SERIAL: for
// overwrite_from_index, PARALLEL: otherwise) first, then the plain
// unprefixed rule, then fall back to the default queue.
func classify(rules []config.QueueRule, user string, overwriteFromIndex bool) string {
	primaryKind := "PARALLEL"
	if overwriteFromIndex {
		primaryKind = "SERIAL"
	}

	var plainMatch, primaryMatch string
	for _, r := range rules {
		if r.User != user {
			continue
		}
		if r.Kind == primaryKind {
			primaryMatch = r.Queue
		} else if r.Kind == "" {
			plainMatch = r.Queue
		}
	}
	if primaryMatch != "" {
		return primaryMatch
	}
	if plainMatch != "" {
		return plainMatch
	}
	return defaultQueue
}

// Dispatch implements api.Dispatcher: classify the queue, redact has
// already happened at the call site, and enqueue. A full queue channel
// surfaces as a SchedulingError per spec section 7 (queue backend
// unreachable at dispatch time).
func (d *Dispatcher) Dispatch(ctx context.Context, reqType api.RequestType, requestID int64, user string, overwriteFromIndex bool, redactedArgs map[string]interface{}, secrets map[string]string) error {
	queueName := classify(d.rules, user, overwriteFromIndex)
	q, ok := d.queues[queueName]
	if !ok {
		return fmt.Errorf("internal error: queue %q was not provisioned", queueName)
	}

	task := Task{
		ReqType:            reqType,
		RequestID:          requestID,
		User:               user,
		OverwriteFromIndex: overwriteFromIndex,
		RedactedArgs:       redactedArgs,
		Secrets:            secrets,
	}

	d.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"queue":      queueName,
		"args":       redactedArgs,
	}).Info("dispatching request")

	return q.enqueue(ctx, task)
}

// Shutdown stops accepting new work and waits for in-flight tasks across
// every queue to finish.
func (d *Dispatcher) Shutdown() {
	for _, q := range d.queues {
		q.shutdown()
	}
}
