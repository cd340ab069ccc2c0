package dispatcher

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
)

// queue is a single named FIFO channel drained by a fixed pool of worker
// goroutines. Tasks for the same queue are processed in submission order
// by whichever worker is next free, but never by more than one worker at
// a time per task (spec section 5, worker plane).
type queue struct {
	name    string
	tasks   chan Task
	runner  Runner
	logger  *logrus.Entry
	wg      sync.WaitGroup
	closeCh chan struct{}
	once    sync.Once
}

// queueCapacity bounds how many tasks may be buffered per queue; once it
// is full, Dispatch rejects further tasks with a SchedulingError instead
// of blocking the API request path.
const queueCapacity = 256

func newQueue(name string, concurrency int, runner Runner) *queue {
	if concurrency < 1 {
		concurrency = 1
	}
	q := &queue{
		name:    name,
		tasks:   make(chan Task, queueCapacity),
		runner:  runner,
		logger:  logrus.WithField("queue", name),
		closeCh: make(chan struct{}),
	}
	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	return q
}

func (q *queue) worker(id int) {
	defer q.wg.Done()
	log := q.logger.WithField("worker", id)
	for {
		select {
		case <-q.closeCh:
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			log.WithField("request_id", task.RequestID).Info("picked up task")
			if err := q.runner.Run(context.Background(), task); err != nil {
				log.WithError(err).WithField("request_id", task.RequestID).Error("task run failed")
			}
		}
	}
}

// enqueue submits a task without blocking indefinitely: a full queue
// surfaces as a SchedulingError (spec section 7), and ctx cancellation is
// honored so an API request doesn't hang the HTTP handler.
func (q *queue) enqueue(ctx context.Context, task Task) error {
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return iiberrors.Scheduling("request cancelled before it could be queued", ctx.Err())
	default:
		return iiberrors.Scheduling("worker queue is full", nil)
	}
}

func (q *queue) shutdown() {
	q.once.Do(func() {
		close(q.closeCh)
	})
	q.wg.Wait()
}
