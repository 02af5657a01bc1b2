package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull is returned when the admission queue is at capacity.
	ErrQueueFull = errors.New("work queue is full")
	// ErrCancelled is returned when a queued item was cancelled before
	// admission.
	ErrCancelled = errors.New("queued request cancelled")
)

// Pending admission states. A queued item moves queued → admitted when a
// worker takes it, or queued → cancelled; the two transitions race on one
// atomic so exactly one side wins.
const (
	pendingQueued int32 = iota
	pendingAdmitted
	pendingCancelled
)

// Pending is the immediately returned handle to a queued request.
type Pending struct {
	done   chan struct{}
	result *Result
	err    error
	state  atomic.Int32
}

// Wait blocks until the request completes, is rejected or ctx ends.
func (p *Pending) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel marks a not-yet-admitted item as cancelled. Returns false if the
// item was already admitted or finished; a true return guarantees the
// request will not run.
func (p *Pending) Cancel() bool {
	return p.state.CompareAndSwap(pendingQueued, pendingCancelled)
}

// admit claims the item for processing. It loses to a concurrent Cancel.
func (p *Pending) admit() bool {
	return p.state.CompareAndSwap(pendingQueued, pendingAdmitted)
}

func (p *Pending) complete(result *Result, err error) {
	p.result = result
	p.err = err
	close(p.done)
}

type queueItem struct {
	ctx      context.Context
	prompt   string
	opts     Options
	pending  *Pending
	enqueued time.Time
}

// QueueStats summarizes queue throughput since startup.
type QueueStats struct {
	Queued         int           `json:"queued"`
	Processing     int           `json:"processing"`
	TotalCompleted int64         `json:"total_completed"`
	TotalFailed    int64         `json:"total_failed"`
	AvgWait        time.Duration `json:"avg_wait"`
	AvgProcess     time.Duration `json:"avg_process"`
}

// workQueue admits queued requests to a fixed pool of workers. FIFO admission
// order only; completion order is not guaranteed. The worker pool replaces
// recursive drain callbacks: admission capacity is simply the number of
// workers blocked on the channel.
type workQueue struct {
	o     *Orchestrator
	items chan *queueItem
	wg    sync.WaitGroup

	mu             sync.Mutex
	processing     int
	totalCompleted int64
	totalFailed    int64
	totalWait      time.Duration
	totalProcess   time.Duration

	closeOnce sync.Once
}

func newWorkQueue(o *Orchestrator, workers, capacity int) *workQueue {
	q := &workQueue{
		o:     o,
		items: make(chan *queueItem, capacity),
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

// Enqueue appends a request to the FIFO queue and returns its handle
// immediately.
func (o *Orchestrator) Enqueue(ctx context.Context, prompt string, opts Options) (*Pending, error) {
	item := &queueItem{
		ctx:      ctx,
		prompt:   prompt,
		opts:     opts,
		pending:  &Pending{done: make(chan struct{})},
		enqueued: time.Now(),
	}
	select {
	case o.queue.items <- item:
		if o.metrics != nil {
			o.metrics.QueueDepth.Set(float64(len(o.queue.items)))
		}
		return item.pending, nil
	default:
		return nil, ErrQueueFull
	}
}

// QueueStats returns a snapshot of queue throughput.
func (o *Orchestrator) QueueStats() QueueStats {
	q := o.queue
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := QueueStats{
		Queued:         len(q.items),
		Processing:     q.processing,
		TotalCompleted: q.totalCompleted,
		TotalFailed:    q.totalFailed,
	}
	if q.totalCompleted > 0 {
		stats.AvgWait = q.totalWait / time.Duration(q.totalCompleted)
		stats.AvgProcess = q.totalProcess / time.Duration(q.totalCompleted)
	}
	return stats
}

func (q *workQueue) worker() {
	defer q.wg.Done()
	for item := range q.items {
		if !item.pending.admit() {
			item.pending.complete(nil, ErrCancelled)
			continue
		}
		wait := time.Since(item.enqueued)

		q.mu.Lock()
		q.processing++
		q.mu.Unlock()
		if q.o.metrics != nil {
			q.o.metrics.InFlight.Inc()
			q.o.metrics.QueueDepth.Set(float64(len(q.items)))
		}

		start := time.Now()
		result, err := q.o.Process(item.ctx, item.prompt, item.opts)
		elapsed := time.Since(start)

		q.mu.Lock()
		q.processing--
		if err != nil {
			q.totalFailed++
		} else {
			q.totalCompleted++
			q.totalWait += wait
			q.totalProcess += elapsed
		}
		q.mu.Unlock()
		if q.o.metrics != nil {
			q.o.metrics.InFlight.Dec()
		}

		item.pending.complete(result, err)
	}
}

func (q *workQueue) close() {
	q.closeOnce.Do(func() {
		close(q.items)
		q.wg.Wait()
	})
}
