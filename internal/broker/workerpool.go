package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/adred-codev/netplay/internal/logging"
	"github.com/adred-codev/netplay/internal/metrics"
	"github.com/rs/zerolog"
)

// task is a unit of fan-out work — delivering one post to one
// connection's drain loop — executed off the append path so a slow
// write to one connection never blocks the room's append.
type task func()

// workerPool runs a fixed number of workers pulling from a bounded
// queue. When the queue is full, tasks are dropped rather than
// spawning unbounded goroutines per post per watcher.
type workerPool struct {
	workerCount int
	queue       chan task
	ctx         context.Context
	wg          sync.WaitGroup
	dropped     int64
	logger      zerolog.Logger
}

func newWorkerPool(workerCount, queueSize int, logger zerolog.Logger) *workerPool {
	return &workerPool{
		workerCount: workerCount,
		queue:       make(chan task, queueSize),
		logger:      logger,
	}
}

func (wp *workerPool) start(ctx context.Context) {
	wp.ctx = ctx
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.run()
	}
}

func (wp *workerPool) run() {
	defer wp.wg.Done()
	for {
		select {
		case t, ok := <-wp.queue:
			if !ok {
				return
			}
			wp.execute(t)
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *workerPool) execute(t task) {
	defer func() {
		if r := recover(); r != nil {
			logging.Panic(wp.logger, r, "drain worker panic recovered", nil)
			metrics.ErrorsTotal.WithLabelValues("drain_panic", "critical").Inc()
		}
	}()
	t()
}

// submit enqueues t, dropping it if the queue is full.
func (wp *workerPool) submit(t task) {
	select {
	case wp.queue <- t:
	default:
		atomic.AddInt64(&wp.dropped, 1)
	}
}

func (wp *workerPool) stop() {
	close(wp.queue)
	wp.wg.Wait()
}

func (wp *workerPool) droppedCount() int64 { return atomic.LoadInt64(&wp.dropped) }
func (wp *workerPool) queueDepth() int     { return len(wp.queue) }
func (wp *workerPool) queueCapacity() int  { return cap(wp.queue) }
