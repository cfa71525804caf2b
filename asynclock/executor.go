package asynclock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ceyewan/filelock/clog"
	"github.com/ceyewan/filelock/metrics"
)

// executor 按配置执行阻塞调用并跟踪进行中的任务
type executor struct {
	inline   bool
	sem      *semaphore.Weighted
	inflight metrics.Gauge
	logger   clog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newExecutor(cfg Config, o *options) (*executor, error) {
	inflight, err := o.meter.Gauge(MetricInflight, "正在执行或排队的阻塞锁调用数量")
	if err != nil {
		return nil, err
	}
	return &executor{
		inline:   cfg.Executor == ExecutorInline,
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		inflight: inflight,
		logger:   o.logger,
	}, nil
}

// submit 执行 fn 并返回 Future，queueCtx 结束时排队中的任务不再执行
func (e *executor) submit(queueCtx context.Context, op string, fn func() error, onAbandon func()) *Future {
	f := newFuture(onAbandon)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		f.complete(ErrClosed)
		return f
	}
	e.wg.Add(1)
	e.mu.Unlock()

	label := metrics.L("op", op)
	e.inflight.Inc(queueCtx, label)
	run := func() {
		defer e.wg.Done()
		defer e.inflight.Dec(context.Background(), label)
		f.complete(fn())
	}

	if e.inline {
		run()
		return f
	}
	go func() {
		if err := e.sem.Acquire(queueCtx, 1); err != nil {
			e.wg.Done()
			e.inflight.Dec(context.Background(), label)
			f.complete(ctxError(err))
			return
		}
		defer e.sem.Release(1)
		run()
	}()
	return f
}

// close 拒绝新任务并等待进行中的任务结束
func (e *executor) close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}
