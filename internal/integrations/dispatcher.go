package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task is one unit of fan-out work against a single adapter.
type Task struct {
	// Adapter names the integration for logs and metrics.
	Adapter string
	// Label identifies the change being propagated, e.g.
	// "inc-42/status/resolved". Adapters treat tasks with the same label
	// as the same change, so redelivery is harmless.
	Label string
	// Run performs the work. The context carries the per-task timeout.
	Run func(ctx context.Context) error
}

// Dispatcher executes fan-out tasks on a bounded worker pool. Delivery is
// best effort: failures are logged and counted, never retried, and one
// failing adapter does not affect the others.
type Dispatcher struct {
	logger  *slog.Logger
	timeout time.Duration
	sem     chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher running at most workers tasks at
// once, each bounded by timeout.
func NewDispatcher(logger *slog.Logger, workers int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		logger:  logger,
		timeout: timeout,
		sem:     make(chan struct{}, workers),
	}
}

// Fanout submits tasks for asynchronous execution and returns
// immediately. Tasks outlive the caller's request context but inherit
// its values.
func (d *Dispatcher) Fanout(ctx context.Context, tasks ...Task) {
	base := context.WithoutCancel(ctx)
	for _, task := range tasks {
		d.wg.Add(1)
		FanoutInflight.Inc()
		go func(t Task) {
			defer d.wg.Done()
			defer FanoutInflight.Dec()

			d.sem <- struct{}{}
			defer func() { <-d.sem }()

			d.run(base, t)
		}(task)
	}
}

// Close waits for all in-flight tasks to finish.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, t Task) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.runIsolated(ctx, t)
	duration := time.Since(start)

	FanoutDuration.WithLabelValues(t.Adapter).Observe(duration.Seconds())

	if err != nil {
		FanoutTasksTotal.WithLabelValues(t.Adapter, "error").Inc()
		d.logger.Error("integration fan-out failed",
			"adapter", t.Adapter,
			"label", t.Label,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return
	}

	FanoutTasksTotal.WithLabelValues(t.Adapter, "ok").Inc()
	d.logger.Debug("integration fan-out delivered",
		"adapter", t.Adapter,
		"label", t.Label,
		"duration_ms", duration.Milliseconds(),
	)
}

// runIsolated converts a panicking adapter into an error so the pool
// keeps serving the other adapters.
func (d *Dispatcher) runIsolated(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return t.Run(ctx)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("adapter panicked: %v", e.value)
}
