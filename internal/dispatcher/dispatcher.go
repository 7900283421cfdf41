// Package dispatcher owns check requests between their producers and the
// worker pool: it enqueues them, runs a bounded number concurrently, enforces
// the per-attempt deadlines and re-enqueues retryable failures.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/clock/system"
	"github.com/JakeFAU/realtime-price-tracker/internal/progress"
	"github.com/JakeFAU/realtime-price-tracker/internal/queue"
	"github.com/JakeFAU/realtime-price-tracker/internal/retrain"
	"github.com/JakeFAU/realtime-price-tracker/internal/telemetry"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
	"github.com/JakeFAU/realtime-price-tracker/internal/worker"
)

// Processor runs one attempt of a check request.
type Processor interface {
	Process(ctx context.Context, req tracker.CheckRequest) (worker.Result, error)
}

// Config controls pool size, retries and deadlines.
type Config struct {
	Workers        int
	Retry          tracker.RetryPolicy
	SoftTimeout    time.Duration
	HardTimeout    time.Duration
	ReleaseGrace   time.Duration
	RetrainTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		Retry:          tracker.DefaultRetryPolicy(),
		SoftTimeout:    240 * time.Second,
		HardTimeout:    300 * time.Second,
		ReleaseGrace:   10 * time.Second,
		RetrainTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = def.Retry
	}
	if c.SoftTimeout <= 0 {
		c.SoftTimeout = def.SoftTimeout
	}
	if c.HardTimeout < c.SoftTimeout {
		c.HardTimeout = c.SoftTimeout + c.SoftTimeout/4
	}
	if c.ReleaseGrace <= 0 {
		c.ReleaseGrace = def.ReleaseGrace
	}
	if c.RetrainTimeout <= 0 {
		c.RetrainTimeout = def.RetrainTimeout
	}
	return c
}

// Deps are the dispatcher's collaborators. Retrainer and Events may be nil.
type Deps struct {
	Queue     tracker.Queue
	Processor Processor
	Products  tracker.ProductStore
	Retrainer tracker.Retrainer
	IDs       tracker.IDGenerator
	Clock     tracker.Clock
	Events    progress.Emitter
}

// Dispatcher fans queued check requests out to a fixed pool of goroutines.
type Dispatcher struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	retries        sync.WaitGroup
	pendingRetries atomic.Int64
	inFlight       atomic.Int64

	// stop is closed once the pool has drained; pending retries are dropped.
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Dispatcher.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if deps.Queue == nil || deps.Processor == nil || deps.Products == nil || deps.IDs == nil {
		return nil, errors.New("dispatcher requires a queue, processor, product store and id generator")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{deps: deps, cfg: cfg.withDefaults(), logger: logger, stop: make(chan struct{})}, nil
}

// Run starts the pool and blocks until ctx ends or the queue is closed, then
// waits for in-flight attempts to finish. Retries still waiting out their
// backoff at that point are dropped.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			d.loop(ctx, slot)
		}(i)
	}
	d.logger.Info("dispatcher started", zap.Int("workers", d.cfg.Workers))
	wg.Wait()
	d.stopOnce.Do(func() { close(d.stop) })
	d.retries.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) loop(ctx context.Context, slot int) {
	for {
		req, err := d.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				return
			}
			d.logger.Error("queue dequeue failed", zap.Int("slot", slot), zap.Error(err))
			continue
		}
		telemetry.ObserveDequeue()
		d.handle(ctx, req)
	}
}

// InFlight reports the number of attempts currently executing.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// PendingRetries reports the number of failed requests waiting out their
// backoff.
func (d *Dispatcher) PendingRetries() int64 {
	return d.pendingRetries.Load()
}

func (d *Dispatcher) handle(ctx context.Context, req tracker.CheckRequest) {
	d.inFlight.Add(1)
	telemetry.IncActiveWorkers()
	defer func() {
		telemetry.DecActiveWorkers()
		d.inFlight.Add(-1)
	}()

	started := d.deps.Clock.Now()
	_, err := d.attempt(ctx, req)
	if err == nil {
		return
	}
	attempts := req.Attempt + 1
	logger := d.logger.With(
		zap.String("request_id", req.ID),
		zap.Int64("product_id", req.ProductID),
		zap.Int("attempt", attempts),
		zap.String("cause", string(req.Cause)),
	)
	if ctx.Err() != nil {
		logger.Warn("price check interrupted by shutdown", zap.Error(err))
		return
	}

	kind := tracker.KindOf(err)
	if kind == "" {
		kind = tracker.KindNetwork
		err = tracker.NewFailure(kind, "", err)
	}
	var failedStage tracker.Stage
	if f, ok := tracker.AsFailure(err); ok {
		failedStage = f.Stage
	}
	retry := d.cfg.Retry.ShouldRetry(err, attempts)
	d.deps.Events.Emit(progress.Event{
		RequestID:   req.ID,
		ProductID:   req.ProductID,
		Attempt:     attempts,
		Cause:       req.Cause,
		Stage:       tracker.StageFailed,
		Failure:     kind,
		FailedStage: failedStage,
		Retryable:   retry,
		Abandoned:   !retry,
		TS:          d.deps.Clock.Now(),
		Dur:         d.deps.Clock.Now().Sub(started),
		Note:        err.Error(),
	})

	if retry {
		backoff := d.cfg.Retry.Backoff(attempts)
		telemetry.ObserveRetry(string(kind))
		logger.Warn("price check failed; retrying",
			zap.String("failure", string(kind)),
			zap.Bool("retryable", true),
			zap.Duration("retry_in", backoff),
			zap.Error(err),
		)
		d.scheduleRetry(ctx, req, attempts, backoff)
		return
	}

	telemetry.ObserveAbandoned(string(kind))
	logger.Error("price check abandoned",
		zap.String("failure", string(kind)),
		zap.Bool("retryable", false),
		zap.String("stale_since", d.staleSince(ctx, req.ProductID)),
		zap.Error(err),
	)
}

// attempt runs the processor under the soft deadline. If the processor has
// not returned when the hard deadline fires, the attempt is cancelled and
// given ReleaseGrace to unwind before it is reported as timed out.
func (d *Dispatcher) attempt(ctx context.Context, req tracker.CheckRequest) (worker.Result, error) {
	softCtx, cancel := context.WithTimeout(ctx, d.cfg.SoftTimeout)
	defer cancel()

	type outcome struct {
		res worker.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := d.deps.Processor.Process(softCtx, req)
		done <- outcome{res: res, err: err}
	}()

	hard := time.NewTimer(d.cfg.HardTimeout)
	defer hard.Stop()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(softCtx.Err(), context.DeadlineExceeded) && tracker.KindOf(o.err) != tracker.KindTimeout {
			stage := tracker.Stage("")
			if f, ok := tracker.AsFailure(o.err); ok {
				stage = f.Stage
			}
			o.err = tracker.NewFailure(tracker.KindTimeout, stage,
				fmt.Errorf("soft deadline %s exceeded: %w", d.cfg.SoftTimeout, o.err))
		}
		return o.res, o.err
	case <-hard.C:
		cancel()
		grace := time.NewTimer(d.cfg.ReleaseGrace)
		defer grace.Stop()
		select {
		case <-done:
		case <-grace.C:
			d.logger.Error("check attempt did not release its resources in time",
				zap.String("request_id", req.ID),
				zap.Int64("product_id", req.ProductID),
				zap.Duration("grace", d.cfg.ReleaseGrace),
			)
		}
		return worker.Result{}, tracker.NewFailure(tracker.KindTimeout, "",
			fmt.Errorf("hard deadline %s exceeded", d.cfg.HardTimeout))
	}
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, req tracker.CheckRequest, attempts int, backoff time.Duration) {
	next := req
	next.Attempt = attempts
	d.pendingRetries.Add(1)
	d.retries.Add(1)
	go func() {
		defer d.retries.Done()
		defer d.pendingRetries.Add(-1)
		timer := time.NewTimer(backoff)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		case <-d.stop:
			d.logger.Debug("pending retry dropped on shutdown",
				zap.String("request_id", next.ID),
				zap.Int64("product_id", next.ProductID),
			)
			return
		}
		next.RequestedAt = d.deps.Clock.Now()
		if err := d.deps.Queue.Enqueue(ctx, next); err != nil {
			d.logger.Warn("retry enqueue failed",
				zap.String("request_id", next.ID),
				zap.Int64("product_id", next.ProductID),
				zap.Error(err),
			)
			return
		}
		telemetry.ObserveEnqueue(string(next.Cause))
	}()
}

func (d *Dispatcher) staleSince(ctx context.Context, productID int64) string {
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	p, err := d.deps.Products.GetProduct(lookupCtx, productID)
	if err != nil || p.LastChecked == nil {
		return "never"
	}
	return p.LastChecked.UTC().Format(time.RFC3339)
}

// EnqueueCheck queues one check and returns its request id. Externally
// triggered causes are rejected with queue.ErrQueueFull when the queue is
// saturated; internal causes wait for space.
func (d *Dispatcher) EnqueueCheck(ctx context.Context, productID int64, cause tracker.Cause) (string, error) {
	if productID <= 0 {
		return "", fmt.Errorf("invalid product id %d", productID)
	}
	id, err := d.deps.IDs.NewID()
	if err != nil {
		return "", err
	}
	req := tracker.CheckRequest{
		ID:          id,
		ProductID:   productID,
		RequestedAt: d.deps.Clock.Now(),
		Cause:       cause,
	}
	if cause.External() {
		err = d.deps.Queue.TryEnqueue(req)
	} else {
		err = d.deps.Queue.Enqueue(ctx, req)
	}
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			telemetry.ObserveQueueRejection(string(cause))
		}
		return "", fmt.Errorf("enqueue check for product %d: %w", productID, err)
	}
	telemetry.ObserveEnqueue(string(cause))
	d.logger.Debug("check enqueued",
		zap.String("request_id", id),
		zap.Int64("product_id", productID),
		zap.String("cause", string(cause)),
	)
	return id, nil
}

// EnqueueSweep queues a check for every active product and returns how many
// were queued. It blocks while the queue is full.
func (d *Dispatcher) EnqueueSweep(ctx context.Context) (int, error) {
	products, err := d.deps.Products.ListActiveProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active products: %w", err)
	}
	queued := 0
	for _, p := range products {
		if _, err := d.EnqueueCheck(ctx, p.ID, tracker.CauseScheduledSweep); err != nil {
			return queued, err
		}
		queued++
	}
	d.logger.Info("sweep enqueued", zap.Int("products", queued))
	return queued, nil
}

// EnqueueRetrain asks the modeling collaborator to retrain one product.
func (d *Dispatcher) EnqueueRetrain(ctx context.Context, productID int64) error {
	return d.retrain(ctx, productID, retrain.ReasonManual)
}

// RetrainSweep requests retraining for every active product. Individual
// failures are logged and skipped; the count of accepted requests is returned.
func (d *Dispatcher) RetrainSweep(ctx context.Context) (int, error) {
	products, err := d.deps.Products.ListActiveProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active products: %w", err)
	}
	sent := 0
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if err := d.retrain(ctx, p.ID, retrain.ReasonScheduled); err != nil {
			d.logger.Warn("retrain request failed", zap.Int64("product_id", p.ID), zap.Error(err))
			continue
		}
		sent++
	}
	d.logger.Info("retrain sweep finished", zap.Int("products", len(products)), zap.Int("sent", sent))
	return sent, nil
}

func (d *Dispatcher) retrain(ctx context.Context, productID int64, reason string) error {
	if d.deps.Retrainer == nil {
		return errors.New("no retrain backend configured")
	}
	rctx, cancel := context.WithTimeout(ctx, d.cfg.RetrainTimeout)
	defer cancel()
	return d.deps.Retrainer.TriggerRetrain(rctx, productID, reason)
}
