// Package worker runs one price check end to end: resolve the platform,
// fetch, extract, persist, analyze and notify.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/alerting"
	"github.com/JakeFAU/realtime-price-tracker/internal/clock/system"
	"github.com/JakeFAU/realtime-price-tracker/internal/drift"
	"github.com/JakeFAU/realtime-price-tracker/internal/platform"
	"github.com/JakeFAU/realtime-price-tracker/internal/progress"
	"github.com/JakeFAU/realtime-price-tracker/internal/retrain"
	"github.com/JakeFAU/realtime-price-tracker/internal/storage"
	"github.com/JakeFAU/realtime-price-tracker/internal/telemetry"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// Resolver maps a product URL to its extractor.
type Resolver interface {
	Resolve(rawURL string) (platform.Extractor, error)
}

// Config controls Worker behavior.
type Config struct {
	// RetrainTimeout bounds the retrain request sent from the analyzing stage.
	RetrainTimeout time.Duration
}

// Deps are the collaborators of a Worker. Retrainer and Events may be nil.
type Deps struct {
	Store     tracker.Store
	Resolver  Resolver
	Analyzer  *drift.Analyzer
	Notifier  tracker.Notifier
	Retrainer tracker.Retrainer
	Events    progress.Emitter
	Clock     tracker.Clock
}

// Result summarises a successful check.
type Result struct {
	RequestID           string                `json:"request_id"`
	ProductID           int64                 `json:"product_id"`
	Platform            string                `json:"platform"`
	Snapshot            tracker.PriceSnapshot `json:"snapshot"`
	Report              *drift.Report         `json:"report,omitempty"`
	AlertsFired         int                   `json:"alerts_fired"`
	NotificationsSent   int                   `json:"notifications_sent"`
	NotificationsFailed int                   `json:"notifications_failed"`
}

// Worker executes check attempts. It holds no per-product state, so one
// Worker is shared by every goroutine of the pool.
type Worker struct {
	store     tracker.Store
	resolver  Resolver
	analyzer  *drift.Analyzer
	evaluator *alerting.Evaluator
	notifier  tracker.Notifier
	retrainer tracker.Retrainer
	events    progress.Emitter
	clock     tracker.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	if deps.Store == nil || deps.Resolver == nil || deps.Notifier == nil {
		return nil, errors.New("worker requires a store, resolver and notifier")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Analyzer == nil {
		deps.Analyzer = drift.New(drift.DefaultWindow, drift.DefaultThreshold)
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if cfg.RetrainTimeout <= 0 {
		cfg.RetrainTimeout = 10 * time.Second
	}
	return &Worker{
		store:     deps.Store,
		resolver:  deps.Resolver,
		analyzer:  deps.Analyzer,
		evaluator: alerting.New(deps.Store, logger),
		notifier:  deps.Notifier,
		retrainer: deps.Retrainer,
		events:    deps.Events,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// attempt carries the per-call state of one Process invocation.
type attempt struct {
	w        *Worker
	req      tracker.CheckRequest
	started  time.Time
	platform string
	logger   *zap.Logger
}

func (a *attempt) event(stage tracker.Stage) progress.Event {
	return progress.Event{
		RequestID: a.req.ID,
		ProductID: a.req.ProductID,
		Attempt:   a.req.Attempt + 1,
		Cause:     a.req.Cause,
		Stage:     stage,
		Platform:  a.platform,
		TS:        a.w.clock.Now(),
		Dur:       a.w.clock.Now().Sub(a.started),
	}
}

func (a *attempt) enter(stage tracker.Stage) {
	a.w.events.Emit(a.event(stage))
}

// Process runs one attempt of req. Errors are *tracker.Failure values whose
// Retryable flag feeds the dispatcher's retry decision; notification and
// analysis problems never surface as errors.
func (w *Worker) Process(ctx context.Context, req tracker.CheckRequest) (Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "price_check",
		trace.WithAttributes(
			attribute.String("request_id", req.ID),
			attribute.Int64("product_id", req.ProductID),
			attribute.Int("attempt", req.Attempt+1),
			attribute.String("cause", string(req.Cause)),
		))
	defer span.End()

	a := &attempt{
		w:       w,
		req:     req,
		started: w.clock.Now(),
		logger: w.logger.With(
			zap.String("request_id", req.ID),
			zap.Int64("product_id", req.ProductID),
			zap.Int("attempt", req.Attempt+1),
		),
	}
	res, err := a.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(tracker.KindOf(err)))
		return res, err
	}
	span.SetAttributes(
		attribute.String("platform", res.Platform),
		attribute.Float64("price", res.Snapshot.Price),
		attribute.Int("alerts_fired", res.AlertsFired),
	)
	return res, nil
}

func (a *attempt) run(ctx context.Context) (Result, error) {
	w := a.w
	a.enter(tracker.StagePending)
	res := Result{RequestID: a.req.ID, ProductID: a.req.ProductID}

	product, err := w.loadProduct(ctx, a.req.ProductID)
	if err != nil {
		return res, err
	}
	extractor, err := w.resolver.Resolve(product.URL)
	if err != nil {
		return res, asFailure(err, tracker.KindUnsupportedPlatform, tracker.StagePending)
	}
	a.platform = extractor.Platform()
	res.Platform = a.platform

	a.enter(tracker.StageFetching)
	page, err := extractor.Fetch(ctx, product.URL)
	if err != nil {
		return res, asFetchFailure(ctx, err)
	}

	a.enter(tracker.StageExtracting)
	extracted, err := extractor.Extract(ctx, page)
	if err != nil {
		return res, asFailure(err, tracker.KindIncompleteData, tracker.StageExtracting)
	}
	if product.Name == "" {
		// Products registered by URL alone are named by their listing.
		product.Name = extracted.Name
	}
	snap := extracted.PriceSnapshotFor(product.ID)
	if extracted.Currency == "" && product.Currency != "" {
		snap.Currency = product.Currency
	}
	if snap.ObservedAt.IsZero() {
		snap.ObservedAt = w.clock.Now()
	}
	res.Snapshot = snap

	a.enter(tracker.StagePersisting)
	if err := w.store.RecordCheck(ctx, snap); err != nil {
		return res, persistFailure(ctx, err)
	}
	a.logger.Debug("snapshot recorded", zap.Float64("price", snap.Price), zap.String("platform", a.platform))

	a.enter(tracker.StageAnalyzing)
	res.Report = a.analyze(ctx, snap)

	a.enter(tracker.StageNotifying)
	a.notify(ctx, product, snap.Price, &res)

	done := a.event(tracker.StageDone)
	done.AlertsFired = res.AlertsFired
	done.Analysis = analysisOf(snap, res.Report)
	w.events.Emit(done)
	a.logger.Info("price check completed",
		zap.String("platform", a.platform),
		zap.Float64("price", snap.Price),
		zap.Int("alerts_fired", res.AlertsFired),
		zap.Int("notifications_failed", res.NotificationsFailed),
		zap.Duration("dur", done.Dur),
	)
	return res, nil
}

func (w *Worker) loadProduct(ctx context.Context, id int64) (tracker.Product, error) {
	product, err := w.store.GetProduct(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return product, tracker.NewFailure(tracker.KindProductUnavailable, tracker.StagePending, err)
	case err != nil:
		return product, persistFailureAt(ctx, tracker.StagePending, err)
	case !product.Active:
		return product, tracker.NewFailure(tracker.KindProductUnavailable, tracker.StagePending,
			fmt.Errorf("product %d is inactive", id))
	}
	return product, nil
}

// analyze never fails the check; a nil report means the history was
// unreadable.
func (a *attempt) analyze(ctx context.Context, snap tracker.PriceSnapshot) *drift.Report {
	w := a.w
	history, err := w.store.ListSnapshots(ctx, snap.ProductID, snap.ObservedAt.Add(-w.analyzer.Window()))
	if err != nil {
		a.logger.Warn("drift analysis skipped", zap.Error(err))
		return nil
	}
	report := w.analyzer.Analyze(snap.ProductID, snap, history)
	a.logger.Debug("drift analyzed",
		zap.Float64("mean_7d", report.Stats.Mean),
		zap.Float64("drift_ratio", report.DriftRatio),
		zap.Bool("retrain_signal", report.RetrainSignal),
	)
	if report.RetrainSignal {
		a.requestRetrain(ctx, snap.ProductID)
	}
	return &report
}

func (a *attempt) requestRetrain(ctx context.Context, productID int64) {
	if a.w.retrainer == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, a.w.cfg.RetrainTimeout)
	defer cancel()
	if err := a.w.retrainer.TriggerRetrain(rctx, productID, retrain.ReasonDrift); err != nil {
		a.logger.Warn("retrain request failed", zap.Error(err))
	}
}

// notify dispatches every firing alert independently; failures are counted
// and logged, never returned.
func (a *attempt) notify(ctx context.Context, product tracker.Product, price float64, res *Result) {
	firings, err := a.w.evaluator.Evaluate(ctx, product, price)
	if err != nil {
		a.logger.Warn("alert evaluation failed",
			zap.String("failure", string(tracker.KindNotification)),
			zap.Error(err),
		)
		return
	}
	res.AlertsFired = len(firings)
	for _, f := range firings {
		if err := a.w.notifier.SendPriceAlert(ctx, f.Intent); err != nil {
			res.NotificationsFailed++
			a.logger.Warn("price alert delivery failed",
				zap.Int64("alert_id", f.Alert.ID),
				zap.String("channel", string(f.Intent.Recipient.Channel)),
				zap.String("failure", string(tracker.KindNotification)),
				zap.Error(err),
			)
			continue
		}
		res.NotificationsSent++
	}
}

func analysisOf(snap tracker.PriceSnapshot, report *drift.Report) *progress.Analysis {
	a := &progress.Analysis{
		Price:      snap.Price,
		Currency:   snap.Currency,
		InStock:    snap.InStock,
		ObservedAt: snap.ObservedAt,
	}
	if report != nil {
		a.Mean = report.Stats.Mean
		a.Min = report.Stats.Min
		a.Max = report.Stats.Max
		a.StdDev = report.Stats.StdDev
		a.Count = report.Stats.Count
		a.DriftRatio = report.DriftRatio
		a.RetrainSignal = report.RetrainSignal
	}
	return a
}

// asFailure keeps an already classified failure and classifies anything else
// as kind at stage.
func asFailure(err error, kind tracker.FailureKind, stage tracker.Stage) error {
	if _, ok := tracker.AsFailure(err); ok {
		return err
	}
	return tracker.NewFailure(kind, stage, err)
}

func asFetchFailure(ctx context.Context, err error) error {
	if _, ok := tracker.AsFailure(err); ok {
		return err
	}
	return tracker.ClassifyFetchError(ctx, err)
}

func persistFailure(ctx context.Context, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return tracker.NewFailure(tracker.KindProductUnavailable, tracker.StagePersisting, err)
	}
	return persistFailureAt(ctx, tracker.StagePersisting, err)
}

func persistFailureAt(ctx context.Context, stage tracker.Stage, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return tracker.NewFailure(tracker.KindTimeout, stage, err)
	}
	return tracker.NewFailure(tracker.KindPersistence, stage, err)
}
