package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/realtime-price-tracker/internal/progress"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// PrometheusSink derives check-lifecycle metrics from progress events.
type PrometheusSink struct {
	transitions   *prometheus.CounterVec
	completed     *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	driftRatio    prometheus.Histogram
	retrainSignal prometheus.Counter
	alertsFired   prometheus.Counter
}

// NewPrometheusSink registers the sink's collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "price_check_stage_transitions_total",
			Help: "State machine transitions partitioned by stage and platform.",
		}, []string{"stage", "platform"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "price_check_attempts_completed_total",
			Help: "Finished check attempts partitioned by result and failure kind.",
		}, []string{"result", "failure"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "price_check_attempt_duration_seconds",
			Help:    "Wall time of a check attempt from pending to a terminal stage.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 240, 300},
		}, []string{"result"}),
		driftRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "price_check_drift_ratio",
			Help:    "Relative distance of observed prices from their trailing mean.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.15, 0.25, 0.5, 1},
		}),
		retrainSignal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "price_check_retrain_signals_total",
			Help: "Checks whose drift crossed the retrain threshold.",
		}),
		alertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "price_check_alerts_fired_total",
			Help: "Alerts whose threshold was satisfied by a completed check.",
		}),
	}
	for _, c := range []prometheus.Collector{
		s.transitions, s.completed, s.checkDuration, s.driftRatio, s.retrainSignal, s.alertsFired,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		platform := evt.Platform
		if platform == "" {
			platform = "unknown"
		}
		s.transitions.WithLabelValues(string(evt.Stage), platform).Inc()

		result := evt.Result()
		if result == "" {
			continue
		}
		s.completed.WithLabelValues(result, string(evt.Failure)).Inc()
		if evt.Dur > 0 {
			s.checkDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if evt.Stage != tracker.StageDone {
			continue
		}
		if evt.AlertsFired > 0 {
			s.alertsFired.Add(float64(evt.AlertsFired))
		}
		if a := evt.Analysis; a != nil {
			s.driftRatio.Observe(a.DriftRatio)
			if a.RetrainSignal {
				s.retrainSignal.Inc()
			}
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
