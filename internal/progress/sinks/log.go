package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/realtime-price-tracker/internal/progress"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// LogSink writes one structured log line per event. Failures are logged at
// warn level (error when the check was abandoned); everything else at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("request_id", evt.RequestID),
			zap.Int64("product_id", evt.ProductID),
			zap.Int("attempt", evt.Attempt),
			zap.String("cause", string(evt.Cause)),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Platform != "" {
			fields = append(fields, zap.String("platform", evt.Platform))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		level := zapcore.DebugLevel
		if evt.Stage == tracker.StageFailed {
			level = zapcore.WarnLevel
			if evt.Abandoned {
				level = zapcore.ErrorLevel
			}
			fields = append(fields,
				zap.String("failure", string(evt.Failure)),
				zap.Bool("retryable", evt.Retryable),
			)
			if evt.FailedStage != "" {
				fields = append(fields, zap.String("failed_stage", string(evt.FailedStage)))
			}
		}
		if a := evt.Analysis; a != nil {
			fields = append(fields,
				zap.Float64("price", a.Price),
				zap.Float64("drift_ratio", a.DriftRatio),
				zap.Bool("retrain_signal", a.RetrainSignal),
				zap.Int("alerts_fired", evt.AlertsFired),
			)
		}
		if ce := s.logger.Check(level, "price check progress"); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
