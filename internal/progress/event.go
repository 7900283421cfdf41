package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// Analysis summarises the persisted observation and its drift statistics. It
// is attached to the event that closes a successful check.
type Analysis struct {
	Price         float64   `json:"price"`
	Currency      string    `json:"currency"`
	InStock       bool      `json:"in_stock"`
	ObservedAt    time.Time `json:"observed_at"`
	Mean          float64   `json:"mean_7d"`
	Min           float64   `json:"min_7d"`
	Max           float64   `json:"max_7d"`
	StdDev        float64   `json:"stddev_7d"`
	Count         int       `json:"count_7d"`
	DriftRatio    float64   `json:"drift_ratio"`
	RetrainSignal bool      `json:"retrain_signal"`
}

// Event is a single state transition of one check attempt.
type Event struct {
	RequestID   string
	ProductID   int64
	Attempt     int
	Cause       tracker.Cause
	Stage       tracker.Stage
	Platform    string
	Failure     tracker.FailureKind
	FailedStage tracker.Stage
	Retryable   bool
	Abandoned   bool
	TS          time.Time
	Dur         time.Duration
	Note        string
	AlertsFired int
	Analysis    *Analysis
}

var knownStages = map[tracker.Stage]struct{}{
	tracker.StagePending:    {},
	tracker.StageFetching:   {},
	tracker.StageExtracting: {},
	tracker.StagePersisting: {},
	tracker.StageAnalyzing:  {},
	tracker.StageNotifying:  {},
	tracker.StageDone:       {},
	tracker.StageFailed:     {},
}

// Validate reports whether the event carries the fields every sink relies on.
func (e Event) Validate() error {
	if e.RequestID == "" {
		return errors.New("progress event missing request id")
	}
	if e.TS.IsZero() {
		return errors.New("progress event missing timestamp")
	}
	if _, ok := knownStages[e.Stage]; !ok {
		return fmt.Errorf("progress event has unknown stage %q", e.Stage)
	}
	if e.Stage == tracker.StageFailed && e.Failure == "" {
		return errors.New("failed progress event missing failure kind")
	}
	if e.Dur < 0 {
		return fmt.Errorf("progress event has negative duration %s", e.Dur)
	}
	return nil
}

// Result labels a terminal event as "success", "retry" or "abandoned". It is
// empty for intermediate stages.
func (e Event) Result() string {
	switch {
	case e.Stage == tracker.StageDone:
		return "success"
	case e.Stage != tracker.StageFailed:
		return ""
	case e.Abandoned:
		return "abandoned"
	default:
		return "retry"
	}
}
