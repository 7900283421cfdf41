// Package drift computes rolling price statistics and flags observations that
// deviate enough from the trailing mean to warrant retraining price models.
package drift

import (
	"math"
	"time"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// Defaults for the analyzer.
const (
	DefaultWindow    = 7 * 24 * time.Hour
	DefaultThreshold = 0.15
)

// RollingStats summarizes the prices inside the trailing window.
type RollingStats struct {
	Mean        float64
	Min         float64
	Max         float64
	StdDev      float64
	Count       int
	WindowStart time.Time
	WindowEnd   time.Time
}

// Report is the analyzer's verdict on a new observation.
type Report struct {
	ProductID     int64
	Price         float64
	Stats         RollingStats
	PriorPoints   int
	DriftRatio    float64
	RetrainSignal bool
}

// Analyzer classifies new prices against their rolling window.
type Analyzer struct {
	window    time.Duration
	threshold float64
}

// New builds an Analyzer; non-positive arguments fall back to the defaults.
func New(window time.Duration, threshold float64) *Analyzer {
	if window <= 0 {
		window = DefaultWindow
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Analyzer{window: window, threshold: threshold}
}

// Window returns the trailing window length.
func (a *Analyzer) Window() time.Duration {
	return a.window
}

// Analyze computes the stats of the window ending at latest, counting latest
// itself, and the drift of latest from the window mean. history may or may
// not already contain latest; points after it are ignored.
func (a *Analyzer) Analyze(productID int64, latest tracker.PriceSnapshot, history []tracker.PriceSnapshot) Report {
	end := latest.ObservedAt
	start := end.Add(-a.window)

	prices := make([]float64, 0, len(history)+1)
	for _, s := range history {
		if s.ObservedAt.After(end) || !s.ObservedAt.After(start) {
			continue
		}
		if s.ObservedAt.Equal(end) && s.Price == latest.Price {
			// latest is already persisted; it is added once below.
			continue
		}
		prices = append(prices, s.Price)
	}
	prior := len(prices)
	prices = append(prices, latest.Price)

	stats := summarize(prices)
	stats.WindowStart, stats.WindowEnd = start, end

	report := Report{
		ProductID:   productID,
		Price:       latest.Price,
		Stats:       stats,
		PriorPoints: prior,
	}
	if prior < 1 || stats.Mean == 0 {
		return report
	}
	report.DriftRatio = math.Abs(latest.Price-stats.Mean) / stats.Mean
	report.RetrainSignal = report.DriftRatio > a.threshold
	return report
}

func summarize(prices []float64) RollingStats {
	stats := RollingStats{Count: len(prices)}
	if len(prices) == 0 {
		return stats
	}
	stats.Min, stats.Max = prices[0], prices[0]
	var sum float64
	for _, p := range prices {
		sum += p
		stats.Min = math.Min(stats.Min, p)
		stats.Max = math.Max(stats.Max, p)
	}
	stats.Mean = sum / float64(len(prices))
	if len(prices) > 1 {
		var sq float64
		for _, p := range prices {
			d := p - stats.Mean
			sq += d * d
		}
		stats.StdDev = math.Sqrt(sq / float64(len(prices)-1))
	}
	return stats
}
