package drift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func snap(price float64, ago time.Duration) tracker.PriceSnapshot {
	return tracker.PriceSnapshot{ProductID: 1, Price: price, ObservedAt: now.Add(-ago)}
}

func TestAnalyzeFirstObservation(t *testing.T) {
	t.Parallel()

	a := New(0, 0)
	r := a.Analyze(1, snap(99.99, 0), nil)
	require.Zero(t, r.DriftRatio)
	require.False(t, r.RetrainSignal)
	require.Zero(t, r.PriorPoints)
	require.Equal(t, 1, r.Stats.Count)
	require.InDelta(t, 99.99, r.Stats.Mean, 1e-9)
	require.Zero(t, r.Stats.StdDev)
}

func TestAnalyzeSignificantDrop(t *testing.T) {
	t.Parallel()

	a := New(0, 0)
	latest := snap(80, 0)
	history := []tracker.PriceSnapshot{
		snap(120, 3*24*time.Hour),
		snap(100, 24*time.Hour),
		latest,
	}
	r := a.Analyze(1, latest, history)
	require.InDelta(t, 100.0, r.Stats.Mean, 1e-9)
	require.InDelta(t, 0.20, r.DriftRatio, 1e-9)
	require.True(t, r.RetrainSignal)
	require.Equal(t, 2, r.PriorPoints)
	require.Equal(t, 3, r.Stats.Count)
	require.Equal(t, 80.0, r.Stats.Min)
	require.Equal(t, 120.0, r.Stats.Max)
	require.InDelta(t, 20.0, r.Stats.StdDev, 1e-9)
}

func TestAnalyzeWindowExcludesOldAndFuturePoints(t *testing.T) {
	t.Parallel()

	a := New(0, 0)
	history := []tracker.PriceSnapshot{
		snap(10, 8*24*time.Hour),
		snap(10, 7*24*time.Hour),
		snap(100, 6*24*time.Hour),
		snap(500, -time.Hour),
	}
	r := a.Analyze(1, snap(100, 0), history)
	require.Equal(t, 1, r.PriorPoints)
	require.Zero(t, r.DriftRatio)
	require.Equal(t, now.Add(-7*24*time.Hour), r.Stats.WindowStart)
	require.Equal(t, now, r.Stats.WindowEnd)
}

func TestAnalyzeThresholdIsStrict(t *testing.T) {
	t.Parallel()

	a := New(0, 0)
	// mean of {115, 85} is 100, drift of 85 is exactly 0.15
	r := a.Analyze(1, snap(85, 0), []tracker.PriceSnapshot{snap(115, time.Hour)})
	require.InDelta(t, 0.15, r.DriftRatio, 1e-12)
	require.Equal(t, r.DriftRatio > DefaultThreshold, r.RetrainSignal)

	r = a.Analyze(1, snap(84, 0), []tracker.PriceSnapshot{snap(116, time.Hour)})
	require.InDelta(t, 0.16, r.DriftRatio, 1e-12)
	require.True(t, r.RetrainSignal)
}

func TestAnalyzeDeterministicOverLongHistory(t *testing.T) {
	t.Parallel()

	a := New(0, 0)
	var history []tracker.PriceSnapshot
	for day := 10; day >= 1; day-- {
		history = append(history, snap(float64(90+day), time.Duration(day)*24*time.Hour))
	}
	latest := snap(70, 0)
	first := a.Analyze(1, latest, history)
	for i := 0; i < 5; i++ {
		again := a.Analyze(1, latest, history)
		require.Equal(t, first, again)
	}
	require.Equal(t, first.DriftRatio > DefaultThreshold, first.RetrainSignal)
	// days 1..6 are inside the window, day 7 sits on its open boundary
	require.Equal(t, 6, first.PriorPoints)
}

func TestAnalyzeCustomThreshold(t *testing.T) {
	t.Parallel()

	a := New(24*time.Hour, 0.05)
	require.Equal(t, 24*time.Hour, a.Window())
	r := a.Analyze(1, snap(94, 0), []tracker.PriceSnapshot{snap(106, time.Hour)})
	require.InDelta(t, 0.06, r.DriftRatio, 1e-12)
	require.True(t, r.RetrainSignal)
}
