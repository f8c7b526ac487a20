package ml

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fittedScaler(t *testing.T, rows [][]float64) *StandardScaler {
	t.Helper()
	s := NewStandardScaler()
	require.NoError(t, s.Fit(rows))
	return s
}

func gaussianRows(n int, mean, std float64, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = []float64{mean + std*rng.NormFloat64(), 5 + rng.NormFloat64()}
	}
	return rows
}

func TestDriftMonitor_NoDriftOnTrainingDistribution(t *testing.T) {
	scaler := fittedScaler(t, gaussianRows(2000, 30, 5, 1))
	d, err := NewDriftMonitor([]string{"a", "b"}, scaler, DriftConfig{Window: 200, Threshold: 0.15})
	require.NoError(t, err)

	for _, row := range gaussianRows(200, 30, 5, 2) {
		require.NoError(t, d.Observe(row))
	}
	scores := d.Scores()
	require.Len(t, scores, 2)
	assert.Less(t, scores["a"], 0.15)
	assert.Empty(t, d.Detect())
}

func TestDriftMonitor_DetectsShift(t *testing.T) {
	scaler := fittedScaler(t, gaussianRows(2000, 30, 5, 1))
	d, err := NewDriftMonitor([]string{"a", "b"}, scaler, DriftConfig{Window: 100, Threshold: 0.1, Cooldown: time.Hour})
	require.NoError(t, err)

	for _, row := range gaussianRows(100, 60, 5, 3) {
		require.NoError(t, d.Observe(row))
	}
	alerts := d.Detect()
	require.Len(t, alerts, 1)
	assert.Equal(t, "a", alerts[0].Feature)
	assert.Equal(t, "critical", alerts[0].Severity)

	// Cooldown suppresses repeats.
	assert.Empty(t, d.Detect())
}

func TestDriftMonitor_CooldownPerFeature(t *testing.T) {
	scaler := fittedScaler(t, gaussianRows(2000, 30, 5, 1))
	d, err := NewDriftMonitor([]string{"a", "b"}, scaler, DriftConfig{Window: 40, Threshold: 0.1, Cooldown: time.Hour})
	require.NoError(t, err)

	// Only a drifts.
	for _, row := range gaussianRows(40, 60, 5, 7) {
		require.NoError(t, d.Observe(row))
	}
	alerts := d.Detect()
	require.Len(t, alerts, 1)
	assert.Equal(t, "a", alerts[0].Feature)

	// Now b drifts as well; a is still cooling down.
	rng := rand.New(rand.NewSource(8))
	for i := 0; i < 40; i++ {
		require.NoError(t, d.Observe([]float64{60 + 5*rng.NormFloat64(), 50 + rng.NormFloat64()}))
	}
	alerts = d.Detect()
	require.Len(t, alerts, 1)
	assert.Equal(t, "b", alerts[0].Feature)
	assert.Equal(t, "critical", alerts[0].Severity)

	assert.Empty(t, d.Detect())
}

func TestDriftMonitor_Window(t *testing.T) {
	scaler := fittedScaler(t, gaussianRows(500, 30, 5, 1))
	d, err := NewDriftMonitor([]string{"a", "b"}, scaler, DriftConfig{Window: 40, Threshold: 0.1})
	require.NoError(t, err)

	for _, row := range gaussianRows(29, 30, 5, 4) {
		require.NoError(t, d.Observe(row))
	}
	assert.Nil(t, d.Scores(), "too few samples to score")

	// Old shifted rows age out of the window.
	for _, row := range gaussianRows(40, 90, 5, 5) {
		require.NoError(t, d.Observe(row))
	}
	assert.Equal(t, 40, d.Samples())
	assert.Greater(t, d.Scores()["a"], 0.5)
	for _, row := range gaussianRows(40, 30, 5, 6) {
		require.NoError(t, d.Observe(row))
	}
	assert.Less(t, d.Scores()["a"], 0.2)
}

func TestDriftMonitor_Errors(t *testing.T) {
	scaler := fittedScaler(t, gaussianRows(100, 0, 1, 1))

	_, err := NewDriftMonitor([]string{"a", "b"}, NewStandardScaler(), DriftConfig{Window: 100, Threshold: 0.1})
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = NewDriftMonitor([]string{"a"}, scaler, DriftConfig{Window: 100, Threshold: 0.1})
	assert.ErrorIs(t, err, ErrDimension)
	_, err = NewDriftMonitor([]string{"a", "b"}, scaler, DriftConfig{Window: 10, Threshold: 0.1})
	assert.Error(t, err)
	_, err = NewDriftMonitor([]string{"a", "b"}, scaler, DriftConfig{Window: 100})
	assert.Error(t, err)

	d, err := NewDriftMonitor([]string{"a", "b"}, scaler, DriftConfig{Window: 100, Threshold: 0.1})
	require.NoError(t, err)
	assert.ErrorIs(t, d.Observe([]float64{1}), ErrDimension)
}
