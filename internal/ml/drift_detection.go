package ml

import (
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// minDriftSamples is how many served rows a window needs before it is scored.
const minDriftSamples = 30

// DriftAlert reports a feature whose served values moved away from the
// training distribution.
type DriftAlert struct {
	Feature   string  `json:"feature"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Severity  string  `json:"severity"`
}

// DriftConfig configures a DriftMonitor.
type DriftConfig struct {
	// Window is the number of most recent rows compared with the baseline.
	Window int
	// Threshold is the score above which a feature is reported.
	Threshold float64
	// Cooldown is the minimum time between two alerts for the same feature.
	Cooldown time.Duration
}

// DriftMonitor compares the rows a model is asked to score with the
// training distribution recorded by its scaler.
//
// The score of a feature is the mean of its normalized shifts in mean and in
// standard deviation:
//
//	(|m - m0| / (1 + |m0|) + |s - s0| / (1 + s0)) / 2
//
// where m0, s0 come from the training rows and m, s from the window.
type DriftMonitor struct {
	mu        sync.Mutex
	names     []string
	mean, std []float64
	cfg       DriftConfig

	rows      [][]float64 // ring buffer of raw encoded rows
	next      int
	lastAlert map[string]time.Time
}

// NewDriftMonitor builds a monitor whose baseline is the fitted scaler's
// per-column mean and standard deviation.
func NewDriftMonitor(names []string, scaler *StandardScaler, cfg DriftConfig) (*DriftMonitor, error) {
	if !scaler.Fitted() {
		return nil, ErrNotFitted
	}
	if len(names) != scaler.Width() {
		return nil, fmt.Errorf("%w: %d feature names for scaler of width %d", ErrDimension, len(names), scaler.Width())
	}
	if cfg.Window < minDriftSamples {
		return nil, fmt.Errorf("drift window must be at least %d, got %d", minDriftSamples, cfg.Window)
	}
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("drift threshold must be positive, got %v", cfg.Threshold)
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = time.Hour
	}
	return &DriftMonitor{
		names:     append([]string(nil), names...),
		mean:      scaler.Mean(),
		std:       scaler.Std(),
		cfg:       cfg,
		rows:      make([][]float64, 0, cfg.Window),
		lastAlert: make(map[string]time.Time, len(names)),
	}, nil
}

// Observe adds one unscaled row to the window, evicting the oldest row once
// the window is full.
func (d *DriftMonitor) Observe(row []float64) error {
	if len(row) != len(d.names) {
		return fmt.Errorf("%w: got %d values, want %d", ErrDimension, len(row), len(d.names))
	}
	r := append([]float64(nil), row...)

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rows) < d.cfg.Window {
		d.rows = append(d.rows, r)
		return nil
	}
	d.rows[d.next] = r
	d.next = (d.next + 1) % d.cfg.Window
	return nil
}

// Samples is the number of rows currently in the window.
func (d *DriftMonitor) Samples() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rows)
}

// Scores returns the drift score of every feature, or nil while the window
// holds fewer than minDriftSamples rows.
func (d *DriftMonitor) Scores() map[string]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scoresLocked()
}

func (d *DriftMonitor) scoresLocked() map[string]float64 {
	if len(d.rows) < minDriftSamples {
		return nil
	}
	col := make([]float64, len(d.rows))
	scores := make(map[string]float64, len(d.names))
	for j, name := range d.names {
		for i, row := range d.rows {
			col[i] = row[j]
		}
		m, s := stat.PopMeanStdDev(col, nil)
		meanShift := math.Abs(m-d.mean[j]) / (1 + math.Abs(d.mean[j]))
		stdShift := math.Abs(s-d.std[j]) / (1 + d.std[j])
		scores[name] = (meanShift + stdShift) / 2
	}
	return scores
}

// Detect returns an alert for every feature over the threshold. A feature
// that has alerted stays quiet until its cooldown has passed; other features
// are unaffected.
func (d *DriftMonitor) Detect() []DriftAlert {
	d.mu.Lock()
	defer d.mu.Unlock()

	scores := d.scoresLocked()
	now := time.Now()
	var alerts []DriftAlert
	for _, name := range d.names {
		score, ok := scores[name]
		if !ok || score <= d.cfg.Threshold {
			continue
		}
		if last, seen := d.lastAlert[name]; seen && now.Sub(last) < d.cfg.Cooldown {
			continue
		}
		d.lastAlert[name] = now
		alerts = append(alerts, DriftAlert{
			Feature:   name,
			Score:     score,
			Threshold: d.cfg.Threshold,
			Severity:  severity(score, d.cfg.Threshold),
		})
	}
	return alerts
}

func severity(score, threshold float64) string {
	switch {
	case score > threshold*3:
		return "critical"
	case score > threshold*2:
		return "high"
	default:
		return "medium"
	}
}
