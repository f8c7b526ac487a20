package storage

import (
	"fmt"
	"time"

	"titanic-predictor/internal/features"
	"titanic-predictor/internal/ml"
)

// FormatVersion is bumped whenever the bundle layout changes incompatibly.
const FormatVersion = 1

// Manifest describes how and when a bundle was produced.
type Manifest struct {
	FormatVersion int       `json:"format_version"`
	TrainedAt     time.Time `json:"trained_at"`
	DataPath      string    `json:"data_path,omitempty"`
	TrainRows     int       `json:"train_rows"`
	TestRows      int       `json:"test_rows"`
	TrainAccuracy float64   `json:"train_accuracy"`
	TestAccuracy  float64   `json:"test_accuracy"`
	Seed          int64     `json:"seed"`
	NEstimators   int       `json:"n_estimators"`
	MaxDepth      int       `json:"max_depth"`
	AgeMedian     float64   `json:"age_median"`
	FareMedian    float64   `json:"fare_median"`
}

// Bundle is everything inference needs. It is produced once by training and
// treated as read-only afterwards.
type Bundle struct {
	Forest   *ml.RandomForest
	Scaler   *ml.StandardScaler
	Features []string
	Manifest Manifest
}

// NewManifest returns a manifest stamped with the current format version and
// time.
func NewManifest() Manifest {
	return Manifest{FormatVersion: FormatVersion, TrainedAt: time.Now().UTC()}
}

// Validate checks that the parts of the bundle agree with each other and with
// the feature contract.
func (b *Bundle) Validate() error {
	if b == nil {
		return fmt.Errorf("bundle is nil")
	}
	if b.Manifest.FormatVersion != FormatVersion {
		return fmt.Errorf("format version %d, want %d", b.Manifest.FormatVersion, FormatVersion)
	}
	if !features.MatchesOrder(b.Features) {
		return fmt.Errorf("feature order %v does not match %v", b.Features, features.Names())
	}
	if b.Scaler == nil || !b.Scaler.Fitted() {
		return fmt.Errorf("scaler: %w", ml.ErrNotFitted)
	}
	if b.Scaler.Width() != features.Count() {
		return fmt.Errorf("scaler: %w: width %d, want %d", ml.ErrDimension, b.Scaler.Width(), features.Count())
	}
	if b.Forest == nil {
		return fmt.Errorf("classifier: %w", ml.ErrNotFitted)
	}
	if err := b.Forest.Validate(); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	if b.Forest.NFeatures != features.Count() {
		return fmt.Errorf("classifier: %w: %d features, want %d", ml.ErrDimension, b.Forest.NFeatures, features.Count())
	}
	if b.Forest.NClasses != len(features.Labels()) {
		return fmt.Errorf("classifier: %d classes, want %d", b.Forest.NClasses, len(features.Labels()))
	}
	return nil
}
