// Package inference turns a passenger record into a survival prediction using
// a loaded artifact bundle.
//
// A Service is immutable once built. It holds no locks and may be shared by
// any number of goroutines; replacing the model means building a new Service.
package inference

import (
	"errors"
	"fmt"
	"math"
	"time"

	"titanic-predictor/internal/features"
	"titanic-predictor/internal/storage"
)

var (
	// ErrModelUnavailable is returned when no bundle is loaded.
	ErrModelUnavailable = errors.New("model not available")
	// ErrInvalidInput is matched by every *InvalidInputError.
	ErrInvalidInput = errors.New("invalid input")
)

// InvalidInputError names the offending field of a rejected record.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// MissingField reports a required field absent from a request.
func MissingField(field string) *InvalidInputError {
	return &InvalidInputError{Field: field, Reason: "is required"}
}

// Result is the outcome of one prediction. Probabilities and Confidence are
// percentages rounded to two decimals.
type Result struct {
	Class         int                `json:"-"`
	Label         string             `json:"prediction"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	Input         features.Record    `json:"input_features"`
}

// Info describes the loaded model.
type Info struct {
	Available          bool               `json:"available"`
	Features           []string           `json:"features"`
	Labels             []string           `json:"labels"`
	Trees              int                `json:"trees,omitempty"`
	ScalerWidth        int                `json:"scaler_parameters,omitempty"`
	FeatureImportances map[string]float64 `json:"feature_importances,omitempty"`
	Manifest           *storage.Manifest  `json:"manifest,omitempty"`
	LoadedAt           time.Time          `json:"loaded_at"`
}

// Service answers predictions from one bundle.
type Service struct {
	bundle   *storage.Bundle
	loadedAt time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLoadedAt overrides the load timestamp reported by Info.
func WithLoadedAt(t time.Time) Option {
	return func(s *Service) { s.loadedAt = t }
}

// NewService wraps bundle. A nil bundle yields a service that reports itself
// unavailable and fails every prediction with ErrModelUnavailable.
func NewService(bundle *storage.Bundle, opts ...Option) *Service {
	s := &Service{bundle: bundle, loadedAt: time.Now()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Available reports whether a model is loaded.
func (s *Service) Available() bool {
	return s != nil && s.bundle != nil
}

// LoadedAt is when the service was built around its bundle.
func (s *Service) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// Predict checks that req carries every field, validates the ranges, encodes
// the record in contract order, scales it with the training scaler and asks
// the forest for both its decision and its class distribution. The label
// always comes from the forest's own decision.
func (s *Service) Predict(req Request) (*Result, error) {
	if !s.Available() {
		return nil, ErrModelUnavailable
	}
	rec, err := req.Record()
	if err != nil {
		return nil, err
	}

	rec = rec.Normalize()
	row, err := features.Encode(rec)
	if err != nil {
		var rangeErr *features.RangeError
		if errors.As(err, &rangeErr) {
			return nil, &InvalidInputError{Field: rangeErr.Field, Reason: rangeErr.Reason}
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	scaled, err := s.bundle.Scaler.TransformRow(row)
	if err != nil {
		return nil, fmt.Errorf("scale input: %w", err)
	}
	class, err := s.bundle.Forest.Predict(scaled)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	proba, err := s.bundle.Forest.PredictProba(scaled)
	if err != nil {
		return nil, fmt.Errorf("predict probabilities: %w", err)
	}

	labels := features.Labels()
	if len(proba) != len(labels) {
		return nil, fmt.Errorf("predict probabilities: got %d classes, want %d", len(proba), len(labels))
	}
	probabilities := make(map[string]float64, len(labels))
	maxP := 0.0
	for c, p := range proba {
		probabilities[labels[c]] = percent(p)
		maxP = math.Max(maxP, p)
	}

	return &Result{
		Class:         class,
		Label:         features.LabelFor(class),
		Confidence:    percent(maxP),
		Probabilities: probabilities,
		Input:         rec,
	}, nil
}

// Info reports what the service is serving.
func (s *Service) Info() Info {
	info := Info{Features: features.Names(), Labels: features.Labels()}
	if !s.Available() {
		return info
	}
	b := s.bundle
	manifest := b.Manifest
	info.Available = true
	info.Trees = len(b.Forest.Trees)
	info.ScalerWidth = b.Scaler.Width()
	info.Manifest = &manifest
	info.LoadedAt = s.loadedAt
	info.FeatureImportances = make(map[string]float64, len(b.Features))
	for i, v := range b.Forest.FeatureImportances() {
		info.FeatureImportances[b.Features[i]] = v
	}
	return info
}

func percent(p float64) float64 {
	return math.Round(p*100*100) / 100
}
