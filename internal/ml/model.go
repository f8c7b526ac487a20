// Package ml provides the numeric models behind the survival predictor: a
// standard scaler and a random forest classifier, both fitted once during
// training and read-only afterwards, plus evaluation helpers.
//
// Every type here serializes to JSON so the artifact store can persist and
// restore it without loss.
package ml

import "errors"

var (
	// ErrNotFitted is returned when a model is used before Fit.
	ErrNotFitted = errors.New("model is not fitted")
	// ErrAlreadyFitted is returned when Fit is called on a fitted model.
	ErrAlreadyFitted = errors.New("model is already fitted")
	// ErrDimension is returned when input widths disagree with the model.
	ErrDimension = errors.New("dimension mismatch")
)

// Classifier is the inference surface of a fitted classifier.
//
// Predict returns the model's own decision. PredictProba returns the class
// distribution. Callers must not derive one from the other: for ensembles the
// two can disagree on ties.
type Classifier interface {
	Predict(row []float64) (int, error)
	PredictProba(row []float64) ([]float64, error)
}
