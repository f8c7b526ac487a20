package ml

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler standardizes each column to zero mean and unit variance
// using population statistics of the rows it was fitted on.
//
// A column whose fitted standard deviation is zero always transforms to 0.
type StandardScaler struct {
	mean []float64
	std  []float64
}

// NewStandardScaler returns an unfitted scaler.
func NewStandardScaler() *StandardScaler { return &StandardScaler{} }

// Fitted reports whether Fit has run (or parameters were restored).
func (s *StandardScaler) Fitted() bool { return s != nil && len(s.mean) > 0 }

// Width is the number of columns the scaler was fitted on.
func (s *StandardScaler) Width() int { return len(s.mean) }

// Fit learns per-column mean and standard deviation from x. It may only be
// called once.
func (s *StandardScaler) Fit(x [][]float64) error {
	if s.Fitted() {
		return ErrAlreadyFitted
	}
	if len(x) == 0 || len(x[0]) == 0 {
		return fmt.Errorf("scaler: %w: empty input", ErrDimension)
	}
	width := len(x[0])
	for i, row := range x {
		if len(row) != width {
			return fmt.Errorf("scaler: %w: row %d has %d columns, want %d", ErrDimension, i, len(row), width)
		}
	}

	mean := make([]float64, width)
	std := make([]float64, width)
	col := make([]float64, len(x))
	for j := 0; j < width; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		mean[j], std[j] = stat.PopMeanStdDev(col, nil)
	}
	s.mean, s.std = mean, std
	return nil
}

// TransformRow standardizes a single row into a new slice.
func (s *StandardScaler) TransformRow(row []float64) ([]float64, error) {
	if !s.Fitted() {
		return nil, ErrNotFitted
	}
	if len(row) != len(s.mean) {
		return nil, fmt.Errorf("scaler: %w: got %d columns, want %d", ErrDimension, len(row), len(s.mean))
	}
	out := make([]float64, len(row))
	for j, v := range row {
		if s.std[j] == 0 {
			out[j] = 0
			continue
		}
		out[j] = (v - s.mean[j]) / s.std[j]
	}
	return out, nil
}

// Transform standardizes every row of x.
func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) {
	if !s.Fitted() {
		return nil, ErrNotFitted
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		scaled, err := s.TransformRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = scaled
	}
	return out, nil
}

// Mean returns a copy of the fitted column means.
func (s *StandardScaler) Mean() []float64 { return append([]float64(nil), s.mean...) }

// Std returns a copy of the fitted column standard deviations.
func (s *StandardScaler) Std() []float64 { return append([]float64(nil), s.std...) }

type scalerJSON struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// MarshalJSON implements json.Marshaler.
func (s *StandardScaler) MarshalJSON() ([]byte, error) {
	if !s.Fitted() {
		return nil, ErrNotFitted
	}
	return json.Marshal(scalerJSON{Mean: s.mean, Std: s.std})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *StandardScaler) UnmarshalJSON(data []byte) error {
	var p scalerJSON
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if len(p.Mean) == 0 || len(p.Mean) != len(p.Std) {
		return fmt.Errorf("scaler: %w: %d means, %d deviations", ErrDimension, len(p.Mean), len(p.Std))
	}
	for j, sd := range p.Std {
		if sd < 0 {
			return fmt.Errorf("scaler: negative deviation in column %d", j)
		}
	}
	s.mean, s.std = p.Mean, p.Std
	return nil
}
