package dataprep

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"titanic-predictor/internal/features"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog/log"
)

// Dataset is a clean feature matrix with its labels. Columns follow Features.
type Dataset struct {
	Features []string
	X        [][]float64
	Y        []int
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.Y) }

// PrepareStats summarizes what cleaning did to the table.
type PrepareStats struct {
	RowsRead    int     `json:"rows_read"`
	RowsDropped int     `json:"rows_dropped"`
	RowsKept    int     `json:"rows_kept"`
	AgeImputed  int     `json:"age_imputed"`
	FareImputed int     `json:"fare_imputed"`
	AgeMedian   float64 `json:"age_median"`
	FareMedian  float64 `json:"fare_median"`
}

// Column positions inside an encoded row.
const (
	colPclass = iota
	colSex
	colAge
	colSibSp
	colFare
)

// Prepare cleans t into a Dataset.
//
// Rows with no label are dropped. Missing Age and Fare values are filled with
// the median of that column over every kept row; the medians are taken before
// any train/test split, so the test partition contributes to them.
func Prepare(t *Table) (*Dataset, PrepareStats, error) {
	var st PrepareStats
	if t == nil {
		return nil, st, fmt.Errorf("%w: no table", ErrDataValidation)
	}
	if missing := MissingColumns(t.Header); len(missing) > 0 {
		return nil, st, fmt.Errorf("%w: missing required columns %v", ErrDataValidation, missing)
	}

	st.RowsRead = len(t.Rows)
	ds := &Dataset{Features: features.Names()}

	var ages, fares []float64
	for i, raw := range t.Rows {
		line := i + 2 // header is line 1

		label, ok, err := parseLabel(raw.Survived)
		if err != nil {
			return nil, st, fmt.Errorf("%w: line %d: %s %v", ErrDataValidation, line, features.Survived, err)
		}
		if !ok {
			st.RowsDropped++
			continue
		}

		row, err := encodeRaw(raw)
		if err != nil {
			return nil, st, fmt.Errorf("%w: line %d: %v", ErrDataValidation, line, err)
		}
		if !math.IsNaN(row[colAge]) {
			ages = append(ages, row[colAge])
		}
		if !math.IsNaN(row[colFare]) {
			fares = append(fares, row[colFare])
		}

		ds.X = append(ds.X, row)
		ds.Y = append(ds.Y, label)
	}

	if ds.Len() == 0 {
		return nil, st, fmt.Errorf("%w: no labelled rows", ErrDataValidation)
	}

	var err error
	if st.AgeMedian, st.AgeImputed, err = imputeMedian(ds.X, colAge, ages); err != nil {
		return nil, st, fmt.Errorf("%w: %s: %v", ErrDataValidation, features.Age, err)
	}
	if st.FareMedian, st.FareImputed, err = imputeMedian(ds.X, colFare, fares); err != nil {
		return nil, st, fmt.Errorf("%w: %s: %v", ErrDataValidation, features.Fare, err)
	}
	st.RowsKept = ds.Len()

	log.Debug().
		Int("rows_read", st.RowsRead).
		Int("rows_dropped", st.RowsDropped).
		Int("age_imputed", st.AgeImputed).
		Int("fare_imputed", st.FareImputed).
		Float64("age_median", st.AgeMedian).
		Float64("fare_median", st.FareMedian).
		Msg("dataset prepared")

	return ds, st, nil
}

// imputeMedian replaces NaN cells of column col with the median of observed.
func imputeMedian(x [][]float64, col int, observed []float64) (float64, int, error) {
	m, err := stats.Median(observed)
	if err != nil {
		return 0, 0, fmt.Errorf("no observed values to impute from: %w", err)
	}
	filled := 0
	for _, row := range x {
		if math.IsNaN(row[col]) {
			row[col] = m
			filled++
		}
	}
	return m, filled, nil
}

func encodeRaw(raw *RawRow) ([]float64, error) {
	row := make([]float64, features.Count())

	pclass, err := parseInt(raw.Pclass)
	if err != nil {
		return nil, fmt.Errorf("%s %w", features.Pclass, err)
	}
	row[colPclass] = float64(pclass)

	if row[colSex], err = features.EncodeSex(raw.Sex); err != nil {
		return nil, err
	}

	if row[colAge], err = parseOptionalFloat(raw.Age); err != nil {
		return nil, fmt.Errorf("%s %w", features.Age, err)
	}

	sibsp, err := parseInt(raw.SibSp)
	if err != nil {
		return nil, fmt.Errorf("%s %w", features.SibSp, err)
	}
	row[colSibSp] = float64(sibsp)

	if row[colFare], err = parseOptionalFloat(raw.Fare); err != nil {
		return nil, fmt.Errorf("%s %w", features.Fare, err)
	}
	return row, nil
}

func isMissing(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "na", "nan", "null", "none":
		return true
	}
	return false
}

// parseLabel returns ok=false for an absent label.
func parseLabel(v string) (int, bool, error) {
	if isMissing(v) {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid value %q", v)
	}
	switch f {
	case 0:
		return features.ClassDidNotSurvive, true, nil
	case 1:
		return features.ClassSurvived, true, nil
	}
	return 0, false, fmt.Errorf("must be 0 or 1, got %q", v)
}

func parseInt(v string) (int, error) {
	if isMissing(v) {
		return 0, fmt.Errorf("is missing")
	}
	s := strings.TrimSpace(v)
	if i, err := strconv.Atoi(s); err == nil {
		return i, nil
	}
	// integral floats such as "3.0" show up in re-exported tables
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return int(f), nil
}

// parseOptionalFloat returns NaN for a missing cell.
func parseOptionalFloat(v string) (float64, error) {
	if isMissing(v) {
		return math.NaN(), nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid number %q", v)
	}
	return f, nil
}
