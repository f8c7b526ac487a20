// Package dataprep turns the raw passenger table into the numeric dataset the
// model is trained on, and partitions it into train and test sets.
package dataprep

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"titanic-predictor/internal/features"

	"github.com/gocarina/gocsv"
)

// ErrDataValidation is returned when the raw table cannot produce a training
// set: required columns are absent, or a row carries a value the contract
// cannot encode.
var ErrDataValidation = errors.New("data validation failed")

// RawRow holds the required columns of one table row, verbatim.
// Any other column in the file is ignored.
type RawRow struct {
	Pclass   string `csv:"Pclass"`
	Sex      string `csv:"Sex"`
	Age      string `csv:"Age"`
	SibSp    string `csv:"SibSp"`
	Fare     string `csv:"Fare"`
	Survived string `csv:"Survived"`
}

// Table is the raw dataset as read from disk.
type Table struct {
	Header []string
	Rows   []*RawRow
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// LoadFile reads a CSV table from path.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %w", path, err)
	}
	defer f.Close()

	return Load(f)
}

// Load reads a CSV table with a header row.
func Load(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: dataset is empty", ErrDataValidation)
	}

	in := gocsv.DefaultCSVReader(bytes.NewReader(data))
	var records [][]string
	for {
		rec, err := in.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if len(records) == 0 {
				return nil, fmt.Errorf("%w: failed to read header: %v", ErrDataValidation, err)
			}
			return nil, fmt.Errorf("%w: failed to parse rows: %v", ErrDataValidation, err)
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: dataset is empty", ErrDataValidation)
	}

	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if missing := MissingColumns(header); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns %v", ErrDataValidation, missing)
	}

	// Rows are mapped through the trimmed header, not the raw bytes.
	var rows []*RawRow
	if err := gocsv.UnmarshalCSV(&recordReader{records: records}, &rows); err != nil {
		return nil, fmt.Errorf("%w: failed to parse rows: %v", ErrDataValidation, err)
	}

	return &Table{Header: header, Rows: rows}, nil
}

// recordReader replays already parsed records to gocsv.
type recordReader struct {
	records [][]string
	next    int
}

func (r *recordReader) Read() ([]string, error) {
	if r.next >= len(r.records) {
		return nil, io.EOF
	}
	rec := r.records[r.next]
	r.next++
	return rec, nil
}

func (r *recordReader) ReadAll() ([][]string, error) {
	rest := r.records[r.next:]
	r.next = len(r.records)
	return rest, nil
}

// RequiredColumns lists the columns a training table must carry.
func RequiredColumns() []string {
	return append(features.Names(), features.Survived)
}

// MissingColumns returns the required columns absent from header.
func MissingColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for _, c := range RequiredColumns() {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	return missing
}
